package httpServer

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"

	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/services/auth"
	"mytonstorage-dashboard/pkg/services/dispatch"
	"mytonstorage-dashboard/pkg/services/offers"
	"mytonstorage-dashboard/pkg/services/selection"
	"mytonstorage-dashboard/pkg/services/wizard"
	"mytonstorage-dashboard/pkg/store"
)

type session interface {
	Connect(ctx context.Context) (auth.Status, error)
	Disconnect(ctx context.Context) error
	Status() auth.Status
}

type providers interface {
	Recommend(ctx context.Context, req selection.Request) ([]models.Provider, error)
}

type negotiator interface {
	Negotiate(ctx context.Context, req offers.Request) (offers.Result, error)
}

type contracts interface {
	TopupBalance(ctx context.Context, req v1.TopupRequest) (dispatch.Result, error)
	WithdrawBalance(ctx context.Context, req v1.WithdrawRequest) (dispatch.Result, error)
	UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (dispatch.Result, error)
	ContractInfo(ctx context.Context, address string) (tonclient.StorageContractProviders, error)

	UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error)
	RemoveBag(ctx context.Context, bagID string) error
}

type feed interface {
	Older(ctx context.Context) (store.State, error)
	Newer(ctx context.Context) (store.State, int, error)
}

type state interface {
	State() store.State
	Dispatch(ctx context.Context, a store.Action) (store.State, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	server          *fiber.App
	logger          *slog.Logger
	session         session
	wizard          wizard.Wizard
	providers       providers
	offers          negotiator
	contracts       contracts
	feed            feed
	state           state
	namespace       string
	subsystem       string
	adminAuthTokens map[string]struct{}
}

func New(
	server *fiber.App,
	session session,
	wizard wizard.Wizard,
	providers providers,
	offers negotiator,
	contracts contracts,
	feed feed,
	state state,
	adminAuthTokens []string,
	namespace string,
	subsystem string,
	logger *slog.Logger,
) *handler {
	adminTokensMap := make(map[string]struct{})
	for _, token := range adminAuthTokens {
		adminTokensMap[token] = struct{}{}
	}

	h := &handler{
		server:          server,
		session:         session,
		wizard:          wizard,
		providers:       providers,
		offers:          offers,
		contracts:       contracts,
		feed:            feed,
		state:           state,
		namespace:       namespace,
		subsystem:       subsystem,
		adminAuthTokens: adminTokensMap,
		logger:          logger,
	}

	return h
}
