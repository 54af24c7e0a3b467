package contractsworker

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/address"

	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/store"
	"mytonstorage-dashboard/pkg/utils"
)

const probeTimeout = 10 * time.Second

type session interface {
	Address() string
}

type feed interface {
	Newer(ctx context.Context) (store.State, int, error)
}

type bags interface {
	UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error)
}

type contractsClient interface {
	GetProvidersInfo(ctx context.Context, addrs []string) (contractsProviders []tonclient.StorageContractProviders, err error)
}

type stateStore interface {
	State() store.State
	Dispatch(ctx context.Context, a store.Action) (store.State, error)
}

// StorageInfo is what a provider reports about the bag of one contract.
type StorageInfo struct {
	Status     string
	Reason     string
	Downloaded uint64
	HasProof   bool
}

type Prober interface {
	Probe(ctx context.Context, providerKey []byte, contract *address.Address, toProof uint64) (StorageInfo, error)
}

type ProbeFunc func(ctx context.Context, providerKey []byte, contract *address.Address, toProof uint64) (StorageInfo, error)

func (f ProbeFunc) Probe(ctx context.Context, providerKey []byte, contract *address.Address, toProof uint64) (StorageInfo, error) {
	return f(ctx, providerKey, contract, toProof)
}

type contractsWorker struct {
	session         session
	feed            feed
	bags            bags
	contractsClient contractsClient
	prober          Prober
	store           stateStore
	rnd             *rand.Rand
	offset          int
	logger          *slog.Logger
}

type Worker interface {
	SyncNewContracts(ctx context.Context) (interval time.Duration, err error)
	RefreshUnpaidBags(ctx context.Context) (interval time.Duration, err error)
	ProbeProviders(ctx context.Context) (interval time.Duration, err error)
}

// SyncNewContracts pulls contracts created since the last scan while a wallet session is alive.
func (w *contractsWorker) SyncNewContracts(ctx context.Context) (interval time.Duration, err error) {
	const (
		failureInterval = 5 * time.Second
		successInterval = 30 * time.Second
		idleInterval    = 10 * time.Second
	)

	log := w.logger.With("worker", "SyncNewContracts")

	if w.session.Address() == "" {
		interval = idleInterval
		return
	}

	interval = successInterval

	_, found, err := w.feed.Newer(ctx)
	if errors.Is(err, models.ErrSuperseded) {
		log.Debug("account switched during sync")
		err = nil
		interval = failureInterval
		return
	}
	if err != nil {
		err = fmt.Errorf("failed to load newer contracts: %w", err)
		interval = failureInterval
		return
	}

	if found > 0 {
		log.Info("new storage contracts found", "count", found)
	}

	return
}

func (w *contractsWorker) RefreshUnpaidBags(ctx context.Context) (interval time.Duration, err error) {
	const (
		failureInterval = 5 * time.Second
		successInterval = 1 * time.Minute
		idleInterval    = 10 * time.Second
	)

	account := w.session.Address()
	if account == "" {
		interval = idleInterval
		return
	}

	interval = successInterval

	list, err := w.bags.UnpaidBags(ctx)
	if err != nil {
		err = fmt.Errorf("failed to get unpaid bags: %w", err)
		interval = failureInterval
		return
	}

	if !utils.SameAddress(w.store.State().WalletAddress, account) {
		return
	}

	if _, err = w.store.Dispatch(ctx, store.SetUnpaidBags{Bags: list}); err != nil {
		err = fmt.Errorf("failed to store unpaid bags: %w", err)
		interval = failureInterval
		return
	}

	return
}

// ProbeProviders asks the providers of a batch of known contracts for a storage proof and records
// which of them failed. Batches rotate over the contracts list.
func (w *contractsWorker) ProbeProviders(ctx context.Context) (interval time.Duration, err error) {
	const (
		failureInterval         = 5 * time.Second
		successInterval         = 10 * time.Second
		nothingToUpdateInterval = 10 * time.Minute
		batch                   = 10
	)

	log := w.logger.With("worker", "ProbeProviders")

	if w.session.Address() == "" {
		interval = nothingToUpdateInterval
		return
	}

	st := w.store.State()
	account := st.WalletAddress

	var candidates []models.UploadFile
	for _, c := range st.Contracts {
		if c.BagID != "" && c.Size > 0 {
			candidates = append(candidates, c)
		}
	}

	if len(candidates) == 0 {
		interval = nothingToUpdateInterval
		return
	}

	if w.offset >= len(candidates) {
		w.offset = 0
	}

	end := min(w.offset+batch, len(candidates))
	contracts := candidates[w.offset:end]
	w.offset = end

	interval = successInterval
	if end == len(candidates) {
		interval = nothingToUpdateInterval
	}

	addrs := make([]string, 0, len(contracts))
	for _, c := range contracts {
		addrs = append(addrs, c.ContractAddress)
	}

	contractsProviders, err := w.contractsClient.GetProvidersInfo(ctx, addrs)
	if err != nil {
		err = fmt.Errorf("failed to get providers info: %w", err)
		interval = failureInterval
		return
	}

	for _, info := range contractsProviders {
		if len(info.Providers) == 0 {
			continue
		}

		var size uint64
		for _, c := range contracts {
			if utils.SameAddress(c.ContractAddress, info.Address) {
				size = c.Size
			}
		}

		status, checks := w.checkProviders(ctx, info, size)

		if !utils.SameAddress(w.store.State().WalletAddress, account) {
			log.Debug("account switched during probe")
			return
		}

		if _, err = w.store.Dispatch(ctx, store.SetContractStatus{
			Address: info.Address,
			Status:  status,
			Checks:  checks,
		}); err != nil {
			err = fmt.Errorf("failed to store contract status: %w", err)
			interval = failureInterval
			return
		}

		if status != models.ContractStatusActive {
			log.Warn("some providers failed storage check",
				"storage_contract", info.Address,
				"failed_count", len(checks))
		}
	}

	return
}

func (w *contractsWorker) checkProviders(ctx context.Context, info tonclient.StorageContractProviders, size uint64) (models.ContractStatus, []models.ProviderCheck) {
	log := w.logger.With("worker", "checkProviders")

	sc, err := utils.ParseAnyAddr(info.Address)
	if err != nil {
		log.Error("failed to parse storage contract address",
			"error", err.Error(),
			"storage_contract", info.Address)
		return models.ContractStatusUnknown, nil
	}

	var checks []models.ProviderCheck
	for _, p := range info.Providers {
		toProof := w.rnd.Uint64() % max(size, 1)

		reason := func() string {
			timeoutCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			providerKey, dErr := hex.DecodeString(p.Key)
			if dErr != nil {
				return "invalid provider key"
			}

			res, pErr := w.prober.Probe(timeoutCtx, providerKey, sc, toProof)
			if pErr != nil {
				log.Debug("provider is unreachable",
					"error", pErr.Error(),
					"provider_pubkey", p.Key)
				return "unreachable"
			}

			if res.Status == "error" {
				return res.Reason
			}

			if !res.HasProof {
				return "no proof"
			}

			return ""
		}()

		if reason != "" {
			checks = append(checks, models.ProviderCheck{
				ProviderKey: strings.ToLower(p.Key),
				Reason:      reason,
			})
		}
	}

	switch {
	case len(checks) == 0:
		return models.ContractStatusActive, nil
	case len(checks) == len(info.Providers):
		return models.ContractStatusFailed, checks
	default:
		return models.ContractStatusWarning, checks
	}
}

func NewWorker(
	session session,
	feed feed,
	bags bags,
	contractsClient contractsClient,
	prober Prober,
	store stateStore,
	logger *slog.Logger,
) Worker {
	return &contractsWorker{
		session:         session,
		feed:            feed,
		bags:            bags,
		contractsClient: contractsClient,
		prober:          prober,
		store:           store,
		rnd:             rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          logger,
	}
}
