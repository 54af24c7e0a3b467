package httpServer

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fakeSession struct {
	status auth.Status
}

func (f *fakeSession) Connect(context.Context) (auth.Status, error) {
	f.status = auth.Status{Connected: true, Authorized: true, Address: "EQ"}
	return f.status, nil
}

func (f *fakeSession) Disconnect(context.Context) error {
	f.status = auth.Status{}
	return nil
}

func (f *fakeSession) Status() auth.Status { return f.status }

type fakeProviders struct{}

func (fakeProviders) Recommend(_ context.Context, req selection.Request) ([]models.Provider, error) {
	if req.Count == 0 {
		return nil, models.NewAppError(models.BadRequestErrorCode, "invalid providers count")
	}
	return []models.Provider{{Pubkey: "aa"}}, nil
}

type fakeNegotiator struct {
	err error
}

func (f fakeNegotiator) Negotiate(context.Context, offers.Request) (offers.Result, error) {
	return offers.Result{}, f.err
}

type fakeContracts struct {
	removed []string
}

func (f *fakeContracts) TopupBalance(context.Context, v1.TopupRequest) (dispatch.Result, error) {
	return dispatch.Result{Path: dispatch.PathPoller, TxHash: "abc"}, nil
}

func (f *fakeContracts) WithdrawBalance(context.Context, v1.WithdrawRequest) (dispatch.Result, error) {
	return dispatch.Result{}, models.ErrConfirmationTimeout
}

func (f *fakeContracts) UpdateProviders(context.Context, v1.UpdateProvidersRequest) (dispatch.Result, error) {
	return dispatch.Result{}, models.ErrNoProviders
}

func (f *fakeContracts) ContractInfo(context.Context, string) (tonclient.StorageContractProviders, error) {
	return tonclient.StorageContractProviders{}, models.ErrNotFound
}

func (f *fakeContracts) UnpaidBags(context.Context) ([]v1.UserBagInfo, error) {
	return []v1.UserBagInfo{}, nil
}

func (f *fakeContracts) RemoveBag(_ context.Context, bagID string) error {
	f.removed = append(f.removed, bagID)
	return nil
}

type fakeFeed struct{}

func (fakeFeed) Older(context.Context) (store.State, error) {
	return store.State{}, models.ErrSuperseded
}

func (fakeFeed) Newer(context.Context) (store.State, int, error) {
	return store.State{Contracts: []models.UploadFile{{ContractAddress: "x"}}}, 1, nil
}

type fakeState struct {
	st store.State
}

func (f *fakeState) State() store.State { return f.st }

func (f *fakeState) Dispatch(_ context.Context, a store.Action) (store.State, error) {
	f.st = store.Reduce(f.st, a)
	return f.st, nil
}

type fakeWizard struct {
	wizard.Wizard
}

func (fakeWizard) View() wizard.View {
	return wizard.View{Step: wizard.StepFiles}
}

func (fakeWizard) SelectFiles(context.Context, []string) (wizard.View, error) {
	return wizard.View{Step: wizard.StepFiles}, models.ErrTooManyFiles
}

type testEnv struct {
	app       *fiber.App
	session   *fakeSession
	contracts *fakeContracts
}

func newTestEnv(t *testing.T, negotiateErr error, tokens ...string) *testEnv {
	t.Helper()

	e := &testEnv{
		app:       fiber.New(),
		session:   &fakeSession{},
		contracts: &fakeContracts{},
	}

	h := New(
		e.app,
		e.session,
		fakeWizard{},
		fakeProviders{},
		fakeNegotiator{err: negotiateErr},
		e.contracts,
		fakeFeed{},
		&fakeState{st: store.Default()},
		tokens,
		"test",
		"dashboard",
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	h.RegisterRoutes()

	return e
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	res, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var out map[string]any
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}

	return res.StatusCode, out
}

func TestHealthAndState(t *testing.T) {
	e := newTestEnv(t, nil)

	code, body := e.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, body = e.do(t, http.MethodGet, "/api/v1/state", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "upload", body["page"])

	code, body = e.do(t, http.MethodPost, "/api/v1/page", `{"page":"contracts"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "contracts", body["page"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/page", `{"page":"nowhere"}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRequestIDIsSet(t *testing.T) {
	e := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/state", nil)
	res, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Len(t, res.Header.Get(requestIDHeader), 36)
}

func TestSessionGuardsBackendRoutes(t *testing.T) {
	e := newTestEnv(t, nil)

	code, body := e.do(t, http.MethodGet, "/api/v1/bags/unpaid", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "wallet is not connected", body["error"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/session/connect", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/bags/unpaid", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestErrorMapping(t *testing.T) {
	e := newTestEnv(t, models.ErrOfferWindowExpired)
	_, _ = e.do(t, http.MethodPost, "/api/v1/session/connect", "")

	code, body := e.do(t, http.MethodPost, "/api/v1/providers/offers", `{"bag_id":"x"}`)
	assert.Equal(t, http.StatusGone, code)
	assert.Equal(t, models.ErrOfferWindowExpired.Error(), body["error"])

	code, _ = e.do(t, http.MethodPost, "/api/v1/contracts/withdraw", `{"contract_address":"x"}`)
	assert.Equal(t, http.StatusGatewayTimeout, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/contracts/update", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = e.do(t, http.MethodGet, "/api/v1/contracts/EQabc", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/contracts/older", "")
	assert.Equal(t, http.StatusConflict, code)

	code, _ = e.do(t, http.MethodPost, "/api/v1/wizard/files", `{"paths":["/tmp"]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = e.do(t, http.MethodPost, "/api/v1/providers/select", `{"count":0}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid providers count", body["error"])
}

func TestContractsEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	_, _ = e.do(t, http.MethodPost, "/api/v1/session/connect", "")

	code, body := e.do(t, http.MethodPost, "/api/v1/contracts/newer", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["found"])

	code, body = e.do(t, http.MethodPost, "/api/v1/contracts/topup", `{"contract_address":"x","amount":1}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "poller", body["path"])

	code, _ = e.do(t, http.MethodDelete, "/api/v1/bags/nothex", "")
	assert.Equal(t, http.StatusBadRequest, code)

	bagID := strings.Repeat("AB", 32)
	code, _ = e.do(t, http.MethodDelete, "/api/v1/bags/"+bagID, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{strings.ToLower(bagID)}, e.contracts.removed)
}

func TestMetricsNeedsAdminToken(t *testing.T) {
	hash := md5.Sum([]byte("secret"))
	e := newTestEnv(t, nil, fmt.Sprintf("%x", hash[:]))

	code, _ := e.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = e.do(t, http.MethodGet, "/metrics", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = e.do(t, http.MethodGet, "/metrics", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, code)
}
