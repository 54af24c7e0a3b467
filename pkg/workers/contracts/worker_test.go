package contractsworker

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"

	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/store"
)

var (
	wallet   = address.NewAddress(0, 0, append(make([]byte, 31), 1)).String()
	contract = address.NewAddress(0, 0, append(make([]byte, 31), 2)).String()
	keyOK    = hex.EncodeToString(append(make([]byte, 31), 0xaa))
	keyBad   = hex.EncodeToString(append(make([]byte, 31), 0xbb))
)

type fakeSession struct {
	address string
}

func (f *fakeSession) Address() string { return f.address }

type fakeFeed struct {
	calls int
	found int
	err   error
}

func (f *fakeFeed) Newer(context.Context) (store.State, int, error) {
	f.calls++
	return store.State{}, f.found, f.err
}

type fakeBags struct {
	list []v1.UserBagInfo
	err  error
}

func (f *fakeBags) UnpaidBags(context.Context) ([]v1.UserBagInfo, error) {
	return f.list, f.err
}

type fakeChain struct {
	info []tonclient.StorageContractProviders
	asks [][]string
}

func (f *fakeChain) GetProvidersInfo(_ context.Context, addrs []string) ([]tonclient.StorageContractProviders, error) {
	f.asks = append(f.asks, addrs)
	return f.info, nil
}

type fakeState struct {
	st store.State
}

func (f *fakeState) State() store.State { return f.st }

func (f *fakeState) Dispatch(_ context.Context, a store.Action) (store.State, error) {
	f.st = store.Reduce(f.st, a)
	return f.st, nil
}

type testEnv struct {
	session *fakeSession
	feed    *fakeFeed
	bags    *fakeBags
	chain   *fakeChain
	state   *fakeState
	probes  []uint64
	worker  Worker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		session: &fakeSession{address: wallet},
		feed:    &fakeFeed{},
		bags:    &fakeBags{},
		chain:   &fakeChain{},
		state:   &fakeState{st: store.Reduce(store.Default(), store.ConnectWallet{Address: wallet})},
	}

	prober := ProbeFunc(func(_ context.Context, key []byte, _ *address.Address, toProof uint64) (StorageInfo, error) {
		e.probes = append(e.probes, toProof)
		switch hex.EncodeToString(key) {
		case keyOK:
			return StorageInfo{Status: "active", HasProof: true}, nil
		case keyBad:
			return StorageInfo{Status: "error", Reason: "bag not found"}, nil
		}
		return StorageInfo{}, errors.New("timeout")
	})

	e.worker = NewWorker(e.session, e.feed, e.bags, e.chain, prober, e.state, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return e
}

func TestSyncNewContractsIdleWithoutSession(t *testing.T) {
	e := newTestEnv(t)
	e.session.address = ""

	interval, err := e.worker.SyncNewContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, interval)
	assert.Zero(t, e.feed.calls)
}

func TestSyncNewContracts(t *testing.T) {
	e := newTestEnv(t)
	e.feed.found = 2

	interval, err := e.worker.SyncNewContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, interval)
	assert.Equal(t, 1, e.feed.calls)

	e.feed.err = models.ErrSuperseded
	interval, err = e.worker.SyncNewContracts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, interval)

	e.feed.err = errors.New("indexer down")
	interval, err = e.worker.SyncNewContracts(context.Background())
	require.Error(t, err)
	assert.Equal(t, 5*time.Second, interval)
}

func TestRefreshUnpaidBags(t *testing.T) {
	e := newTestEnv(t)
	e.bags.list = []v1.UserBagInfo{{BagID: "ab"}}

	interval, err := e.worker.RefreshUnpaidBags(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.Minute, interval)
	assert.Equal(t, e.bags.list, e.state.st.UnpaidBags)

	e.bags.err = models.ErrUnauthorized
	_, err = e.worker.RefreshUnpaidBags(context.Background())
	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Len(t, e.state.st.UnpaidBags, 1)
}

func TestRefreshUnpaidBagsSkipsOtherAccount(t *testing.T) {
	e := newTestEnv(t)
	e.bags.list = []v1.UserBagInfo{{BagID: "ab"}}
	e.state.st.WalletAddress = contract

	_, err := e.worker.RefreshUnpaidBags(context.Background())
	require.NoError(t, err)
	assert.Empty(t, e.state.st.UnpaidBags)
}

func TestProbeProviders(t *testing.T) {
	e := newTestEnv(t)
	e.state.st.Contracts = []models.UploadFile{
		{ContractAddress: contract, BagID: "ab", Size: 100, LT: 2},
		{ContractAddress: wallet, LT: 1},
	}
	e.chain.info = []tonclient.StorageContractProviders{{
		Address: contract,
		Providers: []tonclient.Provider{
			{Key: keyOK},
			{Key: keyBad},
			{Key: hex.EncodeToString(append(make([]byte, 31), 0xcc))},
		},
	}}

	interval, err := e.worker.ProbeProviders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, interval)
	assert.Equal(t, [][]string{{contract}}, e.chain.asks)

	require.Len(t, e.probes, 3)
	for _, p := range e.probes {
		assert.Less(t, p, uint64(100))
	}

	c := e.state.st.Contracts[0]
	assert.Equal(t, models.ContractStatusWarning, c.Status)
	assert.Equal(t, []models.ProviderCheck{
		{ProviderKey: keyBad, Reason: "bag not found"},
		{ProviderKey: hex.EncodeToString(append(make([]byte, 31), 0xcc)), Reason: "unreachable"},
	}, c.Checks)
}

func TestProbeProvidersAllHealthy(t *testing.T) {
	e := newTestEnv(t)
	e.state.st.Contracts = []models.UploadFile{{ContractAddress: contract, BagID: "ab", Size: 1}}
	e.state.st.Contracts[0].Status = models.ContractStatusFailed
	e.chain.info = []tonclient.StorageContractProviders{{
		Address:   contract,
		Providers: []tonclient.Provider{{Key: keyOK}},
	}}

	_, err := e.worker.ProbeProviders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.ContractStatusActive, e.state.st.Contracts[0].Status)
	assert.Empty(t, e.state.st.Contracts[0].Checks)
}

func TestProbeProvidersNothingToCheck(t *testing.T) {
	e := newTestEnv(t)
	e.state.st.Contracts = []models.UploadFile{{ContractAddress: contract}}

	interval, err := e.worker.ProbeProviders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, interval)
	assert.Empty(t, e.chain.asks)
}

func TestMetricsLabels(t *testing.T) {
	e := newTestEnv(t)
	e.feed.err = errors.New("indexer down")

	reqCount := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "worker_runs_total"}, []string{"method", "error"})
	reqDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: "worker_run_seconds"}, []string{"method", "error"})
	w := NewMetrics(reqCount, reqDuration, e.worker)

	_, _ = w.SyncNewContracts(context.Background())
	_, _ = w.RefreshUnpaidBags(context.Background())

	assert.Equal(t, float64(1), testutil.ToFloat64(reqCount.WithLabelValues("SyncNewContracts", "true")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reqCount.WithLabelValues("RefreshUnpaidBags", "false")))
}
