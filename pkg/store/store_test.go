package store

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xssnick/tonutils-go/address"
	"go.uber.org/goleak"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/models/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type memRepo struct {
	mu      sync.Mutex
	records map[string]db.StateRecord
	gate    chan struct{}
	err     error
	saves   int
}

func (r *memRepo) GetState(_ context.Context, profile string) (db.StateRecord, error) {
	if r.gate != nil {
		<-r.gate
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return db.StateRecord{}, r.err
	}

	rec, ok := r.records[profile]
	if !ok {
		return db.StateRecord{}, models.ErrNotFound
	}

	return rec, nil
}

func (r *memRepo) SaveState(_ context.Context, record db.StateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.records == nil {
		r.records = map[string]db.StateRecord{}
	}
	r.records[record.Profile] = record
	r.saves++

	return nil
}

func (r *memRepo) stored(t *testing.T) State {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()

	var st State
	require.NoError(t, json.Unmarshal(r.records["default"].Blob, &st))

	return st
}

func newTestStore(repo repository, timeout time.Duration) *Store {
	return New(repo, Options{HydrateTimeout: timeout, Clock: clock.New()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func addr(b byte) string {
	return address.NewAddress(0, 0, append(make([]byte, 31), b)).String()
}

func blob(t *testing.T, st State) []byte {
	t.Helper()

	data, err := json.Marshal(st)
	require.NoError(t, err)

	return data
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	s := Default()
	s.Contracts = []models.UploadFile{{ContractAddress: addr(1), LT: 5}}

	next := Reduce(s, MergeContracts{Contracts: []models.UploadFile{{ContractAddress: addr(2), LT: 9}}})
	assert.Len(t, s.Contracts, 1)
	require.Len(t, next.Contracts, 2)
	assert.Equal(t, addr(2), next.Contracts[0].ContractAddress)

	removed := Reduce(next, RemoveContract{Address: addr(2)})
	assert.Len(t, next.Contracts, 2)
	assert.Len(t, removed.Contracts, 1)
}

func TestMergeKeepsKnownDetails(t *testing.T) {
	s := Default()
	s.Contracts = []models.UploadFile{{ContractAddress: addr(1), LT: 5, BagID: "bag", Status: models.ContractStatusActive}}

	next := Reduce(s, MergeContracts{Contracts: []models.UploadFile{{ContractAddress: addr(1), LT: 5}}})
	require.Len(t, next.Contracts, 1)
	assert.Equal(t, "bag", next.Contracts[0].BagID)
	assert.Equal(t, models.ContractStatusActive, next.Contracts[0].Status)
}

func TestConnectWalletSwitchesAccount(t *testing.T) {
	s := Reduce(Default(), ConnectWallet{Address: addr(1)})
	s = Reduce(s, MergeContracts{Contracts: []models.UploadFile{{ContractAddress: addr(7)}}, Cursor: models.Cursor{HeadLT: 3}})
	s = Reduce(s, SetWidget{Data: models.WidgetData{Description: "x"}})
	s = Reduce(s, SetUnpaidBags{Bags: []v1.UserBagInfo{{BagID: "ab"}}})

	same := Reduce(s, ConnectWallet{Address: address.MustParseAddr(addr(1)).StringRaw()})
	assert.Len(t, same.Contracts, 1)
	assert.Equal(t, "x", same.Widget.Description)

	other := Reduce(s, ConnectWallet{Address: addr(2)})
	assert.Empty(t, other.Contracts)
	assert.Zero(t, other.Cursor)
	assert.Empty(t, other.Widget.Description)
	assert.Empty(t, other.UnpaidBags)

	s = Reduce(s, SetPage{Page: models.PageContracts})
	out := Reduce(s, DisconnectWallet{})
	assert.Empty(t, out.WalletAddress)
	assert.Empty(t, out.Contracts)
	assert.Equal(t, models.PageContracts, out.Page)
}

func TestSetContractStatus(t *testing.T) {
	s := Default()
	s.Contracts = []models.UploadFile{{ContractAddress: addr(1), LT: 2}, {ContractAddress: addr(2), LT: 1}}

	checks := []models.ProviderCheck{{ProviderKey: "aa", Reason: "unreachable"}}
	next := Reduce(s, SetContractStatus{
		Address: address.MustParseAddr(addr(2)).StringRaw(),
		Status:  models.ContractStatusFailed,
		Checks:  checks,
	})

	assert.Equal(t, models.ContractStatusUnknown, s.Contracts[1].Status)
	assert.Equal(t, models.ContractStatusUnknown, next.Contracts[0].Status)
	assert.Equal(t, models.ContractStatusFailed, next.Contracts[1].Status)
	assert.Equal(t, checks, next.Contracts[1].Checks)
}

func TestDispatchPersists(t *testing.T) {
	repo := &memRepo{}
	st := newTestStore(repo, time.Second)

	_, err := st.Dispatch(context.Background(), SetPage{Page: models.PageUnpaid})
	require.NoError(t, err)

	assert.Equal(t, models.PageUnpaid, repo.stored(t).Page)
	assert.Equal(t, StateVersion, repo.records["default"].Version)
}

func TestHydrateLoadsState(t *testing.T) {
	saved := Default()
	saved.Page = models.PageContracts
	saved.WalletAddress = addr(1)

	repo := &memRepo{records: map[string]db.StateRecord{"default": {Profile: "default", Version: StateVersion, Blob: blob(t, saved)}}}
	st := newTestStore(repo, time.Second)

	require.NoError(t, st.Hydrate(context.Background()))
	assert.Equal(t, models.PageContracts, st.State().Page)
	assert.Equal(t, addr(1), st.State().WalletAddress)
}

func TestHydrateIgnoresUnknownVersion(t *testing.T) {
	saved := Default()
	saved.Page = models.PageContracts

	repo := &memRepo{records: map[string]db.StateRecord{"default": {Profile: "default", Version: StateVersion + 1, Blob: blob(t, saved)}}}
	st := newTestStore(repo, time.Second)

	require.NoError(t, st.Hydrate(context.Background()))
	assert.Equal(t, Default(), st.State())
}

func TestHydrateMissingState(t *testing.T) {
	st := newTestStore(&memRepo{}, time.Second)

	require.NoError(t, st.Hydrate(context.Background()))
	assert.Equal(t, Default(), st.State())
}

func TestHydrateError(t *testing.T) {
	st := newTestStore(&memRepo{err: errors.New("disk gone")}, time.Second)

	assert.Error(t, st.Hydrate(context.Background()))
	assert.Equal(t, Default(), st.State())
}

func TestLateHydrationIsDiscarded(t *testing.T) {
	saved := Default()
	saved.Page = models.PageContracts

	repo := &memRepo{
		gate:    make(chan struct{}),
		records: map[string]db.StateRecord{"default": {Profile: "default", Version: StateVersion, Blob: blob(t, saved)}},
	}
	st := newTestStore(repo, 20*time.Millisecond)

	err := st.Hydrate(context.Background())
	assert.ErrorIs(t, err, ErrHydrationTimeout)

	close(repo.gate)

	// give the late load a chance to apply, it must not
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, models.PageUpload, st.State().Page)
}

func TestDispatchDuringHydrationWins(t *testing.T) {
	saved := Default()
	saved.Page = models.PageContracts

	repo := &memRepo{
		gate:    make(chan struct{}),
		records: map[string]db.StateRecord{"default": {Profile: "default", Version: StateVersion, Blob: blob(t, saved)}},
	}
	st := newTestStore(repo, time.Second)

	done := make(chan error, 1)
	go func() { done <- st.Hydrate(context.Background()) }()

	_, err := st.Dispatch(context.Background(), SetPage{Page: models.PageUnpaid})
	require.NoError(t, err)

	close(repo.gate)
	require.NoError(t, <-done)
	assert.Equal(t, models.PageUnpaid, st.State().Page)
}
