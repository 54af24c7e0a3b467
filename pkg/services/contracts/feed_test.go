package contracts

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/models/db"
	"mytonstorage-dashboard/pkg/store"
)

type discardRepo struct{}

func (discardRepo) GetState(context.Context, string) (db.StateRecord, error) {
	return db.StateRecord{}, models.ErrNotFound
}

func (discardRepo) SaveState(context.Context, db.StateRecord) error {
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	st := store.New(discardRepo{}, store.Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := st.Dispatch(context.Background(), store.ConnectWallet{Address: wallet})
	require.NoError(t, err)

	return st
}

func TestFeedMergesPagesIntoStore(t *testing.T) {
	c1 := contractAddr(1)
	d := &fakeDescriber{infos: map[string]v1.BagInfoShort{
		canonical(c1.String()): {ContractAddress: c1.String(), BagID: "bag", Description: "photos"},
	}}
	s := newTestScanner(&fakeIndexer{pages: twoPages()}, d, &fakeChecker{}, DefaultMaxAutoAdvance)
	st := newTestStore(t)
	feed := NewFeed(s, st, slog.New(slog.NewTextHandler(io.Discard, nil)))

	state, err := feed.Older(context.Background())
	require.NoError(t, err)
	require.Len(t, state.Contracts, 2)
	assert.Equal(t, uint64(300), state.Contracts[0].LT)
	assert.Equal(t, "photos", state.Contracts[0].Description)
	assert.Equal(t, s.Cursor(), state.Cursor)

	state, err = feed.Older(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Contracts, 3)
	assert.True(t, state.Cursor.End)
}

func TestFeedRestoreSkipsKnownContracts(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Dispatch(context.Background(), store.MergeContracts{
		Contracts: []models.UploadFile{{ContractAddress: contractAddr(1).StringRaw(), LT: 300}},
	})
	require.NoError(t, err)

	s := NewScanner(&fakeIndexer{pages: twoPages()}, &fakeDescriber{}, &fakeChecker{}, ScannerOptions{PageSize: 2}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	feed := NewFeed(s, st, slog.New(slog.NewTextHandler(io.Discard, nil)))
	feed.Restore()
	assert.Equal(t, wallet, s.Account())

	state, err := feed.Older(context.Background())
	require.NoError(t, err)
	assert.Len(t, state.Contracts, 2)
}
