package contracts

import (
	"context"
	"log/slog"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/store"
)

type stateStore interface {
	State() store.State
	Dispatch(ctx context.Context, a store.Action) (store.State, error)
}

// Feed keeps the contracts list of the stored state in step with the scanner.
type Feed struct {
	scanner *Scanner
	store   stateStore
	logger  *slog.Logger
}

// Restore continues the scan saved in the store, if a wallet was connected.
func (f *Feed) Restore() {
	st := f.store.State()
	if st.WalletAddress == "" {
		return
	}

	known := make([]string, 0, len(st.Contracts))
	for _, c := range st.Contracts {
		known = append(known, c.ContractAddress)
	}

	f.scanner.Restore(st.WalletAddress, st.Cursor, known)
	f.logger.Info("contract scan restored",
		"method", "Restore",
		"account", st.WalletAddress,
		"contracts", len(known),
		"lt", st.Cursor.LT,
	)
}

// Older loads the next page of older contracts into the store.
func (f *Feed) Older(ctx context.Context) (store.State, error) {
	account := f.scanner.Account()

	txs, err := f.scanner.LoadOlder(ctx)
	if err != nil {
		return f.store.State(), err
	}

	return f.merge(ctx, account, txs)
}

// Newer loads contracts created since the last scan into the store.
func (f *Feed) Newer(ctx context.Context) (store.State, int, error) {
	account := f.scanner.Account()

	txs, err := f.scanner.LoadNewer(ctx)
	if err != nil {
		return f.store.State(), 0, err
	}

	st, err := f.merge(ctx, account, txs)

	return st, len(txs), err
}

func (f *Feed) merge(ctx context.Context, account string, txs []models.ContractTx) (store.State, error) {
	files := f.scanner.Enrich(ctx, txs)

	if f.scanner.Account() != account {
		return f.store.State(), models.ErrSuperseded
	}

	return f.store.Dispatch(ctx, store.MergeContracts{
		Contracts: files,
		Cursor:    f.scanner.Cursor(),
	})
}

func NewFeed(scanner *Scanner, store stateStore, logger *slog.Logger) *Feed {
	return &Feed{
		scanner: scanner,
		store:   store,
		logger:  logger,
	}
}
