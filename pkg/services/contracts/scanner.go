package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"mytonstorage-dashboard/pkg/cache"
	"mytonstorage-dashboard/pkg/clients/directory"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	// OpOfferStorageContract is sent by the owner wallet when it deploys a storage contract.
	OpOfferStorageContract uint32 = 0x107c49ef
	// OpContractDeployed marks a storage contract deployed with its state init.
	OpContractDeployed uint32 = 0xbf7bd0c1

	DefaultPageSize       = 50
	DefaultMaxAutoAdvance = 5
	DefaultAdvanceDelay   = 1100 * time.Millisecond

	maxNewerPages = 100
	memoSize      = 8192
)

type indexer interface {
	Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (models.TxPage, error)
}

type describer interface {
	BagsInfoShort(ctx context.Context, contracts []string) ([]v1.BagInfoShort, error)
}

type checker interface {
	ContractStatuses(ctx context.Context, contracts []directory.ContractRef) ([]directory.ContractStatus, error)
}

type ScannerOptions struct {
	PageSize       int
	OpCodes        []uint32
	MaxAutoAdvance int
	AdvanceDelay   time.Duration
	Clock          clock.Clock
}

// Scanner discovers storage contracts deployed by one wallet by walking its transaction history.
// LoadOlder walks back from the oldest position seen, LoadNewer walks from the newest transaction
// down to the newest position seen. Each direction has its own epoch, so a call started earlier
// never commits over a later one.
type Scanner struct {
	indexer   indexer
	describer describer
	checker   checker
	opts      ScannerOptions
	ops       map[uint32]struct{}

	olderEpoch utils.Epoch
	newerEpoch utils.Epoch

	mu      sync.Mutex
	account string
	cursor  models.Cursor
	seen    map[string]struct{}

	descriptions *cache.Memo[v1.BagInfoShort]
	checks       *cache.Memo[[]directory.ContractStatus]

	logger *slog.Logger
}

func (s *Scanner) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

func (s *Scanner) Cursor() models.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Reset switches the scanner to another account and drops everything in flight.
func (s *Scanner) Reset(account string) {
	s.olderEpoch.Next()
	s.newerEpoch.Next()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.account = account
	s.cursor = models.Cursor{}
	s.seen = make(map[string]struct{})
}

// Restore continues a scan from persisted state. known are contract addresses already listed.
func (s *Scanner) Restore(account string, cursor models.Cursor, known []string) {
	s.Reset(account)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursor = cursor
	for _, a := range known {
		s.seen[canonical(a)] = struct{}{}
	}
}

// LoadOlder returns contracts found on the next page of history. Pages without new contracts are
// skipped after AdvanceDelay, at most MaxAutoAdvance times per call.
func (s *Scanner) LoadOlder(ctx context.Context) (txs []models.ContractTx, err error) {
	token := s.olderEpoch.Next()

	s.mu.Lock()
	account, cursor := s.account, s.cursor
	s.mu.Unlock()

	log := s.logger.With("method", "LoadOlder", "account", account, "lt", cursor.LT)

	if account == "" {
		err = models.ErrNotConnected
		return
	}

	if cursor.End {
		return nil, nil
	}

	pageCursor := models.PageCursor{LT: cursor.LT, Hash: cursor.Hash}
	found := make(map[string]struct{})
	headLT := cursor.HeadLT
	end := false

	for advances := 0; ; advances++ {
		page, pErr := s.indexer.Transactions(ctx, account, pageCursor, s.opts.PageSize)
		if pErr != nil {
			log.Error("failed to load transactions", slog.String("error", pErr.Error()))
			err = fmt.Errorf("failed to load transactions: %w", pErr)
			return
		}

		if !s.olderEpoch.Current(token) {
			return nil, models.ErrSuperseded
		}

		for _, tx := range page.Transactions {
			if tx.LT > headLT {
				headLT = tx.LT
			}
		}

		fresh := s.candidates(page.Transactions, 0, found)
		txs = append(txs, fresh...)

		pageCursor, end = page.Next, page.End || page.Next.IsZero()
		if len(fresh) > 0 || end || advances >= s.opts.MaxAutoAdvance {
			break
		}

		if err = s.wait(ctx); err != nil {
			return nil, err
		}

		if !s.olderEpoch.Current(token) {
			return nil, models.ErrSuperseded
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.olderEpoch.Current(token) || s.account != account {
		return nil, models.ErrSuperseded
	}

	txs = s.commitSeen(txs)
	s.cursor.LT, s.cursor.Hash, s.cursor.End = pageCursor.LT, pageCursor.Hash, end
	if headLT > s.cursor.HeadLT {
		s.cursor.HeadLT = headLT
	}

	log.Debug("loaded older contracts", slog.Int("count", len(txs)), slog.Bool("end", end))

	return txs, nil
}

// LoadNewer returns contracts created after the newest transaction seen so far.
func (s *Scanner) LoadNewer(ctx context.Context) (txs []models.ContractTx, err error) {
	token := s.newerEpoch.Next()

	s.mu.Lock()
	account, head := s.account, s.cursor.HeadLT
	s.mu.Unlock()

	log := s.logger.With("method", "LoadNewer", "account", account, "head_lt", head)

	if account == "" {
		err = models.ErrNotConnected
		return
	}

	if head == 0 {
		return nil, nil
	}

	var pageCursor models.PageCursor
	found := make(map[string]struct{})
	newHead := head

	for i := 0; i < maxNewerPages; i++ {
		page, pErr := s.indexer.Transactions(ctx, account, pageCursor, s.opts.PageSize)
		if pErr != nil {
			log.Error("failed to load transactions", slog.String("error", pErr.Error()))
			err = fmt.Errorf("failed to load transactions: %w", pErr)
			return
		}

		if !s.newerEpoch.Current(token) {
			return nil, models.ErrSuperseded
		}

		for _, tx := range page.Transactions {
			if tx.LT > newHead {
				newHead = tx.LT
			}
		}

		txs = append(txs, s.candidates(page.Transactions, head, found)...)

		if len(page.Transactions) == 0 || page.MinLT() <= head || page.End {
			break
		}

		pageCursor = page.Next
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.newerEpoch.Current(token) || s.account != account {
		return nil, models.ErrSuperseded
	}

	txs = s.commitSeen(txs)
	if newHead > s.cursor.HeadLT {
		s.cursor.HeadLT = newHead
	}

	if len(txs) > 0 {
		log.Info("found new contracts", slog.Int("count", len(txs)))
	}

	return txs, nil
}

// candidates extracts contract deployments with lt above minLT that are neither seen by the
// session nor already in found.
func (s *Scanner) candidates(page []models.ChainTx, minLT uint64, found map[string]struct{}) (txs []models.ContractTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tx := range page {
		if tx.LT <= minLT {
			continue
		}

		for _, m := range tx.Out {
			if !m.HasOp {
				continue
			}
			if _, ok := s.ops[m.Op]; !ok {
				continue
			}

			key := canonical(m.Destination)
			if key == "" {
				continue
			}
			if _, ok := s.seen[key]; ok {
				continue
			}
			if _, ok := found[key]; ok {
				continue
			}
			found[key] = struct{}{}

			createdAt := m.CreatedAt
			if createdAt == 0 {
				createdAt = tx.Now
			}

			txs = append(txs, models.ContractTx{
				Address:   m.Destination,
				CreatedAt: createdAt,
				LT:        tx.LT,
			})
		}
	}

	return
}

// commitSeen adds txs to the seen set and drops those another call committed meanwhile.
// Callers hold s.mu.
func (s *Scanner) commitSeen(txs []models.ContractTx) []models.ContractTx {
	out := txs[:0]
	for _, tx := range txs {
		key := canonical(tx.Address)
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		out = append(out, tx)
	}

	return out
}

func (s *Scanner) wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.opts.Clock.After(s.opts.AdvanceDelay):
		return nil
	}
}

// Enrich attaches descriptions and provider checks. Both lookups run concurrently and remember
// their answers per contract address; a failed lookup leaves the fields empty.
func (s *Scanner) Enrich(ctx context.Context, txs []models.ContractTx) []models.UploadFile {
	log := s.logger.With("method", "Enrich", "count", len(txs))

	files := make([]models.UploadFile, 0, len(txs))
	keys := make([]string, 0, len(txs))
	for _, tx := range txs {
		files = append(files, models.UploadFile{
			ContractAddress: tx.Address,
			CreatedAt:       tx.CreatedAt,
			LT:              tx.LT,
		})
		keys = append(keys, canonical(tx.Address))
	}

	if len(txs) == 0 {
		return files
	}

	var (
		infos    map[string]v1.BagInfoShort
		statuses map[string][]directory.ContractStatus
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		infos, err = s.descriptions.GetMany(gCtx, keys, s.fetchDescriptions)
		if err != nil {
			log.Warn("failed to load descriptions", slog.String("error", err.Error()))
		}
		return nil
	})
	g.Go(func() error {
		var err error
		statuses, err = s.checks.GetMany(gCtx, keys, s.fetchChecks)
		if err != nil {
			log.Warn("failed to load provider checks", slog.String("error", err.Error()))
		}
		return nil
	})
	_ = g.Wait()

	for i, key := range keys {
		if info, ok := infos[key]; ok {
			files[i].BagID = info.BagID
			files[i].Description = info.Description
			files[i].Size = info.Size
		}

		if st, ok := statuses[key]; ok {
			files[i].Status, files[i].Checks = contractStatus(st)
		}
	}

	return files
}

func (s *Scanner) fetchDescriptions(ctx context.Context, missing []string) (map[string]v1.BagInfoShort, error) {
	list, err := s.describer.BagsInfoShort(ctx, missing)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get bags info: %w", err)
	}

	out := make(map[string]v1.BagInfoShort, len(list))
	for _, info := range list {
		if key := canonical(info.ContractAddress); key != "" {
			out[key] = info
		}
	}

	return out, nil
}

func (s *Scanner) fetchChecks(ctx context.Context, missing []string) (map[string][]directory.ContractStatus, error) {
	refs := make([]directory.ContractRef, 0, len(missing))
	for _, a := range missing {
		refs = append(refs, directory.ContractRef{Address: a})
	}

	list, err := s.checker.ContractStatuses(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("failed to get contract statuses: %w", err)
	}

	out := make(map[string][]directory.ContractStatus, len(missing))
	for _, a := range missing {
		out[a] = []directory.ContractStatus{}
	}
	for _, st := range list {
		if key := canonical(st.Contract); key != "" {
			out[key] = append(out[key], st)
		}
	}

	return out, nil
}

func contractStatus(list []directory.ContractStatus) (models.ContractStatus, []models.ProviderCheck) {
	if len(list) == 0 {
		return models.ContractStatusUnknown, nil
	}

	var checks []models.ProviderCheck
	for _, st := range list {
		if st.Reason != "" {
			checks = append(checks, models.ProviderCheck{
				ProviderKey: strings.ToLower(st.ProviderPubkey),
				Reason:      st.Reason,
			})
		}
	}

	switch {
	case len(checks) == 0:
		return models.ContractStatusActive, nil
	case len(checks) == len(list):
		return models.ContractStatusFailed, checks
	default:
		return models.ContractStatusWarning, checks
	}
}

func canonical(addr string) string {
	c, err := utils.CanonicalAddress(addr)
	if err != nil {
		return ""
	}

	return c
}

// DefaultOpCodes are the out-message op codes that mark a storage contract creation.
func DefaultOpCodes() []uint32 {
	return []uint32{OpOfferStorageContract, OpContractDeployed}
}

func NewScanner(indexer indexer, describer describer, checker checker, opts ScannerOptions, logger *slog.Logger) *Scanner {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if len(opts.OpCodes) == 0 {
		opts.OpCodes = DefaultOpCodes()
	}
	if opts.MaxAutoAdvance < 0 {
		opts.MaxAutoAdvance = 0
	}
	if opts.AdvanceDelay <= 0 {
		opts.AdvanceDelay = DefaultAdvanceDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	ops := make(map[uint32]struct{}, len(opts.OpCodes))
	for _, op := range opts.OpCodes {
		ops[op] = struct{}{}
	}

	return &Scanner{
		indexer:      indexer,
		describer:    describer,
		checker:      checker,
		opts:         opts,
		ops:          ops,
		seen:         make(map[string]struct{}),
		descriptions: cache.NewMemo[v1.BagInfoShort](memoSize),
		checks:       cache.NewMemo[[]directory.ContractStatus](memoSize),
		logger:       logger,
	}
}
