package wizard

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/xssnick/tonutils-go/tlb"

	"mytonstorage-dashboard/pkg/clients/backend"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/services/dispatch"
	"mytonstorage-dashboard/pkg/services/offers"
	"mytonstorage-dashboard/pkg/store"
	"mytonstorage-dashboard/pkg/utils"
)

const DefaultProofPeriodSeconds = 60 * 60 * 24

// DefaultDeployFee is attached per provider on top of the storage price.
var DefaultDeployFee = tlb.MustFromTON("0.05").Nano().Uint64()

type remote interface {
	Upload(ctx context.Context, description string, files []models.FileInfo, progress backend.ProgressFunc) (string, error)
	InitStorageContract(ctx context.Context, req v1.InitStorageContractRequest) (v1.Transaction, error)
	MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error
}

type directory interface {
	Lookup(ctx context.Context, pubkeys []string) ([]models.Provider, error)
}

type wallet interface {
	Address() string
}

type stateStore interface {
	State() store.State
	Dispatch(ctx context.Context, a store.Action) (store.State, error)
}

type Options struct {
	Limits      Limits
	DeployFee   uint64
	ProofPeriod uint32
}

type Progress struct {
	Sent  uint64 `json:"sent"`
	Total uint64 `json:"total"`
}

type View struct {
	Step Step              `json:"step"`
	Data models.WidgetData `json:"data"`
}

type Wizard interface {
	View() View
	Progress() Progress

	SelectFiles(ctx context.Context, paths []string) (View, error)
	Upload(ctx context.Context, description string) (View, error)
	ResumeBag(ctx context.Context, bag v1.UserBagInfo) (View, error)
	SelectProviders(ctx context.Context, pubkeys []string, proofPeriod uint32) (View, error)
	ChoosePeriod(ctx context.Context, days uint32, proofPeriod uint32) (View, error)
	Pay(ctx context.Context) (View, error)
	ClearProviders(ctx context.Context) (View, error)
	Reset(ctx context.Context) (View, error)
}

// service serializes wizard actions, so an action always works on the data the previous one left.
type service struct {
	mu sync.Mutex

	remote         remote
	directory      directory
	offers         offers.Offers
	sender         dispatch.Dispatcher
	wallet         wallet
	store          stateStore
	onUnauthorized func()
	opts           Options

	sent  atomic.Uint64
	total atomic.Uint64

	logger *slog.Logger
}

func (s *service) View() View {
	return view(s.store.State().Widget)
}

func (s *service) Progress() Progress {
	return Progress{Sent: s.sent.Load(), Total: s.total.Load()}
}

func (s *service) SelectFiles(ctx context.Context, paths []string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := CollectFiles(paths, s.opts.Limits)
	if err != nil {
		return s.View(), err
	}

	next, err := SelectFiles(files, s.opts.Limits)
	if err != nil {
		return s.View(), err
	}

	return s.commit(ctx, next)
}

func (s *service) Upload(ctx context.Context, description string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.With("method", "Upload")

	d := s.store.State().Widget
	if DeriveStep(d) != StepDescribe {
		return view(d), models.NewAppError(models.ConflictErrorCode, "files are not ready for upload")
	}

	if err := s.opts.Limits.Files(d.SelectedFiles); err != nil {
		return view(d), err
	}

	var size uint64
	for _, f := range d.SelectedFiles {
		size += f.Size
	}

	s.sent.Store(0)
	s.total.Store(size)

	bagID, err := s.remote.Upload(ctx, description, d.SelectedFiles, func(sent, total uint64) {
		s.sent.Store(sent)
		s.total.Store(total)
	})
	if err != nil {
		log.Error("failed to upload files", "files", len(d.SelectedFiles), slog.String("error", err.Error()))
		return view(d), s.check(err)
	}

	log.Info("files uploaded", "bag_id", bagID, "size", size)

	next, err := SetBag(d, bagID, size, description)
	if err != nil {
		return view(d), err
	}

	return s.commit(ctx, next)
}

func (s *service) ResumeBag(ctx context.Context, bag v1.UserBagInfo) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := SetBag(models.WidgetData{}, bag.BagID, bag.Size, bag.Description)
	if err != nil {
		return s.View(), err
	}

	return s.commit(ctx, next)
}

func (s *service) SelectProviders(ctx context.Context, pubkeys []string, proofPeriod uint32) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.store.State().Widget
	if !utils.ValidateBagID(d.NewBagID) {
		return view(d), models.ErrInvalidBagID
	}

	if len(pubkeys) == 0 {
		return s.commit(ctx, ClearProviders(d))
	}

	next, err := s.negotiate(ctx, d, pubkeys, proofPeriod)
	if err != nil {
		return view(d), err
	}

	return s.commit(ctx, next)
}

func (s *service) ChoosePeriod(ctx context.Context, days uint32, proofPeriod uint32) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.store.State().Widget
	if len(d.SelectedProviders) == 0 {
		return view(d), models.ErrNoProviders
	}

	if d.PaymentStatus == models.PaymentStatusPending || d.PaymentStatus == models.PaymentStatusSuccess {
		return view(d), models.NewAppError(models.ConflictErrorCode, "payment already sent")
	}

	// offers are quoted for a proof span, a different span needs fresh ones
	if proofPeriod != 0 && proofPeriod != d.ProofPeriod {
		keys := make([]string, 0, len(d.SelectedProviders))
		for _, p := range d.SelectedProviders {
			keys = append(keys, p.Provider.Pubkey)
		}

		renegotiated, err := s.negotiate(ctx, d, keys, proofPeriod)
		if err != nil {
			return view(d), err
		}
		if len(renegotiated.SelectedProviders) == 0 {
			return s.commit(ctx, renegotiated)
		}
		d = renegotiated
	}

	next, err := ChoosePeriod(d, days, s.opts.Limits, s.opts.DeployFee)
	if err != nil {
		return view(s.store.State().Widget), err
	}

	return s.commit(ctx, next)
}

// Pay deploys the storage contract. The outcome, failure included, is stored in the widget data.
func (s *service) Pay(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logger.With("method", "Pay")

	d := s.store.State().Widget
	if DeriveStep(d) != StepPeriod || d.StorageDays == 0 || d.Amount == 0 {
		return view(d), models.NewAppError(models.ConflictErrorCode, "storage period is not chosen")
	}

	if d.PaymentStatus == models.PaymentStatusPending {
		return view(d), models.NewAppError(models.ConflictErrorCode, "payment is in progress")
	}

	owner := s.wallet.Address()
	if owner == "" {
		return view(d), models.ErrNotConnected
	}

	if s.offers.IsExpired(d.NewBagID) {
		return view(d), models.ErrOfferWindowExpired
	}

	keys := make([]string, 0, len(d.SelectedProviders))
	for _, p := range d.SelectedProviders {
		keys = append(keys, p.Provider.Key())
	}

	tx, err := s.remote.InitStorageContract(ctx, v1.InitStorageContractRequest{
		BagID:         d.NewBagID,
		OwnerAddress:  owner,
		Amount:        d.Amount,
		Span:          d.ProofPeriod,
		ProvidersKeys: keys,
	})
	if err != nil {
		log.Error("failed to init storage contract", "bag_id", d.NewBagID, slog.String("error", err.Error()))
		return view(d), s.check(err)
	}

	pending, err := SetPayment(d, tx.Address, models.PaymentStatusPending, "")
	if err != nil {
		return view(d), err
	}
	if _, err := s.commit(ctx, pending); err != nil {
		return view(pending), err
	}

	res, sendErr := s.sender.Send(ctx, tx)
	if sendErr != nil {
		log.Warn("storage contract payment failed", "bag_id", d.NewBagID, "contract_address", tx.Address, slog.String("error", sendErr.Error()))

		failed, err := SetPayment(pending, tx.Address, models.PaymentStatusFailed, sendErr.Error())
		if err != nil {
			return view(pending), err
		}
		v, err := s.commit(ctx, failed)
		return v, errors.Join(sendErr, err)
	}

	log.Info("storage contract paid", "bag_id", d.NewBagID, "contract_address", tx.Address, "path", res.Path)

	success, err := SetPayment(pending, tx.Address, models.PaymentStatusSuccess, "")
	if err != nil {
		return view(pending), err
	}

	v, err := s.commit(ctx, success)

	// the bag is paid on chain already, a failed mark only keeps it in the unpaid list
	if markErr := s.remote.MarkBagAsPaid(ctx, d.NewBagID, tx.Address); markErr != nil {
		log.Error("failed to mark bag as paid", "bag_id", d.NewBagID, slog.String("error", markErr.Error()))
		s.check(markErr)
	}

	return v, err
}

func (s *service) ClearProviders(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.store.State().Widget
	if d.PaymentStatus == models.PaymentStatusPending {
		return view(d), models.NewAppError(models.ConflictErrorCode, "payment is in progress")
	}

	return s.commit(ctx, ClearProviders(d))
}

func (s *service) Reset(ctx context.Context) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sent.Store(0)
	s.total.Store(0)

	return s.commit(ctx, Reset())
}

func (s *service) negotiate(ctx context.Context, d models.WidgetData, pubkeys []string, proofPeriod uint32) (models.WidgetData, error) {
	log := s.logger.With("method", "negotiate", "bag_id", d.NewBagID, "providers", len(pubkeys))

	providers, err := s.directory.Lookup(ctx, pubkeys)
	if err != nil {
		log.Error("failed to look up providers", slog.String("error", err.Error()))
		return d, models.WrapAppError(models.ServiceUnavailableCode, "failed to look up providers", err)
	}

	if len(providers) == 0 {
		return d, models.ErrNoProviders
	}

	if proofPeriod == 0 {
		var ok bool
		if proofPeriod, ok = DefaultProofPeriod(providers, s.opts.ProofPeriod); !ok {
			return d, models.ErrSpanMismatch
		}
	}

	keys := make([]string, 0, len(providers))
	for _, p := range providers {
		keys = append(keys, p.Key())
	}

	res, err := s.offers.Negotiate(ctx, offers.Request{
		BagID:        d.NewBagID,
		BagSize:      d.NewBagSize,
		Span:         proofPeriod,
		ProviderKeys: keys,
	})
	if err != nil {
		return d, err
	}

	byKey := make(map[string]models.ProviderOffer, len(res.Offers))
	for _, o := range res.Offers {
		byKey[o.Provider.Key] = o
	}

	selected := make([]models.SelectedProvider, 0, len(providers))
	for _, p := range providers {
		o, ok := byKey[p.Key()]
		if !ok {
			continue
		}
		selected = append(selected, models.SelectedProvider{Provider: p, Offer: &o})
	}

	if len(selected) == 0 {
		log.Warn("no provider made an offer", "declines", len(res.Declines))
	}

	return SelectProviders(d, selected, res.Declines, proofPeriod)
}

func (s *service) commit(ctx context.Context, d models.WidgetData) (View, error) {
	st, err := s.store.Dispatch(ctx, store.SetWidget{Data: d})
	return view(st.Widget), err
}

func (s *service) check(err error) error {
	if errors.Is(err, models.ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized()
	}

	return err
}

func view(d models.WidgetData) View {
	return View{Step: DeriveStep(d), Data: d}
}

func NewService(
	remote remote,
	directory directory,
	offers offers.Offers,
	sender dispatch.Dispatcher,
	wallet wallet,
	store stateStore,
	onUnauthorized func(),
	opts Options,
	logger *slog.Logger,
) Wizard {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.ProofPeriod == 0 {
		opts.ProofPeriod = DefaultProofPeriodSeconds
	}

	return &service{
		remote:         remote,
		directory:      directory,
		offers:         offers,
		sender:         sender,
		wallet:         wallet,
		store:          store,
		onUnauthorized: onUnauthorized,
		opts:           opts,
		logger:         logger,
	}
}
