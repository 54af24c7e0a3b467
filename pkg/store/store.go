package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/models/db"
)

const DefaultHydrateTimeout = 3 * time.Second

var ErrHydrationTimeout = errors.New("state hydration timed out")

type hydration int

const (
	hydrationPending hydration = iota
	hydrationDone
	hydrationFailed
)

type repository interface {
	GetState(ctx context.Context, profile string) (db.StateRecord, error)
	SaveState(ctx context.Context, record db.StateRecord) error
}

type Options struct {
	Profile        string
	HydrateTimeout time.Duration
	Clock          clock.Clock
}

// Store owns the dashboard state. Every dispatched action is persisted as a versioned JSON blob.
type Store struct {
	mu        sync.RWMutex
	state     State
	hydration hydration
	touched   bool
	seq       uint64

	saveMu    sync.Mutex
	lastSaved uint64

	repo   repository
	opts   Options
	logger *slog.Logger
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

func (s *Store) Dispatch(ctx context.Context, a Action) (State, error) {
	s.mu.Lock()
	next := Reduce(s.state, a)
	s.state = next
	s.touched = true
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if err := s.persist(ctx, next, seq); err != nil {
		s.logger.Error("failed to persist state",
			"method", "Dispatch",
			"action", fmt.Sprintf("%T", a),
			slog.String("error", err.Error()),
		)
		return next, err
	}

	return next, nil
}

// Hydrate loads the persisted state. When the load does not finish within the hydrate timeout the
// defaults are kept and whatever arrives later is discarded. Actions dispatched while loading win
// over the loaded state as well.
func (s *Store) Hydrate(ctx context.Context) error {
	log := s.logger.With("method", "Hydrate", "profile", s.opts.Profile)

	done := make(chan error, 1)
	go func() {
		done <- s.load(ctx)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("failed to hydrate state, using defaults", slog.String("error", err.Error()))
		}
		return err
	case <-s.opts.Clock.After(s.opts.HydrateTimeout):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hydration == hydrationDone {
		return nil
	}

	s.hydration = hydrationFailed
	log.Warn("state hydration timed out, using defaults")

	return ErrHydrationTimeout
}

func (s *Store) load(ctx context.Context) error {
	record, err := s.repo.GetState(ctx, s.opts.Profile)
	if errors.Is(err, models.ErrNotFound) {
		err = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hydration != hydrationPending {
		s.logger.Info("discarding late state load", "method", "load", "profile", s.opts.Profile)
		return nil
	}

	if err != nil {
		s.hydration = hydrationFailed
		return err
	}

	s.hydration = hydrationDone
	if record.Blob == nil || s.touched {
		return nil
	}

	if record.Version != StateVersion {
		s.logger.Warn("ignoring state with unknown version", "method", "load", "version", record.Version)
		return nil
	}

	var st State
	if err := json.Unmarshal(record.Blob, &st); err != nil {
		s.logger.Warn("ignoring malformed state", "method", "load", slog.String("error", err.Error()))
		return nil
	}
	st.Version = StateVersion
	if st.Page == "" {
		st.Page = models.PageUpload
	}

	s.state = st

	return nil
}

// persist writes snapshots in dispatch order. A snapshot older than the last written one is skipped.
func (s *Store) persist(ctx context.Context, st State, seq uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if seq <= s.lastSaved {
		return nil
	}

	blob, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := s.repo.SaveState(ctx, db.StateRecord{
		Profile: s.opts.Profile,
		Version: StateVersion,
		Blob:    blob,
	}); err != nil {
		return err
	}

	s.lastSaved = seq

	return nil
}

func New(repo repository, opts Options, logger *slog.Logger) *Store {
	if opts.Profile == "" {
		opts.Profile = "default"
	}
	if opts.HydrateTimeout <= 0 {
		opts.HydrateTimeout = DefaultHydrateTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &Store{
		state:  Default(),
		repo:   repo,
		opts:   opts,
		logger: logger,
	}
}
