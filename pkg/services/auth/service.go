package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/store"
	"mytonstorage-dashboard/pkg/utils"
)

type remote interface {
	ProofPayload(ctx context.Context) (string, error)
	Login(ctx context.Context, info v1.LoginInfo) error
	Logout()
	HasSession() bool
}

type bridge interface {
	Address() string
	Connected() bool
	Connect()
	SignProof(domain, payload string) (v1.LoginInfo, error)
	Disconnect()
}

type stateStore interface {
	Dispatch(ctx context.Context, a store.Action) (store.State, error)
}

// accountWatcher follows the connected account, the contracts scanner is one.
type accountWatcher interface {
	Account() string
	Reset(account string)
}

type Status struct {
	Connected  bool   `json:"connected"`
	Authorized bool   `json:"authorized"`
	Address    string `json:"address,omitempty"`
}

type Auth interface {
	Connect(ctx context.Context) (Status, error)
	Disconnect(ctx context.Context) error
	Invalidate()
	Status() Status
	Address() string
}

type service struct {
	mu      sync.Mutex
	remote  remote
	bridge  bridge
	store   stateStore
	watcher accountWatcher
	domain  string
	logger  *slog.Logger
}

// Connect proves wallet ownership to the backend and opens a session for the wallet account.
func (s *service) Connect(ctx context.Context) (status Status, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bridge.Connect()
	addr := s.bridge.Address()

	logger := s.logger.With(
		slog.String("method", "Connect"),
		slog.String("address", addr),
	)

	payload, err := s.remote.ProofPayload(ctx)
	if err != nil {
		logger.Error("failed to get proof payload", slog.String("error", err.Error()))
		err = models.WrapAppError(models.ServiceUnavailableCode, "backend is unavailable", err)
		return s.status(), err
	}

	info, err := s.bridge.SignProof(s.domain, payload)
	if err != nil {
		logger.Error("failed to sign proof", slog.String("error", err.Error()))
		return s.status(), err
	}

	if err = s.remote.Login(ctx, info); err != nil {
		logger.Error("failed to login", slog.String("error", err.Error()))
		if errors.Is(err, models.ErrUnauthorized) {
			err = models.NewAppError(models.UnauthorizedErrorCode, "proof was rejected")
		}
		return s.status(), err
	}

	if _, sErr := s.store.Dispatch(ctx, store.ConnectWallet{Address: addr}); sErr != nil {
		logger.Warn("failed to persist wallet", slog.String("error", sErr.Error()))
	}

	if s.watcher != nil && !utils.SameAddress(s.watcher.Account(), addr) {
		s.watcher.Reset(addr)
	}

	logger.Info("wallet connected")

	return s.status(), nil
}

// Disconnect closes the backend session and forgets everything bound to the account.
func (s *service) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.disconnect(ctx); err != nil {
		s.logger.Warn("failed to persist disconnect", "method", "Disconnect", slog.String("error", err.Error()))
		return err
	}

	return nil
}

// Invalidate handles a 401 from the backend: the wallet is disconnected and the account state reset.
func (s *service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Warn("backend session is no longer valid", "method", "Invalidate")

	if err := s.disconnect(context.Background()); err != nil {
		s.logger.Warn("failed to persist disconnect", "method", "Invalidate", slog.String("error", err.Error()))
	}
}

// disconnect expects s.mu to be held.
func (s *service) disconnect(ctx context.Context) error {
	s.remote.Logout()
	s.bridge.Disconnect()

	if s.watcher != nil {
		s.watcher.Reset("")
	}

	_, err := s.store.Dispatch(ctx, store.DisconnectWallet{})

	return err
}

func (s *service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.status()
}

// Address is the wallet address while a backend session is open, empty otherwise.
func (s *service) Address() string {
	st := s.Status()
	if !st.Connected || !st.Authorized {
		return ""
	}

	return st.Address
}

func (s *service) status() Status {
	st := Status{
		Connected:  s.bridge.Connected(),
		Authorized: s.remote.HasSession(),
	}
	if st.Connected {
		st.Address = s.bridge.Address()
	}

	return st
}

func New(remote remote, bridge bridge, store stateStore, watcher accountWatcher, domain string, logger *slog.Logger) Auth {
	return &service{
		remote:  remote,
		bridge:  bridge,
		store:   store,
		watcher: watcher,
		domain:  domain,
		logger:  logger,
	}
}
