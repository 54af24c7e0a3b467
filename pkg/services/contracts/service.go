package contracts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/tvm/cell"

	tonclient "mytonstorage-dashboard/pkg/clients/ton"
	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/services/dispatch"
	"mytonstorage-dashboard/pkg/utils"
)

const opWithdraw = 0x61fff683

// Builder prepares contract management messages. The backend client is one, localBuilder builds
// the simple ones without a round trip.
type Builder interface {
	Topup(ctx context.Context, req v1.TopupRequest) (v1.Transaction, error)
	Withdraw(ctx context.Context, req v1.WithdrawRequest) (v1.Transaction, error)
	UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (v1.Transaction, error)
}

type bags interface {
	UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error)
	MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error
	RemoveBag(ctx context.Context, bagID string) error
}

type chain interface {
	GetProvidersInfo(ctx context.Context, addrs []string) ([]tonclient.StorageContractProviders, error)
}

type service struct {
	builder        Builder
	bags           bags
	chain          chain
	sender         dispatch.Dispatcher
	onUnauthorized func()
	logger         *slog.Logger
}

type Contracts interface {
	TopupBalance(ctx context.Context, req v1.TopupRequest) (dispatch.Result, error)
	WithdrawBalance(ctx context.Context, req v1.WithdrawRequest) (dispatch.Result, error)
	UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (dispatch.Result, error)
	ContractInfo(ctx context.Context, address string) (tonclient.StorageContractProviders, error)

	UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error)
	RemoveBag(ctx context.Context, bagID string) error
	MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error
}

func (s *service) TopupBalance(ctx context.Context, req v1.TopupRequest) (res dispatch.Result, err error) {
	log := s.logger.With("method", "TopupBalance", "contract_address", req.ContractAddress, "amount", req.Amount)

	if _, err = utils.ParseAnyAddr(req.ContractAddress); err != nil {
		err = models.ErrInvalidAddress
		return
	}

	if req.Amount == 0 {
		err = models.NewAppError(models.BadRequestErrorCode, "amount must be positive")
		return
	}

	tx, err := s.builder.Topup(ctx, req)
	if err != nil {
		log.Error("failed to build topup message", slog.String("error", err.Error()))
		err = s.check(err)
		return
	}

	return s.sender.Send(ctx, tx)
}

func (s *service) WithdrawBalance(ctx context.Context, req v1.WithdrawRequest) (res dispatch.Result, err error) {
	log := s.logger.With("method", "WithdrawBalance", "contract_address", req.ContractAddress)

	if _, err = utils.ParseAnyAddr(req.ContractAddress); err != nil {
		err = models.ErrInvalidAddress
		return
	}

	tx, err := s.builder.Withdraw(ctx, req)
	if err != nil {
		log.Error("failed to build withdraw message", slog.String("error", err.Error()))
		err = s.check(err)
		return
	}

	return s.sender.Send(ctx, tx)
}

func (s *service) UpdateProviders(ctx context.Context, req v1.UpdateProvidersRequest) (res dispatch.Result, err error) {
	log := s.logger.With("method", "UpdateProviders", "contract_address", req.ContractAddress, "providers", len(req.Providers))

	if _, err = utils.ParseAnyAddr(req.ContractAddress); err != nil {
		err = models.ErrInvalidAddress
		return
	}

	if len(req.Providers) == 0 {
		err = models.ErrNoProviders
		return
	}

	if req.Span == 0 {
		err = models.ErrInvalidPeriod
		return
	}

	tx, err := s.builder.UpdateProviders(ctx, req)
	if err != nil {
		log.Error("failed to build update message", slog.String("error", err.Error()))
		err = s.check(err)
		return
	}

	return s.sender.Send(ctx, tx)
}

func (s *service) ContractInfo(ctx context.Context, address string) (info tonclient.StorageContractProviders, err error) {
	log := s.logger.With("method", "ContractInfo", "contract_address", address)

	if _, err = utils.ParseAnyAddr(address); err != nil {
		err = models.ErrInvalidAddress
		return
	}

	list, err := s.chain.GetProvidersInfo(ctx, []string{address})
	if err != nil {
		log.Error("failed to get contract info", slog.String("error", err.Error()))
		err = models.WrapAppError(models.ServiceUnavailableCode, "failed to read contract", err)
		return
	}

	if len(list) == 0 {
		err = models.ErrNotFound
		return
	}

	return list[0], nil
}

func (s *service) UnpaidBags(ctx context.Context) ([]v1.UserBagInfo, error) {
	list, err := s.bags.UnpaidBags(ctx)
	if err != nil {
		s.logger.Error("failed to get unpaid bags", "method", "UnpaidBags", slog.String("error", err.Error()))
		return nil, s.check(err)
	}

	if list == nil {
		list = []v1.UserBagInfo{}
	}

	return list, nil
}

func (s *service) RemoveBag(ctx context.Context, bagID string) error {
	bagID = utils.NormalizeBagID(bagID)
	if !utils.ValidateBagID(bagID) {
		return models.ErrInvalidBagID
	}

	if err := s.bags.RemoveBag(ctx, bagID); err != nil {
		s.logger.Error("failed to remove bag", "method", "RemoveBag", "bag_id", bagID, slog.String("error", err.Error()))
		return s.check(err)
	}

	return nil
}

func (s *service) MarkBagAsPaid(ctx context.Context, bagID, storageContract string) error {
	bagID = utils.NormalizeBagID(bagID)
	if !utils.ValidateBagID(bagID) {
		return models.ErrInvalidBagID
	}

	if _, err := utils.ParseAnyAddr(storageContract); err != nil {
		return models.ErrInvalidAddress
	}

	if err := s.bags.MarkBagAsPaid(ctx, bagID, storageContract); err != nil {
		s.logger.Error("failed to mark bag as paid", "method", "MarkBagAsPaid", "bag_id", bagID, slog.String("error", err.Error()))
		return s.check(err)
	}

	return nil
}

func (s *service) check(err error) error {
	if errors.Is(err, models.ErrUnauthorized) && s.onUnauthorized != nil {
		s.onUnauthorized()
	}

	return err
}

type localBuilder struct {
	Builder
}

func (b *localBuilder) Topup(_ context.Context, req v1.TopupRequest) (v1.Transaction, error) {
	addr, err := utils.ParseAnyAddr(req.ContractAddress)
	if err != nil {
		return v1.Transaction{}, models.ErrInvalidAddress
	}

	return v1.Transaction{
		Address: addr.String(),
		Amount:  req.Amount,
	}, nil
}

func (b *localBuilder) Withdraw(_ context.Context, req v1.WithdrawRequest) (v1.Transaction, error) {
	addr, err := utils.ParseAnyAddr(req.ContractAddress)
	if err != nil {
		return v1.Transaction{}, models.ErrInvalidAddress
	}

	body := cell.BeginCell().MustStoreUInt(opWithdraw, 32).MustStoreUInt(0, 64).EndCell().ToBOC()

	return v1.Transaction{
		Body:    base64.StdEncoding.EncodeToString(body),
		Address: addr.String(),
		Amount:  tlb.MustFromTON("0.03").Nano().Uint64(),
	}, nil
}

// NewLocalBuilder builds top-up and withdraw messages locally and leaves provider updates, which
// need fresh rates, to remote.
func NewLocalBuilder(remote Builder) Builder {
	return &localBuilder{Builder: remote}
}

func NewService(builder Builder, bags bags, chain chain, sender dispatch.Dispatcher, onUnauthorized func(), logger *slog.Logger) Contracts {
	return &service{
		builder:        builder,
		bags:           bags,
		chain:          chain,
		sender:         sender,
		onUnauthorized: onUnauthorized,
		logger:         logger,
	}
}

// ParseOpCodes reads a comma separated list of op codes, hex (0x prefixed) or decimal.
func ParseOpCodes(list []string) ([]uint32, error) {
	var ops []uint32
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}

		op, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid op code %q: %w", s, err)
		}
		ops = append(ops, uint32(op))
	}

	return ops, nil
}
