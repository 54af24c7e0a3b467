package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	DefaultTimeout      = 3 * time.Minute
	DefaultPollInterval = 5 * time.Second

	pollPageSize = 16
)

type Path string

const (
	PathBridge Path = "bridge"
	PathPoller Path = "poller"
)

type Result struct {
	Path   Path   `json:"path"`
	TxHash string `json:"tx_hash,omitempty"`
}

type bridge interface {
	Address() string
	SendTransaction(ctx context.Context, tx v1.Transaction) error
}

type indexer interface {
	Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (models.TxPage, error)
}

type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Clock        clock.Clock
}

type service struct {
	bridge  bridge
	indexer indexer
	opts    Options
	logger  *slog.Logger
}

type Dispatcher interface {
	Send(ctx context.Context, tx v1.Transaction) (Result, error)
}

type outcome struct {
	res Result
	err error
}

// Send delivers tx through the wallet and, at the same time, watches the wallet history for an
// outgoing message to tx.Address. The first path to settle decides the result; the other one is
// cancelled and whatever it reports later is dropped.
func (s *service) Send(ctx context.Context, tx v1.Transaction) (Result, error) {
	log := s.logger.With("method", "Send", "address", tx.Address, "amount", tx.Amount)

	if _, err := utils.ParseAnyAddr(tx.Address); err != nil {
		return Result{}, models.ErrInvalidAddress
	}

	from := s.bridge.Address()
	if from == "" {
		return Result{}, models.ErrNotConnected
	}

	start := s.opts.Clock.Now().Unix()

	ctx, cancel := s.opts.Clock.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	settled := make(chan outcome, 2)

	go func() {
		err := s.bridge.SendTransaction(ctx, tx)
		settled <- outcome{res: Result{Path: PathBridge}, err: err}
	}()

	go func() {
		if hash, ok := s.poll(ctx, from, tx.Address, start); ok {
			settled <- outcome{res: Result{Path: PathPoller, TxHash: hash}}
		}
	}()

	select {
	case o := <-settled:
		if o.err != nil && ctx.Err() != nil {
			log.Error("transaction confirmation timed out", slog.String("error", o.err.Error()))
			return Result{}, models.ErrConfirmationTimeout
		}

		if o.err != nil {
			log.Error("transaction failed", slog.String("path", string(o.res.Path)), slog.String("error", o.err.Error()))
			if errors.Is(o.err, models.ErrNotConnected) || errors.Is(o.err, models.ErrPaymentRejected) {
				return o.res, o.err
			}
			return o.res, fmt.Errorf("%w: %s", models.ErrPaymentRejected, o.err.Error())
		}

		log.Info("transaction confirmed", slog.String("path", string(o.res.Path)))
		return o.res, nil
	case <-ctx.Done():
		log.Error("transaction confirmation timed out")
		return Result{}, models.ErrConfirmationTimeout
	}
}

func (s *service) poll(ctx context.Context, from, to string, start int64) (string, bool) {
	log := s.logger.With("method", "poll", "from", from, "to", to)

	ticker := s.opts.Clock.Ticker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false
		case <-ticker.C:
		}

		page, err := s.indexer.Transactions(ctx, from, models.PageCursor{}, pollPageSize)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("failed to poll transactions", slog.String("error", err.Error()))
			}
			continue
		}

		if hash, ok := findOutgoing(page.Transactions, from, to, start); ok {
			return hash, true
		}
	}
}

func findOutgoing(txs []models.ChainTx, from, to string, start int64) (string, bool) {
	for _, tx := range txs {
		if tx.Now < start {
			continue
		}

		for _, m := range tx.Out {
			if m.Source != "" && !utils.SameAddress(m.Source, from) {
				continue
			}
			if utils.SameAddress(m.Destination, to) {
				return tx.Hash, true
			}
		}
	}

	return "", false
}

func NewService(bridge bridge, indexer indexer, opts Options, logger *slog.Logger) Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	return &service{
		bridge:  bridge,
		indexer: indexer,
		opts:    opts,
		logger:  logger,
	}
}
