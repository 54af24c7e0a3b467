package tonclient

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	pContract "github.com/xssnick/tonutils-storage-provider/pkg/contract"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	getProvidersRetries = 5
	retries             = 20
	singleQueryTimeout  = 5 * time.Second
	maxPageSize         = 16
)

type client struct {
	api    ton.APIClientWrapped
	logger *slog.Logger
}

type Client interface {
	GetProvidersInfo(ctx context.Context, addrs []string) (contractsProviders []StorageContractProviders, err error)
	Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (models.TxPage, error)
	API() ton.APIClientWrapped
}

func (c *client) API() ton.APIClientWrapped {
	return c.api
}

func (c *client) GetProvidersInfo(ctx context.Context, addrs []string) (contractsProviders []StorageContractProviders, err error) {
	log := c.logger.With("method", "GetProvidersInfo")
	block, err := c.api.GetMasterchainInfo(ctx)
	if err != nil {
		err = fmt.Errorf("get masterchain info err: %w", err)
		return
	}

	contractsProviders = make([]StorageContractProviders, 0, len(addrs))
	for _, a := range addrs {
		addr, err := utils.ParseAnyAddr(a)
		if err != nil {
			log.Error("invalid address", slog.String("address", a), slog.String("error", err.Error()))
			continue
		}

		var info []pContract.ProviderDataV1
		var coins tlb.Coins
		err = utils.TryNTimes(func() error {
			var cErr error
			info, coins, cErr = pContract.GetProvidersV1(ctx, c.api, block, addr)
			return cErr
		}, getProvidersRetries)
		if err != nil {
			log.Error("get providers info", slog.String("address", a), slog.String("error", err.Error()))
			continue
		}

		providers := make([]Provider, 0, len(info))
		for _, p := range info {
			providers = append(providers, Provider{
				Key:           hex.EncodeToString(p.Key),
				LastProofTime: p.LastProofAt,
				RatePerMBDay:  p.RatePerMB.Nano().Uint64(),
				MaxSpan:       p.MaxSpan,
			})
		}

		contractsProviders = append(contractsProviders, StorageContractProviders{
			Address:   a,
			Balance:   coins.Nano().Uint64(),
			Providers: providers,
		})
	}

	return
}

// Transactions lists account history through the liteserver, newest first. The cursor is the
// (lt, hash) of the first transaction to return, so unlike the indexer it is inclusive.
func (c *client) Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (page models.TxPage, err error) {
	log := c.logger.With("method", "Transactions", "account", account)

	addr, err := utils.ParseAnyAddr(account)
	if err != nil {
		err = models.ErrInvalidAddress
		return
	}

	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	lt := cursor.LT
	var hash []byte
	if cursor.IsZero() {
		block, bErr := c.api.CurrentMasterchainInfo(ctx)
		if bErr != nil {
			err = fmt.Errorf("get masterchain info err: %w", bErr)
			return
		}

		acc, aErr := c.api.GetAccount(ctx, block, addr)
		if aErr != nil {
			err = fmt.Errorf("get account err: %w", aErr)
			return
		}

		if acc.LastTxLT == 0 {
			page.End = true
			return
		}

		lt, hash = acc.LastTxLT, acc.LastTxHash
	} else {
		if hash, err = hex.DecodeString(cursor.Hash); err != nil {
			err = fmt.Errorf("invalid cursor hash: %w", err)
			return
		}
	}

	list, err := c.api.ListTransactions(ctx, addr, uint32(limit), lt, hash)
	if err != nil {
		if errors.Is(err, ton.ErrNoTransactionsWereFound) {
			err = nil
			page.End = true
			return
		}

		err = fmt.Errorf("list transactions err: %w", err)
		return
	}

	// liteserver returns the oldest transaction first
	page.Transactions = make([]models.ChainTx, 0, len(list))
	for i := len(list) - 1; i >= 0; i-- {
		tx, cErr := convertTransaction(list[i])
		if cErr != nil {
			log.Warn("failed to parse transaction messages", slog.Uint64("lt", list[i].LT), slog.String("error", cErr.Error()))
		}
		page.Transactions = append(page.Transactions, tx)
	}

	if len(list) == 0 {
		page.End = true
		return
	}

	oldest := list[0]
	if oldest.PrevTxLT == 0 || len(list) < limit {
		page.End = true
		return
	}

	page.Next = models.PageCursor{
		LT:   oldest.PrevTxLT,
		Hash: hex.EncodeToString(oldest.PrevTxHash),
	}

	return
}

func convertTransaction(t *tlb.Transaction) (tx models.ChainTx, err error) {
	tx.Hash = hex.EncodeToString(t.Hash)
	tx.LT = t.LT
	tx.Now = int64(t.Now)

	if t.IO.Out == nil {
		return
	}

	msgs, err := t.IO.Out.ToSlice()
	if err != nil {
		return
	}

	for _, m := range msgs {
		if m.MsgType != tlb.MsgTypeInternal {
			continue
		}

		tx.Out = append(tx.Out, convertMessage(m.AsInternal()))
	}

	return
}

func convertMessage(m *tlb.InternalMessage) models.OutMsg {
	out := models.OutMsg{
		Amount:    m.Amount.Nano().Uint64(),
		CreatedAt: int64(m.CreatedAt),
	}

	if m.SrcAddr != nil {
		out.Source = m.SrcAddr.StringRaw()
	}
	if m.DstAddr != nil {
		out.Destination = m.DstAddr.StringRaw()
	}

	if m.Body != nil {
		s := m.Body.BeginParse()
		if s.BitsLeft() >= 32 {
			if op, err := s.LoadUInt(32); err == nil {
				out.Op, out.HasOp = uint32(op), true
			}
		}
	}

	return out
}

func NewClient(ctx context.Context, configUrl string, logger *slog.Logger) (Client, error) {
	clientPool := liteclient.NewConnectionPool()

	err := clientPool.AddConnectionsFromConfigUrl(ctx, configUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to add liteserver connections: %w", err)
	}

	return &client{
		api:    ton.NewAPIClient(clientPool).WithTimeout(singleQueryTimeout).WithRetry(retries),
		logger: logger,
	}, nil
}
