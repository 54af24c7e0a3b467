package toncenter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xssnick/tonutils-go/tvm/cell"
	"golang.org/x/time/rate"

	"mytonstorage-dashboard/pkg/models"
)

const maxPageSize = 256

type client struct {
	base    string
	apiKey  string
	limiter *rate.Limiter
	client  http.Client
}

type Client interface {
	Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (models.TxPage, error)
}

type messageDTO struct {
	Source         string  `json:"source"`
	Destination    string  `json:"destination"`
	Value          string  `json:"value"`
	CreatedAt      string  `json:"created_at"`
	Opcode         *string `json:"opcode"`
	MessageContent *struct {
		Body string `json:"body"`
	} `json:"message_content"`
}

type transactionDTO struct {
	Hash    string       `json:"hash"`
	LT      string       `json:"lt"`
	Now     int64        `json:"now"`
	OutMsgs []messageDTO `json:"out_msgs"`
}

// Transactions returns up to limit transactions of account strictly older than cursor.LT,
// newest first. A zero cursor starts from the latest transaction.
func (c *client) Transactions(ctx context.Context, account string, cursor models.PageCursor, limit int) (page models.TxPage, err error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}

	q := url.Values{}
	q.Set("account", account)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")
	q.Set("sort", "desc")
	if cursor.LT > 0 {
		q.Set("end_lt", strconv.FormatUint(cursor.LT-1, 10))
	}

	var res struct {
		Transactions []transactionDTO `json:"transactions"`
	}
	if err = c.doRequest(ctx, "/api/v3/transactions?"+q.Encode(), &res); err != nil {
		err = fmt.Errorf("failed to do request: %w", err)
		return
	}

	page.Transactions = make([]models.ChainTx, 0, len(res.Transactions))
	for _, t := range res.Transactions {
		tx, pErr := convertTransaction(t)
		if pErr != nil {
			err = fmt.Errorf("failed to parse transaction %s: %w", t.Hash, pErr)
			return
		}
		page.Transactions = append(page.Transactions, tx)
	}

	if len(page.Transactions) < limit {
		page.End = true
	}

	if len(page.Transactions) > 0 {
		page.Next = models.PageCursor{LT: page.MinLT()}
	}

	return
}

func convertTransaction(t transactionDTO) (tx models.ChainTx, err error) {
	tx.Hash = t.Hash
	tx.Now = t.Now
	if tx.LT, err = strconv.ParseUint(t.LT, 10, 64); err != nil {
		return tx, fmt.Errorf("invalid lt %q: %w", t.LT, err)
	}

	for _, m := range t.OutMsgs {
		out := models.OutMsg{
			Source:      m.Source,
			Destination: m.Destination,
		}

		if m.Value != "" {
			out.Amount, _ = strconv.ParseUint(m.Value, 10, 64)
		}
		if m.CreatedAt != "" {
			out.CreatedAt, _ = strconv.ParseInt(m.CreatedAt, 10, 64)
		}

		switch {
		case m.Opcode != nil && *m.Opcode != "":
			op, oErr := parseOpcode(*m.Opcode)
			if oErr == nil {
				out.Op, out.HasOp = op, true
			}
		case m.MessageContent != nil && m.MessageContent.Body != "":
			if op, ok := bodyOpcode(m.MessageContent.Body); ok {
				out.Op, out.HasOp = op, true
			}
		}

		tx.Out = append(tx.Out, out)
	}

	return tx, nil
}

func parseOpcode(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}

	v, err := strconv.ParseUint(s, base, 32)
	if err != nil {
		// negative signed opcodes are reported as plain ints
		iv, iErr := strconv.ParseInt(s, base, 32)
		if iErr != nil {
			return 0, err
		}
		return uint32(iv), nil
	}

	return uint32(v), nil
}

func bodyOpcode(b64 string) (uint32, bool) {
	boc, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return 0, false
	}

	c, err := cell.FromBOC(boc)
	if err != nil {
		return 0, false
	}

	s := c.BeginParse()
	if s.BitsLeft() < 32 {
		return 0, false
	}

	op, err := s.LoadUInt(32)
	if err != nil {
		return 0, false
	}

	return uint32(op), true
}

func (c *client) doRequest(ctx context.Context, path string, resp any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if c.apiKey != "" {
		r.Header.Set("X-API-Key", c.apiKey)
	}

	res, err := c.client.Do(r)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(res.Body).Decode(&e)
		return fmt.Errorf("status code is %d, error: %s", res.StatusCode, e.Error)
	}

	if err = json.NewDecoder(res.Body).Decode(resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// NewClient creates a toncenter v3 client. rps limits outgoing requests, zero disables the limit.
func NewClient(base, apiKey string, rps float64, timeout time.Duration) Client {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &client{
		base:    strings.TrimRight(base, "/"),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, 1),
		client:  http.Client{Timeout: timeout},
	}
}
