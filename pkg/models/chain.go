package models

// ChainTx is an account transaction as returned by an indexer, reduced to what the dashboard reads.
type ChainTx struct {
	Hash string   `json:"hash"`
	LT   uint64   `json:"lt"`
	Now  int64    `json:"now"`
	Out  []OutMsg `json:"out"`
}

type OutMsg struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Op          uint32 `json:"op"`
	HasOp       bool   `json:"has_op"`
	Amount      uint64 `json:"amount"`
	CreatedAt   int64  `json:"created_at"`
}

// PageCursor addresses a position in an account history. Zero value means "newest".
type PageCursor struct {
	LT   uint64 `json:"lt"`
	Hash string `json:"hash,omitempty"`
}

func (c PageCursor) IsZero() bool {
	return c.LT == 0 && c.Hash == ""
}

// TxPage holds transactions newest first. Next points at the following (older) page.
type TxPage struct {
	Transactions []ChainTx
	Next         PageCursor
	End          bool
}

// MinLT is the lt of the oldest transaction on the page, zero for an empty page.
func (p TxPage) MinLT() uint64 {
	var m uint64
	for i, tx := range p.Transactions {
		if i == 0 || tx.LT < m {
			m = tx.LT
		}
	}

	return m
}
