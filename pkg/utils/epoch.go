package utils

import "sync/atomic"

// Epoch hands out monotonically increasing tokens. A holder checks Current after every await and
// drops its result once a newer token was issued.
type Epoch struct {
	n atomic.Uint64
}

func (e *Epoch) Next() uint64 {
	return e.n.Add(1)
}

func (e *Epoch) Current(token uint64) bool {
	return e.n.Load() == token
}
