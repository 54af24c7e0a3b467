package tonclient

import (
	"time"
)

type StorageContractProviders struct {
	Address   string     `json:"address"`
	Balance   uint64     `json:"balance"`
	Providers []Provider `json:"providers"`
}

type Provider struct {
	Key           string    `json:"key"`
	LastProofTime time.Time `json:"last_proof_time"`
	RatePerMBDay  uint64    `json:"rate_per_mb_day"`
	MaxSpan       uint32    `json:"max_span"`
}
