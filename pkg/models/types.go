package models

import (
	"strings"

	v1 "mytonstorage-dashboard/pkg/models/api/v1"
)

const BagIDLength = 64

type Location struct {
	Country    string `json:"country"`
	CountryISO string `json:"country_iso"`
	City       string `json:"city"`
}

// Provider is a storage provider as listed by the provider directory. Spans are in seconds.
type Provider struct {
	Pubkey       string   `json:"pubkey"`
	Address      string   `json:"address"`
	Location     Location `json:"location"`
	RatePerMBDay uint64   `json:"price"`
	Rating       float64  `json:"rating"`
	Uptime       float64  `json:"uptime"`
	MinSpan      uint32   `json:"min_span"`
	MaxSpan      uint32   `json:"max_span"`
}

func (p Provider) Key() string {
	return strings.ToLower(p.Pubkey)
}

func (p Provider) CoversSpan(span uint32) bool {
	return p.MinSpan <= span && span <= p.MaxSpan
}

type ProviderOffer = v1.ProviderOffer

type ProviderDecline = v1.ProviderDecline

// ContractTx is a storage contract deployment found in the wallet history.
type ContractTx struct {
	Address   string `json:"address"`
	CreatedAt int64  `json:"created_at"`
	LT        uint64 `json:"lt"`
}

type ContractStatus string

const (
	ContractStatusUnknown ContractStatus = ""
	ContractStatusActive  ContractStatus = "active"
	ContractStatusWarning ContractStatus = "warning"
	ContractStatusFailed  ContractStatus = "failed"
)

type ProviderCheck struct {
	ProviderKey string `json:"provider_key"`
	Reason      string `json:"reason"`
}

// UploadFile is a storage contract as shown in the contracts list.
type UploadFile struct {
	ContractAddress string          `json:"contract_address"`
	CreatedAt       int64           `json:"created_at"`
	LT              uint64          `json:"lt"`
	BagID           string          `json:"bag_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Size            uint64          `json:"size,omitempty"`
	Status          ContractStatus  `json:"status,omitempty"`
	Checks          []ProviderCheck `json:"checks,omitempty"`
}

// Cursor tracks both scan directions. LT and Hash point at the next (older) page, HeadLT is the
// newest lt already seen.
type Cursor struct {
	LT     uint64 `json:"lt"`
	Hash   string `json:"hash,omitempty"`
	HeadLT uint64 `json:"head_lt"`
	End    bool   `json:"end"`
}

type FileInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size uint64 `json:"size"`
}

type PaymentStatus string

const (
	PaymentStatusNone    PaymentStatus = ""
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type SelectedProvider struct {
	Provider Provider       `json:"provider"`
	Offer    *ProviderOffer `json:"offer,omitempty"`
}

// WidgetData is everything the upload wizard accumulated so far. The wizard step is derived from it.
type WidgetData struct {
	SelectedFiles          []FileInfo         `json:"selected_files"`
	Description            string             `json:"description"`
	NewBagID               string             `json:"new_bag_id"`
	NewBagSize             uint64             `json:"new_bag_size"`
	SelectedProviders      []SelectedProvider `json:"selected_providers"`
	Declines               []ProviderDecline  `json:"declines,omitempty"`
	ProofPeriod            uint32             `json:"proof_period"`
	StorageDays            uint32             `json:"storage_days"`
	Amount                 uint64             `json:"amount"`
	StorageContractAddress string             `json:"storage_contract_address"`
	PaymentStatus          PaymentStatus      `json:"payment_status"`
	PaymentError           string             `json:"payment_error,omitempty"`
}

type Page string

const (
	PageUpload    Page = "upload"
	PageContracts Page = "contracts"
	PageUnpaid    Page = "unpaid"
)
