package v1

// Wire types of the mytonstorage backend API.

type ProofPayload struct {
	Data string `json:"data"`
}

type ProofDomain struct {
	LengthBytes uint32 `json:"lengthBytes"`
	Value       string `json:"value"`
}

type TonProof struct {
	Timestamp int64       `json:"timestamp"`
	Domain    ProofDomain `json:"domain"`
	Signature []byte      `json:"signature"`
	Payload   string      `json:"payload"`
}

type LoginInfo struct {
	Address   string   `json:"address"`
	Proof     TonProof `json:"proof"`
	StateInit []byte   `json:"state_init"`
}

type UploadResponse struct {
	BagID string `json:"bag_id"`
}

type UserBagInfo struct {
	BagID           string `json:"bag_id"`
	UserAddress     string `json:"user_address"`
	StorageContract string `json:"storage_contract,omitempty"`
	Description     string `json:"description,omitempty"`
	Size            uint64 `json:"size,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

type PaidBagRequest struct {
	BagID           string `json:"bag_id"`
	StorageContract string `json:"storage_contract"`
}

type DetailsRequest struct {
	ContractsAddresses []string `json:"contracts_addresses"`
}

type BagInfoShort struct {
	ContractAddress string `json:"contract_address"`
	BagID           string `json:"bag_id"`
	Description     string `json:"description"`
	Size            uint64 `json:"size"`
}

type OffersRequest struct {
	BagID     string   `json:"bag_id"`
	BagSize   uint64   `json:"bag_size,omitempty"`
	Span      uint32   `json:"span"`
	Providers []string `json:"providers"`
}

type ProviderContractData struct {
	Key          string `json:"key"`
	MinBounty    string `json:"min_bounty"`
	MinSpan      uint64 `json:"min_span"`
	MaxSpan      uint64 `json:"max_span"`
	RatePerMBDay uint64 `json:"price_per_mb_day"`
}

type ProviderOffer struct {
	OfferSpan     uint64 `json:"offer_span"`
	PricePerDay   uint64 `json:"price_per_day"`
	PricePerProof uint64 `json:"price_per_proof"`
	PricePerMB    uint64 `json:"price_per_mb"`

	Provider ProviderContractData `json:"provider"`
}

type ProviderDecline struct {
	ProviderKey string `json:"provider_key"`
	Reason      string `json:"reason"`
}

type ProviderRatesResponse struct {
	Offers   []ProviderOffer   `json:"offers"`
	Declines []ProviderDecline `json:"declines,omitempty"`
}

type InitStorageContractRequest struct {
	BagID         string   `json:"bag_id"`
	OwnerAddress  string   `json:"owner_address"`
	Amount        uint64   `json:"amount"`
	Span          uint32   `json:"span"`
	ProvidersKeys []string `json:"providers_keys"`
}

type TopupRequest struct {
	ContractAddress string `json:"contract_address"`
	Amount          uint64 `json:"amount"`
}

type WithdrawRequest struct {
	ContractAddress string `json:"contract_address"`
}

type UpdateProvidersRequest struct {
	ContractAddress string   `json:"contract_address"`
	Amount          uint64   `json:"amount"`
	BagSize         uint64   `json:"bag_size"`
	Span            uint32   `json:"span"`
	Providers       []string `json:"providers"`
}

// Transaction is a message prepared by the backend, ready to be signed and sent by the wallet.
type Transaction struct {
	Body      string `json:"body"`
	StateInit string `json:"state_init"`
	Address   string `json:"address"`
	Amount    uint64 `json:"amount"`
}
