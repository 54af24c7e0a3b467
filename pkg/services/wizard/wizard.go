package wizard

import (
	"fmt"
	"slices"

	"mytonstorage-dashboard/pkg/models"
	"mytonstorage-dashboard/pkg/services/selection"
	"mytonstorage-dashboard/pkg/utils"
)

const (
	MaxTotalSize    = 4 << 30
	DefaultMaxFiles = 1000
	MinStorageDays  = 1
	MaxStorageDays  = 3650
)

// Limits bound what can be uploaded and for how long it can be stored.
type Limits struct {
	MaxTotalSize uint64
	MaxFiles     int
	MinDays      uint32
	MaxDays      uint32
}

func DefaultLimits() Limits {
	return Limits{
		MaxTotalSize: MaxTotalSize,
		MaxFiles:     DefaultMaxFiles,
		MinDays:      MinStorageDays,
		MaxDays:      MaxStorageDays,
	}
}

func (l Limits) Files(files []models.FileInfo) error {
	if len(files) == 0 {
		return models.ErrNoFiles
	}

	if l.MaxFiles > 0 && len(files) > l.MaxFiles {
		return models.ErrTooManyFiles
	}

	var total uint64
	for _, f := range files {
		total += f.Size
		if l.MaxTotalSize > 0 && total > l.MaxTotalSize {
			return models.ErrFileTooLarge
		}
	}

	return nil
}

func (l Limits) StorageDays(days uint32) error {
	if days < max(l.MinDays, 1) || (l.MaxDays > 0 && days > l.MaxDays) {
		return models.ErrInvalidPeriod
	}

	return nil
}

type Step int

const (
	StepFiles Step = iota + 1
	StepDescribe
	StepProviders
	StepPeriod
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepFiles:
		return "files"
	case StepDescribe:
		return "describe"
	case StepProviders:
		return "providers"
	case StepPeriod:
		return "period"
	case StepDone:
		return "done"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// DeriveStep computes the wizard step from the data alone. It is never stored.
func DeriveStep(d models.WidgetData) Step {
	if !utils.ValidateBagID(d.NewBagID) {
		if len(d.SelectedFiles) > 0 {
			return StepDescribe
		}
		return StepFiles
	}

	if len(d.SelectedProviders) == 0 {
		return StepProviders
	}

	if d.PaymentStatus == models.PaymentStatusSuccess {
		if _, err := utils.ParseAnyAddr(d.StorageContractAddress); err == nil {
			return StepDone
		}
	}

	return StepPeriod
}

// SelectFiles starts a new upload. Everything collected for a previous bag is dropped.
func SelectFiles(files []models.FileInfo, limits Limits) (models.WidgetData, error) {
	if err := limits.Files(files); err != nil {
		return models.WidgetData{}, err
	}

	return models.WidgetData{SelectedFiles: slices.Clone(files)}, nil
}

// SetBag records the uploaded (or resumed) bag and clears provider and payment data.
func SetBag(d models.WidgetData, bagID string, size uint64, description string) (models.WidgetData, error) {
	bagID = utils.NormalizeBagID(bagID)
	if !utils.ValidateBagID(bagID) {
		return d, models.ErrInvalidBagID
	}

	return models.WidgetData{
		SelectedFiles: slices.Clone(d.SelectedFiles),
		Description:   description,
		NewBagID:      bagID,
		NewBagSize:    size,
	}, nil
}

// SelectProviders stores providers that answered with an offer. Providers must share a proof span.
func SelectProviders(d models.WidgetData, selected []models.SelectedProvider, declines []models.ProviderDecline, proofPeriod uint32) (models.WidgetData, error) {
	if !utils.ValidateBagID(d.NewBagID) {
		return d, models.ErrInvalidBagID
	}

	providers := make([]models.Provider, 0, len(selected))
	for _, p := range selected {
		providers = append(providers, p.Provider)
	}

	if len(providers) > 0 {
		lo, hi, ok := selection.Intersection(providers)
		if !ok {
			return d, models.ErrSpanMismatch
		}
		if proofPeriod < lo || proofPeriod > hi {
			return d, models.ErrInvalidPeriod
		}
	}

	next := clearPayment(d)
	next.SelectedProviders = cloneSelected(selected)
	next.Declines = slices.Clone(declines)
	next.ProofPeriod = proofPeriod
	next.StorageDays = 0
	next.Amount = 0
	if len(selected) == 0 {
		next.ProofPeriod = 0
	}

	return next, nil
}

// ClearProviders goes back to provider selection.
func ClearProviders(d models.WidgetData) models.WidgetData {
	next := clearPayment(d)
	next.SelectedProviders = nil
	next.Declines = nil
	next.ProofPeriod = 0
	next.StorageDays = 0
	next.Amount = 0

	return next
}

// ChoosePeriod sets the storage duration and the amount to pay for it.
func ChoosePeriod(d models.WidgetData, days uint32, limits Limits, deployFee uint64) (models.WidgetData, error) {
	if len(d.SelectedProviders) == 0 {
		return d, models.ErrNoProviders
	}

	if err := limits.StorageDays(days); err != nil {
		return d, err
	}

	next := clearPayment(d)
	next.SelectedProviders = cloneSelected(d.SelectedProviders)
	next.StorageDays = days
	next.Amount = Price(next.SelectedProviders, days, deployFee)

	return next, nil
}

// SetPayment records the payment outcome. A pending or successful payment needs the contract address.
func SetPayment(d models.WidgetData, contractAddress string, status models.PaymentStatus, paymentErr string) (models.WidgetData, error) {
	if len(d.SelectedProviders) == 0 {
		return d, models.ErrNoProviders
	}

	if status != models.PaymentStatusNone && status != models.PaymentStatusFailed {
		if _, err := utils.ParseAnyAddr(contractAddress); err != nil {
			return d, models.ErrInvalidAddress
		}
	}

	next := d
	next.SelectedFiles = slices.Clone(d.SelectedFiles)
	next.SelectedProviders = cloneSelected(d.SelectedProviders)
	next.Declines = slices.Clone(d.Declines)
	next.StorageContractAddress = contractAddress
	next.PaymentStatus = status
	next.PaymentError = ""
	if status == models.PaymentStatusFailed {
		next.PaymentError = paymentErr
	}

	return next, nil
}

// Reset drops everything, the wizard starts over at file selection.
func Reset() models.WidgetData {
	return models.WidgetData{}
}

// Price is the sum of daily offer prices times days plus a deploy fee per provider.
func Price(selected []models.SelectedProvider, days uint32, deployFee uint64) uint64 {
	var total uint64
	for _, p := range selected {
		if p.Offer != nil {
			total += p.Offer.PricePerDay * uint64(days)
		}
		total += deployFee
	}

	return total
}

// DefaultProofPeriod picks preferred if every provider accepts it, otherwise the closest span
// they all accept. ok is false when the providers share no span.
func DefaultProofPeriod(providers []models.Provider, preferred uint32) (uint32, bool) {
	lo, hi, ok := selection.Intersection(providers)
	if !ok {
		return 0, false
	}

	return min(max(preferred, lo), hi), true
}

func clearPayment(d models.WidgetData) models.WidgetData {
	next := d
	next.SelectedFiles = slices.Clone(d.SelectedFiles)
	next.SelectedProviders = cloneSelected(d.SelectedProviders)
	next.Declines = slices.Clone(d.Declines)
	next.StorageContractAddress = ""
	next.PaymentStatus = models.PaymentStatusNone
	next.PaymentError = ""

	return next
}

func cloneSelected(in []models.SelectedProvider) []models.SelectedProvider {
	if in == nil {
		return nil
	}

	out := make([]models.SelectedProvider, len(in))
	for i, p := range in {
		out[i] = p
		if p.Offer != nil {
			o := *p.Offer
			out[i].Offer = &o
		}
	}

	return out
}
