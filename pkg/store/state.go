package store

import (
	"cmp"
	"slices"

	"mytonstorage-dashboard/pkg/models"
	v1 "mytonstorage-dashboard/pkg/models/api/v1"
	"mytonstorage-dashboard/pkg/utils"
)

const StateVersion = 1

// State is an immutable snapshot. Reduce returns a new one and never touches its input.
type State struct {
	Version       int                 `json:"version"`
	Page          models.Page         `json:"page"`
	Widget        models.WidgetData   `json:"widget_data"`
	Contracts     []models.UploadFile `json:"contracts"`
	Cursor        models.Cursor       `json:"cursor"`
	UnpaidBags    []v1.UserBagInfo    `json:"unpaid_bags,omitempty"`
	WalletAddress string              `json:"wallet_address"`
}

func Default() State {
	return State{
		Version: StateVersion,
		Page:    models.PageUpload,
	}
}

type Action interface {
	action()
}

type SetPage struct {
	Page models.Page
}

type SetWidget struct {
	Data models.WidgetData
}

// ConnectWallet switches the account. Account bound data is dropped when the address changes.
type ConnectWallet struct {
	Address string
}

type DisconnectWallet struct{}

// ReplaceContracts sets the whole list, used after the scanner is reset or restored.
type ReplaceContracts struct {
	Contracts []models.UploadFile
	Cursor    models.Cursor
}

// MergeContracts adds pages loaded by the scanner. Known contracts are updated in place.
type MergeContracts struct {
	Contracts []models.UploadFile
	Cursor    models.Cursor
}

type RemoveContract struct {
	Address string
}

// SetContractStatus records the result of probing the providers of one contract.
type SetContractStatus struct {
	Address string
	Status  models.ContractStatus
	Checks  []models.ProviderCheck
}

type SetUnpaidBags struct {
	Bags []v1.UserBagInfo
}

type ResetState struct{}

func (SetPage) action()           {}
func (SetWidget) action()         {}
func (ConnectWallet) action()     {}
func (DisconnectWallet) action()  {}
func (ReplaceContracts) action()  {}
func (MergeContracts) action()    {}
func (RemoveContract) action()    {}
func (SetContractStatus) action() {}
func (SetUnpaidBags) action()     {}
func (ResetState) action()        {}

func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case SetPage:
		s.Page = a.Page
	case SetWidget:
		s.Widget = a.Data
	case ConnectWallet:
		if !utils.SameAddress(s.WalletAddress, a.Address) {
			s.Widget = models.WidgetData{}
			s.Contracts = nil
			s.Cursor = models.Cursor{}
			s.UnpaidBags = nil
		}
		s.WalletAddress = a.Address
	case DisconnectWallet:
		page := s.Page
		s = Default()
		s.Page = page
	case ReplaceContracts:
		s.Contracts = sortContracts(slices.Clone(a.Contracts))
		s.Cursor = a.Cursor
	case MergeContracts:
		s.Contracts = mergeContracts(s.Contracts, a.Contracts)
		s.Cursor = a.Cursor
	case RemoveContract:
		s.Contracts = slices.DeleteFunc(slices.Clone(s.Contracts), func(f models.UploadFile) bool {
			return utils.SameAddress(f.ContractAddress, a.Address)
		})
	case SetContractStatus:
		s.Contracts = slices.Clone(s.Contracts)
		for i, c := range s.Contracts {
			if utils.SameAddress(c.ContractAddress, a.Address) {
				s.Contracts[i].Status = a.Status
				s.Contracts[i].Checks = slices.Clone(a.Checks)
			}
		}
	case SetUnpaidBags:
		s.UnpaidBags = slices.Clone(a.Bags)
	case ResetState:
		s = Default()
	}

	s.Version = StateVersion

	return s
}

func mergeContracts(current, incoming []models.UploadFile) []models.UploadFile {
	out := slices.Clone(current)
	for _, f := range incoming {
		i := slices.IndexFunc(out, func(c models.UploadFile) bool {
			return utils.SameAddress(c.ContractAddress, f.ContractAddress)
		})
		if i < 0 {
			out = append(out, f)
			continue
		}

		out[i] = mergeContract(out[i], f)
	}

	return sortContracts(out)
}

// mergeContract keeps details already known when the update carries none.
func mergeContract(old, upd models.UploadFile) models.UploadFile {
	if upd.BagID == "" {
		upd.BagID = old.BagID
		upd.Description = old.Description
		upd.Size = old.Size
	}
	if upd.Status == models.ContractStatusUnknown {
		upd.Status = old.Status
		upd.Checks = old.Checks
	}

	return upd
}

func sortContracts(list []models.UploadFile) []models.UploadFile {
	slices.SortStableFunc(list, func(a, b models.UploadFile) int {
		return cmp.Compare(b.LT, a.LT)
	})

	return list
}
