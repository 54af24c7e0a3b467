package utils

import (
	"bytes"
	"strings"

	"github.com/xssnick/tonutils-go/address"
)

// ParseAnyAddr accepts both user-friendly (base64) and raw ("0:hex") address forms.
func ParseAnyAddr(s string) (*address.Address, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, ":") {
		return address.ParseRawAddr(s)
	}

	return address.ParseAddr(s)
}

// SameAddress reports whether a and b point at the same account regardless of encoding and flags.
func SameAddress(a, b string) bool {
	if a == b {
		return a != ""
	}

	aa, err := ParseAnyAddr(a)
	if err != nil {
		return false
	}

	ba, err := ParseAnyAddr(b)
	if err != nil {
		return false
	}

	return aa.Workchain() == ba.Workchain() && bytes.Equal(aa.Data(), ba.Data())
}

// CanonicalAddress returns the raw form, used as a map key for dedup across data sources.
func CanonicalAddress(s string) (string, error) {
	a, err := ParseAnyAddr(s)
	if err != nil {
		return "", err
	}

	return strings.ToLower(a.StringRaw()), nil
}
