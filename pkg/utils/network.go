package utils

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

func ToHashBytes(hash string) ([]byte, error) {
	hashBytes, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid hash hex string")
	}

	if len(hashBytes) != 32 {
		return nil, fmt.Errorf("invalid hash size, length should be 64 symbols")
	}
	return hashBytes, nil
}

func ValidateBagID(bagID string) bool {
	if len(bagID) != 64 {
		return false
	}

	for i := range 64 {
		c := bagID[i]
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}

	return true
}

func NormalizeBagID(bagID string) string {
	return strings.ToLower(strings.TrimSpace(bagID))
}

// TryNTimes calls f until it succeeds or n attempts are spent.
func TryNTimes(f func() error, n int) (err error) {
	for i := 0; i < n; i++ {
		if err = f(); err == nil {
			return nil
		}

		if i < n-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}

	return err
}
