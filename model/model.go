package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr)
	return idWithSuffix
}

// DedupKey derives the natural idempotency key for one imported payment row.
// The key is a SHA-256 over the partner tax identifier, the related operation
// memo, the amount and the source row position, so re-importing the same file
// (or re-processing after a crash) always lands on the same key.
func DedupKey(taxID, memo string, amount decimal.Decimal, rowNumber int) string {
	data := fmt.Sprintf("%s|%s|%s|%d", taxID, memo, amount.String(), rowNumber)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ParseAmount parses a money amount from file input into a fixed-point decimal.
// Source files use either plain decimal notation ("1234.56") or the comma
// decimal separator with dotted thousands ("1.234,56").
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.Contains(s, ",") {
		// Comma decimal notation. Dots, if any, are thousands separators.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d, nil
}
