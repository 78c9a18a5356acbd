package domain

import (
	"fmt"
	"strings"
	"time"
)

// BINLength is the number of leading card digits that identify the issuer.
const BINLength = 6

// Defaults substituted for fields the provider leaves out.
const (
	UnknownValue  = "Unknown"
	StandardLevel = "Standard"
)

// BINRecord is the normalized issuer metadata cached per BIN.
type BINRecord struct {
	BIN         string    `json:"bin" dynamodbav:"bin"`
	Bank        string    `json:"bank" dynamodbav:"bank"`
	Country     string    `json:"country" dynamodbav:"country"`
	CountryCode string    `json:"countryCode" dynamodbav:"country_code"`
	Type        string    `json:"type" dynamodbav:"type"`
	Brand       string    `json:"brand" dynamodbav:"brand"`
	Level       string    `json:"level" dynamodbav:"level"`
	Prepaid     bool      `json:"prepaid" dynamodbav:"prepaid"`
	CachedAt    time.Time `json:"cachedAt" dynamodbav:"cached_at"`
	UpdatedAt   time.Time `json:"updatedAt" dynamodbav:"updated_at"`
}

// Lookup sources recorded in history entries.
const (
	SourceCache    = "cache"
	SourceProvider = "provider"
)

// LookupHistoryEntry is one successful lookup made by a user.
// PK: user_id, SK: history_id (ULID, so entries sort by time).
type LookupHistoryEntry struct {
	UserID     string    `json:"user_id" dynamodbav:"user_id"`
	HistoryID  string    `json:"id" dynamodbav:"history_id"`
	BIN        string    `json:"bin" dynamodbav:"bin"`
	Bank       string    `json:"bank" dynamodbav:"bank"`
	Country    string    `json:"country" dynamodbav:"country"`
	Brand      string    `json:"brand" dynamodbav:"brand"`
	Type       string    `json:"type" dynamodbav:"type"`
	Level      string    `json:"level" dynamodbav:"level"`
	Source     string    `json:"source" dynamodbav:"source"`
	LookedUpAt time.Time `json:"looked_up_at" dynamodbav:"looked_up_at"`
}

// KnownBIN is an entry of the read-only reference table loaded at startup.
type KnownBIN struct {
	BIN   string `json:"bin"`
	Label string `json:"label"`
}

// NormalizeBIN strips separators from raw input and returns its first six digits.
// Input with fewer than six digits, or with characters other than digits,
// spaces and dashes, is rejected.
func NormalizeBIN(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return "", fmt.Errorf("BIN must contain digits only: %w", ErrValidation)
		}
	}
	digits := b.String()
	if len(digits) < BINLength {
		return "", fmt.Errorf("BIN must be at least %d digits: %w", BINLength, ErrValidation)
	}
	return digits[:BINLength], nil
}
