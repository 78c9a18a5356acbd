package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/pkg/validate"
)

type knownEntry struct {
	BIN   string `json:"bin" validate:"required,bin6"`
	Label string `json:"label"`
}

// LoadKnown parses the reference table: a JSON array of {"bin","label"}.
// Duplicates and malformed BINs are rejected so the table stays trustworthy.
func LoadKnown(r io.Reader) ([]domain.KnownBIN, error) {
	var entries []knownEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode known bins: %w", err)
	}
	seen := make(map[string]bool, len(entries))
	out := make([]domain.KnownBIN, 0, len(entries))
	for i, e := range entries {
		if err := validate.Struct(&e); err != nil {
			return nil, fmt.Errorf("known bin #%d: %v: %w", i, err, domain.ErrValidation)
		}
		if seen[e.BIN] {
			return nil, fmt.Errorf("known bin %s listed twice: %w", e.BIN, domain.ErrValidation)
		}
		seen[e.BIN] = true
		out = append(out, domain.KnownBIN{BIN: e.BIN, Label: e.Label})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BIN < out[j].BIN })
	return out, nil
}

// BINs returns just the BIN column of known.
func BINs(known []domain.KnownBIN) []string {
	out := make([]string, len(known))
	for i, k := range known {
		out[i] = k.BIN
	}
	return out
}

type objectReader interface {
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// ReadKnown loads the reference table from store under key, or from the local
// file at path when store is nil.
func ReadKnown(ctx context.Context, store objectReader, key, path string) ([]domain.KnownBIN, error) {
	var (
		rc  io.ReadCloser
		err error
	)
	if store != nil {
		rc, err = store.Download(ctx, key)
	} else {
		rc, err = os.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("open known bins: %w", err)
	}
	defer rc.Close()
	return LoadKnown(rc)
}
