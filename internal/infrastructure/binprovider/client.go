package binprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bincheck-api/internal/config"
	"github.com/bincheck-api/internal/domain"
)

// maxBodyBytes caps how much of a provider response is read.
const maxBodyBytes = 1 << 20

// User-facing messages carried by ErrLookupFailed.
const (
	msgInvalidBIN  = "BIN not found or invalid"
	msgUnavailable = "BIN lookup service is unavailable, try again later"
)

// Client calls the external BIN lookup API.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.BINProviderTimeout},
		endpoint:   cfg.BINProviderURL,
		apiKey:     cfg.BINProviderAPIKey,
	}
}

// Lookup posts bin as a form field and returns the normalized record.
// Any transport error, non-2xx status, success=false or valid=false is ErrLookupFailed.
func (c *Client) Lookup(ctx context.Context, bin string) (*domain.BINRecord, error) {
	form := url.Values{"bin": {bin}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.LookupFailure{Message: msgUnavailable, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &domain.LookupFailure{Message: msgUnavailable, Cause: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, &domain.LookupFailure{Message: msgInvalidBIN}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &domain.LookupFailure{Message: msgUnavailable, Cause: fmt.Errorf("provider status %d", resp.StatusCode)}
	}

	var payload response
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &domain.LookupFailure{Message: msgUnavailable, Cause: fmt.Errorf("decode: %w", err)}
	}
	if !payload.Success || payload.BIN == nil || (payload.BIN.Valid != nil && !*payload.BIN.Valid) {
		return nil, &domain.LookupFailure{Message: msgInvalidBIN}
	}
	return Normalize(bin, payload.BIN), nil
}

// Normalize maps the provider's BIN object onto the canonical record,
// filling the documented defaults for anything missing.
func Normalize(bin string, b *binInfo) *domain.BINRecord {
	return &domain.BINRecord{
		BIN:         bin,
		Bank:        orDefault(b.Issuer.Name, domain.UnknownValue),
		Country:     orDefault(b.Country.Name, domain.UnknownValue),
		CountryCode: orDefault(b.Country.Alpha2, domain.UnknownValue),
		Type:        orDefault(b.Type, domain.UnknownValue),
		Brand:       orDefault(firstNonEmpty(b.Brand, b.Scheme), domain.UnknownValue),
		Level:       orDefault(firstNonEmpty(b.Level, b.Tier), domain.StandardLevel),
		Prepaid:     bool(b.Prepaid),
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return strings.TrimSpace(v)
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
