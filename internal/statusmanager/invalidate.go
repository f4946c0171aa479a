package statusmanager

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// HTTPInvalidator POSTs {tag: "report-<slug>", secret} to a configured
// revalidate URL, matching spec §6's cache-invalidation hook. No pack
// repo bundles a dedicated HTTP client wrapper for a single fire-and-
// forget POST; the teacher itself reaches for stdlib net/http directly
// for this kind of one-shot webhook, so this does too.
type HTTPInvalidator struct {
	URL    string
	Secret string
	Client *http.Client
}

// NewHTTPInvalidator builds an invalidator posting to url with secret.
func NewHTTPInvalidator(url, secret string) *HTTPInvalidator {
	return &HTTPInvalidator{URL: url, Secret: secret, Client: http.DefaultClient}
}

type invalidatePayload struct {
	Tag    string `json:"tag"`
	Secret string `json:"secret"`
}

// Invalidate POSTs the payload; any non-200 response is surfaced as an
// error for the caller to log (never propagated further up).
func (h *HTTPInvalidator) Invalidate(ctx context.Context, slug string) error {
	if h.URL == "" {
		return nil
	}
	body, err := json.Marshal(invalidatePayload{Tag: "report-" + slug, Secret: h.Secret})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("statusmanager: invalidate returned status %d", resp.StatusCode)
	}
	return nil
}
