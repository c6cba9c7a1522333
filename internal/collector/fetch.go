package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"agencyos/internal/agencyerr"
)

// Fetcher is the shared HTTP transport for the SaaS collectors. Every
// source is reached through a configured base URL with a bearer token;
// OAuth dances and vendor SDKs live outside this process.
type Fetcher struct {
	base   string
	token  string
	client *http.Client
}

// NewFetcher builds a fetcher for one source endpoint.
func NewFetcher(baseURL, token string) *Fetcher {
	return &Fetcher{
		base:  baseURL,
		token: token,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetJSON fetches base+path (with optional query values) and decodes
// the response body into out. Failures come back classified: transport
// problems as transient, 401/403 as auth, other 4xx and undecodable
// bodies as parse errors.
func (f *Fetcher) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	op := "fetch " + path
	if f.base == "" {
		return agencyerr.Newf(agencyerr.ClassAuth, op, "no base URL configured")
	}

	u := f.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return agencyerr.Parse(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return agencyerr.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		class := agencyerr.FromStatus(resp.StatusCode)
		if class == agencyerr.ClassUnknown {
			class = agencyerr.ClassTransient
		}
		return agencyerr.Newf(class, op, "status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return agencyerr.Parse(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
