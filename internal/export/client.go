package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cardispatch/internal"
	"cardispatch/internal/config"
)

// ListingResponse is the marketplace's answer to a create or update call.
type ListingResponse struct {
	ID   string `json:"id"`
	ETag string `json:"-"`
}

// Client speaks the freight-marketplace listings API. Every request passes
// the shared rate limiter; retry policy is owned by the caller.
type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
}

func NewClient(cfg config.Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.MarketplaceTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.MarketplaceRateLimitRPS),
	}
}

func (c *Client) CreateListing(ctx context.Context, listing Listing) (*ListingResponse, error) {
	return c.send(ctx, http.MethodPost, "listings", "", listing)
}

// UpdateListing replaces an existing listing. The caller must supply the etag
// from the last read; a stale etag comes back as a ConflictStale APIError.
func (c *Client) UpdateListing(ctx context.Context, externalID, etag string, listing Listing) (*ListingResponse, error) {
	return c.send(ctx, http.MethodPut, "listings/"+externalID, etag, listing)
}

// GetListingETag re-reads a listing for its current etag, used to recover
// from a 412 on update.
func (c *Client) GetListingETag(ctx context.Context, externalID string) (string, error) {
	if strings.TrimSpace(c.cfg.MarketplaceToken) == "" {
		return "", errors.New("missing MARKETPLACE_TOKEN")
	}

	if err := c.limiter.WaitTurn(ctx); err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.MarketplaceBaseURL, "/") + "/listings/" + externalID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.MarketplaceToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", apiErrorFor(resp, body)
	}
	return resp.Header.Get("ETag"), nil
}

func (c *Client) send(ctx context.Context, method, path, etag string, listing Listing) (*ListingResponse, error) {
	if strings.TrimSpace(c.cfg.MarketplaceToken) == "" {
		return nil, errors.New("missing MARKETPLACE_TOKEN")
	}

	payload, err := json.Marshal(listing)
	if err != nil {
		return nil, err
	}
	if err := ValidateListingJSON(payload); err != nil {
		return nil, err
	}

	if err := c.limiter.WaitTurn(ctx); err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.cfg.MarketplaceBaseURL, "/") + "/" + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.MarketplaceToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiErrorFor(resp, body)
	}

	var out ListingResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode listing response: %w", err)
	}
	out.ETag = resp.Header.Get("ETag")
	return &out, nil
}

func apiErrorFor(resp *http.Response, body []byte) *internal.APIError {
	apiErr := &internal.APIError{
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		apiErr.Kind = internal.APIRateLimited
		if raw := resp.Header.Get("Retry-After"); raw != "" {
			if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
				apiErr.RetryAfter = time.Duration(secs) * time.Second
			}
		}
	case resp.StatusCode == http.StatusPreconditionFailed:
		apiErr.Kind = internal.APIConflictStale
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		apiErr.Kind = internal.APIAuthError
	case resp.StatusCode >= 500:
		apiErr.Kind = internal.APIServerError
	default:
		// Remaining 4xx means the request itself is wrong; retrying the same
		// payload cannot succeed.
		apiErr.Kind = internal.APIBadRequest
	}
	return apiErr
}
