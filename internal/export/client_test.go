package export

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"cardispatch/internal"
	"cardispatch/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func testClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	cfg, _ := config.Load()
	cfg.MarketplaceToken = "test"
	cfg.MarketplaceBaseURL = "https://example.test/v2"
	cfg.MarketplaceRateLimitRPS = 1000

	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: rt}
	return client
}

func jsonResponse(status int, body string, headers map[string]string) *http.Response {
	h := make(http.Header)
	for k, v := range headers {
		h.Set(k, v)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     h,
	}
}

func TestCreateListing(t *testing.T) {
	var gotPath, gotAuth string
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		return jsonResponse(http.StatusCreated, `{"id":"lst_42"}`, map[string]string{"ETag": `"v1"`}), nil
	})

	resp, err := client.CreateListing(context.Background(), BuildListing(completeRecord()))
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/v2/listings" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer test" {
		t.Errorf("auth = %s", gotAuth)
	}
	if resp.ID != "lst_42" || resp.ETag != `"v1"` {
		t.Errorf("resp = %+v", resp)
	}
}

func TestUpdateListingSendsIfMatch(t *testing.T) {
	var gotIfMatch, gotMethod string
	client := testClient(t, func(r *http.Request) (*http.Response, error) {
		gotIfMatch = r.Header.Get("If-Match")
		gotMethod = r.Method
		return jsonResponse(http.StatusOK, `{"id":"lst_42"}`, map[string]string{"ETag": `"v2"`}), nil
	})

	resp, err := client.UpdateListing(context.Background(), "lst_42", `"v1"`, BuildListing(completeRecord()))
	if err != nil {
		t.Fatal(err)
	}
	if gotMethod != http.MethodPut {
		t.Errorf("method = %s", gotMethod)
	}
	if gotIfMatch != `"v1"` {
		t.Errorf("If-Match = %s", gotIfMatch)
	}
	if resp.ETag != `"v2"` {
		t.Errorf("etag = %s", resp.ETag)
	}
}

func TestClientTypedErrors(t *testing.T) {
	cases := []struct {
		status  int
		headers map[string]string
		kind    internal.APIErrorKind
	}{
		{http.StatusTooManyRequests, map[string]string{"Retry-After": "5"}, internal.APIRateLimited},
		{http.StatusInternalServerError, nil, internal.APIServerError},
		{http.StatusPreconditionFailed, nil, internal.APIConflictStale},
		{http.StatusUnauthorized, nil, internal.APIAuthError},
		{http.StatusBadRequest, nil, internal.APIBadRequest},
		{http.StatusUnprocessableEntity, nil, internal.APIBadRequest},
	}

	for _, tc := range cases {
		client := testClient(t, func(*http.Request) (*http.Response, error) {
			return jsonResponse(tc.status, `{"error":"nope"}`, tc.headers), nil
		})

		_, err := client.CreateListing(context.Background(), BuildListing(completeRecord()))
		var apiErr *internal.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("status %d: err = %v, want APIError", tc.status, err)
		}
		if apiErr.Kind != tc.kind {
			t.Errorf("status %d: kind = %s, want %s", tc.status, apiErr.Kind, tc.kind)
		}
		if tc.kind == internal.APIRateLimited && apiErr.RetryAfter.Seconds() != 5 {
			t.Errorf("retryAfter = %v, want 5s", apiErr.RetryAfter)
		}
	}
}

func TestClientRejectsInvalidPayloadBeforeSending(t *testing.T) {
	sent := false
	client := testClient(t, func(*http.Request) (*http.Response, error) {
		sent = true
		return jsonResponse(http.StatusCreated, `{"id":"x"}`, nil), nil
	})

	_, err := client.CreateListing(context.Background(), Listing{DispatchID: "DC-1"})
	if err == nil {
		t.Fatal("schema-invalid listing must not be sent")
	}
	if sent {
		t.Error("request reached the transport")
	}
}
