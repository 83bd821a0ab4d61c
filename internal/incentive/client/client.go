package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/farxc/spm-results/internal/incentive/credentials"
	"github.com/farxc/spm-results/internal/incentive/types"
	"github.com/farxc/spm-results/internal/logger"
)

const maxBodyBytes = 32 << 20

type Client struct {
	baseURL    string
	httpClient *http.Client
	appLogger  *logger.Logger
}

func New(baseURL string, timeout time.Duration, appLogger *logger.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		appLogger:  appLogger,
	}
}

// Fetch requests one collection and returns its records as a raw JSON array.
// Every failure is a *types.FetchError.
func (c *Client) Fetch(ctx context.Context, resource types.Resource, q types.Query, token credentials.Token) (json.RawMessage, error) {
	const component = "Client"
	requestURL := BuildURL(c.baseURL, q.TenantName, resource, q.PayeeID, q.Month)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, &types.FetchError{Resource: resource, Kind: types.KindInvalidInput, Err: err}
	}
	req.Header.Set("Authorization", token.Header())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.appLogger.Debug(component, "Requesting collection: tenant=%s resource=%s", q.TenantName, resource)
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.appLogger.Error(component, "HTTP request failed: tenant=%s resource=%s error=%v", q.TenantName, resource, err)
		return nil, &types.FetchError{Resource: resource, Kind: types.KindUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		kind := types.KindUpstreamStatus
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = types.KindUnauthorized
		}
		c.appLogger.Warn(component, "Non-2xx HTTP response: tenant=%s resource=%s status=%s statusCode=%d", q.TenantName, resource, resp.Status, resp.StatusCode)
		return nil, &types.FetchError{
			Resource:   resource,
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(snippet)),
		}
	}

	records, err := extractCollection(io.LimitReader(resp.Body, maxBodyBytes), resource)
	if err != nil {
		c.appLogger.Error(component, "Unexpected response body: tenant=%s resource=%s error=%v", q.TenantName, resource, err)
		var fetchErr *types.FetchError
		if errors.As(err, &fetchErr) {
			return nil, fetchErr
		}
		return nil, &types.FetchError{Resource: resource, Kind: types.KindMalformed, StatusCode: resp.StatusCode, Err: err}
	}

	c.appLogger.Info(component, "Collection fetched: tenant=%s resource=%s status=%d bytes=%d duration=%s", q.TenantName, resource, resp.StatusCode, len(records), time.Since(start).Round(time.Millisecond))
	return records, nil
}

// extractCollection reads the JSON object body and returns the array stored
// under the resource name. A null collection is returned as an empty array.
func extractCollection(r io.Reader, resource types.Resource) (json.RawMessage, error) {
	var body map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, &types.FetchError{Resource: resource, Kind: types.KindUnavailable, Err: err}
		}
		return nil, fmt.Errorf("decode body: %w", err)
	}

	raw, ok := body[string(resource)]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", resource)
	}

	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	if len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("field %q is not an array", resource)
	}
	return raw, nil
}
