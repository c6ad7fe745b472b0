// Package rest implements port.SourceClient over the JSON API of the
// case-management system.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/source"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const (
	moduleName = "SourceClient"
	// APIKeyHeader carries source.api_key on every request.
	APIKeyHeader = "X-API-Key"
	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 32 << 20
)

// Client is a port.SourceClient backed by net/http.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL. A nil httpClient gets one with timeout.
func NewClient(baseURL, apiKey, userAgent string, timeout time.Duration, httpClient *http.Client) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, exception.NewBatchErrorf(moduleName, "source.base_url is not configured")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "invalid source.base_url", err, false, false)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{baseURL: u, apiKey: apiKey, userAgent: userAgent, httpClient: httpClient}, nil
}

// NewClientFromConfig builds the client from source.*.
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	sc := cfg.Caseflow.Source
	return NewClient(sc.BaseURL, sc.APIKey, sc.UserAgent, time.Duration(sc.TimeoutSeconds)*time.Second, nil)
}

// FetchByID implements port.SourceClient.
func (c *Client) FetchByID(ctx context.Context, rt model.ResourceType, id string) (*model.Item, error) {
	d, ok := rt.Descriptor()
	if !ok {
		return nil, exception.NewBatchErrorf(moduleName, "unknown resource type %q", rt)
	}
	endpoint := c.endpoint(d.SourcePath, url.PathEscape(id))
	body, err := c.get(ctx, "FetchByID", endpoint)
	if err != nil {
		return nil, err
	}
	item, err := source.DecodeItem(d, body)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("malformed %s response for %s", rt, id), err, false, false)
	}
	return item, nil
}

// Search implements port.SourceClient. Pages are 1-based.
func (c *Client) Search(ctx context.Context, rt model.ResourceType, filters model.Filters, pageIndex, pageSize int) (*port.SearchResult, error) {
	d, ok := rt.Descriptor()
	if !ok {
		return nil, exception.NewBatchErrorf(moduleName, "unknown resource type %q", rt)
	}
	if pageIndex < 1 {
		pageIndex = 1
	}
	q := url.Values{}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, filters[k])
	}
	q.Set("page", strconv.Itoa(pageIndex))
	q.Set("page_size", strconv.Itoa(pageSize))

	endpoint := c.endpoint(d.SourcePath) + "?" + q.Encode()
	body, err := c.get(ctx, "Search", endpoint)
	if err != nil {
		return nil, err
	}

	rawItems, err := source.ExtractItems(body)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("malformed %s search response", rt), err, false, false)
	}
	result := &port.SearchResult{Items: make([]model.Item, 0, len(rawItems))}
	for i, raw := range rawItems {
		item, err := source.DecodeItem(d, raw)
		if err != nil {
			logger.Warnf("Undecodable %s entity at position %d of page %d: %v", rt, i, pageIndex, err)
			result.Invalid = append(result.Invalid, port.InvalidEntry{Position: i, Err: err})
			continue
		}
		result.Items = append(result.Items, *item)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err == nil {
		result.TotalCount = source.ExtractTotalCount(envelope)
	}
	return result, nil
}

func (c *Client) endpoint(segments ...string) string {
	return c.baseURL.String() + "/" + strings.Join(segments, "/")
}

func (c *Client) get(ctx context.Context, op, endpoint string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create request", err, false, false)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &exception.SourceUnavailableError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &exception.SourceUnavailableError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", op, req.URL.Path, exception.ErrNotFound)
	case resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, &exception.SourceUnavailableError{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, exception.NewBatchError(moduleName,
			fmt.Sprintf("%s %s returned status %d: %s", op, req.URL.Path, resp.StatusCode, snippet(body)),
			nil, false, resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}
	if len(body) == 0 {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("%s %s returned an empty body", op, req.URL.Path), errors.New("empty body"), false, false)
	}
	return body, nil
}

func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

var _ port.SourceClient = (*Client)(nil)
