// Package syncclient is the connector-side HTTP client of the sync protocol
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/jsonl"
)

// maxResponseSize bounds JSON response bodies
const maxResponseSize = 64 << 20

const apiPrefix = "/api/v1/sync/"

// CredentialProvider resolves ERP credentials for one request. The caller
// of the provider wipes them after the request is sent.
type CredentialProvider func(ctx context.Context) (credential.ErpCredentials, error)

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithAPIKey sets the tenant API key sent in X-Api-Key
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithCredentialProvider sends ERP credentials as basic auth on every request
func WithCredentialProvider(p CredentialProvider) Option {
	return func(c *Client) {
		c.credentials = p
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the sync endpoints of the cloud platform
type Client struct {
	baseURL     string
	tenantID    uuid.UUID
	http        *http.Client
	apiKey      string
	credentials CredentialProvider
	logger      *zap.Logger
}

// New creates a sync client
func New(baseURL string, tenantID uuid.UUID, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		http:     &http.Client{Timeout: 60 * time.Second},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type correlationKey struct{}

// WithCorrelationID pins the X-Correlation-Id of requests made with ctx.
// Retrying a batch push under the same id lets the server reject the replay.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

type envelope[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data"`
	Error   *APIError `json:"error,omitempty"`
}

// FetchPage requests one cursor page
func (c *Client) FetchPage(ctx context.Context, req erpsync.CursorPageRequest) (*erpsync.CursorPage[json.RawMessage], error) {
	q := url.Values{}
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}
	if req.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.Sort != nil && req.Sort.Field != "" {
		q.Set("sort", req.Sort.Field)
		if req.Sort.Descending {
			q.Set("desc", "true")
		}
	}
	if req.IncludeTotal {
		q.Set("include_total", "true")
	}
	if len(req.Fields) > 0 {
		q.Set("fields", strings.Join(req.Fields, ","))
	}
	for k, v := range req.Filters {
		q.Set("filter["+k+"]", v)
	}

	var page erpsync.CursorPage[json.RawMessage]
	if err := c.doJSON(ctx, "fetch page", http.MethodGet, c.endpoint(req.EntityType, "page", q), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// FetchDelta requests one delta batch
func (c *Client) FetchDelta(ctx context.Context, req erpsync.DeltaSyncRequest) (*erpsync.DeltaSyncResponse[json.RawMessage], error) {
	q := url.Values{}
	if req.ContinuationToken != "" {
		q.Set("continuation_token", req.ContinuationToken)
	} else if req.Watermark != nil {
		q.Set("watermark", strconv.FormatInt(*req.Watermark, 10))
	} else if req.SinceUTC != nil {
		q.Set("since", req.SinceUTC.UTC().Format(time.RFC3339Nano))
	}
	if req.BatchSize > 0 {
		q.Set("batch_size", strconv.Itoa(req.BatchSize))
	}
	if req.IncludeDeleted != nil {
		q.Set("include_deleted", strconv.FormatBool(*req.IncludeDeleted))
	}

	var resp erpsync.DeltaSyncResponse[json.RawMessage]
	if err := c.doJSON(ctx, "fetch delta", http.MethodGet, c.endpoint(req.EntityType, "delta", q), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushBatch sends a batch write
func (c *Client) PushBatch(ctx context.Context, req erpsync.BatchWriteRequest[json.RawMessage]) (*erpsync.BatchWriteResponse, error) {
	if req.TenantID == uuid.Nil {
		req.TenantID = c.tenantID
	}
	var resp erpsync.BatchWriteResponse
	if err := c.doJSON(ctx, "push batch", http.MethodPost, c.endpoint(req.EntityType, "batch", nil), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stream downloads the full collection as a chunked JSON-Lines stream and
// passes every item to fn. The stream is rejected unless its last chunk
// arrives.
func (c *Client) Stream(ctx context.Context, entityType erpsync.EntityType, fn func(json.RawMessage) error) (jsonl.Summary, error) {
	const op = "stream"
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(entityType, "stream", nil), nil)
	if err != nil {
		return jsonl.Summary{}, err
	}
	req.Header.Set("Accept", erpsync.ContentTypeJSONLines)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.send(req)
	if err != nil {
		return jsonl.Summary{}, &TransportError{Op: op, Retryable: true, StateSafe: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return jsonl.Summary{}, c.statusError(op, resp.StatusCode, body, true)
	}

	var opts []jsonl.ReaderOption
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		opts = append(opts, jsonl.WithGzipInput())
	}
	reader, err := jsonl.NewReader(resp.Body, opts...)
	if err != nil {
		return jsonl.Summary{}, &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: true, StateSafe: true, Err: err}
	}
	defer reader.Close()

	summary, err := jsonl.Decode(ctx, reader, fn)
	if err != nil {
		return summary, fmt.Errorf("syncclient: %s %s: %w", op, entityType, err)
	}
	return summary, nil
}

func (c *Client) endpoint(entityType erpsync.EntityType, action string, q url.Values) string {
	u := c.baseURL + apiPrefix + url.PathEscape(string(entityType)) + "/" + action
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("syncclient: create request: %w", err)
	}
	req.Header.Set(erpsync.HeaderTenantID, c.tenantID.String())
	req.Header.Set(erpsync.HeaderCorrelationID, correlationID(ctx))
	req.Header.Set(erpsync.HeaderAPIVersion, erpsync.APIVersion)
	if c.apiKey != "" {
		req.Header.Set(erpsync.HeaderAPIKey, c.apiKey)
	}
	if c.credentials != nil {
		creds, err := c.credentials(ctx)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(creds.Username(), creds.Password())
		creds.Wipe()
	}
	return req, nil
}

func (c *Client) send(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.String("correlation_id", req.Header.Get(erpsync.HeaderCorrelationID)),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		c.logger.Warn("sync request failed", append(fields, zap.Error(err))...)
		return nil, err
	}
	c.logger.Debug("sync request", append(fields, zap.Int("status", resp.StatusCode))...)
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("syncclient: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, method, target, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	readOnly := method == http.MethodGet
	resp, err := c.send(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Op: op, Retryable: true, StateSafe: readOnly, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, Retryable: true, StateSafe: readOnly, Err: err}
	}
	if len(respBody) > maxResponseSize {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, StateSafe: readOnly,
			Err: fmt.Errorf("response exceeds %d bytes", maxResponseSize)}
	}

	if resp.StatusCode >= 400 {
		return c.statusError(op, resp.StatusCode, respBody, readOnly)
	}

	env := envelope[json.RawMessage]{}
	if err := json.Unmarshal(respBody, &env); err != nil {
		return &TransportError{Op: op, StatusCode: resp.StatusCode, StateSafe: readOnly,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	if !env.Success {
		if env.Error != nil {
			return &TransportError{Op: op, StatusCode: resp.StatusCode, StateSafe: readOnly, Err: env.Error}
		}
		return &TransportError{Op: op, StatusCode: resp.StatusCode, StateSafe: readOnly, Err: errors.New("unsuccessful response")}
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return &TransportError{Op: op, StatusCode: resp.StatusCode, StateSafe: readOnly,
				Err: fmt.Errorf("decode response data: %w", err)}
		}
	}
	return nil
}

func (c *Client) statusError(op string, status int, body []byte, readOnly bool) error {
	apiErr := &APIError{Code: strconv.Itoa(status), Message: http.StatusText(status)}
	var env envelope[json.RawMessage]
	if json.Unmarshal(body, &env) == nil && env.Error != nil && env.Error.Code != "" {
		apiErr = env.Error
	}

	switch status {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrForbidden, apiErr.Message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
	case http.StatusBadRequest:
		switch apiErr.Code {
		case erpsync.ErrInvalidContinuationToken.Code:
			return fmt.Errorf("%w: %s", erpsync.ErrInvalidContinuationToken, apiErr.Message)
		case erpsync.ErrInvalidCursor.Code:
			return fmt.Errorf("%w: %s", erpsync.ErrInvalidCursor, apiErr.Message)
		}
	}
	return &TransportError{
		Op:         op,
		StatusCode: status,
		Retryable:  retryableStatus(status),
		StateSafe:  readOnly,
		Err:        apiErr,
	}
}
