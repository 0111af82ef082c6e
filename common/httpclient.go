package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenValidationHook runs before every outgoing request while registered.
// Its job is proactive token refresh. A hook error is logged and the request
// proceeds anyway, so a broken refresh path degrades to possibly-stale auth
// instead of blocking all traffic.
type TokenValidationHook func(ctx context.Context) error

// ApiClient is the resilient HTTP boundary of the SDK: it attaches bearer
// auth, runs the validation hook, retries transient failures with bounded
// exponential backoff, and normalizes every failure into an *ApiError.
// This allows mocking or custom transport layers in testing.
type ApiClient interface {
	Get(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
	GetJSON(ctx context.Context, endpoint string, params map[string]string, entity interface{}) error
	Post(ctx context.Context, endpoint string, body interface{}) ([]byte, error)
	PostJSON(ctx context.Context, endpoint string, body, entity interface{}) error
	Patch(ctx context.Context, endpoint string, body interface{}) ([]byte, error)
	Delete(ctx context.Context, endpoint string) ([]byte, error)

	SetAccessToken(token string)
	AccessToken() string
	SetTokenValidationHook(hook TokenValidationHook)

	CloseIdleConnections()
	SetSleepForTest(sleep func(d time.Duration))
}

// ApiError is the uniform shape of every failure surfaced by ApiClient.
// Status 0 means no response was received (network failure); -1 means the
// request failed client-side before it was sent; positive values are HTTP
// status codes.
type ApiError struct {
	Detail string
	Status int
	Code   string // structured error code, when the backend sends one
}

func (e *ApiError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Detail)
}

// IsTokenExpired reports whether this error means the bearer token is no
// longer usable and the session must be torn down. The structured code is
// checked first; the detail substring match is kept for backends that only
// send prose.
func (e *ApiError) IsTokenExpired() bool {
	if e.Status != http.StatusUnauthorized {
		return false
	}
	if e.Code == "token_expired" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Detail), "expired")
}

// AsApiError unwraps err into an *ApiError if it is one.
func AsApiError(err error) (*ApiError, bool) {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// userAgentRoundTripper is a custom RoundTripper that adds a User-Agent header.
type userAgentRoundTripper struct {
	Wrapped   http.RoundTripper
	UserAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone request to avoid mutating the original
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.UserAgent)
	return rt.Wrapped.RoundTrip(clone)
}

// Retry defaults. Overridable per client via ClientConfig.
const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 3
	defaultBaseDelay  = 1 * time.Second
)

// Statuses worth retrying: request timeout, rate limit, and 5xx gateway-ish
// failures. Everything else is the caller's problem.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ClientConfig configures an ApiClient. Zero values fall back to defaults.
type ClientConfig struct {
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration // per-attempt HTTP timeout, default 10s
	MaxRetries int           // retries after the first attempt, default 3
	BaseDelay  time.Duration // backoff base, default 1s
	Logger     *zap.Logger
}

type apiClient struct {
	baseURL    string
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	logger     *zap.Logger
	sleepFunc  func(d time.Duration)

	mu    sync.RWMutex
	token string
	hook  TokenValidationHook
}

// NewApiClient returns an ApiClient over the given base *http.Client (pass
// &http.Client{} unless you need a custom transport).
func NewApiClient(cfg ClientConfig, base *http.Client) ApiClient {
	if base == nil {
		base = &http.Client{}
	}
	if base.Transport == nil {
		base.Transport = http.DefaultTransport
	}
	if cfg.UserAgent != "" {
		base.Transport = &userAgentRoundTripper{
			Wrapped:   base.Transport,
			UserAgent: cfg.UserAgent,
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	base.Timeout = cfg.Timeout

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &apiClient{
		baseURL:    cfg.BaseURL,
		client:     base,
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		logger:     cfg.Logger,
		sleepFunc:  time.Sleep,
	}
}

// ---------------------------------------------------
// Token / hook accessors
// ---------------------------------------------------

func (c *apiClient) SetAccessToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *apiClient) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *apiClient) SetTokenValidationHook(hook TokenValidationHook) {
	c.mu.Lock()
	c.hook = hook
	c.mu.Unlock()
}

func (c *apiClient) validationHook() TokenValidationHook {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hook
}

func (c *apiClient) CloseIdleConnections() {
	c.client.CloseIdleConnections()
}

func (c *apiClient) SetSleepForTest(sleep func(d time.Duration)) {
	c.sleepFunc = sleep
}

// ---------------------------------------------------
// Request methods
// ---------------------------------------------------

func (c *apiClient) Get(ctx context.Context, endpoint string, params map[string]string) ([]byte, error) {
	return c.request(ctx, http.MethodGet, endpoint, params, nil)
}

func (c *apiClient) GetJSON(ctx context.Context, endpoint string, params map[string]string, entity interface{}) error {
	data, err := c.Get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, entity)
}

func (c *apiClient) Post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	return c.request(ctx, http.MethodPost, endpoint, nil, body)
}

func (c *apiClient) PostJSON(ctx context.Context, endpoint string, body, entity interface{}) error {
	data, err := c.Post(ctx, endpoint, body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, entity)
}

func (c *apiClient) Patch(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	return c.request(ctx, http.MethodPatch, endpoint, nil, body)
}

func (c *apiClient) Delete(ctx context.Context, endpoint string) ([]byte, error) {
	return c.request(ctx, http.MethodDelete, endpoint, nil, nil)
}

// request is the core method: it marshals the body once, then attempts the
// call up to 1+maxRetries times. Retries are silent to the caller; only the
// final normalized error is observed. Each invocation has its own retry
// counter and request ID.
func (c *apiClient) request(ctx context.Context, method, endpoint string, params map[string]string, body interface{}) ([]byte, error) {
	urlStr, err := c.buildURL(endpoint, params)
	if err != nil {
		return nil, &ApiError{Detail: err.Error(), Status: -1}
	}

	var bodyBytes []byte
	if body != nil {
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, &ApiError{Detail: fmt.Sprintf("failed to encode request body: %v", err), Status: -1}
		}
	}

	requestID := uuid.NewString()

	for attempt := 0; ; attempt++ {
		if hook := c.validationHook(); hook != nil {
			if hookErr := hook(ctx); hookErr != nil {
				// Deliberate: a failed refresh must not block the request.
				c.logger.Warn("token validation hook failed, proceeding without refresh",
					zap.String("method", method),
					zap.String("endpoint", endpoint),
					zap.Error(hookErr))
			}
		}

		data, apiErr := c.executeRequest(ctx, method, urlStr, requestID, bodyBytes)
		if apiErr == nil {
			return data, nil
		}

		if ctx.Err() != nil || !retryEligible(apiErr) || attempt >= c.maxRetries {
			return nil, apiErr
		}

		delay := c.baseDelay << attempt
		c.logger.Debug("retrying request",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Int("status", apiErr.Status),
			zap.Duration("delay", delay))
		c.sleepFunc(delay)
	}
}

// retryEligible: no response received, or the status is in the transient set.
func retryEligible(e *ApiError) bool {
	if e.Status == 0 {
		return true
	}
	return retryableStatuses[e.Status]
}

// errorBody is the backend's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

// executeRequest performs one attempt and maps every failure mode onto
// *ApiError. A nil error means a 2xx response.
func (c *apiClient) executeRequest(ctx context.Context, method, urlStr, requestID string, bodyBytes []byte) ([]byte, *ApiError) {
	var reader io.Reader
	if bodyBytes != nil {
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, &ApiError{Detail: err.Error(), Status: -1}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if bodyBytes != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ApiError{Detail: fmt.Sprintf("Network error: %v", err), Status: 0}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, &ApiError{Detail: fmt.Sprintf("Network error: failed to read response body: %v", readErr), Status: 0}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	apiErr := &ApiError{Detail: "Unknown error occurred", Status: resp.StatusCode}
	var eb errorBody
	if len(data) > 0 && json.Unmarshal(data, &eb) == nil {
		if eb.Detail != "" {
			apiErr.Detail = eb.Detail
		}
		apiErr.Code = eb.Code
	}
	return nil, apiErr
}

// buildURL merges baseURL + endpoint + params
func (c *apiClient) buildURL(endpoint string, params map[string]string) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	path, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	fullURL := base.ResolveReference(path)
	q := fullURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	fullURL.RawQuery = q.Encode()
	return fullURL.String(), nil
}
