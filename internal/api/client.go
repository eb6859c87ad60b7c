// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the REST client for the finchat backend.
//
// Every call is authenticated with the stored bearer token. A 401 answer
// triggers one token refresh shared by all concurrent callers, after which
// the request is replayed once. When the refresh fails the stored session is
// cleared and the configured auth-expired callback runs.
//
// Expected REST outcomes (validation failures, wrong password, missing file)
// come back as a Result with Success=false. A Go error is returned only for
// faults the caller cannot act on: transport failures, undecodable bodies,
// cancelled contexts.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// Configuration constants for the backend API.
const (
	// DefaultBaseURL is the backend used when none is configured.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout bounds ordinary JSON requests.
	DefaultTimeout = 10 * time.Second

	// DefaultRequestsPerSecond throttles outgoing REST calls.
	DefaultRequestsPerSecond = 10

	// MaxResponseSize is the maximum accepted response body size.
	MaxResponseSize = 10 * 1024 * 1024
)

var (
	// ErrAuthExpired means the session could not be refreshed and was cleared.
	ErrAuthExpired = errors.New("session expired, please log in again")

	// ErrResponseTooLarge means the backend answered with an oversized body.
	ErrResponseTooLarge = errors.New("response exceeds maximum size")
)

// sharedHTTPClient pools connections for all API clients that do not
// bring their own. Uploads rely on context cancellation, so the timeout
// is applied per request instead of on the client.
var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// Result is the outcome of a REST call the caller is expected to handle.
type Result[T any] struct {
	Success bool
	Data    T
	Error   string

	// Status is the HTTP status code of the final response.
	Status int
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            zerolog.Logger

	// OnAuthExpired runs after a failed refresh has cleared the session.
	OnAuthExpired func()
}

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	limiter *rate.Limiter
	tokens  *TokenManager
	logger  zerolog.Logger

	refreshGroup singleflight.Group

	mu            sync.RWMutex
	onAuthExpired func()
}

// NewClient creates a client that reads and writes its session through tokens.
func NewClient(opts Options, tokens *TokenManager) *Client {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = sharedHTTPClient
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:       base,
		timeout:       timeout,
		http:          hc,
		limiter:       rate.NewLimiter(limit, burst),
		tokens:        tokens,
		logger:        opts.Logger.With().Str("component", "api").Logger(),
		onAuthExpired: opts.OnAuthExpired,
	}
}

// BaseURL returns the backend root the client targets.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Tokens returns the token manager backing the client.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// SetAuthExpiredHandler replaces the callback run when the session expires.
func (c *Client) SetAuthExpiredHandler(fn func()) {
	c.mu.Lock()
	c.onAuthExpired = fn
	c.mu.Unlock()
}

// =============================================================================
// REQUEST PLUMBING
// =============================================================================

// request describes one logical API call. body is rebuilt for every attempt
// so the call can be replayed after a refresh.
type request struct {
	method      string
	path        string
	body        func() (io.Reader, string, error)
	auth        bool
	noTimeout   bool
	skipRefresh bool
}

// response is the raw outcome of a completed HTTP exchange.
type response struct {
	status int
	body   []byte
}

func (r response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func jsonBody(v any) func() (io.Reader, string, error) {
	if v == nil {
		return nil
	}
	return func() (io.Reader, string, error) {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", errors.Wrap(err, "encode request")
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// do executes req, refreshing the access token once on 401.
func (c *Client) do(ctx context.Context, req request) (response, error) {
	token := ""
	if req.auth {
		token = c.tokens.AccessToken(ctx)
	}

	resp, err := c.send(ctx, req, token)
	if err != nil {
		return response{}, err
	}
	if resp.status != http.StatusUnauthorized || !req.auth || req.skipRefresh {
		return resp, nil
	}

	fresh, err := c.refresh(ctx, token)
	if err != nil {
		if ctx.Err() != nil {
			return response{}, ctx.Err()
		}
		// An exchange that timed out says nothing about the refresh token.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return response{}, errors.Wrap(err, "refresh token")
		}
		c.expire(ctx, err)
		return response{}, ErrAuthExpired
	}
	return c.send(ctx, req, fresh)
}

// send performs one HTTP exchange.
func (c *Client) send(ctx context.Context, req request, token string) (response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return response{}, errors.Wrap(err, "rate limit")
	}

	if !req.noTimeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	contentType := ""
	if req.body != nil {
		var err error
		body, contentType, err = req.body()
		if err != nil {
			return response{}, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL+req.path, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			closer.Close()
		}
		return response{}, errors.Wrap(err, "create request")
	}
	c.setHeaders(httpReq, token, contentType)

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return response{}, errors.Wrapf(err, "%s %s", req.method, req.path)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, MaxResponseSize+1))
	if err != nil {
		return response{}, errors.Wrap(err, "read response")
	}
	if len(data) > MaxResponseSize {
		return response{}, ErrResponseTooLarge
	}

	c.logger.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", httpResp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request complete")

	return response{status: httpResp.StatusCode, body: data}, nil
}

func (c *Client) setHeaders(req *http.Request, token, contentType string) {
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// refresh exchanges the refresh token for a new pair. Concurrent callers
// share a single exchange. A caller whose stale token was already replaced
// by another refresh gets the current token without a new exchange.
//
// The exchange is detached from the caller that started it; send bounds it
// with the client timeout.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	ctx = context.WithoutCancel(ctx)
	v, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		if current := c.tokens.AccessToken(ctx); current != "" && current != stale {
			return current, nil
		}

		refreshToken := c.tokens.RefreshToken(ctx)
		if refreshToken == "" {
			return "", errors.New("no refresh token")
		}

		resp, err := c.send(ctx, request{
			method: http.MethodPost,
			path:   "/api/auth/refresh",
			body:   jsonBody(map[string]string{"refresh_token": refreshToken}),
		}, "")
		if err != nil {
			return "", err
		}
		if !resp.ok() {
			return "", errors.Errorf("refresh rejected: %s", errorDetail(resp))
		}

		var pair TokenPair
		if err := json.Unmarshal(resp.body, &pair); err != nil {
			return "", errors.Wrap(err, "decode refresh response")
		}
		if pair.AccessToken == "" {
			return "", errors.New("refresh returned no access token")
		}
		if err := c.tokens.SetPair(ctx, pair); err != nil {
			return "", err
		}
		c.logger.Debug().Msg("access token refreshed")
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// expire clears the session and tells the application to show the login view.
func (c *Client) expire(ctx context.Context, cause error) {
	c.logger.Warn().Err(cause).Msg("session expired")
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("failed to clear tokens")
	}

	c.mu.RLock()
	fn := c.onAuthExpired
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// =============================================================================
// RESULT DECODING
// =============================================================================

// call runs req and decodes a successful body into a Result.
func call[T any](ctx context.Context, c *Client, req request, fallback string) (Result[T], error) {
	var res Result[T]

	resp, err := c.do(ctx, req)
	if errors.Is(err, ErrAuthExpired) {
		res.Status = http.StatusUnauthorized
		res.Error = ErrAuthExpired.Error()
		return res, nil
	}
	if err != nil {
		return res, err
	}

	res.Status = resp.status
	if !resp.ok() {
		res.Error = errorDetail(resp)
		if res.Error == "" {
			res.Error = fallback
		}
		return res, nil
	}

	if len(bytes.TrimSpace(resp.body)) > 0 {
		if err := json.Unmarshal(resp.body, &res.Data); err != nil {
			return res, errors.Wrapf(err, "decode %s response", req.path)
		}
	}
	res.Success = true
	return res, nil
}

// errorDetail extracts the backend's error message. The backend reports
// either a string detail or a list of validation entries.
func errorDetail(resp response) string {
	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(resp.body, &envelope); err != nil {
		return strings.TrimSpace(http.StatusText(resp.status))
	}

	if len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil {
			return text
		}
		var entries []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &entries); err == nil {
			msgs := make([]string, 0, len(entries))
			for _, e := range entries {
				if e.Msg != "" {
					msgs = append(msgs, e.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if envelope.Message != "" {
		return envelope.Message
	}
	return strings.TrimSpace(http.StatusText(resp.status))
}
