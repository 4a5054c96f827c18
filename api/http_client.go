package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-auth-session/internal/errors"
	"github.com/jrsteele09/go-auth-session/users"
)

const (
	pathLogin    = "/login"
	pathProvider = "/login/oauth"
	pathRegister = "/register"
	pathRefresh  = "/token/refresh"
	pathMe       = "/me"
	pathLogout   = "/logout"

	maxResponseBytes = 1 << 20
)

// HTTPClient talks to the backend over JSON/HTTP.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

var _ API = (*HTTPClient)(nil)

type HTTPClientOption func(*HTTPClient)

func WithHTTPClient(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

func WithLogger(l zerolog.Logger) HTTPClientOption {
	return func(h *HTTPClient) {
		h.log = l
	}
}

// NewHTTPClient builds a client for baseURL (for example "https://example.com/api").
// timeout is the per-request ceiling applied when no *http.Client is supplied; callers
// pass tighter deadlines through ctx.
func NewHTTPClient(baseURL string, timeout time.Duration, options ...HTTPClientOption) *HTTPClient {
	h := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.Logger,
	}
	for _, opt := range options {
		opt(h)
	}
	return h
}

func (h *HTTPClient) Login(ctx context.Context, credentials Credentials) (*AuthResponse, error) {
	var out AuthResponse
	if err := h.do(ctx, http.MethodPost, pathLogin, "", credentials, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) LoginWithProvider(ctx context.Context, providerToken string) (*ProviderResponse, error) {
	var out ProviderResponse
	if err := h.do(ctx, http.MethodPost, pathProvider, "", providerRequest{ProviderToken: providerToken}, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) Register(ctx context.Context, profile Profile) (*AuthResponse, error) {
	var out AuthResponse
	if err := h.do(ctx, http.MethodPost, pathRegister, "", profile, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	if err := h.do(ctx, http.MethodPost, pathRefresh, "", refreshRequest{RefreshToken: refreshToken}, &out); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}

func (h *HTTPClient) Me(ctx context.Context, accessToken string) (*users.User, error) {
	var out meResponse
	if err := h.do(ctx, http.MethodGet, pathMe, accessToken, nil, &out); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, fmt.Errorf("[HTTPClient.Me] response missing user: %w", errors.ErrMalformedResponse)
	}
	return out.User, nil
}

func (h *HTTPClient) Logout(ctx context.Context, accessToken string) error {
	return h.do(ctx, http.MethodPost, pathLogout, accessToken, nil, nil)
}

func (h *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("[HTTPClient] encode %s body: %w", path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("[HTTPClient] build %s request: %w", path, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	resp, err := h.http.Do(req)
	if err != nil {
		h.log.Debug().Str("method", method).Str("path", path).Str("request_id", requestID).Err(err).Msg("api.request.failed")
		return fmt.Errorf("%s %s: %w: %w", method, path, errors.ErrNetworkFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.log.Debug().
		Str("method", method).
		Str("path", path).
		Str("request_id", requestID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api.request")

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %w", method, path, errors.ErrNetworkFailure, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(raw, &eb) == nil {
			se.Message = eb.Message
			if se.Message == "" {
				se.Message = eb.Error
			}
		}
		return se
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		if out != nil {
			return fmt.Errorf("%s %s: empty body: %w", method, path, errors.ErrMalformedResponse)
		}
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w: %w", method, path, errors.ErrMalformedResponse, err)
	}
	return nil
}
