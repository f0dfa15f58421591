// Package gateway is the synchronous request path to the clinical API:
// JSON in, JSON out, bearer attached, bounded by a per-request timeout.
package gateway

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/telemetry"
)

// ErrRequestTimeout is returned when the upstream does not answer
// within the configured request timeout.
var ErrRequestTimeout = errors.New("gateway: request timed out")

// TokenSource supplies the bearer credential for outbound calls.
type TokenSource interface {
	Authenticated() bool
	AccessToken() string
}

// APIError carries a non-2xx upstream response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway: upstream returned %d: %s", e.Status, e.Message)
}

// Gateway issues authenticated JSON requests against the clinical API.
type Gateway struct {
	baseURL string
	timeout time.Duration
	client  *http.Client
	tokens  TokenSource
	metrics *telemetry.Provider
	logger  *zap.Logger
}

// New constructs the gateway. The http.Client carries no timeout of its
// own; every call is bounded through its context instead.
func New(cfg *config.GatewaySettings, tokens TokenSource, metrics *telemetry.Provider, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}

	return &Gateway{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.RequestTimeout,
		client:  &http.Client{},
		tokens:  tokens,
		metrics: metrics,
		logger:  log,
	}
}

// Get issues a GET and decodes the response into out.
func (g *Gateway) Get(ctx context.Context, path string, out any) error {
	return g.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST with a JSON body and decodes the response into out.
func (g *Gateway) Post(ctx context.Context, path string, body, out any) error {
	return g.Do(ctx, http.MethodPost, path, body, out)
}

// Do issues one request. body is JSON-encoded when non-nil; a non-2xx
// answer surfaces as *APIError, a missed deadline as ErrRequestTimeout.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.tokens.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+g.tokens.AccessToken())
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			g.metrics.ObserveGatewayRequest("timeout")
			g.logger.Warn("upstream request timed out",
				zap.String("method", method),
				zap.String("path", path),
				zap.Duration("after", time.Since(start)),
			)
			return ErrRequestTimeout
		}
		g.metrics.ObserveGatewayRequest("transport_error")
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	g.metrics.ObserveGatewayRequest(strconv.Itoa(resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return g.decodeError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

func (g *Gateway) decodeError(resp *http.Response) error {
	apiErr := &APIError{
		Status:  resp.StatusCode,
		Message: http.StatusText(resp.StatusCode),
	}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		if body.Message != "" {
			apiErr.Message = body.Message
		} else if body.Error != "" {
			apiErr.Message = body.Error
		}
	}

	g.logger.Warn("upstream rejected request",
		zap.Int("status", apiErr.Status),
		zap.String("message", apiErr.Message),
	)
	return apiErr
}
