package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// GatewayErrorKind classifies a single HTTP Gateway call as retryable
// or terminal.
type GatewayErrorKind string

const (
	ErrNetwork    GatewayErrorKind = "NETWORK"    // no response received; retryable
	ErrServer     GatewayErrorKind = "SERVER"     // status >= 500; retryable
	ErrThrottled  GatewayErrorKind = "THROTTLED"  // status 429; retryable
	ErrClient     GatewayErrorKind = "CLIENT"     // other 4xx; terminal
	ErrDecode     GatewayErrorKind = "DECODE"     // body could not be parsed; terminal
)

// Retryable reports whether a failure of this kind is worth retrying.
func (k GatewayErrorKind) Retryable() bool {
	switch k {
	case ErrNetwork, ErrServer, ErrThrottled:
		return true
	default:
		return false
	}
}

// GatewayError is the error type returned by HTTPGateway.Do.
type GatewayError struct {
	Kind       GatewayErrorKind
	StatusCode int
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// HTTPGateway issues single requests to the upstream aggregator,
// attaching a correlation id, measuring latency, and classifying
// failures. Grounded on services/api_provider.go's http.Client usage.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
	deadline time.Duration
}

// NewHTTPGateway builds a gateway against baseURL, authenticating with
// a bearer apiKey. deadline defaults to 30s when zero.
func NewHTTPGateway(baseURL, apiKey string, deadline time.Duration) *HTTPGateway {
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	return &HTTPGateway{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: deadline},
		deadline: deadline,
	}
}

// Do issues one request to path with the given method/body/headers and
// returns the decoded JSON body into out, or a *GatewayError.
func (g *HTTPGateway) Do(ctx context.Context, method, path string, body interface{}, headers map[string]string, out interface{}) error {
	correlationID := uuid.NewString()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Kind: ErrDecode, Err: fmt.Errorf("encode request body: %w", err)}
		}
		reader = bytes.NewReader(b)
	}

	ctx, cancel := context.WithTimeout(ctx, g.deadline)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return &GatewayError{Kind: ErrNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("X-Correlation-Id", correlationID)
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	log.Printf("[httpgw] %s %s start correlation_id=%s", method, path, correlationID)

	resp, err := g.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Printf("[httpgw] %s %s network error correlation_id=%s elapsed=%s err=%v", method, path, correlationID, elapsed, err)
		return &GatewayError{Kind: ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	log.Printf("[httpgw] %s %s end correlation_id=%s status=%d elapsed=%s", method, path, correlationID, resp.StatusCode, elapsed)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &GatewayError{Kind: ErrDecode, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &GatewayError{Kind: ErrThrottled, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", respBody)}
	case resp.StatusCode >= 500:
		return &GatewayError{Kind: ErrServer, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", respBody)}
	case resp.StatusCode >= 400:
		return &GatewayError{Kind: ErrClient, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &GatewayError{Kind: ErrDecode, StatusCode: resp.StatusCode, Err: err}
		}
	}
	return nil
}
