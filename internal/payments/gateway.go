// Package payments integrates the external payment gateway: checkout session
// creation on the way out, and signed webhook events on the way back.
package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beatforge/storefront/internal/apperr"
	"github.com/beatforge/storefront/pkg/logger"
)

// Line is one payment line inside a checkout session. It carries the frozen
// snapshot the webhook consumer later rebuilds the order from, so the order
// never depends on re-reading the live catalog.
type Line struct {
	BeatID      string `json:"beat_id"`
	Title       string `json:"title"`
	LicenseType string `json:"license_type"`
	AmountCents int64  `json:"amount_cents"`
	Label       string `json:"label"`
}

// SessionRequest describes a checkout session to create.
type SessionRequest struct {
	Lines         []Line            `json:"lines"`
	CustomerEmail string            `json:"customer_email"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
	Metadata      map[string]string `json:"metadata"`
}

// Session is the gateway's reference for a pending checkout.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Gateway creates checkout sessions with the external provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
}

// Config configures the HTTP gateway client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// HTTPGateway is the production Gateway implementation. Calls have a finite
// timeout and transient failures are retried a bounded number of times;
// anything that still fails surfaces as a retryable external error.
type HTTPGateway struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	maxRetries int
	log        *logger.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway builds a gateway client.
func NewHTTPGateway(cfg Config, log *logger.Logger) *HTTPGateway {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 2
	}
	return &HTTPGateway{
		client:     &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		maxRetries: retries,
		log:        log,
	}
}

// CreateSession posts the session request to the provider.
func (g *HTTPGateway) CreateSession(ctx context.Context, req SessionRequest) (Session, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Session{}, apperr.Internal(err)
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		session, retryable, err := g.post(ctx, body)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}

	g.log.WithError(lastErr).Error("checkout session creation failed")
	return Session{}, apperr.External("payment gateway unavailable", lastErr)
}

func (g *HTTPGateway) post(ctx context.Context, body []byte) (Session, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return Session{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Session{}, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return Session{}, true, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Session{}, false, fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, false, fmt.Errorf("decode session response: %w", err)
	}
	if session.ID == "" {
		return Session{}, false, fmt.Errorf("gateway response missing session id")
	}
	return session, false, nil
}
