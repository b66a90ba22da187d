// Package mailer wraps a single outbound send to the transactional-email
// provider. It never lets an error escape as a panic: callers always get a
// Result or a structured error and can update persistent state
// deterministically.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/webq/notify-gateway/internal/retry"
)

var ErrNotConfigured = errors.New("mailer: no API key configured")

// Mailer is the Delivery Transport consumed by the queue processor, the
// enqueuer fallback path, and the escalation monitor.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

type Result struct {
	ID string `json:"id"`
}

type HTTPMailer struct {
	baseURL string
	apiKey  string
	client  *http.Client
	policy  retry.Policy
}

type Config struct {
	BaseURL       string
	APIKey        string
	TimeoutMs     int
	RetryAttempts int
	RetryBase     time.Duration
}

func NewHTTPMailer(cfg Config) *HTTPMailer {
	if cfg.TimeoutMs <= 0 {
		cfg.TimeoutMs = 10000
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}

	return &HTTPMailer{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond},
		policy:  retry.Policy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBase},
	}
}

// Send posts the message to the provider, retrying transient failures within
// this single call. This inner loop is independent of the queue processor's
// cross-run attempts counter.
func (m *HTTPMailer) Send(ctx context.Context, msg Message) (Result, error) {
	if m.apiKey == "" {
		return Result{}, ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return Result{}, errors.New("mailer: no recipients")
	}

	var res Result
	err := retry.Do(ctx, m.policy, func(ctx context.Context) error {
		r, err := m.post(ctx, msg)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (m *HTTPMailer) post(ctx context.Context, msg Message) (Result, error) {
	b, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/emails", bytes.NewReader(b))
	if err != nil {
		return Result{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return Result{}, err
	}

	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, fmt.Errorf("mailer: provider status=%d body=%s", resp.StatusCode, body)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("mailer: decode response: %w", err)
	}
	return res, nil
}
