package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/rpattn/canvasdb/internal/domain"
)

const (
	DefaultWebhookTimeout = 10 * time.Second
	maxDrainedBody        = 64 << 10
)

// HTTPDoer is the subset of *http.Client used for webhook delivery.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// WebhookSender POSTs record sets to webhook URLs. It never retries.
type WebhookSender struct {
	client   HTTPDoer
	timeout  time.Duration
	envelope bool
}

type WebhookOption func(*WebhookSender)

// WithWebhookTimeout bounds each delivery attempt.
func WithWebhookTimeout(timeout time.Duration) WebhookOption {
	return func(s *WebhookSender) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithEnvelope wraps the payload as {"data": [...]}.
func WithEnvelope(enabled bool) WebhookOption {
	return func(s *WebhookSender) {
		s.envelope = enabled
	}
}

// NewWebhookSender builds a sender. A nil client selects DefaultHTTPClient.
func NewWebhookSender(client HTTPDoer, opts ...WebhookOption) *WebhookSender {
	if client == nil {
		client = DefaultHTTPClient()
	}
	sender := &WebhookSender{client: client, timeout: DefaultWebhookTimeout}
	for _, opt := range opts {
		opt(sender)
	}
	return sender
}

// DefaultHTTPClient returns a client whose transport is traced with otelhttp.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

type webhookEnvelope struct {
	Data domain.RecordSet `json:"data"`
}

// Send delivers payload to target. A nil result means the receiver answered
// with a 2xx status.
func (s *WebhookSender) Send(ctx context.Context, nodeID, target string, payload domain.RecordSet) *domain.WebhookDeliveryError {
	fail := func(status int, cause error) *domain.WebhookDeliveryError {
		return &domain.WebhookDeliveryError{NodeID: nodeID, URL: target, StatusCode: status, Cause: cause}
	}

	if err := validateWebhookURL(target); err != nil {
		return fail(0, err)
	}

	var body any = payload
	if s.envelope {
		body = webhookEnvelope{Data: payload}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return fail(0, fmt.Errorf("encode payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainedBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, nil)
	}
	return nil
}

func validateWebhookURL(target string) error {
	if strings.TrimSpace(target) == "" {
		return fmt.Errorf("webhook url is empty")
	}
	parsed, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
