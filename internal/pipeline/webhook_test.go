package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rpattn/canvasdb/internal/domain"
)

func TestWebhookSender_PostsJSONArray(t *testing.T) {
	var (
		contentType string
		body        []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.Client())
	payload := domain.NewRecordSet([]domain.Record{{"sku": "A1"}})
	if warning := sender.Send(context.Background(), "w1", server.URL, payload); warning != nil {
		t.Fatalf("unexpected warning: %v", warning)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type %q", contentType)
	}
	var decoded []map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not a JSON array: %v (%s)", err, body)
	}
	if len(decoded) != 1 || decoded[0]["sku"] != "A1" {
		t.Fatalf("unexpected body %s", body)
	}
}

func TestWebhookSender_EmptyInputStillPosts(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.Client())
	if warning := sender.Send(context.Background(), "w1", server.URL, domain.RecordSet{}); warning != nil {
		t.Fatalf("unexpected warning: %v", warning)
	}
	if string(body) != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestWebhookSender_Envelope(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
	}))
	defer server.Close()

	sender := NewWebhookSender(server.Client(), WithEnvelope(true))
	payload := domain.NewRecordSet([]domain.Record{{"sku": "A1"}})
	if warning := sender.Send(context.Background(), "w1", server.URL, payload); warning != nil {
		t.Fatalf("unexpected warning: %v", warning)
	}
	var decoded struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if len(decoded.Data) != 1 {
		t.Fatalf("unexpected envelope %s", body)
	}
}

func TestWebhookSender_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	sender := NewWebhookSender(server.Client(), WithWebhookTimeout(50*time.Millisecond))
	warning := sender.Send(context.Background(), "w1", server.URL, domain.RecordSet{})
	if warning == nil {
		t.Fatalf("expected timeout warning")
	}
	if !errors.Is(warning, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", warning)
	}
	if warning.NodeID != "w1" {
		t.Fatalf("unexpected node id %q", warning.NodeID)
	}
}

func TestWebhookSender_InvalidURL(t *testing.T) {
	sender := NewWebhookSender(http.DefaultClient)
	for _, target := range []string{"", "   ", "ftp://example.com/hook", "http://"} {
		warning := sender.Send(context.Background(), "w1", target, domain.RecordSet{})
		if warning == nil {
			t.Fatalf("expected warning for %q", target)
		}
		if warning.StatusCode != 0 {
			t.Fatalf("unexpected status for %q: %d", target, warning.StatusCode)
		}
	}
}

func TestWebhookSender_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	warning := NewWebhookSender(server.Client()).Send(context.Background(), "w1", server.URL, domain.RecordSet{})
	if warning == nil || warning.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 warning, got %v", warning)
	}
	if code, ok := domain.ErrorCode(warning); !ok || code != domain.CodeWebhookDelivery {
		t.Fatalf("unexpected code %q", code)
	}
}
