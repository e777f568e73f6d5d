package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/intellecta-lk/attendee/internal/webhook"
)

func TestDeliver_Success(t *testing.T) {
	var gotBody string
	var gotSignature string
	var gotTrigger string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Fatalf("unexpected content type: %s", ct)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		gotBody = string(body)
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotTrigger = r.Header.Get("X-Webhook-Trigger")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender()
	payload := []byte(`{"trigger":"bot.state_change"}`)
	err := sender.Deliver(context.Background(), webhook.DeliveryRequest{
		URL:     server.URL,
		Secret:  "s3cret",
		Trigger: webhook.TriggerBotStateChange,
		Payload: payload,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if gotBody != string(payload) {
		t.Fatalf("unexpected body: %s", gotBody)
	}
	if gotTrigger != webhook.TriggerBotStateChange {
		t.Fatalf("unexpected trigger header: %s", gotTrigger)
	}

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload)
	want := hex.EncodeToString(mac.Sum(nil))
	if gotSignature != want {
		t.Fatalf("signature mismatch: got %s, want %s", gotSignature, want)
	}
}

func TestDeliver_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewHTTPSender()
	err := sender.Deliver(context.Background(), webhook.DeliveryRequest{
		URL:     server.URL,
		Secret:  "s3cret",
		Trigger: webhook.TriggerTranscriptUpdate,
		Payload: []byte(`{}`),
	})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}

func TestSign_Deterministic(t *testing.T) {
	a := Sign([]byte("payload"), "secret")
	b := Sign([]byte("payload"), "secret")
	if a != b {
		t.Fatalf("signatures differ: %s vs %s", a, b)
	}
	if c := Sign([]byte("payload"), "other"); c == a {
		t.Fatal("different secrets must yield different signatures")
	}
}
