package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/intellecta-lk/attendee/internal/webhook"
)

const requestTimeout = 30 * time.Second

type HTTPSender struct {
	client *http.Client
}

func NewHTTPSender() webhook.Sender {
	return &HTTPSender{
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (s *HTTPSender) Deliver(ctx context.Context, dr webhook.DeliveryRequest) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dr.URL, bytes.NewReader(dr.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Trigger", dr.Trigger)
	req.Header.Set("X-Webhook-Signature", Sign(dr.Payload, dr.Secret))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of the payload under the subscription
// secret. Receivers recompute it to verify the delivery origin.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
