package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loadline/internal/config"
	"loadline/internal/domain"
)

const defaultWebhookTimeout = 5 * time.Second

// Headers set on every webhook request.
const (
	HeaderEvent        = "X-Loadline-Event"
	HeaderDelivery     = "X-Loadline-Delivery"
	HeaderOrganization = "X-Loadline-Organization"
	HeaderSignature    = "X-Loadline-Signature"
)

// WebhookSink POSTs the event envelope as JSON. With a secret configured the
// body is signed and the signature sent as "sha256=<hex>".
type WebhookSink struct {
	id     string
	url    string
	secret string
	filter eventFilter
	client *http.Client
}

func NewWebhookSink(hook config.WebhookConfig, client *http.Client) *WebhookSink {
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	id := hook.ID
	if id == "" {
		id = hook.URL
	}
	return &WebhookSink{
		id:     "webhook:" + id,
		url:    hook.URL,
		secret: strings.TrimSpace(hook.Secret),
		filter: newEventFilter(hook.Events),
		client: client,
	}
}

func (s *WebhookSink) ID() string { return s.id }

func (s *WebhookSink) Accepts(eventType string) bool { return s.filter.match(eventType) }

func (s *WebhookSink) Deliver(ctx context.Context, evt domain.Event) error {
	data, err := json.Marshal(NewEnvelope(evt))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, evt.Type)
	req.Header.Set(HeaderDelivery, fmt.Sprintf("%d", evt.ID))
	req.Header.Set(HeaderOrganization, evt.OrganizationID)
	if s.secret != "" {
		req.Header.Set(HeaderSignature, "sha256="+Sign(s.secret, data))
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
