package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jglowsoap/jimini/internal/metrics"
)

// WebhookSink posts compact alert summaries, one POST per event. Alerts are
// throttled by a token bucket so a rule misfire cannot flood the receiver.
type WebhookSink struct {
	name    string
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

// NewWebhookSink creates an alert webhook sink. ratePerMinute <= 0 disables
// throttling.
func NewWebhookSink(name, url string, ratePerMinute int) *WebhookSink {
	var limiter *rate.Limiter
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}
	return &WebhookSink{
		name:    name,
		url:     url,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: limiter,
	}
}

func (s *WebhookSink) Name() string { return s.name }

// alertPayload is the compact summary posted to the webhook. It never
// includes the full candidate text.
type alertPayload struct {
	Action    string   `json:"action"`
	AgentID   string   `json:"agent_id"`
	Endpoint  string   `json:"endpoint"`
	Direction string   `json:"direction"`
	RuleIDs   []string `json:"rule_ids"`
	Excerpt   string   `json:"excerpt"`
	Timestamp string   `json:"timestamp"`
}

// Deliver posts each event, skipping those over the rate limit.
func (s *WebhookSink) Deliver(ctx context.Context, batch []Event) error {
	for _, ev := range batch {
		if s.limiter != nil && !s.limiter.Allow() {
			metrics.AlertsThrottled.Inc()
			continue
		}
		if err := s.post(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, ev Event) error {
	payload := alertPayload{
		Action:    ev.Action,
		AgentID:   ev.AgentID,
		Endpoint:  ev.Endpoint,
		Direction: ev.Direction,
		RuleIDs:   ev.RuleIDs,
		Excerpt:   ev.Excerpt,
		Timestamp: ev.Timestamp,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return &PermanentError{Msg: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	return checkResponse(resp)
}
