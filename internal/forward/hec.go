package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HECSink posts newline-delimited JSON events to a Splunk-compatible HTTP
// Event Collector endpoint.
type HECSink struct {
	name       string
	url        string
	token      string
	sourcetype string
	client     *http.Client
}

// NewHECSink creates a HEC sink for the collector at url.
func NewHECSink(name, url, token string) *HECSink {
	return &HECSink{
		name:       name,
		url:        url,
		token:      token,
		sourcetype: "jimini:decision",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HECSink) Name() string { return s.name }

type hecEnvelope struct {
	Event      Event  `json:"event"`
	Sourcetype string `json:"sourcetype"`
}

// Deliver posts the batch as one request of newline-delimited envelopes.
func (s *HECSink) Deliver(ctx context.Context, batch []Event) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range batch {
		if err := enc.Encode(hecEnvelope{Event: ev, Sourcetype: s.sourcetype}); err != nil {
			return &PermanentError{Msg: err.Error()}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &body)
	if err != nil {
		return &PermanentError{Msg: err.Error()}
	}
	req.Header.Set("Authorization", "Splunk "+s.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("hec post: %w", err)
	}
	return checkResponse(resp)
}
