package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ElasticSink indexes events through an Elasticsearch-compatible bulk API.
type ElasticSink struct {
	name   string
	url    string
	index  string
	client *http.Client
}

// NewElasticSink creates a bulk-index sink. url is the cluster base URL.
func NewElasticSink(name, url, index string) *ElasticSink {
	return &ElasticSink{
		name:   name,
		url:    strings.TrimRight(url, "/"),
		index:  index,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *ElasticSink) Name() string { return s.name }

// Deliver posts action/document pairs to the _bulk endpoint.
func (s *ElasticSink) Deliver(ctx context.Context, batch []Event) error {
	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, ev := range batch {
		action := map[string]map[string]string{"index": {"_index": s.index}}
		if err := enc.Encode(action); err != nil {
			return &PermanentError{Msg: err.Error()}
		}
		if err := enc.Encode(ev); err != nil {
			return &PermanentError{Msg: err.Error()}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url+"/_bulk", &body)
	if err != nil {
		return &PermanentError{Msg: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("elastic bulk post: %w", err)
	}
	return checkResponse(resp)
}
