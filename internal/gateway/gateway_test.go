package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jglowsoap/jimini/internal/audit"
	"github.com/jglowsoap/jimini/internal/auth"
	"github.com/jglowsoap/jimini/internal/circuitbreaker"
	"github.com/jglowsoap/jimini/internal/engine"
	"github.com/jglowsoap/jimini/internal/forward"
	"github.com/jglowsoap/jimini/internal/metrics"
	"github.com/jglowsoap/jimini/internal/retry"
	"github.com/jglowsoap/jimini/internal/rules"
)

const testRules = `
rules:
  - id: IL-AI-4.2
    action: block
    pattern: '\b\d{3}-\d{2}-\d{4}\b'
`

type fixture struct {
	gw       *Gateway
	chain    *audit.Chain
	counters *metrics.Store
	audit    string
}

func newFixture(t *testing.T, rulesDoc string, shadow bool, opts ...Option) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte(rulesDoc), 0o600))
	store, err := rules.NewStore(rulesPath, logger)
	require.NoError(t, err)

	auditPath := filepath.Join(dir, "audit.jsonl")
	chain, err := audit.Open(auditPath, logger)
	require.NoError(t, err)
	t.Cleanup(func() { chain.Close() })

	eng := engine.New(logger, engine.WithShadowMode(shadow))
	counters := metrics.NewStore()
	gw := New(store, eng, chain, counters, logger, opts...)
	return &fixture{gw: gw, chain: chain, counters: counters, audit: auditPath}
}

func TestEvaluateBlocksAndAudits(t *testing.T) {
	fx := newFixture(t, testRules, false)

	dec, err := fx.gw.Evaluate(context.Background(), engine.Request{
		Text:      "My SSN is 123-45-6789",
		Direction: rules.DirectionOutbound,
		Endpoint:  "/test",
		AgentID:   "agent-1",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, rules.ActionBlock, dec.Action)
	assert.Equal(t, []string{"IL-AI-4.2"}, dec.RuleIDs)

	res, err := audit.Verify(fx.audit)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, 1, res.Count)

	records, err := audit.Query(fx.audit, audit.Filter{Action: "block"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "agent-1", records[0].AgentID)
	assert.Equal(t, audit.TextHash("My SSN is 123-45-6789"), records[0].TextHash)
	assert.NotEmpty(t, records[0].RequestID, "request id assigned when absent")

	snap := fx.counters.Snapshot()
	assert.EqualValues(t, 1, snap[metrics.Key{Decision: "block"}])
	assert.EqualValues(t, 1, snap[metrics.Key{RuleID: "IL-AI-4.2"}])
}

func TestEvaluateShadowMode(t *testing.T) {
	fx := newFixture(t, testRules, true)

	dec, err := fx.gw.Evaluate(context.Background(), engine.Request{
		Text:      "My SSN is 123-45-6789",
		Direction: rules.DirectionOutbound,
		Endpoint:  "/test",
		AgentID:   "agent-1",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, rules.ActionAllow, dec.Action)
	assert.Equal(t, []string{"IL-AI-4.2"}, dec.RuleIDs)
	assert.True(t, dec.ShadowApplied)
	assert.Equal(t, rules.ActionBlock, dec.EnforcedAction)

	// The audit record carries the returned action.
	records, err := audit.Query(fx.audit, audit.Filter{Action: "allow"})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestEvaluateUnauthorized(t *testing.T) {
	fx := newFixture(t, testRules, false,
		WithAuthorizer(auth.NewAPIKeyAuthorizer("right-key")))

	_, err := fx.gw.Evaluate(context.Background(), engine.Request{Text: "hi"}, "wrong-key")
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	// Rejected credentials are not audited.
	res, verr := audit.Verify(fx.audit)
	require.NoError(t, verr)
	assert.Equal(t, 0, res.Count)
}

func TestEvaluateDeadlineExceeded(t *testing.T) {
	fx := newFixture(t, testRules, false)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := fx.gw.Evaluate(ctx, engine.Request{Text: "hi"}, "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	res, verr := audit.Verify(fx.audit)
	require.NoError(t, verr)
	assert.Equal(t, 0, res.Count, "no audit record for an unreturned decision")
}

func TestEvaluateInternalErrorOnAuditFailure(t *testing.T) {
	fx := newFixture(t, testRules, false)
	require.NoError(t, fx.chain.Close())

	_, err := fx.gw.Evaluate(context.Background(), engine.Request{Text: "hi"}, "")
	assert.Error(t, err)
}

type captureSink struct {
	mu     sync.Mutex
	events []forward.Event
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Deliver(_ context.Context, batch []forward.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, batch...)
	return nil
}

func (s *captureSink) delivered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

type recordingRedactor struct{ seen string }

func (r *recordingRedactor) Redact(text string) string {
	r.seen = text
	return strings.ReplaceAll(text, "123-45-6789", "[REDACTED]")
}

func TestRedactorRunsBeforeEvaluation(t *testing.T) {
	red := &recordingRedactor{}
	fx := newFixture(t, testRules, false, WithRedactor(red))

	dec, err := fx.gw.Evaluate(context.Background(), engine.Request{
		Text: "My SSN is 123-45-6789",
	}, "")
	require.NoError(t, err)

	assert.Equal(t, "My SSN is 123-45-6789", red.seen)
	assert.Equal(t, rules.ActionAllow, dec.Action, "redacted text no longer matches")
}

func TestEvaluateFansOutToForwarders(t *testing.T) {
	logger := zaptest.NewLogger(t)
	sink := &captureSink{}
	cb := circuitbreaker.NewCircuitBreaker("capture", circuitbreaker.DefaultConfig(), logger)
	fwd := forward.New(sink, cb, retry.DefaultPolicy(), nil,
		forward.Config{BatchSize: 1, FlushInterval: 10 * time.Millisecond, QueueSize: 16}, logger)
	fwd.Start()
	defer fwd.Stop()

	fx := newFixture(t, testRules, false, WithForwarders(fwd), WithAlertWebhook(fwd))

	_, err := fx.gw.Evaluate(context.Background(), engine.Request{
		Text:      "My SSN is 123-45-6789",
		Direction: rules.DirectionOutbound,
		Endpoint:  "/test",
		AgentID:   "agent-1",
	}, "")
	require.NoError(t, err)

	// One decision event plus one alert for the block.
	require.Eventually(t, func() bool { return sink.delivered() == 2 },
		2*time.Second, 10*time.Millisecond)
}

func TestHealthSnapshot(t *testing.T) {
	fx := newFixture(t, testRules, true, WithVersion("1.2.3"))

	h := fx.gw.Health()
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.ShadowMode)
	assert.Equal(t, 1, h.LoadedRules)
	assert.Equal(t, "1.2.3", h.Version)
}

func TestReloadRulesAppendsAdminEvent(t *testing.T) {
	fx := newFixture(t, testRules, false)

	require.NoError(t, fx.gw.ReloadRules(context.Background()))

	records, err := audit.Query(fx.audit, audit.Filter{Action: "event"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ok", records[0].Metadata["status"])

	res, err := audit.Verify(fx.audit)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}
