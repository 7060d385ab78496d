// Package gateway is the evaluation façade: authorize, evaluate, audit,
// count, fan out, respond.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jglowsoap/jimini/internal/audit"
	"github.com/jglowsoap/jimini/internal/auth"
	"github.com/jglowsoap/jimini/internal/engine"
	"github.com/jglowsoap/jimini/internal/forward"
	"github.com/jglowsoap/jimini/internal/health"
	"github.com/jglowsoap/jimini/internal/metrics"
	"github.com/jglowsoap/jimini/internal/rules"
	"github.com/jglowsoap/jimini/internal/tracing"
)

// ErrInternal is returned when the decision could not be audited. The
// decision is withheld because an unrecorded decision is worse than a
// refused one.
var ErrInternal = errors.New("internal error")

// Redactor transforms the candidate text before evaluation. The gateway does
// not prescribe the redaction rules.
type Redactor interface {
	Redact(text string) string
}

// Gateway wires the evaluation pipeline together.
type Gateway struct {
	version    string
	store      *rules.Store
	engine     *engine.Engine
	chain      *audit.Chain
	counters   *metrics.Store
	forwarders []*forward.Forwarder
	alerts     *forward.Forwarder
	authorizer auth.Authorizer
	redactor   Redactor
	logger     *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuthorizer installs the credential check. Without one, every
// credential is accepted.
func WithAuthorizer(a auth.Authorizer) Option {
	return func(g *Gateway) { g.authorizer = a }
}

// WithRedactor installs the pre-evaluation text transformer.
func WithRedactor(r Redactor) Option {
	return func(g *Gateway) { g.redactor = r }
}

// WithForwarders installs the decision event sinks.
func WithForwarders(fs ...*forward.Forwarder) Option {
	return func(g *Gateway) { g.forwarders = append(g.forwarders, fs...) }
}

// WithAlertWebhook installs the forwarder receiving block/flag summaries.
func WithAlertWebhook(f *forward.Forwarder) Option {
	return func(g *Gateway) { g.alerts = f }
}

// WithVersion sets the version reported by the health probe.
func WithVersion(v string) Option {
	return func(g *Gateway) { g.version = v }
}

// New assembles a gateway.
func New(store *rules.Store, eng *engine.Engine, chain *audit.Chain, counters *metrics.Store, logger *zap.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		version:  "dev",
		store:    store,
		engine:   eng,
		chain:    chain,
		counters: counters,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate runs the full pipeline for one request. The audit append is the
// only step that can fail the request once the caller is authorized.
func (g *Gateway) Evaluate(ctx context.Context, req engine.Request, credential string) (engine.Decision, error) {
	ctx, span := tracing.Start(ctx, "gateway.evaluate")
	defer span.End()

	if g.authorizer != nil {
		if _, err := g.authorizer.Authorize(ctx, credential); err != nil {
			metrics.AuthFailures.Inc()
			return engine.Decision{}, auth.ErrUnauthorized
		}
	}

	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if g.redactor != nil {
		req.Text = g.redactor.Redact(req.Text)
	}

	set := g.store.Active()
	dec := g.engine.Evaluate(ctx, req, set)
	span.SetAttributes(
		attribute.String("decision.action", string(dec.Action)),
		attribute.Int("decision.rules", len(dec.RuleIDs)),
	)

	rec := &audit.Record{
		Timestamp:   audit.FormatTimestamp(time.Now()),
		RequestID:   req.RequestID,
		AgentID:     req.AgentID,
		Direction:   string(req.Direction),
		Endpoint:    req.Endpoint,
		Decision:    string(dec.Action),
		RuleIDs:     dec.RuleIDs,
		TextExcerpt: audit.Excerpt(req.Text),
		TextHash:    audit.TextHash(req.Text),
	}
	start := time.Now()
	if err := g.chain.Append(ctx, rec); err != nil {
		metrics.AuditAppendFailures.Inc()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return engine.Decision{}, err
		}
		g.logger.Error("Audit append failed, decision withheld",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return engine.Decision{}, ErrInternal
	}
	metrics.AuditAppendDuration.Observe(time.Since(start).Seconds())

	overrideEnforced := !dec.ShadowApplied && g.engine.ShadowMode() &&
		(dec.EnforcedAction == rules.ActionBlock || dec.EnforcedAction == rules.ActionFlag)
	g.counters.RecordDecision(req.Endpoint, string(req.Direction), string(dec.Action),
		dec.RuleIDs, req.AgentID, rec.TextExcerpt, overrideEnforced)

	event := forward.Event{
		Timestamp:     rec.Timestamp,
		RequestID:     req.RequestID,
		AgentID:       req.AgentID,
		Direction:     string(req.Direction),
		Endpoint:      req.Endpoint,
		Action:        string(dec.Action),
		RuleIDs:       dec.RuleIDs,
		Excerpt:       rec.TextExcerpt,
		ShadowApplied: dec.ShadowApplied,
	}
	for _, f := range g.forwarders {
		f.Enqueue(event)
	}
	if g.alerts != nil && (dec.Action == rules.ActionBlock || dec.Action == rules.ActionFlag) {
		g.alerts.Enqueue(event)
	}

	return dec, nil
}

// Health returns the liveness snapshot.
func (g *Gateway) Health() health.Status {
	return health.Status{
		Status:      "ok",
		ShadowMode:  g.engine.ShadowMode(),
		LoadedRules: g.store.Active().Len(),
		Version:     g.version,
	}
}

// VerifyAudit re-reads the audit log and validates the hash chain.
func (g *Gateway) VerifyAudit() (audit.VerifyResult, error) {
	return audit.Verify(g.chain.Path())
}

// AuditPath returns the audit log location for export tooling.
func (g *Gateway) AuditPath() string { return g.chain.Path() }

// Version returns the build version string.
func (g *Gateway) Version() string { return g.version }

// ReloadRules reloads the rule set and appends an admin audit event with the
// outcome.
func (g *Gateway) ReloadRules(ctx context.Context) error {
	err := g.store.Reload()
	status := "ok"
	if err != nil {
		status = "failed"
	}
	metrics.RuleReloads.WithLabelValues(status).Inc()

	meta := map[string]string{"status": status}
	if err != nil {
		meta["error"] = err.Error()
	}
	rec := audit.AdminRecord("rules_reload", meta)
	if appendErr := g.chain.Append(ctx, rec); appendErr != nil {
		g.logger.Warn("Failed to audit rule reload", zap.Error(appendErr))
	}
	return err
}
