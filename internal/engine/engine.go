// Package engine turns a request and the active rule set into a decision,
// applying condition matching, suppression, precedence, and shadow mode.
package engine

import (
	"context"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/jglowsoap/jimini/internal/metrics"
	"github.com/jglowsoap/jimini/internal/rules"
)

// Request is one candidate text to evaluate.
type Request struct {
	Text      string
	Direction rules.Direction
	Endpoint  string
	AgentID   string
	RequestID string
}

// Decision is the evaluation outcome. Action is what the caller sees;
// EnforcedAction is what would have been returned with shadow mode off.
type Decision struct {
	Action         rules.Action
	RuleIDs        []string
	ShadowApplied  bool
	EnforcedAction rules.Action
}

// LLMCapability evaluates a rule's prompt against the candidate text and
// returns whether the rule should fire. Implementations are external; the
// engine treats any error as "did not fire".
type LLMCapability interface {
	Evaluate(ctx context.Context, prompt, text string) (bool, error)
}

// DefaultLLMTimeout is the hard deadline applied to each capability call.
const DefaultLLMTimeout = 5 * time.Second

// Engine evaluates requests against rule set snapshots.
type Engine struct {
	logger     *zap.Logger
	llm        LLMCapability
	llmTimeout time.Duration
	shadow     atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLLM installs the external LLM capability. Without it, rules carrying
// an llm_prompt never fire.
func WithLLM(llm LLMCapability) Option {
	return func(e *Engine) { e.llm = llm }
}

// WithLLMTimeout overrides the per-call capability deadline.
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Engine) { e.llmTimeout = d }
}

// WithShadowMode sets the initial global shadow mode flag.
func WithShadowMode(on bool) Option {
	return func(e *Engine) { e.shadow.Store(on) }
}

// New creates an evaluation engine.
func New(logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:     logger,
		llmTimeout: DefaultLLMTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ShadowMode reports the global shadow mode flag.
func (e *Engine) ShadowMode() bool { return e.shadow.Load() }

// SetShadowMode flips the global shadow mode flag at runtime.
func (e *Engine) SetShadowMode(on bool) { e.shadow.Store(on) }

// Evaluate runs the decision algorithm over one rule set snapshot. It is
// deterministic for a fixed (set, request, shadow mode, LLM behavior).
func (e *Engine) Evaluate(ctx context.Context, req Request, set *rules.RuleSet) Decision {
	var fired []*rules.Rule
	for i := range set.Rules {
		r := &set.Rules[i]
		if !r.AdmitsDirection(req.Direction) || !r.MatchesEndpoint(req.Endpoint) {
			continue
		}
		if e.fires(ctx, r, req.Text) {
			fired = append(fired, r)
		}
	}

	fired = suppressGeneric(fired)

	ruleIDs := make([]string, 0, len(fired))
	enforced := rules.ActionAllow
	overrideEnforce := false
	for _, r := range fired {
		ruleIDs = append(ruleIDs, r.ID)
		if precedence(r.Action) > precedence(enforced) {
			enforced = r.Action
		}
		if r.ShadowOverride == rules.ShadowOverrideEnforce {
			overrideEnforce = true
		}
	}

	dec := Decision{
		Action:         enforced,
		RuleIDs:        ruleIDs,
		EnforcedAction: enforced,
	}

	if e.shadow.Load() && (enforced == rules.ActionBlock || enforced == rules.ActionFlag) {
		if !overrideEnforce {
			dec.Action = rules.ActionAllow
			dec.ShadowApplied = true
		}
	}
	return dec
}

// fires checks the rule's conditions conjunctively.
func (e *Engine) fires(ctx context.Context, r *rules.Rule, text string) bool {
	conditions := 0
	if r.HasPattern() {
		conditions++
		if r.PatternCount(text, r.MinCount) < r.MinCount {
			return false
		}
	}
	if r.MaxChars > 0 {
		conditions++
		if utf8.RuneCountInString(text) <= r.MaxChars {
			return false
		}
	}
	if r.LLMPrompt != "" {
		conditions++
		if !e.llmFires(ctx, r, text) {
			return false
		}
	}
	return conditions > 0
}

// llmFires queries the external capability under a hard deadline. A missing
// capability, timeout, or error means the rule does not fire (fail-safe).
func (e *Engine) llmFires(ctx context.Context, r *rules.Rule, text string) bool {
	if e.llm == nil {
		metrics.LLMUnavailable.Inc()
		return false
	}
	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()

	fire, err := e.llm.Evaluate(llmCtx, r.LLMPrompt, text)
	if err != nil {
		metrics.LLMUnavailable.Inc()
		e.logger.Warn("LLM capability unavailable, rule treated as not firing",
			zap.String("rule_id", r.ID),
			zap.Error(err),
		)
		return false
	}
	return fire
}

// suppressGeneric removes the generic API-1.0 rule when any specific secret
// rule also fired. Fixed engine policy, not data-driven.
func suppressGeneric(fired []*rules.Rule) []*rules.Rule {
	genericIdx := -1
	specific := false
	for i, r := range fired {
		if r.ID == rules.GenericAPIRuleID {
			genericIdx = i
		} else {
			specific = true
		}
	}
	if genericIdx < 0 || !specific {
		return fired
	}
	return append(fired[:genericIdx:genericIdx], fired[genericIdx+1:]...)
}

func precedence(a rules.Action) int {
	switch a {
	case rules.ActionBlock:
		return 2
	case rules.ActionFlag:
		return 1
	default:
		return 0
	}
}
