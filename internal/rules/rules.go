// Package rules holds the policy rule model: YAML loading, validation,
// regex compilation, and the hot-swappable active rule set.
package rules

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Action is the outcome a rule requests when it fires.
type Action string

const (
	ActionAllow Action = "allow"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Valid reports whether a is one of the three known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionAllow, ActionFlag, ActionBlock:
		return true
	}
	return false
}

// Direction is the traffic direction a request was captured on.
type Direction string

const (
	DirectionInbound     Direction = "inbound"
	DirectionOutbound    Direction = "outbound"
	DirectionUnspecified Direction = ""
)

// ShadowOverrideEnforce opts a single rule out of global shadow mode.
const ShadowOverrideEnforce = "enforce"

// GenericAPIRuleID is the generic secret-detection rule that is suppressed
// whenever a more specific secret rule fires alongside it.
const GenericAPIRuleID = "API-1.0"

// Rule is a single policy rule as loaded from a rules document.
//
// At least one of Pattern, MaxChars, or LLMPrompt must be present. Multiple
// conditions on one rule are conjunctive. Unknown document keys are retained
// in Extras for forward compatibility but never influence evaluation.
type Rule struct {
	ID             string      `yaml:"id"`
	Title          string      `yaml:"title,omitempty"`
	Severity       string      `yaml:"severity,omitempty"`
	Tags           []string    `yaml:"tags,omitempty"`
	Action         Action      `yaml:"action"`
	Pattern        string      `yaml:"pattern,omitempty"`
	MinCount       int         `yaml:"min_count,omitempty"`
	MaxChars       int         `yaml:"max_chars,omitempty"`
	LLMPrompt      string      `yaml:"llm_prompt,omitempty"`
	AppliesTo      []Direction `yaml:"applies_to,omitempty"`
	Endpoints      []string    `yaml:"endpoints,omitempty"`
	ShadowOverride string      `yaml:"shadow_override,omitempty"`

	Extras map[string]interface{} `yaml:"-"`

	re *regexp.Regexp
}

var knownRuleKeys = map[string]bool{
	"id": true, "title": true, "severity": true, "tags": true,
	"action": true, "pattern": true, "min_count": true, "max_chars": true,
	"llm_prompt": true, "applies_to": true, "endpoints": true,
	"shadow_override": true,
}

// UnmarshalYAML decodes the known fields and stashes any unknown keys in
// Extras so newer rule documents load on older gateways.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	type plain Rule
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	for k := range raw {
		if knownRuleKeys[k] {
			delete(raw, k)
		}
	}
	*r = Rule(p)
	if len(raw) > 0 {
		r.Extras = raw
	}
	return nil
}

// HasPattern reports whether the rule carries a regex condition.
func (r *Rule) HasPattern() bool { return r.Pattern != "" }

// PatternCount returns the number of non-overlapping matches of the rule's
// pattern in text, scanning at most limit matches (limit <= 0 means all).
func (r *Rule) PatternCount(text string, limit int) int {
	if r.re == nil {
		return 0
	}
	if limit <= 0 {
		limit = -1
	}
	return len(r.re.FindAllStringIndex(text, limit))
}

// RuleLoadError describes why a rules document was rejected. The whole
// document fails on the first invalid rule; no partial loads.
type RuleLoadError struct {
	RuleID string
	Field  string
	Reason string
}

func (e *RuleLoadError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("rule load failed: %s", e.Reason)
	}
	return fmt.Sprintf("rule load failed: rule %q field %q: %s", e.RuleID, e.Field, e.Reason)
}

// RuleSet is an immutable snapshot of compiled rules. Evaluations capture a
// snapshot once and use it for their whole lifetime, so a concurrent reload
// never changes a decision mid-flight.
type RuleSet struct {
	Rules []Rule
}

type document struct {
	Rules []Rule `yaml:"rules"`
}

// Parse decodes, validates, and compiles a YAML rules document.
func Parse(data []byte) (*RuleSet, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &RuleLoadError{Reason: fmt.Sprintf("invalid YAML: %v", err)}
	}
	set := &RuleSet{Rules: doc.Rules}
	seen := make(map[string]bool, len(set.Rules))
	for i := range set.Rules {
		r := &set.Rules[i]
		if r.ID == "" {
			return nil, &RuleLoadError{Field: "id", Reason: "missing rule id"}
		}
		if seen[r.ID] {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "id", Reason: "duplicate rule id"}
		}
		seen[r.ID] = true
		if !r.Action.Valid() {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "action", Reason: fmt.Sprintf("unknown action %q", r.Action)}
		}
		if r.Pattern == "" && r.MaxChars == 0 && r.LLMPrompt == "" {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "pattern", Reason: "rule needs at least one of pattern, max_chars, llm_prompt"}
		}
		if r.Pattern != "" {
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, &RuleLoadError{RuleID: r.ID, Field: "pattern", Reason: err.Error()}
			}
			r.re = re
		}
		if r.MinCount < 0 {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "min_count", Reason: "min_count must be >= 1"}
		}
		if r.MinCount == 0 {
			r.MinCount = 1
		}
		if r.MaxChars < 0 {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "max_chars", Reason: "max_chars must be positive"}
		}
		for _, d := range r.AppliesTo {
			if d != DirectionInbound && d != DirectionOutbound {
				return nil, &RuleLoadError{RuleID: r.ID, Field: "applies_to", Reason: fmt.Sprintf("unknown direction %q", d)}
			}
		}
		if r.ShadowOverride != "" && r.ShadowOverride != ShadowOverrideEnforce {
			return nil, &RuleLoadError{RuleID: r.ID, Field: "shadow_override", Reason: fmt.Sprintf("unknown shadow_override %q", r.ShadowOverride)}
		}
	}
	return set, nil
}

// Load reads and parses a rules document from disk.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &RuleLoadError{Reason: fmt.Sprintf("read %s: %v", path, err)}
	}
	return Parse(data)
}

// Serialize renders the set back to a YAML document. Cosmetic and unknown
// fields beyond the modeled ones are not preserved.
func (rs *RuleSet) Serialize() ([]byte, error) {
	return yaml.Marshal(document{Rules: rs.Rules})
}

// Len returns the number of rules in the set.
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.Rules)
}
