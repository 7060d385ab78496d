// Package metrics keeps the in-process decision counters, the recent-decision
// ring buffer, and the Prometheus collectors mirroring them.
package metrics

import (
	"sync"
	"sync/atomic"
)

// Key is the composite counter key. RuleID is empty for the per-endpoint,
// per-direction, and per-decision totals.
type Key struct {
	Endpoint  string
	Direction string
	Decision  string
	RuleID    string
}

// RecentDecision is one entry of the introspection ring buffer.
type RecentDecision struct {
	AgentID  string   `json:"agent_id"`
	Decision string   `json:"decision"`
	RuleIDs  []string `json:"rule_ids"`
	Excerpt  string   `json:"excerpt"`
}

// ringSize is the number of recent decisions retained for introspection.
const ringSize = 100

// Store holds monotonic decision counters and the ring buffer. Increments
// are atomic; Snapshot may observe slightly stale values but each counter is
// individually consistent.
type Store struct {
	counters sync.Map // Key -> *int64

	ringMu  sync.Mutex
	ring    [ringSize]RecentDecision
	ringLen int
	ringPos int
}

// NewStore returns an empty counter store.
func NewStore() *Store {
	return &Store{}
}

func (s *Store) inc(k Key) {
	v, ok := s.counters.Load(k)
	if !ok {
		v, _ = s.counters.LoadOrStore(k, new(int64))
	}
	atomic.AddInt64(v.(*int64), 1)
}

// RecordDecision applies all counter increments for one evaluation: one per
// decision total, one per fired rule, plus endpoint and direction totals.
func (s *Store) RecordDecision(endpoint, direction, action string, ruleIDs []string, agentID, excerpt string, overrideEnforced bool) {
	s.inc(Key{Decision: action})
	s.inc(Key{Endpoint: endpoint})
	s.inc(Key{Direction: direction})
	for _, id := range ruleIDs {
		s.inc(Key{RuleID: id})
		RuleHits.WithLabelValues(id).Inc()
	}
	if overrideEnforced {
		s.inc(Key{Decision: "shadow_override_enforced"})
		ShadowOverridesEnforced.Inc()
	}
	EvaluationsTotal.WithLabelValues(action).Inc()

	s.ringMu.Lock()
	s.ring[s.ringPos] = RecentDecision{
		AgentID:  agentID,
		Decision: action,
		RuleIDs:  append([]string(nil), ruleIDs...),
		Excerpt:  excerpt,
	}
	s.ringPos = (s.ringPos + 1) % ringSize
	if s.ringLen < ringSize {
		s.ringLen++
	}
	s.ringMu.Unlock()
}

// Snapshot returns a copy of every counter.
func (s *Store) Snapshot() map[Key]int64 {
	out := make(map[Key]int64)
	s.counters.Range(func(k, v interface{}) bool {
		out[k.(Key)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

// Recent returns the ring buffer contents, oldest first.
func (s *Store) Recent() []RecentDecision {
	s.ringMu.Lock()
	defer s.ringMu.Unlock()

	out := make([]RecentDecision, 0, s.ringLen)
	start := s.ringPos - s.ringLen
	for i := 0; i < s.ringLen; i++ {
		out = append(out, s.ring[(start+i+ringSize)%ringSize])
	}
	return out
}

// Reset clears every counter and the ring buffer. Administrative use only;
// counters are otherwise monotonic.
func (s *Store) Reset() {
	s.counters.Range(func(k, _ interface{}) bool {
		s.counters.Delete(k)
		return true
	})
	s.ringMu.Lock()
	s.ringLen = 0
	s.ringPos = 0
	s.ringMu.Unlock()
}
