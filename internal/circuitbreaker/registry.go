package circuitbreaker

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out one breaker per outbound target, all sharing the same
// configuration, and records state changes in the breaker metrics.
type Registry struct {
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates a registry producing breakers with the given config.
func NewRegistry(config Config, logger *zap.Logger) *Registry {
	return &Registry{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for target, creating it on first use.
func (r *Registry) Get(target string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[target]; ok {
		return cb
	}
	cfg := r.config
	user := cfg.OnStateChange
	cfg.OnStateChange = func(name string, from, to State) {
		recordStateChange(name, from, to)
		if user != nil {
			user(name, from, to)
		}
	}
	cb := NewCircuitBreaker(target, cfg, r.logger)
	r.breakers[target] = cb
	recordState(target, StateClosed)
	return cb
}

// States returns a snapshot of every breaker's current state.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
