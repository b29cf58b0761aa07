package broker

import (
	"os"
	"sync"
	"time"
)

// Registry pools one RedisBroker per port, matching spec.md §4.2/§4.3:
// "Constructor ... opens/uses a broker connection keyed by
// broker_spec.port". Publishers, subscribers, and RPC agents that share a
// port share a connection instead of each dialing their own.
type Registry struct {
	mu                  sync.Mutex
	brokers             map[int]*RedisBroker
	host                string
	healthCheckInterval time.Duration
}

// NewRegistry creates an empty registry. host overrides REDIS_HOST and
// healthCheckInterval overrides REDIS_HEALTH_INTERVAL for every connection
// this registry opens; pass "" / 0 to use the built-in defaults (localhost,
// DefaultHealthCheckInterval). NewRegistry does not read the environment
// itself — only the Default registry is built from REDIS_HOST and
// REDIS_HEALTH_INTERVAL — so callers that resolved these through
// internal/config (file then env precedence) pass the resolved values.
func NewRegistry(host string, healthCheckInterval time.Duration) *Registry {
	return &Registry{
		brokers:             make(map[int]*RedisBroker),
		host:                host,
		healthCheckInterval: healthCheckInterval,
	}
}

// defaultRegistry is the package-level registry used by callers that don't
// need isolated connection pools (the common case: one process, one set of
// broker connections) and have no internal/config.Config to thread through —
// it falls back to reading the environment directly.
var defaultRegistry = NewRegistry(envHost(), envHealthInterval())

// Default returns the process-wide registry, configured from REDIS_HOST and
// REDIS_HEALTH_INTERVAL.
func Default() *Registry { return defaultRegistry }

// Get returns the pooled RedisBroker for port, creating one on first use.
func (r *Registry) Get(port int) *RedisBroker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.brokers[port]; ok {
		return b
	}

	b := NewRedisBroker(Config{
		Host:                r.host,
		Port:                port,
		HealthCheckInterval: r.healthCheckInterval,
	})
	r.brokers[port] = b
	return b
}

// Close closes every pooled connection. Intended for test teardown and
// process shutdown.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for port, b := range r.brokers {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.brokers, port)
	}
	return firstErr
}

func envHost() string {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		return v
	}
	return "localhost"
}

func envHealthInterval() time.Duration {
	if v := os.Getenv("REDIS_HEALTH_INTERVAL"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			return secs
		}
	}
	return DefaultHealthCheckInterval
}
