package timeout

import (
	"context"
	"sync"
	"time"
)

// Manager manages per-operation timeout configuration
type Manager struct {
	global    time.Duration
	operation map[string]time.Duration
	mu        sync.RWMutex
}

// NewManager creates a new timeout manager seeded with the engine's
// default operation bounds.
func NewManager(globalTimeout time.Duration) *Manager {
	ops := make(map[string]time.Duration, len(OperationTimeouts))
	for op, d := range OperationTimeouts {
		ops[op] = d
	}
	return &Manager{
		global:    globalTimeout,
		operation: ops,
	}
}

// SetOperationTimeout sets timeout for specific operation
func (m *Manager) SetOperationTimeout(operation string, timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operation[operation] = timeout
}

// GetTimeout returns appropriate timeout for operation
func (m *Manager) GetTimeout(ctx context.Context, operation string) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	timeout := m.global
	if opTimeout, exists := m.operation[operation]; exists {
		timeout = opTimeout
	}

	// A nearer context deadline wins
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return remaining
		}
	}

	return timeout
}

// WithTimeout creates context with the operation's timeout applied
func (m *Manager) WithTimeout(ctx context.Context, operation string) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.GetTimeout(ctx, operation))
}

// OperationTimeouts defines default timeouts for the engine's suspension
// points. Generation is by far the slowest external call.
var OperationTimeouts = map[string]time.Duration{
	"agent-invoke":  120 * time.Second,
	"context-fetch": 15 * time.Second,
	"store-write":   10 * time.Second,
	"store-read":    10 * time.Second,
	"deliver":       30 * time.Second,
}
