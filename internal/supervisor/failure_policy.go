package supervisor

import (
	"sync"
	"time"
)

// FailurePolicy tracks load failures per identifier and holds back identifiers
// that fail too often. With MaxInWindow <= 0 it never holds anything back,
// which keeps the retry-every-cycle behavior.
type FailurePolicy struct {
	MaxInWindow      int
	WindowDuration   time.Duration
	CooldownDuration time.Duration

	history       map[string][]time.Time // identifier -> failure timestamps
	cooldownUntil map[string]time.Time
	mu            sync.Mutex
}

// NewFailurePolicy creates a new failure policy with the given parameters.
func NewFailurePolicy(maxInWindow int, window, cooldown time.Duration) *FailurePolicy {
	return &FailurePolicy{
		MaxInWindow:      maxInWindow,
		WindowDuration:   window,
		CooldownDuration: cooldown,
		history:          make(map[string][]time.Time),
		cooldownUntil:    make(map[string]time.Time),
	}
}

// Enabled reports whether the policy can ever hold an identifier back.
func (p *FailurePolicy) Enabled() bool {
	return p != nil && p.MaxInWindow > 0
}

// RecordFailure records a failed load at now. When the failure count within
// the window reaches MaxInWindow the identifier enters cooldown and true is
// returned.
func (p *FailurePolicy) RecordFailure(id string, now time.Time) (count int, cooledDown bool) {
	if p == nil {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pruneHistory(id, now)
	p.history[id] = append(p.history[id], now)
	count = len(p.history[id])
	if p.MaxInWindow > 0 && count >= p.MaxInWindow {
		p.cooldownUntil[id] = now.Add(p.CooldownDuration)
		delete(p.history, id)
		return count, true
	}
	return count, false
}

// ShouldAttempt returns true if id may be loaded at now.
func (p *FailurePolicy) ShouldAttempt(id string, now time.Time) bool {
	if !p.Enabled() {
		return true
	}
	return !p.InCooldown(id, now)
}

// InCooldown returns true if id is being held back at now.
func (p *FailurePolicy) InCooldown(id string, now time.Time) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	until, ok := p.cooldownUntil[id]
	if !ok {
		return false
	}
	if now.Before(until) {
		return true
	}
	delete(p.cooldownUntil, id)
	return false
}

// FailureCount returns the failures for id within the current window.
func (p *FailurePolicy) FailureCount(id string, now time.Time) int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pruneHistory(id, now)
	return len(p.history[id])
}

// Reset clears all history for id, typically after a successful load.
func (p *FailurePolicy) Reset(id string) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.history, id)
	delete(p.cooldownUntil, id)
}

func (p *FailurePolicy) pruneHistory(id string, now time.Time) {
	entries, ok := p.history[id]
	if !ok {
		return
	}
	cutoff := now.Add(-p.WindowDuration)
	pruned := entries[:0]
	for _, t := range entries {
		if !t.Before(cutoff) {
			pruned = append(pruned, t)
		}
	}
	if len(pruned) == 0 {
		delete(p.history, id)
		return
	}
	p.history[id] = pruned
}
