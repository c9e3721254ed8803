package verifier

import (
	"time"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// RecordFailure notes one failed attempt of the action. Failures are keyed
// by the action's signature so near-identical coordinate actions count
// together, and expire outside the configured window.
func (v *Verifier) RecordFailure(action schemas.Action) {
	key := action.Signature(v.cfg.SignatureTolerancePx)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures[key] = append(v.prune(v.failures[key]), v.now())
}

// FailureCount returns how many times this action (by signature) has failed
// within the window.
func (v *Verifier) FailureCount(action schemas.Action) int {
	key := action.Signature(v.cfg.SignatureTolerancePx)

	v.mu.Lock()
	defer v.mu.Unlock()
	pruned := v.prune(v.failures[key])
	if len(pruned) == 0 {
		delete(v.failures, key)
	} else {
		v.failures[key] = pruned
	}
	return len(pruned)
}

// ClearFailureHistory forgets all recorded failures. Called when a task
// starts or after an action finally succeeds.
func (v *Verifier) ClearFailureHistory() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failures = make(map[string][]time.Time)
}

// prune drops timestamps older than the failure window. Caller holds v.mu.
func (v *Verifier) prune(stamps []time.Time) []time.Time {
	window := v.cfg.FailureWindow
	if window <= 0 {
		return stamps
	}
	cutoff := v.now().Add(-window)
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}
