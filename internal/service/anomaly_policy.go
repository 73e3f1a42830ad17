package service

import "github.com/stemsi/exstem-proctor/internal/model"

// LockDecision is the outcome of evaluating a session's flag history.
type LockDecision struct {
	Lock      bool
	Score     int
	Threshold int
}

// AnomalyPolicy decides whether accumulated flags should lock a session.
type AnomalyPolicy interface {
	Evaluate(counts map[model.FlagType]int) LockDecision
}

// PolicyFunc adapts a function to AnomalyPolicy.
type PolicyFunc func(counts map[model.FlagType]int) LockDecision

// Evaluate calls f(counts).
func (f PolicyFunc) Evaluate(counts map[model.FlagType]int) LockDecision {
	return f(counts)
}

// NeverLock is the policy that only records flags.
var NeverLock AnomalyPolicy = PolicyFunc(func(map[model.FlagType]int) LockDecision {
	return LockDecision{}
})

// ThresholdPolicy locks once the weighted anomaly count reaches Threshold.
// Each manual unlock raises the bar by another Threshold so a teacher's
// unlock is not undone by the very next flag. A zero Threshold disables
// automatic locking. Flag types missing from Weights weigh 1.
type ThresholdPolicy struct {
	Threshold int
	Weights   map[model.FlagType]int
}

// Evaluate locks once the weighted flag total reaches Threshold.
func (p ThresholdPolicy) Evaluate(counts map[model.FlagType]int) LockDecision {
	if p.Threshold <= 0 {
		return LockDecision{}
	}

	score := 0
	for t, n := range counts {
		if !t.IsAnomaly() {
			continue
		}
		w, ok := p.Weights[t]
		if !ok {
			w = 1
		}
		score += n * w
	}

	threshold := p.Threshold * (1 + counts[model.FlagManualUnlock])
	return LockDecision{
		Lock:      score >= threshold,
		Score:     score,
		Threshold: threshold,
	}
}

// NewThresholdPolicy builds a ThresholdPolicy from string-keyed weights as
// they appear in configuration.
func NewThresholdPolicy(threshold int, weights map[string]int) ThresholdPolicy {
	p := ThresholdPolicy{Threshold: threshold}
	if len(weights) > 0 {
		p.Weights = make(map[model.FlagType]int, len(weights))
		for k, w := range weights {
			p.Weights[model.FlagType(k)] = w
		}
	}
	return p
}
