package policy

import "sync/atomic"

// Switch is an Evaluator whose implementation can be replaced while in
// use. Each call sees either the old or the new evaluator, never a mix.
type Switch struct {
	current atomic.Pointer[holder]
}

type holder struct {
	evaluator Evaluator
}

// NewSwitch returns a Switch delegating to e.
func NewSwitch(e Evaluator) *Switch {
	s := &Switch{}
	s.Store(e)
	return s
}

// Store replaces the active evaluator.
func (s *Switch) Store(e Evaluator) {
	s.current.Store(&holder{evaluator: e})
}

// Load returns the active evaluator.
func (s *Switch) Load() Evaluator {
	return s.current.Load().evaluator
}

func (s *Switch) DayValid(hours float64) bool {
	return s.Load().DayValid(hours)
}

func (s *Switch) MonthCompliant(validDays int, totalHours float64) bool {
	return s.Load().MonthCompliant(validDays, totalHours)
}

func (s *Switch) Thresholds() Thresholds {
	return s.Load().Thresholds()
}

// Snapshot returns the evaluator e delegates to right now, so that a
// sequence of decisions is made against one threshold set. Evaluators
// that cannot be swapped are returned unchanged.
func Snapshot(e Evaluator) Evaluator {
	if s, ok := e.(interface{ Load() Evaluator }); ok {
		return s.Load()
	}
	return e
}
