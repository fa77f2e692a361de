// Package state manages the persistent loop state record.
// The state file is the single source of truth for crash-safe resume; it is
// owned exclusively by the loop controller and persisted after every
// iteration, including failed ones.
package state

import (
	"time"
)

// Phase is the current stage of a cycle.
type Phase string

const (
	PhaseInit  Phase = "init"
	PhasePlan  Phase = "plan"
	PhaseBuild Phase = "build"
	PhaseEval  Phase = "eval"
)

// IsValid returns true if the phase is a known value.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseInit, PhasePlan, PhaseBuild, PhaseEval:
		return true
	}
	return false
}

// IdeaRef identifies the idea document pinned for the current cycle.
type IdeaRef struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// State is the loop's persisted state record.
type State struct {
	Cycle          int        `json:"cycle"`
	Phase          Phase      `json:"phase"`
	TaskIndex      int        `json:"task_index"`
	SessionRef     string     `json:"session_ref,omitempty"`
	RetryCount     int        `json:"retry_count"`
	LastErrorTime  *time.Time `json:"last_error_time,omitempty"`
	CycleStartTime *time.Time `json:"cycle_start_time,omitempty"`
	CurrentIdea    *IdeaRef   `json:"current_idea,omitempty"`
	LastUpdate     time.Time  `json:"last_update"`
}

// New returns a fresh state record with first-run defaults.
func New() *State {
	return &State{
		Cycle:      1,
		Phase:      PhaseInit,
		TaskIndex:  0,
		RetryCount: 0,
		LastUpdate: time.Now().UTC(),
	}
}

// normalize validates each field and falls back to defaults on invalid
// values, so a hand-edited or corrupted state file degrades instead of
// wedging the loop.
func (s *State) normalize() {
	if s.Cycle < 1 {
		s.Cycle = 1
	}
	if !s.Phase.IsValid() {
		s.Phase = PhaseInit
	}
	if s.TaskIndex < 0 {
		s.TaskIndex = 0
	}
	if s.RetryCount < 0 {
		s.RetryCount = 0
	}
	if s.CurrentIdea != nil && s.CurrentIdea.Path == "" {
		s.CurrentIdea = nil
	}
	if s.LastUpdate.IsZero() {
		s.LastUpdate = time.Now().UTC()
	}
}

// StartCycle stamps the cycle start time if it is not already set.
func (s *State) StartCycle(now time.Time) {
	if s.CycleStartTime == nil {
		t := now.UTC()
		s.CycleStartTime = &t
	}
}

// CycleExpired reports whether the running cycle has exceeded the timeout.
// A zero timeout disables the check.
func (s *State) CycleExpired(now time.Time, timeout time.Duration) bool {
	if timeout <= 0 || s.CycleStartTime == nil {
		return false
	}
	return now.Sub(*s.CycleStartTime) > timeout
}

// AdvanceCycle moves to the next cycle and resets per-cycle fields.
func (s *State) AdvanceCycle() {
	s.Cycle++
	s.Phase = PhasePlan
	s.TaskIndex = 0
	s.RetryCount = 0
	s.SessionRef = ""
	s.CurrentIdea = nil
	s.CycleStartTime = nil
}

// RecordError stamps the last error time and bumps the retry count.
func (s *State) RecordError(now time.Time) {
	t := now.UTC()
	s.LastErrorTime = &t
	s.RetryCount++
}

// ClearRetries resets the retry count after a successful phase completion.
func (s *State) ClearRetries() {
	s.RetryCount = 0
	s.LastErrorTime = nil
}
