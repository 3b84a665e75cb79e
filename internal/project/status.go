package project

import (
	"fmt"

	perrors "github.com/p-blackswan/infragen/internal/errors"
)

// Status is the lifecycle state of a project run.
type Status string

const (
	StatusIdle           Status = "IDLE"
	StatusAnalyzing      Status = "ANALYZING"
	StatusGenerating     Status = "GENERATING"
	StatusReviewing      Status = "REVIEWING"
	StatusFinalizing     Status = "FINALIZING"
	StatusPostProcessing Status = "POST_PROCESSING"
	StatusCompleted      Status = "COMPLETED"
	StatusError          Status = "ERROR"
)

// transitions lists the only legal successor states.
var transitions = map[Status][]Status{
	StatusIdle:           {StatusAnalyzing},
	StatusAnalyzing:      {StatusGenerating, StatusError},
	StatusGenerating:     {StatusReviewing, StatusError},
	StatusReviewing:      {StatusFinalizing, StatusError},
	StatusFinalizing:     {StatusPostProcessing, StatusError},
	StatusPostProcessing: {StatusCompleted},
}

// SequentialStatuses are the states of the fatal, strictly ordered phase.
var SequentialStatuses = []Status{StatusAnalyzing, StatusGenerating, StatusReviewing, StatusFinalizing}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Sequential reports whether s is one of the four ordered stages.
func (s Status) Sequential() bool {
	for _, seq := range SequentialStatuses {
		if s == seq {
			return true
		}
	}
	return false
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the project to next, rejecting regressions, skips and
// transitions out of terminal states.
func (p *Project) Advance(next Status) error {
	if !CanTransition(p.Status, next) {
		return fmt.Errorf("%w: %s -> %s", perrors.ErrInvalidTransition, p.Status, next)
	}
	p.Status = next
	return nil
}

// Fail records a fatal stage failure and moves the project to ERROR.
func (p *Project) Fail(err error) error {
	if advErr := p.Advance(StatusError); advErr != nil {
		return advErr
	}
	p.Error = err.Error()
	p.AddLog("CRITICAL ERROR: " + p.Error)
	return nil
}
