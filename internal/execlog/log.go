// Package execlog records the audit trail of commission executions.
//
// Each execution owns one Log, keyed by execution id in a Store. Stages
// write entries through a Recorder; the orchestrator drives the lifecycle
// STARTED -> IN_PROGRESS -> COMPLETED | FAILED. Finished logs can be handed
// to an Archive and are evicted from memory by Sweep once their TTL passes.
package execlog

import (
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Status is the lifecycle state of an execution log.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canMove reports whether the lifecycle allows from -> to.
func canMove(from, to Status) bool {
	switch from {
	case StatusStarted:
		return to == StatusInProgress || to.Terminal()
	case StatusInProgress:
		return to.Terminal()
	}
	return false
}

// Categories used by the engine stages.
const (
	CategoryDataSelection         = "Data Selection"
	CategoryQualifyingCriteria    = "Qualifying Criteria"
	CategoryExclusions            = "Exclusions Applied"
	CategoryAdjustment            = "Adjustment Applied"
	CategoryCustomRule            = "Custom Rule Applied"
	CategoryBoost                 = "Boost Applied"
	CategoryCap                   = "Cap Applied"
	CategoryDisqualification      = "Custom Rules Disqualification"
	CategoryAggregation           = "Aggregation"
	CategoryMinimumQualification  = "Minimum Qualification"
	CategoryCommissionCalculation = "Commission Calculation"
	CategoryExecution             = "Execution"
	CategoryExecutionError        = "Execution Error"
	CategoryPersistence           = "Persistence"
)

// Entry is one append-only log record.
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Category      string         `json:"category"`
	Message       string         `json:"message"`
	Level         Level          `json:"level"`
	ExecutionID   string         `json:"executionId"`
	ParticipantID string         `json:"participantId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Summary counts entries by level.
type Summary struct {
	Total    int `json:"total"`
	Info     int `json:"info"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
	Debug    int `json:"debug"`
}

func (s *Summary) add(l Level) {
	s.Total++
	switch l {
	case LevelInfo:
		s.Info++
	case LevelWarning:
		s.Warnings++
	case LevelError:
		s.Errors++
	case LevelDebug:
		s.Debug++
	}
}

// Log is the complete audit trail of one execution.
type Log struct {
	ExecutionID string     `json:"executionId"`
	PlanID      string     `json:"planId"`
	Mode        string     `json:"mode"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Status      Status     `json:"status"`
	Entries     []Entry    `json:"entries"`
	Summary     Summary    `json:"summary"`
}

// ForParticipant returns the entries attached to one participant, in
// append order.
func (l *Log) ForParticipant(participantID string) []Entry {
	out := make([]Entry, 0)
	for _, e := range l.Entries {
		if e.ParticipantID == participantID {
			out = append(out, e)
		}
	}
	return out
}

// clone deep-copies the log so callers can read it without holding the
// store lock.
func (l *Log) clone() *Log {
	out := *l
	if l.EndTime != nil {
		end := *l.EndTime
		out.EndTime = &end
	}
	out.Entries = make([]Entry, len(l.Entries))
	for i, e := range l.Entries {
		if e.Details != nil {
			d := make(map[string]any, len(e.Details))
			for k, v := range e.Details {
				d[k] = v
			}
			e.Details = d
		}
		out.Entries[i] = e
	}
	return &out
}
