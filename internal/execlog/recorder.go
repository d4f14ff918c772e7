package execlog

import (
	"go.uber.org/zap"
)

// Recorder writes entries for one execution, optionally scoped to one
// participant. The zero Recorder and one without an execution id discard
// everything, so stages can run unaudited.
type Recorder struct {
	store       *Store
	executionID string
	participant string
	logger      *zap.Logger
}

// Recorder returns a recorder for executionID. An empty id yields a
// discarding recorder.
func (s *Store) Recorder(executionID string) Recorder {
	if s == nil || executionID == "" {
		return Recorder{}
	}
	return Recorder{store: s, executionID: executionID, logger: s.logger}
}

// Enabled reports whether entries are kept. Stages use it to skip building
// per-record details nobody will read.
func (r Recorder) Enabled() bool {
	return r.store != nil
}

// ExecutionID returns the execution the recorder writes to.
func (r Recorder) ExecutionID() string {
	return r.executionID
}

// Participant returns a recorder that tags every entry with participantID.
func (r Recorder) Participant(participantID string) Recorder {
	r.participant = participantID
	return r
}

// Debug records a DEBUG entry.
func (r Recorder) Debug(category, message string, details map[string]any) {
	r.record(LevelDebug, category, message, details)
}

// Info records an INFO entry.
func (r Recorder) Info(category, message string, details map[string]any) {
	r.record(LevelInfo, category, message, details)
}

// Warn records a WARNING entry.
func (r Recorder) Warn(category, message string, details map[string]any) {
	r.record(LevelWarning, category, message, details)
}

// Error records an ERROR entry.
func (r Recorder) Error(category, message string, details map[string]any) {
	r.record(LevelError, category, message, details)
}

func (r Recorder) record(level Level, category, message string, details map[string]any) {
	if r.store == nil {
		return
	}
	_, err := r.store.Append(Entry{
		Category:      category,
		Message:       message,
		Level:         level,
		ExecutionID:   r.executionID,
		ParticipantID: r.participant,
		Details:       details,
	})
	if err != nil {
		r.logger.Warn("drop execution log entry",
			zap.String("execution_id", r.executionID),
			zap.String("category", category),
			zap.Error(err))
	}
}
