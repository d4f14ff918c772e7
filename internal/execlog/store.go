package execlog

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when no log exists for an execution id.
	ErrNotFound = errors.New("execution log not found")
	// ErrExists is returned by Start for an execution id already in use.
	ErrExists = errors.New("execution log already exists")
)

// TransitionError reports a lifecycle move the log does not allow.
type TransitionError struct {
	ExecutionID string
	From, To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("execution %s: cannot move from %s to %s", e.ExecutionID, e.From, e.To)
}

// Archive persists finished logs outside the process.
type Archive interface {
	Save(ctx context.Context, log *Log) error
	Load(ctx context.Context, executionID string) (*Log, error)
}

// Store holds execution logs in memory. All methods are safe for concurrent
// use; appends to one log are serialized so the order of entries written by
// one goroutine is preserved.
type Store struct {
	mu      sync.Mutex
	logs    map[string]*Log
	now     func() time.Time
	entropy *ulid.MonotonicEntropy
	ttl     time.Duration
	archive Archive
	logger  *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNow sets the time source for entry timestamps and lifecycle times.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithTTL sets how long finished logs stay in memory before Sweep evicts
// them. Zero keeps them until Delete.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithArchive saves every finished log to a.
func WithArchive(a Archive) StoreOption {
	return func(s *Store) {
		s.archive = a
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		logs:    make(map[string]*Log),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.Reader, 0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start opens a log in state STARTED.
func (s *Store) Start(executionID, planID, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[executionID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, executionID)
	}
	s.logs[executionID] = &Log{
		ExecutionID: executionID,
		PlanID:      planID,
		Mode:        mode,
		StartTime:   s.now(),
		Status:      StatusStarted,
		Entries:     []Entry{},
	}
	return nil
}

// Append adds an entry to the log of e.ExecutionID, assigning its id and
// timestamp. Entries for finished logs are still accepted so late audit
// notes (persistence results) are not lost.
func (s *Store) Append(e Entry) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[e.ExecutionID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, e.ExecutionID)
	}

	now := s.now()
	e.Timestamp = now
	e.ID = ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
	l.Entries = append(l.Entries, e)
	l.Summary.add(e.Level)
	return e, nil
}

// SetStatus moves a log along its lifecycle.
func (s *Store) SetStatus(executionID string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[executionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	return s.move(l, status)
}

func (s *Store) move(l *Log, to Status) error {
	if !canMove(l.Status, to) {
		return &TransitionError{ExecutionID: l.ExecutionID, From: l.Status, To: to}
	}
	l.Status = to
	if to.Terminal() {
		end := s.now()
		l.EndTime = &end
	}
	return nil
}

// Finish moves the log to a terminal status and hands a snapshot to the
// archive, if any. Archive failures are logged and returned; the in-memory
// log stays finished either way.
func (s *Store) Finish(ctx context.Context, executionID string, status Status) (*Log, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finish execution %s: %s is not a terminal status", executionID, status)
	}

	s.mu.Lock()
	l, ok := s.logs[executionID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	if err := s.move(l, status); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	snapshot := l.clone()
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.Save(ctx, snapshot); err != nil {
			s.logger.Error("archive execution log",
				zap.String("execution_id", executionID),
				zap.Error(err))
			return snapshot, fmt.Errorf("archive execution log %s: %w", executionID, err)
		}
	}
	return snapshot, nil
}

// Get returns a snapshot of the in-memory log.
func (s *Store) Get(executionID string) (*Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.logs[executionID]
	if !ok {
		return nil, false
	}
	return l.clone(), true
}

// Lookup returns the log from memory, falling back to the archive.
func (s *Store) Lookup(ctx context.Context, executionID string) (*Log, error) {
	if l, ok := s.Get(executionID); ok {
		return l, nil
	}
	if s.archive == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	l, err := s.archive.Load(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Delete removes a log from memory.
func (s *Store) Delete(executionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.logs[executionID]
	delete(s.logs, executionID)
	return ok
}

// Len returns the number of logs held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// Sweep evicts finished logs whose end time is older than the TTL. Logs
// still running are never evicted. It returns the number removed.
func (s *Store) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for id, l := range s.logs {
		if l.EndTime != nil && l.EndTime.Before(cutoff) {
			delete(s.logs, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("swept execution logs", zap.Int("removed", removed))
	}
	return removed
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
