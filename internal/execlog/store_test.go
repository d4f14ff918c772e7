package execlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)}
}

type memArchive struct {
	mu    sync.Mutex
	logs  map[string]*Log
	fail  error
	saves int
}

func (a *memArchive) Save(_ context.Context, l *Log) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.saves++
	if a.fail != nil {
		return a.fail
	}
	if a.logs == nil {
		a.logs = map[string]*Log{}
	}
	a.logs[l.ExecutionID] = l
	return nil
}

func (a *memArchive) Load(_ context.Context, id string) (*Log, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.logs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l, nil
}

func TestStore_Lifecycle(t *testing.T) {
	clock := newClock()
	s := NewStore(WithNow(clock.Now), WithLogger(zaptest.NewLogger(t)))

	require.NoError(t, s.Start("exec-1", "plan-1", "Simulate"))
	require.ErrorIs(t, s.Start("exec-1", "plan-1", "Simulate"), ErrExists)

	l, ok := s.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusStarted, l.Status)
	assert.Nil(t, l.EndTime)

	require.NoError(t, s.SetStatus("exec-1", StatusInProgress))

	clock.Advance(time.Second)
	finished, err := s.Finish(context.Background(), "exec-1", StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, finished.Status)
	require.NotNil(t, finished.EndTime)
	assert.Equal(t, time.Second, finished.EndTime.Sub(finished.StartTime))

	err = s.SetStatus("exec-1", StatusInProgress)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, StatusCompleted, terr.From)

	_, err = s.Finish(context.Background(), "exec-1", StatusInProgress)
	assert.ErrorContains(t, err, "not a terminal status")
}

func TestStore_StartedCanFailDirectly(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Start("exec-1", "plan-1", "Production"))

	l, err := s.Finish(context.Background(), "exec-1", StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, l.Status)
}

func TestStore_AppendAndSummary(t *testing.T) {
	s := NewStore(WithNow(newClock().Now))
	require.NoError(t, s.Start("exec-1", "plan-1", "Simulate"))

	rec := s.Recorder("exec-1")
	rec.Info(CategoryDataSelection, "selected", nil)
	rec.Warn(CategoryQualifyingCriteria, "missing field", map[string]any{"field": "Region"})
	rec.Error(CategoryCommissionCalculation, "no tiers", nil)
	rec.Debug(CategoryQualifyingCriteria, "passed", nil)

	l, ok := s.Get("exec-1")
	require.True(t, ok)
	require.Len(t, l.Entries, 4)
	assert.Equal(t, Summary{Total: 4, Info: 1, Warnings: 1, Errors: 1, Debug: 1}, l.Summary)

	for _, e := range l.Entries {
		assert.Equal(t, "exec-1", e.ExecutionID)
		assert.Len(t, e.ID, 26, "ULID")
	}
	assert.Less(t, l.Entries[0].ID, l.Entries[1].ID, "ids are monotonic")
}

func TestStore_AppendUnknownExecution(t *testing.T) {
	_, err := NewStore().Append(Entry{ExecutionID: "nope", Level: LevelInfo})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecorder_DiscardsWithoutExecutionID(t *testing.T) {
	s := NewStore()
	rec := s.Recorder("")
	assert.False(t, rec.Enabled())
	rec.Info(CategoryDataSelection, "ignored", nil)

	var zero Recorder
	zero.Error(CategoryExecutionError, "ignored", nil)
	assert.Equal(t, 0, s.Len())
}

func TestRecorder_ParticipantScope(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Start("exec-1", "plan-1", "Simulate"))

	rec := s.Recorder("exec-1")
	rec.Participant("alice").Info(CategoryAggregation, "alice 1", nil)
	rec.Participant("bob").Info(CategoryAggregation, "bob 1", nil)
	rec.Participant("alice").Info(CategoryAggregation, "alice 2", nil)

	l, _ := s.Get("exec-1")
	alice := l.ForParticipant("alice")
	require.Len(t, alice, 2)
	assert.Equal(t, "alice 1", alice[0].Message)
	assert.Equal(t, "alice 2", alice[1].Message)
	assert.Len(t, l.ForParticipant("carol"), 0)
}

func TestStore_ConcurrentAppendsKeepPerWriterOrder(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Start("exec-1", "plan-1", "Simulate"))
	rec := s.Recorder("exec-1")

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			pr := rec.Participant(fmt.Sprintf("p%d", p))
			for i := 0; i < 50; i++ {
				pr.Debug(CategoryCustomRule, fmt.Sprintf("%d", i), nil)
			}
		}(p)
	}
	wg.Wait()

	l, _ := s.Get("exec-1")
	assert.Len(t, l.Entries, 400)
	for p := 0; p < 8; p++ {
		entries := l.ForParticipant(fmt.Sprintf("p%d", p))
		require.Len(t, entries, 50)
		for i, e := range entries {
			assert.Equal(t, fmt.Sprintf("%d", i), e.Message)
		}
	}
}

func TestStore_GetReturnsSnapshot(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Start("exec-1", "plan-1", "Simulate"))
	s.Recorder("exec-1").Info(CategoryExecution, "one", map[string]any{"k": "v"})

	l, _ := s.Get("exec-1")
	l.Entries[0].Details["k"] = "changed"
	l.Entries = append(l.Entries, Entry{})

	again, _ := s.Get("exec-1")
	assert.Len(t, again.Entries, 1)
	assert.Equal(t, "v", again.Entries[0].Details["k"])
}

func TestStore_SweepEvictsFinishedLogsAfterTTL(t *testing.T) {
	clock := newClock()
	s := NewStore(WithNow(clock.Now), WithTTL(time.Hour))

	require.NoError(t, s.Start("done", "plan-1", "Simulate"))
	require.NoError(t, s.Start("running", "plan-1", "Simulate"))
	_, err := s.Finish(context.Background(), "done", StatusCompleted)
	require.NoError(t, err)

	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, s.Sweep())

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, s.Sweep())

	_, ok := s.Get("done")
	assert.False(t, ok)
	_, ok = s.Get("running")
	assert.True(t, ok, "running logs are never evicted")
}

func TestStore_SweepWithoutTTL(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.Start("done", "plan-1", "Simulate"))
	_, err := s.Finish(context.Background(), "done", StatusCompleted)
	require.NoError(t, err)

	assert.Equal(t, 0, s.Sweep())
	assert.True(t, s.Delete("done"))
	assert.False(t, s.Delete("done"))
}

func TestStore_RunSweeper(t *testing.T) {
	clock := newClock()
	s := NewStore(WithNow(clock.Now), WithTTL(time.Minute))
	require.NoError(t, s.Start("done", "plan-1", "Simulate"))
	_, err := s.Finish(context.Background(), "done", StatusCompleted)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.RunSweeper(ctx, time.Millisecond)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	<-stopped
}

func TestStore_ArchiveAndLookup(t *testing.T) {
	archive := &memArchive{}
	clock := newClock()
	s := NewStore(WithNow(clock.Now), WithTTL(time.Minute), WithArchive(archive))

	require.NoError(t, s.Start("exec-1", "plan-1", "Production"))
	s.Recorder("exec-1").Info(CategoryExecution, "done", nil)
	_, err := s.Finish(context.Background(), "exec-1", StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.saves)

	clock.Advance(2 * time.Minute)
	require.Equal(t, 1, s.Sweep())

	l, err := s.Lookup(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, l.Status)
	assert.Len(t, l.Entries, 1)

	_, err = s.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ArchiveFailureKeepsLogFinished(t *testing.T) {
	archive := &memArchive{fail: errors.New("redis down")}
	s := NewStore(WithArchive(archive))
	require.NoError(t, s.Start("exec-1", "plan-1", "Production"))

	l, err := s.Finish(context.Background(), "exec-1", StatusCompleted)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	require.NotNil(t, l)

	got, ok := s.Get("exec-1")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestStore_LookupWithoutArchive(t *testing.T) {
	_, err := NewStore().Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
