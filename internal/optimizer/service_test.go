package optimizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjannette/trahn-gridsim/internal/config"
)

type memorySink struct {
	mu   sync.Mutex
	jobs []Job
}

func (m *memorySink) SaveOptimization(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return nil
}

type memoryNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (m *memoryNotifier) Send(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *memoryNotifier) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.msgs...)
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	return ctx
}

func TestService_RunsJobToCompletion(t *testing.T) {
	sink := &memorySink{}
	notify := &memoryNotifier{}
	svc := NewService(func() *Optimizer { return newQuiet(WithWorkers(2)) }, sink, notify)

	id, err := svc.Start(context.Background(), candles(), config.Ranges{"grid_count": {10, 20}})
	require.NoError(t, err)

	job, err := svc.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, JobDone, job.Status)
	assert.Equal(t, 2, job.Runs)
	require.NotNil(t, job.Outcome)
	assert.Len(t, job.Outcome.Runs, 2)
	require.NotNil(t, job.FinishedAt)
	assert.False(t, svc.Running())

	require.Len(t, sink.jobs, 1)
	assert.Equal(t, id, sink.jobs[0].ID)

	msgs := notify.all()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "started")
	assert.Contains(t, msgs[1], "best #")

	jobs := svc.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)
}

func TestService_OneJobAtATime(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	hold := observerFunc(func(Run) { once.Do(func() { <-gate }) })
	svc := NewService(func() *Optimizer { return newQuiet(WithWorkers(1), WithObserver(hold)) }, nil, nil)

	id, err := svc.Start(context.Background(), candles(), config.Ranges{"grid_count": {10, 20}})
	require.NoError(t, err)
	assert.True(t, svc.Running())

	_, err = svc.Start(context.Background(), candles(), config.Ranges{"grid_count": {10}})
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(gate)
	job, err := svc.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, JobDone, job.Status)

	_, err = svc.Start(context.Background(), candles(), config.Ranges{"grid_count": {10}})
	require.NoError(t, err)
	svc.Stop()
	assert.False(t, svc.Running())
}

func TestService_Cancel(t *testing.T) {
	var svc *Service
	var once sync.Once
	stop := observerFunc(func(Run) { once.Do(func() { svc.Cancel() }) })
	svc = NewService(func() *Optimizer { return newQuiet(WithWorkers(1), WithObserver(stop)) }, nil, nil)

	id, err := svc.Start(context.Background(), candles(), config.Ranges{"grid_count": {8, 10, 12, 14}})
	require.NoError(t, err)

	job, err := svc.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, JobCancelled, job.Status)
	assert.Positive(t, job.Outcome.Skipped)
	assert.False(t, svc.Cancel())
}

func TestService_StartOutlivesRequestContext(t *testing.T) {
	svc := NewService(func() *Optimizer { return newQuiet() }, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	id, err := svc.Start(ctx, candles(), config.Ranges{"grid_count": {10, 20}})
	require.NoError(t, err)
	cancel()

	job, err := svc.Wait(waitCtx(t), id)
	require.NoError(t, err)
	assert.Equal(t, JobDone, job.Status)
	assert.Zero(t, job.Outcome.Skipped)
}

func TestService_StartValidatesRanges(t *testing.T) {
	svc := NewService(func() *Optimizer { return newQuiet() }, nil, nil)
	_, err := svc.Start(context.Background(), candles(), config.Ranges{"bogus": {1}})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.False(t, svc.Running())
	assert.Empty(t, svc.Jobs())
}

func TestService_JobNotFound(t *testing.T) {
	svc := NewService(func() *Optimizer { return newQuiet() }, nil, nil)
	_, ok := svc.Job(uuid.New())
	assert.False(t, ok)
}
