package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kjannette/trahn-gridsim/internal/config"
	"github.com/kjannette/trahn-gridsim/internal/logger"
	"github.com/kjannette/trahn-gridsim/internal/market"
)

var ErrAlreadyRunning = errors.New("an optimization is already running")

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobCancelled JobStatus = "cancelled"
	JobFailed    JobStatus = "failed"
)

type Job struct {
	ID         uuid.UUID     `json:"id"`
	Status     JobStatus     `json:"status"`
	Ranges     config.Ranges `json:"ranges"`
	Runs       int           `json:"runs"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty"`
	Outcome    *Outcome      `json:"outcome,omitempty"`
}

// Sink persists a finished optimization.
type Sink interface {
	SaveOptimization(ctx context.Context, job Job) error
}

type Notifier interface {
	Send(msg string)
}

type active struct {
	id     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs at most one optimization at a time in the background.
type Service struct {
	mu      sync.Mutex
	newOpt  func() *Optimizer
	sink    Sink
	notify  Notifier
	log     *logrus.Entry
	jobs    map[uuid.UUID]*Job
	current *active
}

// NewService takes a factory so every job gets a fresh Optimizer. sink and
// notify may be nil.
func NewService(newOpt func() *Optimizer, sink Sink, notify Notifier) *Service {
	return &Service{
		newOpt: newOpt,
		sink:   sink,
		notify: notify,
		log:    logger.Component("OPTIMIZER"),
		jobs:   make(map[uuid.UUID]*Job),
	}
}

// Start launches an optimization and returns its id immediately. The job
// outlives ctx; use Stop to cancel it.
func (s *Service) Start(ctx context.Context, candles []market.Candle, ranges config.Ranges) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return uuid.Nil, fmt.Errorf("%w (%s)", ErrAlreadyRunning, s.current.id)
	}

	opt := s.newOpt()
	if err := ranges.Validate(opt.base); err != nil {
		return uuid.Nil, err
	}

	id := uuid.New()
	job := &Job{
		ID:        id,
		Status:    JobRunning,
		Ranges:    ranges,
		Runs:      ranges.Size(),
		StartedAt: time.Now().UTC(),
	}
	s.jobs[id] = job

	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cur := &active{id: id, cancel: cancel, done: make(chan struct{})}
	s.current = cur

	s.send(fmt.Sprintf("Optimization %s started: %d combinations", id, job.Runs))
	s.log.Infof("Job %s started (%d runs)", id, job.Runs)

	go func() {
		defer close(cur.done)
		defer cancel()
		outcome, err := opt.Run(jobCtx, candles, ranges)
		s.finish(id, outcome, err)
	}()

	return id, nil
}

func (s *Service) finish(id uuid.UUID, outcome *Outcome, err error) {
	s.mu.Lock()
	job := s.jobs[id]
	now := time.Now().UTC()
	job.FinishedAt = &now
	job.Outcome = outcome
	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case outcome.Cancelled:
		job.Status = JobCancelled
	default:
		job.Status = JobDone
	}
	snapshot := *job
	s.current = nil
	s.mu.Unlock()

	if err != nil {
		s.log.Errorf("Job %s failed: %v", id, err)
		s.send(fmt.Sprintf("Optimization %s failed: %v", id, err))
		return
	}

	if s.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.sink.SaveOptimization(ctx, snapshot); err != nil {
			s.log.Errorf("Job %s: save failed: %v", id, err)
		}
	}

	msg := fmt.Sprintf("Optimization %s %s: %d ok, %d failed, %d skipped", id, snapshot.Status,
		outcome.Summary.Count, outcome.Failed, outcome.Skipped)
	if b := outcome.Best; b != nil {
		msg += fmt.Sprintf(" | best #%d %s=%.4f %s", b.Index, outcome.Scorer, b.Score, formatParams(b.Params))
	}
	s.log.Info(msg)
	s.send(msg)
}

func (s *Service) send(msg string) {
	if s.notify != nil {
		s.notify.Send(msg)
	}
}

// Cancel asks the running job to stop scheduling runs and returns at once.
func (s *Service) Cancel() bool {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil {
		return false
	}
	cur.cancel()
	return true
}

// Stop cancels the running job, if any, and waits for it to wind down.
func (s *Service) Stop() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur == nil {
		return
	}
	cur.cancel()
	<-cur.done
	s.log.Infof("Job %s stopped", cur.id)
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Wait blocks until the running job with id finishes or ctx ends.
func (s *Service) Wait(ctx context.Context, id uuid.UUID) (Job, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()

	if cur != nil && cur.id == id {
		select {
		case <-cur.done:
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
	job, ok := s.Job(id)
	if !ok {
		return Job{}, fmt.Errorf("job %s not found", id)
	}
	return job, nil
}

func (s *Service) Job(id uuid.UUID) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

// Jobs lists every job, newest first.
func (s *Service) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].StartedAt.After(out[k].StartedAt) })
	return out
}
