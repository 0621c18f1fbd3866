package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
	"torrentsqlite/internal/metrics"
)

const (
	defaultPollInterval = 25 * time.Millisecond
	defaultPieceTimeout = 2 * time.Minute
)

type pieceResult struct {
	data []byte
	err  error
}

// DeadlineScheduler turns asynchronous piece completion events into
// blocking per-piece waits. Any number of goroutines may wait on the same
// or different pieces; each event is delivered to every waiter of its index.
type DeadlineScheduler struct {
	att          ports.Attachment
	pollInterval time.Duration
	timeout      time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	waiters map[int][]chan pieceResult
	closed  bool

	stop      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// SchedulerOptions tune a DeadlineScheduler. A zero Timeout selects the
// default, a negative one waits without bound.
type SchedulerOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

func NewDeadlineScheduler(att ports.Attachment, opts SchedulerOptions) *DeadlineScheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Timeout == 0 {
		opts.Timeout = defaultPieceTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &DeadlineScheduler{
		att:          att,
		pollInterval: opts.PollInterval,
		timeout:      opts.Timeout,
		logger:       opts.Logger,
		waiters:      make(map[int][]chan pieceResult),
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go s.drain()
	return s
}

// Await requests piece index with the highest priority and blocks until its
// data arrives, the wait bound elapses, ctx ends or the attachment fails.
func (s *DeadlineScheduler) Await(ctx context.Context, index int) ([]byte, error) {
	start := time.Now()
	data, err := s.await(ctx, index)
	metrics.PieceWaitDuration.Observe(time.Since(start).Seconds())
	metrics.PieceRequestsTotal.WithLabelValues(resultLabel(err)).Inc()
	return data, err
}

func (s *DeadlineScheduler) await(ctx context.Context, index int) ([]byte, error) {
	ch := make(chan pieceResult, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: scheduler closed", domain.ErrSession)
	}
	s.waiters[index] = append(s.waiters[index], ch)
	s.mu.Unlock()

	s.att.SetPieceDeadline(index, domain.PriorityHigh, true)

	var expired <-chan time.Time
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case res := <-ch:
		return res.data, res.err
	case <-expired:
		s.forget(index, ch)
		s.logger.Warn("piece wait timed out",
			slog.String("infoHash", string(s.att.InfoHash())),
			slog.Int("piece", index),
			slog.Duration("timeout", s.timeout),
		)
		return nil, fmt.Errorf("%w: piece %d after %s", domain.ErrTimeout, index, s.timeout)
	case <-ctx.Done():
		s.forget(index, ch)
		return nil, fmt.Errorf("%w: piece %d: %w", domain.ErrTimeout, index, ctx.Err())
	}
}

// Pending returns the number of piece indices with at least one waiter.
func (s *DeadlineScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}

// Close stops event delivery and fails outstanding waits with ErrSession.
func (s *DeadlineScheduler) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.stopped
		s.failAll(fmt.Errorf("%w: scheduler closed", domain.ErrSession))
	})
}

func (s *DeadlineScheduler) drain() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-s.att.Closed():
			s.failAll(fmt.Errorf("%w: attachment closed", domain.ErrSession))
			return
		case ev := <-s.att.Events():
			s.deliver(ev)
		case <-ticker.C:
			s.repoll()
		}
	}
}

func (s *DeadlineScheduler) deliver(ev domain.PieceEvent) {
	s.mu.Lock()
	waiting := s.waiters[ev.Index]
	delete(s.waiters, ev.Index)
	s.mu.Unlock()

	if len(waiting) == 0 {
		metrics.DroppedPieceEventsTotal.Inc()
		return
	}
	res := pieceResult{data: ev.Data}
	if ev.Err != nil {
		res = pieceResult{err: fmt.Errorf("%w: piece %d: %w", domain.ErrSession, ev.Index, ev.Err)}
	}
	for _, ch := range waiting {
		ch <- res
	}
}

// repoll re-issues the deadline of pending pieces that already completed,
// covering a completion notification that never arrived.
func (s *DeadlineScheduler) repoll() {
	s.mu.Lock()
	indices := make([]int, 0, len(s.waiters))
	for i := range s.waiters {
		indices = append(indices, i)
	}
	s.mu.Unlock()

	for _, i := range indices {
		if s.att.PieceComplete(i) {
			s.att.SetPieceDeadline(i, domain.PriorityHigh, true)
		}
	}
}

func (s *DeadlineScheduler) forget(index int, ch chan pieceResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.waiters[index]
	for i, c := range list {
		if c == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, index)
		return
	}
	s.waiters[index] = list
}

func (s *DeadlineScheduler) failAll(err error) {
	s.mu.Lock()
	s.closed = true
	waiters := s.waiters
	s.waiters = make(map[int][]chan pieceResult)
	s.mu.Unlock()

	for _, list := range waiters {
		for _, ch := range list {
			ch <- pieceResult{err: err}
		}
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return "session"
	}
}
