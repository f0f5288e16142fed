// Package scheduler decides when a sync pass runs: immediately after
// structural changes, after the device goes idle, and on a periodic
// safety-net timer.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// Runner executes one sync pass. The runner owns the one-pass-at-a-time
// guard; overlapping requests fail with common.ErrSyncInProgress.
type Runner interface {
	RunPass(ctx context.Context) error
}

// Scheduler drives a Runner from three trigger sources. All triggers
// collapse into the same loop so at most one pass is started at a time
// from here.
type Scheduler struct {
	runner     Runner
	hasPending func(ctx context.Context) (bool, error)
	online     func() bool
	logger     logging.Logger

	idleInterval     time.Duration
	periodicInterval time.Duration

	activityCh chan struct{}
	triggerCh  chan struct{}

	mu                  sync.Mutex
	activitySinceSync   bool
	activitySincePeriod bool
	cancel              context.CancelFunc
	done                chan struct{}
}

func New(runner Runner, hasPending func(ctx context.Context) (bool, error), online func() bool, idleInterval, periodicInterval time.Duration, logger logging.Logger) *Scheduler {
	return &Scheduler{
		runner:           runner,
		hasPending:       hasPending,
		online:           online,
		logger:           logger,
		idleInterval:     idleInterval,
		periodicInterval: periodicInterval,
		activityCh:       make(chan struct{}, 1),
		triggerCh:        make(chan struct{}, 1),
	}
}

// NotifyActivity records local activity and re-arms the idle timer.
func (s *Scheduler) NotifyActivity() {
	s.mu.Lock()
	s.activitySinceSync = true
	s.activitySincePeriod = true
	s.mu.Unlock()

	select {
	case s.activityCh <- struct{}{}:
	default:
	}
}

// RequestSync triggers a pass as soon as the loop is free. Requests
// arriving while a pass runs coalesce into one follow-up pass.
func (s *Scheduler) RequestSync() {
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	idle := time.NewTimer(s.idleInterval)
	defer idle.Stop()
	periodic := time.NewTicker(s.periodicInterval)
	defer periodic.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-s.activityCh:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(s.idleInterval)

		case <-s.triggerCh:
			s.trySync(ctx)

		case <-idle.C:
			if s.takeActivitySinceSync() {
				s.trySync(ctx)
			}
			idle.Reset(s.idleInterval)

		case <-periodic.C:
			if s.periodDue(ctx) {
				s.trySync(ctx)
			}
		}
	}
}

func (s *Scheduler) takeActivitySinceSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activitySinceSync
}

// periodDue reports whether the periodic tick has anything to do:
// either pending queue work or activity since the last period.
func (s *Scheduler) periodDue(ctx context.Context) bool {
	s.mu.Lock()
	active := s.activitySincePeriod
	s.activitySincePeriod = false
	s.mu.Unlock()
	if active {
		return true
	}

	pending, err := s.hasPending(ctx)
	if err != nil {
		s.logger.Error(ctx, "pending check failed", "error", err)
		return false
	}
	return pending
}

func (s *Scheduler) trySync(ctx context.Context) {
	if s.online != nil && !s.online() {
		s.logger.Debug(ctx, "sync skipped, offline")
		return
	}

	err := s.runner.RunPass(ctx)
	switch {
	case err == nil:
		s.mu.Lock()
		s.activitySinceSync = false
		s.mu.Unlock()
	case errors.Is(err, common.ErrSyncInProgress),
		errors.Is(err, common.ErrSyncPaused),
		errors.Is(err, common.ErrOffline):
		s.logger.Debug(ctx, "sync pass skipped", "reason", err)
	default:
		s.logger.Error(ctx, "sync pass failed", "error", err)
	}
}
