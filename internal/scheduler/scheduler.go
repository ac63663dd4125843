// Package scheduler fires the periodic ledger jobs. Every job is idempotent per period, so the
// run lock only avoids duplicate work when several instances share a schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	JobInterestAccrual = "interest-accrual"
	JobDefaultSweep    = "loan-default-sweep"
)

// JobFunc runs a job as of the given time and reports how many records it changed.
type JobFunc func(ctx context.Context, asOf time.Time) (int, error)

// Scheduler wraps a cron runner with a run lock.
type Scheduler struct {
	cron    *cron.Cron
	lock    RunLock
	log     *logrus.Logger
	now     func() time.Time
	lockTTL time.Duration
	timeout time.Duration
}

func New(log *logrus.Logger, lock RunLock, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cron.PrintfLogger(log)),
			cron.WithChain(cron.Recover(cron.PrintfLogger(log)), cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		lock:    lock,
		log:     log,
		now:     now,
		lockTTL: 30 * time.Minute,
		timeout: 25 * time.Minute,
	}
}

// Register schedules job on a standard five-field cron spec.
func (s *Scheduler) Register(name, spec string, job JobFunc) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		_, _ = s.Run(ctx, name, job)
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	s.log.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("Job scheduled")
	return nil
}

// Run executes job once unless another run holds the lock for the same minute.
// It returns false when the run was skipped.
func (s *Scheduler) Run(ctx context.Context, name string, job JobFunc) (bool, error) {
	asOf := s.now()
	key := fmt.Sprintf("%s:%s", name, asOf.UTC().Format("200601021504"))
	ok, err := s.lock.Acquire(ctx, key, s.lockTTL)
	if err != nil {
		s.log.WithError(err).WithField("job", name).Error("Run lock unavailable, job not started")
		return false, err
	}
	if !ok {
		s.log.WithField("job", name).Info("Job already running elsewhere, skipped")
		return false, nil
	}

	start := time.Now()
	changed, err := job(ctx, asOf)
	entry := s.log.WithFields(logrus.Fields{
		"job":         name,
		"changed":     changed,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("Job finished with errors")
		return true, err
	}
	entry.Info("Job finished")
	return true, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron runner; the returned context is done once running jobs complete.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
