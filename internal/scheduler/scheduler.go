// Package scheduler triggers the tick orchestrator on a configured
// interval, drops any trigger that arrives while a tick is still running
// rather than queuing it, and exposes a manual trigger for operators.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/orchestrator"
)

// Trigger is the single method the scheduler drives; orchestrator.Orchestrator
// satisfies it.
type Trigger interface {
	Trigger(ctx context.Context) (orchestrator.TickSummary, error)
}

// Scheduler periodically calls Trigger.Trigger. It never fires on process
// start — the first tick fires at now + interval — and a fire that
// lands while the previous tick is still running is recorded as a missed
// tick rather than queued — the orchestrator itself already enforces the
// max_instances=1 rule by rejecting overlapping triggers, so the scheduler
// only needs to not pile up goroutines waiting on that rejection.
type Scheduler struct {
	trigger  Trigger
	interval time.Duration
	log      agentlog.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	missed  int
}

// New builds a Scheduler that fires every interval. interval is converted
// to a "@every" cron spec, keeping the door open to a real cron expression
// via NewWithSpec.
func New(trigger Trigger, interval time.Duration, log agentlog.Logger) *Scheduler {
	return &Scheduler{trigger: trigger, interval: interval, log: log, cron: cron.New()}
}

// NewWithSpec builds a Scheduler from an explicit cron expression instead
// of a fixed interval, for deployments that want tick times pinned to the
// clock rather than to process start.
func NewWithSpec(trigger Trigger, spec string, log agentlog.Logger) (*Scheduler, error) {
	s := &Scheduler{trigger: trigger, log: log, cron: cron.New()}
	id, err := s.cron.AddFunc(spec, s.fire)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

// Start registers the interval entry if needed, starts the cron runner and
// blocks until ctx is cancelled. The cron runner calls fire on its own
// goroutine for each fire, and TriggerNow calls the orchestrator directly;
// at most one tick runs because the orchestrator's guard rejects any
// overlapping trigger with ErrTickInProgress.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.entryID == 0 && s.interval > 0 {
		id, err := s.cron.AddFunc(spec(s.interval), s.fire)
		if err != nil {
			return err
		}
		s.entryID = id
	}
	s.cron.Start()
	defer s.cron.Stop()

	<-ctx.Done()
	return nil
}

// fire is the cron callback: it runs a tick and, if the orchestrator
// reports ErrTickInProgress, records a missed tick rather than retrying or
// queuing.
func (s *Scheduler) fire() {
	if _, err := s.trigger.Trigger(context.Background()); err != nil {
		if errors.Is(err, agenterrors.ErrTickInProgress) {
			s.missed++
			s.log.Warn("scheduled tick dropped: previous tick still running", map[string]interface{}{"missed_total": s.missed})
			return
		}
		s.log.Error("scheduled tick failed", map[string]interface{}{"error": err.Error()})
	}
}

// TriggerNow runs a tick immediately, for an operator's manual-trigger
// request. It shares the same orchestrator guard as the periodic
// path, so a manual trigger during a running tick also reports
// ErrTickInProgress rather than blocking.
func (s *Scheduler) TriggerNow(ctx context.Context) (orchestrator.TickSummary, error) {
	return s.trigger.Trigger(ctx)
}

// MissedTicks reports how many scheduled fires were dropped because a
// prior tick was still in progress.
func (s *Scheduler) MissedTicks() int {
	return s.missed
}

func spec(interval time.Duration) string {
	return "@every " + interval.String()
}
