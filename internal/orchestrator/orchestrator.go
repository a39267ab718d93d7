// Package orchestrator implements the tick orchestrator: it wires datasync
// -> the SLA classifier -> the notification manager (plan then execute) ->
// the run tracker into a fixed six-step sequence, and guarantees at most
// one tick runs at a time.
package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/franksunye/FSOpsAssistant/internal/agentconfig"
	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/businesstime"
	"github.com/franksunye/FSOpsAssistant/internal/datasync"
	"github.com/franksunye/FSOpsAssistant/internal/formatter"
	"github.com/franksunye/FSOpsAssistant/internal/notifier"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/runtracker"
)

// Config holds the orchestrator's own tunables.
type Config struct {
	TickTimeout time.Duration

	// Base and Snapshot, when both set, enable per-tick config layering:
	// at tick start the orchestrator reads the system_config table via
	// Snapshot, layers it over Base, and reconfigures the classifier and
	// notification manager with the result. A snapshot read failure falls
	// back to the previous tick's config with a logged warning.
	Base     *agentconfig.Config
	Snapshot func(ctx context.Context) (map[string]string, error)
}

// Orchestrator composes one tick. It is safe for concurrent Trigger calls:
// a trigger arriving while another tick runs returns ErrTickInProgress
// immediately — dropped, not buffered.
type Orchestrator struct {
	syncer     *datasync.Syncer
	classifier opportunity.Classifier
	manager    *notifier.Manager
	tracker    *runtracker.Tracker
	log        agentlog.Logger
	cfg        Config

	running atomic.Bool
}

// New builds an Orchestrator from its already-constructed collaborators.
func New(syncer *datasync.Syncer, classifier opportunity.Classifier, manager *notifier.Manager, tracker *runtracker.Tracker, log agentlog.Logger, cfg Config) *Orchestrator {
	return &Orchestrator{syncer: syncer, classifier: classifier, manager: manager, tracker: tracker, log: log, cfg: cfg}
}

// TickSummary reports what one tick accomplished, for callers (the
// scheduler, a manual-trigger CLI command) that want to log or display it.
type TickSummary struct {
	RunID                  string
	Status                 runtracker.Status
	OpportunitiesProcessed int
	NotificationsSent      int
	Errors                 []string
}

// Trigger runs one tick if none is already in progress, otherwise returns
// agenterrors.ErrTickInProgress immediately.
func (o *Orchestrator) Trigger(ctx context.Context) (TickSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return TickSummary{}, agenterrors.ErrTickInProgress
	}
	defer o.running.Store(false)

	if o.cfg.TickTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.TickTimeout)
		defer cancel()
	}

	return o.runTick(ctx)
}

func (o *Orchestrator) runTick(ctx context.Context) (TickSummary, error) {
	o.reconfigure(ctx)

	now := time.Now().UTC()
	runID, err := o.tracker.StartRun(ctx, now, map[string]interface{}{})
	if err != nil {
		return TickSummary{}, fmt.Errorf("failed to start run: %w", err)
	}
	ctx = agentlog.WithRunID(ctx, runID)

	var runErrors []string
	addErr := func(step string, err error) {
		msg := fmt.Sprintf("%s: %v", step, err)
		runErrors = append(runErrors, msg)
		o.log.ErrorWithContext(ctx, "tick step failed", map[string]interface{}{"step": step, "error": err.Error()})
	}

	// Step 1: fetchData.
	opps, cacheFetchErr, fetchErr := o.fetchData(ctx, runID, now)
	if fetchErr != nil {
		addErr("fetchData", fetchErr)
		if err := o.tracker.FinishRun(ctx, runID, time.Now().UTC(), runtracker.StatusCompleted, 0, 0, runErrors); err != nil {
			return TickSummary{}, err
		}
		return TickSummary{RunID: runID, Status: runtracker.StatusCompleted, Errors: runErrors}, nil
	}
	if cacheFetchErr != nil {
		// Fell back to cache successfully: the tick continues, but the
		// underlying fetch failure is still recorded.
		addErr("fetchData", cacheFetchErr)
	}

	// Step 2: analyzeStatus.
	opps, counts := o.analyzeStatus(ctx, runID, opps, now)

	notificationsSent := 0
	stepFailed := false

	// Step 3: decideToContinue.
	if len(opps) > 0 {
		// Step 4: planNotifications.
		if _, err := o.planNotifications(ctx, runID, opps, now); err != nil {
			addErr("planNotifications", err)
			stepFailed = true
		}

		// Step 5: sendNotifications.
		sent, err := o.sendNotifications(ctx, runID, opps, now)
		if err != nil {
			addErr("sendNotifications", err)
			stepFailed = true
		}
		notificationsSent = sent
	}

	// Step 6: recordResults. A fetch failure recovered via cache leaves the
	// run Completed; a plan/send step exception or a tick timeout
	// marks it Failed.
	status := runtracker.StatusCompleted
	if stepFailed || ctx.Err() != nil {
		status = runtracker.StatusFailed
	}
	finishCtx := ctx
	if ctx.Err() != nil {
		// The tick deadline has passed; the run record still has to close.
		runErrors = append(runErrors, fmt.Sprintf("tick: %v", agenterrors.ErrTickTimeout))
		finishCtx = context.WithoutCancel(ctx)
	}
	if err := o.tracker.FinishRun(finishCtx, runID, time.Now().UTC(), status, len(opps), notificationsSent, runErrors); err != nil {
		return TickSummary{}, fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	o.log.InfoWithContext(ctx, "tick completed", map[string]interface{}{
		"processed": len(opps), "reminder_due": counts.reminderDue, "escalation_due": counts.escalationDue,
		"sent": notificationsSent, "errors": len(runErrors),
	})

	return TickSummary{
		RunID: runID, Status: status, OpportunitiesProcessed: len(opps),
		NotificationsSent: notificationsSent, Errors: runErrors,
	}, nil
}

// reconfigure layers the system_config snapshot over the base config and
// installs the result on the classifier and the notification manager, so
// operator edits to SLA thresholds, cooldowns, toggles, and display caps
// take effect on the next tick without a restart.
func (o *Orchestrator) reconfigure(ctx context.Context) {
	if o.cfg.Base == nil || o.cfg.Snapshot == nil {
		return
	}
	snap, err := o.cfg.Snapshot(ctx)
	if err != nil {
		o.log.Warn("failed to read system_config snapshot, keeping previous tick's config", map[string]interface{}{"error": err.Error()})
		return
	}
	tick := o.cfg.Base.WithOverrides(snap)

	o.classifier = opportunity.NewClassifier(
		opportunity.SLAConfig{
			PendingReminderHours:       tick.SLA.PendingReminderHours,
			PendingEscalationHours:     tick.SLA.PendingEscalationHours,
			NotVisitingReminderHours:   tick.SLA.NotVisitingReminderHours,
			NotVisitingEscalationHours: tick.SLA.NotVisitingEscalationHours,
		},
		businesstime.NewConfig(tick.Business.WorkStartHour, tick.Business.WorkEndHour, tick.Business.WorkDays),
	)
	o.manager.Reconfigure(
		notifier.Config{
			Cooldown:           tick.NotificationCooldown,
			MaxRetryCount:      tick.MaxRetryCount,
			WebhookAPIInterval: tick.WebhookAPIInterval,
			ReminderEnabled:    tick.ReminderEnabled,
			EscalationEnabled:  tick.EscalationEnabled,
		},
		o.classifier,
		formatter.New(formatter.Config{
			ReminderDisplayCap:   tick.ReminderMaxDisplayOrders,
			EscalationDisplayCap: tick.EscalationMaxDisplayOrders,
			WorkHoursPerDay:      float64(tick.Business.WorkEndHour - tick.Business.WorkStartHour),
		}),
	)
}

func (o *Orchestrator) fetchData(ctx context.Context, runID string, now time.Time) ([]opportunity.Opportunity, error, error) {
	scope := o.tracker.BeginStep(runID, "fetchData", "")
	defer func() { _ = scope.Close(ctx) }()

	result, err := o.syncer.GetOpportunities(ctx, now)
	if err != nil {
		scope.Fail(err)
		return nil, nil, err
	}
	scope.SetOutput(fmt.Sprintf("opportunities=%d used_cache=%t skipped=%d", len(result.Opportunities), result.UsedCache, result.Skipped))
	if result.FetchErr != nil {
		scope.Fail(result.FetchErr)
	}
	return result.Opportunities, result.FetchErr, nil
}

type statusCounts struct {
	total, reminderDue, escalationDue int
}

func (o *Orchestrator) analyzeStatus(ctx context.Context, runID string, opps []opportunity.Opportunity, now time.Time) ([]opportunity.Opportunity, statusCounts) {
	scope := o.tracker.BeginStep(runID, "analyzeStatus", fmt.Sprintf("opportunities=%d", len(opps)))
	defer func() { _ = scope.Close(ctx) }()

	counts := statusCounts{total: len(opps)}
	classified := make([]opportunity.Opportunity, len(opps))
	for i, opp := range opps {
		c := o.classifier.Classify(opp, now)
		classified[i] = c
		if c.ReminderDueHit {
			counts.reminderDue++
		}
		if c.EscalationDueHit {
			counts.escalationDue++
		}
	}
	scope.SetOutput(fmt.Sprintf("total=%d reminder_due=%d escalation_due=%d", counts.total, counts.reminderDue, counts.escalationDue))
	return classified, counts
}

func (o *Orchestrator) planNotifications(ctx context.Context, runID string, opps []opportunity.Opportunity, now time.Time) (int, error) {
	scope := o.tracker.BeginStep(runID, "planNotifications", fmt.Sprintf("opportunities=%d", len(opps)))
	defer func() { _ = scope.Close(ctx) }()

	created, err := o.manager.CreateTasks(ctx, opps, runID, now)
	if err != nil {
		scope.Fail(err)
		// A plan failure aborts only the plan phase; execute still runs
		// on pre-existing pending tasks, so this is not fatal to the tick.
		return len(created), err
	}
	scope.SetOutput(fmt.Sprintf("created=%d", len(created)))
	return len(created), nil
}

func (o *Orchestrator) sendNotifications(ctx context.Context, runID string, opps []opportunity.Opportunity, now time.Time) (int, error) {
	scope := o.tracker.BeginStep(runID, "sendNotifications", "")
	defer func() { _ = scope.Close(ctx) }()

	result, err := o.manager.ExecutePending(ctx, runID, now, opps)
	if err != nil {
		scope.Fail(err)
		return result.Sent, err
	}
	scope.SetOutput(fmt.Sprintf("sent=%d failed=%d skipped_cooldown=%d", result.Sent, result.Failed, result.SkippedCooldown))
	return result.Sent, nil
}
