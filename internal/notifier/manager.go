// Package notifier implements the notification manager: the core
// state machine that turns classified opportunities into deduplicated,
// cooldown-respecting, organization-aggregated notifications, coordinating
// the task store, the message formatter, and the WebhookSender.
//
// The manager runs in two phases per tick, always in this order: Plan
// (CreateTasks) then Execute (ExecutePending). Plan never sends; Execute
// never creates new rows, so tasks created mid-tick are not visible until
// the next tick.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/datasync"
	"github.com/franksunye/FSOpsAssistant/internal/formatter"
	"github.com/franksunye/FSOpsAssistant/internal/notifyqueue"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/routing"
)

// Config holds the manager's tick-scoped tunables, resolved once by the
// orchestrator from agentconfig + the per-tick system_config snapshot.
type Config struct {
	Cooldown           time.Duration
	MaxRetryCount      int
	WebhookAPIInterval time.Duration
	ReminderEnabled    bool
	EscalationEnabled  bool
}

// Manager wires the task store, formatter, routing registry, data-sync
// refetch, and WebhookSender together into the plan/execute state machine.
type Manager struct {
	tasks      *notifyqueue.Store
	routes     *routing.Registry
	classifier opportunity.Classifier
	formatter  *formatter.Formatter
	advisor    formatter.Advisor
	sender     WebhookSender
	syncer     *datasync.Syncer
	log        agentlog.Logger
	cfg        Config

	// sleep is the inter-call pacing hook. Overridden
	// in tests to avoid real sleeps.
	sleep func(time.Duration)
}

// New builds a Manager. advisor may be nil, in which case the deterministic
// formatter is always used.
func New(tasks *notifyqueue.Store, routes *routing.Registry, classifier opportunity.Classifier, fmtr *formatter.Formatter, advisor formatter.Advisor, sender WebhookSender, syncer *datasync.Syncer, log agentlog.Logger, cfg Config) *Manager {
	if advisor == nil {
		advisor = formatter.NoOpAdvisor{}
	}
	return &Manager{
		tasks: tasks, routes: routes, classifier: classifier, formatter: fmtr,
		advisor: advisor, sender: sender, syncer: syncer, log: log, cfg: cfg,
		sleep: time.Sleep,
	}
}

// Reconfigure installs the tick's resolved tunables, classifier, and
// formatter. The orchestrator calls it once at tick start, before the plan
// phase, so a system_config edit takes effect on the next tick and is
// never observed mid-phase.
func (m *Manager) Reconfigure(cfg Config, classifier opportunity.Classifier, fmtr *formatter.Formatter) {
	m.cfg = cfg
	m.classifier = classifier
	m.formatter = fmtr
}

// CreateTasks is the plan phase: it creates Reminder tasks for
// each breaching opportunity and a single per-org Escalation task, subject
// to dedup-within-tick, the store's open-Pending invariant, and cooldown.
// It never sends; it only reads and writes the task store.
func (m *Manager) CreateTasks(ctx context.Context, opps []opportunity.Opportunity, runID string, now time.Time) ([]notifyqueue.Task, error) {
	createdKeys := make(map[string]bool)
	escalationOrgs := make(map[string]bool)
	var created []notifyqueue.Task

	for _, o := range opps {
		if !o.Monitored {
			continue
		}

		// An opportunity past the escalation threshold is covered by the
		// org-level escalation aggregate; it does not also get a per-order
		// reminder.
		if m.cfg.ReminderEnabled && o.ReminderDueHit && o.EscalationLevel == 0 {
			key := o.OrderNum + "|" + string(notifyqueue.TypeReminder)
			if !createdKeys[key] {
				createdKeys[key] = true
				task, err := m.maybeCreate(ctx, o.OrderNum, o.OrgName, notifyqueue.TypeReminder, runID, now)
				if err != nil {
					return created, fmt.Errorf("plan: reminder for order %s: %w", o.OrderNum, err)
				}
				if task != nil {
					created = append(created, *task)
				}
			}
		}

		if o.EscalationLevel > 0 {
			escalationOrgs[o.OrgName] = true
		}
	}

	if !m.cfg.EscalationEnabled {
		return created, nil
	}

	orgs := make([]string, 0, len(escalationOrgs))
	for org := range escalationOrgs {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	for _, org := range orgs {
		escID := notifyqueue.EscalationLogicalID(org)

		// Cleanup step: retire any legacy per-order
		// escalation rows for this org before creating the per-org
		// aggregate, so execute never dispatches more than one escalation
		// message for the same org in the same tick.
		if err := m.retireStaleEscalations(ctx, org, escID, runID, now); err != nil {
			return created, fmt.Errorf("plan: escalation cleanup for org %s: %w", org, err)
		}

		task, err := m.maybeCreate(ctx, escID, org, notifyqueue.TypeEscalation, runID, now)
		if err != nil {
			return created, fmt.Errorf("plan: escalation for org %s: %w", org, err)
		}
		if task != nil {
			created = append(created, *task)
		}
	}

	return created, nil
}

// maybeCreate creates a new Pending task for (logicalOrderID, typ) unless
// one is already Pending or the most recent row is still in cooldown. The
// cooldown check reads the store's most recent row for the key, whatever
// its status, not just Pending rows.
func (m *Manager) maybeCreate(ctx context.Context, logicalOrderID, orgName string, typ notifyqueue.Type, runID string, now time.Time) (*notifyqueue.Task, error) {
	latest, err := m.tasks.FindByLogicalIDAndType(ctx, logicalOrderID, typ)
	switch {
	case err == nil:
		if latest.Status == notifyqueue.StatusPending {
			return nil, nil
		}
		if latest.InCooldown(now) {
			return nil, nil
		}
	case errors.Is(err, agenterrors.ErrTaskNotFound):
		// No prior row: free to create.
	default:
		return nil, err
	}

	saved, err := m.tasks.Save(ctx, notifyqueue.Task{
		LogicalOrderID: logicalOrderID,
		OrgName:        orgName,
		Type:           typ,
		Status:         notifyqueue.StatusPending,
		DueTime:        now,
		CreatedRunID:   runID,
		MaxRetryCount:  m.cfg.MaxRetryCount,
		Cooldown:       m.cfg.Cooldown,
	})
	if err != nil {
		if errors.Is(err, agenterrors.ErrTaskAlreadyPending) {
			// Lost a race against a task created earlier this same tick
			// by a different opportunity sharing the key; not an error.
			return nil, nil
		}
		return nil, err
	}
	return &saved, nil
}

// retireStaleEscalations marks Pending escalation rows for org whose
// logicalOrderId isn't the canonical per-org key as Sent, without
// dispatching anything. Such rows are leftovers from before escalations
// were aggregated per org, and letting them execute would send one
// escalation message per order.
func (m *Manager) retireStaleEscalations(ctx context.Context, org, canonicalID, runID string, now time.Time) error {
	stale, err := m.tasks.FindOpenEscalationTasksForOrg(ctx, org)
	if err != nil {
		return err
	}
	for _, t := range stale {
		if t.LogicalOrderID == canonicalID || t.Status != notifyqueue.StatusPending {
			continue
		}
		if err := m.tasks.UpdateStatus(ctx, t.ID, notifyqueue.StatusSent, runID, now); err != nil {
			return fmt.Errorf("failed to retire legacy escalation task %s: %w", t.ID, err)
		}
	}
	return nil
}

// OrgOutcome summarizes what ExecutePending did for one organization.
type OrgOutcome struct {
	OrgName        string
	ReminderSent   bool
	EscalationSent bool
	TasksSent      int
	TasksFailed    int
}

// ExecuteResult is ExecutePending's return value.
type ExecuteResult struct {
	TotalConsidered int
	Sent            int
	Failed          int
	SkippedCooldown int
	ByOrg           map[string]OrgOutcome
}

// ExecutePending is the execute phase: it reads every Pending
// task, filters to those due now, groups by org, and sends at most one
// reminder message and one escalation message per org, pacing webhook
// calls by cfg.WebhookAPIInterval.
func (m *Manager) ExecutePending(ctx context.Context, runID string, now time.Time, workingSet []opportunity.Opportunity) (ExecuteResult, error) {
	pending, err := m.tasks.FindPending(ctx)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("execute: failed to load pending tasks: %w", err)
	}

	result := ExecuteResult{TotalConsidered: len(pending), ByOrg: make(map[string]OrgOutcome)}

	byOrg := make(map[string][]notifyqueue.Task)
	for _, t := range pending {
		if !t.ShouldSendNow(now) {
			if t.InCooldown(now) {
				result.SkippedCooldown++
			}
			continue
		}
		byOrg[t.OrgName] = append(byOrg[t.OrgName], t)
	}

	orgs := make([]string, 0, len(byOrg))
	for org := range byOrg {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	byIndex := indexByOrderNum(workingSet)
	calledAny := false
	fresh := &freshSet{}

	for _, org := range orgs {
		var reminderTasks, escalationTasks []notifyqueue.Task
		for _, t := range byOrg[org] {
			switch t.Type {
			case notifyqueue.TypeReminder:
				reminderTasks = append(reminderTasks, t)
			case notifyqueue.TypeEscalation:
				escalationTasks = append(escalationTasks, t)
			}
		}

		outcome := OrgOutcome{OrgName: org}

		if len(reminderTasks) > 0 {
			sentOK, err := m.sendReminder(ctx, org, reminderTasks, byIndex, fresh, runID, now, &calledAny)
			if err != nil {
				return result, fmt.Errorf("execute: reminder send for org %s: %w", org, err)
			}
			outcome.ReminderSent = sentOK
			if sentOK {
				outcome.TasksSent += len(reminderTasks)
				result.Sent += len(reminderTasks)
			} else {
				outcome.TasksFailed += len(reminderTasks)
				result.Failed += len(reminderTasks)
			}
		}

		if len(escalationTasks) > 0 {
			sentOK, err := m.sendEscalation(ctx, org, escalationTasks, fresh, runID, now, &calledAny)
			if err != nil {
				return result, fmt.Errorf("execute: escalation send for org %s: %w", org, err)
			}
			outcome.EscalationSent = sentOK
			if sentOK {
				outcome.TasksSent += len(escalationTasks)
				result.Sent += len(escalationTasks)
			} else {
				outcome.TasksFailed += len(escalationTasks)
				result.Failed += len(escalationTasks)
			}
		}

		result.ByOrg[org] = outcome
	}

	return result, nil
}

func (m *Manager) sendReminder(ctx context.Context, org string, tasks []notifyqueue.Task, byIndex map[string]opportunity.Opportunity, fresh *freshSet, runID string, now time.Time, calledAny *bool) (bool, error) {
	opps, missing := lookupOpportunities(tasks, byIndex)
	if len(missing) > 0 {
		refreshed, err := m.freshOpportunities(ctx, now, fresh)
		if err != nil {
			m.log.Warn("failed to refresh opportunities for reminder send", map[string]interface{}{"org": org, "error": err.Error()})
		} else {
			opps, _ = lookupOpportunities(tasks, indexByOrderNum(refreshed))
		}
	}
	if len(opps) == 0 {
		m.log.Warn("no opportunities resolved for reminder tasks, skipping send", map[string]interface{}{"org": org})
		return false, m.failAll(ctx, tasks, now)
	}

	message := formatter.Render(m.formatter, m.advisor, org, opps, false, len(opps))
	route, err := m.routes.Resolve(org, false)
	if err != nil {
		m.log.Warn("no route for reminder, skipping send", map[string]interface{}{"org": org, "error": err.Error()})
		return false, m.failAll(ctx, tasks, now)
	}

	m.pace(calledAny)
	ok := m.sender.Send(ctx, route.WebhookURL, message)
	return ok, m.applyOutcome(ctx, tasks, ok, message, runID, now)
}

func (m *Manager) sendEscalation(ctx context.Context, org string, tasks []notifyqueue.Task, fresh *freshSet, runID string, now time.Time, calledAny *bool) (bool, error) {
	latest, err := m.freshOpportunities(ctx, now, fresh)
	if err != nil {
		return false, fmt.Errorf("failed to refresh opportunities for escalation send: %w", err)
	}

	var escalating []opportunity.Opportunity
	for _, o := range latest {
		if o.OrgName == org && o.EscalationLevel > 0 {
			escalating = append(escalating, o)
		}
	}
	sort.Slice(escalating, func(i, j int) bool { return escalating[i].OrderNum < escalating[j].OrderNum })

	message := formatter.Render(m.formatter, m.advisor, org, escalating, true, len(escalating))
	route, err := m.routes.Resolve(org, true)
	if err != nil {
		m.log.Warn("no escalation route, skipping send", map[string]interface{}{"org": org, "error": err.Error()})
		return false, m.failAll(ctx, tasks, now)
	}

	m.pace(calledAny)
	ok := m.sender.Send(ctx, route.WebhookURL, message)
	return ok, m.applyOutcome(ctx, tasks, ok, message, runID, now)
}

// pace sleeps WebhookAPIInterval before every call after the first, so the
// very first webhook call of a tick never waits idly.
func (m *Manager) pace(calledAny *bool) {
	if *calledAny && m.cfg.WebhookAPIInterval > 0 {
		m.sleep(m.cfg.WebhookAPIInterval)
	}
	*calledAny = true
}

func (m *Manager) applyOutcome(ctx context.Context, tasks []notifyqueue.Task, ok bool, message string, runID string, now time.Time) error {
	if ok {
		return m.sendAll(ctx, tasks, message, runID, now)
	}
	return m.failAll(ctx, tasks, now)
}

func (m *Manager) sendAll(ctx context.Context, tasks []notifyqueue.Task, message string, runID string, now time.Time) error {
	for _, t := range tasks {
		if t.Message == "" {
			if err := m.tasks.UpdateMessage(ctx, t.ID, message, now); err != nil {
				return err
			}
		}
		if err := m.tasks.UpdateStatus(ctx, t.ID, notifyqueue.StatusSent, runID, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) failAll(ctx context.Context, tasks []notifyqueue.Task, now time.Time) error {
	for _, t := range tasks {
		if err := m.tasks.UpdateStatus(ctx, t.ID, notifyqueue.StatusFailed, "", now); err != nil {
			return err
		}
	}
	return nil
}

// freshSet memoizes one ExecutePending call's fresh fetch, so a reminder's
// missing-opportunity lookup and the escalation sends share a single
// refetch per tick; within one execute phase "the freshest data" is the
// same snapshot.
type freshSet struct {
	opps   []opportunity.Opportunity
	loaded bool
}

func (m *Manager) freshOpportunities(ctx context.Context, now time.Time, cache *freshSet) ([]opportunity.Opportunity, error) {
	if cache.loaded {
		return cache.opps, nil
	}
	res, err := m.syncer.GetOpportunities(ctx, now)
	if err != nil {
		return nil, err
	}
	out := make([]opportunity.Opportunity, len(res.Opportunities))
	for i, o := range res.Opportunities {
		out[i] = m.classifier.Classify(o, now)
	}
	cache.opps, cache.loaded = out, true
	return out, nil
}

func indexByOrderNum(opps []opportunity.Opportunity) map[string]opportunity.Opportunity {
	idx := make(map[string]opportunity.Opportunity, len(opps))
	for _, o := range opps {
		idx[o.OrderNum] = o
	}
	return idx
}

func lookupOpportunities(tasks []notifyqueue.Task, idx map[string]opportunity.Opportunity) (found []opportunity.Opportunity, missing []string) {
	for _, t := range tasks {
		if o, ok := idx[t.LogicalOrderID]; ok {
			found = append(found, o)
		} else {
			missing = append(missing, t.LogicalOrderID)
		}
	}
	return found, missing
}
