package notifier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/franksunye/FSOpsAssistant/internal/businesstime"
	"github.com/franksunye/FSOpsAssistant/internal/datasync"
	"github.com/franksunye/FSOpsAssistant/internal/formatter"
	"github.com/franksunye/FSOpsAssistant/internal/notifier"
	"github.com/franksunye/FSOpsAssistant/internal/notifyqueue"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/routing"
	"github.com/franksunye/FSOpsAssistant/internal/store"
	"github.com/franksunye/FSOpsAssistant/internal/testsupport"
)

type fixture struct {
	mgr      *notifier.Manager
	tasks    *notifyqueue.Store
	sender   *testsupport.FakeSender
	fetcher  *testsupport.FakeFetcher
	classify opportunity.Classifier
}

func newFixture(t *testing.T, cfg notifier.Config) fixture {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	taskStore := notifyqueue.NewStore(db)
	routes := routing.NewStatic(map[string]routing.Route{
		"org-a": {OrgName: "org-a", WebhookURL: "https://hooks.example/org-a", Enabled: true},
	}, "https://hooks.example/escalation")

	classifier := opportunity.NewClassifier(
		opportunity.SLAConfig{
			PendingReminderHours:       4,
			PendingEscalationHours:     8,
			NotVisitingReminderHours:   8,
			NotVisitingEscalationHours: 16,
		},
		businesstime.Config{
			WorkStartHour: 0,
			WorkEndHour:   24,
			WorkDays:      map[time.Weekday]bool{0: true, 1: true, 2: true, 3: true, 4: true, 5: true, 6: true},
		},
	)

	fmtr := formatter.New(formatter.Config{ReminderDisplayCap: 5, EscalationDisplayCap: 5, WorkHoursPerDay: 24})
	sender := &testsupport.FakeSender{}
	fetcher := &testsupport.FakeFetcher{}
	syncer := datasync.New(fetcher, db, testsupport.NoopLogger{})

	mgr := notifier.New(taskStore, routes, classifier, fmtr, nil, sender, syncer, testsupport.NoopLogger{}, cfg)
	return fixture{mgr: mgr, tasks: taskStore, sender: sender, fetcher: fetcher, classify: classifier}
}

func defaultConfig() notifier.Config {
	return notifier.Config{
		Cooldown:           2 * time.Hour,
		MaxRetryCount:      5,
		WebhookAPIInterval: 0,
		ReminderEnabled:    true,
		EscalationEnabled:  true,
	}
}

func classified(c opportunity.Classifier, o opportunity.Opportunity, now time.Time) opportunity.Opportunity {
	return c.Classify(o, now)
}

func TestScenario1_SingleReminderSingleOrg(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	o := classified(f.classify, opportunity.Opportunity{
		OrderNum: "O1", OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime: now.Add(-5 * time.Hour),
	}, now)
	require.True(t, o.ReminderDueHit)

	created, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-1", now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "O1", created[0].LogicalOrderID)

	result, err := f.mgr.ExecutePending(ctx, "run-1", now, []opportunity.Opportunity{o})
	require.NoError(t, err)
	require.Equal(t, 1, result.Sent)
	require.Equal(t, 1, f.sender.CallCount())

	sent, err := f.tasks.FindByLogicalIDAndType(ctx, "O1", notifyqueue.TypeReminder)
	require.NoError(t, err)
	require.Equal(t, notifyqueue.StatusSent, sent.Status)
}

func TestScenario2_EscalationAggregation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	var opps []opportunity.Opportunity
	for i := 0; i < 6; i++ {
		o := classified(f.classify, opportunity.Opportunity{
			OrderNum: string(rune('A' + i)), OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
			CreateTime: now.Add(-10 * time.Hour),
		}, now)
		require.True(t, o.EscalationDueHit)
		opps = append(opps, o)
	}
	f.fetcher.SetRows(rawRows(opps))

	created, err := f.mgr.CreateTasks(ctx, opps, "run-1", now)
	require.NoError(t, err)

	var escalationTasks int
	for _, c := range created {
		if c.Type == notifyqueue.TypeEscalation {
			escalationTasks++
			require.Equal(t, "ESCALATION_org-a", c.LogicalOrderID)
		}
	}
	require.Equal(t, 1, escalationTasks, "exactly one per-org escalation task created")

	result, err := f.mgr.ExecutePending(ctx, "run-1", now, opps)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.CallCount())
	require.Contains(t, f.sender.Calls[0].Text, "6 order(s)")
	require.Contains(t, f.sender.Calls[0].Text, "1 more order")
	require.Equal(t, 1, result.ByOrg["org-a"].TasksSent)
}

func TestScenario3_LegacyEscalationCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	var opps []opportunity.Opportunity
	for i := 0; i < 6; i++ {
		o := classified(f.classify, opportunity.Opportunity{
			OrderNum: string(rune('A' + i)), OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
			CreateTime: now.Add(-10 * time.Hour),
		}, now)
		opps = append(opps, o)
		_, err := f.tasks.Save(ctx, notifyqueue.Task{
			LogicalOrderID: o.OrderNum, OrgName: "org-a", Type: notifyqueue.TypeEscalation,
			Status: notifyqueue.StatusPending, DueTime: now, MaxRetryCount: 5, Cooldown: 2 * time.Hour,
		})
		require.NoError(t, err)
	}
	f.fetcher.SetRows(rawRows(opps))

	_, err := f.mgr.CreateTasks(ctx, opps, "run-1", now)
	require.NoError(t, err)

	for _, o := range opps {
		legacy, err := f.tasks.FindByLogicalIDAndType(ctx, o.OrderNum, notifyqueue.TypeEscalation)
		require.NoError(t, err)
		require.Equal(t, notifyqueue.StatusSent, legacy.Status, "legacy row retired without dispatch")
	}

	aggregate, err := f.tasks.FindByLogicalIDAndType(ctx, "ESCALATION_org-a", notifyqueue.TypeEscalation)
	require.NoError(t, err)
	require.Equal(t, notifyqueue.StatusPending, aggregate.Status)

	_, err = f.mgr.ExecutePending(ctx, "run-1", now, opps)
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.CallCount(), "exactly one escalation message dispatched")
}

func TestScenario4_CooldownSuppression(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	o := classified(f.classify, opportunity.Opportunity{
		OrderNum: "O1", OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime: now.Add(-5 * time.Hour),
	}, now)

	_, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-1", now)
	require.NoError(t, err)
	_, err = f.mgr.ExecutePending(ctx, "run-1", now, []opportunity.Opportunity{o})
	require.NoError(t, err)
	require.Equal(t, 1, f.sender.CallCount())

	later := now.Add(30 * time.Minute)
	oLater := classified(f.classify, o, later)
	created, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{oLater}, "run-2", later)
	require.NoError(t, err)
	require.Empty(t, created, "cooldown unexpired: no new task")

	result, err := f.mgr.ExecutePending(ctx, "run-2", later, []opportunity.Opportunity{oLater})
	require.NoError(t, err)
	require.Equal(t, 0, result.Sent)
	require.Equal(t, 1, f.sender.CallCount(), "no additional send")
}

func TestScenario5_RetryCap(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	_, err := f.tasks.Save(ctx, notifyqueue.Task{
		LogicalOrderID: "O1", OrgName: "org-a", Type: notifyqueue.TypeReminder,
		Status: notifyqueue.StatusPending, DueTime: now, RetryCount: 4, MaxRetryCount: 5,
		Cooldown: 2 * time.Hour,
	})
	require.NoError(t, err)

	o := classified(f.classify, opportunity.Opportunity{
		OrderNum: "O1", OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime: now.Add(-5 * time.Hour),
	}, now)

	f.sender.FailNext(1)
	result, err := f.mgr.ExecutePending(ctx, "run-1", now, []opportunity.Opportunity{o})
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)

	failed, err := f.tasks.FindByLogicalIDAndType(ctx, "O1", notifyqueue.TypeReminder)
	require.NoError(t, err)
	require.Equal(t, notifyqueue.StatusFailed, failed.Status)
	require.Equal(t, 5, failed.RetryCount)

	created, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-2", now)
	require.NoError(t, err)
	require.Empty(t, created, "retry cap reached and still in cooldown: no new pending row")

	afterCooldown := now.Add(3 * time.Hour)
	oLater := classified(f.classify, o, afterCooldown)
	created, err = f.mgr.CreateTasks(ctx, []opportunity.Opportunity{oLater}, "run-3", afterCooldown)
	require.NoError(t, err)
	require.Len(t, created, 1, "cooldown elapsed: a fresh pending row may be created")
}

func TestScenario6_UnmonitoredStatusNeverCreatesTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	o := classified(f.classify, opportunity.Opportunity{
		OrderNum: "O1", OrgName: "org-a", OrderStatus: "Completed",
		CreateTime: now.Add(-100 * time.Hour),
	}, now)
	require.False(t, o.Monitored)

	created, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-1", now)
	require.NoError(t, err)
	require.Empty(t, created)
}

func TestIdempotence_SecondRunCreatesNoNewTasks(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, defaultConfig())

	o := classified(f.classify, opportunity.Opportunity{
		OrderNum: "O1", OrgName: "org-a", OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime: now.Add(-5 * time.Hour),
	}, now)

	first, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-1", now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := f.mgr.CreateTasks(ctx, []opportunity.Opportunity{o}, "run-1b", now)
	require.NoError(t, err)
	require.Empty(t, second, "same tick's Pending task already covers this key")
}

func rawRows(opps []opportunity.Opportunity) []opportunity.RawOpportunity {
	out := make([]opportunity.RawOpportunity, len(opps))
	for i, o := range opps {
		ct := o.CreateTime
		out[i] = opportunity.RawOpportunity{
			OrderNum: o.OrderNum, Name: o.CustomerName, Address: o.Address,
			SupervisorName: o.SupervisorName, OrgName: o.OrgName,
			CreateTime: &ct, OrderStatus: string(o.OrderStatus),
		}
	}
	return out
}
