package opportunity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/franksunye/FSOpsAssistant/internal/businesstime"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
)

func classifier() opportunity.Classifier {
	return opportunity.NewClassifier(
		opportunity.SLAConfig{
			PendingReminderHours:       4,
			PendingEscalationHours:     8,
			NotVisitingReminderHours:   8,
			NotVisitingEscalationHours: 16,
		},
		businesstime.NewConfig(0, 24, []int{1, 2, 3, 4, 5, 6, 7}), // 24/7 window simplifies arithmetic
	)
}

func TestClassify_UnmonitoredStatus_NoDerivedFlags(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: "Completed",
		CreateTime:  now.Add(-100 * time.Hour),
	}
	got := c.Classify(o, now)
	assert.False(t, got.Monitored)
	assert.False(t, got.ReminderDueHit)
	assert.False(t, got.EscalationDueHit)
	assert.Equal(t, 0.0, got.ElapsedBusinessHours)
}

func TestClassify_ElapsedExactlyAtThreshold_DoesNotFire(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime:  now.Add(-4 * time.Hour), // elapsed == reminder threshold exactly
	}
	got := c.Classify(o, now)
	assert.Equal(t, 4.0, got.ElapsedBusinessHours)
	assert.False(t, got.ReminderDueHit, "elapsed == threshold must not fire per strict > rule")
}

func TestClassify_ElapsedJustOverThreshold_Fires(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 1, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime:  now.Add(-4*time.Hour - time.Minute),
	}
	got := c.Classify(o, now)
	assert.True(t, got.ReminderDueHit)
	assert.False(t, got.EscalationDueHit)
}

func TestClassify_EscalationDueHit_SetsLevelAndOverdue(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime:  now.Add(-10 * time.Hour), // 2h past the 8h escalation threshold
	}
	got := c.Classify(o, now)
	assert.True(t, got.EscalationDueHit)
	assert.Equal(t, 1, got.EscalationLevel)
	assert.Equal(t, 2.0, got.OverdueHours)
	assert.Equal(t, 1.0, got.ProgressRatio)
	assert.Equal(t, 8.0, got.SLAThresholdHours)
}

func TestClassify_ApproachingEscalation_At80Percent(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: opportunity.StatusPendingAppointment,
		CreateTime:  now.Add(-6*time.Hour - 30*time.Minute), // 6.5/8 = 0.8125
	}
	got := c.Classify(o, now)
	assert.False(t, got.EscalationDueHit)
	assert.True(t, got.ApproachingEscalation)
}

func TestClassify_NotVisitingStatus_UsesItsOwnThresholds(t *testing.T) {
	c := classifier()
	now := time.Date(2026, 7, 27, 12, 0, 0, 0, time.UTC)
	o := opportunity.Opportunity{
		OrderStatus: opportunity.StatusTemporarilyNotVisiting,
		CreateTime:  now.Add(-9 * time.Hour), // > 8h NotVisiting reminder, < 16h escalation
	}
	got := c.Classify(o, now)
	assert.True(t, got.ReminderDueHit)
	assert.False(t, got.EscalationDueHit)
}

func TestMapRaw_SkipsMissingCreateTime(t *testing.T) {
	ts := time.Now()
	rows := []opportunity.RawOpportunity{
		{OrderNum: "O1", CreateTime: &ts, OrderStatus: "PendingAppointment"},
		{OrderNum: "O2", CreateTime: nil, OrderStatus: "PendingAppointment"},
	}
	result := opportunity.MapRaw(rows)
	assert.Len(t, result.Opportunities, 1)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "O1", result.Opportunities[0].OrderNum)
}

func TestSourceHash_StableAndSensitiveToFields(t *testing.T) {
	now := time.Now().UTC()
	a := opportunity.Opportunity{OrderNum: "O1", CustomerName: "Acme", CreateTime: now, OrgName: "org-a"}
	b := a
	assert.Equal(t, a.SourceHash(), b.SourceHash())

	b.OrgName = "org-b"
	assert.NotEqual(t, a.SourceHash(), b.SourceHash())
}
