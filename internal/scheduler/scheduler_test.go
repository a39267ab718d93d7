package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/orchestrator"
	"github.com/franksunye/FSOpsAssistant/internal/scheduler"
	"github.com/franksunye/FSOpsAssistant/internal/testsupport"
)

type fakeTrigger struct {
	calls   int
	busy    bool
	summary orchestrator.TickSummary
}

func (f *fakeTrigger) Trigger(_ context.Context) (orchestrator.TickSummary, error) {
	f.calls++
	if f.busy {
		return orchestrator.TickSummary{}, agenterrors.ErrTickInProgress
	}
	return f.summary, nil
}

func TestTriggerNow_DelegatesToOrchestrator(t *testing.T) {
	trig := &fakeTrigger{summary: orchestrator.TickSummary{RunID: "run-1"}}
	s := scheduler.New(trig, time.Hour, testsupport.NoopLogger{})

	summary, err := s.TriggerNow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 1, trig.calls)
}

func TestTriggerNow_PropagatesTickInProgress(t *testing.T) {
	trig := &fakeTrigger{busy: true}
	s := scheduler.New(trig, time.Hour, testsupport.NoopLogger{})

	_, err := s.TriggerNow(context.Background())
	assert.ErrorIs(t, err, agenterrors.ErrTickInProgress)
}

func TestMissedTicks_StartsAtZero(t *testing.T) {
	trig := &fakeTrigger{}
	s := scheduler.New(trig, time.Hour, testsupport.NoopLogger{})
	assert.Equal(t, 0, s.MissedTicks())
}
