package runtracker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/runtracker"
	"github.com/franksunye/FSOpsAssistant/internal/store"
)

func newTracker(t *testing.T) *runtracker.Tracker {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return runtracker.New(db)
}

func TestStartAndFinishRun(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)
	triggered := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	runID, err := tracker.StartRun(ctx, triggered, map[string]interface{}{"trigger": "manual"})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	run, err := tracker.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runtracker.StatusRunning, run.Status)
	assert.Nil(t, run.EndTime)
	assert.Equal(t, "manual", run.Context["trigger"])

	ended := triggered.Add(3 * time.Second)
	require.NoError(t, tracker.FinishRun(ctx, runID, ended, runtracker.StatusCompleted, 7, 2, []string{"fetchData: source flaked"}))

	run, err = tracker.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, runtracker.StatusCompleted, run.Status)
	require.NotNil(t, run.EndTime)
	assert.Equal(t, 7, run.OpportunitiesProcessed)
	assert.Equal(t, 2, run.NotificationsSent)
	assert.Equal(t, []string{"fetchData: source flaked"}, run.Errors)
}

func TestGetRun_UnknownID(t *testing.T) {
	tracker := newTracker(t)

	_, err := tracker.GetRun(context.Background(), "no-such-run")
	assert.ErrorIs(t, err, agenterrors.ErrRunNotFound)
}

func TestStepScope_PersistsOnClose(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	runID, err := tracker.StartRun(ctx, time.Now().UTC(), nil)
	require.NoError(t, err)

	scope := tracker.BeginStep(runID, "fetchData", "force_refresh=false")
	scope.SetOutput("opportunities=3")
	require.NoError(t, scope.Close(ctx))

	steps, err := tracker.StepsForRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "fetchData", steps[0].StepName)
	assert.Equal(t, "force_refresh=false", steps[0].InputSummary)
	assert.Equal(t, "opportunities=3", steps[0].OutputSummary)
	assert.Empty(t, steps[0].ErrorMessage)
	assert.GreaterOrEqual(t, steps[0].DurationSeconds, 0.0)
}

func TestStepScope_RecordsFailure(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	runID, err := tracker.StartRun(ctx, time.Now().UTC(), nil)
	require.NoError(t, err)

	scope := tracker.BeginStep(runID, "planNotifications", "")
	scope.Fail(errors.New("store contention"))
	require.NoError(t, scope.Close(ctx))

	steps, err := tracker.StepsForRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "store contention", steps[0].ErrorMessage)
}

func TestStepsForRun_OrderedOldestFirst(t *testing.T) {
	ctx := context.Background()
	tracker := newTracker(t)

	runID, err := tracker.StartRun(ctx, time.Now().UTC(), nil)
	require.NoError(t, err)

	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"fetchData", "analyzeStatus", "recordResults"} {
		require.NoError(t, tracker.LogStep(ctx, runtracker.Step{
			RunID: runID, StepName: name, Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	steps, err := tracker.StepsForRun(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "fetchData", steps[0].StepName)
	assert.Equal(t, "recordResults", steps[2].StepName)
}
