package datasync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/datasync"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/store"
	"github.com/franksunye/FSOpsAssistant/internal/testsupport"
)

func newSyncer(t *testing.T) (*datasync.Syncer, *testsupport.FakeFetcher) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	fetcher := &testsupport.FakeFetcher{}
	return datasync.New(fetcher, db, testsupport.NoopLogger{}), fetcher
}

func rawRow(orderNum, org, status string, createTime time.Time) opportunity.RawOpportunity {
	return opportunity.RawOpportunity{
		OrderNum: orderNum, Name: "Customer " + orderNum, Address: "1 Main St",
		SupervisorName: "Sup", OrgName: org, CreateTime: &createTime, OrderStatus: status,
	}
}

func TestGetOpportunities_FreshFetchReturnsFullWorkingSet(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
		rawRow("O2", "org-a", "Completed", now.Add(-2*time.Hour)),
	})

	result, err := syncer.GetOpportunities(ctx, now)
	require.NoError(t, err)
	assert.False(t, result.UsedCache)
	assert.NoError(t, result.FetchErr)
	assert.Len(t, result.Opportunities, 2, "unmonitored rows stay in the working set for counting")
}

func TestGetOpportunities_SkipsRowsMissingCreateTime(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
		{OrderNum: "O2", OrgName: "org-a", OrderStatus: "PendingAppointment"},
	})

	result, err := syncer.GetOpportunities(ctx, now)
	require.NoError(t, err)
	assert.Len(t, result.Opportunities, 1)
	assert.Equal(t, 1, result.Skipped)
}

func TestGetOpportunities_FetchFailureFallsBackToCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
	})
	_, err := syncer.GetOpportunities(ctx, now)
	require.NoError(t, err)

	fetcher.FailNext(errors.New("source unreachable"))
	result, err := syncer.GetOpportunities(ctx, now)
	require.NoError(t, err)
	assert.True(t, result.UsedCache)
	assert.ErrorIs(t, result.FetchErr, agenterrors.ErrOpportunityFetchFailed)
	require.Len(t, result.Opportunities, 1)
	assert.Equal(t, "O1", result.Opportunities[0].OrderNum)
}

func TestGetOpportunities_FetchFailureWithEmptyCacheErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.FailNext(errors.New("source unreachable"))
	_, err := syncer.GetOpportunities(ctx, now)
	assert.ErrorIs(t, err, agenterrors.ErrCacheEmpty)
}

func TestRefreshCache_ReportsDeletedAndInserted(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
		rawRow("O2", "org-a", "TemporarilyNotVisiting", now.Add(-2*time.Hour)),
		rawRow("O3", "org-a", "Completed", now.Add(-2*time.Hour)),
	})

	deleted, inserted, err := syncer.RefreshCache(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
	assert.Equal(t, 2, inserted, "only monitored statuses are cached")

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
	})
	deleted, inserted, err = syncer.RefreshCache(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Equal(t, 1, inserted)
}

func TestValidateConsistency(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	syncer, fetcher := newSyncer(t)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
	})
	_, _, err := syncer.RefreshCache(ctx, now)
	require.NoError(t, err)

	report, err := syncer.ValidateConsistency(ctx, now)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 1, report.CachedCount)
	assert.Equal(t, 1, report.FreshCount)
	assert.Equal(t, now, report.CheckedAt)

	fetcher.SetRows([]opportunity.RawOpportunity{
		rawRow("O1", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
		rawRow("O2", "org-a", "PendingAppointment", now.Add(-2*time.Hour)),
	})
	report, err = syncer.ValidateConsistency(ctx, now)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 1, report.CachedCount)
	assert.Equal(t, 2, report.FreshCount)
}
