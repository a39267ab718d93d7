// Package datasync implements the data-sync strategy: fetch raw
// opportunities from the external analytics source, map and cache them,
// and fall back to the last known good cache if the fetch fails rather
// than stalling the tick.
package datasync

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
	"github.com/franksunye/FSOpsAssistant/internal/store"
)

// Result reports what GetOpportunities produced, so the orchestrator can
// decide whether to continue the tick.
type Result struct {
	Opportunities []opportunity.Opportunity
	UsedCache     bool
	Skipped       int
	// FetchErr is the underlying fetch failure when the result fell back
	// to cache, nil on a clean fresh fetch. GetOpportunities itself only
	// returns a non-nil error when the cache fallback is also empty; this
	// field lets a caller still record the fetch failure on the run even
	// when the tick recovers via cache.
	FetchErr error
}

// Syncer fetches from an opportunity.Fetcher and maintains the sqlite
// mirror used as a fallback.
type Syncer struct {
	fetcher opportunity.Fetcher
	db      *sqlx.DB
	log     agentlog.Logger
}

// New builds a Syncer. fetcher is the external analytics collaborator
//; db backs the opportunity_cache fallback.
func New(fetcher opportunity.Fetcher, db *sqlx.DB, log agentlog.Logger) *Syncer {
	return &Syncer{fetcher: fetcher, db: db, log: log}
}

// GetOpportunities always attempts a fresh fetch, rebuilding the cache on
// success; on fetch failure it falls back to the cache rather than failing
// the tick outright. A fetch failure with an empty cache is the one
// case this returns an error, wrapping agenterrors.ErrCacheEmpty.
func (s *Syncer) GetOpportunities(ctx context.Context, now time.Time) (Result, error) {
	raw, fetchErr := s.fetcher.Fetch(ctx)
	if fetchErr != nil {
		s.log.Warn("opportunity fetch failed, falling back to cache", map[string]interface{}{"error": fetchErr.Error()})
		return s.fallbackToCache(ctx, fetchErr)
	}

	mapped := opportunity.MapRaw(raw)
	if mapped.Skipped > 0 {
		s.log.Warn("skipped raw opportunities missing createTime", map[string]interface{}{"count": mapped.Skipped})
	}

	// Only monitored statuses are cached; the working set still
	// carries the rest so the tick's counts include them.
	if _, _, err := store.ReplaceOpportunityCache(ctx, s.db, monitoredSubset(mapped.Opportunities), now); err != nil {
		s.log.Warn("failed to persist opportunity cache, continuing with in-memory result", map[string]interface{}{"error": err.Error()})
	}

	return Result{
		Opportunities: mapped.Opportunities,
		UsedCache:     false,
		Skipped:       mapped.Skipped,
	}, nil
}

// RefreshCache is the manual cache-rebuild trigger: it fetches
// fresh data and replaces the cache in one transaction, reporting how many
// rows were dropped and written.
func (s *Syncer) RefreshCache(ctx context.Context, now time.Time) (deleted, inserted int, err error) {
	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", agenterrors.ErrOpportunityFetchFailed, err)
	}
	mapped := opportunity.MapRaw(raw)
	return store.ReplaceOpportunityCache(ctx, s.db, monitoredSubset(mapped.Opportunities), now)
}

func monitoredSubset(opps []opportunity.Opportunity) []opportunity.Opportunity {
	out := make([]opportunity.Opportunity, 0, len(opps))
	for _, o := range opps {
		if o.OrderStatus.IsMonitored() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Syncer) fallbackToCache(ctx context.Context, fetchErr error) (Result, error) {
	cached, err := store.LoadOpportunityCache(ctx, s.db)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load fallback cache after fetch error (%v): %w", fetchErr, err)
	}
	if len(cached) == 0 {
		return Result{}, fmt.Errorf("%w: fetch failed (%v) and cache is empty",
			agenterrors.ErrCacheEmpty, fetchErr)
	}
	return Result{Opportunities: cached, UsedCache: true, FetchErr: fmt.Errorf("%w: %v", agenterrors.ErrOpportunityFetchFailed, fetchErr)}, nil
}

// ConsistencyReport is ValidateConsistency's result: how the cache
// compares against a fresh fetch at CheckedAt.
type ConsistencyReport struct {
	CachedCount int
	FreshCount  int
	Consistent  bool
	CheckedAt   time.Time
}

// ValidateConsistency compares the on-disk cache row count against a fresh
// fetch's monitored subset, for the operator diagnostic surface. It is a
// check, not a gate — it never touches the cache.
func (s *Syncer) ValidateConsistency(ctx context.Context, now time.Time) (ConsistencyReport, error) {
	cached, err := store.CacheSize(ctx, s.db)
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("failed to count cache: %w", err)
	}

	raw, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("%w: %v", agenterrors.ErrOpportunityFetchFailed, err)
	}
	fresh := len(monitoredSubset(opportunity.MapRaw(raw).Opportunities))

	report := ConsistencyReport{
		CachedCount: cached,
		FreshCount:  fresh,
		Consistent:  cached == fresh,
		CheckedAt:   now,
	}
	if !report.Consistent {
		s.log.Warn("opportunity cache out of sync with source", map[string]interface{}{
			"cached": cached, "fresh": fresh,
		})
	}
	return report, nil
}
