package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
)

// opportunityRow mirrors opportunity_cache, the on-disk mirror of the most
// recent successful fetch. It exists so a fetch failure can fall
// back to "last known good" instead of stalling the whole tick.
type opportunityRow struct {
	OrderNum          string    `db:"order_num"`
	CustomerName      string    `db:"customer_name"`
	Address           string    `db:"address"`
	SupervisorName    string    `db:"supervisor_name"`
	CreateTime        time.Time `db:"create_time"`
	OrgName           string    `db:"org_name"`
	Status            string    `db:"status"`
	ElapsedHours      float64   `db:"elapsed_hours"`
	IsOverdue         bool      `db:"is_overdue"`
	EscalationLevel   int       `db:"escalation_level"`
	SLAThresholdHours float64   `db:"sla_threshold_hours"`
	SLAProgressRatio  float64   `db:"sla_progress_ratio"`
	IsViolation       bool      `db:"is_violation"`
	LastUpdated       time.Time `db:"last_updated"`
	SourceHash        string    `db:"source_hash"`
	CacheVersion      int       `db:"cache_version"`
}

func fromOpportunity(o opportunity.Opportunity, now time.Time) opportunityRow {
	return opportunityRow{
		OrderNum:          o.OrderNum,
		CustomerName:      o.CustomerName,
		Address:           o.Address,
		SupervisorName:    o.SupervisorName,
		CreateTime:        o.CreateTime,
		OrgName:           o.OrgName,
		Status:            string(o.OrderStatus),
		ElapsedHours:      o.ElapsedBusinessHours,
		IsOverdue:         o.EscalationDueHit,
		EscalationLevel:   o.EscalationLevel,
		SLAThresholdHours: o.SLAThresholdHours,
		SLAProgressRatio:  o.ProgressRatio,
		IsViolation:       o.EscalationDueHit,
		LastUpdated:       now,
		SourceHash:        o.SourceHash(),
		CacheVersion:      CurrentSchemaVersion,
	}
}

func (r opportunityRow) toOpportunity() opportunity.Opportunity {
	return opportunity.Opportunity{
		OrderNum:       r.OrderNum,
		CustomerName:   r.CustomerName,
		Address:        r.Address,
		SupervisorName: r.SupervisorName,
		OrgName:        r.OrgName,
		CreateTime:     r.CreateTime,
		OrderStatus:    opportunity.Status(r.Status),
	}
}

// ReplaceOpportunityCache overwrites opportunity_cache with rows in a
// single transaction, so a reader never observes a half-written refresh.
// Returns how many rows were deleted and inserted.
func ReplaceOpportunityCache(ctx context.Context, db *sqlx.DB, opportunities []opportunity.Opportunity, now time.Time) (deleted, inserted int, err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin opportunity cache transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM opportunity_cache`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to clear opportunity cache: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		deleted = int(n)
	}

	const insert = `
		INSERT INTO opportunity_cache (
			order_num, customer_name, address, supervisor_name, create_time,
			org_name, status, elapsed_hours, is_overdue, escalation_level,
			sla_threshold_hours, sla_progress_ratio, is_violation,
			last_updated, source_hash, cache_version
		) VALUES (
			:order_num, :customer_name, :address, :supervisor_name, :create_time,
			:org_name, :status, :elapsed_hours, :is_overdue, :escalation_level,
			:sla_threshold_hours, :sla_progress_ratio, :is_violation,
			:last_updated, :source_hash, :cache_version
		)`

	for _, o := range opportunities {
		row := fromOpportunity(o, now)
		if _, err := tx.NamedExecContext(ctx, insert, row); err != nil {
			return 0, 0, fmt.Errorf("failed to insert opportunity %s: %w", o.OrderNum, err)
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit opportunity cache refresh: %w", err)
	}
	return deleted, inserted, nil
}

// LoadOpportunityCache returns the last known good set of opportunities,
// used when a fetch fails. --validate-cache reads the row count through
// CacheSize instead.
func LoadOpportunityCache(ctx context.Context, db *sqlx.DB) ([]opportunity.Opportunity, error) {
	var rows []opportunityRow
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM opportunity_cache`); err != nil {
		return nil, fmt.Errorf("failed to load opportunity cache: %w", err)
	}
	out := make([]opportunity.Opportunity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toOpportunity())
	}
	return out, nil
}

// CacheSize reports how many rows opportunity_cache currently holds,
// without materializing them — used by validateConsistency.
func CacheSize(ctx context.Context, db *sqlx.DB) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM opportunity_cache`); err != nil {
		return 0, fmt.Errorf("failed to count opportunity cache: %w", err)
	}
	return n, nil
}
