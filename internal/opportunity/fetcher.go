package opportunity

import (
	"context"
	"time"
)

// RawOpportunity is the shape returned by the external analytics source.
// OrderStatus is a free-form string; only the two monitored values are
// meaningful to the classifier, anything else is passed through.
type RawOpportunity struct {
	OrderNum       string
	Name           string
	Address        string
	SupervisorName string
	OrgName        string
	CreateTime     *time.Time // nil if the source omitted it
	OrderStatus    string
}

// Fetcher is the read-only collaborator that returns raw opportunity rows.
// It is an external dependency; the agent never writes back to it.
type Fetcher interface {
	Fetch(ctx context.Context) ([]RawOpportunity, error)
}

// MapResult reports how many raw rows were mapped and how many were
// skipped, so the data-sync layer can log a useful summary (a missing
// createTime is a skip, not an error).
type MapResult struct {
	Opportunities []Opportunity
	Skipped       int
}

// MapRaw converts raw fetcher rows into Opportunity values. A row with no
// createTime is skipped; the caller logs the skip count since this
// function has no logger and must stay pure.
func MapRaw(rows []RawOpportunity) MapResult {
	result := MapResult{Opportunities: make([]Opportunity, 0, len(rows))}
	for _, r := range rows {
		if r.CreateTime == nil {
			result.Skipped++
			continue
		}
		result.Opportunities = append(result.Opportunities, Opportunity{
			OrderNum:       r.OrderNum,
			CustomerName:   r.Name,
			Address:        r.Address,
			SupervisorName: r.SupervisorName,
			OrgName:        r.OrgName,
			CreateTime:     *r.CreateTime,
			OrderStatus:    Status(r.OrderStatus),
		})
	}
	return result
}
