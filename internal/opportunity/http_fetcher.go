package opportunity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
)

// HTTPFetcher is the production Fetcher implementation: it GETs a JSON
// array of raw opportunity rows from the analytics source. The
// analytics source itself is an external collaborator outside this
// repo's scope; this client only needs to agree on the wire shape.
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher builds a Fetcher with a 30s default client timeout —
// generous relative to the per-webhook-call 10s budget since a
// full opportunity list can be large and this call isn't tick-pacing
// sensitive the way webhook sends are.
func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{URL: url, Client: &http.Client{Timeout: 30 * time.Second}}
}

type httpOpportunity struct {
	OrderNum       string  `json:"orderNum"`
	Name           string  `json:"name"`
	Address        string  `json:"address"`
	SupervisorName string  `json:"supervisorName"`
	OrgName        string  `json:"orgName"`
	CreateTime     *string `json:"createTime"`
	OrderStatus    string  `json:"orderStatus"`
}

// Fetch implements Fetcher by requesting f.URL and parsing the response as
// a JSON array of raw opportunity rows. A non-2xx response or a malformed
// body both surface as agenterrors.ErrOpportunityFetchFailed so the
// data-sync layer's fallback-to-cache logic recognizes them uniformly.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]RawOpportunity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to build request: %v", agenterrors.ErrOpportunityFetchFailed, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", agenterrors.ErrOpportunityFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", agenterrors.ErrOpportunityFetchFailed, resp.StatusCode)
	}

	var rows []httpOpportunity
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", agenterrors.ErrOpportunityFetchFailed, err)
	}

	out := make([]RawOpportunity, len(rows))
	for i, r := range rows {
		raw := RawOpportunity{
			OrderNum: r.OrderNum, Name: r.Name, Address: r.Address,
			SupervisorName: r.SupervisorName, OrgName: r.OrgName, OrderStatus: r.OrderStatus,
		}
		if r.CreateTime != nil {
			if ts, err := time.Parse(time.RFC3339, *r.CreateTime); err == nil {
				raw.CreateTime = &ts
			}
		}
		out[i] = raw
	}
	return out, nil
}

var _ Fetcher = (*HTTPFetcher)(nil)
