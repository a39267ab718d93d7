// Package testsupport provides in-memory fakes for the agent's external
// collaborators: small, deterministic stand-ins used across package tests
// instead of a mocking framework.
package testsupport

import (
	"context"
	"sync"

	"github.com/franksunye/FSOpsAssistant/internal/agentlog"
	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
)

// NoopLogger discards every call, used by tests that don't assert on log
// output but still need to satisfy agentlog.Logger.
type NoopLogger struct{ agentlog.NoOpLogger }

var _ agentlog.ComponentAwareLogger = NoopLogger{}

// FakeFetcher is an in-memory opportunity.Fetcher. Rows is read directly
// by tests; Err, if set, is returned instead on the next Fetch call (and
// then cleared), so a test can simulate exactly one failing tick.
type FakeFetcher struct {
	mu   sync.Mutex
	Rows []opportunity.RawOpportunity
	Err  error
}

func (f *FakeFetcher) Fetch(_ context.Context) ([]opportunity.RawOpportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		err := f.Err
		f.Err = nil
		return nil, err
	}
	out := make([]opportunity.RawOpportunity, len(f.Rows))
	copy(out, f.Rows)
	return out, nil
}

// SetRows replaces the fetcher's backing rows.
func (f *FakeFetcher) SetRows(rows []opportunity.RawOpportunity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Rows = rows
}

// FailNext arranges for the next Fetch call to return err.
func (f *FakeFetcher) FailNext(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// FakeSender is an in-memory WebhookSender. Every call is recorded in
// Calls; FailNext makes the next N calls report failure.
type FakeSender struct {
	mu        sync.Mutex
	Calls     []SentMessage
	failCount int
}

// SentMessage records one Send invocation for assertions.
type SentMessage struct {
	WebhookURL string
	Text       string
}

func (s *FakeSender) Send(_ context.Context, webhookURL, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SentMessage{WebhookURL: webhookURL, Text: text})
	if s.failCount > 0 {
		s.failCount--
		return false
	}
	return true
}

// FailNext arranges for the next n Send calls to report failure.
func (s *FakeSender) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCount = n
}

// CallCount returns how many times Send has been invoked.
func (s *FakeSender) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
