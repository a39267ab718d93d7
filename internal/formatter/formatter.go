// Package formatter implements the message formatter: deterministic,
// side-effect-free rendering of a (org, task type, opportunity list) triple
// into the text body handed to WebhookSender. It never performs I/O, so the
// same inputs always render the same message.
package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/franksunye/FSOpsAssistant/internal/opportunity"
)

// Config holds the formatter's tunables: how many opportunities to
// enumerate before truncating, and the business-day length used for
// elapsed-time display.
type Config struct {
	ReminderDisplayCap   int
	EscalationDisplayCap int
	// WorkHoursPerDay converts elapsed business hours into the coarse
	// "Xd Yh" form; it equals the business window's length, workEnd -
	// workStart.
	WorkHoursPerDay float64
}

// Formatter renders reminder and escalation messages.
type Formatter struct {
	cfg Config
}

// New builds a Formatter from cfg.
func New(cfg Config) *Formatter {
	return &Formatter{cfg: cfg}
}

// Reminder renders a single org's reminder message, enumerating up to
// ReminderDisplayCap opportunities with order number, elapsed hours,
// customer, address, supervisor, create time, and status.
func (f *Formatter) Reminder(orgName string, opps []opportunity.Opportunity) string {
	sorted := sortedByOrderNum(opps)
	cap := f.cfg.ReminderDisplayCap

	var b strings.Builder
	fmt.Fprintf(&b, "[SLA Reminder] %s has %d order(s) awaiting follow-up:\n", orgName, len(sorted))

	shown := sorted
	if len(shown) > cap {
		shown = shown[:cap]
	}
	for i, o := range shown {
		fmt.Fprintf(&b, "%d. Order %s - %s (%s elapsed)\n", i+1, o.OrderNum, o.CustomerName, f.formatDuration(o.ElapsedBusinessHours))
		fmt.Fprintf(&b, "   Address: %s\n", o.Address)
		fmt.Fprintf(&b, "   Supervisor: %s\n", o.SupervisorName)
		fmt.Fprintf(&b, "   Created: %s\n", o.CreateTime.Format("2006-01-02 15:04"))
		fmt.Fprintf(&b, "   Status: %s\n", o.OrderStatus)
	}
	if more := len(sorted) - len(shown); more > 0 {
		fmt.Fprintf(&b, "...and %d more order(s) pending.\n", more)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Escalation renders a single org's escalation message. total is the full
// count supplied by the caller (which may exceed len(opps) if the caller
// is reporting a count it computed separately); the header always reports
// total, and a truncation line is appended whenever total exceeds the
// display cap, so entries are never silently elided.
func (f *Formatter) Escalation(orgName string, opps []opportunity.Opportunity, total int) string {
	sorted := sortedByOrderNum(opps)

	var b strings.Builder
	fmt.Fprintf(&b, "[SLA ESCALATION] %s has %d order(s) breaching the escalation threshold:\n", orgName, total)

	cap := f.cfg.EscalationDisplayCap
	shown := sorted
	if len(shown) > cap {
		shown = shown[:cap]
	}
	for i, o := range shown {
		fmt.Fprintf(&b, "%d. Order %s - %s, overdue %s (%s elapsed)\n",
			i+1, o.OrderNum, o.CustomerName, f.formatDuration(o.OverdueHours), f.formatDuration(o.ElapsedBusinessHours))
		fmt.Fprintf(&b, "   Address: %s\n", o.Address)
		fmt.Fprintf(&b, "   Supervisor: %s\n", o.SupervisorName)
	}
	if more := total - cap; more > 0 {
		fmt.Fprintf(&b, "...and %d more order(s) pending.\n", more)
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatDuration renders business hours as the coarse "Xd Yh" form,
// falling back to whole hours if WorkHoursPerDay isn't positive.
func (f *Formatter) formatDuration(hours float64) string {
	perDay := f.cfg.WorkHoursPerDay
	if perDay <= 0 {
		return fmt.Sprintf("%dh", int(hours))
	}
	days := int(hours / perDay)
	rem := int(hours) - days*int(perDay)
	if days == 0 {
		return fmt.Sprintf("%dh", rem)
	}
	return fmt.Sprintf("%dd %dh", days, rem)
}

func sortedByOrderNum(opps []opportunity.Opportunity) []opportunity.Opportunity {
	out := make([]opportunity.Opportunity, len(opps))
	copy(out, opps)
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNum < out[j].OrderNum })
	return out
}

// Advisor optionally re-renders the same inputs via an LLM-assisted path.
// The manager always has the deterministic path above as a fallback; an
// Advisor failure never blocks a send.
type Advisor interface {
	Rewrite(orgName string, opps []opportunity.Opportunity, deterministic string) (string, error)
}

// NoOpAdvisor never rewrites; the safe default when no LLM path is
// configured.
type NoOpAdvisor struct{}

func (NoOpAdvisor) Rewrite(_ string, _ []opportunity.Opportunity, deterministic string) (string, error) {
	return deterministic, nil
}

var _ Advisor = NoOpAdvisor{}

// Render produces the final message for a task: it tries adv first (if
// non-nil) and falls back to the deterministic renderer on any error or
// empty result. The advisor only ever rewrites text; it never affects
// task state.
func Render(f *Formatter, adv Advisor, orgName string, opps []opportunity.Opportunity, isEscalation bool, total int) string {
	var deterministic string
	if isEscalation {
		deterministic = f.Escalation(orgName, opps, total)
	} else {
		deterministic = f.Reminder(orgName, opps)
	}
	if adv == nil {
		return deterministic
	}
	rewritten, err := adv.Rewrite(orgName, opps, deterministic)
	if err != nil || rewritten == "" {
		return deterministic
	}
	return rewritten
}
