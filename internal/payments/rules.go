// Package payments turns overdue invoice state into payment issues and
// automatic hold statuses.
package payments

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IssueOverdueInvoice is the issue type raised by the evaluator.
const IssueOverdueInvoice = "overdue_invoice"

// HoldPrefix marks status keys that pause service pending payment.
const HoldPrefix = "hold_"

// Critical thresholds for issue severity.
const (
	CriticalDaysOverdue  = 60
	CriticalBalanceCents = 50000
)

// Severity grades a payment issue.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule maps an overdue threshold to a target status.
type Rule struct {
	RuleID           uuid.UUID `json:"rule_id"`
	Name             string    `json:"name"`
	MinDaysOverdue   int       `json:"min_days_overdue"`
	MinAmountCents   int64     `json:"min_amount_cents"`
	TargetStatusKey  string    `json:"target_status_key"`
	AutoUpdateStatus bool      `json:"auto_update_status"`
	IsActive         bool      `json:"is_active"`
	CreatedAt        time.Time `json:"created_at"`
}

// Matches reports whether the aggregated state meets both thresholds.
func (r Rule) Matches(days int, balanceCents int64) bool {
	return days >= r.MinDaysOverdue && balanceCents >= r.MinAmountCents
}

// IsHold reports whether status is a hold status.
func IsHold(status string) bool { return strings.HasPrefix(status, HoldPrefix) }

// SeverityFor grades an issue by age and amount.
func SeverityFor(days int, balanceCents int64) Severity {
	if days >= CriticalDaysOverdue || balanceCents >= CriticalBalanceCents {
		return SeverityCritical
	}
	return SeverityWarning
}

// OrderRules keeps active rules, strictest first: MinDaysOverdue
// descending, then CreatedAt ascending, then RuleID.
func OrderRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.MinDaysOverdue != b.MinDaysOverdue {
			return a.MinDaysOverdue > b.MinDaysOverdue
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.RuleID.String() < b.RuleID.String()
	})
	return out
}

// SelectRule returns the first rule in ordered that matches.
func SelectRule(ordered []Rule, days int, balanceCents int64) (Rule, bool) {
	for _, r := range ordered {
		if r.Matches(days, balanceCents) {
			return r, true
		}
	}
	return Rule{}, false
}
