package packages

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wolfman30/medspa-roster-sync/internal/billing"
)

// Group is one cluster of templates sharing an exact amount and cadence.
type Group struct {
	AmountCents          int64     `json:"amount_cents"`
	Frequency            Frequency `json:"frequency"`
	TemplateIDs          []string  `json:"template_ids"`
	CustomerIDs          []string  `json:"customer_ids"`
	SuggestedName        string    `json:"suggested_name"`
	SuggestedDescription string    `json:"suggested_description"`
	MembershipPackageID  string    `json:"membership_package_id,omitempty"`
}

// Key identifies the group's (amount, cadence) pair.
func (g Group) Key() string { return groupKey(g.AmountCents, g.Frequency) }

func groupKey(cents int64, f Frequency) string {
	return fmt.Sprintf("%d_%s", cents, f)
}

// GroupTemplates clusters active templates by exact cents and mapped
// cadence. Inactive templates and templates without a customer or with a
// zero amount are ignored. Groups are ordered by distinct customer count,
// largest first, then by key.
func GroupTemplates(templates []billing.RecurringTemplate, dailyFallback Frequency) []Group {
	groups := map[string]*Group{}
	seenCustomer := map[string]map[string]bool{}
	for _, t := range templates {
		if !t.Active || strings.TrimSpace(t.ExternalCustomerID) == "" || t.AmountCents <= 0 {
			continue
		}
		freq := MapFrequency(t.IntervalType, t.IntervalCount, dailyFallback)
		key := groupKey(t.AmountCents, freq)
		g, ok := groups[key]
		if !ok {
			g = &Group{
				AmountCents:          t.AmountCents,
				Frequency:            freq,
				SuggestedName:        SuggestedName(t.AmountCents, freq),
				SuggestedDescription: SuggestedDescription(t.AmountCents, freq, t.Name),
			}
			groups[key] = g
			seenCustomer[key] = map[string]bool{}
		}
		g.TemplateIDs = append(g.TemplateIDs, t.TemplateID)
		if !seenCustomer[key][t.ExternalCustomerID] {
			seenCustomer[key][t.ExternalCustomerID] = true
			g.CustomerIDs = append(g.CustomerIDs, t.ExternalCustomerID)
		}
	}

	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if len(out[i].CustomerIDs) != len(out[j].CustomerIDs) {
			return len(out[i].CustomerIDs) > len(out[j].CustomerIDs)
		}
		if out[i].AmountCents != out[j].AmountCents {
			return out[i].AmountCents < out[j].AmountCents
		}
		return out[i].Frequency < out[j].Frequency
	})
	return out
}

// SuggestedName renders "$<amount>/<Frequency>": whole dollars print
// without decimals, anything else with two.
func SuggestedName(cents int64, f Frequency) string {
	amount := billing.FormatCents(cents)
	if cents%100 == 0 {
		amount = fmt.Sprintf("%d", cents/100)
	}
	return fmt.Sprintf("$%s/%s", amount, f.Title())
}

// SuggestedDescription names the charge and, when the template carries a
// distinct name of its own, appends it.
func SuggestedDescription(cents int64, f Frequency, templateName string) string {
	base := fmt.Sprintf("Recurring payment of $%s %s", billing.FormatCents(cents), f)
	name := strings.TrimSpace(templateName)
	if name == "" || strings.EqualFold(name, SuggestedName(cents, f)) {
		return base
	}
	return base + " - " + name
}
