// Package packages clusters recurring charge templates by price and cadence
// and resolves each cluster to a subscription package in the membership
// system.
package packages

import (
	"strings"
)

// Frequency is a billing cadence the membership system supports.
type Frequency string

const (
	OneTime   Frequency = "one_time"
	Weekly    Frequency = "weekly"
	Biweekly  Frequency = "biweekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

// Valid reports whether f is one of the supported cadences.
func (f Frequency) Valid() bool {
	switch f {
	case OneTime, Weekly, Biweekly, Monthly, Quarterly, Yearly:
		return true
	}
	return false
}

// ParseFrequency accepts the lower-case names above. Anything else yields
// Weekly, the nearest cadence to daily.
func ParseFrequency(s string) Frequency {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	if f.Valid() {
		return f
	}
	return Weekly
}

// MapFrequency translates the ledger's schedule vocabulary. It never fails:
// an unknown or empty interval type maps to Monthly. dailyFallback is the
// cadence used for daily schedules.
func MapFrequency(intervalType string, count int, dailyFallback Frequency) Frequency {
	if count <= 0 {
		count = 1
	}
	switch strings.ToLower(strings.TrimSpace(intervalType)) {
	case "daily":
		if dailyFallback.Valid() {
			return dailyFallback
		}
		return Weekly
	case "weekly":
		if count == 2 {
			return Biweekly
		}
		return Weekly
	case "monthly":
		return Monthly
	case "yearly":
		if count == 4 {
			return Quarterly
		}
		return Yearly
	case "one_time", "once", "onetime":
		return OneTime
	default:
		return Monthly
	}
}

// Title is the capitalized cadence used in package names.
func (f Frequency) Title() string {
	s := string(f)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
