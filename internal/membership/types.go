// Package membership talks to the membership and scheduling system: its
// subscription packages and its member roster.
package membership

import "context"

// Package is a subscription package offered by the membership system.
// Frequency uses the lower-case names of the packages package
// (weekly, biweekly, monthly, quarterly, yearly, one_time).
type Package struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	PriceCents  int64  `json:"price_cents"`
	Frequency   string `json:"frequency"`
}

// PackageInput describes a package to create.
type PackageInput struct {
	Name        string
	Description string
	PriceCents  int64
	Frequency   string
}

// Member is one person on the membership system's roster.
type Member struct {
	ExternalID string
	FullName   string
	PlanName   string
	Active     bool
}

// Client is the membership system surface used by the engine.
type Client interface {
	ListPackages(ctx context.Context) ([]Package, error)
	CreatePackage(ctx context.Context, in PackageInput) (Package, error)
	ListMembers(ctx context.Context) ([]Member, error)
}
