package packages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// Resolution records which membership package serves an (amount, cadence)
// pair and how it was found.
type Resolution struct {
	AmountCents         int64
	Frequency           Frequency
	MembershipPackageID string
	PackageName         string
	ResolvedVia         string
	ResolvedAt          time.Time
}

const (
	ViaExisting = "existing"
	ViaCreated  = "created"
)

// Store persists package resolutions and the template to package mapping.
type Store struct {
	db database.Querier
}

// NewStore returns a Store backed by db.
func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

// Lookup returns the memoized resolution for the pair, if any.
func (s *Store) Lookup(ctx context.Context, cents int64, f Frequency) (Resolution, bool, error) {
	var r Resolution
	var freq string
	err := s.db.QueryRow(ctx, `
		SELECT amount_cents, frequency, membership_package_id, package_name, resolved_via, resolved_at
		FROM package_resolutions
		WHERE amount_cents = $1 AND frequency = $2
	`, cents, string(f)).Scan(&r.AmountCents, &freq, &r.MembershipPackageID, &r.PackageName, &r.ResolvedVia, &r.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("packages: lookup resolution: %w", err)
	}
	r.Frequency = Frequency(freq)
	return r, true, nil
}

// Save memoizes a resolution. changed is false when the row already held
// the same package.
func (s *Store) Save(ctx context.Context, r Resolution) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO package_resolutions (amount_cents, frequency, membership_package_id, package_name, resolved_via, resolved_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (amount_cents, frequency) DO UPDATE SET
			membership_package_id = EXCLUDED.membership_package_id,
			package_name = EXCLUDED.package_name,
			resolved_via = EXCLUDED.resolved_via,
			resolved_at = now()
		WHERE package_resolutions.membership_package_id IS DISTINCT FROM EXCLUDED.membership_package_id
	`, r.AmountCents, string(r.Frequency), r.MembershipPackageID, r.PackageName, r.ResolvedVia)
	if err != nil {
		return false, fmt.Errorf("packages: save resolution: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MapTemplates records the package each template in g now belongs to and
// returns how many rows changed.
func (s *Store) MapTemplates(ctx context.Context, g Group) (int64, error) {
	if len(g.TemplateIDs) == 0 || g.MembershipPackageID == "" {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO template_packages (template_id, membership_package_id, amount_cents, frequency, updated_at)
		SELECT t, $2, $3, $4, now() FROM unnest($1::text[]) AS t
		ON CONFLICT (template_id) DO UPDATE SET
			membership_package_id = EXCLUDED.membership_package_id,
			amount_cents = EXCLUDED.amount_cents,
			frequency = EXCLUDED.frequency,
			updated_at = now()
		WHERE (template_packages.membership_package_id, template_packages.amount_cents, template_packages.frequency)
			IS DISTINCT FROM (EXCLUDED.membership_package_id, EXCLUDED.amount_cents, EXCLUDED.frequency)
	`, g.TemplateIDs, g.MembershipPackageID, g.AmountCents, string(g.Frequency))
	if err != nil {
		return 0, fmt.Errorf("packages: map templates: %w", err)
	}
	return tag.RowsAffected(), nil
}
