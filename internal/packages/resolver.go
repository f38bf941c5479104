package packages

import (
	"context"
	"sort"
	"sync"

	"github.com/wolfman30/medspa-roster-sync/internal/membership"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type resolutionStore interface {
	Lookup(ctx context.Context, cents int64, f Frequency) (Resolution, bool, error)
	Save(ctx context.Context, r Resolution) (bool, error)
	MapTemplates(ctx context.Context, g Group) (int64, error)
}

type packageClient interface {
	ListPackages(ctx context.Context) ([]membership.Package, error)
	CreatePackage(ctx context.Context, in membership.PackageInput) (membership.Package, error)
}

// Resolver finds or creates the membership package for each group.
//
// Lookup order is the local memo, then the upstream catalog within the
// price tolerance, then creation upstream. Every path is memoized so a
// second pass never creates a package again.
type Resolver struct {
	store          resolutionStore
	client         packageClient
	toleranceCents int64
	logger         *logging.Logger

	mu      sync.Mutex
	catalog []membership.Package
	loaded  bool
}

// NewResolver builds a Resolver. toleranceCents below zero is treated as zero.
func NewResolver(store resolutionStore, client packageClient, toleranceCents int64, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.Default()
	}
	if toleranceCents < 0 {
		toleranceCents = 0
	}
	return &Resolver{store: store, client: client, toleranceCents: toleranceCents, logger: logger.Component("packages")}
}

// Reset drops the cached upstream catalog so the next miss reloads it.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog = nil
	r.loaded = false
}

// Resolve fills g.MembershipPackageID and records the template mapping.
// changed reports whether anything was written.
func (r *Resolver) Resolve(ctx context.Context, g Group) (Group, bool, error) {
	res, found, err := r.store.Lookup(ctx, g.AmountCents, g.Frequency)
	if err != nil {
		return g, false, err
	}

	changed := false
	if !found {
		res, err = r.resolveUpstream(ctx, g)
		if err != nil {
			return g, false, err
		}
		saved, err := r.store.Save(ctx, res)
		if err != nil {
			return g, false, err
		}
		changed = saved
		r.logger.Info("package resolved",
			"amount_cents", g.AmountCents,
			"frequency", g.Frequency,
			"package_id", res.MembershipPackageID,
			"via", res.ResolvedVia,
		)
	}

	g.MembershipPackageID = res.MembershipPackageID
	n, err := r.store.MapTemplates(ctx, g)
	if err != nil {
		return g, changed, err
	}
	return g, changed || n > 0, nil
}

func (r *Resolver) resolveUpstream(ctx context.Context, g Group) (Resolution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		pkgs, err := r.client.ListPackages(ctx)
		if err != nil {
			return Resolution{}, err
		}
		r.catalog = pkgs
		r.loaded = true
	}

	if pkg, ok := closestPackage(r.catalog, g.AmountCents, g.Frequency, r.toleranceCents); ok {
		return Resolution{
			AmountCents:         g.AmountCents,
			Frequency:           g.Frequency,
			MembershipPackageID: pkg.ID,
			PackageName:         pkg.Name,
			ResolvedVia:         ViaExisting,
		}, nil
	}

	created, err := r.client.CreatePackage(ctx, membership.PackageInput{
		Name:        g.SuggestedName,
		Description: g.SuggestedDescription,
		PriceCents:  g.AmountCents,
		Frequency:   string(g.Frequency),
	})
	if err != nil {
		return Resolution{}, err
	}
	r.catalog = append(r.catalog, created)
	name := created.Name
	if name == "" {
		name = g.SuggestedName
	}
	return Resolution{
		AmountCents:         g.AmountCents,
		Frequency:           g.Frequency,
		MembershipPackageID: created.ID,
		PackageName:         name,
		ResolvedVia:         ViaCreated,
	}, nil
}

// closestPackage picks the package with the same cadence whose price is
// within tolerance, preferring the smallest difference and then the
// lowest id.
func closestPackage(catalog []membership.Package, cents int64, f Frequency, tolerance int64) (membership.Package, bool) {
	var matches []membership.Package
	for _, p := range catalog {
		if p.ID == "" || Frequency(p.Frequency) != f {
			continue
		}
		if abs(p.PriceCents-cents) <= tolerance {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return membership.Package{}, false
	}
	sort.Slice(matches, func(i, j int) bool {
		di, dj := abs(matches[i].PriceCents-cents), abs(matches[j].PriceCents-cents)
		if di != dj {
			return di < dj
		}
		return matches[i].ID < matches[j].ID
	})
	return matches[0], true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
