package membership

import (
	"context"
	"fmt"
	"strings"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

type recordStore interface {
	UpsertMembershipRecord(ctx context.Context, r identity.MembershipRecord) (bool, error)
	DeactivateMissingRecords(ctx context.Context, seen []string) (int64, error)
}

// ImportResult counts an import pass.
type ImportResult struct {
	Processed   int               `json:"processed"`
	Updated     int               `json:"updated"`
	Deactivated int64             `json:"deactivated"`
	Failed      int               `json:"failed"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// Importer refreshes the local membership_records mirror from the roster.
type Importer struct {
	client Client
	store  recordStore
	logger *logging.Logger
}

// NewImporter builds an Importer.
func NewImporter(client Client, store recordStore, logger *logging.Logger) *Importer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Importer{client: client, store: store, logger: logger.Component("membership_import")}
}

// Import upserts every member and deactivates records the roster no
// longer returns. Per-member failures are counted and skipped.
func (i *Importer) Import(ctx context.Context) (ImportResult, error) {
	members, err := i.client.ListMembers(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Errors: map[string]string{}}
	seen := make([]string, 0, len(members))
	for _, m := range members {
		res.Processed++
		id := strings.TrimSpace(m.ExternalID)
		if id == "" || strings.TrimSpace(m.FullName) == "" {
			res.Failed++
			err := &apperr.ValidationError{Entity: "member", ID: id, Reason: "missing id or name"}
			res.Errors[id] = err.Error()
			continue
		}
		seen = append(seen, id)
		status := "inactive"
		if m.Active {
			status = "active"
		}
		changed, err := i.store.UpsertMembershipRecord(ctx, identity.MembershipRecord{
			ExternalID:  id,
			DisplayName: strings.TrimSpace(m.FullName),
			PlanName:    m.PlanName,
			Status:      status,
			IsActive:    m.Active,
		})
		if err != nil {
			res.Failed++
			res.Errors[id] = err.Error()
			i.logger.Warn("member upsert failed", "external_id", id, "error", err)
			continue
		}
		if changed {
			res.Updated++
		}
	}
	if res.Failed == 0 {
		n, err := i.store.DeactivateMissingRecords(ctx, seen)
		if err != nil {
			return res, fmt.Errorf("membership: import: %w", err)
		}
		res.Deactivated = n
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	i.logger.Info("membership import finished", "processed", res.Processed, "updated", res.Updated, "failed", res.Failed, "deactivated", res.Deactivated)
	return res, nil
}
