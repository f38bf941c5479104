package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/database"
)

// ErrLinkNotFound is returned when no active link exists.
var ErrLinkNotFound = errors.New("identity: link not found")

const uniqueViolation = "23505"

// LinkRequest asks for a patient to be linked to an external record.
// Replace permits deactivating the patient's current link for the same
// system; without it an existing different link is a conflict.
type LinkRequest struct {
	PatientID   uuid.UUID
	System      System
	ExternalID  string
	MatchMethod MatchMethod
	Replace     bool
}

func (r LinkRequest) validate() error {
	switch {
	case r.PatientID == uuid.Nil:
		return &apperr.ValidationError{Entity: "link", ID: r.ExternalID, Field: "PatientID", Reason: "is required"}
	case !r.System.Valid():
		return &apperr.ValidationError{Entity: "link", ID: r.ExternalID, Field: "System", Reason: fmt.Sprintf("unknown system %q", r.System)}
	case strings.TrimSpace(r.ExternalID) == "":
		return &apperr.ValidationError{Entity: "link", ID: r.PatientID.String(), Field: "ExternalID", Reason: "is required"}
	case !r.MatchMethod.Valid():
		return &apperr.ValidationError{Entity: "link", ID: r.ExternalID, Field: "MatchMethod", Reason: fmt.Sprintf("unknown method %q", r.MatchMethod)}
	}
	return nil
}

// LinkStore persists external links. Links are only ever deactivated.
type LinkStore struct {
	pool database.Pool
}

// NewLinkStore returns a store backed by pool.
func NewLinkStore(pool database.Pool) *LinkStore {
	if pool == nil {
		return nil
	}
	return &LinkStore{pool: pool}
}

const linkColumns = `id, patient_id, system, external_id, match_method, is_active, created_at, deactivated_at`

func scanLink(row pgx.Row) (Link, error) {
	var l Link
	var system, method string
	if err := row.Scan(&l.ID, &l.PatientID, &system, &l.ExternalID, &method, &l.IsActive, &l.CreatedAt, &l.DeactivatedAt); err != nil {
		return Link{}, err
	}
	l.System = System(system)
	l.MatchMethod = MatchMethod(method)
	return l, nil
}

// ActiveLink returns the patient's active link for system.
func (s *LinkStore) ActiveLink(ctx context.Context, patientID uuid.UUID, system System) (Link, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM external_links
		WHERE patient_id = $1 AND system = $2 AND is_active
	`, patientID, string(system))
	link, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Link{}, ErrLinkNotFound
	}
	if err != nil {
		return Link{}, fmt.Errorf("identity: active link: %w", err)
	}
	return link, nil
}

// ActiveLinks lists every active link for system.
func (s *LinkStore) ActiveLinks(ctx context.Context, system System) ([]Link, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+linkColumns+`
		FROM external_links
		WHERE system = $1 AND is_active
		ORDER BY created_at
	`, string(system))
	if err != nil {
		return nil, fmt.Errorf("identity: list active links: %w", err)
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("identity: scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("identity: list active links: %w", err)
	}
	return links, nil
}

// Link activates a link in one transaction: it rejects records already
// linked to another patient, deactivates the patient's previous link for
// the system when Replace is set, then inserts or reactivates the link.
// changed is false when the identical link was already active.
func (s *LinkStore) Link(ctx context.Context, req LinkRequest) (link Link, changed bool, err error) {
	if err := req.validate(); err != nil {
		return Link{}, false, err
	}
	system := string(req.System)

	err = database.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		owner, err := scanLink(tx.QueryRow(ctx, `
			SELECT `+linkColumns+`
			FROM external_links
			WHERE system = $1 AND external_id = $2 AND is_active
			FOR UPDATE
		`, system, req.ExternalID))
		switch {
		case err == nil && owner.PatientID == req.PatientID:
			link = owner
			return nil
		case err == nil:
			return &apperr.ConflictError{
				PatientID:         req.PatientID.String(),
				System:            system,
				ExternalID:        req.ExternalID,
				ExistingPatientID: owner.PatientID.String(),
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("identity: lookup external owner: %w", err)
		}

		current, err := scanLink(tx.QueryRow(ctx, `
			SELECT `+linkColumns+`
			FROM external_links
			WHERE patient_id = $1 AND system = $2 AND is_active
			FOR UPDATE
		`, req.PatientID, system))
		switch {
		case err == nil && !req.Replace:
			return &apperr.ConflictError{
				PatientID:        req.PatientID.String(),
				System:           system,
				ExternalID:       req.ExternalID,
				ExistingExternal: current.ExternalID,
			}
		case err == nil:
			if _, err := tx.Exec(ctx, `
				UPDATE external_links
				SET is_active = false, deactivated_at = now()
				WHERE id = $1
			`, current.ID); err != nil {
				return fmt.Errorf("identity: deactivate previous link: %w", err)
			}
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("identity: lookup current link: %w", err)
		}

		link = Link{
			ID:          uuid.New(),
			PatientID:   req.PatientID,
			System:      req.System,
			ExternalID:  req.ExternalID,
			MatchMethod: req.MatchMethod,
			IsActive:    true,
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO external_links (id, patient_id, system, external_id, match_method, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, true, now())
			ON CONFLICT (patient_id, system, external_id)
			DO UPDATE SET is_active = true,
				match_method = EXCLUDED.match_method,
				deactivated_at = NULL
			RETURNING id, created_at
		`, link.ID, link.PatientID, system, link.ExternalID, string(link.MatchMethod)).Scan(&link.ID, &link.CreatedAt); err != nil {
			return fmt.Errorf("identity: insert link: %w", err)
		}
		changed = true
		return nil
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Link{}, false, &apperr.ConflictError{PatientID: req.PatientID.String(), System: system, ExternalID: req.ExternalID}
		}
		return Link{}, false, err
	}
	return link, changed, nil
}

// Deactivate turns off the patient's active link for system. It reports
// whether a link was deactivated.
func (s *LinkStore) Deactivate(ctx context.Context, patientID uuid.UUID, system System) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE external_links
		SET is_active = false, deactivated_at = $3
		WHERE patient_id = $1 AND system = $2 AND is_active
	`, patientID, string(system), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("identity: deactivate link: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
