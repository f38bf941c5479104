package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/billing"
	"github.com/wolfman30/medspa-roster-sync/internal/crm"
	"github.com/wolfman30/medspa-roster-sync/internal/packages"
	"github.com/wolfman30/medspa-roster-sync/internal/payments"
)

func (o *Orchestrator) syncRecurring(ctx context.Context, _ string, t *tally) error {
	templates, err := o.billing.ListActiveRecurringTemplates(ctx)
	if err != nil {
		return listFailed(t, "recurring_templates", err)
	}

	var (
		mu     sync.Mutex
		stored = make(map[string]bool, len(templates))
	)
	err = forEach(ctx, o.concurrency, templates, templateID, t, func(ctx context.Context, tpl billing.RecurringTemplate) (recordOutcome, error) {
		if err := billing.ValidateTemplate(tpl); err != nil {
			return recordOutcome{}, err
		}
		ok, err := o.mirror.UpsertTemplate(ctx, tpl)
		if err != nil {
			return recordOutcome{}, err
		}
		mu.Lock()
		stored[tpl.TemplateID] = true
		mu.Unlock()
		return changed(ok), nil
	})
	if err != nil {
		return err
	}

	seen := make([]string, 0, len(templates))
	valid := make([]billing.RecurringTemplate, 0, len(stored))
	for _, tpl := range templates {
		if tpl.TemplateID != "" {
			seen = append(seen, tpl.TemplateID)
		}
		if stored[tpl.TemplateID] {
			valid = append(valid, tpl)
		}
	}
	if n, err := o.mirror.DeactivateMissingTemplates(ctx, seen); err != nil {
		t.fail("deactivate:recurring_templates", err)
	} else {
		t.note(int(n))
	}

	if o.packages == nil {
		return nil
	}
	groups := packages.GroupTemplates(valid, o.dailyFallback)
	o.packages.Reset()
	return forEach(ctx, o.concurrency, groups, packages.Group.Key, t, func(ctx context.Context, g packages.Group) (recordOutcome, error) {
		_, ok, err := o.packages.Resolve(ctx, g)
		if err != nil {
			return recordOutcome{}, err
		}
		return changed(ok), nil
	})
}

func (o *Orchestrator) syncInvoices(ctx context.Context, _ string, t *tally) error {
	invoices, err := o.billing.ListOpenInvoices(ctx)
	if err != nil {
		return listFailed(t, "open_invoices", err)
	}

	now := o.now()
	err = forEach(ctx, o.concurrency, invoices, invoiceID, t, func(ctx context.Context, inv billing.Invoice) (recordOutcome, error) {
		if err := billing.ValidateInvoice(inv); err != nil {
			return recordOutcome{}, err
		}
		ok, err := o.mirror.UpsertInvoice(ctx, billing.Derive(inv, now))
		if err != nil {
			return recordOutcome{}, err
		}
		return changed(ok), nil
	})
	if err != nil {
		return err
	}

	seen := make([]string, 0, len(invoices))
	for _, inv := range invoices {
		if inv.InvoiceID != "" {
			seen = append(seen, inv.InvoiceID)
		}
	}
	if n, err := o.mirror.CloseMissingInvoices(ctx, seen); err != nil {
		t.fail("close:invoices", err)
	} else {
		t.note(int(n))
	}
	return nil
}

func (o *Orchestrator) evaluateStatuses(ctx context.Context, runID string, t *tally) error {
	rules, candidates, err := o.evaluator.Prepare(ctx)
	if err != nil {
		return listFailed(t, "payment_candidates", err)
	}
	return forEach(ctx, o.concurrency, candidates, candidateID, t, func(ctx context.Context, c payments.Candidate) (recordOutcome, error) {
		res, err := o.evaluator.Evaluate(ctx, runID, rules, c)
		if err != nil {
			return recordOutcome{}, err
		}
		var out recordOutcome
		if res.IssueCreated || res.StatusChanged {
			out.updated = 1
		}
		if res.IssueCreated {
			out.issues = 1
		}
		return out, nil
	})
}

func (o *Orchestrator) propagateCRM(ctx context.Context, _ string, t *tally) error {
	targets, err := o.targets.ListTargets(ctx)
	if err != nil {
		return listFailed(t, "crm_targets", err)
	}
	return forEach(ctx, o.concurrency, targets, targetID, t, o.syncTarget)
}

func (o *Orchestrator) propagateSelected(ctx context.Context, patientIDs []uuid.UUID, t *tally) error {
	targets, err := o.targets.ListTargets(ctx)
	if err != nil {
		return listFailed(t, "crm_targets", err)
	}
	byID := make(map[uuid.UUID]crm.Target, len(targets))
	for _, tg := range targets {
		byID[tg.PatientID] = tg
	}
	seen := make(map[uuid.UUID]bool, len(patientIDs))
	selected := make([]crm.Target, 0, len(patientIDs))
	for _, id := range patientIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		tg, ok := byID[id]
		if !ok {
			t.fail(id.String(), &apperr.ValidationError{Entity: "patient", ID: id.String(), Field: "patient_id", Reason: "has no active billing link and no hold status"})
			continue
		}
		selected = append(selected, tg)
	}
	return forEach(ctx, o.concurrency, selected, targetID, t, o.syncTarget)
}

func (o *Orchestrator) syncTarget(ctx context.Context, tg crm.Target) (recordOutcome, error) {
	ok, err := o.propagator.Sync(ctx, tg)
	if err != nil {
		return recordOutcome{}, err
	}
	return changed(ok), nil
}

func templateID(t billing.RecurringTemplate) string { return t.TemplateID }
func invoiceID(inv billing.Invoice) string          { return inv.InvoiceID }
func candidateID(c payments.Candidate) string       { return c.PatientID.String() }
func targetID(t crm.Target) string                  { return t.PatientID.String() }
