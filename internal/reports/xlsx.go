// Package reports renders reviewer spreadsheets.
package reports

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/wolfman30/medspa-roster-sync/internal/duplicates"
	"github.com/wolfman30/medspa-roster-sync/internal/identity"
)

const (
	SheetDuplicates = "Duplicates"
	SheetAutoLink   = "Auto linkable"
	SheetAmbiguous  = "Ambiguous"
	SheetUnmatched  = "Unmatched"
	SheetLinked     = "Already linked"
)

var duplicateHeaders = []any{"Normalized name", "Source", "ID", "Name", "Status", "Email", "Phone", "Active membership / plan"}

var reviewHeaders = []any{"Normalized name", "Reason", "Patient IDs", "Patient names", "Membership IDs", "Membership names"}

// WriteDuplicates writes one row per record in each duplicate group.
func WriteDuplicates(w io.Writer, r duplicates.Report) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetDuplicates); err != nil {
		return fmt.Errorf("reports: rename sheet: %w", err)
	}
	rows := [][]any{duplicateHeaders}
	for _, e := range r.Entries {
		for _, p := range e.Patients {
			rows = append(rows, []any{e.NormalizedName, "patient", p.PatientID.String(), p.FullName, p.StatusKey, p.Email, p.Phone, yesNo(p.HasActiveMembership)})
		}
		for _, m := range e.Memberships {
			rows = append(rows, []any{e.NormalizedName, "membership", m.ExternalID, m.DisplayName, m.Status, "", "", m.PlanName})
		}
	}
	if err := writeRows(f, SheetDuplicates, rows); err != nil {
		return err
	}
	return write(f, w)
}

// WriteReviewQueue writes one sheet per queue section.
func WriteReviewQueue(w io.Writer, q identity.ReviewQueue) error {
	f := excelize.NewFile()
	defer f.Close()

	sections := []struct {
		name    string
		entries []identity.Classification
	}{
		{SheetAutoLink, q.AutoLinkable},
		{SheetAmbiguous, q.Ambiguous},
		{SheetUnmatched, q.Unmatched},
		{SheetLinked, q.AlreadyLinked},
	}
	for i, s := range sections {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return fmt.Errorf("reports: rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("reports: new sheet %s: %w", s.name, err)
		}

		rows := [][]any{reviewHeaders}
		for _, c := range s.entries {
			rows = append(rows, classificationRow(c))
		}
		if err := writeRows(f, s.name, rows); err != nil {
			return err
		}
	}
	return write(f, w)
}

func classificationRow(c identity.Classification) []any {
	var patientIDs, patientNames, recordIDs, recordNames []string
	for _, p := range c.Patients {
		patientIDs = append(patientIDs, p.PatientID.String())
		patientNames = append(patientNames, p.FullName)
	}
	for _, m := range c.Records {
		recordIDs = append(recordIDs, m.ExternalID)
		recordNames = append(recordNames, m.DisplayName)
	}
	return []any{
		c.NormalizedName,
		string(c.Reason),
		strings.Join(patientIDs, ", "),
		strings.Join(patientNames, ", "),
		strings.Join(recordIDs, ", "),
		strings.Join(recordNames, ", "),
	}
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("reports: cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("reports: write %s row %d: %w", sheet, i+1, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return fmt.Errorf("reports: freeze header: %w", err)
	}
	return nil
}

func write(f *excelize.File, w io.Writer) error {
	if err := f.Write(w); err != nil {
		return fmt.Errorf("reports: write workbook: %w", err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
