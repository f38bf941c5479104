package billing

import "time"

// DaysOverdue returns whole days between due and now with both truncated
// to UTC midnight, never negative. A zero due date is never overdue.
func DaysOverdue(due, now time.Time) int {
	if due.IsZero() {
		return 0
	}
	d := utcMidnight(due)
	n := utcMidnight(now)
	if !n.After(d) {
		return 0
	}
	return int(n.Sub(d).Hours() / 24)
}

// PaymentStatusFor derives the status from balance, total and days overdue.
// Balance zero wins over everything; a partially paid invoice stays partial
// even when past due.
func PaymentStatusFor(balanceCents, totalCents int64, daysOverdue int) PaymentStatus {
	switch {
	case balanceCents == 0:
		return StatusPaid
	case balanceCents > 0 && balanceCents < totalCents:
		return StatusPartial
	case daysOverdue > 0:
		return StatusOverdue
	default:
		return StatusOpen
	}
}

// Derive computes the overdue fields of inv as of now.
func Derive(inv Invoice, now time.Time) InvoiceRecord {
	days := DaysOverdue(inv.DueDate, now)
	return InvoiceRecord{
		Invoice:       inv,
		DaysOverdue:   days,
		PaymentStatus: PaymentStatusFor(inv.BalanceCents, inv.TotalCents, days),
	}
}

func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
