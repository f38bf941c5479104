package billing

import (
	"testing"
	"time"
)

func TestPaymentStatusFor(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		total   int64
		days    int
		want    PaymentStatus
	}{
		{"zero balance is paid even when late", 0, 10000, 40, StatusPaid},
		{"partial payment stays partial when late", 2500, 10000, 40, StatusPartial},
		{"full balance past due is overdue", 10000, 10000, 1, StatusOverdue},
		{"full balance not yet due is open", 10000, 10000, 0, StatusOpen},
		{"balance above total past due is overdue", 12000, 10000, 3, StatusOverdue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PaymentStatusFor(tt.balance, tt.total, tt.days); got != tt.want {
				t.Fatalf("PaymentStatusFor(%d, %d, %d) = %s, want %s", tt.balance, tt.total, tt.days, got, tt.want)
			}
		})
	}
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		due  time.Time
		now  time.Time
		want int
	}{
		{"due today", due, due.Add(23 * time.Hour), 0},
		{"future due date", due, due.AddDate(0, 0, -5), 0},
		{"ten days late", due, due.AddDate(0, 0, 10).Add(5 * time.Hour), 10},
		{"zero due date", time.Time{}, due, 0},
		{
			"truncates both sides in UTC",
			time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("PST", -8*3600)), // 2024-03-02 07:30 UTC
			time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC),
			2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysOverdue(tt.due, tt.now); got != tt.want {
				t.Fatalf("DaysOverdue = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDerive(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	rec := Derive(Invoice{
		InvoiceID:    "101",
		TotalCents:   30000,
		BalanceCents: 30000,
		DueDate:      now.AddDate(0, 0, -65),
	}, now)
	if rec.DaysOverdue != 65 {
		t.Fatalf("expected 65 days overdue, got %d", rec.DaysOverdue)
	}
	if rec.PaymentStatus != StatusOverdue {
		t.Fatalf("expected overdue, got %s", rec.PaymentStatus)
	}
}
