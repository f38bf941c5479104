package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
)

func newQuickBooksTestClient(srv *httptest.Server) *QuickBooksClient {
	return NewQuickBooksClient(QuickBooksConfig{
		BaseURL:     srv.URL,
		RealmID:     "realm-9",
		AccessToken: "qbo-token",
		Transport:   upstream.Config{HTTPClient: srv.Client(), Timeout: time.Second},
	})
}

func TestListActiveRecurringTemplates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/company/realm-9/query", r.URL.Path)
		assert.Equal(t, "Bearer qbo-token", r.Header.Get("Authorization"))
		assert.True(t, strings.HasPrefix(r.URL.Query().Get("query"), "SELECT * FROM RecurringTransaction STARTPOSITION 1"))
		_, _ = w.Write([]byte(`{"QueryResponse":{"RecurringTransaction":[
			{"Invoice":{"Id":"501","CustomerRef":{"value":"c-1","name":"Jane Doe"},"TotalAmt":149.99,
				"RecurringInfo":{"Name":"Jane membership","Active":true,
					"ScheduleInfo":{"IntervalType":"Monthly","NumInterval":1,"NextDate":"2024-06-01"}}}},
			{"SalesReceipt":{"Id":"502","CustomerRef":{"value":"c-2","name":"Ann Lee"},"TotalAmt":40,
				"RecurringInfo":{"Name":"","Active":true,
					"ScheduleInfo":{"IntervalType":"Weekly","NumInterval":2}}}},
			{"Invoice":{"Id":"503","CustomerRef":{"value":"c-3"},"TotalAmt":10,
				"RecurringInfo":{"Name":"old","Active":false,"ScheduleInfo":{"IntervalType":"Monthly"}}}}
		]}}`))
	}))
	defer srv.Close()

	templates, err := newQuickBooksTestClient(srv).ListActiveRecurringTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, templates, 2)

	assert.Equal(t, "501", templates[0].TemplateID)
	assert.Equal(t, int64(14999), templates[0].AmountCents)
	assert.Equal(t, "monthly", templates[0].IntervalType)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), templates[0].NextDueDate)

	assert.Equal(t, "Ann Lee", templates[1].Name)
	assert.Equal(t, "weekly", templates[1].IntervalType)
	assert.Equal(t, 2, templates[1].IntervalCount)
}

func TestListOpenInvoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "FROM Invoice WHERE Balance > '0'")
		_, _ = w.Write([]byte(`{"QueryResponse":{"Invoice":[
			{"Id":"9001","DocNumber":"1044","CustomerRef":{"value":"c-1","name":"Jane Doe"},
			 "TotalAmt":300,"Balance":250.5,"DueDate":"2024-04-01","TxnDate":"2024-03-01"}
		]}}`))
	}))
	defer srv.Close()

	invoices, err := newQuickBooksTestClient(srv).ListOpenInvoices(context.Background())
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	inv := invoices[0]
	assert.Equal(t, "9001", inv.InvoiceID)
	assert.Equal(t, int64(30000), inv.TotalCents)
	assert.Equal(t, int64(25050), inv.BalanceCents)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), inv.DueDate)
}

func TestQuickBooksNotConfigured(t *testing.T) {
	client := NewQuickBooksClient(QuickBooksConfig{BaseURL: "http://unused.invalid"})
	_, err := client.ListOpenInvoices(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsFatal(err))
}
