package billing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/internal/upstream"
)

const (
	quickBooksSystem   = "quickbooks"
	quickBooksPageSize = 500
	minorVersion       = "75"
	qboDateLayout      = "2006-01-02"
)

// Client is the read side of the billing ledger used by the sync stages.
type Client interface {
	ListActiveRecurringTemplates(ctx context.Context) ([]RecurringTemplate, error)
	ListOpenInvoices(ctx context.Context) ([]Invoice, error)
}

// QuickBooksConfig configures the QuickBooks Online client.
type QuickBooksConfig struct {
	BaseURL     string
	RealmID     string
	AccessToken string
	Transport   upstream.Config
}

// QuickBooksClient reads recurring transactions and invoices through the
// QuickBooks Online query endpoint.
type QuickBooksClient struct {
	realmID    string
	configured bool
	http       *upstream.Client
}

// NewQuickBooksClient builds a client. Missing credentials are reported as
// a configuration error on first use, not here.
func NewQuickBooksClient(cfg QuickBooksConfig) *QuickBooksClient {
	token := strings.TrimSpace(cfg.AccessToken)
	transport := cfg.Transport
	transport.System = quickBooksSystem
	transport.BaseURL = cfg.BaseURL
	transport.Authorize = func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return &QuickBooksClient{
		realmID:    strings.TrimSpace(cfg.RealmID),
		configured: token != "" && strings.TrimSpace(cfg.RealmID) != "",
		http:       upstream.New(transport),
	}
}

type qboRef struct {
	Value string `json:"value"`
	Name  string `json:"name"`
}

type qboScheduleInfo struct {
	IntervalType string `json:"IntervalType"`
	NumInterval  int    `json:"NumInterval"`
	NextDate     string `json:"NextDate"`
}

type qboRecurringInfo struct {
	Name         string          `json:"Name"`
	Active       bool            `json:"Active"`
	ScheduleInfo qboScheduleInfo `json:"ScheduleInfo"`
}

type qboTxn struct {
	ID            string            `json:"Id"`
	DocNumber     string            `json:"DocNumber"`
	CustomerRef   qboRef            `json:"CustomerRef"`
	TotalAmt      float64           `json:"TotalAmt"`
	Balance       float64           `json:"Balance"`
	DueDate       string            `json:"DueDate"`
	TxnDate       string            `json:"TxnDate"`
	RecurringInfo *qboRecurringInfo `json:"RecurringInfo,omitempty"`
}

type qboRecurring struct {
	Invoice      *qboTxn `json:"Invoice,omitempty"`
	SalesReceipt *qboTxn `json:"SalesReceipt,omitempty"`
}

type qboQueryResponse struct {
	QueryResponse struct {
		RecurringTransaction []qboRecurring `json:"RecurringTransaction"`
		Invoice              []qboTxn       `json:"Invoice"`
	} `json:"QueryResponse"`
}

// ListActiveRecurringTemplates returns every active recurring transaction.
func (c *QuickBooksClient) ListActiveRecurringTemplates(ctx context.Context) ([]RecurringTemplate, error) {
	var out []RecurringTemplate
	err := c.paginate(ctx, "list_recurring", "SELECT * FROM RecurringTransaction", func(resp qboQueryResponse) int {
		page := resp.QueryResponse.RecurringTransaction
		for _, rec := range page {
			txn := rec.Invoice
			if txn == nil {
				txn = rec.SalesReceipt
			}
			if txn == nil || txn.RecurringInfo == nil || !txn.RecurringInfo.Active {
				continue
			}
			out = append(out, templateFromTxn(*txn))
		}
		return len(page)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListOpenInvoices returns every invoice with a positive balance.
func (c *QuickBooksClient) ListOpenInvoices(ctx context.Context) ([]Invoice, error) {
	var out []Invoice
	err := c.paginate(ctx, "list_invoices", "SELECT * FROM Invoice WHERE Balance > '0'", func(resp qboQueryResponse) int {
		page := resp.QueryResponse.Invoice
		for _, txn := range page {
			out = append(out, invoiceFromTxn(txn))
		}
		return len(page)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *QuickBooksClient) paginate(ctx context.Context, op, statement string, consume func(qboQueryResponse) int) error {
	if !c.configured {
		return apperr.NotConfigured(quickBooksSystem)
	}
	path := fmt.Sprintf("/v3/company/%s/query", url.PathEscape(c.realmID))
	for start := 1; ; start += quickBooksPageSize {
		query := url.Values{
			"query":        {fmt.Sprintf("%s STARTPOSITION %d MAXRESULTS %d", statement, start, quickBooksPageSize)},
			"minorversion": {minorVersion},
		}
		var resp qboQueryResponse
		if err := c.http.Do(ctx, op, http.MethodGet, path, query, nil, &resp); err != nil {
			return fmt.Errorf("billing: %s: %w", op, err)
		}
		if consume(resp) < quickBooksPageSize {
			return nil
		}
	}
}

func templateFromTxn(txn qboTxn) RecurringTemplate {
	info := txn.RecurringInfo
	amount, _ := ToCents(txn.TotalAmt)
	name := info.Name
	if name == "" {
		name = txn.CustomerRef.Name
	}
	return RecurringTemplate{
		TemplateID:         txn.ID,
		ExternalCustomerID: txn.CustomerRef.Value,
		CustomerName:       txn.CustomerRef.Name,
		Name:               name,
		AmountCents:        amount,
		IntervalType:       strings.ToLower(strings.TrimSpace(info.ScheduleInfo.IntervalType)),
		IntervalCount:      info.ScheduleInfo.NumInterval,
		NextDueDate:        parseDate(info.ScheduleInfo.NextDate),
		Active:             info.Active,
	}
}

func invoiceFromTxn(txn qboTxn) Invoice {
	total, _ := ToCents(txn.TotalAmt)
	balance, _ := ToCents(txn.Balance)
	return Invoice{
		InvoiceID:          txn.ID,
		ExternalCustomerID: txn.CustomerRef.Value,
		CustomerName:       txn.CustomerRef.Name,
		DocNumber:          txn.DocNumber,
		TotalCents:         total,
		BalanceCents:       balance,
		DueDate:            parseDate(txn.DueDate),
		TxnDate:            parseDate(txn.TxnDate),
	}
}

// parseDate returns the zero time for empty or malformed dates; required
// dates are then rejected by validation.
func parseDate(value string) time.Time {
	t, err := time.Parse(qboDateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}
	}
	return t
}
