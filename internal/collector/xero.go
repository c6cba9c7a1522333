package collector

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// xeroContact is the wire shape of one accounting contact.
type xeroContact struct {
	ContactID string `json:"contact_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
}

// xeroInvoice is the wire shape of one receivable invoice.
type xeroInvoice struct {
	InvoiceID string  `json:"invoice_id"`
	ContactID string  `json:"contact_id"`
	Number    string  `json:"number"`
	Type      string  `json:"type"`   // ACCREC | ACCPAY
	Status    string  `json:"status"` // DRAFT | AUTHORISED | PAID | VOIDED
	Amount    float64 `json:"amount_due"`
	Currency  string  `json:"currency"`
	Date      string  `json:"date"`     // issue date, 2006-01-02
	DueDate   string  `json:"due_date"` // 2006-01-02, optional
	PaidDate  string  `json:"paid_date"`
}

type xeroContactPage struct {
	Contacts []xeroContact `json:"contacts"`
}

type xeroInvoicePage struct {
	Invoices []xeroInvoice `json:"invoices"`
}

// XeroCollector syncs the accounting system: contacts become clients
// (and extend the identity map), then receivable invoices land with a
// collection-time aging bucket the normalizer recomputes each cycle.
type XeroCollector struct {
	store    *store.Store
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewXero builds the accounting collector.
func NewXero(st *store.Store, fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *XeroCollector {
	return &XeroCollector{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.xero"),
	}
}

func (c *XeroCollector) Source() domain.Source   { return domain.SourceXero }
func (c *XeroCollector) Interval() time.Duration { return c.interval }

func (c *XeroCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	contacts, err := c.collectContacts(ctx, now)
	if err != nil {
		return 0, err
	}
	invoices, err := c.collectInvoices(ctx, contacts, now)
	if err != nil {
		return len(contacts), err
	}
	return len(contacts) + invoices, nil
}

// collectContacts upserts clients and returns contact id -> client id.
func (c *XeroCollector) collectContacts(ctx context.Context, now time.Time) (map[string]string, error) {
	var page xeroContactPage
	if err := c.fetcher.GetJSON(ctx, "/contacts", nil, &page); err != nil {
		return nil, err
	}

	idMap := make(map[string]string, len(page.Contacts))
	for _, contact := range page.Contacts {
		if contact.ContactID == "" {
			c.logger.Warn("contact without id skipped")
			continue
		}
		clientID := domain.SourceXero.ExternalID(contact.ContactID)
		email := strings.ToLower(strings.TrimSpace(contact.Email))
		emailDomain := ""
		if i := strings.LastIndexByte(email, '@'); i >= 0 && i < len(email)-1 {
			emailDomain = email[i+1:]
		}
		if err := c.store.UpsertClient(ctx, &domain.Client{
			ID:            clientID,
			Name:          contact.Name,
			ContactEmail:  email,
			ContactDomain: emailDomain,
		}, now); err != nil {
			return nil, err
		}
		if email != "" {
			if err := c.store.UpsertIdentity(ctx, domain.IdentityEmail, email, clientID); err != nil {
				return nil, err
			}
		}
		if emailDomain != "" {
			if err := c.store.UpsertIdentity(ctx, domain.IdentityDomain, emailDomain, clientID); err != nil {
				return nil, err
			}
		}
		idMap[contact.ContactID] = clientID
	}
	return idMap, nil
}

func (c *XeroCollector) collectInvoices(ctx context.Context, contacts map[string]string, now time.Time) (int, error) {
	var page xeroInvoicePage
	if err := c.fetcher.GetJSON(ctx, "/invoices", nil, &page); err != nil {
		return 0, err
	}

	synced, skipped := 0, 0
	for _, item := range page.Invoices {
		if item.Type != "ACCREC" {
			continue // payables are not our receivables
		}
		inv, err := c.mapInvoice(item, contacts, now)
		if err != nil {
			skipped++
			c.logger.Warn("invoice skipped", zap.String("source_id", item.InvoiceID), zap.Error(err))
			continue
		}
		if err := c.store.UpsertInvoice(ctx, inv, now); err != nil {
			return synced, err
		}
		synced++
	}
	if skipped > 0 {
		c.logger.Info("unparseable invoices skipped", zap.Int("count", skipped))
	}
	return synced, nil
}

func (c *XeroCollector) mapInvoice(item xeroInvoice, contacts map[string]string, now time.Time) (*domain.Invoice, error) {
	if item.InvoiceID == "" {
		return nil, agencyerr.Newf(agencyerr.ClassParse, "xero.map", "invoice without id")
	}

	var status domain.InvoiceStatus
	switch item.Status {
	case "DRAFT":
		status = domain.InvoiceDraft
	case "AUTHORISED":
		status = domain.InvoiceSent
	case "PAID":
		status = domain.InvoicePaid
	case "VOIDED":
		status = domain.InvoiceVoided
	default:
		return nil, agencyerr.Newf(agencyerr.ClassParse, "xero.map", "unknown status %q", item.Status)
	}

	parseDate := func(s string) (*time.Time, error) {
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return nil, agencyerr.Parse("xero.map", err)
		}
		t = t.UTC()
		return &t, nil
	}
	issue, err := parseDate(item.Date)
	if err != nil {
		return nil, err
	}
	due, err := parseDate(item.DueDate)
	if err != nil {
		return nil, err
	}
	paid, err := parseDate(item.PaidDate)
	if err != nil {
		return nil, err
	}

	// Seed the bucket at collection time; the normalizer recomputes it
	// deterministically every cycle afterwards.
	bucket := domain.AgingCurrent
	if due != nil && status.Unpaid() {
		days := int(now.UTC().Truncate(24*time.Hour).Sub(due.Truncate(24*time.Hour)).Hours() / 24)
		bucket = domain.BucketForAge(days)
	}

	return &domain.Invoice{
		ID:          domain.SourceXero.ExternalID(item.InvoiceID),
		Source:      domain.SourceXero,
		SourceID:    item.InvoiceID,
		ClientID:    contacts[item.ContactID],
		Number:      item.Number,
		Amount:      item.Amount,
		Currency:    item.Currency,
		Status:      status,
		IssueDate:   issue,
		DueDate:     due,
		PaidDate:    paid,
		AgingBucket: bucket,
	}, nil
}
