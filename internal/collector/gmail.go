package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"agencyos/internal/agencyerr"
	"agencyos/internal/domain"
	"agencyos/internal/logging"
	"agencyos/internal/store"
)

// gmailThread is the wire shape of one thread head.
type gmailThread struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"` // RFC3339
}

type gmailPage struct {
	Threads []gmailThread `json:"threads"`
}

// gmailBody is the wire shape of a thread body fetch.
type gmailBody struct {
	HTML  string `json:"html"`
	Plain string `json:"plain"`
}

// maxThreadsPerRun bounds one collection batch.
const maxThreadsPerRun = 500

// GmailCollector syncs inbound email threads from the last 90 days,
// excluding promotional and social categories (the query is applied by
// the bridge; the window and cap are enforced here too).
type GmailCollector struct {
	store    *store.Store
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger
}

// NewGmail builds the email collector.
func NewGmail(st *store.Store, fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *GmailCollector {
	return &GmailCollector{
		store:    st,
		fetcher:  fetcher,
		interval: interval,
		logger:   logging.OrNop(logger).Named("collector.gmail"),
	}
}

func (c *GmailCollector) Source() domain.Source   { return domain.SourceGmail }
func (c *GmailCollector) Interval() time.Duration { return c.interval }

func (c *GmailCollector) Collect(ctx context.Context, now time.Time) (int, error) {
	query := url.Values{}
	query.Set("newer_than", now.AddDate(0, 0, -90).UTC().Format(time.RFC3339))
	query.Set("exclude", "promotions,social,updates")
	query.Set("max", strconv.Itoa(maxThreadsPerRun))

	var page gmailPage
	if err := c.fetcher.GetJSON(ctx, "/threads", query, &page); err != nil {
		return 0, err
	}
	threads := page.Threads
	if len(threads) > maxThreadsPerRun {
		threads = threads[:maxThreadsPerRun]
	}

	synced, skipped := 0, 0
	for _, th := range threads {
		comm, err := c.mapThread(ctx, th)
		if err != nil {
			skipped++
			c.logger.Warn("thread skipped", zap.String("source_id", th.ID), zap.Error(err))
			continue
		}
		if err := c.store.UpsertCommunication(ctx, comm, now); err != nil {
			return synced, err
		}
		synced++
	}
	if skipped > 0 {
		c.logger.Info("unparseable threads skipped", zap.Int("count", skipped))
	}
	return synced, nil
}

func (c *GmailCollector) mapThread(ctx context.Context, th gmailThread) (*domain.Communication, error) {
	if th.ID == "" {
		return nil, agencyerr.Newf(agencyerr.ClassParse, "gmail.map", "thread without id")
	}
	received, err := time.Parse(time.RFC3339, th.Date)
	if err != nil {
		return nil, agencyerr.Parse("gmail.map", err)
	}

	body, method := c.fetchBody(ctx, th)

	return &domain.Communication{
		ID:          domain.SourceGmail.ExternalID(th.ID),
		Source:      domain.SourceGmail,
		SourceID:    th.ID,
		ThreadID:    th.ID,
		Sender:      th.From,
		Recipients:  th.To,
		Subject:     th.Subject,
		Snippet:     th.Snippet,
		BodyText:    body,
		BodyMethod:  method,
		ContentHash: ContentHash(th.Subject, th.Snippet),
		ReceivedAt:  received.UTC(),
	}, nil
}

// fetchBody walks the extraction ladder: stripped HTML, then plain
// text, then the snippet. A failed body fetch degrades to the snippet
// rather than skipping the thread.
func (c *GmailCollector) fetchBody(ctx context.Context, th gmailThread) (string, domain.BodyMethod) {
	var body gmailBody
	if err := c.fetcher.GetJSON(ctx, "/threads/"+th.ID, nil, &body); err != nil {
		c.logger.Debug("body fetch failed, using snippet",
			zap.String("source_id", th.ID), zap.Error(err))
		return th.Snippet, domain.BodySnippetFallback
	}
	if body.HTML != "" {
		if text := StripHTML(body.HTML); text != "" {
			return text, domain.BodyHTMLStripped
		}
	}
	if body.Plain != "" {
		return body.Plain, domain.BodyPlain
	}
	return th.Snippet, domain.BodySnippetFallback
}

// ContentHash fingerprints a thread for cross-source dedup.
func ContentHash(subject, snippet string) string {
	sum := sha256.Sum256([]byte(subject + "\x00" + snippet))
	return hex.EncodeToString(sum[:])
}
