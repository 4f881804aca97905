package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mhollis/fibrescan"
)

// DefaultConcurrency caps simultaneous browser pages per batch.
const DefaultConcurrency = 4

// Ensure Orchestrator implements fibrescan.Scraper at compile time.
var _ fibrescan.Scraper = (*Orchestrator)(nil)

// Orchestrator fans a batch of provider URLs out to concurrent sessions,
// one page driver per URL, and aggregates rows and events in input order.
// A failure in any single session, including a panic, becomes a status
// event; the batch itself always completes.
type Orchestrator struct {
	Factory   fibrescan.DriverFactory
	Robots    fibrescan.RobotsGate
	Limiter   fibrescan.HostLimiter
	Extractor fibrescan.OfferExtractor
	Registry  fibrescan.ProfileRegistry
	Logger    *slog.Logger

	Concurrency int

	// Now stamps the batch's scraped-at time. Nil means time.Now.
	Now func() time.Time

	// StepPause is passed through to sessions; zero means the default
	// wizard pause.
	StepPause time.Duration

	// RetryDelay is passed through to sessions; tests inject a zero delay.
	RetryDelay func(attempt int) time.Duration
}

// ScrapeMany runs one session per URL and returns all extracted offer rows
// plus the concatenated status trail. Rows from one batch share a single
// scraped-at timestamp so cache freshness decisions treat the batch as one
// observation.
func (o *Orchestrator) ScrapeMany(ctx context.Context, req fibrescan.ScrapeRequest, urls []string) ([]fibrescan.OfferRow, []fibrescan.StatusEvent, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	if len(urls) == 0 {
		return nil, nil, nil
	}

	scrapedAt := time.Now().UTC()
	if o.Now != nil {
		scrapedAt = o.Now().UTC()
	}

	rowsByURL := make([][]fibrescan.OfferRow, len(urls))
	eventsByURL := make([][]fibrescan.StatusEvent, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for i, rawURL := range urls {
		i, rawURL := i, rawURL
		g.Go(func() error {
			rows, events := o.runOne(gctx, req, rawURL, scrapedAt)
			rowsByURL[i] = rows
			eventsByURL[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var rows []fibrescan.OfferRow
	var events []fibrescan.StatusEvent
	for i := range urls {
		rows = append(rows, rowsByURL[i]...)
		events = append(events, eventsByURL[i]...)
	}
	return rows, events, nil
}

// runOne owns the full lifecycle of a single session: driver creation,
// execution with panic containment, row conversion, driver teardown.
func (o *Orchestrator) runOne(ctx context.Context, req fibrescan.ScrapeRequest, rawURL string, scrapedAt time.Time) (rows []fibrescan.OfferRow, events []fibrescan.StatusEvent) {
	provider := fibrescan.ProviderOf(rawURL)

	defer func() {
		if r := recover(); r != nil {
			o.Logger.Error("session panicked", "provider", provider, "panic", r)
			events = append(events, fibrescan.StatusEvent{
				Provider: provider,
				URL:      rawURL,
				Step:     "exception",
				Detail:   fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	driver, err := o.Factory.NewDriver(ctx)
	if err != nil {
		events = append(events, fibrescan.StatusEvent{
			Provider: provider,
			URL:      rawURL,
			Step:     "driver_error",
			Detail:   err.Error(),
		})
		return nil, events
	}
	defer driver.Close()

	session := &Session{
		Driver:     driver,
		Profile:    o.Registry.ProfileFor(rawURL),
		Robots:     o.Robots,
		Limiter:    o.Limiter,
		Extractor:  o.Extractor,
		Logger:     o.Logger,
		Req:        req,
		URL:        rawURL,
		Provider:   provider,
		StepPause:  o.StepPause,
		RetryDelay: o.RetryDelay,
	}

	offers, events := session.Run(ctx)
	for _, offer := range offers {
		rows = append(rows, fibrescan.NewOfferRow(offer, provider, rawURL, req.Postcode, scrapedAt))
	}
	return rows, events
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return DefaultConcurrency
}
