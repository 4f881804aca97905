package mock

import (
	"context"
	"time"

	"github.com/mhollis/fibrescan"
)

var _ fibrescan.OfferStore = (*OfferStore)(nil)

// OfferStore is a mock implementation of fibrescan.OfferStore.
type OfferStore struct {
	LoadExistingFn          func(ctx context.Context, path string) ([]fibrescan.OfferRow, error)
	AppendFn                func(ctx context.Context, path string, rows []fibrescan.OfferRow, dedupe bool) error
	SplitCachedAndMissingFn func(existing []fibrescan.OfferRow, postcode string, providers []string, maxAge time.Duration, now time.Time, forceCacheOnly bool) ([]fibrescan.OfferRow, []string, []fibrescan.StatusEvent)
}

func (s *OfferStore) LoadExisting(ctx context.Context, path string) ([]fibrescan.OfferRow, error) {
	return s.LoadExistingFn(ctx, path)
}

func (s *OfferStore) Append(ctx context.Context, path string, rows []fibrescan.OfferRow, dedupe bool) error {
	return s.AppendFn(ctx, path, rows, dedupe)
}

func (s *OfferStore) SplitCachedAndMissing(existing []fibrescan.OfferRow, postcode string, providers []string, maxAge time.Duration, now time.Time, forceCacheOnly bool) ([]fibrescan.OfferRow, []string, []fibrescan.StatusEvent) {
	return s.SplitCachedAndMissingFn(existing, postcode, providers, maxAge, now, forceCacheOnly)
}

var _ fibrescan.Scraper = (*Scraper)(nil)

// Scraper is a mock implementation of fibrescan.Scraper.
type Scraper struct {
	ScrapeManyFn func(ctx context.Context, req fibrescan.ScrapeRequest, urls []string) ([]fibrescan.OfferRow, []fibrescan.StatusEvent, error)
}

func (s *Scraper) ScrapeMany(ctx context.Context, req fibrescan.ScrapeRequest, urls []string) ([]fibrescan.OfferRow, []fibrescan.StatusEvent, error) {
	return s.ScrapeManyFn(ctx, req, urls)
}
