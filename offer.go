package fibrescan

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Offer is one priced broadband plan extracted from a single page snapshot.
// Identity for de-duplication within one page is (SpeedMbps, MonthlyPriceGBP);
// the plan name is a lossy heuristic and never participates in identity.
type Offer struct {
	PlanName        string   // best-effort, may be empty
	SpeedMbps       int      // normalized to megabits per second
	MonthlyPriceGBP float64  //
	UpfrontFeeGBP   *float64 // nil when no upfront/setup fee was found
	ContractMonths  *int     // nil when no contract term was found
	CardTextSample  string   // truncated source text for audit
}

// OfferRow is an Offer bound to the request that produced it, in the shape
// persisted by the offer cache and consumed by downstream tooling.
type OfferRow struct {
	RowID           string
	Provider        string
	URL             string
	Postcode        string
	PlanName        string
	SpeedMbps       int
	MonthlyPriceGBP float64
	UpfrontFeeGBP   *float64
	ContractMonths  *int
	ScrapedAt       time.Time
	CardTextSample  string
}

// Validate returns an error if the row is missing required fields.
func (r *OfferRow) Validate() error {
	if r.Provider == "" {
		return Errorf(EINVALID, "offer row provider required")
	}
	if r.SpeedMbps <= 0 {
		return Errorf(EINVALID, "offer row speed must be positive")
	}
	return nil
}

// RowID computes the stable content hash used to deduplicate offers across
// runs: provider|planName|speed|price|url.
func RowID(provider, planName string, speedMbps int, monthlyPriceGBP float64, rawURL string) string {
	raw := fmt.Sprintf("%s|%s|%d|%.2f|%s", provider, planName, speedMbps, monthlyPriceGBP, rawURL)
	return fmt.Sprintf("%016x", xxhash.Sum64String(raw))
}

// NewOfferRow binds an extracted offer to its request context and assigns
// the content-derived row ID.
func NewOfferRow(o Offer, provider, rawURL, postcode string, scrapedAt time.Time) OfferRow {
	return OfferRow{
		RowID:           RowID(provider, o.PlanName, o.SpeedMbps, o.MonthlyPriceGBP, rawURL),
		Provider:        provider,
		URL:             rawURL,
		Postcode:        postcode,
		PlanName:        o.PlanName,
		SpeedMbps:       o.SpeedMbps,
		MonthlyPriceGBP: o.MonthlyPriceGBP,
		UpfrontFeeGBP:   o.UpfrontFeeGBP,
		ContractMonths:  o.ContractMonths,
		ScrapedAt:       scrapedAt,
		CardTextSample:  o.CardTextSample,
	}
}

// ProviderOf derives the provider key for a URL: the hostname with any
// leading "www." removed.
func ProviderOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

// OfferExtractor turns a page's HTML into a de-duplicated list of offers.
// Extraction is pure: the same HTML always yields the same offer list.
type OfferExtractor interface {
	Extract(html string) ([]Offer, error)
}

// OfferStore persists offer rows between runs and answers freshness
// queries. Implementations own the on-disk format.
type OfferStore interface {
	// LoadExisting reads all previously persisted rows.
	// A missing file is not an error and yields no rows.
	LoadExisting(ctx context.Context, path string) ([]OfferRow, error)

	// Append persists rows. With dedupe enabled the newest row is kept per
	// (provider, url, postcode, plan name, speed, price).
	Append(ctx context.Context, path string, rows []OfferRow, dedupe bool) error

	// SplitCachedAndMissing partitions a provider list into rows that can be
	// served from cache and providers that still need a live scrape, based
	// on the freshness window. forceCacheOnly serves whatever exists
	// regardless of age.
	SplitCachedAndMissing(existing []OfferRow, postcode string, providers []string, maxAge time.Duration, now time.Time, forceCacheOnly bool) (cached []OfferRow, missing []string, events []StatusEvent)
}
