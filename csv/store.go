// Package csv provides the on-disk offer cache: a single CSV file holding
// offer rows across runs, with append-time de-duplication and freshness
// queries that decide which providers still need a live scrape.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mhollis/fibrescan"
)

// Fields is the cache file's column set, in order.
var Fields = []string{
	"provider", "url", "postcode", "plan_name", "speed_mbps",
	"monthly_price_gbp", "upfront_fee_gbp", "contract_months",
	"scraped_at", "card_text_sample", "row_id",
}

// Ensure Store implements fibrescan.OfferStore at compile time.
var _ fibrescan.OfferStore = (*Store)(nil)

// Store reads and writes the offer cache CSV.
type Store struct{}

// NewStore creates a new Store.
func NewStore() *Store {
	return &Store{}
}

// LoadExisting reads all rows from the cache file. A missing file yields no
// rows and no error. Rows without a stored ID get one recomputed from their
// content so old cache files stay mergeable.
func (s *Store) LoadExisting(ctx context.Context, path string) ([]fibrescan.OfferRow, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fibrescan.Errorf(fibrescan.EINVALID, "malformed cache header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}

	var rows []fibrescan.OfferRow
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fibrescan.Errorf(fibrescan.EINVALID, "malformed cache row: %v", err)
		}
		rows = append(rows, decodeRow(record, col))
	}
	return rows, nil
}

// Append merges rows into the cache file. With dedupe enabled the newest row
// wins per (provider, url, postcode, plan name, speed, price). Appending no
// rows is a no-op.
func (s *Store) Append(ctx context.Context, path string, rows []fibrescan.OfferRow, dedupe bool) error {
	if len(rows) == 0 {
		return nil
	}

	existing, err := s.LoadExisting(ctx, path)
	if err != nil {
		return err
	}
	all := append(existing, rows...)

	if dedupe {
		sort.SliceStable(all, func(i, j int) bool {
			return all[i].ScrapedAt.After(all[j].ScrapedAt)
		})
		seen := make(map[string]bool, len(all))
		deduped := all[:0]
		for _, row := range all {
			key := fmt.Sprintf("%s|%s|%s|%s|%d|%.2f",
				row.Provider, row.URL, row.Postcode, row.PlanName, row.SpeedMbps, row.MonthlyPriceGBP)
			if seen[key] {
				continue
			}
			seen[key] = true
			deduped = append(deduped, row)
		}
		all = deduped
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Fields); err != nil {
		return err
	}
	for _, row := range all {
		if err := w.Write(encodeRow(row)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// SplitCachedAndMissing partitions providers into cache hits and providers
// that still need a live scrape, emitting one status event per decision.
// With forceCacheOnly all matching rows are served regardless of age and no
// provider is reported missing.
func (s *Store) SplitCachedAndMissing(existing []fibrescan.OfferRow, postcode string, providers []string, maxAge time.Duration, now time.Time, forceCacheOnly bool) ([]fibrescan.OfferRow, []string, []fibrescan.StatusEvent) {
	var events []fibrescan.StatusEvent
	var cached []fibrescan.OfferRow

	byProvider := make(map[string][]fibrescan.OfferRow)
	for _, row := range existing {
		if !strings.EqualFold(row.Postcode, postcode) {
			continue
		}
		byProvider[row.Provider] = append(byProvider[row.Provider], row)
	}

	anyMatch := false
	for _, p := range providers {
		if len(byProvider[p]) > 0 {
			anyMatch = true
			break
		}
	}
	if !anyMatch {
		events = append(events, fibrescan.StatusEvent{
			Provider: "all", Step: "cache_miss", Detail: "no matching rows in cache",
		})
		return nil, providers, events
	}

	if forceCacheOnly {
		for _, p := range providers {
			rows := byProvider[p]
			cached = append(cached, rows...)
			events = append(events, fibrescan.StatusEvent{
				Provider: p, Step: "cache_used_forced",
				Detail: fmt.Sprintf("rows=%d (age ignored)", len(rows)),
			})
		}
		return cached, nil, events
	}

	cutoff := now.Add(-maxAge)
	var missing []string
	for _, p := range providers {
		rows := byProvider[p]
		if len(rows) == 0 {
			missing = append(missing, p)
			events = append(events, fibrescan.StatusEvent{
				Provider: p, Step: "cache_miss_provider", Detail: "no rows for provider",
			})
			continue
		}

		latest := time.Time{}
		for _, row := range rows {
			if row.ScrapedAt.After(latest) {
				latest = row.ScrapedAt
			}
		}
		if latest.IsZero() {
			missing = append(missing, p)
			events = append(events, fibrescan.StatusEvent{Provider: p, Step: "cache_no_timestamp"})
			continue
		}
		if latest.Before(cutoff) {
			missing = append(missing, p)
			events = append(events, fibrescan.StatusEvent{
				Provider: p, Step: "cache_stale",
				Detail: "latest=" + latest.UTC().Format(time.RFC3339),
			})
			continue
		}

		fresh := 0
		for _, row := range rows {
			if !row.ScrapedAt.Before(cutoff) {
				cached = append(cached, row)
				fresh++
			}
		}
		events = append(events, fibrescan.StatusEvent{
			Provider: p, Step: "cache_used", Detail: fmt.Sprintf("fresh rows=%d", fresh),
		})
	}

	return cached, missing, events
}

func encodeRow(row fibrescan.OfferRow) []string {
	upfront := ""
	if row.UpfrontFeeGBP != nil {
		upfront = strconv.FormatFloat(*row.UpfrontFeeGBP, 'f', 2, 64)
	}
	term := ""
	if row.ContractMonths != nil {
		term = strconv.Itoa(*row.ContractMonths)
	}
	return []string{
		row.Provider,
		row.URL,
		row.Postcode,
		row.PlanName,
		strconv.Itoa(row.SpeedMbps),
		strconv.FormatFloat(row.MonthlyPriceGBP, 'f', 2, 64),
		upfront,
		term,
		row.ScrapedAt.UTC().Format(time.RFC3339),
		row.CardTextSample,
		row.RowID,
	}
}

func decodeRow(record []string, col map[string]int) fibrescan.OfferRow {
	get := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var row fibrescan.OfferRow
	row.Provider = get("provider")
	row.URL = get("url")
	row.Postcode = get("postcode")
	row.PlanName = get("plan_name")
	row.SpeedMbps, _ = strconv.Atoi(get("speed_mbps"))
	row.MonthlyPriceGBP, _ = strconv.ParseFloat(get("monthly_price_gbp"), 64)
	if v, err := strconv.ParseFloat(get("upfront_fee_gbp"), 64); err == nil {
		row.UpfrontFeeGBP = &v
	}
	if v, err := strconv.Atoi(get("contract_months")); err == nil {
		row.ContractMonths = &v
	}
	if t, err := time.Parse(time.RFC3339, get("scraped_at")); err == nil {
		row.ScrapedAt = t
	}
	row.CardTextSample = get("card_text_sample")
	row.RowID = get("row_id")
	if row.RowID == "" {
		row.RowID = fibrescan.RowID(row.Provider, row.PlanName, row.SpeedMbps, row.MonthlyPriceGBP, row.URL)
	}
	return row
}
