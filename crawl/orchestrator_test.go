package crawl_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhollis/fibrescan"
	"github.com/mhollis/fibrescan/crawl"
	"github.com/mhollis/fibrescan/mock"
)

func testOrchestrator(factory fibrescan.DriverFactory) *crawl.Orchestrator {
	return &crawl.Orchestrator{
		Factory: factory,
		Robots:  &mock.RobotsGate{},
		Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
			if html == "" {
				return nil, nil
			}
			return []fibrescan.Offer{{PlanName: "Fibre", SpeedMbps: 500, MonthlyPriceGBP: 35.0}}, nil
		}},
		Registry:   &mock.ProfileRegistry{ProfileForFn: func(string) fibrescan.Profile { return testProfile() }},
		Logger:     discardLogger(),
		StepPause:  time.Millisecond,
		RetryDelay: func(int) time.Duration { return 0 },
	}
}

func TestOrchestrator_ScrapeMany(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	req := fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 2}

	t.Run("one failing session does not sink the batch", func(t *testing.T) {
		t.Parallel()

		factory := &mock.DriverFactory{NewDriverFn: func(ctx context.Context) (fibrescan.Driver, error) {
			return &mock.Driver{
				NavigateFn: func(ctx context.Context, url string) error {
					if strings.Contains(url, "bad.example") {
						panic("browser crashed")
					}
					return nil
				},
				HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
			}, nil
		}}

		urls := []string{
			"https://www.good-one.example/broadband",
			"https://www.bad.example/broadband",
			"https://www.good-two.example/broadband",
		}
		rows, events, err := testOrchestrator(factory).ScrapeMany(ctx, req, urls)
		require.NoError(t, err)

		require.Len(t, rows, 2)
		assert.Equal(t, "good-one.example", rows[0].Provider)
		assert.Equal(t, "good-two.example", rows[1].Provider)

		var panicked []fibrescan.StatusEvent
		for _, e := range events {
			if e.Step == "exception" {
				panicked = append(panicked, e)
			}
		}
		require.Len(t, panicked, 1)
		assert.Equal(t, "bad.example", panicked[0].Provider)
		assert.Contains(t, panicked[0].Detail, "panic")
	})

	t.Run("rows from one batch share a scraped-at timestamp", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
		factory := &mock.DriverFactory{NewDriverFn: func(ctx context.Context) (fibrescan.Driver, error) {
			return &mock.Driver{
				HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
			}, nil
		}}
		o := testOrchestrator(factory)
		o.Now = func() time.Time { return now }

		rows, _, err := o.ScrapeMany(ctx, req, []string{
			"https://www.one.example/broadband",
			"https://www.two.example/broadband",
		})
		require.NoError(t, err)
		require.Len(t, rows, 2)
		for _, row := range rows {
			assert.Equal(t, now, row.ScrapedAt)
			assert.Equal(t, "TW8 0FD", row.Postcode)
			assert.NotEmpty(t, row.RowID)
		}
	})

	t.Run("driver creation failure becomes an event", func(t *testing.T) {
		t.Parallel()

		factory := &mock.DriverFactory{NewDriverFn: func(ctx context.Context) (fibrescan.Driver, error) {
			return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "no browser")
		}}

		rows, events, err := testOrchestrator(factory).ScrapeMany(ctx, req, []string{"https://www.one.example/broadband"})
		require.NoError(t, err)
		assert.Empty(t, rows)
		require.Len(t, events, 1)
		assert.Equal(t, "driver_error", events[0].Step)
	})

	t.Run("invalid request is rejected before any session starts", func(t *testing.T) {
		t.Parallel()

		factory := &mock.DriverFactory{NewDriverFn: func(ctx context.Context) (fibrescan.Driver, error) {
			t.Error("driver should not be created")
			return nil, nil
		}}

		_, _, err := testOrchestrator(factory).ScrapeMany(ctx, fibrescan.ScrapeRequest{}, []string{"https://www.one.example/"})
		require.Error(t, err)
		assert.Equal(t, fibrescan.EINVALID, fibrescan.ErrorCode(err))
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		t.Parallel()

		rows, events, err := testOrchestrator(&mock.DriverFactory{}).ScrapeMany(ctx, req, nil)
		require.NoError(t, err)
		assert.Empty(t, rows)
		assert.Empty(t, events)
	})
}
