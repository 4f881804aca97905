package crawl_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhollis/fibrescan"
	"github.com/mhollis/fibrescan/crawl"
	"github.com/mhollis/fibrescan/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProfile() fibrescan.Profile {
	return fibrescan.Profile{
		Domain:                 "example.com",
		CookieSelectors:        []fibrescan.Selector{fibrescan.ByText("button", "accept all")},
		PostcodeInputSelectors: []fibrescan.Selector{fibrescan.ByCSS("input[type='text']")},
		SubmitSelectors:        []fibrescan.Selector{fibrescan.ByText("button", "check")},
		ResultSelectors:        []fibrescan.Selector{fibrescan.ByCSS("[class*='card' i]")},
	}
}

func stepTags(events []fibrescan.StatusEvent) []string {
	tags := make([]string, 0, len(events))
	for _, e := range events {
		tags = append(tags, e.Step)
	}
	return tags
}

func TestSession_Run(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("happy path produces offers and an ordered event trail", func(t *testing.T) {
		t.Parallel()

		driver := &mock.Driver{
			SubmitPostcodeFn: func(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool {
				assert.Equal(t, "TW8 0FD", postcode)
				return true
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}
		s := &crawl.Session{
			Driver:  driver,
			Profile: testProfile(),
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Fibre 500", SpeedMbps: 500, MonthlyPriceGBP: 35.0}}, nil
			}},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 6, RespectRobots: true},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
			StepPause: time.Millisecond,
		}

		offers, events := s.Run(ctx)
		require.Len(t, offers, 1)
		assert.Equal(t, 500, offers[0].SpeedMbps)

		tags := stepTags(events)
		assert.Contains(t, tags, "navigated_a1")
		assert.Contains(t, tags, "postcode_submitted_a1")
		assert.Contains(t, tags, "offers_found_a1")
	})

	t.Run("no offers ends the session without retry", func(t *testing.T) {
		t.Parallel()

		var attempts atomic.Int32
		s := &crawl.Session{
			Driver: &mock.Driver{
				NavigateFn: func(ctx context.Context, url string) error {
					attempts.Add(1)
					return nil
				},
			},
			Profile: fibrescan.Profile{
				Domain:          "example.com",
				ResultSelectors: []fibrescan.Selector{fibrescan.ByCSS("section")},
				Recovery:        &fibrescan.RecoverySpec{MaxAttempts: 3},
			},
			Robots: &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return nil, nil
			}},
			Logger:     discardLogger(),
			Req:        fibrescan.ScrapeRequest{Postcode: "TW8 0FD"},
			URL:        "https://www.example.com/broadband",
			Provider:   "example.com",
			RetryDelay: func(int) time.Duration { return 0 },
		}

		offers, events := s.Run(ctx)
		assert.Empty(t, offers)
		assert.Contains(t, stepTags(events), "no_offers_a1")
		assert.Equal(t, int32(1), attempts.Load())
	})

	t.Run("zero step budget performs no wizard actions", func(t *testing.T) {
		t.Parallel()

		var actions atomic.Int32
		count := func() bool { actions.Add(1); return true }
		s := &crawl.Session{
			Driver: &mock.Driver{
				ResolveAddressPickerFn: func(context.Context, string, int) bool { return count() },
				AnswerMovingQuestionFn: func(context.Context, fibrescan.Tristate) bool { return count() },
				FillAdditionalFieldsFn: func(context.Context, map[string]string) bool { return count() },
				ClickContinueLikeFn:    func(context.Context) bool { return count() },
			},
			Profile: testProfile(),
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return nil, nil
			}},
			Logger:   discardLogger(),
			Req:      fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 0},
			URL:      "https://www.example.com/broadband",
			Provider: "example.com",
		}

		s.Run(ctx)
		assert.Equal(t, int32(0), actions.Load())
	})

	t.Run("wizard keeps retrying while the step budget lasts", func(t *testing.T) {
		t.Parallel()

		var continues atomic.Int32
		var movingChecks atomic.Int32
		s := &crawl.Session{
			Driver: &mock.Driver{
				AnswerMovingQuestionFn: func(context.Context, fibrescan.Tristate) bool {
					movingChecks.Add(1)
					return false
				},
				ClickContinueLikeFn: func(context.Context) bool {
					// Progress twice, then nothing clickable for a while.
					return continues.Add(1) <= 2
				},
			},
			Profile: testProfile(),
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return nil, nil
			}},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 4},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
			StepPause: time.Millisecond,
		}

		_, events := s.Run(ctx)
		// A stuck iteration waits and tries again instead of giving up, so
		// every handler is consulted on all four iterations.
		assert.Equal(t, int32(4), continues.Load())
		assert.Equal(t, int32(4), movingChecks.Load())
		last := events[len(events)-1]
		assert.Equal(t, 2, last.Steps)
	})

	t.Run("each acting handler advances with a continue click", func(t *testing.T) {
		t.Parallel()

		var picks atomic.Int32
		var continues atomic.Int32
		s := &crawl.Session{
			Driver: &mock.Driver{
				ResolveAddressPickerFn: func(context.Context, string, int) bool {
					picks.Add(1)
					return true
				},
				ClickContinueLikeFn: func(context.Context) bool {
					continues.Add(1)
					return true
				},
			},
			Profile: testProfile(),
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return nil, nil
			}},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 3},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
			StepPause: time.Millisecond,
		}

		_, events := s.Run(ctx)
		assert.Equal(t, int32(3), picks.Load())
		assert.Equal(t, int32(3), continues.Load())
		last := events[len(events)-1]
		assert.Equal(t, 3, last.Steps)
	})

	t.Run("postcode submit falls back through deep link and fallback paths", func(t *testing.T) {
		t.Parallel()

		var urls []string
		var consents atomic.Int32
		driver := &mock.Driver{
			NavigateFn: func(ctx context.Context, url string) error {
				urls = append(urls, url)
				return nil
			},
			AcceptCookiesFn: func(context.Context, []fibrescan.Selector) bool {
				consents.Add(1)
				return true
			},
			SubmitPostcodeFn: func(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool {
				return len(urls) > 0 && strings.Contains(urls[len(urls)-1], "/deals2")
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}

		p := testProfile()
		p.FallbackPaths = []string{"/deals1", "/deals2"}
		p.Recovery = &fibrescan.RecoverySpec{DeepLink: "https://www.example.com/broadband/buy"}
		s := &crawl.Session{
			Driver:  driver,
			Profile: p,
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Fibre", SpeedMbps: 500, MonthlyPriceGBP: 30.0}}, nil
			}},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD"},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
			StepPause: time.Millisecond,
		}

		offers, events := s.Run(ctx)
		require.Len(t, offers, 1)

		// Deep link first, then each fallback path, stopping at the first
		// page that takes the postcode.
		require.Equal(t, []string{
			"https://www.example.com/broadband",
			"https://www.example.com/broadband/buy",
			"https://www.example.com/deals1",
			"https://www.example.com/deals2",
		}, urls)
		// Consent is redone on every candidate page.
		assert.Equal(t, int32(4), consents.Load())

		tags := stepTags(events)
		assert.Contains(t, tags, "navigated_fallback_a1")
		assert.Contains(t, tags, "postcode_submitted_a1")
		assert.Contains(t, tags, "offers_found_a1")
		assert.NotContains(t, tags, "postcode_input_not_found_a1")
	})

	t.Run("robots blocks individual fallback candidates", func(t *testing.T) {
		t.Parallel()

		var urls []string
		driver := &mock.Driver{
			NavigateFn: func(ctx context.Context, url string) error {
				urls = append(urls, url)
				return nil
			},
			SubmitPostcodeFn: func(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool {
				return len(urls) > 0 && strings.Contains(urls[len(urls)-1], "/deals2")
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}

		p := testProfile()
		p.FallbackPaths = []string{"/deals1", "/deals2"}
		s := &crawl.Session{
			Driver:  driver,
			Profile: p,
			Robots: &mock.RobotsGate{AllowedFn: func(_ context.Context, url string) bool {
				return !strings.Contains(url, "/deals1")
			}},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Fibre", SpeedMbps: 500, MonthlyPriceGBP: 30.0}}, nil
			}},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", RespectRobots: true},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
			StepPause: time.Millisecond,
		}

		_, events := s.Run(ctx)
		require.Equal(t, []string{
			"https://www.example.com/broadband",
			"https://www.example.com/deals2",
		}, urls)

		tags := stepTags(events)
		assert.Contains(t, tags, "robots_blocked_fallback_a1")
		assert.Contains(t, tags, "postcode_submitted_a1")
	})

	t.Run("robots blocking every entry point abandons the session", func(t *testing.T) {
		t.Parallel()

		var navigations atomic.Int32
		s := &crawl.Session{
			Driver: &mock.Driver{
				NavigateFn: func(ctx context.Context, url string) error {
					navigations.Add(1)
					return nil
				},
			},
			Profile:   testProfile(),
			Robots:    &mock.RobotsGate{AllowedFn: func(context.Context, string) bool { return false }},
			Extractor: &mock.OfferExtractor{ExtractFn: func(string) ([]fibrescan.Offer, error) { return nil, nil }},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", RespectRobots: true},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
		}

		offers, events := s.Run(ctx)
		assert.Empty(t, offers)
		assert.Equal(t, int32(0), navigations.Load())

		tags := stepTags(events)
		assert.Contains(t, tags, "robots_blocked_initial_a1")
		assert.Contains(t, tags, "robots_blocked_base_a1")
		assert.Contains(t, tags, "all_entries_blocked_a1")
		for _, e := range events {
			assert.Equal(t, fibrescan.No, e.Allowed)
		}
	})

	t.Run("robots ignored when the request disables it", func(t *testing.T) {
		t.Parallel()

		var consulted atomic.Int32
		s := &crawl.Session{
			Driver:  &mock.Driver{},
			Profile: testProfile(),
			Robots: &mock.RobotsGate{AllowedFn: func(context.Context, string) bool {
				consulted.Add(1)
				return false
			}},
			Extractor: &mock.OfferExtractor{ExtractFn: func(string) ([]fibrescan.Offer, error) { return nil, nil }},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD", RespectRobots: false},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
		}

		_, events := s.Run(ctx)
		assert.Equal(t, int32(0), consulted.Load())
		assert.Contains(t, stepTags(events), "navigated_a1")
	})

	t.Run("broken session is caught before the wizard runs", func(t *testing.T) {
		t.Parallel()

		var reloaded atomic.Bool
		var picks atomic.Int32
		driver := &mock.Driver{
			CurrentURLFn: func() string {
				if reloaded.Load() {
					return "https://www.example.com/broadband"
				}
				return "https://www.example.com/error/timeout"
			},
			ReloadFn: func(ctx context.Context) error {
				reloaded.Store(true)
				return nil
			},
			ResolveAddressPickerFn: func(context.Context, string, int) bool {
				picks.Add(1)
				return false
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}

		p := testProfile()
		p.Recovery = &fibrescan.RecoverySpec{URLTokens: []string{"timeout"}, MaxAttempts: 2}
		s := &crawl.Session{
			Driver:  driver,
			Profile: p,
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Fibre", SpeedMbps: 500, MonthlyPriceGBP: 30.0}}, nil
			}},
			Logger:     discardLogger(),
			Req:        fibrescan.ScrapeRequest{Postcode: "TW8 0FD", MaxSteps: 3},
			URL:        "https://www.example.com/broadband",
			Provider:   "example.com",
			StepPause:  time.Millisecond,
			RetryDelay: func(int) time.Duration { return 0 },
		}

		offers, events := s.Run(ctx)
		require.Len(t, offers, 1)

		tags := stepTags(events)
		assert.Contains(t, tags, "session_error_a1")
		assert.Contains(t, tags, "recovery_reload_a1")
		// The wizard only ran inside the recovery redo, never against the
		// broken page first.
		assert.Equal(t, int32(3), picks.Load())
	})

	t.Run("recovery redo repeats the landing click", func(t *testing.T) {
		t.Parallel()

		var reloaded atomic.Bool
		var ctaClicks atomic.Int32
		driver := &mock.Driver{
			CurrentURLFn: func() string {
				if reloaded.Load() {
					return "https://www.example.com/broadband"
				}
				return "https://www.example.com/error/timeout"
			},
			ReloadFn: func(ctx context.Context) error {
				reloaded.Store(true)
				return nil
			},
			ClickFirstVisibleFn: func(context.Context, []fibrescan.Selector) bool {
				ctaClicks.Add(1)
				return true
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}

		p := testProfile()
		p.PreCTA = &fibrescan.PreCTASpec{Selectors: []fibrescan.Selector{fibrescan.ByText("a", "check availability")}}
		p.Recovery = &fibrescan.RecoverySpec{URLTokens: []string{"timeout"}, MaxAttempts: 2}
		s := &crawl.Session{
			Driver:  driver,
			Profile: p,
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Fibre", SpeedMbps: 500, MonthlyPriceGBP: 30.0}}, nil
			}},
			Logger:     discardLogger(),
			Req:        fibrescan.ScrapeRequest{Postcode: "TW8 0FD"},
			URL:        "https://www.example.com/broadband",
			Provider:   "example.com",
			RetryDelay: func(int) time.Duration { return 0 },
		}

		offers, _ := s.Run(ctx)
		require.Len(t, offers, 1)
		// Once on entry, once again inside the reload redo.
		assert.Equal(t, int32(2), ctaClicks.Load())
	})

	t.Run("recovery ladder clears cookies and restarts from the deep link", func(t *testing.T) {
		t.Parallel()

		var cleared atomic.Bool
		var deepLinkHit atomic.Bool
		driver := &mock.Driver{
			CurrentURLFn: func() string {
				if cleared.Load() {
					return "https://www.example.com/broadband/buy"
				}
				return "https://www.example.com/error/timeout"
			},
			ClearCookiesFn: func(ctx context.Context) error {
				cleared.Store(true)
				return nil
			},
			NavigateFn: func(ctx context.Context, url string) error {
				if strings.Contains(url, "/buy") {
					deepLinkHit.Store(true)
				}
				return nil
			},
			HTMLFn: func(ctx context.Context) string { return "<html>offers</html>" },
		}

		p := testProfile()
		p.Recovery = &fibrescan.RecoverySpec{
			URLTokens:   []string{"timeout"},
			DeepLink:    "https://www.example.com/broadband/buy",
			MaxAttempts: 3,
		}
		s := &crawl.Session{
			Driver:  driver,
			Profile: p,
			Robots:  &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(html string) ([]fibrescan.Offer, error) {
				return []fibrescan.Offer{{PlanName: "Superfast", SpeedMbps: 145, MonthlyPriceGBP: 27.0}}, nil
			}},
			Logger:     discardLogger(),
			Req:        fibrescan.ScrapeRequest{Postcode: "TW8 0FD", RespectRobots: true},
			URL:        "https://www.example.com/broadband",
			Provider:   "example.com",
			RetryDelay: func(int) time.Duration { return 0 },
		}

		offers, events := s.Run(ctx)
		require.Len(t, offers, 1)
		assert.True(t, deepLinkHit.Load())
		assert.True(t, cleared.Load())

		tags := stepTags(events)
		assert.Contains(t, tags, "session_error_a1")
		assert.Contains(t, tags, "recovery_reload_a1")
		assert.Contains(t, tags, "recovery_deep_link_a1")
		assert.Contains(t, tags, "offers_found_a1")
	})

	t.Run("persistent session error exhausts the attempt budget", func(t *testing.T) {
		t.Parallel()

		var navigations atomic.Int32
		driver := &mock.Driver{
			CurrentURLFn: func() string { return "https://www.example.com/error/timeout" },
			NavigateFn: func(ctx context.Context, url string) error {
				navigations.Add(1)
				return nil
			},
		}

		p := testProfile()
		p.Recovery = &fibrescan.RecoverySpec{
			URLTokens:   []string{"timeout"},
			DeepLink:    "https://www.example.com/broadband/buy",
			MaxAttempts: 2,
		}
		s := &crawl.Session{
			Driver:     driver,
			Profile:    p,
			Robots:     &mock.RobotsGate{},
			Extractor:  &mock.OfferExtractor{ExtractFn: func(string) ([]fibrescan.Offer, error) { return nil, nil }},
			Logger:     discardLogger(),
			Req:        fibrescan.ScrapeRequest{Postcode: "TW8 0FD"},
			URL:        "https://www.example.com/broadband",
			Provider:   "example.com",
			RetryDelay: func(int) time.Duration { return 0 },
		}

		offers, events := s.Run(ctx)
		assert.Empty(t, offers)

		tags := stepTags(events)
		assert.Contains(t, tags, "session_error_persists_a1")
		assert.Contains(t, tags, "session_error_persists_a2")
		// Entry, the failed-submit deep link retry, and the recovery deep
		// link, per attempt.
		assert.Equal(t, int32(6), navigations.Load())
	})

	t.Run("navigation failure falls through to the next entry point", func(t *testing.T) {
		t.Parallel()

		var urls []string
		driver := &mock.Driver{
			NavigateFn: func(ctx context.Context, url string) error {
				urls = append(urls, url)
				if len(urls) == 1 {
					return fibrescan.Errorf(fibrescan.EUNAVAILABLE, "connection reset")
				}
				return nil
			},
		}
		s := &crawl.Session{
			Driver:    driver,
			Profile:   testProfile(),
			Robots:    &mock.RobotsGate{},
			Extractor: &mock.OfferExtractor{ExtractFn: func(string) ([]fibrescan.Offer, error) { return nil, nil }},
			Logger:    discardLogger(),
			Req:       fibrescan.ScrapeRequest{Postcode: "TW8 0FD"},
			URL:       "https://www.example.com/broadband",
			Provider:  "example.com",
		}

		_, events := s.Run(ctx)
		require.Len(t, urls, 2)
		assert.Equal(t, "https://www.example.com/broadband", urls[0])
		assert.Equal(t, "https://www.example.com/", urls[1])

		tags := stepTags(events)
		assert.Contains(t, tags, "exception_a1")
		assert.Contains(t, tags, "navigated_base_a1")
	})
}
