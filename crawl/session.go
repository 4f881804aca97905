package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mhollis/fibrescan"
)

const (
	// DefaultResultTimeout bounds the final wait for offer cards to render.
	DefaultResultTimeout = 12 * time.Second

	// defaultRetryBase scales the linear backoff between whole attempts.
	defaultRetryBase = 900 * time.Millisecond
)

// Session drives one provider URL through its availability wizard. It owns
// exactly one Driver and runs in a single goroutine; all cross-session
// coordination happens through the shared RobotsGate and HostLimiter.
type Session struct {
	Driver    fibrescan.Driver
	Profile   fibrescan.Profile
	Robots    fibrescan.RobotsGate
	Limiter   fibrescan.HostLimiter
	Extractor fibrescan.OfferExtractor
	Logger    *slog.Logger

	Req      fibrescan.ScrapeRequest
	URL      string
	Provider string

	ResultTimeout time.Duration

	// StepPause overrides the wait between wizard actions. Zero means the
	// default pause; tests inject a tiny one.
	StepPause time.Duration

	// RetryDelay computes the pause before retry attempt n+1. Nil means
	// linear backoff; tests inject a zero delay.
	RetryDelay func(attempt int) time.Duration
}

// Run executes the session's attempt loop and returns whatever offers the
// final attempt produced plus the full event trail. Run never returns an
// error: everything that goes wrong is an event.
func (s *Session) Run(ctx context.Context) ([]fibrescan.Offer, []fibrescan.StatusEvent) {
	attempts := s.Profile.AttemptBudget()
	var events []fibrescan.StatusEvent

	for attempt := 1; attempt <= attempts; attempt++ {
		offers, final, evts := s.attempt(ctx, attempt)
		events = append(events, evts...)
		if final {
			return offers, events
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < attempts {
			sleep(ctx, s.retryDelay(attempt))
		}
	}
	return nil, events
}

// attempt runs one full pass: entry navigation, consent, pre-CTA, postcode,
// wizard, recovery, extraction. final reports whether the outcome settles
// the session; false means the attempt failed in a way a retry might fix.
func (s *Session) attempt(ctx context.Context, attempt int) (offers []fibrescan.Offer, final bool, events []fibrescan.StatusEvent) {
	counters := &fibrescan.Counters{}
	tag := func(step string) string { return fmt.Sprintf("%s_a%d", step, attempt) }
	record := func(step, detail string, allowed fibrescan.Tristate) {
		events = append(events, counters.Event(s.Provider, s.URL, tag(step), detail, allowed))
	}

	entered, entryEvents := s.navigateEntry(ctx, attempt, counters)
	events = append(events, entryEvents...)
	if !entered {
		// Robots blocked every entry point. Retrying cannot change that.
		return nil, true, events
	}

	if s.Driver.AcceptCookies(ctx, s.Profile.CookieSelectors) {
		record("cookies_accepted", "", fibrescan.Unset)
	}

	s.clickPreCTA(ctx, counters, record)

	if s.Driver.SubmitPostcode(ctx, s.Req.Postcode, s.Profile.PostcodeInputSelectors, s.Profile.SubmitSelectors) {
		record("postcode_submitted", s.Req.Postcode, fibrescan.Unset)
	} else if !s.submitViaFallbacks(ctx, counters, record) {
		record("postcode_input_not_found", "", fibrescan.Unset)
	}

	// The postcode submit is where providers bounce a dead session to an
	// error page, so check before driving the wizard.
	if sessionBroken(ctx, s.Driver, s.Profile.Recovery) {
		record("session_error", s.Driver.CurrentURL(), fibrescan.Unset)
		recovered, recoveryEvents := s.recover(ctx, attempt, counters)
		events = append(events, recoveryEvents...)
		if !recovered {
			return nil, false, events
		}
	} else {
		driveWizard(ctx, s.Driver, s.Req, s.Profile.ResultSelectors, counters, s.stepPause())
	}

	s.Driver.WaitForAnyResult(ctx, s.Profile.ResultSelectors, s.resultTimeout())
	s.screenshot(ctx, attempt)

	found, err := s.Extractor.Extract(s.Driver.HTML(ctx))
	if err != nil {
		record("extract_error", err.Error(), fibrescan.Unset)
		return nil, false, events
	}
	if len(found) == 0 {
		record("no_offers", "", fibrescan.Unset)
		return nil, true, events
	}
	record("offers_found", fmt.Sprintf("count=%d", len(found)), fibrescan.Unset)
	return found, true, events
}

// navigateEntry finds an entry point robots permits and navigates there:
// the requested URL first, then the site root. Reports false when both are
// blocked.
func (s *Session) navigateEntry(ctx context.Context, attempt int, counters *fibrescan.Counters) (bool, []fibrescan.StatusEvent) {
	var events []fibrescan.StatusEvent
	tag := func(step string) string { return fmt.Sprintf("%s_a%d", step, attempt) }
	record := func(step, detail string, allowed fibrescan.Tristate) {
		events = append(events, counters.Event(s.Provider, s.URL, tag(step), detail, allowed))
	}

	type entry struct {
		url  string
		step string
		deny string
	}
	entries := []entry{{url: s.URL, step: "navigated", deny: "robots_blocked_initial"}}
	if base := baseURL(s.URL); base != "" && base != s.URL {
		entries = append(entries, entry{url: base, step: "navigated_base", deny: "robots_blocked_base"})
	}

	for _, e := range entries {
		allowed := fibrescan.Unset
		if s.Req.RespectRobots {
			if !s.Robots.Allowed(ctx, e.url) {
				record(e.deny, e.url, fibrescan.No)
				continue
			}
			allowed = fibrescan.Yes
		}

		if err := s.waitHost(ctx, e.url); err != nil {
			record("exception", err.Error(), allowed)
			return false, events
		}
		if err := s.Driver.Navigate(ctx, e.url); err != nil {
			record("exception", err.Error(), allowed)
			continue
		}
		counters.Goto++
		record(e.step, e.url, allowed)
		return true, events
	}

	record("all_entries_blocked", "", fibrescan.No)
	return false, events
}

// submitViaFallbacks retries the postcode submission from alternative pages
// when the current page has no usable postcode input: the profile's deep
// link first, then each fallback path in order. Every candidate re-runs the
// consent and pre-CTA steps before submitting, because each navigation lands
// on a fresh page. Reports whether any candidate accepted the postcode.
func (s *Session) submitViaFallbacks(ctx context.Context, counters *fibrescan.Counters, record func(step, detail string, allowed fibrescan.Tristate)) bool {
	var candidates []string
	if rec := s.Profile.Recovery; rec != nil && rec.DeepLink != "" {
		candidates = append(candidates, rec.DeepLink)
	}
	for _, p := range s.Profile.FallbackPaths {
		if u := joinPath(s.URL, p); u != "" && u != s.URL {
			candidates = append(candidates, u)
		}
	}

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return false
		}
		allowed := fibrescan.Unset
		if s.Req.RespectRobots {
			if !s.Robots.Allowed(ctx, candidate) {
				record("robots_blocked_fallback", candidate, fibrescan.No)
				continue
			}
			allowed = fibrescan.Yes
		}
		if err := s.waitHost(ctx, candidate); err != nil {
			record("exception", err.Error(), allowed)
			return false
		}
		if err := s.Driver.Navigate(ctx, candidate); err != nil {
			record("exception", err.Error(), allowed)
			continue
		}
		counters.Goto++
		record("navigated_fallback", candidate, allowed)

		s.Driver.AcceptCookies(ctx, s.Profile.CookieSelectors)
		s.clickPreCTA(ctx, counters, record)
		if s.Driver.SubmitPostcode(ctx, s.Req.Postcode, s.Profile.PostcodeInputSelectors, s.Profile.SubmitSelectors) {
			record("postcode_submitted", s.Req.Postcode, fibrescan.Unset)
			return true
		}
	}
	return false
}

// clickPreCTA clicks through a provider's landing-page call to action, but
// only when the page actually is the landing page and not already the deep
// purchase flow.
func (s *Session) clickPreCTA(ctx context.Context, counters *fibrescan.Counters, record func(step, detail string, allowed fibrescan.Tristate)) {
	spec := s.Profile.PreCTA
	if spec == nil {
		return
	}
	u, err := url.Parse(s.Driver.CurrentURL())
	if err != nil {
		return
	}
	path := u.Path
	if spec.PurchasePath != "" && strings.Contains(path, spec.PurchasePath) {
		return
	}
	if spec.LandingPath != "" && !strings.Contains(path, spec.LandingPath) {
		return
	}
	if s.Driver.ClickFirstVisible(ctx, spec.Selectors) {
		counters.Steps++
		record("pre_cta_clicked", "", fibrescan.Unset)
	}
}

// recover runs the in-attempt recovery ladder: reload and redo the wizard,
// then clear cookies and restart from the profile's deep link. Reports
// whether the session looks healthy afterwards.
func (s *Session) recover(ctx context.Context, attempt int, counters *fibrescan.Counters) (bool, []fibrescan.StatusEvent) {
	spec := s.Profile.Recovery
	var events []fibrescan.StatusEvent
	tag := func(step string) string { return fmt.Sprintf("%s_a%d", step, attempt) }
	record := func(step, detail string, allowed fibrescan.Tristate) {
		events = append(events, counters.Event(s.Provider, s.URL, tag(step), detail, allowed))
	}

	redo := func() {
		s.Driver.AcceptCookies(ctx, s.Profile.CookieSelectors)
		s.clickPreCTA(ctx, counters, record)
		s.Driver.SubmitPostcode(ctx, s.Req.Postcode, s.Profile.PostcodeInputSelectors, s.Profile.SubmitSelectors)
		driveWizard(ctx, s.Driver, s.Req, s.Profile.ResultSelectors, counters, s.stepPause())
	}

	if err := s.Driver.Reload(ctx); err == nil {
		counters.Goto++
		record("recovery_reload", "", fibrescan.Unset)
		redo()
		if !sessionBroken(ctx, s.Driver, spec) {
			return true, events
		}
	}

	if spec.DeepLink == "" {
		record("session_error_persists", "", fibrescan.Unset)
		return false, events
	}

	allowed := fibrescan.Unset
	if s.Req.RespectRobots {
		if !s.Robots.Allowed(ctx, spec.DeepLink) {
			record("robots_blocked_recovery", spec.DeepLink, fibrescan.No)
			return false, events
		}
		allowed = fibrescan.Yes
	}
	if err := s.Driver.ClearCookies(ctx); err != nil {
		s.Logger.Warn("cookie clear failed", "provider", s.Provider, "error", err)
	}
	if err := s.waitHost(ctx, spec.DeepLink); err != nil {
		record("exception", err.Error(), allowed)
		return false, events
	}
	if err := s.Driver.Navigate(ctx, spec.DeepLink); err != nil {
		record("exception", err.Error(), allowed)
		return false, events
	}
	counters.Goto++
	record("recovery_deep_link", spec.DeepLink, allowed)
	redo()

	if sessionBroken(ctx, s.Driver, spec) {
		record("session_error_persists", "", fibrescan.Unset)
		return false, events
	}
	return true, events
}

func (s *Session) screenshot(ctx context.Context, attempt int) {
	if !s.Req.Debug.Screenshots || s.Req.Debug.ArtifactDir == "" {
		return
	}
	name := fmt.Sprintf("%s_a%d.png", strings.ReplaceAll(s.Provider, ".", "_"), attempt)
	path := filepath.Join(s.Req.Debug.ArtifactDir, name)
	if err := s.Driver.Screenshot(ctx, path); err != nil {
		s.Logger.Debug("screenshot failed", "provider", s.Provider, "error", err)
	}
}

func (s *Session) waitHost(ctx context.Context, rawURL string) error {
	if s.Limiter == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	return s.Limiter.Wait(ctx, strings.ToLower(u.Hostname()))
}

func (s *Session) resultTimeout() time.Duration {
	if s.ResultTimeout > 0 {
		return s.ResultTimeout
	}
	return DefaultResultTimeout
}

func (s *Session) stepPause() time.Duration {
	if s.StepPause > 0 {
		return s.StepPause
	}
	return stepPause
}

func (s *Session) retryDelay(attempt int) time.Duration {
	if s.RetryDelay != nil {
		return s.RetryDelay(attempt)
	}
	return defaultRetryBase * time.Duration(attempt)
}

// baseURL reduces a URL to its scheme and host.
func baseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/"
}

// joinPath replaces a URL's path with the given absolute path.
func joinPath(rawURL, path string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return u.Scheme + "://" + u.Host + path
}
