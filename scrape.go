package fibrescan

import (
	"context"
	"time"
)

// ScrapeRequest is the input to one batch of scrape sessions. The debug
// options affect observability only, never extraction semantics.
type ScrapeRequest struct {
	Postcode      string
	AddressHint   string            // optional substring to pick an address by
	AddressIndex  int               // 1-based fallback choice when no hint matches
	Moving        Tristate          // unset means "let the site's defaults apply"
	ExtraFields   map[string]string // label/placeholder/name substring -> value
	MaxSteps      int               // wizard step budget per attempt
	RespectRobots bool
	Debug         DebugOptions
}

// Validate returns an error if the request cannot be run.
func (r *ScrapeRequest) Validate() error {
	if r.Postcode == "" {
		return Errorf(EINVALID, "postcode required")
	}
	if r.MaxSteps < 0 {
		return Errorf(EINVALID, "max steps must not be negative")
	}
	return nil
}

// DebugOptions are purely observational toggles for a run.
type DebugOptions struct {
	Headed      bool
	SlowMotion  time.Duration
	Devtools    bool
	Screenshots bool   // capture a full-page screenshot per session
	ArtifactDir string // run-scoped directory for logs and captures
}

// Driver performs best-effort single-page actions against one live wizard
// page. Zero matches for a selector is not an error: operations report
// whether they acted, and hard errors are reserved for truly unexpected
// transport or browser failures. A Driver is owned by exactly one session
// and must not be shared.
type Driver interface {
	// Navigate loads the URL and waits for the DOM to be ready.
	Navigate(ctx context.Context, url string) error

	// Reload reloads the current page.
	Reload(ctx context.Context) error

	// CurrentURL returns the page's current location, or "" if unavailable.
	CurrentURL() string

	// AcceptCookies tries each selector on the main document, then scans
	// every frame with the selectors plus a built-in set of common
	// "accept all" phrasings. Reports whether a click occurred.
	AcceptCookies(ctx context.Context, selectors []Selector) bool

	// ClickFirstVisible clicks the first visible match from the ordered
	// selector list. Reports whether a click occurred.
	ClickFirstVisible(ctx context.Context, selectors []Selector) bool

	// SubmitPostcode fills the first matching input and triggers submission,
	// pressing Enter in the field when no submit control is found. Reports
	// whether a submission action occurred, not whether it succeeded.
	SubmitPostcode(ctx context.Context, postcode string, inputs, submits []Selector) bool

	// ResolveAddressPicker handles native dropdowns and custom listbox
	// address lists, picking by hint substring or 1-based index.
	ResolveAddressPicker(ctx context.Context, hint string, index int) bool

	// AnswerMovingQuestion answers the "are you moving" question. No-op
	// when moving is unset.
	AnswerMovingQuestion(ctx context.Context, moving Tristate) bool

	// FillAdditionalFields fills caller-supplied label->value pairs, then
	// fills "1" into any visible empty text input whose label looks like an
	// address field. Reports whether any field changed.
	FillAdditionalFields(ctx context.Context, fields map[string]string) bool

	// ClickContinueLike clicks a common progression control (Continue,
	// Next, Confirm, ...). Reports whether a click occurred.
	ClickContinueLike(ctx context.Context) bool

	// HasAnyResult reports whether any result selector currently matches,
	// without waiting.
	HasAnyResult(ctx context.Context, selectors []Selector) bool

	// WaitForAnyResult races the result selectors for up to timeout,
	// falling back to a fixed settle delay when none appear. The caller
	// re-checks presence afterwards.
	WaitForAnyResult(ctx context.Context, selectors []Selector, timeout time.Duration)

	// ContainsText reports whether the scoped page regions (main, body,
	// role=main) match the case-insensitive pattern.
	ContainsText(ctx context.Context, pattern string) bool

	// ClearCookies clears all cookies in the browsing context. Because the
	// context is shared batch-wide this affects sibling sessions too; that
	// is accepted behaviour for the recovery ladder.
	ClearCookies(ctx context.Context) error

	// HTML returns the current document. A page closed out from under the
	// session yields an empty document rather than an error.
	HTML(ctx context.Context) string

	// Screenshot captures a full-page screenshot to path.
	Screenshot(ctx context.Context, path string) error

	// Close releases the page. Safe to call on an already-closed page.
	Close() error
}

// DriverFactory creates page drivers against a shared browsing context
// (shared cookie jar, user agent, viewport, locale).
type DriverFactory interface {
	NewDriver(ctx context.Context) (Driver, error)
}

// RobotsGate answers whether a URL may be fetched, caching rules per host.
// A host whose robots.txt cannot be fetched is treated as fully allowed.
type RobotsGate interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// HostLimiter provides per-host politeness rate limiting for navigations.
type HostLimiter interface {
	// Wait blocks until the rate limit allows a request to the host.
	// Returns an error only if the context is canceled.
	Wait(ctx context.Context, host string) error
}

// Scraper fans a batch of provider URLs out to concurrent sessions and
// aggregates offer rows plus the status audit trail. The batch always
// completes: per-URL failures surface as status events, never as batch
// errors.
type Scraper interface {
	ScrapeMany(ctx context.Context, req ScrapeRequest, urls []string) ([]OfferRow, []StatusEvent, error)
}
