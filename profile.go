package fibrescan

// Selector locates an element by CSS, optionally constrained by a
// case-insensitive text pattern matched against the element's visible text.
// Text-constrained selectors stand in for "button with this label" style
// heuristics that plain CSS cannot express.
type Selector struct {
	CSS  string
	Text string // regular expression source, matched case-insensitively; empty means CSS only
}

// ByCSS returns a plain CSS selector.
func ByCSS(css string) Selector { return Selector{CSS: css} }

// ByText returns a selector constrained by element text.
func ByText(css, text string) Selector { return Selector{CSS: css, Text: text} }

// Profile bundles the selector heuristics and fallback behaviour for one
// provider domain (or the generic default). Profiles are immutable data:
// adding a provider never touches the navigation state machine.
type Profile struct {
	Domain                 string // registrable domain; empty for the generic fallback
	CookieSelectors        []Selector
	PostcodeInputSelectors []Selector
	SubmitSelectors        []Selector
	ResultSelectors        []Selector
	FallbackPaths          []string
	PreCTA                 *PreCTASpec
	Recovery               *RecoverySpec
}

// PreCTASpec describes a provider-specific click-through that sits in front
// of the wizard proper. It fires only when the current path looks like the
// landing page (LandingPath) rather than the deep purchase flow
// (PurchasePath).
type PreCTASpec struct {
	Selectors    []Selector
	LandingPath  string
	PurchasePath string
}

// RecoverySpec describes how to detect a dead session and where to restart
// it. Attached to a profile it turns on the session recovery ladder; absent,
// the session gets a single attempt and no broken-session checks.
type RecoverySpec struct {
	URLTokens   []string // URL substrings indicating a broken session
	Phrases     []string // page text phrases indicating a broken session
	DeepLink    string   // known-good purchase entry point
	MaxAttempts int      // whole-attempt retry budget
}

// AttemptBudget returns how many whole attempts a session may make against
// this profile.
func (p *Profile) AttemptBudget() int {
	if p.Recovery != nil && p.Recovery.MaxAttempts > 1 {
		return p.Recovery.MaxAttempts
	}
	return 1
}

// ProfileRegistry maps a URL to the profile of its registrable domain,
// falling back to a generic profile for unknown domains. Lookup is pure:
// no I/O and no failure mode. Every returned profile carries at least one
// result selector.
type ProfileRegistry interface {
	ProfileFor(rawURL string) Profile
}
