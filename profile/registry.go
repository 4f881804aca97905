// Package profile contains the built-in site profiles: per-provider selector
// heuristics expressed as data, with a generic fallback for unknown domains.
package profile

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/mhollis/fibrescan"
)

// speedText matches any speed mention (Mb or Gb), used as a generic result
// marker: if the page talks about speeds, the offers are probably rendered.
const speedText = `\d+(\.\d+)?\s*(g(ig)?b|m(eg)?b)(ps|/s)?\b`

var genericInputs = []fibrescan.Selector{
	fibrescan.ByCSS("input[placeholder*='postcode' i]"),
	fibrescan.ByCSS("input[name*='postcode' i]"),
	fibrescan.ByCSS("input[id*='postcode' i]"),
	fibrescan.ByCSS("input[aria-label*='postcode' i]"),
	fibrescan.ByCSS("input[type='text']"),
}

var genericSubmits = []fibrescan.Selector{
	fibrescan.ByText("button", "check"),
	fibrescan.ByText("button", "find deals"),
	fibrescan.ByText("button", "see deals"),
	fibrescan.ByText("button", "check availability"),
	fibrescan.ByText("button", "search"),
	fibrescan.ByText("button", "go"),
}

var genericResults = []fibrescan.Selector{
	fibrescan.ByCSS("[data-component*='product' i]"),
	fibrescan.ByCSS("[class*='card' i]"),
	fibrescan.ByText("*", speedText),
	fibrescan.ByText("div", "see deals"),
	fibrescan.ByText("button", "see deals"),
}

var genericCookies = []fibrescan.Selector{
	fibrescan.ByText("button", "accept all"),
}

// Ensure Registry implements fibrescan.ProfileRegistry at compile time.
var _ fibrescan.ProfileRegistry = (*Registry)(nil)

// Registry resolves URLs to site profiles. It is immutable after
// construction and safe to share across concurrent sessions.
type Registry struct {
	profiles map[string]fibrescan.Profile
	generic  fibrescan.Profile
}

// NewRegistry creates a Registry with the built-in provider profiles.
func NewRegistry() *Registry {
	r := &Registry{
		profiles: make(map[string]fibrescan.Profile),
		generic: fibrescan.Profile{
			CookieSelectors:        genericCookies,
			PostcodeInputSelectors: genericInputs,
			SubmitSelectors:        genericSubmits,
			ResultSelectors:        genericResults,
		},
	}
	for _, p := range builtinProfiles() {
		r.profiles[p.Domain] = p
	}
	return r
}

// ProfileFor returns the profile for the URL's registrable domain, or the
// generic fallback for unknown domains. Profiles with gaps inherit the
// generic selector lists so that every returned profile can locate a
// postcode field, submit the form, and recognise a results page.
func (r *Registry) ProfileFor(rawURL string) fibrescan.Profile {
	p, ok := r.profiles[DomainKey(rawURL)]
	if !ok {
		return r.generic
	}
	if len(p.CookieSelectors) == 0 {
		p.CookieSelectors = r.generic.CookieSelectors
	}
	if len(p.PostcodeInputSelectors) == 0 {
		p.PostcodeInputSelectors = r.generic.PostcodeInputSelectors
	}
	if len(p.SubmitSelectors) == 0 {
		p.SubmitSelectors = r.generic.SubmitSelectors
	}
	if len(p.ResultSelectors) == 0 {
		p.ResultSelectors = r.generic.ResultSelectors
	}
	return p
}

// DomainKey derives the registrable domain for a URL using the public
// suffix list, so multi-label suffixes like .co.uk resolve correctly.
// Falls back to the last two DNS labels when the host is not listed.
func DomainKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if etld, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld
	}
	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], ".")
	}
	return host
}

func builtinProfiles() []fibrescan.Profile {
	return []fibrescan.Profile{
		{
			Domain:        "bt.com",
			FallbackPaths: []string{"/broadband/deals"},
			CookieSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "accept all"),
				fibrescan.ByCSS("[aria-label='Accept all']"),
			},
			PostcodeInputSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("input[placeholder*='postcode' i]"),
				fibrescan.ByCSS("input[name*='postcode' i]"),
				fibrescan.ByCSS("input[id*='postcode' i]"),
			},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "find deals"),
				fibrescan.ByText("button", "see deals"),
				fibrescan.ByText("button", "go"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[data-component*='product' i]"),
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("button", "see deals"),
			},
		},
		{
			Domain:        "virginmedia.com",
			FallbackPaths: []string{"/broadband", "/broadband/deals"},
			CookieSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "accept all"),
				fibrescan.ByText("button", "accept"),
			},
			PostcodeInputSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("input[placeholder*='postcode' i]"),
				fibrescan.ByCSS("[name*='postcode' i]"),
				fibrescan.ByCSS("[id*='postcode' i]"),
			},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check availability"),
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "go"),
				fibrescan.ByText("button", "see deals"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("button", "see deals"),
			},
		},
		{
			Domain:        "sky.com",
			FallbackPaths: []string{"/broadband", "/broadband/deals", "/broadband/buy"},
			CookieSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "accept all"),
				fibrescan.ByText("label", "accept all"),
			},
			PreCTA: &fibrescan.PreCTASpec{
				Selectors: []fibrescan.Selector{
					fibrescan.ByCSS("[data-test-id='ineligible-button']"),
					fibrescan.ByText("a", "see broadband deals"),
					fibrescan.ByText("button", "see broadband deals"),
					fibrescan.ByCSS("a[href*='/broadband/buy']"),
					fibrescan.ByText("a", "see deals"),
					fibrescan.ByText("button", "see deals"),
				},
				LandingPath:  "/broadband",
				PurchasePath: "/broadband/buy",
			},
			Recovery: &fibrescan.RecoverySpec{
				URLTokens: []string{"timeout", "timedout", "error"},
				Phrases: []string{
					"session timed out", "session timeout", "something went wrong",
					"sorry, there seems to be a problem", "please try again later",
					"intent error", "we can't process your request right now", "access denied",
				},
				DeepLink:    "https://www.sky.com/broadband/buy",
				MaxAttempts: 3,
			},
			PostcodeInputSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[data-test-id='postcode-lookup-field']"),
				fibrescan.ByCSS("input[placeholder*='postcode' i]"),
				fibrescan.ByCSS("[name*='postcode' i]"),
				fibrescan.ByCSS("[id*='postcode' i]"),
			},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[data-test-id='postcode-lookup-submit']"),
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "search"),
				fibrescan.ByText("button", "go"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[data-component*='product' i]"),
				fibrescan.ByCSS("[role='listbox'] [role='option']"),
				fibrescan.ByCSS("select option"),
				fibrescan.ByText("div", "are you moving"),
				fibrescan.ByText("div", "moving to this address"),
				fibrescan.ByText("div", "select your address"),
				fibrescan.ByText("div", "choose your address"),
				fibrescan.ByText("div", "confirm address"),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("*", speedText),
			},
		},
		{
			Domain:        "talktalk.co.uk",
			FallbackPaths: []string{"/", "/broadband"},
			CookieSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "accept all"),
				fibrescan.ByText("button", "i accept"),
			},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "go"),
				fibrescan.ByText("button", "see deals"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("button", "see deals"),
			},
		},
		{
			Domain:        "vodafone.co.uk",
			FallbackPaths: []string{"/broadband"},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "see deals"),
				fibrescan.ByText("button", "go"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("button", "see deals"),
			},
		},
		{
			Domain:        "ee.co.uk",
			FallbackPaths: []string{"/broadband"},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "go"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
			},
		},
		{
			Domain:        "plus.net",
			FallbackPaths: []string{"/broadband/"},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "go"),
				fibrescan.ByText("button", "see deals"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
				fibrescan.ByText("div", "see deals"),
				fibrescan.ByText("button", "see deals"),
			},
		},
		{
			Domain:        "nowtv.com",
			FallbackPaths: []string{"/broadband"},
			PostcodeInputSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("input[placeholder*='postcode' i]"),
				fibrescan.ByCSS("[name*='postcode' i]"),
				fibrescan.ByCSS("[id*='postcode' i]"),
			},
			SubmitSelectors: []fibrescan.Selector{
				fibrescan.ByText("button", "check"),
				fibrescan.ByText("button", "go"),
			},
			ResultSelectors: []fibrescan.Selector{
				fibrescan.ByCSS("[class*='card' i]"),
				fibrescan.ByText("*", speedText),
			},
		},
	}
}
