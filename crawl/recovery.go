package crawl

import (
	"context"
	"regexp"
	"strings"

	"github.com/mhollis/fibrescan"
)

// genericErrorPattern catches broken-session pages that the profile's own
// phrase list misses. Kept deliberately narrow: matching an ordinary page
// as broken costs a pointless recovery cycle.
const genericErrorPattern = `(something went wrong|please try again|access denied|session (timed out|timeout|expired))`

// sessionBroken reports whether the page looks like a dead or errored
// session: the URL carries one of the profile's error tokens, or the main
// content matches an error phrase.
func sessionBroken(ctx context.Context, d fibrescan.Driver, spec *fibrescan.RecoverySpec) bool {
	if spec == nil {
		return false
	}

	current := strings.ToLower(d.CurrentURL())
	for _, token := range spec.URLTokens {
		if token != "" && strings.Contains(current, strings.ToLower(token)) {
			return true
		}
	}

	for _, phrase := range spec.Phrases {
		if phrase != "" && d.ContainsText(ctx, regexpQuotePhrase(phrase)) {
			return true
		}
	}
	return d.ContainsText(ctx, genericErrorPattern)
}

// regexpQuotePhrase escapes a literal phrase for use as a pattern, keeping
// spaces flexible so phrasing differences in whitespace still match.
func regexpQuotePhrase(phrase string) string {
	parts := strings.Fields(phrase)
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return strings.Join(parts, `\s+`)
}
