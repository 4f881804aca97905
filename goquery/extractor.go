// Package goquery provides the HTML offer extractor. It selects DOM nodes
// that look like product cards and parses their flattened text into
// normalized offer records.
package goquery

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/mhollis/fibrescan"
)

// Speed, pricing and plan-name patterns. Immutable, process-wide, safe to
// share across concurrent sessions.
var (
	speedGbRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:g(?:ig)?a?(?:b(?:it)?(?:/s|ps)?)?|gigabit(?:/s|ps)?)\b`)
	speedMbRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*m(?:eg)?b(?:it)?(?:/s|ps)?\b`)

	priceRe = regexp.MustCompile(`(?i)£\s*([0-9]+(?:\.[0-9]{2})?)\s*(?:/(?:m|month)|per\s*month|a\s*month|pm)?`)
	termRe  = regexp.MustCompile(`(?i)(\d{2})\s*month`)

	// Cards phrase setup fees both ways round: "upfront fee: £9.99" and
	// "£9.99 upfront".
	upfrontRe = regexp.MustCompile(`(?i)(?:(?:upfront|activation|set[-\s]*up|setup)(?:\s+(?:fee|cost|charge))?[^£0-9]{0,20}£\s*([0-9]+(?:\.[0-9]{2})?)|£\s*([0-9]+(?:\.[0-9]{2})?)\s*(?:upfront|activation|set[-\s]*up|setup))`)

	planHintsRe = regexp.MustCompile(`(?i)(Gigafast|Gigabit|Gig1|Full Fibre|Fibre|Essential|Advanced|Pro|Halo|Complete|Unlimited|M125|M250|Superfast|Ultrafast|G\.?fast|FTTP|FTTC|Fast|Faster|Fastest)`)
)

// cardMarkers are attribute/class substrings that suggest a product card.
var cardMarkers = []string{"product", "card", "tile"}

const (
	planNameMaxLen = 80
	sampleMaxLen   = 240
)

// Ensure Extractor implements fibrescan.OfferExtractor at compile time.
var _ fibrescan.OfferExtractor = (*Extractor)(nil)

// Extractor parses offer cards out of rendered page HTML. It holds no
// mutable state: extracting the same HTML twice yields identical results.
type Extractor struct{}

// NewExtractor creates a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the de-duplicated offers found in the document.
//
// A node qualifies as an offer only if its flattened text carries a currency
// symbol, a speed unit token, a parseable speed and a parseable monthly
// price. De-duplication happens twice: first on the full
// (speed, price, upfront, term, name) tuple to suppress exact repeats, then
// on (speed, price) alone to collapse near-duplicate cards that describe the
// same commercial offer with cosmetic text differences. First occurrence
// wins in both passes.
func (e *Extractor) Extract(rawHTML string) ([]fibrescan.Offer, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fibrescan.Errorf(fibrescan.EINVALID, "failed to parse HTML: %v", err)
	}

	var offers []fibrescan.Offer
	seen := make(map[string]bool)

	candidateNodes(doc).Each(func(_ int, sel *goquery.Selection) {
		text := flattenText(sel)
		if text == "" || !strings.Contains(text, "£") {
			return
		}
		lower := strings.ToLower(text)
		if !strings.Contains(lower, "mb") && !strings.Contains(lower, "gb") {
			return
		}

		speed, speedStart, ok := parseSpeedMbps(text)
		if !ok {
			return
		}

		price := priceRe.FindStringSubmatch(text)
		if price == nil {
			return
		}
		monthly, err := strconv.ParseFloat(price[1], 64)
		if err != nil {
			return
		}

		var upfront *float64
		if m := upfrontRe.FindStringSubmatch(text); m != nil {
			raw := m[1]
			if raw == "" {
				raw = m[2]
			}
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				upfront = &v
			}
		}

		var term *int
		if m := termRe.FindStringSubmatch(text); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				term = &v
			}
		}

		name := planName(text, speedStart)

		key := dedupeKey(speed, monthly, upfront, term, name)
		if seen[key] {
			return
		}
		seen[key] = true

		offers = append(offers, fibrescan.Offer{
			PlanName:        name,
			SpeedMbps:       speed,
			MonthlyPriceGBP: monthly,
			UpfrontFeeGBP:   upfront,
			ContractMonths:  term,
			CardTextSample:  truncate(text, sampleMaxLen),
		})
	})

	// Collapse again by commercial identity only, keeping first-seen.
	uniq := make(map[string]bool, len(offers))
	out := offers[:0]
	for _, o := range offers {
		k := fmt.Sprintf("%d|%.2f", o.SpeedMbps, o.MonthlyPriceGBP)
		if uniq[k] {
			continue
		}
		uniq[k] = true
		out = append(out, o)
	}
	return out, nil
}

// candidateNodes returns the nodes that might describe one offer each:
// generic containers plus anything whose class or data-component attribute
// mentions a product-card marker.
func candidateNodes(doc *goquery.Document) *goquery.Selection {
	marked := doc.Find("[class], [data-component]").FilterFunction(func(_ int, sel *goquery.Selection) bool {
		class, _ := sel.Attr("class")
		component, _ := sel.Attr("data-component")
		attrs := strings.ToLower(class + " " + component)
		for _, marker := range cardMarkers {
			if strings.Contains(attrs, marker) {
				return true
			}
		}
		return false
	})
	return marked.AddSelection(doc.Find("section, article, li"))
}

// speedCandidate is one speed mention: its normalized value and where in the
// text it starts.
type speedCandidate struct {
	mbps  float64
	start int
}

// parseSpeedMbps finds the card's headline speed. Both unit patterns
// contribute candidates; the highest normalized value wins, ties broken by
// leftmost position. Headline speed is usually stated first and in the
// larger unit, so smaller incidental mentions (add-on speeds, upload rates)
// lose out.
func parseSpeedMbps(text string) (mbps int, start int, ok bool) {
	var candidates []speedCandidate
	for _, m := range speedGbRe.FindAllStringSubmatchIndex(text, -1) {
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, speedCandidate{mbps: v * 1000, start: m[0]})
	}
	for _, m := range speedMbRe.FindAllStringSubmatchIndex(text, -1) {
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		candidates = append(candidates, speedCandidate{mbps: v, start: m[0]})
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].mbps != candidates[j].mbps {
			return candidates[i].mbps > candidates[j].mbps
		}
		return candidates[i].start < candidates[j].start
	})
	best := candidates[0]
	return int(math.Round(best.mbps)), best.start, true
}

// planName derives a best-effort plan name: a window around a known
// plan-name keyword if one appears, otherwise the six words immediately
// preceding the speed mention.
func planName(text string, speedStart int) string {
	if loc := planHintsRe.FindStringIndex(text); loc != nil {
		start := max(0, loc[0]-25)
		end := min(len(text), loc[1]+50)
		name := strings.Join(strings.Fields(text[start:end]), " ")
		if r := []rune(name); len(r) > planNameMaxLen {
			name = string(r[:planNameMaxLen])
		}
		return name
	}
	pre := strings.Fields(strings.TrimSpace(text[:speedStart]))
	if len(pre) == 0 {
		return ""
	}
	if len(pre) > 6 {
		pre = pre[len(pre)-6:]
	}
	return strings.Join(pre, " ")
}

func dedupeKey(speed int, price float64, upfront *float64, term *int, name string) string {
	up := "-"
	if upfront != nil {
		up = strconv.FormatFloat(*upfront, 'f', 2, 64)
	}
	tm := "-"
	if term != nil {
		tm = strconv.Itoa(*term)
	}
	return fmt.Sprintf("%d|%.2f|%s|%s|%s", speed, price, up, tm, name)
}

// flattenText renders a node's text content with single spaces between text
// runs, so values split across child elements still parse as one phrase.
func flattenText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		appendText(&b, n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func appendText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(b, c)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
