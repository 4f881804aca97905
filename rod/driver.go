package rod

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"

	"github.com/mhollis/fibrescan"
)

// consentPhrases are common accept-all button texts tried inside consent
// iframes on top of whatever the site profile specifies.
var consentPhrases = []string{
	"accept all cookies",
	"accept all",
	"allow all",
	"i accept",
	"agree",
}

// addressOptionRe decides whether an option or list item plausibly names an
// address rather than a placeholder like "Please select".
var addressOptionRe = regexp.MustCompile(`(?i)\d+|road|street|flat|house|avenue|close|drive|lane|\brd\b|\bst\b`)

// requiredFieldRe matches the labels of fields a wizard refuses to proceed
// without, filled with a throwaway value when left empty.
var requiredFieldRe = regexp.MustCompile(`(?i)(house|flat|unit|apartment|building|number|street|address line)`)

// continuePhrases are generic wizard progression controls, most specific
// first.
var continuePhrases = []string{
	`\bcontinue\b`,
	`\bnext\b`,
	`\bconfirm\b`,
	`\bproceed\b`,
	`\bsee deals\b`,
	`\bview deals\b`,
	`\bgo\b`,
}

// movingScopeRe identifies the page region that hosts the "are you moving"
// question, so the answer click cannot land on an unrelated yes/no dialog.
const movingScopeRe = `are you moving|moving (to this address|home|house)|live (here|at this address)|currently live`

// Moving-question answer phrases, most specific first. The bare yes/no
// variants are only ever matched inside the question's own region.
var (
	movingYesPhrases = []string{
		`yes,?\s*i\s*('|’)?\s*m moving`,
		`i am moving`,
		`moving (home|house|to this address)`,
	}
	movingYesBare = `\byes\b`

	movingNoPhrases = []string{
		`no,?\s*i (already )?live (here|at this address)`,
		`i (already )?live here`,
		`i currently live`,
		`not moving`,
	}
	movingNoBare = `\bno\b`
)

const actionPause = 400 * time.Millisecond

// Ensure Driver implements fibrescan.Driver at compile time.
var _ fibrescan.Driver = (*Driver)(nil)

// Driver executes wizard actions against a single page. Every lookup is a
// no-wait probe: selectors that match nothing simply report false, so the
// session loop can try strategies in order without paying a timeout for each
// miss.
type Driver struct {
	page        *rod.Page
	logger      *slog.Logger
	stopConsole func()
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return fibrescan.Errorf(fibrescan.EUNAVAILABLE, "navigation to %s failed: %v", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		d.logger.Debug("load wait incomplete", "url", url, "error", err)
	}
	return nil
}

func (d *Driver) Reload(ctx context.Context) error {
	p := d.page.Context(ctx)
	if err := p.Reload(); err != nil {
		return fibrescan.Errorf(fibrescan.EUNAVAILABLE, "reload failed: %v", err)
	}
	if err := p.WaitLoad(); err != nil {
		d.logger.Debug("load wait incomplete after reload", "error", err)
	}
	return nil
}

func (d *Driver) CurrentURL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// AcceptCookies tries the profile's selectors on the main document first,
// then sweeps every iframe with the selectors plus the built-in consent
// phrases. Consent managers (OneTrust, Sourcepoint) usually render in a
// frame the main-document selectors never reach.
func (d *Driver) AcceptCookies(ctx context.Context, selectors []fibrescan.Selector) bool {
	p := d.page.Context(ctx)
	if clickFirst(p, selectors, d.logger) {
		pause(ctx, actionPause)
		return true
	}

	frameSelectors := selectors
	for _, phrase := range consentPhrases {
		frameSelectors = append(frameSelectors, fibrescan.ByText("button", phrase))
	}

	iframes, err := p.Elements("iframe")
	if err != nil {
		return false
	}
	for _, el := range iframes {
		frame, err := el.Frame()
		if err != nil {
			continue
		}
		if clickFirst(frame.Context(ctx), frameSelectors, d.logger) {
			pause(ctx, actionPause)
			return true
		}
	}
	return false
}

func (d *Driver) ClickFirstVisible(ctx context.Context, selectors []fibrescan.Selector) bool {
	if clickFirst(d.page.Context(ctx), selectors, d.logger) {
		pause(ctx, actionPause)
		return true
	}
	return false
}

// SubmitPostcode fills the first matching visible input and submits, by
// clicking a submit control when one exists or pressing Enter in the field
// otherwise.
func (d *Driver) SubmitPostcode(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool {
	p := d.page.Context(ctx)

	var field *rod.Element
	for _, sel := range inputs {
		el := findVisible(p, sel)
		if el != nil {
			field = el
			break
		}
	}
	if field == nil {
		return false
	}

	if err := field.SelectAllText(); err != nil {
		d.logger.Debug("select-all failed", "error", err)
	}
	if err := field.Input(postcode); err != nil {
		d.logger.Debug("postcode input failed", "error", err)
		return false
	}
	pause(ctx, actionPause)

	if clickFirst(p, submits, d.logger) {
		pause(ctx, actionPause)
		return true
	}
	if err := field.Type(input.Enter); err != nil {
		d.logger.Debug("enter key failed", "error", err)
		return false
	}
	pause(ctx, actionPause)
	return true
}

// ResolveAddressPicker handles both native <select> dropdowns and custom
// listbox widgets. A hint substring wins over the positional index; the
// index is 1-based over the options that look like addresses and is clamped
// to the list.
func (d *Driver) ResolveAddressPicker(ctx context.Context, hint string, index int) bool {
	p := d.page.Context(ctx)

	if d.resolveNativeSelect(p, hint, index) {
		pause(ctx, actionPause)
		return true
	}

	items, err := p.Elements("[role='listbox'] [role='option']")
	if err != nil || len(items) == 0 {
		items = d.addressListItems(p)
	}
	if len(items) == 0 {
		return false
	}
	if el := pickByHintOrIndex(items, hint, index); el != nil {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err == nil {
			pause(ctx, actionPause)
			return true
		}
	}
	return false
}

func (d *Driver) resolveNativeSelect(p *rod.Page, hint string, index int) bool {
	selects, err := p.Elements("select")
	if err != nil {
		return false
	}
	for _, sel := range selects {
		options, err := sel.Elements("option")
		if err != nil || len(options) < 2 {
			continue
		}

		var candidates []string
		for _, opt := range options {
			text, err := opt.Text()
			if err != nil {
				continue
			}
			text = strings.TrimSpace(text)
			if addressOptionRe.MatchString(text) {
				candidates = append(candidates, text)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		choice := chooseAddress(candidates, hint, index)
		err = sel.Select([]string{regexp.QuoteMeta(choice)}, true, rod.SelectorTypeRegex)
		if err != nil {
			d.logger.Debug("address select failed", "choice", choice, "error", err)
			continue
		}
		return true
	}
	return false
}

// addressListItems falls back to plain list markup, filtered to items whose
// text looks like an address.
func (d *Driver) addressListItems(p *rod.Page) rod.Elements {
	items, err := p.Elements("ul li, ol li")
	if err != nil {
		return nil
	}
	var out rod.Elements
	for _, el := range items {
		text, err := el.Text()
		if err != nil {
			continue
		}
		if addressOptionRe.MatchString(text) {
			out = append(out, el)
		}
	}
	return out
}

// AnswerMovingQuestion clicks the yes/no control matching the requested
// answer. The question's own page region is searched first, where even a
// bare yes/no is unambiguous; page-wide lookup then only matches the
// specific phrasings. Labels are tried first, then ARIA radios, then plain
// buttons; finally raw radio inputs are matched through their ancestor
// label text.
func (d *Driver) AnswerMovingQuestion(ctx context.Context, moving fibrescan.Tristate) bool {
	value, ok := moving.Bool()
	if !ok {
		return false
	}
	phrases, bare := movingNoPhrases, movingNoBare
	if value {
		phrases, bare = movingYesPhrases, movingYesBare
	}

	p := d.page.Context(ctx)
	if has, scope, err := p.HasR("fieldset, form, section, div", "/"+movingScopeRe+"/i"); err == nil && has {
		if clickWithin(scope, append(append([]string{}, phrases...), bare)) {
			pause(ctx, actionPause)
			return true
		}
	}

	var selectors []fibrescan.Selector
	for _, phrase := range phrases {
		selectors = append(selectors,
			fibrescan.ByText("label", phrase),
			fibrescan.ByText("[role='radio']", phrase),
			fibrescan.ByText("button", phrase),
		)
	}
	if clickFirst(p, selectors, d.logger) {
		pause(ctx, actionPause)
		return true
	}

	radios, err := p.Elements("input[type='radio']")
	if err != nil {
		return false
	}
	for _, radio := range radios {
		label, err := radio.ElementX("ancestor::label")
		if err != nil {
			continue
		}
		text, err := label.Text()
		if err != nil {
			continue
		}
		for _, phrase := range phrases {
			re, err := regexp.Compile("(?i)" + phrase)
			if err != nil || !re.MatchString(text) {
				continue
			}
			if err := label.Click(proto.InputMouseButtonLeft, 1); err == nil {
				pause(ctx, actionPause)
				return true
			}
		}
	}
	return false
}

// clickWithin clicks the first visible answer control inside the scope
// element whose text matches one of the patterns.
func clickWithin(scope *rod.Element, patterns []string) bool {
	for _, pat := range patterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			continue
		}
		for _, css := range []string{"label", "[role='radio']", "button"} {
			els, err := scope.Elements(css)
			if err != nil {
				continue
			}
			for _, el := range els {
				text, err := el.Text()
				if err != nil || !re.MatchString(text) {
					continue
				}
				if visible, err := el.Visible(); err != nil || !visible {
					continue
				}
				if el.Click(proto.InputMouseButtonLeft, 1) == nil {
					return true
				}
			}
		}
	}
	return false
}

// FillAdditionalFields applies the caller's label->value pairs, then fills
// "1" into any remaining visible empty text input that looks like a required
// address field.
func (d *Driver) FillAdditionalFields(ctx context.Context, fields map[string]string) bool {
	p := d.page.Context(ctx)
	changed := false

	for label, value := range fields {
		if d.fillLabelled(p, label, value) {
			changed = true
		}
	}

	inputs, err := p.Elements("input[type='text'], input:not([type])")
	if err != nil {
		return changed
	}
	for _, el := range inputs {
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		val, err := el.Property("value")
		if err != nil || val.Str() != "" {
			continue
		}
		if !requiredFieldRe.MatchString(fieldContext(el)) {
			continue
		}
		if err := el.Input("1"); err == nil {
			changed = true
		}
	}
	if changed {
		pause(ctx, actionPause)
	}
	return changed
}

// fieldContext gathers the text a user would read against an input: its own
// descriptive attributes plus the nearest preceding and enclosing labels.
func fieldContext(el *rod.Element) string {
	var parts []string
	for _, attr := range []string{"placeholder", "name", "aria-label", "id"} {
		if v, err := el.Attribute(attr); err == nil && v != nil {
			parts = append(parts, *v)
		}
	}
	for _, xpath := range []string{"ancestor::label[1]", "preceding::label[1]"} {
		lbl, err := el.ElementX(xpath)
		if err != nil {
			continue
		}
		if text, err := lbl.Text(); err == nil {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

func (d *Driver) fillLabelled(p *rod.Page, label, value string) bool {
	lower := strings.ToLower(label)
	css := []string{
		"input[placeholder*='" + lower + "' i]",
		"input[name*='" + lower + "' i]",
		"input[aria-label*='" + lower + "' i]",
		"input[id*='" + lower + "' i]",
	}
	for _, sel := range css {
		el := findVisible(p, fibrescan.ByCSS(sel))
		if el == nil {
			continue
		}
		if err := el.SelectAllText(); err == nil {
			if err := el.Input(value); err == nil {
				return true
			}
		}
	}

	has, lbl, err := p.HasR("label", "/"+regexp.QuoteMeta(label)+"/i")
	if err != nil || !has {
		return false
	}
	target, err := lbl.Element("input, textarea")
	if err != nil {
		if forAttr, err := lbl.Attribute("for"); err == nil && forAttr != nil && *forAttr != "" {
			if ok, el, err := p.Has("#" + *forAttr); err == nil && ok {
				target = el
			}
		}
	}
	if target == nil {
		return false
	}
	if err := target.SelectAllText(); err != nil {
		return false
	}
	return target.Input(value) == nil
}

func (d *Driver) ClickContinueLike(ctx context.Context) bool {
	var selectors []fibrescan.Selector
	for _, phrase := range continuePhrases {
		selectors = append(selectors,
			fibrescan.ByText("button", phrase),
			fibrescan.ByText("a", phrase),
		)
	}
	if clickFirst(d.page.Context(ctx), selectors, d.logger) {
		pause(ctx, actionPause)
		return true
	}
	return false
}

func (d *Driver) HasAnyResult(ctx context.Context, selectors []fibrescan.Selector) bool {
	p := d.page.Context(ctx)
	for _, sel := range selectors {
		if has(p, sel) {
			return true
		}
	}
	return false
}

// WaitForAnyResult races all result selectors against the timeout. When none
// resolve it waits a fixed settle delay instead, which covers pages that
// render offers without any recognisable marker.
func (d *Driver) WaitForAnyResult(ctx context.Context, selectors []fibrescan.Selector, timeout time.Duration) {
	if len(selectors) == 0 {
		pause(ctx, settleDelay)
		return
	}
	p := d.page.Context(ctx).Timeout(timeout)
	race := p.Race()
	for _, sel := range selectors {
		if sel.Text == "" {
			race = race.Element(sel.CSS)
		} else {
			race = race.ElementR(sel.CSS, "/"+sel.Text+"/i")
		}
	}
	if _, err := race.Do(); err != nil {
		pause(ctx, settleDelay)
	}
}

// ContainsText matches the pattern against the page's main content regions.
func (d *Driver) ContainsText(ctx context.Context, pattern string) bool {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false
	}
	p := d.page.Context(ctx)
	for _, scope := range []string{"main", "[role='main']", "body"} {
		ok, el, err := p.Has(scope)
		if err != nil || !ok {
			continue
		}
		text, err := el.Text()
		if err != nil {
			continue
		}
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func (d *Driver) ClearCookies(ctx context.Context) error {
	err := proto.NetworkClearBrowserCookies{}.Call(d.page.Context(ctx))
	if err != nil {
		return fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to clear cookies: %v", err)
	}
	return nil
}

func (d *Driver) HTML(ctx context.Context) string {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		d.logger.Debug("html capture failed", "error", err)
		return "<html></html>"
	}
	return html
}

func (d *Driver) Screenshot(ctx context.Context, path string) error {
	data, err := d.page.Context(ctx).Screenshot(true, nil)
	if err != nil {
		return fibrescan.Errorf(fibrescan.EUNAVAILABLE, "screenshot failed: %v", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (d *Driver) Close() error {
	d.stopConsole()
	return d.page.Close()
}

// has probes for a selector without waiting.
func has(p *rod.Page, sel fibrescan.Selector) bool {
	var ok bool
	var err error
	if sel.Text == "" {
		ok, _, err = p.Has(sel.CSS)
	} else {
		ok, _, err = p.HasR(sel.CSS, "/"+sel.Text+"/i")
	}
	return err == nil && ok
}

// findVisible returns the first visible element matching the selector, or
// nil.
func findVisible(p *rod.Page, sel fibrescan.Selector) *rod.Element {
	var ok bool
	var el *rod.Element
	var err error
	if sel.Text == "" {
		ok, el, err = p.Has(sel.CSS)
	} else {
		ok, el, err = p.HasR(sel.CSS, "/"+sel.Text+"/i")
	}
	if err != nil || !ok {
		return nil
	}
	if visible, err := el.Visible(); err != nil || !visible {
		return nil
	}
	return el
}

// clickFirst clicks the first visible match from the ordered selector list.
func clickFirst(p *rod.Page, selectors []fibrescan.Selector, logger *slog.Logger) bool {
	for _, sel := range selectors {
		el := findVisible(p, sel)
		if el == nil {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			logger.Debug("click failed", "css", sel.CSS, "text", sel.Text, "error", err)
			continue
		}
		return true
	}
	return false
}

// pickByHintOrIndex chooses an element by hint substring first, then by
// 1-based index clamped to the list.
func pickByHintOrIndex(items rod.Elements, hint string, index int) *rod.Element {
	if hint != "" {
		lower := strings.ToLower(hint)
		for _, el := range items {
			text, err := el.Text()
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(text), lower) {
				return el
			}
		}
	}
	if index < 1 {
		index = 1
	}
	if index > len(items) {
		index = len(items)
	}
	return items[index-1]
}

// chooseAddress is pickByHintOrIndex over plain option texts.
func chooseAddress(candidates []string, hint string, index int) string {
	if hint != "" {
		lower := strings.ToLower(hint)
		for _, c := range candidates {
			if strings.Contains(strings.ToLower(c), lower) {
				return c
			}
		}
	}
	if index < 1 {
		index = 1
	}
	if index > len(candidates) {
		index = len(candidates)
	}
	return candidates[index-1]
}

// pause sleeps unless the context ends first.
func pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
