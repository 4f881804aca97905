package crawl

import (
	"context"
	"time"

	"github.com/mhollis/fibrescan"
)

// stepPause lets the page react between wizard actions. Provider wizards
// animate transitions and fetch the next step over XHR; acting again
// immediately clicks into a half-rendered page.
const stepPause = 1200 * time.Millisecond

// driveWizard advances the availability wizard until results appear or the
// step budget runs out.
//
// Each iteration first checks whether results are already present, then
// tries every handler in fixed order: address picker, moving question, extra
// fields. Each handler that acts follows up with a continue-like click to
// advance past its own step; when none of them act, a bare continue click is
// tried instead. An iteration where nothing acts still waits out the pause
// and loops again, because SPA wizards often render the next step late. A
// zero budget performs no actions at all.
func driveWizard(ctx context.Context, d fibrescan.Driver, req fibrescan.ScrapeRequest, results []fibrescan.Selector, counters *fibrescan.Counters, pause time.Duration) {
	for i := 0; i < req.MaxSteps; i++ {
		if ctx.Err() != nil {
			return
		}
		if d.HasAnyResult(ctx, results) {
			return
		}

		acted := false
		if d.ResolveAddressPicker(ctx, req.AddressHint, addressIndex(req)) {
			acted = true
			d.ClickContinueLike(ctx)
		}
		if d.AnswerMovingQuestion(ctx, req.Moving) {
			acted = true
			d.ClickContinueLike(ctx)
		}
		if d.FillAdditionalFields(ctx, req.ExtraFields) {
			acted = true
			d.ClickContinueLike(ctx)
		}
		if !acted && d.ClickContinueLike(ctx) {
			acted = true
		}
		if acted {
			counters.Steps++
		}
		sleep(ctx, pause)
	}
}

// addressIndex normalises the request's 1-based address choice.
func addressIndex(req fibrescan.ScrapeRequest) int {
	if req.AddressIndex < 1 {
		return 1
	}
	return req.AddressIndex
}

// sleep waits unless the context ends first.
func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
