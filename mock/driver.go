package mock

import (
	"context"
	"time"

	"github.com/mhollis/fibrescan"
)

var _ fibrescan.Driver = (*Driver)(nil)

// Driver is a mock implementation of fibrescan.Driver. Unset function
// fields are safe no-ops so tests only wire the calls they care about.
type Driver struct {
	NavigateFn             func(ctx context.Context, url string) error
	ReloadFn               func(ctx context.Context) error
	CurrentURLFn           func() string
	AcceptCookiesFn        func(ctx context.Context, selectors []fibrescan.Selector) bool
	ClickFirstVisibleFn    func(ctx context.Context, selectors []fibrescan.Selector) bool
	SubmitPostcodeFn       func(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool
	ResolveAddressPickerFn func(ctx context.Context, hint string, index int) bool
	AnswerMovingQuestionFn func(ctx context.Context, moving fibrescan.Tristate) bool
	FillAdditionalFieldsFn func(ctx context.Context, fields map[string]string) bool
	ClickContinueLikeFn    func(ctx context.Context) bool
	HasAnyResultFn         func(ctx context.Context, selectors []fibrescan.Selector) bool
	WaitForAnyResultFn     func(ctx context.Context, selectors []fibrescan.Selector, timeout time.Duration)
	ContainsTextFn         func(ctx context.Context, pattern string) bool
	ClearCookiesFn         func(ctx context.Context) error
	HTMLFn                 func(ctx context.Context) string
	ScreenshotFn           func(ctx context.Context, path string) error
	CloseFn                func() error
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if d.NavigateFn == nil {
		return nil
	}
	return d.NavigateFn(ctx, url)
}

func (d *Driver) Reload(ctx context.Context) error {
	if d.ReloadFn == nil {
		return nil
	}
	return d.ReloadFn(ctx)
}

func (d *Driver) CurrentURL() string {
	if d.CurrentURLFn == nil {
		return ""
	}
	return d.CurrentURLFn()
}

func (d *Driver) AcceptCookies(ctx context.Context, selectors []fibrescan.Selector) bool {
	if d.AcceptCookiesFn == nil {
		return false
	}
	return d.AcceptCookiesFn(ctx, selectors)
}

func (d *Driver) ClickFirstVisible(ctx context.Context, selectors []fibrescan.Selector) bool {
	if d.ClickFirstVisibleFn == nil {
		return false
	}
	return d.ClickFirstVisibleFn(ctx, selectors)
}

func (d *Driver) SubmitPostcode(ctx context.Context, postcode string, inputs, submits []fibrescan.Selector) bool {
	if d.SubmitPostcodeFn == nil {
		return false
	}
	return d.SubmitPostcodeFn(ctx, postcode, inputs, submits)
}

func (d *Driver) ResolveAddressPicker(ctx context.Context, hint string, index int) bool {
	if d.ResolveAddressPickerFn == nil {
		return false
	}
	return d.ResolveAddressPickerFn(ctx, hint, index)
}

func (d *Driver) AnswerMovingQuestion(ctx context.Context, moving fibrescan.Tristate) bool {
	if d.AnswerMovingQuestionFn == nil {
		return false
	}
	return d.AnswerMovingQuestionFn(ctx, moving)
}

func (d *Driver) FillAdditionalFields(ctx context.Context, fields map[string]string) bool {
	if d.FillAdditionalFieldsFn == nil {
		return false
	}
	return d.FillAdditionalFieldsFn(ctx, fields)
}

func (d *Driver) ClickContinueLike(ctx context.Context) bool {
	if d.ClickContinueLikeFn == nil {
		return false
	}
	return d.ClickContinueLikeFn(ctx)
}

func (d *Driver) HasAnyResult(ctx context.Context, selectors []fibrescan.Selector) bool {
	if d.HasAnyResultFn == nil {
		return false
	}
	return d.HasAnyResultFn(ctx, selectors)
}

func (d *Driver) WaitForAnyResult(ctx context.Context, selectors []fibrescan.Selector, timeout time.Duration) {
	if d.WaitForAnyResultFn != nil {
		d.WaitForAnyResultFn(ctx, selectors, timeout)
	}
}

func (d *Driver) ContainsText(ctx context.Context, pattern string) bool {
	if d.ContainsTextFn == nil {
		return false
	}
	return d.ContainsTextFn(ctx, pattern)
}

func (d *Driver) ClearCookies(ctx context.Context) error {
	if d.ClearCookiesFn == nil {
		return nil
	}
	return d.ClearCookiesFn(ctx)
}

func (d *Driver) HTML(ctx context.Context) string {
	if d.HTMLFn == nil {
		return ""
	}
	return d.HTMLFn(ctx)
}

func (d *Driver) Screenshot(ctx context.Context, path string) error {
	if d.ScreenshotFn == nil {
		return nil
	}
	return d.ScreenshotFn(ctx, path)
}

func (d *Driver) Close() error {
	if d.CloseFn == nil {
		return nil
	}
	return d.CloseFn()
}

var _ fibrescan.DriverFactory = (*DriverFactory)(nil)

// DriverFactory is a mock implementation of fibrescan.DriverFactory.
type DriverFactory struct {
	NewDriverFn func(ctx context.Context) (fibrescan.Driver, error)
}

func (f *DriverFactory) NewDriver(ctx context.Context) (fibrescan.Driver, error) {
	return f.NewDriverFn(ctx)
}
