// Package rod implements browser automation on top of go-rod: a Manager
// that owns one headless Chromium per batch and hands out stealth-hardened
// pages, and a Driver that performs wizard actions against one page.
package rod

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/mhollis/fibrescan"
)

const (
	userAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage = "en-GB"
	viewportWidth  = 1366
	viewportHeight = 900
)

// localeJS pins navigator.languages to a UK profile on every new document,
// matching the Accept-Language header so fingerprint checks agree.
const localeJS = `Object.defineProperty(navigator, 'languages', {get: () => ['en-GB', 'en']});`

// Ensure Manager implements fibrescan.DriverFactory at compile time.
var _ fibrescan.DriverFactory = (*Manager)(nil)

// Manager owns a single browser process and creates one page per scrape
// session. All pages share the browser's cookie jar, which is what lets a
// recovery cookie-clear on one session affect its retries.
type Manager struct {
	browser *rod.Browser
	lnchr   *launcher.Launcher
	logger  *slog.Logger
	debug   fibrescan.DebugOptions
	closed  atomic.Bool
}

// NewManager launches a browser configured by the debug options. The
// launcher flags disable Chromium's background throttling, which otherwise
// stalls timers on pages that lose focus during a concurrent batch.
func NewManager(debug fibrescan.DebugOptions, logger *slog.Logger) (*Manager, error) {
	lnchr := launcher.New().
		Set("disable-background-timer-throttling").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-renderer-backgrounding").
		Set("disable-dev-shm-usage").
		Set("disable-hang-monitor").
		Leakless(true).
		Headless(!debug.Headed).
		Devtools(debug.Devtools)

	u, err := lnchr.Launch()
	if err != nil {
		return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to launch browser: %v", err)
	}

	browser := rod.New().ControlURL(u)
	if debug.SlowMotion > 0 {
		browser = browser.SlowMotion(debug.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		lnchr.Kill()
		return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to connect to browser: %v", err)
	}

	return &Manager{
		browser: browser,
		lnchr:   lnchr,
		logger:  logger,
		debug:   debug,
	}, nil
}

// NewDriver opens a fresh page hardened against automation detection: the
// stealth script and locale override run on every new document, and the user
// agent and viewport mimic a desktop UK visitor.
func (m *Manager) NewDriver(ctx context.Context) (fibrescan.Driver, error) {
	page, err := m.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to open page: %v", err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		m.logger.Warn("stealth injection failed", "error", err)
	}
	if _, err := page.EvalOnNewDocument(localeJS); err != nil {
		m.logger.Warn("locale injection failed", "error", err)
	}

	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      userAgent,
		AcceptLanguage: acceptLanguage,
	})
	if err != nil {
		page.Close()
		return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to set user agent: %v", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  viewportWidth,
		Height: viewportHeight,
	})
	if err != nil {
		page.Close()
		return nil, fibrescan.Errorf(fibrescan.EUNAVAILABLE, "failed to set viewport: %v", err)
	}

	stop := m.forwardConsole(page)

	return &Driver{
		page:        page,
		logger:      m.logger,
		stopConsole: stop,
	}, nil
}

// forwardConsole streams the page's console output into the run log at debug
// level. Provider sites log SPA errors to the console that never surface in
// the DOM, and those lines are often the only clue why a wizard stalled.
func (m *Manager) forwardConsole(page *rod.Page) func() {
	wait := page.EachEvent(func(e *proto.RuntimeConsoleAPICalled) {
		defer func() {
			// ObjectsToJSON panics if the page is mid-navigation.
			recover()
		}()
		m.logger.Debug("console",
			"type", string(e.Type),
			"text", page.MustObjectsToJSON(e.Args).Join(" "),
		)
	})
	go wait()
	return func() {}
}

// Close shuts the browser down. Idempotent.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := m.browser.Close()
	m.lnchr.Kill()
	return err
}

// settleDelay is the fallback wait when no result selector resolves.
const settleDelay = 4 * time.Second
