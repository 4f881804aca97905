package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"

	"github.com/mhollis/fibrescan"
	"github.com/mhollis/fibrescan/crawl"
	"github.com/mhollis/fibrescan/csv"
	"github.com/mhollis/fibrescan/goquery"
	fshttp "github.com/mhollis/fibrescan/http"
	"github.com/mhollis/fibrescan/profile"
	"github.com/mhollis/fibrescan/rod"
	fsslog "github.com/mhollis/fibrescan/slog"
)

// defaultTargets maps the built-in provider shortcuts to their availability
// checker entry points.
var defaultTargets = map[string]string{
	"bt":          "https://www.bt.com/broadband/deals",
	"virginmedia": "https://www.virginmedia.com/broadband",
	"sky":         "https://www.sky.com/broadband/buy",
	"talktalk":    "https://www.talktalk.co.uk/",
	"vodafone":    "https://www.vodafone.co.uk/broadband",
	"ee":          "https://ee.co.uk/broadband",
	"plusnet":     "https://www.plus.net/broadband/",
	"nowtv":       "https://www.nowtv.com/broadband",
}

func main() {
	ctx := context.Background()

	m := NewMain()

	if err := m.Run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Main represents the program.
type Main struct{}

// NewMain returns a new instance of Main with defaults.
func NewMain() *Main {
	return &Main{}
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Postcode string `arg:"" required:"" help:"UK postcode to check broadband availability for"`

	Providers []string          `short:"P" default:"bt,virginmedia,sky,talktalk,vodafone,ee,plusnet,nowtv" help:"Built-in providers to check"`
	URL       []string          `help:"Extra provider URLs to scrape alongside the built-in providers"`
	List      bool              `help:"List the built-in providers and exit"`

	AddressHint  string            `help:"Substring used to pick an address from the address picker"`
	AddressIndex int               `default:"1" help:"1-based address choice when no hint matches"`
	Moving       string            `enum:"auto,yes,no" default:"auto" help:"Answer to the 'are you moving' question"`
	ExtraField   map[string]string `help:"Additional wizard fields as label=value pairs"`
	MaxSteps     int               `default:"6" help:"Wizard step budget per attempt"`

	RespectRobots bool `default:"true" negatable:"" help:"Honor robots.txt before navigating"`

	Cache       string        `default:"offers_cache.csv" help:"Offer cache CSV path"`
	CacheMode   string        `enum:"auto,cache-only,refresh" default:"auto" help:"auto serves fresh cache, cache-only never scrapes, refresh always scrapes"`
	CacheMaxAge time.Duration `default:"24h" help:"Maximum cache row age before a provider is re-scraped"`

	Concurrency int           `short:"c" default:"4" help:"Concurrent browser sessions"`
	NavInterval time.Duration `default:"2s" help:"Minimum spacing between navigations to the same host"`

	Headed      bool          `help:"Run the browser with a visible window"`
	SlowMo      time.Duration `help:"Slow every browser action by this duration"`
	Devtools    bool          `help:"Open devtools for each page"`
	Screenshots bool          `help:"Capture a screenshot per session attempt"`
	Verbose     bool          `short:"v" help:"Debug-level logging"`
}

// Run executes the CLI with the given arguments.
func (m *Main) Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cli := &CLI{}
	parser, err := kong.New(cli,
		kong.Name("fibrescan"),
		kong.Description("Check UK broadband offers for a postcode across provider availability wizards"),
		kong.Writers(stdout, stderr),
		kong.Exit(func(int) {}),
	)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	if len(args) == 0 {
		_, _ = parser.Parse([]string{"--help"})
		return fmt.Errorf("no arguments provided")
	}
	if len(args) == 1 && (args[0] == "--help" || args[0] == "-h" || args[0] == "help") {
		_, _ = parser.Parse([]string{"--help"})
		return nil
	}

	_, err = parser.Parse(args)
	if err != nil {
		return err
	}

	if cli.List {
		renderProviders(stdout, defaultTargets)
		return nil
	}

	urls, err := resolveTargets(cli.Providers, cli.URL)
	if err != nil {
		return err
	}

	artifactDir, logger, closeLog, err := setupRunLog(cli.Verbose)
	if err != nil {
		return err
	}
	defer closeLog()
	fmt.Fprintf(stderr, "run artifacts: %s\n", artifactDir)

	req := fibrescan.ScrapeRequest{
		Postcode:      strings.ToUpper(strings.TrimSpace(cli.Postcode)),
		AddressHint:   cli.AddressHint,
		AddressIndex:  cli.AddressIndex,
		Moving:        parseMoving(cli.Moving),
		ExtraFields:   cli.ExtraField,
		MaxSteps:      cli.MaxSteps,
		RespectRobots: cli.RespectRobots,
		Debug: fibrescan.DebugOptions{
			Headed:      cli.Headed,
			SlowMotion:  cli.SlowMo,
			Devtools:    cli.Devtools,
			Screenshots: cli.Screenshots,
			ArtifactDir: artifactDir,
		},
	}
	if err := req.Validate(); err != nil {
		return err
	}

	store := csv.NewStore()
	existing, err := store.LoadExisting(ctx, cli.Cache)
	if err != nil {
		return err
	}

	providers := make([]string, 0, len(urls))
	urlByProvider := make(map[string]string, len(urls))
	for _, u := range urls {
		p := fibrescan.ProviderOf(u)
		providers = append(providers, p)
		urlByProvider[p] = u
	}

	cached, missing, events := splitForMode(store, existing, req.Postcode, providers, cli.CacheMode, cli.CacheMaxAge, time.Now())

	rows := cached
	if len(missing) > 0 {
		scraped, scrapeEvents, err := m.scrape(ctx, cli, req, missing, urlByProvider, logger)
		if err != nil {
			return err
		}
		events = append(events, scrapeEvents...)
		if len(scraped) > 0 {
			if err := store.Append(ctx, cli.Cache, scraped, true); err != nil {
				return err
			}
		}
		rows = append(rows, scraped...)
	}

	renderOffers(stdout, rows)
	renderStatus(stdout, events)
	return nil
}

// splitForMode applies the cache mode to the loaded rows. refresh scrapes
// everything; cache-only serves the cache but still falls back to a full
// scrape when the cache holds nothing for the postcode, recording the
// fallback as an event; auto splits by row freshness.
func splitForMode(store fibrescan.OfferStore, existing []fibrescan.OfferRow, postcode string, providers []string, mode string, maxAge time.Duration, now time.Time) ([]fibrescan.OfferRow, []string, []fibrescan.StatusEvent) {
	switch mode {
	case "refresh":
		return nil, providers, nil
	case "cache-only":
		cached, missing, events := store.SplitCachedAndMissing(existing, postcode, providers, maxAge, now, true)
		if len(missing) > 0 {
			events = append(events, fibrescan.StatusEvent{
				Provider: "all",
				Step:     "cache_empty_fallback_scrape",
			})
		}
		return cached, missing, events
	default:
		return store.SplitCachedAndMissing(existing, postcode, providers, maxAge, now, false)
	}
}

// scrape runs live sessions for the providers the cache could not serve.
func (m *Main) scrape(ctx context.Context, cli *CLI, req fibrescan.ScrapeRequest, missing []string, urlByProvider map[string]string, logger *slog.Logger) ([]fibrescan.OfferRow, []fibrescan.StatusEvent, error) {
	manager, err := rod.NewManager(req.Debug, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser (is Chrome or Chromium installed?): %w", err)
	}
	defer manager.Close()

	orchestrator := &crawl.Orchestrator{
		Factory:     manager,
		Robots:      fsslog.NewLoggingRobotsGate(fshttp.NewRobotsGate(), logger),
		Limiter:     crawl.NewRateLimiter(cli.NavInterval),
		Extractor:   fsslog.NewLoggingExtractor(goquery.NewExtractor(), logger),
		Registry:    profile.NewRegistry(),
		Logger:      logger,
		Concurrency: cli.Concurrency,
	}

	urls := make([]string, 0, len(missing))
	for _, p := range missing {
		if u, ok := urlByProvider[p]; ok {
			urls = append(urls, u)
		}
	}
	return orchestrator.ScrapeMany(ctx, req, urls)
}

// resolveTargets expands provider shortcuts and merges extra URLs, dropping
// duplicates while preserving order.
func resolveTargets(providers, extra []string) ([]string, error) {
	var urls []string
	seen := make(map[string]bool)
	add := func(u string) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	for _, name := range providers {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		u, ok := defaultTargets[key]
		if !ok {
			return nil, fibrescan.Errorf(fibrescan.EINVALID, "unknown provider %q (use --list to see the built-in providers)", name)
		}
		add(u)
	}
	for _, u := range extra {
		if fibrescan.ProviderOf(u) == "" {
			return nil, fibrescan.Errorf(fibrescan.EINVALID, "invalid provider URL %q", u)
		}
		add(u)
	}
	if len(urls) == 0 {
		return nil, fibrescan.Errorf(fibrescan.EINVALID, "no providers selected")
	}
	return urls, nil
}

// setupRunLog creates the run-scoped artifact directory and a structured
// logger writing into it.
func setupRunLog(verbose bool) (string, *slog.Logger, func(), error) {
	dir := filepath.Join("logs", fmt.Sprintf("%s-%s",
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8],
	))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "run.log"))
	if err != nil {
		return "", nil, nil, fmt.Errorf("failed to create run log: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	return dir, logger, func() { f.Close() }, nil
}

func parseMoving(s string) fibrescan.Tristate {
	switch s {
	case "yes":
		return fibrescan.Yes
	case "no":
		return fibrescan.No
	}
	return fibrescan.Unset
}
