// Package http provides HTTP-based collaborators: the robots.txt permission
// gate consulted before every browser navigation.
package http

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/mhollis/fibrescan"
)

// DefaultRobotsTimeout bounds a single robots.txt fetch.
const DefaultRobotsTimeout = 6 * time.Second

// DefaultUserAgent is the agent name robots groups are matched against.
const DefaultUserAgent = "Mozilla/5.0"

// Ensure RobotsGate implements fibrescan.RobotsGate at compile time.
var _ fibrescan.RobotsGate = (*RobotsGate)(nil)

// RobotsGate fetches and caches robots.txt rules per host and answers
// allow/deny for full URLs. Results are cached for the gate's lifetime and
// shared read-only across sessions. Hosts whose robots.txt cannot be
// fetched, or returns a non-success status, are treated as fully allowed.
type RobotsGate struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // nil entry = fetch failed, fail open
}

// Option configures a RobotsGate.
type Option func(*RobotsGate)

// WithHTTPClient overrides the HTTP client used to fetch robots.txt.
func WithHTTPClient(c *http.Client) Option {
	return func(g *RobotsGate) {
		g.client = c
	}
}

// WithUserAgent sets the agent name robots groups are matched against.
func WithUserAgent(ua string) Option {
	return func(g *RobotsGate) {
		g.userAgent = ua
	}
}

// NewRobotsGate creates a new RobotsGate.
func NewRobotsGate(opts ...Option) *RobotsGate {
	g := &RobotsGate{
		userAgent: DefaultUserAgent,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: DefaultRobotsTimeout}
	}
	return g
}

// Allowed reports whether the URL may be fetched. URLs without a host are
// allowed: there is nothing to consult.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}

	data := g.rules(ctx, u)
	if data == nil {
		return true
	}

	group := data.FindGroup(g.userAgent)
	if group == nil {
		group = data.FindGroup("*")
		if group == nil {
			return true
		}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	// Rules match against the full request target, query string included.
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (g *RobotsGate) rules(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	host := strings.ToLower(u.Host)

	g.mu.Lock()
	data, ok := g.cache[host]
	g.mu.Unlock()
	if ok {
		return data
	}

	data = g.fetch(ctx, u)

	g.mu.Lock()
	g.cache[host] = data
	g.mu.Unlock()
	return data
}

// fetch retrieves and parses robots.txt for a host. Any failure returns nil,
// which callers treat as fully allowed.
func (g *RobotsGate) fetch(ctx context.Context, u *url.URL) *robotstxt.RobotsData {
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil
	}

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil
	}
	return data
}
