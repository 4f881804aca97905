package mock

import (
	"github.com/mhollis/fibrescan"
)

var _ fibrescan.OfferExtractor = (*OfferExtractor)(nil)

// OfferExtractor is a mock implementation of fibrescan.OfferExtractor.
type OfferExtractor struct {
	ExtractFn func(html string) ([]fibrescan.Offer, error)
}

func (e *OfferExtractor) Extract(html string) ([]fibrescan.Offer, error) {
	return e.ExtractFn(html)
}

var _ fibrescan.ProfileRegistry = (*ProfileRegistry)(nil)

// ProfileRegistry is a mock implementation of fibrescan.ProfileRegistry.
type ProfileRegistry struct {
	ProfileForFn func(rawURL string) fibrescan.Profile
}

func (r *ProfileRegistry) ProfileFor(rawURL string) fibrescan.Profile {
	return r.ProfileForFn(rawURL)
}
