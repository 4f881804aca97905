package slog

import (
	"log/slog"
	"time"

	"github.com/mhollis/fibrescan"
)

// Ensure LoggingExtractor implements fibrescan.OfferExtractor.
var _ fibrescan.OfferExtractor = (*LoggingExtractor)(nil)

// LoggingExtractor wraps an OfferExtractor with extraction logging.
type LoggingExtractor struct {
	next   fibrescan.OfferExtractor
	logger *slog.Logger
}

// NewLoggingExtractor creates a new LoggingExtractor.
func NewLoggingExtractor(next fibrescan.OfferExtractor, logger *slog.Logger) *LoggingExtractor {
	return &LoggingExtractor{next: next, logger: logger}
}

// Extract delegates to the wrapped extractor and logs the outcome.
func (e *LoggingExtractor) Extract(html string) ([]fibrescan.Offer, error) {
	begin := time.Now()
	offers, err := e.next.Extract(html)
	if err != nil {
		e.logger.Error("offer extraction failed",
			"error", err,
			"duration", time.Since(begin),
		)
		return nil, err
	}
	e.logger.Info("offer extraction",
		"offers", len(offers),
		"html_bytes", len(html),
		"duration", time.Since(begin),
	)
	return offers, nil
}
