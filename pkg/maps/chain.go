package maps

import (
	"context"
	"log/slog"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

// GeocoderChain implements Geocoder by trying geocoders in order.
// The first geocoder returning at least one candidate wins.
type GeocoderChain struct {
	geocoders []Geocoder
	logger    *slog.Logger
}

var _ Geocoder = (*GeocoderChain)(nil)

// NewGeocoderChain creates a chain. At least one geocoder is required.
func NewGeocoderChain(logger *slog.Logger, geocoders ...Geocoder) (*GeocoderChain, error) {
	if len(geocoders) == 0 {
		return nil, ErrProviderUnavailable
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeocoderChain{
		geocoders: geocoders,
		logger:    logger.With("component", "maps.chain"),
	}, nil
}

// Search tries each geocoder until one finds something. When none do, it
// returns ErrNoResults if at least one geocoder answered cleanly, and a
// ChainError if every geocoder failed.
func (c *GeocoderChain) Search(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error) {
	var errs []error

	for i, g := range c.geocoders {
		candidates, err := g.Search(ctx, text, near)
		if err == nil && len(candidates) > 0 {
			if i > 0 {
				c.logger.Info("fallback geocoder succeeded", "geocoder_index", i, "results", len(candidates))
			}
			return candidates, nil
		}

		if err != nil {
			errs = append(errs, err)
			c.logger.Warn("geocoder failed, trying next", "geocoder_index", i, "error", err)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if len(errs) == len(c.geocoders) {
		return nil, &ChainError{Errors: errs}
	}
	return nil, ErrNoResults
}
