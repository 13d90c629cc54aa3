package gateway

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/route"
	"github.com/teslashibe/go-smartstick/pkg/telemetry"
)

// tracedGeocoder wraps a geocoder with a span per search.
type tracedGeocoder struct {
	next     maps.Geocoder
	tel      *telemetry.Telemetry
	deviceID string
}

func (g tracedGeocoder) Search(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
	ctx, end := g.tel.StartSpan(ctx, "maps.search", g.deviceID, attribute.String("query", text))
	res, err := g.next.Search(ctx, text, near)
	end(err)
	return res, err
}

// tracedDirections wraps a directions provider with a span per request.
type tracedDirections struct {
	next     maps.Directions
	tel      *telemetry.Telemetry
	deviceID string
}

func (d tracedDirections) Route(ctx context.Context, origin, destination route.Coordinate) (*maps.Route, error) {
	ctx, end := d.tel.StartSpan(ctx, "maps.route", d.deviceID)
	r, err := d.next.Route(ctx, origin, destination)
	end(err)
	return r, err
}
