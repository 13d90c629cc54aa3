// Package maps provides geocoding and walking directions backed by public
// map services: Nominatim and Overpass for place search, OpenRouteService
// for routes.
package maps

import (
	"context"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

// Candidate is one geocoding result.
type Candidate struct {
	Name     string           `json:"name"`
	Position route.Coordinate `json:"position"`
	// Source names the provider that found it.
	Source string `json:"source"`
}

// Route is a raw walking route as the directions provider returned it.
type Route struct {
	Steps    []route.RawStep    `json:"steps"`
	Geometry []route.Coordinate `json:"geometry"`

	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
}

// Geocoder resolves free text to places near a position.
type Geocoder interface {
	Search(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error)
}

// Directions computes a walking route between two points.
type Directions interface {
	Route(ctx context.Context, origin, destination route.Coordinate) (*Route, error)
}

// Provider names.
const (
	ProviderNominatim = "nominatim"
	ProviderOverpass  = "overpass"
	ProviderORS       = "openrouteservice"
)
