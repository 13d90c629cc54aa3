package maps

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/serjvanilla/go-overpass"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

const overpassURL = "https://overpass-api.de/api/interpreter"

// Overpass implements Geocoder by searching named OpenStreetMap nodes and
// ways around the walker. It finds small local places, such as shops or
// bus stops, that Nominatim ranks poorly.
type Overpass struct {
	config  *Config
	client  overpass.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ Geocoder = (*Overpass)(nil)

// NewOverpass creates an Overpass geocoder.
func NewOverpass(opts ...Option) *Overpass {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = overpassURL
	}

	return &Overpass{
		config:  cfg,
		client:  overpass.NewWithSettings(endpoint, 2, cfg.HTTPClient),
		limiter: cfg.limiter(),
		logger:  cfg.Logger.With("component", "maps.overpass"),
	}
}

// Search finds elements whose name matches text, case-insensitively, within
// the configured radius of near.
func (o *Overpass) Search(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error) {
	if !near.Valid() {
		return nil, WrapError(ProviderOverpass, fmt.Errorf("invalid search center %+v", near))
	}
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, WrapError(ProviderOverpass, err)
	}

	query := o.buildQuery(text, near)

	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.client.Query(query)
		done <- outcome{res, err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		return nil, WrapError(ProviderOverpass, ctx.Err())
	case out = <-done:
	}
	if out.err != nil {
		return nil, WrapError(ProviderOverpass, out.err)
	}

	candidates := convertElements(out.result)
	if limit := o.config.MaxResults; limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	o.logger.Debug("search complete", "query", text, "results", len(candidates))
	return candidates, nil
}

func (o *Overpass) buildQuery(text string, near route.Coordinate) string {
	pattern := regexp.QuoteMeta(strings.TrimSpace(text))
	pattern = strings.ReplaceAll(pattern, `\`, `\\`)
	pattern = strings.ReplaceAll(pattern, `"`, `\"`)
	radius := o.config.SearchRadiusMeters
	return fmt.Sprintf(`[out:json][timeout:10];
(
	node["name"~"%[1]s",i](around:%[2]f,%[3]f,%[4]f);
	way["name"~"%[1]s",i](around:%[2]f,%[3]f,%[4]f);
);
out body;
>;
out skel qt;`, pattern, radius, near.Lat, near.Lon)
}

func convertElements(result overpass.Result) []Candidate {
	var candidates []Candidate

	for _, node := range result.Nodes {
		name := node.Tags["name"]
		pos := route.Coordinate{Lat: node.Lat, Lon: node.Lon}
		if name == "" || !pos.Valid() {
			continue
		}
		candidates = append(candidates, Candidate{Name: name, Position: pos, Source: ProviderOverpass})
	}

	// Ways are placed at the mean of their nodes.
	for _, way := range result.Ways {
		name := way.Tags["name"]
		if name == "" || len(way.Nodes) == 0 {
			continue
		}
		var lat, lon float64
		count := 0
		for _, n := range way.Nodes {
			if n == nil {
				continue
			}
			lat += n.Lat
			lon += n.Lon
			count++
		}
		if count == 0 {
			continue
		}
		pos := route.Coordinate{Lat: lat / float64(count), Lon: lon / float64(count)}
		if !pos.Valid() {
			continue
		}
		candidates = append(candidates, Candidate{Name: name, Position: pos, Source: ProviderOverpass})
	}

	return candidates
}
