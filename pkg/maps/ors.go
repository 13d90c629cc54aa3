package maps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

const orsURL = "https://api.openrouteservice.org"

// ORS implements Directions using the OpenRouteService v2 API.
type ORS struct {
	config  *Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	baseURL string
}

var _ Directions = (*ORS)(nil)

// NewORS creates an OpenRouteService directions client.
func NewORS(opts ...Option) (*ORS, error) {
	cfg := DefaultConfig()
	// The free tier allows 40 requests per minute.
	cfg.RateLimit = rate.Every(1500 * time.Millisecond)
	cfg.Burst = 5
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = orsURL
	}

	return &ORS{
		config:  cfg,
		client:  cfg.HTTPClient,
		limiter: cfg.limiter(),
		logger:  cfg.Logger.With("component", "maps.ors"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

type orsRequest struct {
	Coordinates  [][2]float64 `json:"coordinates"`
	Instructions bool         `json:"instructions"`
	Language     string       `json:"language,omitempty"`
	Units        string       `json:"units"`
}

type orsResponse struct {
	Features []struct {
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Properties struct {
			Segments []struct {
				Steps []struct {
					Instruction string  `json:"instruction"`
					Distance    float64 `json:"distance"`
					Duration    float64 `json:"duration"`
					WayPoints   []int   `json:"way_points"`
				} `json:"steps"`
			} `json:"segments"`
			Summary struct {
				Distance float64 `json:"distance"`
				Duration float64 `json:"duration"`
			} `json:"summary"`
		} `json:"properties"`
	} `json:"features"`
}

// Route requests a walking route and returns its steps with their first
// waypoint reference and the full geometry.
func (o *ORS) Route(ctx context.Context, origin, destination route.Coordinate) (*Route, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, WrapError(ProviderORS, err)
	}

	payload := orsRequest{
		Coordinates: [][2]float64{
			{origin.Lon, origin.Lat},
			{destination.Lon, destination.Lat},
		},
		Instructions: true,
		Language:     o.config.Language,
		Units:        "m",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(ProviderORS, fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := fmt.Sprintf("%s/v2/directions/%s/geojson", o.baseURL, o.config.Profile)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(ProviderORS, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", o.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, WrapError(ProviderORS, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := parseAPIError(ProviderORS, resp)
		if apiErr, ok := err.(*APIError); ok && orsNoRoute(apiErr) {
			return nil, WrapError(ProviderORS, fmt.Errorf("%w: %s", ErrNoRoute, apiErr.Message))
		}
		return nil, err
	}

	var parsed orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, WrapError(ProviderORS, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	r, err := convertORS(parsed)
	if err != nil {
		return nil, WrapError(ProviderORS, err)
	}

	o.logger.Debug("route computed",
		"steps", len(r.Steps),
		"points", len(r.Geometry),
		"distance_m", r.DistanceMeters,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return r, nil
}

// ORS error codes for requests that are valid but cannot be routed.
const (
	orsRouteTooLong     = 2004
	orsRouteNotFound    = 2009
	orsPointNotRoutable = 2010
)

// orsNoRoute reports whether an error response means there is no walkable
// route between the points, as opposed to an auth, quota or server failure.
func orsNoRoute(e *APIError) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return true
	case http.StatusBadRequest:
		switch e.Code {
		case orsRouteTooLong, orsRouteNotFound, orsPointNotRoutable:
			return true
		}
	}
	return false
}

func convertORS(resp orsResponse) (*Route, error) {
	if len(resp.Features) == 0 {
		return nil, ErrNoRoute
	}
	f := resp.Features[0]

	r := &Route{
		DistanceMeters:  f.Properties.Summary.Distance,
		DurationSeconds: f.Properties.Summary.Duration,
		Geometry:        make([]route.Coordinate, 0, len(f.Geometry.Coordinates)),
	}
	for _, c := range f.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		// GeoJSON order is [lon, lat].
		r.Geometry = append(r.Geometry, route.Coordinate{Lat: c[1], Lon: c[0]})
	}

	for _, seg := range f.Properties.Segments {
		for _, st := range seg.Steps {
			raw := route.RawStep{Instruction: st.Instruction}
			if len(st.WayPoints) > 0 {
				wp := st.WayPoints[0]
				raw.WaypointIndex = &wp
			}
			r.Steps = append(r.Steps, raw)
		}
	}

	if len(r.Steps) == 0 && len(r.Geometry) == 0 {
		return nil, ErrNoRoute
	}
	return r, nil
}
