package maps_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-smartstick/internal/log"
	"github.com/teslashibe/go-smartstick/pkg/maps"
	"github.com/teslashibe/go-smartstick/pkg/route"
)

var here = route.Coordinate{Lat: 52.5200, Lon: 13.4050}

func TestNominatimSearch(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotUA = r.Header.Get("User-Agent")
		assert.Equal(t, "/search", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("viewbox"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"lat":"52.5163","lon":"13.3777","display_name":"Brandenburger Tor, Berlin","name":"Brandenburger Tor"},
			{"lat":"not-a-number","lon":"13.0","display_name":"broken"},
			{"lat":"52.5219","lon":"13.4132","display_name":"Alexanderplatz, Berlin"}
		]`)
	}))
	defer srv.Close()

	n := maps.NewNominatim(
		maps.WithBaseURL(srv.URL),
		maps.WithRateLimit(rate.Inf, 1),
		maps.WithLogger(log.Discard()),
	)

	got, err := n.Search(context.Background(), "brandenburg gate", here)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "brandenburg gate", gotQuery)
	assert.Contains(t, gotUA, "go-smartstick")
	assert.Equal(t, "Brandenburger Tor", got[0].Name)
	assert.Equal(t, "Alexanderplatz, Berlin", got[1].Name)
	assert.Equal(t, maps.ProviderNominatim, got[0].Source)
	assert.InDelta(t, 52.5163, got[0].Position.Lat, 1e-9)
}

func TestNominatimAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":"rate limited"}`)
	}))
	defer srv.Close()

	n := maps.NewNominatim(maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
	_, err := n.Search(context.Background(), "x", here)

	var apiErr *maps.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.IsRateLimited())
	assert.Equal(t, "rate limited", apiErr.Message)
}

func TestOverpassSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.FormValue("data")
		assert.Contains(t, query, `"name"~"corner bakery",i`)
		assert.Contains(t, query, "around:")
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"version": 0.6,
			"osm3s": {"timestamp_osm_base": "2024-05-01T10:00:00Z"},
			"elements": [
				{"type":"node","id":1,"lat":52.5210,"lon":13.4060,"tags":{"name":"Corner Bakery","shop":"bakery"}},
				{"type":"node","id":2,"lat":52.5211,"lon":13.4061}
			]
		}`)
	}))
	defer srv.Close()

	o := maps.NewOverpass(maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
	got, err := o.Search(context.Background(), "corner bakery", here)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Corner Bakery", got[0].Name)
	assert.Equal(t, maps.ProviderOverpass, got[0].Source)
}

func TestOverpassRejectsInvalidCenter(t *testing.T) {
	o := maps.NewOverpass(maps.WithBaseURL("http://127.0.0.1:1"))
	_, err := o.Search(context.Background(), "x", route.Coordinate{Lat: 200})
	assert.Error(t, err)
}

const orsBody = `{
	"type": "FeatureCollection",
	"features": [{
		"type": "Feature",
		"geometry": {"type": "LineString", "coordinates": [[13.4050,52.5200],[13.4055,52.5205],[13.4060,52.5210]]},
		"properties": {
			"summary": {"distance": 130.5, "duration": 94.0},
			"segments": [{
				"steps": [
					{"instruction": "Head north on Main Street", "distance": 70, "duration": 50, "way_points": [0, 1]},
					{"instruction": "Turn right onto Oak Avenue", "distance": 60, "duration": 44, "way_points": [1, 2]},
					{"instruction": "Arrive at Oak Avenue", "distance": 0, "duration": 0, "way_points": [2, 2]}
				]
			}]
		}
	}]
}`

func TestORSRoute(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/directions/foot-walking/geojson", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		io.WriteString(w, orsBody)
	}))
	defer srv.Close()

	o, err := maps.NewORS(maps.WithAPIKey("test-key"), maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
	require.NoError(t, err)

	dest := route.Coordinate{Lat: 52.5210, Lon: 13.4060}
	r, err := o.Route(context.Background(), here, dest)
	require.NoError(t, err)

	require.Len(t, r.Steps, 3)
	require.Len(t, r.Geometry, 3)
	assert.Equal(t, "Turn right onto Oak Avenue", r.Steps[1].Instruction)
	require.NotNil(t, r.Steps[1].WaypointIndex)
	assert.Equal(t, 1, *r.Steps[1].WaypointIndex)
	assert.Equal(t, route.Coordinate{Lat: 52.5205, Lon: 13.4055}, r.Geometry[1])
	assert.Equal(t, 130.5, r.DistanceMeters)

	coords := payload["coordinates"].([]any)
	first := coords[0].([]any)
	assert.Equal(t, 13.4050, first[0], "coordinates are sent lon first")
}

func TestORSErrors(t *testing.T) {
	t.Run("requires API key", func(t *testing.T) {
		_, err := maps.NewORS()
		assert.ErrorIs(t, err, maps.ErrNoAPIKey)
	})

	t.Run("empty feature collection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"type":"FeatureCollection","features":[]}`)
		}))
		defer srv.Close()

		o, err := maps.NewORS(maps.WithAPIKey("k"), maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
		require.NoError(t, err)
		_, err = o.Route(context.Background(), here, here)
		assert.ErrorIs(t, err, maps.ErrNoRoute)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"features": "nope"`)
		}))
		defer srv.Close()

		o, err := maps.NewORS(maps.WithAPIKey("k"), maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
		require.NoError(t, err)
		_, err = o.Route(context.Background(), here, here)
		assert.Error(t, err)
	})

	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `{"error":{"code":2001,"message":"Access denied"}}`)
		}))
		defer srv.Close()

		o, err := maps.NewORS(maps.WithAPIKey("k"), maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
		require.NoError(t, err)
		_, err = o.Route(context.Background(), here, here)

		var apiErr *maps.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.IsUnauthorized())
		assert.Equal(t, 2001, apiErr.Code)
		assert.Equal(t, "Access denied", apiErr.Message)
		assert.NotErrorIs(t, err, maps.ErrNoRoute)
	})

	noRoute := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"unroutable point", http.StatusNotFound, `{"error":{"code":2010,"message":"Could not find routable point within a radius of 350.0 meters"}}`, true},
		{"route not found", http.StatusBadRequest, `{"error":{"code":2009,"message":"Route could not be found"}}`, true},
		{"distance limit", http.StatusBadRequest, `{"error":{"code":2004,"message":"Request parameters exceed the server configuration limits"}}`, true},
		{"bad parameter", http.StatusBadRequest, `{"error":{"code":2003,"message":"Parameter 'profile' has incorrect value"}}`, false},
		{"rate limited", http.StatusTooManyRequests, `{"error":"Rate limit exceeded"}`, false},
		{"server error", http.StatusInternalServerError, `{"error":{"code":2099,"message":"Unknown internal error"}}`, false},
	}
	for _, tt := range noRoute {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			o, err := maps.NewORS(maps.WithAPIKey("k"), maps.WithBaseURL(srv.URL), maps.WithRateLimit(rate.Inf, 1))
			require.NoError(t, err)
			_, err = o.Route(context.Background(), here, here)
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.Is(err, maps.ErrNoRoute))

			var apiErr *maps.APIError
			assert.Equal(t, !tt.want, errors.As(err, &apiErr))
		})
	}
}

func TestGeocoderChain(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	failing := maps.NewMock()
	failing.SearchFunc = func(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
		return nil, boom
	}
	empty := maps.NewMock()
	found := maps.NewMock()
	found.SearchFunc = func(ctx context.Context, text string, near route.Coordinate) ([]maps.Candidate, error) {
		return []maps.Candidate{{Name: strings.ToUpper(text), Position: near}}, nil
	}

	t.Run("falls through to first hit", func(t *testing.T) {
		chain, err := maps.NewGeocoderChain(log.Discard(), failing, empty, found)
		require.NoError(t, err)

		got, err := chain.Search(ctx, "park", here)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "PARK", got[0].Name)
		assert.Equal(t, 1, empty.CallCount("Search"))
	})

	t.Run("empty answer reports no results", func(t *testing.T) {
		chain, err := maps.NewGeocoderChain(log.Discard(), failing, empty)
		require.NoError(t, err)

		got, err := chain.Search(ctx, "park", here)
		assert.ErrorIs(t, err, maps.ErrNoResults)
		assert.Empty(t, got)
	})

	t.Run("all failing", func(t *testing.T) {
		chain, err := maps.NewGeocoderChain(log.Discard(), failing)
		require.NoError(t, err)

		_, err = chain.Search(ctx, "park", here)
		var chainErr *maps.ChainError
		require.ErrorAs(t, err, &chainErr)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("requires geocoders", func(t *testing.T) {
		_, err := maps.NewGeocoderChain(nil)
		assert.ErrorIs(t, err, maps.ErrProviderUnavailable)
	})
}
