package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-smartstick/pkg/route"
)

const nominatimURL = "https://nominatim.openstreetmap.org"

// Nominatim implements Geocoder using the OpenStreetMap Nominatim API.
type Nominatim struct {
	config  *Config
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
	baseURL string
}

var _ Geocoder = (*Nominatim)(nil)

// NewNominatim creates a Nominatim geocoder. No API key is required.
func NewNominatim(opts ...Option) *Nominatim {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = nominatimURL
	}

	return &Nominatim{
		config:  cfg,
		client:  cfg.HTTPClient,
		limiter: cfg.limiter(),
		logger:  cfg.Logger.With("component", "maps.nominatim"),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// Search looks up text, preferring results inside a box around near.
func (n *Nominatim) Search(ctx context.Context, text string, near route.Coordinate) ([]Candidate, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, WrapError(ProviderNominatim, err)
	}

	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "jsonv2")
	q.Set("limit", strconv.Itoa(n.config.MaxResults))
	if n.config.Language != "" {
		q.Set("accept-language", n.config.Language)
	}
	if near.Valid() && n.config.SearchRadiusMeters > 0 {
		d := n.config.SearchRadiusMeters / route.MetersPerDegree
		q.Set("viewbox", fmt.Sprintf("%f,%f,%f,%f", near.Lon-d, near.Lat+d, near.Lon+d, near.Lat-d))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, WrapError(ProviderNominatim, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, WrapError(ProviderNominatim, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(ProviderNominatim, resp)
	}

	var places []nominatimPlace
	if err := json.NewDecoder(resp.Body).Decode(&places); err != nil {
		return nil, WrapError(ProviderNominatim, fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	candidates := make([]Candidate, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(p.Lat, 64)
		lon, errLon := strconv.ParseFloat(p.Lon, 64)
		pos := route.Coordinate{Lat: lat, Lon: lon}
		if errLat != nil || errLon != nil || !pos.Valid() {
			n.logger.Debug("skipping place with bad coordinates", "name", p.DisplayName)
			continue
		}
		name := p.Name
		if name == "" {
			name = p.DisplayName
		}
		candidates = append(candidates, Candidate{Name: name, Position: pos, Source: ProviderNominatim})
	}

	n.logger.Debug("search complete", "query", text, "results", len(candidates))
	return candidates, nil
}

func parseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var payload struct {
		Error json.RawMessage `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	var code int
	if json.Unmarshal(body, &payload) == nil && len(payload.Error) > 0 {
		var s string
		var obj struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		switch {
		case json.Unmarshal(payload.Error, &s) == nil:
			msg = s
		case json.Unmarshal(payload.Error, &obj) == nil:
			code = obj.Code
			if obj.Message != "" {
				msg = obj.Message
			}
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Code: code, Message: msg, Provider: provider}
}
