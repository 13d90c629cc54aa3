// Package gcp builds client options for the Google Cloud REST APIs used by
// the speech providers.
package gcp

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// CloudPlatformScope is the OAuth2 scope shared by Text-to-Speech and
// Speech-to-Text.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials selects how a client authenticates.
//
// An explicit HTTPClient is used as-is and must carry its own auth. Otherwise
// an API key wins, then TokenSource, then Application Default Credentials.
type Credentials struct {
	APIKey      string
	TokenSource oauth2.TokenSource
	HTTPClient  *http.Client

	// Endpoint overrides the service base URL.
	Endpoint string
}

// ClientOptions returns the options for a google.golang.org/api service.
func ClientOptions(ctx context.Context, creds Credentials) ([]option.ClientOption, error) {
	var opts []option.ClientOption

	switch {
	case creds.HTTPClient != nil:
		opts = append(opts, option.WithHTTPClient(creds.HTTPClient))
	case creds.APIKey != "":
		opts = append(opts, option.WithAPIKey(creds.APIKey))
	default:
		ts := creds.TokenSource
		if ts == nil {
			var err error
			ts, err = google.DefaultTokenSource(ctx, CloudPlatformScope)
			if err != nil {
				return nil, fmt.Errorf("gcp: default credentials: %w", err)
			}
		}
		opts = append(opts, option.WithTokenSource(oauth2.ReuseTokenSource(nil, ts)))
	}

	if creds.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(creds.Endpoint))
	}
	return opts, nil
}
