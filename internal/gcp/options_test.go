package gcp

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestClientOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("http client", func(t *testing.T) {
		opts, err := ClientOptions(ctx, Credentials{HTTPClient: http.DefaultClient, Endpoint: "http://localhost/"})
		require.NoError(t, err)
		assert.Len(t, opts, 2)
	})

	t.Run("api key", func(t *testing.T) {
		opts, err := ClientOptions(ctx, Credentials{APIKey: "k"})
		require.NoError(t, err)
		assert.Len(t, opts, 1)
	})

	t.Run("token source", func(t *testing.T) {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"})
		opts, err := ClientOptions(ctx, Credentials{TokenSource: ts})
		require.NoError(t, err)
		assert.Len(t, opts, 1)
	})
}
