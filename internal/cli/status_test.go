package cli

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nipunasudha/monopoly-polymarket-agent/internal/config"
)

func TestFetchStatus(t *testing.T) {
	t.Run("decodes gateway response", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/status", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"hub":{"running":true,"sessions":2}}`))
		}))
		defer srv.Close()

		status, err := fetchStatus(gatewayConfig(t, srv.URL))
		require.NoError(t, err)
		hub, ok := status["hub"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, true, hub["running"])
	})

	t.Run("non-200 is an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := fetchStatus(gatewayConfig(t, srv.URL))
		assert.Error(t, err)
	})
}

func gatewayConfig(t *testing.T, rawURL string) *config.Config {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Gateway.Host = u.Hostname()
	cfg.Gateway.Port = port
	return cfg
}
