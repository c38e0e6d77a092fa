package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourcekit/internal/domain"
	"sourcekit/internal/infra/logger"
)

func get(t *testing.T, c *Client, url string) (*Result, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	require.NoError(t, err)
	return c.Do(req)
}

func TestClientReadsBodyAndSetsUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Echo", r.UserAgent())
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{UserAgent: "sourcekit-test"}, logger.Discard())
	res, err := get(t, c, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, res.StatusCode)
	assert.Equal(t, "hello", string(res.Body))
	assert.Equal(t, "sourcekit-test", res.Header.Get("X-Echo"))
}

func TestClientBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxBodyBytes: 10}, logger.Discard())
	_, err := get(t, c, srv.URL)
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestClientBreakerOpensPerHost(t *testing.T) {
	// A closed listener address: every dial fails.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer alive.Close()

	c := New(&http.Client{Timeout: time.Second}, Config{MaxFailures: 2, Timeout: time.Minute}, logger.Discard())
	for i := 0; i < 2; i++ {
		_, err := get(t, c, deadURL)
		assert.ErrorIs(t, err, domain.ErrTransport)
	}
	host := strings.TrimPrefix(deadURL, "http://")
	assert.Equal(t, gobreaker.StateOpen, c.State(host))

	_, err := get(t, c, deadURL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit open")

	// Other hosts are unaffected.
	res, err := get(t, c, alive.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestClientHTTPErrorsDoNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.Client(), Config{MaxFailures: 1}, logger.Discard())
	for i := 0; i < 3; i++ {
		res, err := get(t, c, srv.URL)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, res.StatusCode)
	}
}
