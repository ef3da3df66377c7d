package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetReturnsBodyAndStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "pulse-test-agent", r.UserAgent())
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>listing</html>"))
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	res, err := tr.Get(context.Background(), srv.URL, "pulse-test-agent")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, []byte("<html>listing</html>"), res.Body)
	require.Positive(t, res.Duration)
}

func TestGetNon2xxIsNotAnError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	res, err := tr.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestGetServerErrorStatusPassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := New(Config{Timeout: 5 * time.Second})
	res, err := tr.Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
}

func TestGetNetworkFailureIsAnError(t *testing.T) {
	t.Parallel()

	// Reserve a port and close it so nothing is listening.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	tr := New(Config{Timeout: 2 * time.Second})
	_, err := tr.Get(context.Background(), url, "")
	require.Error(t, err)
}
