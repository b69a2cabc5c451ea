package fetch

import (
	"context"
	"danawa-tracker/internal/telemetry"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchHeaders(t *testing.T) {
	var gotUA, gotReferer, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotQuery = r.URL.RawQuery
		w.Write([]byte("<html>ok</html>"))
	}))
	defer server.Close()

	rec := &telemetry.Recorder{}
	f := NewFetcher(Config{}, rec)

	body, err := f.Fetch(context.Background(), server.URL+"/dsearch.php?query=ssd&sort=priceASC")
	require.NoError(t, err)
	require.Equal(t, "<html>ok</html>", string(body))
	require.Equal(t, UserAgent, gotUA)
	require.Equal(t, Referer, gotReferer)
	require.Equal(t, "query=ssd&sort=priceASC", gotQuery)

	require.NotEmpty(t, rec.Reports("debug"))
}

func TestFetchStatusNoRetry(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := NewFetcher(Config{}, &telemetry.Recorder{}).Fetch(context.Background(), server.URL)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindStatus, ferr.Kind)
	require.Equal(t, http.StatusServiceUnavailable, ferr.StatusCode)
	require.Equal(t, 1, hits)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewFetcher(Config{}, &telemetry.Recorder{}).Fetch(ctx, server.URL)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindTimeout, ferr.Kind)
}

func TestFetchTLS(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("unreachable"))
	}))
	defer server.Close()

	_, err := NewFetcher(Config{}, &telemetry.Recorder{}).Fetch(context.Background(), server.URL)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindTLS, ferr.Kind)
}

func TestFetchNetwork(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewFetcher(Config{}, &telemetry.Recorder{}).Fetch(context.Background(), url)
	var ferr *Error
	require.True(t, errors.As(err, &ferr))
	require.Equal(t, KindNetwork, ferr.Kind)
}

func TestConfigTimeout(t *testing.T) {
	require.Equal(t, DefaultTimeout, Config{}.timeout())
	require.Equal(t, MinTimeout, Config{Timeout: time.Millisecond}.timeout())
	require.Equal(t, MaxTimeout, Config{Timeout: time.Hour}.timeout())
	require.Equal(t, 5*time.Second, Config{Timeout: 5 * time.Second}.timeout())
}
