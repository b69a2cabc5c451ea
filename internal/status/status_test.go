package status

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/config"
	"danawa-tracker/internal/device"
	"danawa-tracker/internal/extract"
	"danawa-tracker/internal/fetch"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFetcher struct{}

func (fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if strings.Contains(url, "broken") {
		return nil, &fetch.Error{Kind: fetch.KindStatus, URL: url, StatusCode: 500, Err: errors.New("500")}
	}
	return []byte(`<em class="click_log_product_standard_price_">5,000원</em>`), nil
}

func newTestServer(t *testing.T) (*httptest.Server, *device.Device) {
	d := device.New(device.Options{Name: "Test", Manual: true}, device.Dependencies{
		Fetcher:   fakeFetcher{},
		Extractor: extract.NewExtractor(),
		Time:      chrono.NewFakeTime(time.Date(2024, 1, 1, 0, 0, 0, 0, chrono.Seoul())),
		Tel:       &telemetry.Recorder{},
	})
	require.NoError(t, d.Setup(context.Background(), []config.Keyword{
		{Word: "ssd", SortType: "priceASC"},
		{Word: "broken", SortType: "priceASC"},
	}))

	server := httptest.NewServer(NewServer(d).Router())
	t.Cleanup(func() {
		server.Close()
		d.Close(context.Background())
	})
	return server, d
}

func decode[T any](t testing.TB, res *http.Response) T {
	defer res.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t)

	res, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	health := decode[healthResponse](t, res)
	require.Equal(t, healthResponse{Status: "ok", Name: "Test", Trackers: 2}, health)
}

func TestListAndGet(t *testing.T) {
	server, _ := newTestServer(t)

	res, err := http.Get(server.URL + "/trackers")
	require.NoError(t, err)
	snaps := decode[[]tracker.Snapshot](t, res)
	require.Len(t, snaps, 2)
	require.Equal(t, "danawa_shopping_broken_priceasc", snaps[0].ID)

	res, err = http.Get(server.URL + "/trackers/danawa_shopping_ssd_priceasc")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	snap := decode[tracker.Snapshot](t, res)
	require.Equal(t, "ssd-낮은가격순", snap.Name)
	require.Nil(t, snap.Price)

	res, err = http.Get(server.URL + "/trackers/unknown")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()
}

func TestRefresh(t *testing.T) {
	server, d := newTestServer(t)

	res, err := http.Post(server.URL+"/trackers/danawa_shopping_ssd_priceasc/refresh", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	snap := decode[tracker.Snapshot](t, res)
	require.NotNil(t, snap.Price)
	require.Equal(t, 5000, *snap.Price)

	res, err = http.Post(server.URL+"/trackers/danawa_shopping_broken_priceasc/refresh", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadGateway, res.StatusCode)
	failure := decode[refreshFailure](t, res)
	require.Equal(t, tracker.ErrorFetchStatus, failure.Kind)

	res, err = http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	require.Equal(t, 1, decode[healthResponse](t, res).Failing)

	res, err = http.Post(server.URL+"/trackers/unknown/refresh", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	res.Body.Close()

	tr, ok := d.Get("danawa_shopping_ssd_priceasc")
	require.True(t, ok)
	tr.Stop()
	res, err = http.Post(server.URL+"/trackers/danawa_shopping_ssd_priceasc/refresh", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, res.StatusCode)
	res.Body.Close()
}
