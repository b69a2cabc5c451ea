package tracker

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/extract"
	"danawa-tracker/internal/fetch"
	"danawa-tracker/internal/hub"
	"danawa-tracker/internal/search"
	"danawa-tracker/internal/telemetry"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const priceMarkup = `<div class="click_log_product_standard_img_"><img src="//img.danawa.com/prod_img/1.jpg"></div>
<em class="click_log_product_standard_price_">129,000원</em>`

type response struct {
	body string
	err  error
}

type fakeFetcher struct {
	mu        sync.Mutex
	responses []response
	urls      []string
	calls     atomic.Int64
	running   atomic.Int64
	overlap   atomic.Bool
	delay     time.Duration
	block     chan struct{}
}

func (f *fakeFetcher) push(body string, err error) {
	f.mu.Lock()
	f.responses = append(f.responses, response{body: body, err: err})
	f.mu.Unlock()
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.running.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.running.Add(-1)
	f.calls.Add(1)

	if f.block != nil {
		<-f.block
	}
	time.Sleep(f.delay)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	if len(f.responses) == 0 {
		return []byte(priceMarkup), nil
	}
	res := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return []byte(res.body), res.err
}

type env struct {
	fetcher  *fakeFetcher
	hub      *hub.Hub
	clock    *chrono.FakeTime
	tel      *telemetry.Recorder
	notifies *atomic.Int64
}

func newEnv() env {
	tel := &telemetry.Recorder{}
	e := env{
		fetcher:  &fakeFetcher{},
		hub:      hub.New(tel),
		clock:    chrono.NewFakeTime(time.Date(2024, 3, 1, 12, 0, 0, 0, chrono.Seoul())),
		tel:      tel,
		notifies: &atomic.Int64{},
	}
	e.hub.Register(func() { e.notifies.Add(1) })
	return e
}

func (e env) deps() Dependencies {
	return Dependencies{
		Fetcher:   e.fetcher,
		Extractor: extract.NewExtractor(),
		Hub:       e.hub,
		Time:      e.clock,
		Tel:       e.tel,
	}
}

func newTestTracker(t testing.TB, e env) *Tracker {
	tr, err := New(Config{
		Keyword:       "RTX 4070 Super",
		Sort:          search.SortPriceAsc,
		Filters:       []search.FilterCode{search.FilterIncludeDelivery},
		RefreshPeriod: time.Hour,
	}, e.deps())
	require.NoError(t, err)
	return tr
}

func TestNewValidates(t *testing.T) {
	e := newEnv()

	cases := []Config{
		{Keyword: "ssd", Sort: "cheapest"},
		{Keyword: "ssd", Sort: search.SortPopular, Filters: []search.FilterCode{"freeShipping"}},
		{Keyword: "", Sort: search.SortPopular},
		{Keyword: "ssd", Sort: search.SortPopular, RefreshPeriod: time.Second},
		{Keyword: "ssd", Sort: search.SortPopular, TargetPrice: -1},
	}
	for _, cfg := range cases {
		_, err := New(cfg, e.deps())
		var cerr *search.ConfigError
		require.True(t, errors.As(err, &cerr), "%+v", cfg)
	}
	require.Zero(t, e.fetcher.calls.Load())

	tr, err := New(Config{Keyword: "ssd", Sort: search.SortPopular}, e.deps())
	require.NoError(t, err)
	require.Equal(t, DefaultRefreshPeriod, tr.RefreshPeriod())
}

func TestIdentity(t *testing.T) {
	tr := newTestTracker(t, newEnv())
	require.Equal(t, "danawa_shopping_rtx_4070_super_priceasc_adddelivery", tr.ID())
	require.Equal(t, "RTX 4070 Super-낮은가격순", tr.Name())
	require.Equal(t, search.BaseURL+"RTX+4070+Super&sort=priceASC&addDelivery=Y", tr.URL())

	korean, err := New(Config{Keyword: "게이밍 마우스", Sort: search.SortPopular}, newEnv().deps())
	require.NoError(t, err)
	require.Equal(t, "danawa_shopping_게이밍_마우스_savedesc", korean.ID())
}

func TestExplicitIDAndURLEquality(t *testing.T) {
	plus := Config{Keyword: "c++ 책", Sort: search.SortPriceAsc}
	sharp := Config{Keyword: "c# 책", Sort: search.SortPriceAsc}
	require.Equal(t, DeriveID(plus), DeriveID(sharp))
	require.NotEqual(t, plus.URL(), sharp.URL())

	reordered := Config{
		Keyword: "ssd",
		Sort:    search.SortPriceAsc,
		Filters: []search.FilterCode{search.FilterIncludeDelivery, search.FilterCoupangMember},
	}
	ordered := Config{
		Keyword: "ssd",
		Sort:    search.SortPriceAsc,
		Filters: []search.FilterCode{search.FilterCoupangMember, search.FilterIncludeDelivery},
	}
	require.Equal(t, ordered.URL(), reordered.URL())

	tr, err := NewWithID(DeriveID(sharp)+"_2", sharp, newEnv().deps())
	require.NoError(t, err)
	require.Equal(t, "danawa_shopping_c_책_priceasc_2", tr.ID())
	require.Equal(t, sharp.URL(), tr.URL())

	_, err = NewWithID("custom", Config{Keyword: "ssd", Sort: "cheapest"}, newEnv().deps())
	require.Error(t, err)
}

func TestRefreshUpdated(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)

	require.NoError(t, tr.Refresh(context.Background()))
	require.Equal(t, int64(1), e.notifies.Load())
	require.Equal(t, []string{tr.URL()}, e.fetcher.urls)

	at := e.clock.Now()
	price := 129000
	expect := Snapshot{
		ID:              tr.ID(),
		Name:            tr.Name(),
		Keyword:         "RTX 4070 Super",
		URL:             tr.URL(),
		Price:           &price,
		Unit:            "KRW",
		ImageURL:        "https://img.danawa.com/prod_img/1.jpg",
		LastRefreshedAt: &at,
		Generation:      1,
		SortType:        "priceASC",
		SortLabel:       "낮은가격순",
		Filters:         []string{"addDelivery"},
		FilterLabels:    []string{"배송비포함"},
		RefreshPeriod:   time.Hour,
		Phase:           PhaseIdle,
		LastOutcome:     OutcomeUpdated,
	}
	if diff := cmp.Diff(expect, tr.Snapshot()); diff != "" {
		t.Fatal(diff)
	}
	require.Equal(t, "2024-03-01 12:00", tr.Snapshot().LastRefreshLabel())
}

func TestRefreshFailedKeepsStaleValue(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)

	require.NoError(t, tr.Refresh(context.Background()))
	before := tr.State()

	e.clock.Advance(time.Hour)
	e.fetcher.push("", &fetch.Error{Kind: fetch.KindStatus, URL: tr.URL(), StatusCode: 503, Err: errors.New("503")})
	err := tr.Refresh(context.Background())
	require.Error(t, err)

	after := tr.State()
	require.Equal(t, before.LastResult, after.LastResult)
	require.Equal(t, before.LastRefreshedAt, after.LastRefreshedAt)
	require.Equal(t, before.Generation, after.Generation)
	require.Equal(t, ErrorFetchStatus, after.LastError)
	require.Equal(t, OutcomeFailed, after.LastOutcome)
	require.Equal(t, PhaseIdle, after.Phase)
	require.Equal(t, int64(1), e.notifies.Load())

	warnings := e.tel.Reports("warning")
	require.Len(t, warnings, 1)
	require.Equal(t, report_tracker_refresh, warnings[0].ID)
}

func TestFailuresThenSuccess(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)

	e.fetcher.push("<html></html>", nil)
	e.fetcher.push(`<span class="price_sect">가격문의</span>`, nil)
	e.fetcher.push("", &fetch.Error{Kind: fetch.KindTimeout, Err: context.DeadlineExceeded})
	e.fetcher.push(priceMarkup, nil)

	require.Error(t, tr.Refresh(context.Background()))
	require.Equal(t, ErrorPriceNotFound, tr.State().LastError)
	require.Error(t, tr.Refresh(context.Background()))
	require.Equal(t, ErrorPriceUnparseable, tr.State().LastError)
	require.Error(t, tr.Refresh(context.Background()))
	require.Equal(t, ErrorFetchTimeout, tr.State().LastError)
	require.Nil(t, tr.State().LastResult)
	require.Zero(t, e.notifies.Load())

	require.NoError(t, tr.Refresh(context.Background()))
	state := tr.State()
	require.Empty(t, state.LastError)
	require.Empty(t, state.LastErrorMessage)
	require.Equal(t, 129000, state.LastResult.Price)
	require.Equal(t, int64(1), e.notifies.Load())
}

func TestRefreshedAtNeverDecreases(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)

	require.NoError(t, tr.Refresh(context.Background()))
	first := tr.State().LastRefreshedAt

	e.clock.Advance(-time.Hour)
	e.fetcher.push(`<em class="click_log_product_standard_price_">99,000원</em>`, nil)
	require.NoError(t, tr.Refresh(context.Background()))
	state := tr.State()
	require.Equal(t, first, state.LastRefreshedAt)
	require.Equal(t, uint64(2), state.Generation)
	require.Equal(t, 99000, state.LastResult.Price)
}

func TestSnapshotIsCopy(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)
	require.NoError(t, tr.Refresh(context.Background()))

	state := tr.State()
	state.LastResult.Price = 1
	snap := tr.Snapshot()
	*snap.Price = 2
	snap.Filters[0] = "changed"

	require.Equal(t, 129000, tr.State().LastResult.Price)
	require.Equal(t, []string{"addDelivery"}, tr.Snapshot().Filters)
}

func TestRefreshesNeverOverlap(t *testing.T) {
	e := newEnv()
	e.fetcher.delay = 2 * time.Millisecond
	tr := newTestTracker(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Refresh(context.Background())
		}()
	}
	wg.Wait()

	require.False(t, e.fetcher.overlap.Load())
	require.Equal(t, int64(10), e.fetcher.calls.Load())
	require.Equal(t, int64(10), e.notifies.Load())
}

func TestStopDiscardsInflight(t *testing.T) {
	e := newEnv()
	e.fetcher.block = make(chan struct{})
	tr := newTestTracker(t, e)

	errs := make(chan error, 1)
	go func() {
		errs <- tr.Refresh(context.Background())
	}()
	require.Eventually(t, func() bool { return e.fetcher.calls.Load() == 1 }, time.Second, time.Millisecond)

	tr.Stop()
	close(e.fetcher.block)

	require.ErrorIs(t, <-errs, ErrStopped)
	require.Nil(t, tr.State().LastResult)
	require.Equal(t, PhaseStopped, tr.State().Phase)
	require.Zero(t, e.notifies.Load())

	require.ErrorIs(t, tr.Refresh(context.Background()), ErrStopped)
	require.Equal(t, int64(1), e.fetcher.calls.Load())
}

func TestStartAndStop(t *testing.T) {
	e := newEnv()
	tr := newTestTracker(t, e)

	tr.Start(context.Background(), 0)
	tr.Start(context.Background(), 0)
	require.Eventually(t, func() bool { return e.notifies.Load() == 1 }, time.Second, time.Millisecond)

	tr.Stop()
	tr.Stop()
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("tracker schedule did not exit")
	}
	require.Equal(t, int64(1), e.fetcher.calls.Load())
}

func TestSetRefreshPeriod(t *testing.T) {
	tr := newTestTracker(t, newEnv())

	require.NoError(t, tr.SetRefreshPeriod(5*time.Minute))
	require.Equal(t, 5*time.Minute, tr.RefreshPeriod())
	require.Equal(t, 5*time.Minute, tr.Config().RefreshPeriod)

	var cerr *search.ConfigError
	require.True(t, errors.As(tr.SetRefreshPeriod(time.Second), &cerr))
	require.Equal(t, 5*time.Minute, tr.RefreshPeriod())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		expect ErrorKind
	}{
		{err: nil, expect: ""},
		{err: &fetch.Error{Kind: fetch.KindNetwork}, expect: ErrorFetchNetwork},
		{err: &fetch.Error{Kind: fetch.KindTimeout}, expect: ErrorFetchTimeout},
		{err: &fetch.Error{Kind: fetch.KindTLS}, expect: ErrorFetchTLS},
		{err: &fetch.Error{Kind: fetch.KindStatus, StatusCode: 404}, expect: ErrorFetchStatus},
		{err: extract.ErrPriceNotFound, expect: ErrorPriceNotFound},
		{err: &extract.UnparseableError{Text: "x"}, expect: ErrorPriceUnparseable},
		{err: extract.ErrMalformedMarkup, expect: ErrorMalformedMarkup},
		{err: errors.New("other"), expect: ErrorUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expect, Classify(tc.err), "%v", tc.err)
	}
}

func TestResolveImage(t *testing.T) {
	base := search.BaseURL + "ssd&sort=saveDESC"
	require.Equal(t, "", resolveImage(base, ""))
	require.Equal(t, "https://img.danawa.com/a.jpg", resolveImage(base, "//img.danawa.com/a.jpg"))
	require.Equal(t, "https://search.danawa.com/img/a.jpg", resolveImage(base, "/img/a.jpg"))
	require.Equal(t, "https://img.danawa.com/a.jpg?shrink=130", resolveImage(base, "https://IMG.danawa.com/a.jpg?shrink=130"))
}
