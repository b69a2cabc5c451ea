package tracker

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/extract"
	"danawa-tracker/internal/hub"
	"danawa-tracker/internal/scheduler"
	"danawa-tracker/internal/search"
	"danawa-tracker/internal/telemetry"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/purell"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("danawa-tracker/tracker")
var meter = otel.Meter("danawa-tracker/tracker")
var successCounter, _ = meter.Int64Counter("tracker.refresh.success")
var failureCounter, _ = meter.Int64Counter("tracker.refresh.failure")
var priceGauge, _ = meter.Int64Gauge("tracker.price", metric.WithUnit(Unit))

const (
	report_tracker_refresh = "tracker.refresh"
)

const (
	// IDPrefix namespaces tracker ids the same way the integration's entities were.
	IDPrefix = "danawa_shopping"
	Unit     = "KRW"

	MinRefreshPeriod     = time.Minute
	DefaultRefreshPeriod = 60 * time.Minute
)

var ErrStopped = errors.New("tracker stopped")

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Extractor interface {
	Extract(body []byte) (extract.Result, error)
}

type Config struct {
	Keyword       string
	Sort          search.SortCode
	Filters       []search.FilterCode
	RefreshPeriod time.Duration
	// TargetPrice is 0 when no alert threshold is set.
	TargetPrice int
}

func (c Config) query() search.Query {
	return search.Query{Keyword: c.Keyword, Sort: c.Sort, Filters: c.Filters}
}

// URL is the search url the config resolves to. Two configs with the same URL track the
// same listing.
func (c Config) URL() string {
	return search.Build(c.query())
}

// WithDefaults fills in the refresh period when it was left out.
func (c Config) WithDefaults() Config {
	if c.RefreshPeriod == 0 {
		c.RefreshPeriod = DefaultRefreshPeriod
	}
	c.Filters = slices.Clone(c.Filters)
	return c
}

func (c Config) Validate() error {
	err := c.query().Validate()
	if err != nil {
		return err
	}
	if c.RefreshPeriod < MinRefreshPeriod {
		return &search.ConfigError{
			Field:  "refresh_period",
			Value:  c.RefreshPeriod.String(),
			Reason: fmt.Sprintf("must be at least %s", MinRefreshPeriod),
		}
	}
	if c.TargetPrice < 0 {
		return &search.ConfigError{
			Field:  "target_price",
			Value:  fmt.Sprint(c.TargetPrice),
			Reason: "must not be negative",
		}
	}
	return nil
}

type Dependencies struct {
	Fetcher   Fetcher
	Extractor Extractor
	Hub       *hub.Hub
	Time      chrono.TimeAPI
	Tel       telemetry.API
}

type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseStopped  Phase = "stopped"
)

type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeUpdated Outcome = "updated"
	OutcomeFailed  Outcome = "failed"
)

// State is owned by the tracker's cycle, readers only ever see copies.
type State struct {
	LastResult       *extract.Result
	LastRefreshedAt  time.Time
	// Generation counts successful cycles. LastRefreshedAt can repeat when the clock steps
	// back, Generation never does.
	Generation       uint64
	LastError        ErrorKind
	LastErrorMessage string
	LastOutcome      Outcome
	Phase            Phase
}

type Tracker struct {
	cfg  Config
	deps Dependencies
	id   string
	name string
	url  string

	refreshPeriod atomic.Int64

	// serializes cycles, scheduled and manual refreshes never overlap
	cycleMu sync.Mutex

	mu    sync.RWMutex
	state State

	handleMu sync.Mutex
	handle   *scheduler.Handle
}

func New(cfg Config, deps Dependencies) (*Tracker, error) {
	return NewWithID("", cfg, deps)
}

// NewWithID is New with an explicit id, an empty id falls back to DeriveID.
func NewWithID(id string, cfg Config, deps Dependencies) (*Tracker, error) {
	cfg = cfg.WithDefaults()
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = DeriveID(cfg)
	}

	t := &Tracker{
		cfg:   cfg,
		deps:  deps,
		id:    id,
		name:  fmt.Sprintf("%s-%s", cfg.Keyword, cfg.Sort.Label()),
		url:   cfg.URL(),
		state: State{Phase: PhaseIdle},
	}
	t.refreshPeriod.Store(int64(cfg.RefreshPeriod))
	return t, nil
}

var slugRegex = regexp.MustCompile(`[^\p{L}\p{N}]+`)

func slug(s string) string {
	return strings.Trim(slugRegex.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// DeriveID builds the readable id for a config. The keyword is slugged, so different
// keywords can derive the same id and callers holding several trackers must disambiguate.
func DeriveID(cfg Config) string {
	parts := []string{IDPrefix, slug(cfg.Keyword), strings.ToLower(string(cfg.Sort))}
	for _, f := range search.Filters() {
		if slices.Contains(cfg.Filters, f) {
			parts = append(parts, strings.ToLower(string(f)))
		}
	}
	return strings.Join(parts, "_")
}

func (t *Tracker) ID() string {
	return t.id
}

func (t *Tracker) Name() string {
	return t.name
}

func (t *Tracker) URL() string {
	return t.url
}

func (t *Tracker) Config() Config {
	cfg := t.cfg
	cfg.Filters = slices.Clone(cfg.Filters)
	cfg.RefreshPeriod = t.RefreshPeriod()
	return cfg
}

func (t *Tracker) RefreshPeriod() time.Duration {
	return time.Duration(t.refreshPeriod.Load())
}

// SetRefreshPeriod changes the delay armed after the current cycle.
func (t *Tracker) SetRefreshPeriod(d time.Duration) error {
	if d < MinRefreshPeriod {
		return &search.ConfigError{
			Field:  "refresh_period",
			Value:  d.String(),
			Reason: fmt.Sprintf("must be at least %s", MinRefreshPeriod),
		}
	}
	t.refreshPeriod.Store(int64(d))
	return nil
}

// Start arms the refresh schedule, it does nothing if the tracker was already started or stopped.
func (t *Tracker) Start(ctx context.Context, initialDelay time.Duration) {
	t.handleMu.Lock()
	defer t.handleMu.Unlock()
	if t.handle != nil || t.stopped() {
		return
	}
	t.handle = scheduler.Start(ctx, initialDelay, t.RefreshPeriod, func(ctx context.Context) {
		// failures are recorded in the state and reported by Refresh
		_ = t.Refresh(ctx)
	})
}

// Stop cancels the pending refresh. A cycle already in flight finishes but its result is discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.state.Phase = PhaseStopped
	t.mu.Unlock()

	t.handleMu.Lock()
	defer t.handleMu.Unlock()
	if t.handle != nil {
		t.handle.Stop()
	}
}

var closedChan = func() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}()

// Done is closed once the schedule has exited, it is closed immediately if the tracker was never started.
func (t *Tracker) Done() <-chan struct{} {
	t.handleMu.Lock()
	defer t.handleMu.Unlock()
	if t.handle == nil {
		return closedChan
	}
	return t.handle.Done()
}

func (t *Tracker) stopped() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Phase == PhaseStopped
}

func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copyState(t.state)
}

func copyState(s State) State {
	if s.LastResult != nil {
		r := *s.LastResult
		s.LastResult = &r
	}
	return s
}

// Refresh runs one fetch and extract cycle.
func (t *Tracker) Refresh(ctx context.Context) error {
	t.cycleMu.Lock()
	defer t.cycleMu.Unlock()

	t.mu.Lock()
	if t.state.Phase == PhaseStopped {
		t.mu.Unlock()
		return ErrStopped
	}
	t.state.Phase = PhaseFetching
	t.mu.Unlock()

	ctx, span := tracer.Start(ctx, "tracker:refresh", trace.WithAttributes(
		attribute.String("tracker.id", t.id),
		attribute.String("tracker.url", t.url),
	))
	defer span.End()

	res, err := t.fetchAndExtract(ctx)

	t.mu.Lock()
	if t.state.Phase == PhaseStopped {
		t.mu.Unlock()
		span.AddEvent("discarded")
		return ErrStopped
	}
	t.state.Phase = PhaseIdle

	if err != nil {
		kind := Classify(err)
		t.state.LastError = kind
		t.state.LastErrorMessage = err.Error()
		t.state.LastOutcome = OutcomeFailed
		t.mu.Unlock()

		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("tracker.id", t.id),
			attribute.String("error.kind", string(kind)),
		))
		t.deps.Tel.ReportWarning(report_tracker_refresh, t.id, string(kind), t.url, err)
		return fmt.Errorf("refresh %s: %w", t.id, err)
	}

	now := t.deps.Time.Now()
	if now.Before(t.state.LastRefreshedAt) {
		now = t.state.LastRefreshedAt
	}
	t.state.LastResult = &res
	t.state.LastRefreshedAt = now
	t.state.Generation++
	t.state.LastError = ""
	t.state.LastErrorMessage = ""
	t.state.LastOutcome = OutcomeUpdated
	t.mu.Unlock()

	successCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("tracker.id", t.id)))
	priceGauge.Record(ctx, int64(res.Price), metric.WithAttributes(attribute.String("tracker.id", t.id)))
	t.deps.Tel.ReportDebug(report_tracker_refresh, t.id, res.Price)

	t.deps.Hub.NotifyAll()
	return nil
}

func (t *Tracker) fetchAndExtract(ctx context.Context) (extract.Result, error) {
	body, err := t.deps.Fetcher.Fetch(ctx, t.url)
	if err != nil {
		return extract.Result{}, err
	}
	return t.deps.Extractor.Extract(body)
}

// resolveImage turns the image reference found in the markup into an absolute url,
// references are frequently protocol relative.
func resolveImage(base, ref string) string {
	if ref == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return purell.NormalizeURL(baseURL.ResolveReference(refURL), purell.FlagsSafe)
}
