// Package device groups the trackers created from one configuration and owns the hub
// their updates are published on.
package device

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/config"
	"danawa-tracker/internal/hub"
	"danawa-tracker/internal/search"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	report_device_setup  = "device.setup"
	report_device_remove = "device.remove"
	report_device_count  = "device.trackers"
)

// DefaultInitialDelay is how long a new tracker waits before its first refresh.
const DefaultInitialDelay = time.Second

type Dependencies struct {
	Fetcher   tracker.Fetcher
	Extractor tracker.Extractor
	Time      chrono.TimeAPI
	Tel       telemetry.API
}

type Options struct {
	Name         string
	InitialDelay time.Duration
	// Manual disables scheduling, trackers are only refreshed through Refresh or RefreshAll.
	Manual bool
}

type Device struct {
	name         string
	initialDelay time.Duration
	manual       bool
	hub          *hub.Hub
	deps         Dependencies
	tel          telemetry.API

	mu       sync.RWMutex
	trackers map[string]*tracker.Tracker
}

func New(opts Options, deps Dependencies) *Device {
	if opts.Name == "" {
		opts.Name = config.DefaultName
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	tel := telemetry.NewScopedAPI("device", deps.Tel)
	return &Device{
		name:         opts.Name,
		initialDelay: opts.InitialDelay,
		manual:       opts.Manual,
		hub:          hub.New(tel),
		deps:         deps,
		tel:          tel,
		trackers:     make(map[string]*tracker.Tracker),
	}
}

func (d *Device) Name() string {
	return d.name
}

// Hub is where every tracker of the device publishes its updates.
func (d *Device) Hub() *hub.Hub {
	return d.hub
}

// Add creates a tracker and starts its schedule. A config that resolves to the same search
// url as an existing tracker is rejected, keywords that only share an id slug get a numbered id.
func (d *Device) Add(ctx context.Context, cfg tracker.Config) (*tracker.Tracker, error) {
	cfg = cfg.WithDefaults()
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	url := cfg.URL()

	d.mu.Lock()
	for _, existing := range d.trackers {
		if existing.URL() == url {
			d.mu.Unlock()
			return nil, &search.ConfigError{
				Field:  "word",
				Value:  cfg.Keyword,
				Reason: fmt.Sprintf("already tracked as '%s'", existing.ID()),
			}
		}
	}

	t, err := tracker.NewWithID(d.uniqueID(tracker.DeriveID(cfg)), cfg, tracker.Dependencies{
		Fetcher:   d.deps.Fetcher,
		Extractor: d.deps.Extractor,
		Hub:       d.hub,
		Time:      d.deps.Time,
		Tel:       d.tel,
	})
	if err != nil {
		d.mu.Unlock()
		return nil, err
	}
	d.trackers[t.ID()] = t
	count := len(d.trackers)
	d.mu.Unlock()

	if !d.manual {
		t.Start(ctx, d.initialDelay)
	}
	d.tel.ReportCount(report_device_count, int64(count))
	return t, nil
}

// uniqueID must be called with mu held.
func (d *Device) uniqueID(base string) string {
	id := base
	for n := 2; ; n++ {
		if _, taken := d.trackers[id]; !taken {
			return id
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// Setup adds a tracker for every keyword. A keyword that fails does not prevent the
// others from being added, all failures are returned joined.
func (d *Device) Setup(ctx context.Context, keywords []config.Keyword) error {
	var errs []error
	for i, kw := range keywords {
		cfg, err := kw.TrackerConfig()
		if err == nil {
			_, err = d.Add(ctx, cfg)
		}
		if err != nil {
			err = fmt.Errorf("keyword %d ('%s'): %w", i, kw.Word, err)
			d.tel.ReportBroken(report_device_setup, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove stops and forgets a tracker, it returns false if no tracker has the id.
func (d *Device) Remove(id string) bool {
	d.mu.Lock()
	t, ok := d.trackers[id]
	delete(d.trackers, id)
	count := len(d.trackers)
	d.mu.Unlock()

	if !ok {
		return false
	}
	t.Stop()
	d.tel.ReportDebug(report_device_remove, id)
	d.tel.ReportCount(report_device_count, int64(count))
	return true
}

func (d *Device) Get(id string) (*tracker.Tracker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.trackers[id]
	return t, ok
}

// Trackers returns every tracker ordered by id.
func (d *Device) Trackers() []*tracker.Tracker {
	d.mu.RLock()
	out := make([]*tracker.Tracker, 0, len(d.trackers))
	for _, t := range d.trackers {
		out = append(out, t)
	}
	d.mu.RUnlock()

	slices.SortFunc(out, func(a, b *tracker.Tracker) int {
		return strings.Compare(a.ID(), b.ID())
	})
	return out
}

func (d *Device) Snapshots() []tracker.Snapshot {
	trackers := d.Trackers()
	out := make([]tracker.Snapshot, len(trackers))
	for i, t := range trackers {
		out[i] = t.Snapshot()
	}
	return out
}

// RefreshAll refreshes every tracker concurrently and waits for all of them.
func (d *Device) RefreshAll(ctx context.Context) error {
	trackers := d.Trackers()
	errs := make([]error, len(trackers))

	var wg sync.WaitGroup
	for i, t := range trackers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = t.Refresh(ctx)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// Close stops every tracker and waits for their schedules to exit or ctx to be done.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	trackers := make([]*tracker.Tracker, 0, len(d.trackers))
	for _, t := range d.trackers {
		trackers = append(trackers, t)
	}
	d.trackers = make(map[string]*tracker.Tracker)
	d.mu.Unlock()

	for _, t := range trackers {
		t.Stop()
	}
	defer d.hub.Clear()

	for _, t := range trackers {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return fmt.Errorf("close device: %w", ctx.Err())
		}
	}
	return nil
}
