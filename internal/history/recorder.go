package history

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"sync"
	"time"
)

const (
	report_history_record = "history.record"
	report_history_prune  = "history.prune"
)

// SnapshotSource is anything that can list the current tracker snapshots.
type SnapshotSource interface {
	Snapshots() []tracker.Snapshot
}

// Recorder is a hub observer that writes every new refresh into the store.
type Recorder struct {
	store  Store
	source SnapshotSource
	tel    telemetry.API

	mu       sync.Mutex
	lastSeen map[string]uint64
}

func NewRecorder(store Store, source SnapshotSource, tel telemetry.API) *Recorder {
	return &Recorder{
		store:    store,
		source:   source,
		tel:      tel,
		lastSeen: make(map[string]uint64),
	}
}

// Observe records every snapshot whose generation changed since the last call.
func (r *Recorder) Observe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, snap := range r.source.Snapshots() {
		if snap.Price == nil || snap.LastRefreshedAt == nil {
			continue
		}
		if last, ok := r.lastSeen[snap.ID]; ok && last == snap.Generation {
			continue
		}

		_, err := r.store.Record(ctx, Entry{
			TrackerID:   snap.ID,
			Keyword:     snap.Keyword,
			Price:       *snap.Price,
			ImageURL:    snap.ImageURL,
			RefreshedAt: *snap.LastRefreshedAt,
			Generation:  snap.Generation,
		})
		if err != nil {
			r.tel.ReportBroken(report_history_record, err, snap.ID)
			continue
		}
		r.lastSeen[snap.ID] = snap.Generation
	}
}

// SchedulePrune removes entries older than retention on the given cron schedule.
func SchedulePrune(cron chrono.CronAPI, spec string, store Store, retention time.Duration, clock chrono.TimeAPI, tel telemetry.API) error {
	return cron.Cron(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := store.Prune(ctx, clock.Now().Add(-retention))
		if err != nil {
			tel.ReportBroken(report_history_prune, err)
			return
		}
		tel.ReportCount(report_history_prune, n)
	})
}
