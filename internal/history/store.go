// Package history keeps every refreshed price in sqlite so price movement can be
// inspected after the fact. It is never read back into tracker state.
package history

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/history/db"
	"danawa-tracker/pkg/migrations"
	"database/sql"
	"fmt"
	"time"
)

type Entry struct {
	TrackerID   string
	Keyword     string
	Price       int
	ImageURL    string
	RefreshedAt time.Time
	// Generation is the tracker's success counter, it tells apart refreshes that share a
	// timestamp.
	Generation  uint64
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (Store, error) {
	database, err := migrations.OpenAndMigrateDB(db.Schema, path)
	if err != nil {
		return Store{}, fmt.Errorf("open history: %w", err)
	}
	return NewStore(database), nil
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

// Record inserts an entry, it returns false if the same refresh was already recorded.
func (s Store) Record(ctx context.Context, e Entry) (bool, error) {
	n, err := s.qry.InsertPriceRecord(ctx, db.InsertPriceRecordParams{
		TrackerID:   e.TrackerID,
		Keyword:     e.Keyword,
		Price:       int64(e.Price),
		ImageUrl:    e.ImageURL,
		RefreshedAt: e.RefreshedAt.UnixMilli(),
		Generation:  int64(e.Generation),
	})
	if err != nil {
		return false, fmt.Errorf("record price for %s: %w", e.TrackerID, err)
	}
	return n > 0, nil
}

// List returns the most recent entries for a tracker, newest first.
func (s Store) List(ctx context.Context, trackerID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.qry.ListPriceRecords(ctx, db.ListPriceRecordsParams{
		TrackerID: trackerID,
		Limit:     int64(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("list prices for %s: %w", trackerID, err)
	}

	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{
			TrackerID:   r.TrackerID,
			Keyword:     r.Keyword,
			Price:       int(r.Price),
			ImageURL:    r.ImageUrl,
			RefreshedAt: time.UnixMilli(r.RefreshedAt).In(chrono.Seoul()),
			Generation:  uint64(r.Generation),
		}
	}
	return out, nil
}

// Prune deletes every entry refreshed before the given time and returns how many were removed.
func (s Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.qry.DeletePriceRecordsBefore(ctx, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return n, nil
}

func (s Store) Close() error {
	return s.db.Close()
}
