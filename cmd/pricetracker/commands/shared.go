package commands

import (
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/config"
	"danawa-tracker/internal/device"
	"danawa-tracker/internal/extract"
	"danawa-tracker/internal/fetch"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"danawa-tracker/lib/util/serviceutil"
	"errors"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
)

func loadConfig() config.Config {
	cfg, err := config.Read(configPath)
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return cfg
}

func newDevice(cfg config.Config, tel telemetry.API, manual bool) *device.Device {
	return device.New(
		device.Options{
			Name:         cfg.Name,
			InitialDelay: device.DefaultInitialDelay,
			Manual:       manual,
		},
		device.Dependencies{
			Fetcher:   fetch.NewFetcher(fetch.Config{Timeout: cfg.FetchTimeout()}, tel),
			Extractor: extract.NewExtractor(),
			Time:      chrono.NewStandardTime(),
			Tel:       tel,
		},
	)
}

func formatPrice(snap tracker.Snapshot) string {
	if snap.Price == nil {
		return "-"
	}
	return fmt.Sprintf("%s %s", groupDigits(*snap.Price), snap.Unit)
}

func groupDigits(n int) string {
	s := fmt.Sprint(n)
	var b strings.Builder
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func snapshotTable(snaps []tracker.Snapshot) table.Writer {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Tracker", "Name", "Filters", "Price", "Refreshed", "Error"})
	for _, s := range snaps {
		t.AppendRow(table.Row{
			s.ID,
			s.Name,
			strings.Join(s.FilterLabels, ", "),
			formatPrice(s),
			s.LastRefreshLabel(),
			string(s.LastError),
		})
	}
	t.SetStyle(table.StyleRounded)
	return t
}

var errNoKeywords = errors.New("no keywords configured")

// noTrackersError explains why setup ended with no trackers, setupErr is nil when the
// config simply lists no keywords.
func noTrackersError(setupErr error) error {
	if setupErr == nil {
		return errNoKeywords
	}
	return setupErr
}
