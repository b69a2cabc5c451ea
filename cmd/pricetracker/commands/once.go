package commands

import (
	"context"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/lib/util/serviceutil"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(onceCmd)
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Refreshes every configured keyword a single time and prints the prices.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		tel := telemetry.SlogAPI{}

		dev := newDevice(cfg, tel, true)
		defer dev.Close(context.Background())

		err := dev.Setup(cmd.Context(), cfg.Keywords)
		if err != nil {
			slog.Warn("some keywords could not be tracked", "err", err)
		}
		if len(dev.Trackers()) == 0 {
			serviceutil.Fatal("nothing to refresh", noTrackersError(err))
		}

		err = dev.RefreshAll(cmd.Context())
		if err != nil {
			slog.Warn("some refreshes failed", "err", err)
		}

		t := snapshotTable(dev.Snapshots())
		t.SetOutputMirror(os.Stdout)
		t.Render()
	},
}
