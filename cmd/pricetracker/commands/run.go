package commands

import (
	"context"
	"danawa-tracker/internal/chrono"
	"danawa-tracker/internal/config"
	"danawa-tracker/internal/device"
	"danawa-tracker/internal/history"
	"danawa-tracker/internal/notify"
	"danawa-tracker/internal/status"
	"danawa-tracker/internal/telemetry"
	"danawa-tracker/internal/tracker"
	"danawa-tracker/lib/util/serviceutil"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Tracks every configured keyword until interrupted.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := loadConfig()

		otel, err := telemetry.Setup(ctx, "pricetracker", cfg.Telemetry)
		if err != nil {
			serviceutil.Fatal("failed to setup telemetry", err)
		}
		defer otel.Shutdown(context.Background())

		tel := telemetry.SlogAPI{}
		dev := newDevice(cfg, tel, false)
		telemetry.InstrumentPerfStats(ctx, tel, map[string]telemetry.StatsFunc{
			"trackers.live": func() int64 {
				return int64(len(dev.Trackers()))
			},
			"trackers.failing": func() int64 {
				var failing int64
				for _, snap := range dev.Snapshots() {
					if snap.LastOutcome == tracker.OutcomeFailed {
						failing++
					}
				}
				return failing
			},
		})
		dev.Hub().Register(func() {
			for _, snap := range dev.Snapshots() {
				tel.ReportDebug("device.update", snap.ID, snap.Price, snap.LastRefreshLabel())
			}
		})

		if cfg.History.Database != "" {
			store, cron := setupHistory(cfg, dev, tel)
			defer store.Close()
			defer func() { <-cron.Stop().Done() }()
		}
		if cfg.Notify.Enabled() {
			setupNotify(ctx, cfg, dev, tel)
		}

		err = dev.Setup(ctx, cfg.Keywords)
		if err != nil {
			slog.Warn("some keywords could not be tracked", "err", err)
		}
		if len(dev.Trackers()) == 0 {
			serviceutil.Fatal("nothing to track", noTrackersError(err))
		}
		slog.Info("tracking", "name", dev.Name(), "trackers", len(dev.Trackers()))

		if cfg.Status.Port > 0 {
			go func() {
				err := serviceutil.StartHttpServer(ctx, cfg.Status.Port, status.NewServer(dev).Router())
				if err != nil {
					serviceutil.Fatal("status server stopped", err)
				}
			}()
		}

		<-ctx.Done()
		slog.Info("shutting down")

		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err = dev.Close(closeCtx)
		if err != nil {
			slog.Warn("trackers did not stop in time", "err", err)
		}
	},
}

func setupHistory(cfg config.Config, dev *device.Device, tel telemetry.API) (history.Store, chrono.StandardCron) {
	store, err := history.Open(cfg.History.Database)
	if err != nil {
		serviceutil.Fatal("failed to open history database", err)
	}

	recorder := history.NewRecorder(store, dev, telemetry.NewScopedAPI("history", tel))
	dev.Hub().Register(recorder.Observe)

	cron := chrono.NewStandardCron(tel)
	err = history.SchedulePrune(
		cron,
		cfg.History.PruneSchedule,
		store,
		time.Duration(cfg.History.RetentionDays)*24*time.Hour,
		chrono.NewStandardTime(),
		telemetry.NewScopedAPI("history", tel),
	)
	if err != nil {
		serviceutil.Fatal("invalid history.prune_schedule", err)
	}
	return store, cron
}

func setupNotify(ctx context.Context, cfg config.Config, dev *device.Device, tel telemetry.API) {
	sender := notify.NewEmailSender(notify.EmailConfig{
		Addr:     cfg.Notify.SmtpAddr,
		Host:     cfg.Notify.SmtpHost,
		Username: cfg.Notify.Username,
		Password: cfg.Notify.Password,
		From:     cfg.Notify.From,
		To:       cfg.Notify.To,
	})
	notifier := notify.NewNotifier(dev, sender, telemetry.NewScopedAPI("notify", tel))
	dev.Hub().Register(notifier.Observe)
	go notifier.Run(ctx)
}
