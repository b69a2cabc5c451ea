package commands

import (
	"danawa-tracker/internal/history"
	"danawa-tracker/lib/util/serviceutil"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "The maximum number of entries to print.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history <tracker-id>",
	Short: "Prints the recorded prices of a tracker, newest first.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if cfg.History.Database == "" {
			serviceutil.Fatal("history is disabled", fmt.Errorf("history.database is not set"))
		}

		store, err := history.Open(cfg.History.Database)
		if err != nil {
			serviceutil.Fatal("failed to open history database", err)
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), args[0], historyLimit)
		if err != nil {
			serviceutil.Fatal("failed to list history", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Refreshed", "Price", "Image"})
		for _, e := range entries {
			t.AppendRow(table.Row{
				e.RefreshedAt.Format("2006-01-02 15:04"),
				fmt.Sprintf("%s KRW", groupDigits(e.Price)),
				e.ImageURL,
			})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
