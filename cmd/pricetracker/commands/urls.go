package commands

import (
	"danawa-tracker/internal/search"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(urlsCmd)
}

var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "Prints the search url built for every configured keyword without fetching anything.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Keyword", "Sort", "URL"})

		for _, kw := range cfg.Keywords {
			tc, err := kw.TrackerConfig()
			if err != nil {
				t.AppendRow(table.Row{kw.Word, kw.SortType, err.Error()})
				continue
			}
			t.AppendRow(table.Row{
				tc.Keyword,
				tc.Sort.Label(),
				search.Build(search.Query{Keyword: tc.Keyword, Sort: tc.Sort, Filters: tc.Filters}),
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
