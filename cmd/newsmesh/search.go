package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsmesh/internal/app"
	"github.com/deusflow/newsmesh/internal/logger"
	"github.com/deusflow/newsmesh/internal/metrics"
	"github.com/deusflow/newsmesh/internal/rank"
)

const (
	// titleWidth is measured in terminal cells, not runes.
	titleWidth = 60
	urlWidth   = 50
)

func newSearchCommand() *cobra.Command {
	var (
		q         string
		limit     int
		sessionID string
		resume    bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one aggregation cycle and print ranked results",
		Long: `Fetches every source once, then ranks the merged corpus against the query.
An empty query lists the newest articles.

Examples:
  newsmesh search -q ירושלים
  newsmesh search -q haifa -l 5
  newsmesh search --session me --resume`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			svc, closeStore, err := app.Build(ctx, cfg, logger.Logger, metrics.New())
			if err != nil {
				return fmt.Errorf("failed to build service: %w", err)
			}
			defer closeStore()

			if _, err := svc.Refresh(ctx); err != nil {
				return err
			}
			resp, err := svc.Search(ctx, app.Request{
				Query:     q,
				Limit:     limit,
				SessionID: sessionID,
				Resume:    resume,
			})
			if err != nil {
				return err
			}
			renderResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&q, "query", "q", "", "search term in Hebrew or English")
	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "maximum results (default SEARCH_LIMIT)")
	cmd.Flags().StringVar(&sessionID, "session", "", "remember the query under this session id")
	cmd.Flags().BoolVar(&resume, "resume", false, "reuse the session's last query when -q is empty")
	return cmd
}

func renderResults(w io.Writer, resp app.Response) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	if resp.Mode == rank.ModeSearch {
		t.SetTitle(fmt.Sprintf("%q  (%s)", resp.Query, strings.Join(resp.Variants, ", ")))
		t.AppendHeader(table.Row{"#", "Score", "Source", "Published", "Title", "URL"})
	} else {
		t.SetTitle("Latest")
		t.AppendHeader(table.Row{"#", "", "Source", "Published", "Title", "URL"})
	}

	for i, it := range resp.Results {
		score := ""
		if resp.Mode == rank.ModeSearch {
			score = strconv.Itoa(it.Score)
		}
		t.AppendRow(table.Row{
			i + 1,
			score,
			it.Source,
			it.PublishedAt.Local().Format("Jan 02 15:04"),
			runewidth.Truncate(it.Title, titleWidth, "…"),
			runewidth.Truncate(it.URL, urlWidth, "…"),
		})
	}

	footer := fmt.Sprintf("%d of %d matches, corpus %d articles from %d/%d sources",
		len(resp.Results), resp.Total, resp.Corpus.Size, resp.Corpus.Succeeded, resp.Corpus.Attempted)
	if resp.Stale {
		footer += " (stale)"
	}
	t.SetCaption(footer)
	t.Render()
}
