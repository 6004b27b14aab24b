package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/deusflow/newsmesh/internal/query"
	"github.com/deusflow/newsmesh/internal/sources"
)

func newSourcesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sources",
		Short: "List configured sources and check the dictionary",
		Long: `Prints the source registry in fetch order, then reports dictionary
entries whose translations never map back to them.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			srcs, err := sources.LoadOrDefault(cfg.SourcesPath)
			if err != nil {
				return fmt.Errorf("failed to load sources: %w", err)
			}
			dict, err := query.LoadDictionaryOrDefault(cfg.DictionaryPath)
			if err != nil {
				return fmt.Errorf("failed to load dictionary: %w", err)
			}
			renderSources(cmd.OutOrStdout(), srcs)
			renderAsymmetries(cmd.OutOrStdout(), dict.Validate())
			return nil
		},
	}
}

func renderSources(w io.Writer, srcs []sources.Source) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Name", "Script", "Endpoint"})
	for i, s := range srcs {
		t.AppendRow(table.Row{i + 1, s.Name, s.Script, s.Endpoint})
	}
	t.Render()
}

func renderAsymmetries(w io.Writer, list []query.Asymmetry) {
	if len(list) == 0 {
		fmt.Fprintln(w, "dictionary: every entry maps back")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("dictionary: %d one-way entries", len(list)))
	t.AppendHeader(table.Row{"Direction", "Term", "Maps to"})
	for _, a := range list {
		t.AppendRow(table.Row{a.Direction, a.Key, strings.Join(a.Values, ", ")})
	}
	t.Render()
}
