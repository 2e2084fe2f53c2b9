package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/sarchlab/firmhook/datarecording"
	"github.com/sarchlab/firmhook/tracing"
)

var statsCmd = &cobra.Command{
	Use:   "stats DATABASE",
	Short: "Show the statistics of a recorded run.",
	Long: "`stats` prints the run information, the engine counters and the " +
		"per-intercept counters of a database written by `run --record`.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if !strings.HasSuffix(path, ".sqlite3") {
			path += ".sqlite3"
		}

		reader, err := datarecording.NewReader(path)
		if err != nil {
			return err
		}
		defer reader.Close()

		unused, _ := cmd.Flags().GetBool("unused")

		return renderStats(cmd.Context(), cmd.OutOrStdout(), reader, unused)
	},
}

func init() {
	statsCmd.Flags().Bool("unused", false, "list only the intercepts that were never hit")

	rootCmd.AddCommand(statsCmd)
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.ANSIColor(4))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	errorStyle  = cellStyle.Foreground(lipgloss.ANSIColor(1))
)

// Style functions see the header as row 0 and the data rows from 1.
const headerRow = 0

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == headerRow {
				return headerStyle
			}

			return cellStyle
		})
}

// interceptStyle highlights the intercepts whose handler failed.
func interceptStyle(entries []*tracing.InterceptStatsEntry) table.StyleFunc {
	return func(row, _ int) lipgloss.Style {
		if row == headerRow {
			return headerStyle
		}

		if i := row - 1; i < len(entries) && entries[i].Errors > 0 {
			return errorStyle
		}

		return cellStyle
	}
}

func renderStats(
	ctx context.Context,
	w io.Writer,
	reader datarecording.DataReader,
	unusedOnly bool,
) error {
	reader.MapTable(datarecording.ExecTable, datarecording.ExecInfo{})
	reader.MapTable(tracing.EngineStatsTable, tracing.EngineStatsEntry{})
	reader.MapTable(tracing.InterceptStatsTable, tracing.InterceptStatsEntry{})

	execRows, _, err := reader.Query(ctx, datarecording.ExecTable,
		datarecording.QueryParams{})
	if err != nil {
		return err
	}

	t := newTable("Property", "Value")
	for _, r := range execRows {
		e := r.(*datarecording.ExecInfo)
		t.Row(e.Property, e.Value)
	}

	fmt.Fprintln(w, titleStyle.Render("Run"))
	fmt.Fprintln(w, t.Render())

	engineRows, _, err := reader.Query(ctx, tracing.EngineStatsTable,
		datarecording.QueryParams{})
	if err != nil {
		return err
	}

	t = newTable("Counter", "Value")
	for _, r := range engineRows {
		e := r.(*tracing.EngineStatsEntry)
		t.Row(e.Name, fmt.Sprint(e.Value))
	}

	fmt.Fprintln(w, titleStyle.Render("Engine"))
	fmt.Fprintln(w, t.Render())

	params := datarecording.QueryParams{OrderBy: "BreakpointID"}
	if unusedOnly {
		params.Where = "Hits = 0"
	}

	rows, _, err := reader.Query(ctx, tracing.InterceptStatsTable, params)
	if err != nil {
		return err
	}

	entries := make([]*tracing.InterceptStatsEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.(*tracing.InterceptStatsEntry))
	}

	t = newTable("BP", "Address", "Class", "Function",
		"Hits", "Intercepted", "Passed", "Errors").
		StyleFunc(interceptStyle(entries))

	for _, e := range entries {
		t.Row(
			fmt.Sprint(e.BreakpointID),
			fmt.Sprintf("%#x", e.Addr),
			e.Class,
			e.Function,
			fmt.Sprint(e.Hits),
			fmt.Sprint(e.Intercepted),
			fmt.Sprint(e.PassedThrough),
			fmt.Sprint(e.Errors),
		)
	}

	fmt.Fprintln(w, titleStyle.Render("Intercepts"))
	fmt.Fprintln(w, t.Render())

	return nil
}
