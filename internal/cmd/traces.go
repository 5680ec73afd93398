package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/bisheshkhanal/ragebaiter/internal/db"
	"github.com/bisheshkhanal/ragebaiter/internal/stance"
)

var (
	tracesDB     string
	tracesViewer string
	tracesLevel  string
	tracesLimit  int
	tracesJSON   bool
)

var tracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "List stored decision traces",
	Long: `List the most recent decision traces written by "screen" to the DuckDB
trace store, optionally filtered by viewer or verdict level. --json prints the
full trace of every row.`,
	RunE: runTraces,
}

func init() {
	rootCmd.AddCommand(tracesCmd)

	tracesCmd.Flags().StringVar(&tracesDB, "trace-db", "", "DuckDB trace file (default: RAGEBAITER_TRACE_DB)")
	tracesCmd.Flags().StringVar(&tracesViewer, "viewer", "", "Only show traces for this viewer")
	tracesCmd.Flags().StringVar(&tracesLevel, "level", "", "Only show verdicts at this level: none, low, medium, critical")
	tracesCmd.Flags().IntVarP(&tracesLimit, "limit", "n", 20, "Max rows to show")
	tracesCmd.Flags().BoolVar(&tracesJSON, "json", false, "Print records as JSON")
}

func runTraces(cmd *cobra.Command, args []string) error {
	settings, logger, err := loadSettings()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	path := tracesDB
	if path == "" {
		path = settings.TraceDB
	}
	if path == "" {
		return fmt.Errorf("no trace database configured: pass --trace-db or set RAGEBAITER_TRACE_DB")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("trace database does not exist: %w", err)
	}

	level := stance.Level(tracesLevel)
	if tracesLevel != "" && !level.IsValid() {
		return fmt.Errorf("unknown level %q", tracesLevel)
	}

	database, err := db.Open(path)
	if err != nil {
		return err
	}
	defer database.Close()

	store := db.NewTraceStore(database)
	if err := store.EnsureSchema(cmd.Context()); err != nil {
		return err
	}
	records, err := store.List(cmd.Context(), db.TraceFilter{
		ViewerID: tracesViewer,
		Level:    level,
		Limit:    tracesLimit,
	})
	if err != nil {
		return err
	}

	if tracesJSON {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Println("No traces found")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	if err := table.Append([]string{"TIME", "VIEWER", "POST", "STAGE", "LEVEL", "DIST", "ACTION"}); err != nil {
		return fmt.Errorf("failed to append header row: %w", err)
	}
	for _, rec := range records {
		action := rec.Action
		if rec.Err != "" {
			action += " (" + truncateCell(rec.Err, 40) + ")"
		}
		row := []string{
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
			truncateCell(rec.ViewerID, 12),
			truncateCell(rec.PostID, 16),
			string(rec.Stage),
			levelColor(rec.Level).Sprint(rec.Level),
			fmt.Sprintf("%.3f", rec.Distance),
			action,
		}
		if err := table.Append(row); err != nil {
			return fmt.Errorf("failed to append row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}
	return nil
}

func truncateCell(s string, width int) string {
	if len(s) <= width {
		return s
	}
	return s[:width-1] + "~"
}

func levelColor(level stance.Level) *color.Color {
	switch level {
	case stance.LevelCritical:
		return color.New(color.FgHiRed, color.Bold)
	case stance.LevelMedium:
		return color.New(color.FgHiYellow)
	case stance.LevelLow:
		return color.New(color.FgHiBlue)
	default:
		return color.New(color.FgHiBlack)
	}
}
