package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/media"
	"github.com/friendsincode/easyaps/internal/schedule"
	"github.com/friendsincode/easyaps/internal/timeline"
)

var (
	checkDay      string
	checkRollover int
)

var checkCmd = &cobra.Command{
	Use:   "check <timetable.csv>",
	Short: "Parse a timetable and show what would air",
	Long:  "Parse a timetable file, print every record with its resolved time and media file, and list the rows that would be skipped. The broadcast day defaults to the file name (YYMMDD.csv).",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkDay, "day", "", "broadcast day (YYYY-MM-DD or YYMMDD); defaults to the file name, then today")
	checkCmd.Flags().IntVar(&checkRollover, "rollover", -1, "rollover hour 0-5; defaults to the configured value")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	rollover := cfg.RolloverHour
	if checkRollover >= 0 {
		rollover = checkRollover
	}
	clk, err := clock.New(rollover)
	if err != nil {
		return err
	}

	path := args[0]
	day, err := checkTargetDay(clk, path, checkDay)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, diags, err := schedule.NewParser(clk).Parse(f, day)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	resolver := media.NewResolver(cfg.ContentsDir, cfg.FallbackFile, logger)
	printCheck(cmd.OutOrStdout(), clk, day, records, diags, resolver)

	if len(records) == 0 {
		return schedule.ErrNoRecords
	}
	return nil
}

// checkTargetDay picks the broadcast day: the flag, then a YYMMDD file
// name, then today.
func checkTargetDay(clk *clock.Clock, path, flag string) (clock.Day, error) {
	if flag != "" {
		return clock.ParseDay(flag, clk.Location())
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if d, err := clock.ParseDay(stem, clk.Location()); err == nil {
		return d, nil
	}
	return clk.Today(), nil
}

func printCheck(out io.Writer, clk *clock.Clock, day clock.Day, records []timeline.Record, diags []schedule.Diagnostic, resolver *media.Resolver) {
	fmt.Fprintf(out, "broadcast day %s, rollover %02d:00, %d records\n\n", day, clk.RolloverHour(), len(records))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tTIME\tAT\tKIND\tITEM\tFILE")
	for _, rec := range records {
		res := resolver.Resolve(rec)
		file := res.Path
		if res.Fallback {
			file += " (missing, fallback)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n",
			rec.Row,
			clk.FormatBroadcastTime(rec.ScheduledAt),
			rec.ScheduledAt.Format("2006-01-02 15:04:05"),
			rec.Kind,
			rec.ItemKey,
			file,
		)
	}
	_ = tw.Flush()

	if len(diags) > 0 {
		fmt.Fprintf(out, "\n%d skipped rows:\n", len(diags))
		for _, d := range diags {
			fmt.Fprintf(out, "  %s\n", d)
		}
	}
}
