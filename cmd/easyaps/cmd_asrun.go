package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/easyaps/internal/asrun"
	"github.com/friendsincode/easyaps/internal/clock"
	"github.com/friendsincode/easyaps/internal/db"
)

var asrunCmd = &cobra.Command{
	Use:   "asrun [day]",
	Short: "Print the as-run log of a broadcast day",
	Long:  "Print what actually aired on a broadcast day (YYYY-MM-DD or YYMMDD, default today) from the as-run database.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAsRun,
}

func runAsRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if cfg.DBDSN == "" {
		return errors.New("asrun needs EASYAPS_DB_DSN")
	}
	clk, err := clock.New(cfg.RolloverHour)
	if err != nil {
		return err
	}
	day := clk.Today()
	if len(args) == 1 {
		if day, err = clock.ParseDay(args[0], clk.Location()); err != nil {
			return err
		}
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		return err
	}

	entries, err := asrun.ListDay(cmd.Context(), database, day.String())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d entries\n\n", day, len(entries))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULED\tSTARTED\tLATE\tKIND\tITEM\tROUTE\tFILE")
	for _, e := range entries {
		file := e.Path
		if e.Fallback {
			file += " (fallback)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			clk.FormatBroadcastTime(e.ScheduledAt.In(clk.Location())),
			e.StartedAt.In(clk.Location()).Format("15:04:05"),
			e.Late().Truncate(time.Second),
			e.Kind, e.ItemKey, e.Route, file,
		)
	}
	return tw.Flush()
}
