package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Napageneral/memsync/internal/live"
	"github.com/Napageneral/memsync/internal/state"
	"github.com/Napageneral/memsync/internal/store"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [service]",
		Short: "Show sync state per service",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, database := mustOpen()
			defer database.Close()
			ctx := context.Background()

			var states []state.SyncState
			if len(args) == 1 {
				st, ok, err := state.GetStatus(ctx, database, args[0])
				if err != nil {
					fail("Failed to read sync state: %v", err)
				}
				if !ok {
					if jsonOutput {
						printJSON(map[string]string{"service": args[0], "last_status": "never"})
					} else {
						fmt.Printf("%s: never synced\n", args[0])
					}
					return
				}
				states = []state.SyncState{st}
			} else {
				all, err := state.List(ctx, database)
				if err != nil {
					fail("Failed to read sync state: %v", err)
				}
				states = all
			}

			limit, _ := cmd.Flags().GetInt("runs")
			var runs []state.RunRecord
			if limit > 0 {
				service := ""
				if len(args) == 1 {
					service = args[0]
				}
				r, err := state.Runs(ctx, database, service, limit)
				if err != nil {
					fail("Failed to read run history: %v", err)
				}
				runs = r
			}
			watchers, err := live.GetStatuses(database, cfg)
			if err != nil {
				fail("Failed to read watcher state: %v", err)
			}

			if jsonOutput {
				printJSON(map[string]any{"services": states, "runs": runs, "watchers": watchers})
				return
			}

			if len(states) == 0 {
				fmt.Println("No syncs have run yet.")
			}
			for _, s := range states {
				last := "never"
				if s.LastSyncAt != nil {
					last = humanize.Time(*s.LastSyncAt)
				}
				line := fmt.Sprintf("%-18s %-8s last %s, %s new, %s total", s.Service, s.LastStatus, last,
					humanize.Comma(s.LastInserted), humanize.Comma(s.TotalSynced))
				if s.IsRunning && s.StartedAt != nil {
					line += fmt.Sprintf(" (running since %s)", humanize.Time(*s.StartedAt))
				}
				fmt.Println(line)
				if s.LastError != nil && *s.LastError != "" {
					fmt.Printf("%18s error: %s\n", "", *s.LastError)
				}
			}

			if len(runs) > 0 {
				fmt.Println("\nRecent runs:")
				for _, r := range runs {
					dur := "-"
					if r.DurationMs != nil {
						dur = (time.Duration(*r.DurationMs) * time.Millisecond).String()
					}
					fmt.Printf("  %s  %-18s %-8s %6s new  %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"),
						r.Service, r.Status, humanize.Comma(r.Inserted), dur)
				}
			}

			for _, w := range watchers {
				if !w.Enabled && w.Status == "" {
					continue
				}
				fmt.Printf("\nwatcher %s: %s, %s file(s) processed, %d restart(s)\n",
					w.Name, orNone(w.Status), humanize.Comma(w.Processed), w.Restarts)
			}
		},
	}
	cmd.Flags().Int("runs", 0, "Also show this many recent runs")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show message counts per source",
		Run: func(cmd *cobra.Command, args []string) {
			_, database := mustOpen()
			defer database.Close()

			stats, err := store.New(database).Stats(context.Background())
			if err != nil {
				fail("Failed to read stats: %v", err)
			}
			if jsonOutput {
				printJSON(stats)
				return
			}

			fmt.Printf("%s messages\n", humanize.Comma(stats.Total))
			for _, s := range stats.Sources {
				fmt.Printf("  %-12s %10s  %s → %s (latest %s)\n", s.Source, humanize.Comma(s.Count),
					s.Earliest.Format("2006-01-02"), s.Latest.Format("2006-01-02"), humanize.Time(s.Latest))
			}
		},
	}
}

func orNone(s string) string {
	if s == "" {
		return "not started"
	}
	return s
}
