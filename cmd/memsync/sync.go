package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Napageneral/memsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [service]",
		Short: "Sync live services (discord, slack, anthropic, openai)",
		Long:  "Sync one live service, or every enabled service when none is named",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, database := mustOpen()
			defer database.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := sync.NewRunner(database, cfg)
			var result sync.SyncResult
			if len(args) == 1 {
				res, err := runner.SyncOne(ctx, args[0])
				result = sync.SyncResult{OK: err == nil, Services: []sync.ServiceResult{res}}
			} else {
				result = runner.SyncAll(ctx)
			}

			if jsonOutput {
				printJSON(result)
			} else {
				printServiceResults(result)
			}
			if !result.OK {
				os.Exit(1)
			}
		},
	}
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <imessage|whatsapp|openai|anthropic|generic> <path>",
		Short: "Import an export file",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			cfg, database := mustOpen()
			defer database.Close()

			opts := sync.FileOptions{}
			opts.ChatName, _ = cmd.Flags().GetString("chat-name")
			if tz, _ := cmd.Flags().GetString("tz"); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					fail("Invalid --tz: %v", err)
				}
				opts.Location = loc
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := sync.NewRunner(database, cfg).ImportFile(ctx, args[0], args[1], opts)
			result := sync.SyncResult{OK: err == nil, Services: []sync.ServiceResult{res}}
			if jsonOutput {
				printJSON(result)
			} else {
				printServiceResults(result)
			}
			if err != nil {
				os.Exit(1)
			}
		},
	}
	cmd.Flags().String("chat-name", "", "Chat name recorded as the recipient of WhatsApp messages")
	cmd.Flags().String("tz", "", "IANA zone of WhatsApp export times (default UTC)")
	return cmd
}

func printServiceResults(result sync.SyncResult) {
	if len(result.Services) == 0 {
		fmt.Println(result.Message)
		return
	}
	fmt.Println("Sync results:")
	for _, r := range result.Services {
		if !r.Success {
			fmt.Printf("\n✗ %s\n", r.Service)
			fmt.Printf("  Error: %s\n", r.Error)
			continue
		}
		fmt.Printf("\n✓ %s\n", r.Service)
		fmt.Printf("  Inserted: %d\n", r.Inserted)
		fmt.Printf("  Duplicates: %d\n", r.Duplicates)
		if r.Skipped > 0 {
			fmt.Printf("  Skipped: %d\n", r.Skipped)
		}
		if r.Failed > 0 || r.FailedItems > 0 {
			fmt.Printf("  Failed: %d (items: %d)\n", r.Failed, r.FailedItems)
		}
		fmt.Printf("  Duration: %s\n", r.Duration)
	}
	if result.Message != "" {
		fmt.Printf("\n%s\n", result.Message)
	}
}
