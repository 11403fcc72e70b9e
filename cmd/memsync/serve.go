package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Napageneral/memsync/internal/api"
	"github.com/Napageneral/memsync/internal/live"
	"github.com/Napageneral/memsync/internal/logging"
	"github.com/Napageneral/memsync/internal/schedule"
	"github.com/Napageneral/memsync/internal/sync"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduled syncs and file watchers",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, database := mustOpen()
			defer database.Close()

			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := sync.NewRunner(database, cfg)
			if _, err := runner.Reconcile(ctx); err != nil {
				fail("Failed to reconcile sync state: %v", err)
			}

			sched, err := schedule.New(cfg, runner)
			if err != nil {
				fail("Invalid schedule: %v", err)
			}
			go sched.Run(ctx)

			manager := live.NewManager(database, cfg, runner)
			if specs, err := manager.BuildSpecs(); err != nil {
				fail("Failed to configure watchers: %v", err)
			} else if len(specs) > 0 {
				go manager.RunSpecs(ctx, specs)
			}

			uploadDir, err := cfg.ResolveUploadDir()
			if err != nil {
				fail("Failed to resolve upload dir: %v", err)
			}
			server := api.NewServer(api.NewHandler(runner, uploadDir))

			go func() {
				if err := server.Start(cfg.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logging.Log.Error("server stopped", "error", err)
					stop()
				}
			}()
			logging.Log.Info("memsync listening", "addr", cfg.Server.Addr, "scheduled", len(sched.Entries()))

			<-ctx.Done()
			logging.Logf("Shutting down memsync...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logging.Warnf("Failed to shut down server gracefully: %v", err)
			}
		},
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr and PORT)")
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch the inbox (and optionally chat.db) and import new files",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, database := mustOpen()
			defer database.Close()

			if inbox, _ := cmd.Flags().GetString("inbox"); inbox != "" {
				cfg.Watch.Inbox = inbox
			}
			if imessage, _ := cmd.Flags().GetBool("imessage"); imessage {
				cfg.Watch.IMessage = true
			}
			cfg.Watch.Enabled = true

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runner := sync.NewRunner(database, cfg)
			if err := live.NewManager(database, cfg, runner).Run(ctx); err != nil {
				fail("%v", err)
			}
		},
	}
	cmd.Flags().String("inbox", "", "Inbox directory (default: <data dir>/inbox)")
	cmd.Flags().Bool("imessage", false, "Also re-import chat.db when it changes")
	return cmd
}
