package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Napageneral/memsync/internal/config"
	"github.com/Napageneral/memsync/internal/db"
	"github.com/Napageneral/memsync/internal/logging"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	configPath string
)

// cliResult is the envelope every command prints with --json.
type cliResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func main() {
	logging.Init()

	rootCmd := &cobra.Command{
		Use:   "memsync",
		Short: "Personal communication history aggregator",
		Long: `Memsync pulls your message history from iMessage, WhatsApp,
Discord, Slack and AI assistant exports into one deduplicated,
searchable SQLite store.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default: XDG config dir)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("memsync %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSyncCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newWatchCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize memsync config and database",
		Run: func(cmd *cobra.Command, args []string) {
			type Result struct {
				cliResult
				ConfigDir string `json:"config_dir,omitempty"`
				DataDir   string `json:"data_dir,omitempty"`
				DBPath    string `json:"db_path,omitempty"`
			}
			result := Result{cliResult: cliResult{OK: true}}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail("Failed to get config directory: %v", err)
			}
			result.ConfigDir = configDir

			dataDir, err := config.GetDataDir()
			if err != nil {
				fail("Failed to get data directory: %v", err)
			}
			result.DataDir = dataDir

			if err := os.MkdirAll(dataDir, 0755); err != nil {
				fail("Failed to create data directory: %v", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				fail("Failed to load config: %v", err)
			}
			if configPath == "" {
				if _, err := os.Stat(filepath.Join(configDir, "config.yaml")); os.IsNotExist(err) {
					if err := cfg.Save(); err != nil {
						fail("Failed to write config: %v", err)
					}
				}
			}

			database, dbPath, err := openDatabase(cfg)
			if err != nil {
				fail("Failed to initialize database: %v", err)
			}
			database.Close()
			result.DBPath = dbPath
			result.Message = "Memsync initialized successfully"

			if jsonOutput {
				printJSON(result)
				return
			}
			fmt.Printf("✓ Config directory: %s\n", result.ConfigDir)
			fmt.Printf("✓ Data directory: %s\n", result.DataDir)
			fmt.Printf("✓ Database: %s\n", result.DBPath)
			fmt.Println("\nMemsync initialized successfully!")
		},
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	path, err := cfg.ResolveDatabasePath()
	if err != nil {
		return nil, "", err
	}
	database, err := db.Open(path)
	if err != nil {
		return nil, "", err
	}
	return database, path, nil
}

// mustOpen loads config and opens the store, exiting on failure.
func mustOpen() (*config.Config, *sql.DB) {
	cfg, err := loadConfig()
	if err != nil {
		fail("Failed to load config: %v", err)
	}
	database, _, err := openDatabase(cfg)
	if err != nil {
		fail("Failed to open database: %v", err)
	}
	return cfg, database
}

// fail prints an error result and exits non-zero.
func fail(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if jsonOutput {
		printJSON(cliResult{OK: false, Message: msg})
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
	}
}
