package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/pitch/internal/cli"
	"github.com/aretw0/pitch/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pitch",
	Short: "pitch runs text-message adventures",
	Long: `pitch compiles a YAML script of locations and actions into a dialogue graph
and plays it with users over SMS (Twilio) or in the terminal.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands). They override the environment.
	rootCmd.PersistentFlags().String("script", "", "Script file (PITCH_SCRIPT)")
	rootCmd.PersistentFlags().String("store", "", "Store backend: memory, file, sqlite, postgres, redis (PITCH_STORE)")
	rootCmd.PersistentFlags().String("state-dir", "", "Directory of the file and sqlite stores (PITCH_STATE_DIR)")
	rootCmd.PersistentFlags().String("dsn", "", "SQL connection string (PITCH_DSN)")
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address (PITCH_REDIS_ADDR)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (PITCH_LOG_LEVEL)")
}

// loadConfig merges the environment with the flags. A positional argument
// names the script when --script is not given.
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	cfg := config.Load()
	flags := cmd.Flags()

	if v, _ := flags.GetString("script"); v != "" {
		cfg.Script = v
	} else if len(args) > 0 {
		cfg.Script = args[0]
	}
	if v, _ := flags.GetString("state-dir"); v != "" {
		cfg.StateDir = v
	}
	if v, _ := flags.GetString("dsn"); v != "" {
		cfg.DSN = v
		if !flags.Changed("store") {
			cfg.Store = config.DetectStore(v, "")
		}
	}
	if v, _ := flags.GetString("redis-addr"); v != "" {
		cfg.RedisAddr = v
	}
	if v, _ := flags.GetString("store"); v != "" {
		cfg.Store = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.Store == config.StoreRedis && cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	if cfg.Store == config.StoreSQLite && cfg.DSN == "" {
		cfg.DSN = filepath.Join(cfg.StateDir, "pitch.db")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// openApp loads the configuration and builds the engine on it.
func openApp(cmd *cobra.Command, args []string) (*cli.App, error) {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return nil, err
	}
	return cli.NewApp(cfg, cli.NewLogger(cfg.LogLevel))
}
