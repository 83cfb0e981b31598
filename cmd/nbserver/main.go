// Package main is the entry point for the nbserver backend.
//
// nbserver maps Bilibili videos to NetEase Cloud Music songs, keeps user
// playlists and play records, and authenticates users through their Bilibili
// login. Data lives in JSON documents under the data directory, optionally
// tracked in git. Configuration is read from CLI flags, NBSERVER_* environment
// variables, .env files and server_config.json (JWT secret, quotas, rate
// limits).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/nb-music/server/internal/docstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rootCmd = &cobra.Command{
		Use:   "nbserver",
		Short: "Bilibili to NetEase song mapping server",
		Long: `nbserver maps Bilibili videos to NetEase Cloud Music songs and keeps user
playlists and play records.

Every flag can also be set with an NBSERVER_<FLAG> environment variable, e.g.
NBSERVER_DATA_DIR=/var/lib/nbserver. .env and <data-dir>/.env are loaded
first and never override the environment.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			printVersion()
		},
	}

	logLevel = &slog.LevelVar{}
)

func init() {
	viper.SetEnvPrefix("nbserver")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("data-dir", "./data", "Data directory")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Duration("lock-timeout", 10*time.Second, "Maximum wait for a document lock, 0 waits forever")
	rootCmd.PersistentFlags().Bool("cross-process", false, "Also lock documents with flock so several processes can share the data directory")

	rootCmd.AddCommand(serveCmd, verifyCmd, schemaCmd, seedCmd, historyCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "nbserver: %v\n", err)
		os.Exit(1)
	}
}

// setup binds the flags of the running command, loads .env files and
// installs the logger.
func setup(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	// Missing files are fine.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(viper.GetString("data-dir"), ".env"))

	switch l := viper.GetString("log-level"); l {
	case "debug":
		logLevel.Set(slog.LevelDebug)
	case "info":
		logLevel.Set(slog.LevelInfo)
	case "warn":
		logLevel.Set(slog.LevelWarn)
	case "error":
		logLevel.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", l)
	}
	slog.SetDefault(newLogger(logLevel))
	return nil
}

func newLogger(level slog.Leveler) *slog.Logger {
	// Skip timestamps when running under systemd (it adds its own).
	underSystemd := os.Getenv("JOURNAL_STREAM") != ""
	return slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if underSystemd && a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			// Drop localhost IPs (not useful in logs).
			if a.Key == "ip" {
				if v := a.Value.String(); v == "127.0.0.1" || v == "::1" {
					return slog.Attr{}
				}
			}
			skip := false
			switch t := a.Value.Any().(type) {
			case string:
				skip = t == ""
			case bool:
				skip = !t
			case uint64:
				skip = t == 0
			case int64:
				skip = t == 0
			case float64:
				skip = t == 0
			case time.Time:
				skip = t.IsZero()
			case time.Duration:
				skip = t == 0
			case nil:
				skip = true
			}
			if skip {
				return slog.Attr{}
			}
			return a
		},
	}))
}

// openStore opens the document store of the data directory.
func openStore() (*docstore.Store, error) {
	dir := viper.GetString("data-dir")
	store, err := docstore.New(dir, &docstore.Options{
		LockTimeout:  viper.GetDuration("lock-timeout"),
		CrossProcess: viper.GetBool("cross-process"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open data directory: %w", err)
	}
	return store, nil
}

func printVersion() {
	version, goVersion, revision, dirty := getBuildInfo()
	fmt.Printf("nbserver %s\n", version)
	fmt.Printf("  Go version: %s\n", goVersion)
	fmt.Printf("  Revision:   %s\n", revision)
	if dirty {
		fmt.Printf("  Modified:   true\n")
	}
}

func getBuildInfo() (version, goVersion, revision string, dirty bool) {
	version = "unknown"
	goVersion = "unknown"
	revision = "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	version = info.Main.Version
	if version == "" || version == "(devel)" {
		version = "dev"
	}
	goVersion = info.GoVersion
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	return
}
