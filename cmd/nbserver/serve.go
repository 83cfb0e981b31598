package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/nb-music/server/internal/bilibili"
	"github.com/nb-music/server/internal/server"
	"github.com/nb-music/server/internal/server/handlers"
	"github.com/nb-music/server/internal/server/ipgeo"
	"github.com/nb-music/server/internal/storage"
	"github.com/nb-music/server/internal/storage/history"
	"github.com/nb-music/server/internal/storage/identity"
	"github.com/nb-music/server/internal/storage/library"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http", "localhost:5000", "Address to listen on (e.g., localhost:5000, :5000, 0.0.0.0:5000)")
	f.String("geo-db", "", "Path to MaxMind MMDB file for IP geolocation (optional)")
	f.String("bilibili-url", bilibili.DefaultBaseURL, "Bilibili API base URL")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins; empty allows any origin")
	f.Bool("history", true, "Commit the data directory to git after every change")
	f.Bool("watch", true, "Shut down when the executable is replaced")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	store, err := openStore()
	if err != nil {
		return err
	}
	serverCfg, err := storage.LoadServerConfig(ctx, store)
	if err != nil {
		return fmt.Errorf("failed to load server_config.json: %w", err)
	}

	sessionService := identity.NewSessionService(store, serverCfg.SessionTTL())
	if count, err := sessionService.CleanupExpired(ctx); err != nil {
		slog.WarnContext(ctx, "Failed to cleanup expired sessions", "err", err)
	} else if count > 0 {
		slog.InfoContext(ctx, "Cleaned up expired sessions", "count", count)
	}

	var repo *history.Repo
	if viper.GetBool("history") {
		if repo, err = history.Open(ctx, store.Dir(), "", ""); err != nil {
			return fmt.Errorf("failed to open history: %w", err)
		}
	}

	var geoChecker *ipgeo.Checker
	if geoDB := viper.GetString("geo-db"); geoDB != "" {
		if geoChecker, err = ipgeo.Open(geoDB); err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}
		defer func() { _ = geoChecker.Close() }()
		slog.InfoContext(ctx, "IP geolocation enabled", "db", geoDB)
	}

	if viper.GetBool("watch") {
		if err := watchExecutable(ctx, stop); err != nil {
			return fmt.Errorf("failed to watch executable: %w", err)
		}
	}

	mappings := library.NewMappingService(store)
	svc := &handlers.Services{
		Mappings:  mappings,
		Playlists: library.NewPlaylistService(store, serverCfg.Quotas.MaxPlaylistSongs),
		Plays:     library.NewPlayService(store, mappings),
		Sessions:  sessionService,
		Bilibili:  bilibili.NewClient(viper.GetString("bilibili-url"), nil),
		History:   repo,
	}
	version, _, _, _ := getBuildInfo()
	router := server.NewRouter(svc, &server.Config{
		ServerConfig:   serverCfg,
		Version:        version,
		IPGeo:          geoChecker,
		AllowedOrigins: viper.GetStringSlice("cors-origins"),
	}, store)
	defer router.Close()

	// ":5000" becomes "localhost:5000".
	addr := viper.GetString("http")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "data", store.Dir(), "version", version, "history", repo != nil)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// watchExecutable watches the current executable for modifications and calls
// stop to trigger graceful shutdown when detected.
func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}
