package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/domus/internal/bootstrap"
	"github.com/btouchard/domus/internal/config"
	"github.com/btouchard/domus/internal/control"
	"github.com/btouchard/domus/internal/credential"
	"github.com/btouchard/domus/internal/devices"
	"github.com/btouchard/domus/internal/hamcp"
	"github.com/btouchard/domus/internal/hub"
	domusmcp "github.com/btouchard/domus/internal/mcp"
	"github.com/btouchard/domus/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "version":
		fmt.Printf("domus %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: domus <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve     Start the Domus MCP proxy\n")
	fmt.Fprintf(os.Stderr, "  token     Bootstrap against the hub and print the proxy token\n")
	fmt.Fprintf(os.Stderr, "  check     Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  version   Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting domus",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"hub", cfg.Hub.URL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdToken(args []string) {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	token, err := bootstrapToken(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

// bootstrapToken runs the session bootstrap against the configured hub.
func bootstrapToken(ctx context.Context, cfg *config.Config) (string, error) {
	b := bootstrap.New(
		credential.NewStore(cfg.Hub.CacheDir),
		&hub.WebSocketDialer{},
		&hub.LoginFlow{},
		&hub.ConfigFlow{},
		cfg.Hub,
	)
	return b.Token(ctx)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- Session Bootstrap ---
	token, err := bootstrapToken(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrapping hub session: %w", err)
	}
	slog.Info("hub session bootstrapped")

	// --- SQLite Activity Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path, cfg.Database.RetentionDays)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)
	go cleanupLoop(ctx, db)

	// --- Device Cache & Dispatcher ---
	tools := hamcp.New(cfg.Hub.URL, token, version)
	cache := devices.NewCache(tools)

	dispatcher := control.NewDispatcher(cache, tools, cfg.Control.MaxConcurrent)
	dispatcher.SetRecordFunc(func(tool, deviceName string, o control.Outcome) {
		detail := o.Error
		if o.Success {
			detail = string(o.Result)
		}
		if err := db.RecordControl(&store.ControlEvent{
			Tool:       tool,
			DeviceID:   o.DeviceID,
			DeviceName: deviceName,
			Success:    o.Success,
			Detail:     detail,
		}); err != nil {
			slog.Warn("failed to record control outcome", "error", err)
		}
	})

	// --- MCP Server ---
	mcpServer := domusmcp.NewServer(&domusmcp.Deps{
		Cache:      cache,
		Dispatcher: dispatcher,
		Activity:   db,
		Version:    version,
	})

	mcpHTTP := server.NewStreamableHTTPServer(mcpServer)

	// --- HTTP Router ---
	r := chi.NewRouter()
	r.Handle("/mcp", mcpHTTP)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("domus is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// cleanupLoop prunes old activity records once a day.
func cleanupLoop(ctx context.Context, db store.Store) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := db.Cleanup(); err != nil {
				slog.Warn("activity cleanup failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
