package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/n0madic/go-mmgateway/internal/config"
	"github.com/n0madic/go-mmgateway/internal/history"
	"github.com/n0madic/go-mmgateway/internal/imagesearch"
	"github.com/n0madic/go-mmgateway/internal/metrics"
	"github.com/n0madic/go-mmgateway/internal/proxy"
	"github.com/n0madic/go-mmgateway/internal/upstream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mmgateway <command> [flags]")
		fmt.Fprintln(os.Stderr, "Commands: serve, history")
		os.Exit(1)
	}

	// A missing .env file is normal; the process environment still applies.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "serve":
		os.Exit(cmdServe())
	case "history":
		os.Exit(cmdHistory())
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Commands: serve, history")
		os.Exit(1)
	}
}

func cmdServe() int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg := config.DefaultFromEnv()

	fs.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Listen port")
	fs.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")
	fs.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Dump inbound and provider traffic to stderr")
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "YAML config file")
	fs.StringVar(&cfg.HistoryPath, "history", cfg.HistoryPath, "Chat history file")
	fs.StringVar(&cfg.ProviderBaseURL, "base-url", cfg.ProviderBaseURL, "Provider base URL")
	fs.Parse(os.Args[2:])

	if cfg.ConfigPath != "" {
		if err := cfg.LoadFile(cfg.ConfigPath); err != nil {
			slog.Error("config.load.failed", "error", err)
			return 1
		}
		// Command-line flags win over the file.
		fs.Parse(os.Args[2:])
	}

	level := slog.LevelInfo
	if cfg.Verbose || cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.APIKey == "" {
		slog.Warn("OPENAI_API_KEY is not set; provider calls will be rejected upstream")
	}

	collector := metrics.NewCollector("mmgateway")
	hist := history.New(cfg.HistoryPath, collector.RecordHistoryAppend)
	defer hist.Close()

	search := imagesearch.New(cfg.ImageSearchBaseURL, cfg.ImageSearchKey)
	search.Verbose = cfg.Verbose

	srv := proxy.New(cfg, proxy.Deps{
		Provider:    upstream.New(cfg),
		ImageSearch: search,
		History:     hist,
		Metrics:     collector,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("gateway starting", "host", cfg.Host, "port", cfg.Port, "history", cfg.HistoryPath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		return 1
	}
	return 0
}

func cmdHistory() int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	path := fs.String("file", config.DefaultFromEnv().HistoryPath, "Chat history file")
	fs.Parse(os.Args[2:])

	entries, err := history.Load(*path)
	if err != nil {
		slog.Error("history.load.failed", "path", *path, "error", err)
		return 1
	}
	data, _ := json.MarshalIndent(entries, "", "  ")
	fmt.Println(string(data))
	return 0
}
