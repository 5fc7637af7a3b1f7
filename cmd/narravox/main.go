// Command narravox resolves speaker attributions for a chapter artifact: it
// scores every dialogue span deterministically, escalates the uncertain ones
// through the cache and local-LLM arbitration, and writes the resolved batch
// plus its run metadata sidecar.
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

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narravox/narravox/internal/cache"
	"github.com/narravox/narravox/internal/config"
	"github.com/narravox/narravox/internal/infer"
	"github.com/narravox/narravox/internal/observe"
	"github.com/narravox/narravox/internal/resolve"
	"github.com/narravox/narravox/internal/span"
	"github.com/narravox/narravox/pkg/provider/llm"
	"github.com/narravox/narravox/pkg/provider/llm/anyllm"
	oaiprovider "github.com/narravox/narravox/pkg/provider/llm/openai"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputPath := flag.String("input", "", "path to the chapter span artifact (JSON)")
	outputPath := flag.String("output", "", "path for the resolved batch artifact (JSON)")
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		fmt.Fprintln(os.Stderr, "narravox: -input and -output are required")
		flag.Usage()
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "narravox: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "narravox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("narravox starting",
		"version", version,
		"config", *configPath,
		"input", *inputPath,
		"output", *outputPath,
		"provider", cfg.Provider,
		"model", cfg.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "narravox",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr)
		defer srv.Close()
	}

	// ── Model provider ────────────────────────────────────────────────────────
	provider, err := buildProvider(cfg)
	if err != nil {
		slog.Error("failed to build model provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.Provider, "model", cfg.Model)

	client, err := infer.New(provider, cfg.Model, cfg.PromptVersion,
		infer.WithTimeout(time.Duration(cfg.TimeoutS)*time.Second),
		infer.WithTemperature(cfg.Temperature),
	)
	if err != nil {
		slog.Error("failed to build inference client", "err", err)
		return 1
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	store, err := cache.NewFileStore(cfg.CacheRoot)
	if err != nil {
		slog.Error("failed to open resolution cache", "err", err, "root", cfg.CacheRoot)
		return 1
	}

	// ── Resolve ───────────────────────────────────────────────────────────────
	doc, err := span.ReadDocument(*inputPath)
	if err != nil {
		slog.Error("failed to read input artifact", "err", err)
		return 1
	}
	slog.Info("input loaded", "book", doc.BookID, "chapter", doc.Chapter, "spans", len(doc.Spans), "roster", len(doc.Roster))

	resolver, err := resolve.New(cfg, client, store, resolve.WithLogger(logger))
	if err != nil {
		slog.Error("failed to build resolver", "err", err)
		return 1
	}

	started := time.Now()
	batch, meta, err := resolver.Run(ctx, doc)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("run cancelled; no artifact written")
			return 1
		}
		slog.Error("run failed", "err", err)
		return 1
	}

	if err := span.WriteBatch(*outputPath, batch, meta); err != nil {
		slog.Error("failed to write output artifact", "err", err)
		return 1
	}

	slog.Info("run complete",
		"elapsed", time.Since(started).Round(time.Millisecond),
		"spans", len(batch.Spans),
		"heuristic", meta.CountsByMethod[span.MethodHeuristic],
		"llm", meta.CountsByMethod[span.MethodLLM],
		"fallback", meta.CountsByMethod[span.MethodFallback],
		"cache_hit_ratio", fmt.Sprintf("%.2f", meta.CacheHitRatio),
		"inference_calls", meta.InferenceCalls,
		"mandatory_review", meta.FallbackLastResort,
	)
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// buildProvider instantiates the configured model backend. Every backend is a
// local server; EndpointBaseURL overrides its default address.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderOllama, config.ProviderLlamaCpp, config.ProviderLlamaFile:
		var opts []anyllmlib.Option
		if cfg.EndpointBaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.EndpointBaseURL))
		}
		return anyllm.New(string(cfg.Provider), cfg.Model, opts...)
	case config.ProviderOpenAICompat:
		return oaiprovider.New(cfg.Model,
			oaiprovider.WithBaseURL(cfg.EndpointBaseURL),
			oaiprovider.WithTimeout(time.Duration(cfg.TimeoutS)*time.Second),
		)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}

// ── Metrics endpoint ──────────────────────────────────────────────────────────

// serveMetrics exposes the Prometheus scrape endpoint for the duration of the
// run. Failures to listen are logged, not fatal: metrics never block a run.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		slog.Info("metrics endpoint listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics endpoint error", "err", err)
		}
	}()
	return srv
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
