// Command cadenza is the main entry point for the Cadenza speech coaching server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/cadenza-coach/cadenza/internal/app"
	"github.com/cadenza-coach/cadenza/internal/coach"
	"github.com/cadenza-coach/cadenza/internal/coach/anyllm"
	"github.com/cadenza-coach/cadenza/internal/config"
	"github.com/cadenza-coach/cadenza/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cadenza: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cadenza: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so config reloads can adjust it without
	// swapping the handler.
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("cadenza starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"storage", cfg.Storage.Driver,
	)

	// ── Generator registry ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinGenerators(reg)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "cadenza",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, reg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyConfigChange(application, reg, level, config.Diff(old, new))
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

// ── Generator wiring ──────────────────────────────────────────────────────────

// anyllmProviders are the LLM backends reachable through any-llm-go. They all
// share the same factory shape: optional APIKey plus optional BaseURL.
var anyllmProviders = []string{
	"openai", "anthropic", "gemini", "ollama",
	"deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinGenerators wires all built-in coach generator factories into
// reg. Each factory receives the coach config block and constructs a generator
// from the real implementation packages.
func registerBuiltinGenerators(reg *config.Registry) {
	for _, providerName := range anyllmProviders {
		reg.RegisterGenerator(providerName, func(cc config.CoachConfig) (coach.Generator, error) {
			var opts []anyllmlib.Option
			if cc.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(cc.APIKey))
			}
			if cc.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cc.BaseURL))
			}
			return anyllm.New(providerName, cc.Model, opts)
		})
	}

	for _, name := range reg.Names() {
		slog.Debug("registered generator", "provider", name)
	}
}

// ── Config hot reload ─────────────────────────────────────────────────────────

// applyConfigChange applies the hot-reloadable parts of a config diff to the
// running application. Anything the diff does not track requires a restart.
func applyConfigChange(application *app.App, reg *config.Registry, level *slog.LevelVar, d config.ConfigDiff) {
	if !d.Any() {
		return
	}

	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}

	if d.FillerWordsChanged {
		application.Manager().UpdateFillerWords(d.NewFillerWords)
		slog.Info("filler vocabulary changed", "words", len(d.NewFillerWords))
	}

	if d.CoachModelChanged {
		cc := application.Config().Coach
		cc.Model = d.NewCoachModel
		gen, err := reg.CreateGenerator(cc)
		if err != nil {
			slog.Warn("coach model change ignored", "model", d.NewCoachModel, "err", err)
			return
		}
		application.Manager().SetGenerator(gen)
		slog.Info("coach model changed", "model", d.NewCoachModel)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Cadenza — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("Listen addr", cfg.Server.ListenAddr)
	printLine("Storage", string(cfg.Storage.Driver))
	if cfg.Coach.Provider != "" {
		printLine("Coach", cfg.Coach.Provider+" / "+cfg.Coach.Model)
	} else {
		printLine("Coach", "(fallback only)")
	}
	if cfg.Server.TLS != nil {
		printLine("TLS", "enabled")
	} else {
		printLine("TLS", "disabled")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
