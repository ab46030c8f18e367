// ABOUTME: Entry point for the supportd assignment server
// ABOUTME: Routes support conversations to skilled agents and redistributes on dropout

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaywise/supportd/internal/assignment"
	"github.com/relaywise/supportd/internal/config"
	"github.com/relaywise/supportd/internal/directory"
	"github.com/relaywise/supportd/internal/httpapi"
	"github.com/relaywise/supportd/internal/metrics"
	"github.com/relaywise/supportd/internal/notify"
	"github.com/relaywise/supportd/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _      _
 ___ _   _ _ __  _ __   ___  _ __ __| |  __| |
/ __| | | | '_ \| '_ \ / _ \| '__/ _' | / _' |
\__ \ |_| | |_) | |_) | (_) | | | (_| || (_| |
|___/\__,_| .__/| .__/ \___/|_|  \__,_| \__,_|
          |_|   |_|
`

// getConfigPath returns the path to the supportd config file.
// Priority: SUPPORTD_CONFIG env var > XDG_CONFIG_HOME/supportd/supportd.yaml > ~/.config/supportd/supportd.yaml
func getConfigPath() string {
	if envPath := os.Getenv("SUPPORTD_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "supportd.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "supportd", "supportd.yaml")
}

// getDataPath returns the path to the supportd data directory.
// Priority: XDG_DATA_HOME/supportd > ~/.local/share/supportd
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "supportd")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: supportd <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve    Start the assignment server")
		fmt.Println("  init     Write a starter config file")
		fmt.Println("  health   Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Broker.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Broker:    ")
		cyan.Printf("%s\n", cfg.Broker.Exchange)
	}
	fmt.Println()

	logger.Info("starting supportd",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	// Persistence
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Notifications: in-process fan-out always, AMQP when configured
	broadcaster := notify.NewBroadcaster(logger)
	defer broadcaster.Close()

	emitter := notify.MultiEmitter{broadcaster}
	if cfg.Broker.Enabled {
		amqpEmitter, err := notify.NewAMQPEmitter(cfg.Broker.URL, cfg.Broker.Exchange, logger)
		if err != nil {
			return fmt.Errorf("connecting to broker: %w", err)
		}
		defer amqpEmitter.Close()
		emitter = append(emitter, amqpEmitter)
	}

	var recorder *metrics.Recorder
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
	}

	// Assignment pipeline
	limits := assignment.Limits{
		MaxConversationsPerAgent: cfg.Assignment.MaxConversationsPerAgent,
		HighPriorityLimit:        cfg.Assignment.HighPriorityLimit,
		WaitingPickupBatch:       cfg.Assignment.WaitingPickupBatch,
	}
	engine := assignment.NewEngine(st, emitter, recorder, limits, logger)
	redistributor := assignment.NewRedistributor(st, engine, recorder, logger)
	dir := directory.NewService(st, engine, redistributor, logger)

	// Presence sweeper
	sweeper := directory.NewSweeper(st, redistributor, recorder,
		cfg.Presence.HeartbeatTimeout, cfg.Presence.SweepInterval, logger)

	// HTTP surface
	mux := http.NewServeMux()
	httpapi.New(dir, engine, st, logger).RegisterRoutes(mux)
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	server := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Go(func() {
		sweeper.Run(ctx)
	})

	errCh := make(chan error, 1)
	wg.Go(func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	wg.Wait()
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

const starterConfig = `# supportd configuration
server:
  http_addr: "127.0.0.1:8474"

database:
  path: "%s"

# Outbound notification broker (RabbitMQ). Optional; in-process
# subscribers always receive events.
broker:
  enabled: false
  url: "${AMQP_URL}"
  exchange: "supportd.events"

assignment:
  max_conversations_per_agent: 5
  high_priority_limit: 3
  waiting_pickup_batch: 3

presence:
  heartbeat_timeout: "90s"
  sweep_interval: "30s"

logging:
  level: "info"
  format: "color"

metrics:
  enabled: true
  path: "/metrics"
`

func runInit() error {
	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "supportd.db")

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	content := fmt.Sprintf(starterConfig, dbPath)
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("Next: supportd serve")
	return nil
}
