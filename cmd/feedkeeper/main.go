package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"feedkeeper/internal/config"
	"feedkeeper/internal/database"
	"feedkeeper/internal/engine"
	"feedkeeper/internal/fetch"
	"feedkeeper/internal/importer"
	"feedkeeper/internal/models"
	"feedkeeper/internal/queue"
	"feedkeeper/internal/server"
	"feedkeeper/internal/server/api"
	"feedkeeper/internal/store"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func usage() {
	fmt.Println("Usage: feedkeeper [command] [options]")
	fmt.Println("Commands: add, import, start, server")
	fmt.Println("\nFor command-specific options, use: feedkeeper [command] -h")
}

func main() {
	// A missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

	cfg := config.DefaultConfig()

	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	var feedName, feedURL string
	addCmd.StringVar(&feedName, "name", "", "Display name for the subscription")
	addCmd.StringVar(&feedURL, "url", "", "Feed URL to subscribe to")
	addDB := addCmd.String("db", config.GetEnvString("FEEDKEEPER_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDKEEPER_DB_PATH)")
	addLogLevel := addCmd.String("log-level", config.GetEnvString("FEEDKEEPER_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDKEEPER_LOG_LEVEL)")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	importCSV := importCmd.String("csv", config.GetEnvString("FEEDKEEPER_CSV_PATH", config.DefaultFeedsCSVPath),
		"Path or URL of the feeds CSV file (env: FEEDKEEPER_CSV_PATH)")
	importDB := importCmd.String("db", config.GetEnvString("FEEDKEEPER_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDKEEPER_DB_PATH)")
	importLogLevel := importCmd.String("log-level", config.GetEnvString("FEEDKEEPER_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDKEEPER_LOG_LEVEL)")

	startCmd := flag.NewFlagSet("start", flag.ExitOnError)
	startDB := startCmd.String("db", config.GetEnvString("FEEDKEEPER_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDKEEPER_DB_PATH)")
	startWorkers := startCmd.Int("workers", config.GetEnvInt("FEEDKEEPER_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of fetch workers, 0 for CPU count (env: FEEDKEEPER_WORKER_COUNT)")
	startInterval := startCmd.Int("interval", config.GetEnvInt("FEEDKEEPER_SCAN_INTERVAL", config.DefaultScanInterval),
		"Minutes between due-feed scans (env: FEEDKEEPER_SCAN_INTERVAL)")
	startLogLevel := startCmd.String("log-level", config.GetEnvString("FEEDKEEPER_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDKEEPER_LOG_LEVEL)")

	serverCmd := flag.NewFlagSet("server", flag.ExitOnError)
	serverDB := serverCmd.String("db", config.GetEnvString("FEEDKEEPER_DB_PATH", config.DefaultDBPath),
		"Path to the SQLite database file (env: FEEDKEEPER_DB_PATH)")
	serverHost := serverCmd.String("host", config.GetEnvString("FEEDKEEPER_HOST", config.DefaultServerHost),
		"Host to bind the server to (env: FEEDKEEPER_HOST)")
	serverPort := serverCmd.Int("port", config.GetEnvInt("FEEDKEEPER_PORT", config.DefaultServerPort),
		"Port to listen on (env: FEEDKEEPER_PORT)")
	serverWorkers := serverCmd.Int("workers", config.GetEnvInt("FEEDKEEPER_WORKER_COUNT", config.DefaultWorkerCount),
		"Number of fetch workers, 0 for CPU count (env: FEEDKEEPER_WORKER_COUNT)")
	serverInterval := serverCmd.Int("interval", config.GetEnvInt("FEEDKEEPER_SCAN_INTERVAL", config.DefaultScanInterval),
		"Minutes between due-feed scans (env: FEEDKEEPER_SCAN_INTERVAL)")
	serverLogLevel := serverCmd.String("log-level", config.GetEnvString("FEEDKEEPER_LOG_LEVEL", config.DefaultLogLevel),
		"Log level: debug, info, warn, error (env: FEEDKEEPER_LOG_LEVEL)")

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		cfg.DBPath = *addDB
		applyLogLevel(cfg, *addLogLevel)
		err = runAdd(cfg, feedName, feedURL)

	case "import":
		importCmd.Parse(os.Args[2:])
		cfg.DBPath = *importDB
		cfg.FeedsCSVPath = *importCSV
		applyLogLevel(cfg, *importLogLevel)
		err = runImport(cfg)

	case "start":
		startCmd.Parse(os.Args[2:])
		cfg.DBPath = *startDB
		cfg.WorkerCount = *startWorkers
		cfg.ScanInterval = time.Duration(*startInterval) * time.Minute
		applyLogLevel(cfg, *startLogLevel)
		err = runStart(cfg)

	case "server":
		serverCmd.Parse(os.Args[2:])
		cfg.DBPath = *serverDB
		cfg.ServerHost = *serverHost
		cfg.ServerPort = *serverPort
		cfg.WorkerCount = *serverWorkers
		cfg.ScanInterval = time.Duration(*serverInterval) * time.Minute
		applyLogLevel(cfg, *serverLogLevel)
		err = runServer(cfg)

	case "-h", "--help", "help":
		usage()
		os.Exit(0)

	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		usage()
		os.Exit(1)
	}

	if err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func applyLogLevel(cfg *config.Config, levelStr string) {
	if level, err := zerolog.ParseLevel(levelStr); err == nil {
		cfg.LogLevel = level
	}
	zerolog.SetGlobalLevel(cfg.LogLevel)
}

// openStore opens the database and wraps it in the store layer.
func openStore(cfg *config.Config) (*database.DB, *store.Store, error) {
	db, err := database.NewDB(database.NewConfig(cfg.DBPath))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, store.NewStore(db), nil
}

// buildEngine wires the sync engine: fetcher, queue, orchestrator, scanner.
func buildEngine(cfg *config.Config, st *store.Store) (*queue.Queue, *engine.Orchestrator, *engine.Scanner) {
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.FetchTimeout,
		MaxItems:  cfg.MaxItems,
	})

	q := queue.New(workers, workers*4)
	orch := engine.NewOrchestrator(st, fetcher, q)
	scanner := engine.NewScanner(st, q, cfg.ScanInterval)
	return q, orch, scanner
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-shutdown
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	return ctx, cancel
}

// runAdd subscribes to a single feed from the command line.
func runAdd(cfg *config.Config, name, url string) error {
	if name == "" || url == "" {
		return fmt.Errorf("both -name and -url are required")
	}

	db, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	feed := models.NewFeed(name, url)
	if err := st.CreateFeed(context.Background(), feed); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	log.Info().Int64("feed_id", feed.ID).Str("url", url).Msg("Subscribed to feed")
	return nil
}

// runImport bulk-subscribes feeds from a CSV file or URL.
func runImport(cfg *config.Config) error {
	db, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	return importer.NewImporter(st).ImportFeeds(context.Background(), cfg.FeedsCSVPath)
}

// runStart runs the sync engine headless: scanner plus fetch workers, until
// a shutdown signal arrives.
func runStart(cfg *config.Config) error {
	db, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	q, orch, scanner := buildEngine(cfg, st)

	ctx, cancel := signalContext()
	defer cancel()

	q.Start(ctx, orch.RunCycle)
	log.Info().
		Dur("scan_interval", cfg.ScanInterval).
		Msg("Sync engine started")

	scanner.Run(ctx)
	q.Wait()

	processed, failed, dropped := q.Stats()
	log.Info().
		Int64("processed", processed).
		Int64("failed", failed).
		Int64("dropped", dropped).
		Msg("Sync engine stopped")
	return nil
}

// runServer runs the sync engine and the HTTP API in one process.
func runServer(cfg *config.Config) error {
	db, st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	q, orch, scanner := buildEngine(cfg, st)

	ctx, cancel := signalContext()
	defer cancel()

	q.Start(ctx, orch.RunCycle)
	go scanner.Run(ctx)

	handler := api.NewHandler(st, orch)
	if err := server.RunServer(ctx, handler, cfg.ListenAddr(), log.Logger, cfg.APIKey); err != nil {
		cancel()
		q.Wait()
		return err
	}

	q.Wait()

	processed, failed, dropped := q.Stats()
	log.Info().
		Int64("processed", processed).
		Int64("failed", failed).
		Int64("dropped", dropped).
		Msg("Server stopped")
	return nil
}
