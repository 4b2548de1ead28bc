// Lotse answers questions about German administrative procedures by
// planning, retrieving and synthesising over a civic document store.
//
// It runs as an HTTP server by default; -query runs a single query on
// the command line and prints the aggregated result as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/openlotse/lotse/pkg/analysis"
	"github.com/openlotse/lotse/pkg/api"
	"github.com/openlotse/lotse/pkg/database"
	"github.com/openlotse/lotse/pkg/executor"
	"github.com/openlotse/lotse/pkg/hypothesis"
	"github.com/openlotse/lotse/pkg/llm"
	"github.com/openlotse/lotse/pkg/pipeline"
	"github.com/openlotse/lotse/pkg/plan"
	"github.com/openlotse/lotse/pkg/progress"
	"github.com/openlotse/lotse/pkg/rerank"
	"github.com/openlotse/lotse/pkg/retrieval"
	"github.com/openlotse/lotse/pkg/retrieval/pgbackend"
	"github.com/openlotse/lotse/pkg/scheduler"
	"github.com/openlotse/lotse/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func setupLogging() {
	level := slog.LevelInfo
	switch getEnv("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func main() {
	// 1. Parse command-line flags
	envFile := flag.String("env", getEnv("ENV_FILE", ".env"), "Path to .env file")
	oneShot := flag.String("query", "", "Run a single query and exit")
	flag.Parse()

	// 2. Load .env file (optional)
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("No .env file loaded, using environment variables", "path", *envFile)
	}

	setupLogging()

	ctx := context.Background()

	// 3. Connect to the document store. Lotse degrades without it:
	// plans still execute, retrieval steps come back empty.
	var dbClient *database.Client
	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Invalid database configuration", "error", err)
		os.Exit(1)
	}
	dbClient, err = database.NewClient(ctx, dbCfg)
	if err != nil {
		slog.Warn("Document store unavailable, retrieval disabled", "error", err)
		dbClient = nil
	} else {
		defer dbClient.Close()
		slog.Info("Database initialized", "host", dbCfg.Host, "database", dbCfg.Database)
	}

	// 4. Connect to the model sidecar (optional). Without it the
	// keyword analyser still plans; hypothesis and re-ranking are off.
	var llmClient *llm.HTTPClient
	if endpoint := os.Getenv("LLM_ENDPOINT"); endpoint != "" {
		timeout := time.Duration(getEnvInt("LLM_TIMEOUT_SECONDS", 30)) * time.Second
		llmClient = llm.NewHTTPClient(endpoint, timeout)
		slog.Info("LLM client initialized", "endpoint", endpoint)
	} else {
		slog.Warn("LLM_ENDPOINT not set, hypothesis and re-ranking disabled")
	}

	// 5. Assemble the retrieval engine over the available backends
	var searcher executor.Searcher
	if dbClient != nil {
		pool := dbClient.Pool()
		backends := []retrieval.Backend{
			pgbackend.NewFulltextBackend(pool),
			pgbackend.NewGraphBackend(pool),
		}
		if llmClient != nil {
			backends = append(backends, pgbackend.NewVectorBackend(pool, llmClient))
		}

		var reranker retrieval.Reranker
		if llmClient != nil {
			reranker = rerank.NewService(llmClient, rerank.Config{}, slog.Default())
		}
		searcher = retrieval.NewEngine(backends, reranker, 0, slog.Default())
		slog.Info("Retrieval engine initialized", "backends", len(backends), "rerank", reranker != nil)
	}

	// 6. Step executor and scheduler
	execCfg := executor.DefaultConfig()
	execCfg.TopK = getEnvInt("RETRIEVAL_TOP_K", execCfg.TopK)
	execCfg.RerankTopN = getEnvInt("RERANK_TOP_N", execCfg.RerankTopN)
	stepExec := executor.New(searcher, execCfg, slog.Default())

	var hypoGen scheduler.HypothesisGenerator
	if llmClient != nil {
		hypoService, err := hypothesis.NewService(llmClient, hypothesis.Config{
			TemplatePath: os.Getenv("HYPOTHESIS_TEMPLATE"),
		}, slog.Default())
		if err != nil {
			slog.Error("Failed to initialize hypothesis service", "error", err)
			os.Exit(1)
		}
		hypoGen = hypoService
	}

	sched := scheduler.New(stepExec, hypoGen, scheduler.Options{
		MaxWorkers:       getEnvInt("MAX_WORKERS", scheduler.DefaultMaxWorkers),
		RetryFailed:      getEnvBool("RETRY_FAILED", false),
		EnableHypothesis: hypoGen != nil && getEnvBool("ENABLE_HYPOTHESIS", true),
		UseAgents:        getEnvBool("USE_AGENTS", true),
		EnableReranking:  getEnvBool("ENABLE_RERANKING", true),
	}, slog.Default())

	// 7. Pipeline: analyse, plan, execute
	pipe := pipeline.New(analysis.NewKeywordAnalyzer(), plan.NewBuilder(), sched, slog.Default())

	if *oneShot != "" {
		runOnce(ctx, pipe, *oneShot)
		return
	}

	// 8. HTTP server until SIGTERM/SIGINT
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var pool *pgxpool.Pool
	if dbClient != nil {
		pool = dbClient.Pool()
	}
	server := api.NewServer(pipe, pool, slog.Default())
	addr := ":" + getEnv("HTTP_PORT", "8080")
	slog.Info("Lotse started successfully", "version", version.Full(), "addr", addr)
	if err := server.ListenAndServe(ctx, addr); err != nil && err != http.ErrServerClosed {
		slog.Error("HTTP server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shutdown complete")
}

// runOnce executes a single query, logging progress events as they
// arrive, and prints the aggregated result to stdout.
func runOnce(ctx context.Context, pipe *pipeline.Pipeline, query string) {
	bus := progress.NewBus(progress.DefaultQueueSize, slog.Default())
	defer bus.Close()

	sub := bus.Subscribe(func(e progress.Event) {
		attrs := []any{"kind", e.Kind, "status", e.Status, "percentage", e.Percentage}
		if e.StepID != nil {
			attrs = append(attrs, "step", *e.StepID)
		}
		slog.Info("progress", attrs...)
	})
	defer sub.Close()

	result, err := pipe.Run(ctx, query, bus)
	sub.Close() // drain pending progress lines before the result
	if err != nil {
		slog.Error("Query failed", "error", err)
		os.Exit(1)
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("Failed to render result", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(raw))
}
