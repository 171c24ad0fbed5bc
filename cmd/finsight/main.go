// Finsight orchestrator server: exposes the financial-analysis HTTP API and
// drives LLM tool-calling conversations against configured MCP servers.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/finsight-ai/finsight/pkg/api"
	"github.com/finsight-ai/finsight/pkg/config"
	"github.com/finsight-ai/finsight/pkg/conversation"
	"github.com/finsight-ai/finsight/pkg/dialogue"
	"github.com/finsight-ai/finsight/pkg/events"
	"github.com/finsight-ai/finsight/pkg/llm"
	"github.com/finsight-ai/finsight/pkg/mcp"
	"github.com/finsight-ai/finsight/pkg/reuse"
	"github.com/finsight-ai/finsight/pkg/search"
	"github.com/finsight-ai/finsight/pkg/services"
	"github.com/finsight-ai/finsight/pkg/session"
	"github.com/finsight-ai/finsight/pkg/store"
	"github.com/finsight-ai/finsight/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func loadDatabaseConfig() store.Config {
	return store.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "finsight"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "finsight"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting finsight",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration: environment options plus the MCP server registry.
	cfg, err := config.Load(filepath.Join(*configDir, "mcp_servers.yaml"))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	opts := cfg.Options

	// 2. Database and embeddings.
	embedder := store.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"))
	db, err := store.New(ctx, loadDatabaseConfig(), embedder)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("Connected to PostgreSQL database")

	// 3. LLM dispatcher for the configured provider.
	llmService, err := llm.NewServiceFromConfig(opts)
	if err != nil {
		slog.Error("Failed to initialize LLM service", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM service initialized",
		"provider", string(opts.Provider), "model", opts.DefaultModel)

	// 4. MCP tool executor. Startup fails when a configured server cannot
	// connect, preventing silently broken configs.
	var executor *mcp.Executor
	var healthMonitor *mcp.HealthMonitor
	mcpFactory := mcp.NewClientFactory(cfg.MCPServerRegistry)
	serverIDs := cfg.AllMCPServerIDs()
	if len(serverIDs) > 0 {
		executor, err = mcpFactory.CreateExecutor(ctx, serverIDs,
			cfg.ForbiddenTools, opts.MCPFanout, opts.ToolCallTimeout)
		if err != nil {
			slog.Error("MCP startup validation failed", "error", err)
			os.Exit(1)
		}
		defer executor.Close()
		slog.Info("MCP servers connected",
			"count", len(serverIDs), "tools", len(executor.Catalog()))

		healthMonitor = mcp.NewHealthMonitor(mcpFactory, cfg.MCPServerRegistry)
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
	} else {
		slog.Warn("No MCP servers configured; tool calling is disabled")
		executor = mcp.NewExecutor(nil, nil, cfg.ForbiddenTools, opts.MCPFanout, opts.ToolCallTimeout)
	}

	// 5. Pipeline: events, sessions, dialogue context, search, reuse, engine.
	bus := events.NewBus(events.DefaultBufferSize)
	sessions := session.NewManager(opts.SessionTTL, opts.SessionHistoryWindow, opts.SessionMax)
	dialogueService := dialogue.NewService(llmService, opts.ContextModel)
	searcher := search.New(sessions, dialogueService, db, bus, opts)
	evaluator := reuse.NewEvaluator(llmService, opts.DefaultModel, opts.ReuseThreshold)
	prompts := conversation.LoadPrompts(opts.SystemPromptFile, opts.MessageTemplateFile)
	engine := conversation.NewEngine(llmService, executor, bus, opts, prompts)
	analysisService := services.NewAnalysisService(searcher, evaluator, engine, sessions, db, bus, opts)
	slog.Info("Analysis pipeline initialized")

	// 6. HTTP server.
	var mcpHealth api.MCPHealth
	if healthMonitor != nil {
		mcpHealth = healthMonitor
	}
	httpServer := &http.Server{
		Addr:    ":" + httpPort,
		Handler: api.NewServer(analysisService, bus, mcpHealth).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 7. Wait for a shutdown signal or a server error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
