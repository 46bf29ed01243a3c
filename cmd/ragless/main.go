package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/dshills/ragless-mcp/internal/config"
	"github.com/dshills/ragless-mcp/internal/llm"
	"github.com/dshills/ragless-mcp/internal/maintenance"
	"github.com/dshills/ragless-mcp/internal/mcp"
	"github.com/dshills/ragless-mcp/internal/orchestrator"
	"github.com/dshills/ragless-mcp/internal/store"
	"github.com/dshills/ragless-mcp/internal/textsearch"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("Ragless MCP Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", store.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", store.DriverName)
		os.Exit(0)
	}

	// Log startup info to stderr (stdout reserved for MCP protocol)
	log.SetOutput(os.Stderr)
	log.Printf("Ragless MCP Server v%s starting...", version)
	log.Printf("Build Mode: %s, Driver: %s", store.BuildMode, store.DriverName)

	// Local .env files override nothing already in the environment
	_ = godotenv.Load()

	if err := run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server stopped")
}

func run() error {
	cfgPath, err := config.DefaultPath()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	dispatcher := pickDispatcher(cfg.Retrieval.SearchTool)
	client := pickClient(cfg)

	orch := orchestrator.New(cfg, st, dispatcher, client)
	server := mcp.NewServer(orch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	janitor := maintenance.New(st, maintenance.DefaultInterval, cfg.Store.HotnessDecayRate)
	janitor.Start(ctx)
	defer janitor.Stop()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		log.Println("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
		return nil
	case err := <-errChan:
		return err
	}
}

// openStore resolves the database location and opens the cluster store.
func openStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbDir := cfg.Store.Path
	if dbDir == "" {
		var err error
		dbDir, err = config.DefaultDBDir()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	return store.NewSQLiteStore(filepath.Join(dbDir, "ragless.db"), store.Options{
		SimilarityThreshold: cfg.Store.SimilarityThreshold,
		ReuseTieBand:        cfg.Store.ReuseTieBand,
		CorroborationN:      cfg.Store.CorroborationN,
	})
}

// pickDispatcher prefers the configured external tool and falls back to the
// built-in scanner when the binary is not on PATH.
func pickDispatcher(tool string) textsearch.Dispatcher {
	switch tool {
	case "", "builtin":
		return textsearch.NewScanDispatcher()
	default:
		d := textsearch.NewExecDispatcher(tool)
		if err := d.Available(); err != nil {
			log.Printf("Search tool %q unavailable (%v), using built-in scanner", tool, err)
			return textsearch.NewScanDispatcher()
		}
		log.Printf("Using search tool: %s", tool)
		return d
	}
}

// pickClient builds the LLM client when credentials are present. Without one
// the server still runs; DEEP searches degrade to heuristic scoring.
func pickClient(cfg *config.Config) llm.Client {
	client, err := llm.NewOpenAIClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		MaxRetries:  cfg.LLM.MaxRetries,
		CallTimeout: cfg.LLM.CallTimeout,
		RatePerSec:  cfg.LLM.RatePerSec,
	})
	if err != nil {
		log.Printf("LLM unavailable (%v); DEEP mode will use heuristic scoring only", err)
		return nil
	}
	log.Printf("LLM model: %s", cfg.LLM.Model)
	return client
}
