package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/keplerai/kepler/pkg/agent"
	"github.com/keplerai/kepler/pkg/auth"
	"github.com/keplerai/kepler/pkg/config"
	"github.com/keplerai/kepler/pkg/embedders"
	"github.com/keplerai/kepler/pkg/llms"
	"github.com/keplerai/kepler/pkg/observability"
	"github.com/keplerai/kepler/pkg/papers"
	"github.com/keplerai/kepler/pkg/search"
	"github.com/keplerai/kepler/pkg/server"
	"github.com/keplerai/kepler/pkg/store"
	"github.com/keplerai/kepler/pkg/tools"
	"github.com/keplerai/kepler/pkg/vector"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Host string `help:"Host to bind (overrides config)."`
	Port int    `help:"Port to listen on (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	logger, cleanup, err := initLogger(cli)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Observability.TracingEnabled, cfg.Observability.ServiceName, os.Stdout)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()
	metrics := observability.NewMetrics()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	conversations, err := store.NewConversationStore(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to initialize conversation store: %w", err)
	}
	paperStore, err := papers.NewStore(db, cfg.Database.Driver)
	if err != nil {
		return fmt.Errorf("failed to initialize paper store: %w", err)
	}

	embedder, err := embedders.New(cfg.Embedder)
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	vectors, err := vector.New(cfg.Vector)
	if err != nil {
		return fmt.Errorf("failed to initialize vector backend: %w", err)
	}

	chunker, err := papers.NewChunker(cfg.Chunker)
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}
	arxivClient := papers.NewClient(cfg.Registry)
	ingestor := papers.NewIngestor(
		arxivClient,
		papers.NewExtractor(),
		chunker,
		embedder,
		vectors,
		paperStore,
		cfg.Vector.Collection,
		cfg.Ingest,
	)
	searchService := search.NewService(embedder, vectors, paperStore, cfg.Vector.Collection)

	toolRegistry, err := buildToolRegistry(searchService, arxivClient, ingestor, paperStore, cfg.Agent.TopK)
	if err != nil {
		return err
	}

	authenticator, err := auth.NewFromConfig(cfg.Server.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize authentication: %w", err)
	}

	checkpoints := agent.NewCheckpointStore(time.Duration(cfg.Agent.CheckpointTTLSeconds) * time.Second)
	tasks := server.NewTaskRegistry()
	streams := server.NewStreamService(
		llms.NewRegistry(cfg.LLMs),
		toolRegistry,
		checkpoints,
		conversations,
		tasks,
		cfg.Agent,
		logger,
	)

	srv, err := server.New(server.Options{
		Config:        cfg.Server,
		AgentConfig:   cfg.Agent,
		Streams:       streams,
		Store:         conversations,
		Tasks:         tasks,
		Authenticator: authenticator,
		Metrics:       metrics,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	return srv.Start(ctx)
}

func buildToolRegistry(
	searchService *search.Service,
	arxivClient *papers.Client,
	ingestor *papers.Ingestor,
	paperStore *papers.Store,
	defaultTopK int,
) (*tools.Registry, error) {
	registry := tools.NewRegistry("search_service", "registry_client", "ingestor", "paper_store")

	toRegister := []tools.Tool{
		tools.NewRetrieveChunksTool(searchService, defaultTopK),
		tools.NewSearchPapersTool(arxivClient),
		tools.NewProposeIngestTool(arxivClient),
		tools.NewIngestPapersTool(ingestor),
		tools.NewListPapersTool(paperStore),
	}
	for _, tool := range toRegister {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool %s: %w", tool.Name(), err)
		}
	}
	return registry, nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "sqlite" {
		driver = "sqlite3"
	}

	db, err := sql.Open(driver, cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
