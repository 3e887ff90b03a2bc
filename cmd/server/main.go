package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mikeboe/deep-research/pkg/clients"
	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/embeddings"
	"github.com/mikeboe/deep-research/pkg/knowledge"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/vectorstore"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()

	stack, err := clients.NewStack(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize research stack", "error", err)
		os.Exit(1)
	}
	newResearcher := func(l *slog.Logger) server.Researcher { return stack.Engine(l) }

	var (
		jobs server.JobStore
		kb   server.KnowledgeBase
	)
	if cfg.DatabaseURL != "" {
		db, err := setupDatabase(ctx, cfg)
		if err != nil {
			logger.Error("Failed to set up database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		jobs = db

		if knowledgeBase, err := setupKnowledge(ctx, cfg, db, logger); err != nil {
			logger.Warn("Knowledge search disabled", "error", err)
		} else {
			kb = knowledgeBase
		}
	} else {
		logger.Warn("DATABASE_URL not set, jobs and knowledge search are disabled")
	}

	metrics := server.NewMetrics()
	svc := server.NewService(newResearcher, jobs, kb, metrics, logger)
	svc.DefaultBreadth = cfg.DefaultBreadth
	svc.DefaultDepth = cfg.DefaultDepth
	handler := server.NewHandler(svc)

	r := gin.Default()
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposeHeaders: []string{"Content-Length", "Mcp-Session-Id"},
	}))
	handler.RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error("Jobs did not stop in time", "error", err)
	}
}

func setupDatabase(ctx context.Context, cfg *config.Config) (*database.PostgresDB, error) {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if n, err := db.FailInterruptedJobs(ctx); err != nil {
		slog.Warn("Could not reset interrupted jobs", "error", err)
	} else if n > 0 {
		slog.Info("Marked interrupted jobs as failed", "count", n)
	}
	return db, nil
}

func setupKnowledge(ctx context.Context, cfg *config.Config, db *database.PostgresDB, logger *slog.Logger) (*knowledge.Toolset, error) {
	embedder, err := embeddings.NewGoogleEmbedder(ctx, cfg.GoogleApiKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureVectorExtension(ctx); err != nil {
		return nil, err
	}
	if err := db.CreateEmbeddingsTable(ctx, cfg.CollectionName, embedder.Dimensions()); err != nil {
		return nil, err
	}
	store, err := vectorstore.NewPGVectorStore(db.Pool, cfg.CollectionName)
	if err != nil {
		return nil, err
	}
	return knowledge.NewToolset(store, embedder, cfg.ChunkSize, cfg.ChunkOverlap, logger), nil
}
