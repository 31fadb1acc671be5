// Command server runs the conversational support backend: HTTP/WebSocket
// API, ingestion and query pipelines, and the background sweeps that keep
// the agent queue and session TTLs honest.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/vertexai/genai"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/aurorabench/converge-backend/internal/admin"
	"github.com/aurorabench/converge-backend/internal/agents"
	"github.com/aurorabench/converge-backend/internal/cache"
	"github.com/aurorabench/converge-backend/internal/config"
	"github.com/aurorabench/converge-backend/internal/conversation"
	"github.com/aurorabench/converge-backend/internal/docloader"
	"github.com/aurorabench/converge-backend/internal/embedgw"
	"github.com/aurorabench/converge-backend/internal/extraction"
	"github.com/aurorabench/converge-backend/internal/handover"
	"github.com/aurorabench/converge-backend/internal/ingest"
	"github.com/aurorabench/converge-backend/internal/llmgw"
	mw "github.com/aurorabench/converge-backend/internal/middleware"
	"github.com/aurorabench/converge-backend/internal/query"
	"github.com/aurorabench/converge-backend/internal/realtime"
	"github.com/aurorabench/converge-backend/internal/repository"
	"github.com/aurorabench/converge-backend/internal/router"
	"github.com/aurorabench/converge-backend/internal/session"
	"github.com/aurorabench/converge-backend/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	sessions, err := session.New(ctx, pool)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}

	vstore, err := vectorstore.New(ctx, pool, cfg.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}

	embedClient, err := embedgw.NewVertexClient(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	if err != nil {
		return fmt.Errorf("create embedding client: %w", err)
	}
	embed := embedgw.New(embedClient, cfg.EmbeddingBatchSize)

	llmClient, err := llmgw.NewVertexClient(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.LLMModel, cfg.Temperature, cfg.MaxOutputTokens)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	llm := llmgw.New(llmClient, cfg.LLMModel)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	answerCache := cache.NewAnswerCache(redisClient, cache.DefaultAnswerTTL, cache.DefaultAnswerCapacity)

	storageAdapter, err := docloader.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("create storage adapter: %w", err)
	}
	defer storageAdapter.Close()

	var ocr docloader.OCRClient
	if cfg.DocAIProcessorID != "" {
		docai, docaiErr := docloader.NewDocumentAIAdapter(ctx, cfg.GCPProject, cfg.DocAILocation)
		if docaiErr != nil {
			return fmt.Errorf("create document ai adapter: %w", docaiErr)
		}
		ocr = docai
	}

	var captioner docloader.Captioner
	if cfg.VertexAILocation != "global" {
		genaiClient, genaiErr := genai.NewClient(ctx, cfg.GCPProject, cfg.VertexAILocation)
		if genaiErr != nil {
			return fmt.Errorf("create genai client: %w", genaiErr)
		}
		captioner = docloader.NewVertexCaptioner(genaiClient, cfg.LLMModel)
	}

	loader := docloader.New(storageAdapter, ocr, captioner, cfg.DocAIProcessorID, cfg.GCSBucketName)

	chunkCache := ingest.NewChunkCache(os.TempDir()+"/converge-chunk-cache", 24*time.Hour)
	ingestCore := ingest.New(vstore, loader, embed, chunkCache,
		cfg.IngestionJobConcurrency, cfg.EmbeddingBatchGroups, time.Duration(cfg.IndexingJobTimeoutSec)*time.Second)

	queryCore := query.New(embed, vstore, llm, answerCache,
		cfg.QueryConcurrency, cfg.KDocuments, 0, time.Duration(cfg.QueryTimeoutSec)*time.Second)
	queryCore.SetSemanticCache(cache.NewSemanticCache(redisClient, cache.DefaultAnswerTTL, cache.DefaultAnswerCapacity))

	var fanout realtime.CrossProcess
	if cfg.RedisAddr != "" {
		fanout = realtime.NewRedisFanout(redisClient)
	}
	hub := realtime.NewHub(fanout)

	localAgents := agents.NewLocalSource(pool)
	var externalSource agents.Source
	if cfg.ExternalAgentDBEnabled {
		driver, driverErr := neo4j.NewDriverWithContext(cfg.ExternalAgentDBURI,
			neo4j.BasicAuth(cfg.ExternalAgentDBUser, cfg.ExternalAgentDBPassword, ""))
		if driverErr != nil {
			return fmt.Errorf("create neo4j driver: %w", driverErr)
		}
		defer driver.Close(ctx)
		externalSource = agents.NewCachedSource(agents.NewNeo4jSource(driver), 5*time.Minute)
	}
	directory := agents.NewDirectory(localAgents, externalSource, cfg.PreferLocalAgents, cfg.SkillBasedRouting)
	queue := agents.NewQueue(time.Duration(cfg.QueueTimeoutMS) * time.Millisecond)
	coordinator := agents.NewCoordinator(directory, queue, localAgents)

	detector := handover.New()
	extractor := extraction.New(llm)

	var bridge *realtime.PubSubBridge
	if cfg.ExternalBridgeEnabled {
		pubsubClient, pubsubErr := pubsub.NewClient(ctx, cfg.ExternalBridgeProjectID)
		if pubsubErr != nil {
			return fmt.Errorf("create pubsub client: %w", pubsubErr)
		}
		defer pubsubClient.Close()
		bridge = realtime.NewPubSubBridge(ctx, cfg.ExternalBridgeProjectID, pubsubClient, cfg.ExternalBridgeTopic, hub)
	}

	var convBridge conversation.Bridge
	if bridge != nil {
		convBridge = bridge
	}
	conv := conversation.New(sessions, detector, extractor, queryCore, coordinator, hub, convBridge)
	if bridge != nil {
		bridge.SetInboundHandler(conv)
		go func() {
			if err := bridge.Listen(ctx, cfg.ExternalBridgeSub); err != nil && ctx.Err() == nil {
				slog.Error("external agent bridge listener stopped", "error", err)
			}
		}()
	}

	registry := prometheus.NewRegistry()
	metrics := mw.NewMetrics(registry)
	conv.SetMetrics(metrics)

	adminSvc := admin.New(vstore, admin.DefaultCacheTTL)

	rateLimiter := mw.NewRateLimiter(mw.RateLimiterConfig{MaxRequests: 120, Window: time.Minute})

	handler := router.New(router.Deps{
		Sessions:      sessions,
		Conv:          conv,
		Coord:         coordinator,
		Hub:           hub,
		Ingest:        ingestCore,
		Loader:        loader,
		Query:         queryCore,
		Admin:         adminSvc,
		Vector:        vstore,
		LLM:           llm,
		Registry:      registry,
		Metrics:       metrics,
		RateLimiter:   rateLimiter,
		AllowedOrigin: cfg.ClientURL,
		JWTSecret:     cfg.JWTSecret,
		StartedAt:     time.Now(),
		Environment:   cfg.Environment,
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // SSE query streams and large uploads run long
		IdleTimeout:  60 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go runQueueSweep(sweepCtx, queue)
	go runSessionTTLSweep(sweepCtx, sessions)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runQueueSweep periodically drops waiting-room entries older than the
// configured timeout. Errors are impossible here (Sweep is pure
// in-memory); nothing to swallow.
func runQueueSweep(ctx context.Context, queue *agents.Queue) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dropped := queue.Sweep(ctx)
			if len(dropped) > 0 {
				slog.Info("queue sweep dropped stale entries", "count", len(dropped))
			}
		}
	}
}

// runSessionTTLSweep periodically closes rooms idle past the inactivity
// TTL (default 7 days). Failures are logged and
// swallowed; the next tick retries.
func runSessionTTLSweep(ctx context.Context, sessions *session.Store) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.SweepInactiveRooms(ctx, session.DefaultInactivityTTL)
			if err != nil {
				slog.Warn("session ttl sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("session ttl sweep closed rooms", "count", n)
			}
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
