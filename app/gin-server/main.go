package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/shini559/Gaming-advisor/config"
	"github.com/shini559/Gaming-advisor/internal/api/handlers"
	"github.com/shini559/Gaming-advisor/internal/api/middleware"
	"github.com/shini559/Gaming-advisor/internal/api/routes"
	"github.com/shini559/Gaming-advisor/internal/cache"
	"github.com/shini559/Gaming-advisor/internal/logger"
	"github.com/shini559/Gaming-advisor/internal/providers/ai"
	"github.com/shini559/Gaming-advisor/internal/queue"
	pgrepo "github.com/shini559/Gaming-advisor/internal/repositories/postgres"
	"github.com/shini559/Gaming-advisor/internal/services"
	"github.com/shini559/Gaming-advisor/internal/storage"
	"github.com/shini559/Gaming-advisor/internal/workers"
)

func main() {
	_ = godotenv.Load()

	l := logger.New()

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("settings error: %v", err)
	}

	// Init PostgreSQL
	if err := config.InitPostgres(); err != nil {
		log.Fatalf("PostgreSQL init error: %v", err)
	}
	l.Info("PostgreSQL connected")

	// Init Redis
	if err := config.InitRedis(); err != nil {
		log.Fatalf("Redis init error: %v", err)
	}
	l.Info("Redis connected")

	ctx := context.Background()

	gcs, err := storage.NewGCSStore(ctx, settings.GCSBucket)
	if err != nil {
		log.Fatalf("GCS init error: %v", err)
	}
	var blobs storage.Store = gcs

	gemini, err := ai.NewVertexGemini(ctx, settings.VertexProjectID, settings.VertexLocation, settings.VertexModel)
	if err != nil {
		log.Fatalf("Vertex init error: %v", err)
	}
	defer gemini.Close()

	embedder, err := ai.NewOpenAIEmbedder(settings.EmbeddingHost, settings.EmbeddingToken, settings.EmbeddingModel, settings.EmbeddingDimensions)
	if err != nil {
		log.Fatalf("embedder init error: %v", err)
	}

	batchRepo := pgrepo.NewBatchRepo(config.PostgresDB)
	imageRepo := pgrepo.NewImageRepo(config.PostgresDB)
	vectorRepo := pgrepo.NewVectorRepo(config.PostgresDB)
	convoRepo := pgrepo.NewConversationRepo(config.PostgresDB)

	jobs := queue.NewRedisQueue(config.RedisClient)

	pool := &workers.ImageWorkerPool{
		Redis:       config.RedisClient,
		Images:      imageRepo,
		Batches:     batchRepo,
		Vectors:     vectorRepo,
		Blobs:       blobs,
		Extractor:   gemini,
		Embedder:    embedder,
		Queue:       jobs,
		NumWorkers:  settings.BatchParallelWorkers,
		MaxAttempts: settings.JobMaxAttempts,
		CallTimeout: settings.CapabilityTimeout,
		Facets:      settings.ExtractionFacets,
		Logger:      l,
	}
	if err := pool.Start(ctx); err != nil {
		log.Fatalf("worker pool error: %v", err)
	}

	batchSvc := services.NewBatchService(batchRepo, imageRepo, vectorRepo, blobs, jobs, settings.BatchMaxRetries, l)

	retrievalSvc, err := services.NewRetrievalService(services.RetrievalConfig{
		Facet:               settings.RetrievalFacet,
		TopK:                settings.RetrievalTopK,
		SimilarityThreshold: settings.RetrievalSimilarityThreshold,
		ContentFacets:       settings.GenerationContentFacets,
		IncludeImages:       settings.GenerationIncludeImages,
		MaxContextLength:    settings.GenerationMaxContextLength,
	}, vectorRepo, imageRepo, embedder, gemini, blobs, blobs, l)
	if err != nil {
		log.Fatalf("retrieval init error: %v", err)
	}

	convoSvc := services.NewConversationService(convoRepo, retrievalSvc, cache.NewRedisCache(config.RedisClient), l)

	// Start Gin server
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(l))

	routes.RegisterRoutes(r, routes.Deps{
		Batch: &handlers.BatchHandler{Batches: batchSvc},
		Chat:  &handlers.ChatHandler{Conversations: convoSvc},
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
