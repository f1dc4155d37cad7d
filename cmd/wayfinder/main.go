// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/wayfinder/services/decision"
	"github.com/AleutianAI/wayfinder/services/llm"
	"github.com/AleutianAI/wayfinder/services/orchestrator"
	"github.com/AleutianAI/wayfinder/services/orchestrator/handlers"
	"github.com/AleutianAI/wayfinder/services/orchestrator/observability"
	"github.com/AleutianAI/wayfinder/services/orchestrator/routes"
	"github.com/AleutianAI/wayfinder/services/retrieval"
	"github.com/AleutianAI/wayfinder/services/workflow"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("wayfinder-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	port := getEnvOr("WAYFINDER_PORT", "12310")

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	// Malformed graph definitions are fatal at load time, before any turn
	// can run.
	graphDir := getEnvOr("WAYFINDER_GRAPH_DIR", "workflows")
	graphs := workflow.NewGraphStore()
	if err := graphs.LoadDir(graphDir); err != nil {
		log.Fatalf("FATAL: could not load decision graphs from %s: %v", graphDir, err)
	}
	slog.Info("Loaded decision graphs", "dir", graphDir, "graphs", graphs.Names())

	corpusDir := getEnvOr("WAYFINDER_CORPUS_DIR", "knowledge")
	corpus, err := retrieval.LoadCorpusDir(corpusDir)
	if err != nil {
		slog.Warn("Could not load knowledge corpus, retrieval will return nothing",
			"dir", corpusDir, "error", err)
		corpus = retrieval.NewCorpus(nil)
	}

	var cache retrieval.EmbeddingCache
	cacheDir := getEnvOr("WAYFINDER_CACHE_DIR", "cache/embeddings")
	badgerCache, err := retrieval.OpenBadgerCache(retrieval.DefaultCacheConfig(cacheDir))
	if err != nil {
		slog.Warn("Could not open persistent embedding cache, using memory cache",
			"dir", cacheDir, "error", err)
		cache = retrieval.NewMemoryCache()
	} else {
		cache = badgerCache
		defer badgerCache.Close()
	}

	var audit llm.AuditSink
	yamlAudit, err := llm.NewYAMLAudit(getEnvOr("WAYFINDER_AUDIT_DIR", "logs"))
	if err != nil {
		slog.Warn("Could not open LLM audit log, auditing disabled", "error", err)
		audit = llm.NopAudit{}
	} else {
		audit = yamlAudit
	}

	tools := decision.NewToolRegistry()
	if datasetPath := os.Getenv("WAYFINDER_TOOL_DATASET"); datasetPath != "" {
		tool, err := decision.NewRecordLookupTool(datasetPath)
		if err != nil {
			log.Fatalf("FATAL: could not load tool dataset: %v", err)
		}
		tools.Register(tool)
	}

	log.Println("Configuring the LLM Client")
	var (
		llmClient llm.LLMClient
		embedder  llm.EmbeddingProvider
		oracle    decision.Oracle
	)
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "ollama":
		client, cerr := llm.NewOllamaClient()
		if cerr != nil {
			log.Fatalf("Failed to initialize Ollama client: %v", cerr)
		}
		llmClient, embedder = client, client
		oracle = decision.NewPromptOracle(client, audit)
		slog.Info("Using Ollama LLM backend")
	case "openai", "":
		client, cerr := llm.NewOpenAIClient()
		if cerr != nil {
			log.Fatalf("Failed to initialize OpenAI client: %v", cerr)
		}
		llmClient, embedder = client, client
		oracle = decision.NewOpenAIOracle(client, tools, audit)
		slog.Info("Using OpenAI LLM backend")
	default:
		log.Fatalf("Unknown LLM_BACKEND_TYPE %q (want openai or ollama)", backend)
	}

	pipeline := retrieval.NewPipeline(retrieval.DefaultConfig(), corpus, embedder, cache,
		retrieval.NewLLMQueryRewriter(llmClient, audit),
		retrieval.NewLLMRelevanceJudge(llmClient, audit))
	pipeline.WarmCorpus(context.Background())

	orc := orchestrator.New(graphs, pipeline, oracle, metrics)
	orc.Greet()

	router := gin.Default()
	router.Use(otelgin.Middleware("wayfinder-service"))

	api := handlers.NewChatAPI(orc, getEnvOr("WAYFINDER_SIDEBAR_DIR", "sidebars"))
	routes.SetupRoutes(router, api)

	log.Println("Starting the wayfinder server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
