// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/llm"
)

var pipelineTracer = otel.Tracer("wayfinder.retrieval.pipeline")

// Config tunes the retrieval pipeline.
type Config struct {
	// TopK is how many candidates similarity search forwards to the
	// relevance judge.
	TopK int

	// WindowSize is how many trailing messages scope each relevance
	// judgment. Query synthesis always sees the full history.
	WindowSize int
}

// DefaultConfig returns the pipeline defaults, overridable via environment.
func DefaultConfig() Config {
	return Config{
		TopK:       getEnvInt("RETRIEVAL_TOP_K", 3),
		WindowSize: getEnvInt("RETRIEVAL_WINDOW_SIZE", 5),
	}
}

// RetrievedSnippet is one corpus document that survived similarity search,
// with its score and the judge's verdict.
type RetrievedSnippet struct {
	SourceID   string            `json:"source_id"`
	Content    string            `json:"content"`
	Similarity float64           `json:"similarity"`
	Judgment   RelevanceJudgment `json:"judgment"`
}

// Result is the outcome of one pipeline run. Context is empty when nothing
// relevant was found or an upstream stage degraded to its fallback.
type Result struct {
	// Query is the synthesized (or fallback) search query. Empty when
	// retrieval was skipped entirely.
	Query string `json:"query"`

	// Context is the assembled knowledge block for the decision prompt.
	Context string `json:"context"`

	// Snippets holds every judged candidate in descending similarity
	// order, including ones the judge rejected.
	Snippets []RetrievedSnippet `json:"snippets"`
}

// Pipeline runs query synthesis, embedding similarity search, concurrent
// relevance filtering, and context assembly over a static corpus.
//
// Retrieve never returns an error: every oracle failure degrades to a
// fallback so the conversational turn always proceeds.
type Pipeline struct {
	cfg      Config
	corpus   *Corpus
	embedder llm.EmbeddingProvider
	cache    EmbeddingCache
	rewriter QueryRewriter
	judge    RelevanceJudge

	mu      sync.Mutex
	vectors map[string][]float32 // contentHash -> vector, process-local layer over cache
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(cfg Config, corpus *Corpus, embedder llm.EmbeddingProvider,
	cache EmbeddingCache, rewriter QueryRewriter, judge RelevanceJudge) *Pipeline {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Pipeline{
		cfg:      cfg,
		corpus:   corpus,
		embedder: embedder,
		cache:    cache,
		rewriter: rewriter,
		judge:    judge,
		vectors:  make(map[string][]float32),
	}
}

// WarmCorpus precomputes embeddings for every corpus document, reusing
// cached vectors for unchanged content. Call once at startup; failures on
// individual documents are logged and retried lazily at query time.
func (p *Pipeline) WarmCorpus(ctx context.Context) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.WarmCorpus")
	defer span.End()

	warmed, failed := 0, 0
	for _, doc := range p.corpus.Documents() {
		if _, err := p.documentVector(ctx, doc); err != nil {
			slog.Warn("Failed to warm corpus embedding", "source", doc.SourceID, "error", err)
			failed++
			continue
		}
		warmed++
	}
	span.SetAttributes(
		attribute.Int("retrieval.warmed", warmed),
		attribute.Int("retrieval.failed", failed),
	)
	slog.Info("Corpus embeddings warmed", "warmed", warmed, "failed", failed)
}

// Retrieve runs the full pipeline against the current conversation.
//
// Fallback ladder: if query synthesis fails, the raw text of the latest
// user message becomes the query; if no user message exists, retrieval is
// skipped. If embedding the query fails, the result carries no context.
// If any relevance judgment in the batch fails, the whole batch fails open:
// every candidate is treated as relevant at confidence 0.5.
func (p *Pipeline) Retrieve(ctx context.Context, messages []conversation.Message) Result {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Retrieve")
	defer span.End()

	query, err := p.rewriter.Rewrite(ctx, messages)
	if err != nil {
		query = lastUserText(messages)
		slog.Warn("Query synthesis failed, falling back to raw user text",
			"error", err, "fallbackQuery", query)
	}
	if query == "" {
		slog.Debug("No retrieval query available, skipping retrieval")
		return Result{}
	}
	span.SetAttributes(attribute.String("retrieval.query", query))

	queryVec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		slog.Warn("Query embedding failed, proceeding without knowledge context", "error", err)
		return Result{Query: query}
	}

	candidates := p.rankCandidates(ctx, queryVec)
	if len(candidates) == 0 {
		return Result{Query: query}
	}

	p.judgeBatch(ctx, tailWindow(messages, p.cfg.WindowSize), candidates)

	return Result{
		Query:    query,
		Context:  assembleContext(candidates),
		Snippets: candidates,
	}
}

// rankCandidates scores every corpus document against the query vector and
// returns the top-k in descending similarity. The sort is stable so equal
// scores keep corpus declaration order.
func (p *Pipeline) rankCandidates(ctx context.Context, queryVec []float32) []RetrievedSnippet {
	docs := p.corpus.Documents()
	scored := make([]RetrievedSnippet, 0, len(docs))
	for _, doc := range docs {
		vec, err := p.documentVector(ctx, doc)
		if err != nil {
			slog.Warn("Skipping unembeddable corpus document",
				"source", doc.SourceID, "error", err)
			continue
		}
		scored = append(scored, RetrievedSnippet{
			SourceID:   doc.SourceID,
			Content:    doc.Content,
			Similarity: CosineSimilarity(queryVec, vec),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > p.cfg.TopK {
		scored = scored[:p.cfg.TopK]
	}
	return scored
}

// judgeBatch runs relevance judgments concurrently and writes verdicts into
// candidates in place. Each judgment sees only the recent message window.
// One failed judgment fails the batch open.
func (p *Pipeline) judgeBatch(ctx context.Context, recent []conversation.Message,
	candidates []RetrievedSnippet) {
	g, gctx := errgroup.WithContext(ctx)
	judgments := make([]RelevanceJudgment, len(candidates))
	for i := range candidates {
		g.Go(func() error {
			j, err := p.judge.Judge(gctx, recent, Document{
				SourceID: candidates[i].SourceID,
				Content:  candidates[i].Content,
			})
			if err != nil {
				return err
			}
			judgments[i] = j
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		slog.Warn("Relevance filtering failed, treating all candidates as relevant", "error", err)
		for i := range candidates {
			candidates[i].Judgment = RelevanceJudgment{
				IsRelevant: true,
				Confidence: 0.5,
				Reasoning:  "relevance filtering unavailable, included by default",
			}
		}
		return
	}
	for i := range candidates {
		candidates[i].Judgment = judgments[i]
	}
}

// assembleContext concatenates relevant snippets in descending similarity
// order, each introduced by its source identifier.
func assembleContext(candidates []RetrievedSnippet) string {
	blocks := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if !c.Judgment.IsRelevant {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", c.SourceID, c.Content))
	}
	return strings.Join(blocks, "\n\n")
}

// documentVector returns the embedding for one document, consulting the
// process-local map, then the persistent cache, then the embedding oracle.
func (p *Pipeline) documentVector(ctx context.Context, doc Document) ([]float32, error) {
	p.mu.Lock()
	if vec, ok := p.vectors[doc.Hash]; ok {
		p.mu.Unlock()
		return vec, nil
	}
	p.mu.Unlock()

	vec, found, err := p.cache.Get(doc.Hash)
	if err != nil {
		slog.Warn("Embedding cache read failed", "source", doc.SourceID, "error", err)
	}
	if !found || err != nil {
		vec, err = p.embedder.Embed(ctx, doc.Content)
		if err != nil {
			return nil, err
		}
		if putErr := p.cache.Put(doc.Hash, vec); putErr != nil {
			slog.Warn("Embedding cache write failed", "source", doc.SourceID, "error", putErr)
		}
	}

	p.mu.Lock()
	p.vectors[doc.Hash] = vec
	p.mu.Unlock()
	return vec, nil
}

func tailWindow(messages []conversation.Message, n int) []conversation.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

func lastUserText(messages []conversation.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == conversation.RoleUser {
			return messages[i].Text
		}
	}
	return ""
}

// getEnvInt returns an environment variable as int, or defaultVal if not set/invalid.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
