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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/llm"
)

var relevanceTracer = otel.Tracer("wayfinder.retrieval.relevance")

// RelevanceJudgment is the verdict for one candidate snippet.
type RelevanceJudgment struct {
	IsRelevant bool    `json:"is_relevant"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// RelevanceJudge decides whether one snippet actually helps the current
// conversation. Similarity search surfaces candidates; the judge filters
// false positives. Each judgment sees only the recent message window plus
// the snippet content.
type RelevanceJudge interface {
	Judge(ctx context.Context, recent []conversation.Message, doc Document) (RelevanceJudgment, error)
}

// LLMRelevanceJudge asks the language model for a structured verdict.
type LLMRelevanceJudge struct {
	client llm.LLMClient
	audit  llm.AuditSink
}

// NewLLMRelevanceJudge builds a judge over the given model client.
func NewLLMRelevanceJudge(client llm.LLMClient, audit llm.AuditSink) *LLMRelevanceJudge {
	if audit == nil {
		audit = llm.NopAudit{}
	}
	return &LLMRelevanceJudge{client: client, audit: audit}
}

const relevancePromptTemplate = `You judge whether a knowledge snippet is relevant to a conversation.

Recent conversation:
%s

Snippet (source: %s):
%s

Respond with a single JSON object, no other text:
{"is_relevant": true or false, "confidence": 0.0 to 1.0, "reasoning": "one short sentence"}`

// Judge implements RelevanceJudge.
func (j *LLMRelevanceJudge) Judge(ctx context.Context, recent []conversation.Message,
	doc Document) (RelevanceJudgment, error) {

	ctx, span := relevanceTracer.Start(ctx, "LLMRelevanceJudge.Judge")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.source_id", doc.SourceID),
		attribute.Int("retrieval.window_size", len(recent)),
	)

	prompt := fmt.Sprintf(relevancePromptTemplate, FormatHistory(recent), doc.SourceID, doc.Content)

	temp := float32(0.0)
	maxTokens := 256
	start := time.Now()
	raw, err := j.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	j.audit.Record(llm.CallRecord{
		Timestamp: start,
		CallType:  "relevance",
		Duration:  time.Since(start).Seconds(),
		Input:     fmt.Sprintf("source=%s window=%d messages", doc.SourceID, len(recent)),
		Response:  raw,
		Error:     errString(err),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relevance call failed")
		return RelevanceJudgment{}, fmt.Errorf("relevance judgment failed: %w", err)
	}

	var judgment RelevanceJudgment
	if err := unmarshalEmbeddedJSON(raw, &judgment); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "relevance parse failed")
		return RelevanceJudgment{}, fmt.Errorf("relevance judgment unparseable: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("retrieval.is_relevant", judgment.IsRelevant),
		attribute.Float64("retrieval.confidence", judgment.Confidence),
	)
	return judgment, nil
}

// unmarshalEmbeddedJSON extracts the first {...} object from model output
// and unmarshals it. Models often wrap JSON in prose or code fences.
func unmarshalEmbeddedJSON(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return fmt.Errorf("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), v); err != nil {
		return fmt.Errorf("failed to parse model JSON: %w", err)
	}
	return nil
}
