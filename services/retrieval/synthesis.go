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
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/llm"
)

var synthTracer = otel.Tracer("wayfinder.retrieval.synthesis")

// QueryRewriter condenses the full conversation history into one
// standalone search query.
type QueryRewriter interface {
	Rewrite(ctx context.Context, history []conversation.Message) (string, error)
}

// LLMQueryRewriter asks the language model to synthesize the query. The
// prompt weights the most recent turns so the query tracks the current
// topic rather than the whole session.
type LLMQueryRewriter struct {
	client llm.LLMClient
	audit  llm.AuditSink
}

// NewLLMQueryRewriter builds a rewriter over the given model client.
func NewLLMQueryRewriter(client llm.LLMClient, audit llm.AuditSink) *LLMQueryRewriter {
	if audit == nil {
		audit = llm.NopAudit{}
	}
	return &LLMQueryRewriter{client: client, audit: audit}
}

const rewritePromptTemplate = `You condense a conversation into a search query.

Given the full conversation below, write ONE standalone search query that
captures what the user currently needs. Weight the most recent messages most
heavily, fold in earlier context for follow-up questions, and drop topics the
conversation has abandoned. Respond with the query text only, no quotes and
no explanation.

Conversation:
%s

Search query:`

// Rewrite implements QueryRewriter.
func (r *LLMQueryRewriter) Rewrite(ctx context.Context,
	history []conversation.Message) (string, error) {

	ctx, span := synthTracer.Start(ctx, "LLMQueryRewriter.Rewrite")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.history_len", len(history)))

	prompt := fmt.Sprintf(rewritePromptTemplate, FormatHistory(history))

	temp := float32(0.2)
	maxTokens := 128
	start := time.Now()
	raw, err := r.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	r.audit.Record(llm.CallRecord{
		Timestamp: start,
		CallType:  "rewrite",
		Duration:  time.Since(start).Seconds(),
		Input:     fmt.Sprintf("history=%d messages", len(history)),
		Response:  raw,
		Error:     errString(err),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query rewrite failed")
		return "", fmt.Errorf("query rewrite failed: %w", err)
	}

	query := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), `"`))
	if query == "" {
		return "", fmt.Errorf("query rewrite returned empty output")
	}
	slog.Debug("Synthesized retrieval query", "query", query)
	return query, nil
}

// FormatHistory renders messages as "User:"/"Bot:" lines for prompts.
func FormatHistory(msgs []conversation.Message) string {
	var sb strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			sb.WriteByte('\n')
		}
		label := "Bot"
		if msg.Role == conversation.RoleUser {
			label = "User"
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(msg.Text)
	}
	return sb.String()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
