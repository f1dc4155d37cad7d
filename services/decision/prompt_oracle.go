// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package decision

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

var tracer = otel.Tracer("wayfinder.decision")

// PromptOracle drives any text-completion model through a JSON-in-prompt
// protocol. It is the oracle for backends without native tool calling.
type PromptOracle struct {
	client llm.LLMClient
	audit  llm.AuditSink
}

// NewPromptOracle builds an oracle over the given model client.
func NewPromptOracle(client llm.LLMClient, audit llm.AuditSink) *PromptOracle {
	if audit == nil {
		audit = llm.NopAudit{}
	}
	return &PromptOracle{client: client, audit: audit}
}

const decisionPromptTemplate = `You are the decision engine of a guided conversation system.
The user walks through branching decision graphs. Based on the conversation,
choose exactly one action:

- Reply with freeform text when the user asks a question or needs clarification.
- Select one of the current options when the user's message answers the
  active question. Options: %s
- Start a graph when the user's message matches one of the available graphs.
  Graphs: %s

%sConversation:
%s

Respond with a single JSON object, no other text:
{"text": "optional reply text", "decision_option": "exact option label or null", "workflow": "exact graph name or null"}
Never set both decision_option and workflow.`

// Decide implements Oracle.
func (o *PromptOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "PromptOracle.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.Int("decision.history_len", len(req.History)),
		attribute.Int("decision.option_count", len(req.Options)),
	)

	knowledge := ""
	if req.KnowledgeContext != "" {
		knowledge = "Relevant knowledge:\n" + req.KnowledgeContext + "\n\n"
	}
	prompt := fmt.Sprintf(decisionPromptTemplate,
		formatWhitelist(req.Options),
		formatWhitelist(req.GraphNames),
		knowledge,
		formatHistory(req.History))

	temp := float32(0.0)
	maxTokens := 512
	start := time.Now()
	raw, err := o.client.Generate(ctx, prompt, llm.GenerationParams{
		Temperature: &temp,
		MaxTokens:   &maxTokens,
	})
	o.recordAudit(start, req, raw, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision call failed")
		return nil, fmt.Errorf("decision oracle call failed: %w", err)
	}

	decision, err := parseDecision(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision parse failed")
		return nil, err
	}
	return decision, nil
}

func (o *PromptOracle) recordAudit(start time.Time, req Request, raw string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	o.audit.Record(llm.CallRecord{
		Timestamp: start,
		CallType:  "decision",
		Duration:  time.Since(start).Seconds(),
		Input: fmt.Sprintf("history=%d options=%v graphs=%v",
			len(req.History), req.Options, req.GraphNames),
		Response: raw,
		Error:    errText,
	})
}

// parseDecision extracts the first JSON object from model output. JSON
// null and the literal strings "null"/"none" both clear a field.
func parseDecision(raw string) (*Decision, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in decision output")
	}
	var d Decision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("failed to parse decision JSON: %w", err)
	}
	d.Text = cleanField(d.Text)
	d.Option = cleanField(d.Option)
	d.Graph = cleanField(d.Graph)
	return &d, nil
}

func cleanField(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "null", "none":
		return ""
	}
	return v
}

func formatWhitelist(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}

func formatHistory(history []conversation.Message) string {
	var sb strings.Builder
	for i, msg := range history {
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
