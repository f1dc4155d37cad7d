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
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/llm"
)

// OpenAIOracle drives the chat completion API directly, offering the tool
// registry's definitions so the model can request record lookups. Any tool
// calls in the response are recorded on the decision, not executed.
type OpenAIOracle struct {
	client *openai.Client
	model  string
	tools  *ToolRegistry
	audit  llm.AuditSink
}

// NewOpenAIOracle builds an oracle over an initialized OpenAI client.
func NewOpenAIOracle(client *llm.OpenAIClient, tools *ToolRegistry,
	audit llm.AuditSink) *OpenAIOracle {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if audit == nil {
		audit = llm.NopAudit{}
	}
	return &OpenAIOracle{
		client: client.Raw(),
		model:  client.Model(),
		tools:  tools,
		audit:  audit,
	}
}

const openaiSystemPrompt = `You are the decision engine of a guided conversation system.
The user walks through branching decision graphs. Based on the conversation,
choose exactly one action:

- Reply with freeform text when the user asks a question or needs clarification.
- Select one of the current options when the user's message answers the
  active question. Options: %s
- Start a graph when the user's message matches one of the available graphs.
  Graphs: %s

Respond with a single JSON object, no other text:
{"text": "optional reply text", "decision_option": "exact option label or null", "workflow": "exact graph name or null"}
Never set both decision_option and workflow.`

// Decide implements Oracle.
func (o *OpenAIOracle) Decide(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "OpenAIOracle.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("decision.history_len", len(req.History)),
	)

	messages := []openai.ChatCompletionMessage{{
		Role: openai.ChatMessageRoleSystem,
		Content: fmt.Sprintf(openaiSystemPrompt,
			formatWhitelist(req.Options), formatWhitelist(req.GraphNames)),
	}}
	if req.KnowledgeContext != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Relevant knowledge:\n" + req.KnowledgeContext,
		})
	}
	for _, msg := range req.History {
		role := openai.ChatMessageRoleAssistant
		if msg.Role == conversation.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: msg.Text,
		})
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0,
		Tools:       o.tools.Definitions(),
	})
	raw := ""
	if err == nil && len(resp.Choices) > 0 {
		raw = resp.Choices[0].Message.Content
	}
	o.recordAudit(start, req, raw, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision call failed")
		return nil, fmt.Errorf("decision oracle call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("decision oracle returned no choices")
	}

	choice := resp.Choices[0].Message

	// A pure tool-call response has no content to parse.
	decision := &Decision{}
	if choice.Content != "" {
		decision, err = parseDecision(choice.Content)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "decision parse failed")
			return nil, err
		}
	}
	for _, tc := range choice.ToolCalls {
		decision.ToolCalls = append(decision.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return decision, nil
}

func (o *OpenAIOracle) recordAudit(start time.Time, req Request, raw string, err error) {
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	o.audit.Record(llm.CallRecord{
		Timestamp: start,
		CallType:  "decision",
		Duration:  time.Since(start).Seconds(),
		Input: fmt.Sprintf("history=%d options=%v graphs=%v tools=%d",
			len(req.History), req.Options, req.GraphNames, o.tools.Len()),
		Response: raw,
		Error:    errText,
	})
}
