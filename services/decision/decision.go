// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package decision defines the reasoning oracle that selects the next
// conversational action: a freeform reply, a graph option to take, or a
// graph to start. Oracle output is advisory; the orchestrator validates
// every structural field against its whitelists before acting on it.
package decision

import (
	"context"

	"github.com/AleutianAI/wayfinder/services/conversation"
)

// ToolCall is a lookup the oracle requested mid-decision. Calls are
// recorded for observability but never executed before the turn finalizes.
type ToolCall struct {
	Name string `json:"name"`
	// Arguments is the raw JSON argument payload.
	Arguments string `json:"arguments"`
}

// Decision is the oracle's proposed next action. All fields are optional;
// an empty Decision yields a clarification message downstream.
type Decision struct {
	// Text is a freeform reply to show the user.
	Text string `json:"text,omitempty"`

	// Option is the label of an active-node option to take.
	Option string `json:"decision_option,omitempty"`

	// Graph is the name of a graph to start or switch to.
	Graph string `json:"workflow,omitempty"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Request carries everything the oracle may consider for one turn.
type Request struct {
	// History is the full conversation so far, oldest first.
	History []conversation.Message

	// Options is the active node's option whitelist. Empty when no graph
	// is active or the active node is a verdict.
	Options []string

	// GraphNames is the loaded-graph whitelist.
	GraphNames []string

	// KnowledgeContext is the assembled retrieval context, possibly empty.
	KnowledgeContext string
}

// Oracle proposes the next action for a turn.
type Oracle interface {
	Decide(ctx context.Context, req Request) (*Decision, error)
}

// DecideFunc adapts a function to the Oracle interface.
type DecideFunc func(ctx context.Context, req Request) (*Decision, error)

// Decide implements Oracle.
func (f DecideFunc) Decide(ctx context.Context, req Request) (*Decision, error) {
	return f(ctx, req)
}
