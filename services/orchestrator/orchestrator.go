// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator binds the conversation state, the retrieval
// pipeline, and the decision oracle into the turn loop.
//
// A turn has two phases. RecordUser appends the user message synchronously
// so callers observe it immediately. ComputeReply then runs retrieval,
// consults the oracle, validates its output against the whitelists, and
// applies the resulting transition or reply. The orchestrator owns all
// mutable conversation state; one turn must finish before the next begins.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/decision"
	"github.com/AleutianAI/wayfinder/services/orchestrator/observability"
	"github.com/AleutianAI/wayfinder/services/retrieval"
	"github.com/AleutianAI/wayfinder/services/workflow"
)

var tracer = otel.Tracer("wayfinder.orchestrator")

const (
	clarificationText = "Sorry I don't understand"

	correctiveText = "Sorry, that isn't one of the available choices right now. " +
		"Please pick one of the listed options."

	apologyText = "Sorry, something went wrong while I was thinking about that. " +
		"Please try again."
)

// TurnOrchestrator drives the conversation turn by turn.
type TurnOrchestrator struct {
	conv     *conversation.Conversation
	graphs   *workflow.GraphStore
	pipeline *retrieval.Pipeline
	oracle   decision.Oracle
	metrics  *observability.TurnMetrics

	lastRetrieval retrieval.Result
	lastToolCalls []decision.ToolCall
}

// New wires the turn loop together. metrics may be nil.
func New(graphs *workflow.GraphStore, pipeline *retrieval.Pipeline,
	oracle decision.Oracle, metrics *observability.TurnMetrics) *TurnOrchestrator {
	return &TurnOrchestrator{
		conv:     conversation.New(graphs),
		graphs:   graphs,
		pipeline: pipeline,
		oracle:   oracle,
		metrics:  metrics,
	}
}

// Greet appends the opening bot message. Call once, before the first turn.
func (o *TurnOrchestrator) Greet() *conversation.Message {
	return o.conv.Greet()
}

// RecordUser appends the user message for a new turn. Fast and synchronous:
// the message is visible to any caller before the rest of the turn runs.
func (o *TurnOrchestrator) RecordUser(text string) *conversation.Message {
	return o.conv.AppendUser(text)
}

// ComputeReply runs the slow phase of the turn: retrieval, decision, and
// application. Returns the bot messages appended, always at least one.
//
// A decision-oracle failure appends an apology and leaves all conversation
// state untouched apart from the already-appended user message.
func (o *TurnOrchestrator) ComputeReply(ctx context.Context) []*conversation.Message {
	ctx, span := tracer.Start(ctx, "TurnOrchestrator.ComputeReply")
	defer span.End()
	start := time.Now()

	history := o.historySnapshot()

	result := o.pipeline.Retrieve(ctx, history)
	o.lastRetrieval = result
	o.metrics.RecordRetrieval(countIncluded(result.Snippets))

	req := decision.Request{
		History:          history,
		Options:          o.activeOptions(),
		GraphNames:       o.graphs.Names(),
		KnowledgeContext: result.Context,
	}

	d, err := o.oracle.Decide(ctx, req)
	if err != nil {
		slog.Error("Decision oracle failed", "error", err)
		span.RecordError(err)
		msg := o.conv.AppendBot(apologyText)
		o.metrics.RecordTurn(observability.OutcomeApology, time.Since(start).Seconds())
		return []*conversation.Message{msg}
	}

	msgs, outcome := o.apply(d)
	span.SetAttributes(attribute.String("turn.outcome", string(outcome)))
	o.metrics.RecordTurn(outcome, time.Since(start).Seconds())
	return msgs
}

// apply enforces the decision precedence. Reply text is orthogonal and
// always appended first. The structural action then tries a valid option,
// then a valid graph. Whitelist violations are nulled and answered with a
// corrective message; a turn that produced nothing gets a clarification.
func (o *TurnOrchestrator) apply(d *decision.Decision) ([]*conversation.Message, observability.Outcome) {
	var msgs []*conversation.Message
	outcome := observability.OutcomeClarification

	o.lastToolCalls = d.ToolCalls
	for _, tc := range d.ToolCalls {
		// Recorded only. Tool execution is outside the turn contract.
		slog.Info("Oracle requested tool call", "tool", tc.Name, "arguments", tc.Arguments)
		o.metrics.RecordToolCall(tc.Name)
	}

	if d.Text != "" {
		msgs = append(msgs, o.conv.AppendBot(d.Text))
		outcome = observability.OutcomeText
	}

	if d.Option != "" && d.Graph != "" {
		slog.Warn("Oracle set both option and graph, discarding graph",
			"option", d.Option, "graph", d.Graph)
		d.Graph = ""
	}

	sawInvalid := false
	transitioned := false
	switch {
	case d.Option != "":
		if msg, ok := o.takeOption(d.Option); ok {
			msgs = append(msgs, msg)
			outcome = observability.OutcomeTransition
			transitioned = true
		} else {
			slog.Warn("Oracle proposed option outside whitelist", "option", d.Option)
			sawInvalid = true
		}
	case d.Graph != "":
		if msg, ok := o.enterGraph(d.Graph); ok {
			msgs = append(msgs, msg)
			outcome = observability.OutcomeGraphStart
			transitioned = true
		} else {
			slog.Warn("Oracle proposed unknown graph", "graph", d.Graph)
			sawInvalid = true
		}
	}

	if sawInvalid && !transitioned {
		msgs = append(msgs, o.conv.AppendBot(correctiveText))
		outcome = observability.OutcomeCorrective
	}
	if len(msgs) == 0 {
		msgs = append(msgs, o.conv.AppendBot(clarificationText))
	}
	return msgs, outcome
}

// takeOption advances along the labeled edge of the active node, if the
// label is in the whitelist.
func (o *TurnOrchestrator) takeOption(label string) (*conversation.Message, bool) {
	node, ok := o.conv.ActiveNode()
	if !ok {
		return nil, false
	}
	opt, ok := node.MatchOption(label)
	if !ok {
		return nil, false
	}
	next := workflow.NodeRef{Graph: o.conv.Active().Graph, Node: opt.Target}
	o.conv.RecordTransition(next)

	target, _ := o.graphs.Resolve(next)
	return o.conv.AppendBot(target.Prompt), true
}

// enterGraph starts or resumes the named graph, if it is loaded.
func (o *TurnOrchestrator) enterGraph(name string) (*conversation.Message, bool) {
	ref, err := o.conv.Enter(name)
	if err != nil {
		return nil, false
	}
	node, _ := o.graphs.Resolve(ref)
	return o.conv.AppendBot(node.Prompt), true
}

// Process runs one full turn: the user message followed by the bot
// messages, in append order.
func (o *TurnOrchestrator) Process(ctx context.Context, text string) []*conversation.Message {
	userMsg := o.RecordUser(text)
	botMsgs := o.ComputeReply(ctx)
	return append([]*conversation.Message{userMsg}, botMsgs...)
}

// Undo removes the most recent completed turn and restores the pre-turn
// graph position. Returns the removed message ids, empty when there is
// nothing to undo.
func (o *TurnOrchestrator) Undo() []int64 {
	removed := o.conv.Undo()
	o.metrics.RecordUndo(len(removed) > 0)
	return removed
}

// StartGraph explicitly starts or resumes a graph, outside the oracle path.
// Used by the UI's direct graph selection.
func (o *TurnOrchestrator) StartGraph(name string) (*conversation.Message, error) {
	ref, err := o.conv.Enter(name)
	if err != nil {
		return nil, err
	}
	node, _ := o.graphs.Resolve(ref)
	slog.Info("Started graph", "graph", name, "node", ref.Node)
	return o.conv.AppendBot(node.Prompt), nil
}

// State is a read-only snapshot of the conversation for external callers.
type State struct {
	Messages    []*conversation.Message `json:"messages"`
	ActiveGraph string                  `json:"active_graph,omitempty"`
	ActiveNode  string                  `json:"active_node,omitempty"`
	// Options is the active node's option whitelist, in declaration order.
	Options []string `json:"options"`
	// Sidebars lists the active node's sidebar resource identifiers.
	Sidebars   []string `json:"sidebars"`
	GraphNames []string `json:"graph_names"`
	CanUndo    bool     `json:"can_undo"`
	// LastRetrieval is the annotated snippet set of the most recent turn,
	// an observability side channel.
	LastRetrieval retrieval.Result    `json:"last_retrieval"`
	LastToolCalls []decision.ToolCall `json:"last_tool_calls,omitempty"`
}

// State returns the current conversation snapshot.
func (o *TurnOrchestrator) State() State {
	st := State{
		Messages:      o.conv.Messages(),
		Options:       []string{},
		Sidebars:      []string{},
		GraphNames:    o.graphs.Names(),
		CanUndo:       o.conv.CanUndo(),
		LastRetrieval: o.lastRetrieval,
		LastToolCalls: o.lastToolCalls,
	}
	active := o.conv.Active()
	if active.IsZero() {
		return st
	}
	st.ActiveGraph = active.Graph
	st.ActiveNode = active.Node
	if node, ok := o.conv.ActiveNode(); ok {
		st.Options = node.OptionLabels()
		if node.Sidebars != nil {
			st.Sidebars = node.Sidebars
		}
	}
	return st
}

func (o *TurnOrchestrator) historySnapshot() []conversation.Message {
	msgs := o.conv.Messages()
	out := make([]conversation.Message, len(msgs))
	for i, m := range msgs {
		out[i] = *m
	}
	return out
}

func (o *TurnOrchestrator) activeOptions() []string {
	node, ok := o.conv.ActiveNode()
	if !ok {
		return nil
	}
	return node.OptionLabels()
}

func countIncluded(snippets []retrieval.RetrievedSnippet) int {
	n := 0
	for _, s := range snippets {
		if s.Judgment.IsRelevant {
			n++
		}
	}
	return n
}
