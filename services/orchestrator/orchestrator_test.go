// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/decision"
	"github.com/AleutianAI/wayfinder/services/llm"
	"github.com/AleutianAI/wayfinder/services/retrieval"
	"github.com/AleutianAI/wayfinder/services/workflow"
)

const colorGraph = `
color_question:
  question: "What color do you like?"
  options:
    red: red_response
    blue: blue_response
red_response:
  verdict: "Red is a warm color!"
blue_response:
  verdict: "Blue is a cool color!"
`

func testStore(t *testing.T) *workflow.GraphStore {
	t.Helper()
	store := workflow.NewGraphStore()
	if _, err := store.Load("colors", []byte(colorGraph)); err != nil {
		t.Fatalf("failed to load test graph: %v", err)
	}
	return store
}

// offlinePipeline retrieves over an empty corpus with failing oracles, so
// every turn proceeds with empty knowledge context.
func offlinePipeline() *retrieval.Pipeline {
	failing := llm.GenerateFunc(func(context.Context, string, llm.GenerationParams) (string, error) {
		return "", errors.New("offline")
	})
	embedder := llm.EmbedFunc(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("offline")
	})
	return retrieval.NewPipeline(retrieval.Config{TopK: 3, WindowSize: 5},
		retrieval.NewCorpus(nil), embedder, retrieval.NewMemoryCache(),
		retrieval.NewLLMQueryRewriter(failing, nil),
		retrieval.NewLLMRelevanceJudge(failing, nil))
}

func fixedOracle(d *decision.Decision, err error) decision.Oracle {
	return decision.DecideFunc(func(context.Context, decision.Request) (*decision.Decision, error) {
		return d, err
	})
}

func newTestOrchestrator(t *testing.T, oracle decision.Oracle) *TurnOrchestrator {
	t.Helper()
	return New(testStore(t), offlinePipeline(), oracle, nil)
}

// =============================================================================
// Turn Application Tests
// =============================================================================

func TestProcess_OptionAdvancesCaseInsensitively(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Option: "RED"}, nil))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}

	msgs := o.Process(context.Background(), "red")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + bot", len(msgs))
	}
	if msgs[0].Role != conversation.RoleUser || msgs[0].Text != "red" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[1].Text != "Red is a warm color!" {
		t.Errorf("bot reply = %q", msgs[1].Text)
	}

	st := o.State()
	if st.ActiveNode != "red_response" {
		t.Errorf("active node = %q", st.ActiveNode)
	}
}

func TestProcess_WhitelistViolationLeavesStateUnchanged(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Option: "purple"}, nil))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	before := o.State()

	msgs := o.Process(context.Background(), "purple")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[1].Text != correctiveText {
		t.Errorf("bot reply = %q, want corrective message", msgs[1].Text)
	}

	after := o.State()
	if after.ActiveNode != before.ActiveNode || after.ActiveGraph != before.ActiveGraph {
		t.Errorf("invalid option changed position: %q -> %q", before.ActiveNode, after.ActiveNode)
	}
}

func TestProcess_FreeTextWithNoGraph(t *testing.T) {
	o := newTestOrchestrator(t,
		fixedOracle(&decision.Decision{Text: "Could you tell me more?"}, nil))

	msgs := o.Process(context.Background(), "hello there")
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want exactly user + one bot", len(msgs))
	}
	if msgs[1].Text != "Could you tell me more?" {
		t.Errorf("bot reply = %q", msgs[1].Text)
	}
	if st := o.State(); st.ActiveGraph != "" || st.ActiveNode != "" {
		t.Errorf("free text set an active node: %+v", st)
	}
}

func TestProcess_GraphStartByOracle(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Graph: "colors"}, nil))

	msgs := o.Process(context.Background(), "help me pick a color")
	if msgs[len(msgs)-1].Text != "What color do you like?" {
		t.Errorf("bot reply = %q", msgs[len(msgs)-1].Text)
	}
	if st := o.State(); st.ActiveNode != "color_question" {
		t.Errorf("active node = %q", st.ActiveNode)
	}
}

func TestProcess_BothOptionAndGraphKeepsOption(t *testing.T) {
	o := newTestOrchestrator(t,
		fixedOracle(&decision.Decision{Option: "blue", Graph: "colors"}, nil))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}

	msgs := o.Process(context.Background(), "blue please")
	if msgs[len(msgs)-1].Text != "Blue is a cool color!" {
		t.Errorf("bot reply = %q, option should win over graph", msgs[len(msgs)-1].Text)
	}
}

func TestProcess_TextAndOptionBothApplied(t *testing.T) {
	o := newTestOrchestrator(t,
		fixedOracle(&decision.Decision{Text: "Got it, you mean 'red'.", Option: "red"}, nil))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}

	msgs := o.Process(context.Background(), "crimson I guess")
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want user + ack + node text", len(msgs))
	}
	if msgs[1].Text != "Got it, you mean 'red'." {
		t.Errorf("ack = %q", msgs[1].Text)
	}
	if msgs[2].Text != "Red is a warm color!" {
		t.Errorf("node text = %q", msgs[2].Text)
	}
}

func TestProcess_EmptyDecisionYieldsClarification(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{}, nil))

	msgs := o.Process(context.Background(), "mumble")
	if len(msgs) != 2 || msgs[1].Text != clarificationText {
		t.Errorf("messages = %+v, want clarification", msgs)
	}
}

func TestProcess_OracleFailureYieldsApology(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(nil, errors.New("oracle down")))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	before := o.State()

	msgs := o.Process(context.Background(), "red")
	if len(msgs) != 2 || msgs[1].Text != apologyText {
		t.Fatalf("messages = %+v, want apology", msgs)
	}

	after := o.State()
	if after.ActiveNode != before.ActiveNode {
		t.Errorf("failed turn moved position: %q -> %q", before.ActiveNode, after.ActiveNode)
	}
	// Only the user message and the apology were added.
	if len(after.Messages) != len(before.Messages)+2 {
		t.Errorf("log length = %d, want %d", len(after.Messages), len(before.Messages)+2)
	}
}

func TestProcess_ToolCallsRecordedNotExecuted(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{
		Text:      "Let me check.",
		ToolCalls: []decision.ToolCall{{Name: "record_lookup", Arguments: `{"record_id":"001"}`}},
	}, nil))

	o.Process(context.Background(), "how is record 001 doing?")
	st := o.State()
	if len(st.LastToolCalls) != 1 || st.LastToolCalls[0].Name != "record_lookup" {
		t.Errorf("tool calls = %+v", st.LastToolCalls)
	}
}

// =============================================================================
// Two-Phase Ordering Tests
// =============================================================================

func TestRecordUser_VisibleBeforeComputeReply(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Text: "ok"}, nil))

	userMsg := o.RecordUser("hello")
	st := o.State()
	if len(st.Messages) != 1 || st.Messages[0].ID != userMsg.ID {
		t.Fatalf("user message not visible before ComputeReply: %+v", st.Messages)
	}
	if st.CanUndo {
		t.Error("in-flight turn must not be undoable")
	}

	botMsgs := o.ComputeReply(context.Background())
	if len(botMsgs) == 0 {
		t.Fatal("ComputeReply produced no bot message")
	}
	if botMsgs[0].ID <= userMsg.ID {
		t.Errorf("bot id %d not after user id %d", botMsgs[0].ID, userMsg.ID)
	}
	if !o.State().CanUndo {
		t.Error("completed turn must be undoable")
	}
}

// =============================================================================
// Undo Tests
// =============================================================================

func TestUndo_RestoresPositionAndLog(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Option: "red"}, nil))
	o.Greet()
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	before := o.State()

	turn := o.Process(context.Background(), "red")
	removed := o.Undo()

	if len(removed) != len(turn) {
		t.Fatalf("removed %d ids, want %d", len(removed), len(turn))
	}
	wantIDs := make(map[int64]bool)
	for _, m := range turn {
		wantIDs[m.ID] = true
	}
	for _, id := range removed {
		if !wantIDs[id] {
			t.Errorf("unexpected removed id %d", id)
		}
	}

	after := o.State()
	if len(after.Messages) != len(before.Messages) {
		t.Errorf("log length = %d, want %d", len(after.Messages), len(before.Messages))
	}
	if after.ActiveNode != before.ActiveNode {
		t.Errorf("active node = %q, want %q", after.ActiveNode, before.ActiveNode)
	}
}

func TestUndo_NothingToUndo(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{}, nil))
	o.Greet()
	if removed := o.Undo(); len(removed) != 0 {
		t.Errorf("undo on fresh conversation removed %v", removed)
	}
}

// =============================================================================
// StartGraph / State Tests
// =============================================================================

func TestStartGraph_UnknownGraph(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{}, nil))
	if _, err := o.StartGraph("nope"); err == nil {
		t.Error("expected error for unknown graph")
	}
}

func TestStartGraph_ResumesSavedPosition(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{Option: "blue"}, nil))
	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	o.Process(context.Background(), "blue")

	// Re-entering resumes at the saved node, not the entry node.
	msg, err := o.StartGraph("colors")
	if err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	if msg.Text != "Blue is a cool color!" {
		t.Errorf("resume text = %q", msg.Text)
	}
}

func TestState_ReportsOptionsAndWhitelists(t *testing.T) {
	o := newTestOrchestrator(t, fixedOracle(&decision.Decision{}, nil))

	st := o.State()
	if len(st.Options) != 0 || st.CanUndo {
		t.Errorf("fresh state = %+v", st)
	}
	if len(st.GraphNames) != 1 || st.GraphNames[0] != "colors" {
		t.Errorf("graph names = %v", st.GraphNames)
	}

	if _, err := o.StartGraph("colors"); err != nil {
		t.Fatalf("StartGraph failed: %v", err)
	}
	st = o.State()
	if len(st.Options) != 2 || st.Options[0] != "red" || st.Options[1] != "blue" {
		t.Errorf("options = %v, want declaration order [red blue]", st.Options)
	}
}
