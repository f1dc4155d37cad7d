// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"log/slog"

	"github.com/AleutianAI/wayfinder/services/workflow"
)

// greetingText is the opening bot message for a new conversation.
const greetingText = "Hello! I'm a chatbot designed to help you navigate through decision " +
	"workflows. I can guide you through various topics using interactive questions and " +
	"provide relevant information along the way. To get started, please select or start " +
	"a workflow."

// Conversation is an explicit, constructible context object owning the
// message log, the position tracker, and the active node. There is no
// process-wide singleton; whatever layer drives turns owns one of these.
//
// Conversation does no locking. The core is designed for exactly one
// in-flight turn, not because concurrent use would be safe.
type Conversation struct {
	log       *MessageLog
	positions *PositionTracker
	active    workflow.NodeRef
	graphs    *workflow.GraphStore
}

// New creates an empty conversation over the given graph store.
func New(graphs *workflow.GraphStore) *Conversation {
	return &Conversation{
		log:       NewMessageLog(),
		positions: NewPositionTracker(),
		graphs:    graphs,
	}
}

// Greet appends the opening greeting as a bot message. Appended before any
// user message, so undo can never remove it.
func (c *Conversation) Greet() *Message {
	return c.log.AppendBot(greetingText)
}

// AppendUser appends a user message, capturing the active node as the
// message's position snapshot. Synchronous and fast: it touches only local
// state, so callers can surface the user message before any slow
// oracle-dependent work runs.
func (c *Conversation) AppendUser(text string) *Message {
	var snapshot *workflow.NodeRef
	if !c.active.IsZero() {
		ref := c.active
		snapshot = &ref
	}
	return c.log.AppendUser(text, snapshot)
}

// AppendBot appends a bot message.
func (c *Conversation) AppendBot(text string) *Message {
	return c.log.AppendBot(text)
}

// Messages returns the full message history in order.
func (c *Conversation) Messages() []*Message {
	return c.log.Messages()
}

// Active returns the current globally active node ref. The zero ref means
// no graph has been entered yet.
func (c *Conversation) Active() workflow.NodeRef {
	return c.active
}

// ActiveNode resolves the active ref against the graph store.
func (c *Conversation) ActiveNode() (*workflow.Node, bool) {
	return c.graphs.Resolve(c.active)
}

// Positions exposes the tracker for read-only inspection.
func (c *Conversation) Positions() *PositionTracker {
	return c.positions
}

// Enter switches into a graph: resumes the saved position if the tracker has
// one, otherwise starts at the graph's entry node and records it. The
// resulting node becomes the active node.
func (c *Conversation) Enter(graphName string) (workflow.NodeRef, error) {
	g, err := c.graphs.Get(graphName)
	if err != nil {
		return workflow.NodeRef{}, err
	}
	ref, ok := c.positions.Get(graphName)
	if !ok {
		ref = workflow.NodeRef{Graph: graphName, Node: g.Entry()}
	}
	c.RecordTransition(ref)
	return ref, nil
}

// RecordTransition makes ref the active node and, when the ref names a
// graph, updates that graph's tracked position.
func (c *Conversation) RecordTransition(ref workflow.NodeRef) {
	c.positions.Set(ref)
	c.active = ref
}

// CanUndo reports whether a completed turn exists: true iff the most recent
// user message has at least one message after it. A trailing user message
// with nothing after it belongs to an in-flight turn and cannot be undone.
func (c *Conversation) CanUndo() bool {
	i := c.log.lastUserIndex()
	return i >= 0 && i < c.log.Len()-1
}

// Undo removes the most recent user message and everything after it,
// restoring the active node and the tracked position from that message's
// snapshot. Returns the removed ids in log order, or an empty slice (and no
// mutation) when CanUndo is false.
//
// After Undo the conversation is observably identical to its state
// immediately before the undone user message was appended, regardless of how
// many bot messages the turn produced.
func (c *Conversation) Undo() []int64 {
	if !c.CanUndo() {
		return []int64{}
	}
	i := c.log.lastUserIndex()
	userMsg := c.log.messages[i]
	removed := c.log.removeFrom(i)

	if userMsg.Position != nil {
		c.active = *userMsg.Position
		c.positions.Set(*userMsg.Position)
	} else {
		c.active = workflow.NodeRef{}
	}

	slog.Info("Undid conversation turn", "removedIds", removed, "restoredNode", c.active.Node)
	return removed
}
