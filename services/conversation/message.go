// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds the mutable state of a single guided chat:
// the append-only message log, the per-graph position tracker, and the
// globally active node. All state is owned by one conversation and is meant
// to be driven by exactly one in-flight turn at a time.
package conversation

import (
	"time"

	"github.com/AleutianAI/wayfinder/services/workflow"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Message is one turn entry in the log. Messages are created only by the
// conversation and never mutated after creation.
type Message struct {
	// ID is globally unique and strictly increasing, never reused even
	// across undo.
	ID int64 `json:"id"`

	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Role      Role      `json:"role"`

	// Position records the active node before this message was processed.
	// Populated only for user messages; nil when no graph was active.
	Position *workflow.NodeRef `json:"position,omitempty"`
}
