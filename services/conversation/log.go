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
	"time"

	"github.com/AleutianAI/wayfinder/services/workflow"
)

// MessageLog is the append-only ordered record of turns.
type MessageLog struct {
	messages []*Message
	nextID   int64
}

// NewMessageLog returns an empty log. IDs start at 1.
func NewMessageLog() *MessageLog {
	return &MessageLog{nextID: 1}
}

// AppendUser appends a user message carrying the given position snapshot.
// Never blocks on anything but local state.
func (l *MessageLog) AppendUser(text string, position *workflow.NodeRef) *Message {
	msg := &Message{
		ID:        l.nextID,
		Timestamp: time.Now(),
		Text:      text,
		Role:      RoleUser,
		Position:  position,
	}
	l.messages = append(l.messages, msg)
	l.nextID++
	return msg
}

// AppendBot appends a bot message. Bot messages carry no snapshot.
func (l *MessageLog) AppendBot(text string) *Message {
	msg := &Message{
		ID:        l.nextID,
		Timestamp: time.Now(),
		Text:      text,
		Role:      RoleBot,
	}
	l.messages = append(l.messages, msg)
	l.nextID++
	return msg
}

// Messages returns the log contents in order. The slice is a copy; the
// messages themselves are shared and must be treated as immutable.
func (l *MessageLog) Messages() []*Message {
	out := make([]*Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log.
func (l *MessageLog) Len() int {
	return len(l.messages)
}

// lastUserIndex scans backward for the most recent user message.
// Returns -1 when the log has none.
func (l *MessageLog) lastUserIndex() int {
	for i := len(l.messages) - 1; i >= 0; i-- {
		if l.messages[i].Role == RoleUser {
			return i
		}
	}
	return -1
}

// removeFrom deletes the suffix starting at index i and returns the removed
// ids in log order. The id counter is not rewound: ids are never reused.
func (l *MessageLog) removeFrom(i int) []int64 {
	removed := make([]int64, 0, len(l.messages)-i)
	for _, msg := range l.messages[i:] {
		removed = append(removed, msg.ID)
	}
	l.messages = l.messages[:i]
	return removed
}
