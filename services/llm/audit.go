// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// CallRecord describes one oracle call for the audit log.
type CallRecord struct {
	Timestamp time.Time `yaml:"timestamp"`
	// CallType is the call site: decision, rewrite, relevance, embedding.
	CallType string  `yaml:"call_type"`
	Duration float64 `yaml:"duration_seconds"`
	// Input is a compact summary of what was sent (never full secrets).
	Input    string `yaml:"input"`
	Response string `yaml:"response,omitempty"`
	Error    string `yaml:"error,omitempty"`
}

// AuditSink receives a record for every oracle call. Implementations must
// never fail the calling turn: audit is observability, not control flow.
type AuditSink interface {
	Record(rec CallRecord)
}

// NopAudit discards all records. Used in tests.
type NopAudit struct{}

// Record implements AuditSink.
func (NopAudit) Record(CallRecord) {}

// yamlSession is the on-disk layout of one audit session file.
type yamlSession struct {
	SessionInfo struct {
		SessionID string `yaml:"session_id"`
		StartedAt string `yaml:"started_at"`
	} `yaml:"session_info"`
	Calls map[string]CallRecord `yaml:"calls"`
}

// YAMLAudit appends every oracle call to a per-session YAML file, one
// collapsible entry per call. A failed write logs a warning and drops the
// record; it never propagates to the turn.
//
// Safe for concurrent use: the relevance fan-out records judgments from
// multiple goroutines against the same sink.
type YAMLAudit struct {
	mu      sync.Mutex
	path    string
	session yamlSession
	counter int
}

// NewYAMLAudit creates the audit directory and the session file.
func NewYAMLAudit(dir string) (*YAMLAudit, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}
	sessionID := uuid.NewString()[:8]
	started := time.Now()

	a := &YAMLAudit{
		path: filepath.Join(dir, fmt.Sprintf("llm_session_%s_%s.yaml",
			started.Format("20060102_150405"), sessionID)),
	}
	a.session.SessionInfo.SessionID = sessionID
	a.session.SessionInfo.StartedAt = started.Format(time.RFC3339)
	a.session.Calls = make(map[string]CallRecord)

	if err := a.flush(); err != nil {
		return nil, err
	}
	slog.Info("Opened LLM audit log", "path", a.path, "sessionId", sessionID)
	return a, nil
}

// Path returns the session file location.
func (a *YAMLAudit) Path() string { return a.path }

// Record implements AuditSink.
func (a *YAMLAudit) Record(rec CallRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counter++
	callID := fmt.Sprintf("call_%03d_%s", a.counter, rec.Timestamp.Format("150405.000"))
	a.session.Calls[callID] = rec
	if err := a.flush(); err != nil {
		slog.Warn("Failed to write LLM audit record", "error", err, "callId", callID)
	}
}

func (a *YAMLAudit) flush() error {
	data, err := yaml.Marshal(&a.session)
	if err != nil {
		return fmt.Errorf("failed to marshal audit session: %w", err)
	}
	if err := os.WriteFile(a.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write audit session file: %w", err)
	}
	return nil
}
