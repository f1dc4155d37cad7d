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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"gopkg.in/yaml.v3"
)

// Tool is one callable definition offered to the oracle.
type Tool struct {
	Definition openai.FunctionDefinition

	// Run executes the tool. Present so the registry is complete, but the
	// turn loop records oracle tool calls without executing them.
	Run func(arguments string) (string, error)
}

// ToolRegistry holds the tool definitions offered to the decision oracle.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry returns an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool by its definition name.
func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Definitions returns tool definitions in registration order, in the shape
// the chat completion API expects.
func (r *ToolRegistry) Definitions() []openai.Tool {
	defs := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, openai.Tool{
			Type:     openai.ToolTypeFunction,
			Function: &tool.Definition,
		})
	}
	return defs
}

// Execute runs a registered tool by name.
func (r *ToolRegistry) Execute(name, arguments string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	if tool.Run == nil {
		return "", fmt.Errorf("tool %q has no implementation", name)
	}
	return tool.Run(arguments)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.tools) }

// =============================================================================
// Record lookup tool
// =============================================================================

// recordLookupArgs is the argument payload of the record_lookup tool.
type recordLookupArgs struct {
	RecordID string `json:"record_id"`
}

// NewRecordLookupTool builds a lookup tool over a static YAML dataset whose
// top-level keys are record identifiers. Lookup is the only built-in tool;
// it exists as the extension point for structured-data queries mid-decision.
func NewRecordLookupTool(datasetPath string) (Tool, error) {
	data, err := os.ReadFile(datasetPath)
	if err != nil {
		return Tool{}, fmt.Errorf("failed to read tool dataset %s: %w", datasetPath, err)
	}
	var records map[string]map[string]any
	if err := yaml.Unmarshal(data, &records); err != nil {
		return Tool{}, fmt.Errorf("failed to parse tool dataset %s: %w", datasetPath, err)
	}
	slog.Info("Loaded record lookup dataset", "path", datasetPath, "records", len(records))

	return Tool{
		Definition: openai.FunctionDefinition{
			Name: "record_lookup",
			Description: "Look up a structured record from the reference dataset " +
				"by its identifier. Returns the full record as JSON.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"record_id": map[string]any{
						"type":        "string",
						"description": "The identifier of the record to look up.",
					},
				},
				"required": []string{"record_id"},
			},
		},
		Run: func(arguments string) (string, error) {
			var args recordLookupArgs
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return "", fmt.Errorf("invalid record_lookup arguments: %w", err)
			}
			id := strings.TrimSpace(args.RecordID)
			record, ok := records[id]
			if !ok {
				ids := make([]string, 0, len(records))
				for k := range records {
					ids = append(ids, k)
				}
				sort.Strings(ids)
				out, _ := json.Marshal(map[string]any{
					"status":        "not_found",
					"message":       fmt.Sprintf("no record found for id %q", id),
					"available_ids": ids,
				})
				return string(out), nil
			}
			out, err := json.Marshal(map[string]any{
				"status": "success",
				"data":   record,
			})
			if err != nil {
				return "", fmt.Errorf("failed to encode record %q: %w", id, err)
			}
			return string(out), nil
		},
	}, nil
}
