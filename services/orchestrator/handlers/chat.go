// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers translates HTTP requests into turn-loop calls. Handlers
// stay thin: parse, call the orchestrator, shape the response.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/orchestrator"
	"github.com/AleutianAI/wayfinder/services/workflow"
)

// ChatAPI exposes the conversation over HTTP. The mutex serializes turns:
// the core assumes exactly one in-flight turn, so concurrent requests
// queue here rather than race.
type ChatAPI struct {
	mu         sync.Mutex
	orc        *orchestrator.TurnOrchestrator
	sidebarDir string
}

// NewChatAPI wraps an orchestrator for HTTP use. sidebarDir is the
// directory sidebar resources are served from; empty disables the endpoint.
func NewChatAPI(orc *orchestrator.TurnOrchestrator, sidebarDir string) *ChatAPI {
	return &ChatAPI{orc: orc, sidebarDir: sidebarDir}
}

// stateResponse is the common payload shape: the conversation snapshot the
// UI rebuilds itself from after every call.
type stateResponse struct {
	Messages       []*conversation.Message `json:"messages"`
	CurrentOptions []string                `json:"current_options"`
	ActiveSidebars []string                `json:"active_sidebars"`
	ActiveGraph    string                  `json:"active_graph,omitempty"`
	GraphNames     []string                `json:"graph_names"`
	CanGoBack      bool                    `json:"can_go_back"`
}

func toStateResponse(st orchestrator.State) stateResponse {
	return stateResponse{
		Messages:       st.Messages,
		CurrentOptions: st.Options,
		ActiveSidebars: st.Sidebars,
		ActiveGraph:    st.ActiveGraph,
		GraphNames:     st.GraphNames,
		CanGoBack:      st.CanUndo,
	}
}

// GetMessages handles GET /api/messages.
func (a *ChatAPI) GetMessages() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		c.JSON(http.StatusOK, toStateResponse(a.orc.State()))
	}
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

type sendMessageResponse struct {
	stateResponse
	NewMessages []*conversation.Message `json:"new_messages"`
}

// SendMessage handles POST /api/send_message. Runs a full turn and returns
// the appended messages plus the refreshed state.
func (a *ChatAPI) SendMessage() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req sendMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text must not be empty"})
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		newMsgs := a.orc.Process(c.Request.Context(), req.Text)
		c.JSON(http.StatusOK, sendMessageResponse{
			stateResponse: toStateResponse(a.orc.State()),
			NewMessages:   newMsgs,
		})
	}
}

type goBackResponse struct {
	stateResponse
	RemovedMessageIDs []int64 `json:"removed_message_ids"`
}

// GoBack handles POST /api/go_back. A no-op undo returns 200 with an empty
// id list, never an error.
func (a *ChatAPI) GoBack() gin.HandlerFunc {
	return func(c *gin.Context) {
		a.mu.Lock()
		defer a.mu.Unlock()
		removed := a.orc.Undo()
		c.JSON(http.StatusOK, goBackResponse{
			stateResponse:     toStateResponse(a.orc.State()),
			RemovedMessageIDs: removed,
		})
	}
}

type startGraphRequest struct {
	Graph string `json:"graph" binding:"required"`
}

// StartGraph handles POST /api/start_graph: explicit graph selection from
// the UI, bypassing the oracle.
func (a *ChatAPI) StartGraph() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startGraphRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "graph is required"})
			return
		}

		a.mu.Lock()
		defer a.mu.Unlock()
		msg, err := a.orc.StartGraph(req.Graph)
		if err != nil {
			if errors.Is(err, workflow.ErrGraphNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			slog.Error("Failed to start graph", "graph", req.Graph, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start graph"})
			return
		}
		c.JSON(http.StatusOK, sendMessageResponse{
			stateResponse: toStateResponse(a.orc.State()),
			NewMessages:   []*conversation.Message{msg},
		})
	}
}

// GetSidebar handles GET /api/sidebar/:name, serving one sidebar resource
// as plain text. The name is flattened to its base to keep reads inside
// the sidebar directory.
func (a *ChatAPI) GetSidebar() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.sidebarDir == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "sidebars are not configured"})
			return
		}
		name := filepath.Base(c.Param("name"))
		if name == "." || name == string(filepath.Separator) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sidebar name"})
			return
		}
		content, err := os.ReadFile(filepath.Join(a.sidebarDir, name))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "sidebar not found"})
			return
		}
		c.Data(http.StatusOK, "text/plain; charset=utf-8", content)
	}
}

// Health handles GET /health.
func Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
