// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the retrieval-augmented context pipeline:
// query synthesis, embedding-similarity top-k retrieval over a static
// knowledge corpus, concurrent relevance filtering, and context assembly.
//
// The pipeline only reads conversation state; all mutation belongs to the
// orchestrator. Every external oracle failure degrades to a documented
// fallback; Retrieve never fails the turn.
package retrieval

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Document is one unit of the static knowledge corpus.
type Document struct {
	// SourceID is the opaque identifier shown when the document's content
	// is assembled into context.
	SourceID string

	Content string

	// Hash is the sha256 of Content, the embedding cache key.
	Hash string
}

// Corpus is the static snippet collection, loaded once at startup and
// immutable afterward. Declaration order is the retrieval tie-breaker.
type Corpus struct {
	docs []Document
}

// NewCorpus builds a corpus from documents in declaration order.
func NewCorpus(docs []Document) *Corpus {
	for i := range docs {
		if docs[i].Hash == "" {
			docs[i].Hash = ContentHash(docs[i].Content)
		}
	}
	return &Corpus{docs: docs}
}

// LoadCorpusDir reads every regular file in dir as one document whose
// SourceID is the file name. Files load in lexical order so declaration
// order is deterministic across runs.
func LoadCorpusDir(dir string) (*Corpus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	docs := make([]Document, 0, len(names))
	for _, name := range names {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read corpus file %s: %w", name, err)
		}
		docs = append(docs, Document{SourceID: name, Content: string(content)})
	}
	slog.Info("Loaded knowledge corpus", "dir", dir, "documents", len(docs))
	return NewCorpus(docs), nil
}

// Documents returns the corpus contents in declaration order.
func (c *Corpus) Documents() []Document {
	out := make([]Document, len(c.docs))
	copy(out, c.docs)
	return out
}

// Len returns the number of documents.
func (c *Corpus) Len() int { return len(c.docs) }

// ContentHash returns the hex sha256 of content, used as the embedding
// cache key so unchanged content never re-embeds.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
