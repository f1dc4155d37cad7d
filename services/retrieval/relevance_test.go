package retrieval

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/wayfinder/services/conversation"
	"github.com/AleutianAI/wayfinder/services/llm"
)

// =============================================================================
// JSON Extraction Tests
// =============================================================================

func TestUnmarshalEmbeddedJSON_HandlesProseWrapping(t *testing.T) {
	raw := "Sure! Here is my verdict:\n```json\n" +
		`{"is_relevant": true, "confidence": 0.8, "reasoning": "matches"}` +
		"\n```\nHope that helps."
	var j RelevanceJudgment
	if err := unmarshalEmbeddedJSON(raw, &j); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !j.IsRelevant || j.Confidence != 0.8 || j.Reasoning != "matches" {
		t.Errorf("judgment = %+v", j)
	}
}

func TestUnmarshalEmbeddedJSON_RejectsNonJSON(t *testing.T) {
	var j RelevanceJudgment
	if err := unmarshalEmbeddedJSON("I cannot answer that.", &j); err == nil {
		t.Error("expected error for output without JSON")
	}
}

// =============================================================================
// Judge Tests
// =============================================================================

func TestLLMRelevanceJudge_ParsesVerdict(t *testing.T) {
	client := llm.GenerateFunc(func(_ context.Context, prompt string,
		_ llm.GenerationParams) (string, error) {
		if !strings.Contains(prompt, "red doc") {
			t.Errorf("prompt missing snippet content:\n%s", prompt)
		}
		return `{"is_relevant": false, "confidence": 0.95, "reasoning": "off topic"}`, nil
	})
	judge := NewLLMRelevanceJudge(client, nil)

	recent := []conversation.Message{
		{Text: "tell me about colors", Role: conversation.RoleUser},
	}
	j, err := judge.Judge(context.Background(), recent,
		Document{SourceID: "red.md", Content: "red doc"})
	if err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	if j.IsRelevant || j.Confidence != 0.95 {
		t.Errorf("judgment = %+v", j)
	}
}

func TestLLMRelevanceJudge_PromptCarriesConversationTurns(t *testing.T) {
	var seenPrompt string
	client := llm.GenerateFunc(func(_ context.Context, prompt string,
		_ llm.GenerationParams) (string, error) {
		seenPrompt = prompt
		return `{"is_relevant": true, "confidence": 0.9, "reasoning": "on topic"}`, nil
	})
	judge := NewLLMRelevanceJudge(client, nil)

	recent := []conversation.Message{
		{Text: "which color should I pick?", Role: conversation.RoleUser},
		{Text: "Do you prefer warm or cool tones?", Role: conversation.RoleBot},
	}
	if _, err := judge.Judge(context.Background(), recent,
		Document{SourceID: "red.md", Content: "red doc"}); err != nil {
		t.Fatalf("Judge failed: %v", err)
	}
	for _, want := range []string{
		"User: which color should I pick?",
		"Bot: Do you prefer warm or cool tones?",
	} {
		if !strings.Contains(seenPrompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, seenPrompt)
		}
	}
}

// =============================================================================
// Synthesis Tests
// =============================================================================

func TestLLMQueryRewriter_TrimsOutput(t *testing.T) {
	client := llm.GenerateFunc(func(_ context.Context, _ string,
		_ llm.GenerationParams) (string, error) {
		return "  \"color options\"  \n", nil
	})
	rewriter := NewLLMQueryRewriter(client, nil)

	query, err := rewriter.Rewrite(context.Background(), nil)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if query != "color options" {
		t.Errorf("query = %q", query)
	}
}

func TestLLMQueryRewriter_EmptyOutputIsError(t *testing.T) {
	client := llm.GenerateFunc(func(_ context.Context, _ string,
		_ llm.GenerationParams) (string, error) {
		return "   ", nil
	})
	rewriter := NewLLMQueryRewriter(client, nil)
	if _, err := rewriter.Rewrite(context.Background(), nil); err == nil {
		t.Error("expected error for empty rewrite output")
	}
}

func TestFormatHistory(t *testing.T) {
	got := FormatHistory([]conversation.Message{
		{Text: "hello", Role: conversation.RoleBot},
		{Text: "hi there", Role: conversation.RoleUser},
	})
	want := "Bot: hello\nUser: hi there"
	if got != want {
		t.Errorf("FormatHistory = %q, want %q", got, want)
	}
}
