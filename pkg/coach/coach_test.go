package coach

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-phonic/internal/log"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/inference"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		coaching       string
		conversational string
	}{
		{
			name:           "both markers",
			raw:            "---COACHING---\nSay 'went', not 'goed'.\n---CONVERSATION---\nWhat did you buy?",
			coaching:       "Say 'went', not 'goed'.",
			conversational: "What did you buy?",
		},
		{
			name:           "inline markers",
			raw:            "---COACHING--- hello ---CONVERSATION--- world",
			coaching:       "hello",
			conversational: "world",
		},
		{
			name:           "preamble before first marker",
			raw:            "Sure! ---COACHING--- good ---CONVERSATION--- nice",
			coaching:       "good",
			conversational: "nice",
		},
		{
			name:           "tags stripped",
			raw:            "---COACHING---<b>Great</b> job---CONVERSATION---<speak>Cool!</speak>",
			coaching:       "Great job",
			conversational: "Cool!",
		},
		{
			name:           "repeated conversation marker truncates",
			raw:            "---COACHING--- a ---CONVERSATION--- b ---CONVERSATION--- c",
			coaching:       "a",
			conversational: "b",
		},
		{
			name:           "no markers",
			raw:            "Your grammar is perfect.",
			coaching:       "Your grammar is perfect.",
			conversational: FallbackConversation,
		},
		{
			name:           "only coaching marker",
			raw:            "---COACHING--- just feedback",
			coaching:       "---COACHING--- just feedback",
			conversational: FallbackConversation,
		},
		{
			name:           "conversation marker first",
			raw:            "---CONVERSATION--- hi there ---COACHING--- tip",
			coaching:       "tip",
			conversational: "hi there",
		},
		{
			name:           "only conversation marker",
			raw:            "---CONVERSATION--- hi",
			coaching:       "---CONVERSATION--- hi",
			conversational: FallbackConversation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coaching, conversational := Parse(tt.raw)
			if coaching != tt.coaching {
				t.Errorf("coaching = %q, want %q", coaching, tt.coaching)
			}
			if conversational != tt.conversational {
				t.Errorf("conversational = %q, want %q", conversational, tt.conversational)
			}
		})
	}
}

func TestParseWithCustomMarkers(t *testing.T) {
	coaching, conversational := parseWith("---A--- hello ---B--- world", "---A---", "---B---")
	if coaching != "hello" || conversational != "world" {
		t.Errorf("got (%q, %q), want (hello, world)", coaching, conversational)
	}
}

func TestBuildPrompt(t *testing.T) {
	turns := []history.Turn{
		{User: "first", Conversational: "r1"},
		{User: "second", Conversational: "r2"},
		{User: "third", Conversational: "r3"},
		{User: "fourth", Conversational: "r4"},
	}

	prompt := BuildPrompt("I goed home", turns, 3)

	if strings.Contains(prompt, "User: first") {
		t.Error("prompt should only include the last 3 turns")
	}
	for _, want := range []string{
		"CONVERSATION CONTEXT (previous exchanges):",
		"Turn 1:\n  User: second\n  Your conversational response: r2",
		"Turn 3:\n  User: fourth",
		`CURRENT USER INPUT: "I goed home"`,
		CoachingMarker,
		ConversationMarker,
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
}

func TestBuildPromptWithoutHistory(t *testing.T) {
	prompt := BuildPrompt("hello", nil, 3)
	if strings.Contains(prompt, "CONVERSATION CONTEXT") {
		t.Error("empty history must not render a context block")
	}
	if !strings.Contains(prompt, `CURRENT USER INPUT: "hello"`) {
		t.Error("prompt missing current input")
	}
}

func TestGenerate(t *testing.T) {
	mock := inference.NewMockReply("---COACHING--- Use 'went'. ---CONVERSATION--- Where did you go?")
	g := New(Static{mock}, WithLogger(log.Discard()))

	coaching, conversational := g.Generate(context.Background(), "I goed to the park", nil)
	if coaching != "Use 'went'." {
		t.Errorf("coaching = %q", coaching)
	}
	if conversational != "Where did you go?" {
		t.Errorf("conversational = %q", conversational)
	}

	req := mock.LastRequest()
	if req == nil || len(req.Messages) != 2 {
		t.Fatalf("expected system + user messages, got %+v", req)
	}
	if req.Messages[0].Role != inference.RoleSystem || req.Messages[0].Content != SystemPrompt {
		t.Errorf("unexpected system message: %+v", req.Messages[0])
	}
}

func TestGenerateEmptyUtterance(t *testing.T) {
	for _, in := range []string{"", "   ", "\n\t"} {
		mock := inference.NewMock()
		g := New(Static{mock}, WithLogger(log.Discard()))

		coaching, conversational := g.Generate(context.Background(), in, nil)
		if coaching != NoSpeechMessage {
			t.Errorf("Generate(%q) coaching = %q", in, coaching)
		}
		if conversational != "" {
			t.Errorf("Generate(%q) conversational = %q, want empty", in, conversational)
		}
		if n := mock.CallCount("Chat"); n != 0 {
			t.Errorf("model called %d times for empty input", n)
		}
	}
}

func TestGenerateModelError(t *testing.T) {
	g := New(Static{inference.WithError(errors.New("connection refused"))}, WithLogger(log.Discard()))

	coaching, conversational := g.Generate(context.Background(), "hello", nil)
	if coaching != "Error generating feedback: connection refused" {
		t.Errorf("coaching = %q", coaching)
	}
	if conversational != "" {
		t.Errorf("conversational = %q, want empty", conversational)
	}
}

type failingSource struct{}

func (failingSource) Get(context.Context) (inference.Provider, error) {
	return nil, errors.New("ollama not running")
}

func TestGenerateSourceError(t *testing.T) {
	g := New(failingSource{}, WithLogger(log.Discard()))

	coaching, conversational := g.Generate(context.Background(), "hello", nil)
	if !strings.HasPrefix(coaching, "Error generating feedback: ") {
		t.Errorf("coaching = %q", coaching)
	}
	if conversational != "" {
		t.Errorf("conversational = %q, want empty", conversational)
	}
}

func TestGenerateWindow(t *testing.T) {
	mock := inference.NewMock()
	g := New(Static{mock}, WithWindow(1), WithLogger(log.Discard()))

	turns := []history.Turn{{User: "old"}, {User: "recent"}}
	g.Generate(context.Background(), "now", turns)

	prompt := mock.LastRequest().Messages[1].Content
	if strings.Contains(prompt, "User: old") || !strings.Contains(prompt, "User: recent") {
		t.Errorf("window of 1 not applied:\n%s", prompt)
	}
}
