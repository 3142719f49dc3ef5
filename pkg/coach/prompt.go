package coach

import (
	"fmt"
	"strings"

	"github.com/teslashibe/go-phonic/pkg/history"
)

// Section markers the model is asked to emit.
const (
	CoachingMarker     = "---COACHING---"
	ConversationMarker = "---CONVERSATION---"
)

// SystemPrompt gives the model its dual tutor and conversation partner role.
const SystemPrompt = "You are an English tutor and friendly conversationalist. " +
	"Give constructive feedback on pronunciation, grammar, and naturalness, and keep a " +
	"natural dialogue going by responding to what the user said. Maintain conversation " +
	"continuity by referring to previous exchanges when relevant. Be warm and encouraging."

// BuildPrompt renders the user prompt: up to window prior turns, the
// current utterance, and the two-section response format.
func BuildPrompt(utterance string, turns []history.Turn, window int) string {
	var b strings.Builder
	b.WriteString("Analyze the user's speech and provide TWO separate responses.")

	if recent := history.Window(turns, window); len(recent) > 0 {
		b.WriteString("\n\nCONVERSATION CONTEXT (previous exchanges):\n")
		for i, turn := range recent {
			fmt.Fprintf(&b, "Turn %d:\n", i+1)
			fmt.Fprintf(&b, "  User: %s\n", turn.User)
			fmt.Fprintf(&b, "  Your conversational response: %s\n", turn.Conversational)
		}
	}

	fmt.Fprintf(&b, "\n\nCURRENT USER INPUT: %q\n\n", utterance)
	b.WriteString("RESPONSE FORMAT (clearly separate both parts):\n")
	b.WriteString(CoachingMarker + "\n")
	b.WriteString("Provide feedback on pronunciation, grammar, and naturalness. " +
		"Keep it under 50 words. Be encouraging. Reference context if relevant.\n\n")
	b.WriteString(ConversationMarker + "\n")
	b.WriteString("Respond naturally to what the user said, as if you were their friend having " +
		"a conversation. Use context from previous exchanges. Keep it natural and " +
		"conversational (under 50 words).\n")
	return b.String()
}
