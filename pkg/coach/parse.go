package coach

import (
	"strings"

	"github.com/teslashibe/go-phonic/pkg/textclean"
)

// FallbackConversation is used when the model ignores the section format.
const FallbackConversation = "Thank you for sharing that!"

// Parse splits raw model output into coaching and conversational text.
//
// With both markers present, in either order, each part is the text after
// the first occurrence of its marker up to the next marker or the end.
// Otherwise the whole output is coaching and the conversational reply is
// FallbackConversation. Both parts are tag-stripped.
func Parse(raw string) (coaching, conversational string) {
	return parseWith(raw, CoachingMarker, ConversationMarker)
}

func parseWith(raw, first, second string) (string, string) {
	raw = strings.TrimSpace(raw)

	c := strings.Index(raw, first)
	v := strings.Index(raw, second)
	if c < 0 || v < 0 {
		return textclean.StripTags(raw), FallbackConversation
	}

	section := func(at int, marker string) string {
		s := raw[at+len(marker):]
		if end := nextMarker(s, first, second); end >= 0 {
			s = s[:end]
		}
		return textclean.StripTags(s)
	}
	return section(c, first), section(v, second)
}

func nextMarker(s string, markers ...string) int {
	end := -1
	for _, m := range markers {
		if i := strings.Index(s, m); i >= 0 && (end < 0 || i < end) {
			end = i
		}
	}
	return end
}
