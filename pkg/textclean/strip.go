// Package textclean prepares model output for display, storage and speech
// synthesis. It has two independent passes: StripTags removes markup the
// language model leaked into its answer, and Charset.Filter keeps only the
// characters a synthesis backend can pronounce for a given language.
package textclean

import (
	"regexp"
	"strings"
)

var (
	tagPattern = regexp.MustCompile(`<[^>]+>`)

	// &amp; goes first so "&amp;lt;" unescapes one level per pass.
	entities = strings.NewReplacer(
		"&amp;", "&",
	)
	markupEntities = strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
	)
)

// StripTags unescapes common HTML entities, removes every <...> span and
// collapses whitespace. Adjacent tags are separated first so removing them
// never fuses two words. StripTags(StripTags(s)) == StripTags(s).
func StripTags(s string) string {
	if s == "" {
		return ""
	}
	for {
		prev := s
		s = unescape(s)
		s = strings.ReplaceAll(s, "><", "> <")
		s = tagPattern.ReplaceAllString(s, " ")
		if s == prev {
			break
		}
	}
	return collapse(s)
}

func unescape(s string) string {
	return markupEntities.Replace(entities.Replace(s))
}

// collapse turns every whitespace run into one space and trims the ends.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
