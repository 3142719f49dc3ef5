package voice

import "strings"

// AnyLanguage keys a preset used for every language without its own entry.
const AnyLanguage = "*"

// DefaultLanguage is used for categories with no configured language.
const DefaultLanguage = "en"

// Voices maps language -> gender -> backend voice id.
type Voices map[string]map[Gender]string

// Table is the default Policy: a language per category and a preset
// table per backend.
type Table struct {
	Languages map[Category]string
	Voices    Voices
}

// NewTable builds a policy for backend using its presets.
func NewTable(backend string, languages map[Category]string) *Table {
	return &Table{Languages: languages, Voices: Presets(backend)}
}

// Select implements Policy.
func (t *Table) Select(c Category, p Profile) Selection {
	lang := t.Languages[c]
	if lang == "" {
		lang = DefaultLanguage
	}
	g := Contrast(p)
	return Selection{Language: lang, Gender: g, Voice: t.lookup(lang, g)}
}

// lookup tries the exact tag, then its base language ("es" for "es-ES"),
// then the catch-all and English presets.
func (t *Table) lookup(lang string, g Gender) string {
	for _, key := range []string{lang, baseLanguage(lang), AnyLanguage, DefaultLanguage} {
		if byGender, ok := t.Voices[key]; ok {
			return byGender[g]
		}
	}
	return ""
}

func baseLanguage(tag string) string {
	tag = strings.ToLower(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return tag[:i]
	}
	return tag
}

// Presets returns the built-in voice table for a synthesis backend.
// Unknown backends get an empty table, so every selection falls back to
// the backend's default voice.
func Presets(backend string) Voices {
	switch backend {
	case "openai":
		return Voices{AnyLanguage: {Female: "nova", Male: "onyx"}}
	case "elevenlabs", "elevenlabs-ws":
		// Multilingual model: the same two voices speak every language.
		return Voices{AnyLanguage: {Female: "rachel", Male: "adam"}}
	case "google":
		return Voices{
			"en": {Female: "en-US-Neural2-F", Male: "en-US-Neural2-D"},
			"es": {Female: "es-ES-Neural2-A", Male: "es-ES-Neural2-B"},
			"fr": {Female: "fr-FR-Neural2-A", Male: "fr-FR-Neural2-B"},
			"de": {Female: "de-DE-Neural2-A", Male: "de-DE-Neural2-B"},
			"it": {Female: "it-IT-Neural2-A", Male: "it-IT-Neural2-C"},
			"pt": {Female: "pt-BR-Neural2-A", Male: "pt-BR-Neural2-B"},
		}
	case "espeak":
		v := Voices{}
		for _, lang := range []string{"en", "es", "fr", "de", "it", "pt"} {
			v[lang] = map[Gender]string{Female: lang + "+f3", Male: lang + "+m3"}
		}
		return v
	case "coqui":
		// ljspeech is a single-speaker model.
		return Voices{AnyLanguage: {Female: "", Male: ""}}
	}
	return Voices{}
}
