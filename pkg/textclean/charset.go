package textclean

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyInput is returned when filtering leaves nothing to synthesize.
var ErrEmptyInput = errors.New("textclean: no synthesizable characters left after filtering")

const (
	latinLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
	punctuation  = ".,;:!?'\"-()&"
)

// Accented letters per language, added on top of the English set.
var accents = map[string]string{
	"es": "áéíóúüñÁÉÍÓÚÜÑ¿¡",
	"fr": "àâæçéèêëîïôœùûüÿÀÂÆÇÉÈÊËÎÏÔŒÙÛÜŸ«»",
	"de": "äöüßÄÖÜẞ",
	"it": "àèéìíîòóùúÀÈÉÌÍÎÒÓÙÚ",
	"pt": "áâãàçéêíóôõúüÁÂÃÀÇÉÊÍÓÔÕÚÜ",
}

// Charset is an allow-list of runes a synthesis backend can render.
// Whitespace is always allowed.
type Charset struct {
	name    string
	allowed map[rune]struct{}
}

// NewCharset builds a charset from the given character groups.
func NewCharset(name string, groups ...string) *Charset {
	cs := &Charset{name: name, allowed: make(map[rune]struct{})}
	for _, g := range groups {
		for _, r := range g {
			cs.allowed[r] = struct{}{}
		}
	}
	return cs
}

// English is the Latin-only set used by English voices and formant engines.
var English = NewCharset("en", latinLetters, digits, punctuation)

// ForLanguage returns the widest charset for a language code such as "es"
// or "fr-FR". Unknown languages get the English set.
func ForLanguage(lang string) *Charset {
	base := strings.ToLower(lang)
	if i := strings.IndexAny(base, "-_"); i > 0 {
		base = base[:i]
	}
	extra, ok := accents[base]
	if !ok {
		return English
	}
	return NewCharset(base, latinLetters, digits, punctuation, extra)
}

// Name returns the charset's language tag.
func (c *Charset) Name() string { return c.name }

// Allows reports whether r survives filtering.
func (c *Charset) Allows(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	_, ok := c.allowed[r]
	return ok
}

// Filter keeps only allowed characters and collapses whitespace. Disallowed
// characters are dropped silently. Empty input yields "" with no error;
// non-empty input with nothing left yields ErrEmptyInput.
func (c *Charset) Filter(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if c.Allows(r) {
			b.WriteRune(r)
		}
	}

	out := collapse(b.String())
	if out == "" {
		return "", ErrEmptyInput
	}
	return out, nil
}
