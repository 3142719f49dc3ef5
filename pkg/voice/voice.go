// Package voice decides which synthesis voice answers the user.
//
// Selection is a pure function of the feedback category and the speaker
// profile estimated from the user's audio: the category picks the target
// language and the profile picks a contrasting voice gender within it.
// Backends differ only in their preset tables, so swapping the synthesis
// engine never touches the pipeline.
package voice

import "fmt"

// Category labels a generated reply.
type Category string

const (
	// Coaching is the corrective feedback on the user's utterance.
	Coaching Category = "coaching"

	// Conversational is the natural reply that keeps the dialogue going.
	Conversational Category = "conversational"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{Coaching, Conversational}
}

// ParseCategory validates s as a Category.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case Coaching, Conversational:
		return c, nil
	}
	return "", fmt.Errorf("voice: unknown category %q", s)
}

// Profile is a coarse pitch bucket for the speaker.
type Profile string

const (
	Low  Profile = "low"
	High Profile = "high"
)

// ParseProfile validates s as a Profile.
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case Low, High:
		return p, nil
	}
	return "", fmt.Errorf("voice: unknown profile %q", s)
}

// Gender of a synthesis voice.
type Gender string

const (
	Female Gender = "female"
	Male   Gender = "male"
)

// Contrast returns the voice gender paired with a speaker profile: a low
// voice is answered by a female voice, a high one by a male voice.
func Contrast(p Profile) Gender {
	if p == High {
		return Male
	}
	return Female
}

// Selection is the resolved target for one synthesis call.
type Selection struct {
	Language string
	Gender   Gender

	// Voice is the backend voice id. Empty means the backend default.
	Voice string
}

// Policy maps (category, profile) to a voice selection.
type Policy interface {
	Select(c Category, p Profile) Selection
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(c Category, p Profile) Selection

// Select calls f.
func (f PolicyFunc) Select(c Category, p Profile) Selection { return f(c, p) }
