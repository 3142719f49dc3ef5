package pipeline

import (
	"context"
	"errors"
)

// Settings are the model choices that can change while the service runs.
type Settings struct {
	TranscriptionModel string `json:"transcription_model" yaml:"transcription_model"`
	LLMModel           string `json:"llm_model" yaml:"llm_model"`

	// TTSVoice forces one synthesis voice. Empty lets the voice policy pick.
	TTSVoice string `json:"tts_voice" yaml:"tts_voice"`
}

// Settings returns the current model settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// Reconfigure replaces the model settings and drops the cached
// transcriber and model handles; the next turn builds them again with
// the new settings. Errors from closing the old handles are returned
// after the new settings are in place.
func (o *Orchestrator) Reconfigure(_ context.Context, s Settings) error {
	o.mu.Lock()
	prev := o.settings
	o.settings = s
	o.mu.Unlock()

	o.synth.SetVoice(s.TTSVoice)
	err := errors.Join(o.transcriber.Reset(nil), o.model.Reset(nil))

	o.logger.Info("settings updated",
		"transcription_model", s.TranscriptionModel,
		"llm_model", s.LLMModel,
		"tts_voice", s.TTSVoice,
		"changed", prev != s)
	return err
}
