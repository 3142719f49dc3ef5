// Package config loads go-phonic settings from defaults, an optional
// config file, a .env file and PHONIC_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PHONIC_LLM_MODEL.
const EnvPrefix = "PHONIC"

// Backend names accepted per component.
var (
	StorageBackends = []string{"file", "nats"}
	STTBackends     = []string{"openai", "whisper-server", "mock"}
	LLMBackends     = []string{"openai", "ollama", "mock"}
	TTSBackends     = []string{"openai", "elevenlabs", "elevenlabs-ws", "google", "coqui", "espeak", "mock"}
)

// Config is the full service configuration.
type Config struct {
	Server   Server   `mapstructure:"server" yaml:"server"`
	Storage  Storage  `mapstructure:"storage" yaml:"storage"`
	NATS     NATS     `mapstructure:"nats" yaml:"nats"`
	STT      STT      `mapstructure:"stt" yaml:"stt"`
	LLM      LLM      `mapstructure:"llm" yaml:"llm"`
	TTS      TTS      `mapstructure:"tts" yaml:"tts"`
	Voice    Voice    `mapstructure:"voice" yaml:"voice"`
	Pipeline Pipeline `mapstructure:"pipeline" yaml:"pipeline"`
	Log      Log      `mapstructure:"log" yaml:"log"`
}

type Server struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir"`
	AccessLog bool   `mapstructure:"access_log" yaml:"access_log"`
}

// Storage selects where history and audio artifacts live. The file
// backend writes under Dir; nats uses JetStream buckets.
type Storage struct {
	Dir     string `mapstructure:"dir" yaml:"dir"`
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// NATS configures the JetStream storage backend. With Embedded set, or
// with no URL, an in-process server is started with its store under
// storage.dir.
type NATS struct {
	URL            string `mapstructure:"url" yaml:"url"`
	Embedded       bool   `mapstructure:"embedded" yaml:"embedded"`
	HistoryBucket  string `mapstructure:"history_bucket" yaml:"history_bucket"`
	ArtifactBucket string `mapstructure:"artifact_bucket" yaml:"artifact_bucket"`
}

type STT struct {
	Backend  string        `mapstructure:"backend" yaml:"backend"`
	URL      string        `mapstructure:"url" yaml:"url"`
	Model    string        `mapstructure:"model" yaml:"model"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key"`
	Language string        `mapstructure:"language" yaml:"language"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type LLM struct {
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	URL         string        `mapstructure:"url" yaml:"url"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	FallbackURL string        `mapstructure:"fallback_url" yaml:"fallback_url"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type TTS struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	URL     string `mapstructure:"url" yaml:"url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Model   string `mapstructure:"model" yaml:"model"`

	// Voice forces one voice id for every reply.
	Voice string  `mapstructure:"voice" yaml:"voice"`
	Speed float64 `mapstructure:"speed" yaml:"speed"`

	// Fallback names a second backend tried when the first fails.
	Fallback string `mapstructure:"fallback" yaml:"fallback"`

	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	Command         string `mapstructure:"command" yaml:"command"`
}

type Voice struct {
	CoachingLanguage       string  `mapstructure:"coaching_language" yaml:"coaching_language"`
	ConversationalLanguage string  `mapstructure:"conversational_language" yaml:"conversational_language"`
	FallbackProfile        string  `mapstructure:"fallback_profile" yaml:"fallback_profile"`
	PitchThresholdHz       float64 `mapstructure:"pitch_threshold_hz" yaml:"pitch_threshold_hz"`
}

type Pipeline struct {
	ContextTurns    int      `mapstructure:"context_turns" yaml:"context_turns"`
	Synthesize      []string `mapstructure:"synthesize" yaml:"synthesize"`
	Workers         int      `mapstructure:"workers" yaml:"workers"`
	MaxAudioSeconds int      `mapstructure:"max_audio_seconds" yaml:"max_audio_seconds"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// SetDefaults registers every key with its default value. Keys must be
// registered for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.upload_dir", "")
	v.SetDefault("server.access_log", false)

	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.backend", "file")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.embedded", false)
	v.SetDefault("nats.history_bucket", "phonic_history")
	v.SetDefault("nats.artifact_bucket", "phonic_audio")

	v.SetDefault("stt.backend", "whisper-server")
	v.SetDefault("stt.url", "")
	v.SetDefault("stt.model", "base.en")
	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.language", "en")
	v.SetDefault("stt.timeout", 5*time.Minute)

	v.SetDefault("llm.backend", "ollama")
	v.SetDefault("llm.url", "")
	v.SetDefault("llm.model", "llama3")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.fallback_url", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 512)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("tts.backend", "coqui")
	v.SetDefault("tts.url", "")
	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.model", "")
	v.SetDefault("tts.voice", "")
	v.SetDefault("tts.speed", 1.0)
	v.SetDefault("tts.fallback", "")
	v.SetDefault("tts.credentials_file", "")
	v.SetDefault("tts.command", "espeak-ng")

	v.SetDefault("voice.coaching_language", "en")
	v.SetDefault("voice.conversational_language", "en")
	v.SetDefault("voice.fallback_profile", "low")
	v.SetDefault("voice.pitch_threshold_hz", 150.0)

	v.SetDefault("pipeline.context_turns", 3)
	v.SetDefault("pipeline.synthesize", []string{"conversational"})
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.max_audio_seconds", 300)

	v.SetDefault("log.level", "info")
}

// Provider key variables used when the PHONIC_* key is unset.
var keyFallbacks = map[string][]string{
	"stt.api_key": {"OPENAI_API_KEY"},
	"llm.api_key": {"OPENAI_API_KEY"},
	"tts.api_key": {"ELEVENLABS_API_KEY", "OPENAI_API_KEY", "GOOGLE_API_KEY"},
}

// Default returns the built-in configuration, ignoring files and the
// environment.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decode defaults: %v", err))
	}
	return &cfg
}

// Load reads the configuration. path may be empty, in which case
// phonic.yaml (or .toml/.json) is searched in the working directory and
// $HOME/.config/phonic; a missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range keyFallbacks {
		env := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, env...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("phonic")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/phonic")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: read: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend names and numeric ranges.
func (c *Config) Validate() error {
	var errs []error
	oneOf := func(key, val string, allowed []string) {
		if !slices.Contains(allowed, val) {
			errs = append(errs, fmt.Errorf("%s: %q is not one of %s", key, val, strings.Join(allowed, ", ")))
		}
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	oneOf("storage.backend", c.Storage.Backend, StorageBackends)
	if c.Storage.Dir == "" {
		errs = append(errs, errors.New("storage.dir is required"))
	}
	if c.Storage.Backend == "nats" && (c.NATS.HistoryBucket == "" || c.NATS.ArtifactBucket == "") {
		errs = append(errs, errors.New("nats.history_bucket and nats.artifact_bucket are required"))
	}

	oneOf("stt.backend", c.STT.Backend, STTBackends)
	oneOf("llm.backend", c.LLM.Backend, LLMBackends)
	oneOf("tts.backend", c.TTS.Backend, TTSBackends)
	if c.TTS.Fallback != "" {
		oneOf("tts.fallback", c.TTS.Fallback, TTSBackends)
		if c.TTS.Fallback == c.TTS.Backend {
			errs = append(errs, errors.New("tts.fallback must differ from tts.backend"))
		}
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature: %v is outside [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens: %d is negative", c.LLM.MaxTokens))
	}
	if c.TTS.Speed <= 0 || c.TTS.Speed > 4 {
		errs = append(errs, fmt.Errorf("tts.speed: %v is outside (0, 4]", c.TTS.Speed))
	}

	oneOf("voice.fallback_profile", c.Voice.FallbackProfile, []string{"low", "high"})
	if c.Voice.PitchThresholdHz <= 0 {
		errs = append(errs, fmt.Errorf("voice.pitch_threshold_hz: %v must be positive", c.Voice.PitchThresholdHz))
	}

	if c.Pipeline.ContextTurns < 0 {
		errs = append(errs, fmt.Errorf("pipeline.context_turns: %d is negative", c.Pipeline.ContextTurns))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers: %d must be at least 1", c.Pipeline.Workers))
	}
	if c.Pipeline.MaxAudioSeconds < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_audio_seconds: %d is negative", c.Pipeline.MaxAudioSeconds))
	}
	if len(c.Pipeline.Synthesize) == 0 {
		errs = append(errs, errors.New("pipeline.synthesize needs at least one category"))
	}
	for _, cat := range c.Pipeline.Synthesize {
		oneOf("pipeline.synthesize", cat, []string{"coaching", "conversational"})
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "****"
	}
	c.STT.APIKey = mask(c.STT.APIKey)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.TTS.APIKey = mask(c.TTS.APIKey)
	c.Pipeline.Synthesize = slices.Clone(c.Pipeline.Synthesize)
	return c
}

// Dump renders the effective configuration as YAML with secrets masked.
func (c *Config) Dump() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
