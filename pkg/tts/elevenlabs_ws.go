package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const (
	elevenLabsWSBaseURL  = "wss://api.elevenlabs.io/v1/text-to-speech"
	providerElevenLabsWS = "elevenlabs-ws"
	wsHandshakeTimeout   = 10 * time.Second
)

// ElevenLabsWS synthesizes over the ElevenLabs stream-input websocket.
// Each Synthesize call opens a connection, sends the whole text and
// buffers audio chunks until the server marks the final one.
type ElevenLabsWS struct {
	config  *Config
	logger  *slog.Logger
	baseURL string
	rest    *ElevenLabs
	dialer  websocket.Dialer
}

// NewElevenLabsWS creates a new websocket-based ElevenLabs TTS provider.
func NewElevenLabsWS(opts ...Option) (*ElevenLabsWS, error) {
	cfg := elevenLabsConfig(opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = elevenLabsWSBaseURL
	}

	// The REST client serves Health; the websocket has no status call.
	rest, err := NewElevenLabs(append(opts, WithBaseURL(restURL(baseURL)))...)
	if err != nil {
		return nil, err
	}

	return &ElevenLabsWS{
		config:  cfg,
		logger:  cfg.Logger.With("component", "tts.elevenlabs_ws"),
		baseURL: baseURL,
		rest:    rest,
		dialer:  websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout},
	}, nil
}

// restURL maps wss://host/v1/text-to-speech to https://host/v1.
func restURL(wsURL string) string {
	u := strings.Replace(wsURL, "wss://", "https://", 1)
	u = strings.Replace(u, "ws://", "http://", 1)
	return strings.TrimSuffix(u, "/text-to-speech")
}

type wsChunk struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize streams the text and returns the buffered audio.
func (e *ElevenLabsWS) Synthesize(ctx context.Context, req *Request) (*AudioResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voiceID := ResolveElevenLabsVoice(e.config.voice(req))
	if voiceID == "" {
		return nil, ErrNoVoiceID
	}
	start := time.Now()

	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", string(e.config.OutputFormat))
	if req.Language != "" && strings.HasSuffix(e.config.ModelID, "_v2_5") {
		q.Set("language_code", req.Language)
	}
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.baseURL, url.PathEscape(voiceID), q.Encode())

	headers := http.Header{}
	headers.Set("xi-api-key", e.config.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: err.Error(), Provider: providerElevenLabsWS}
		}
		return nil, WrapError(providerElevenLabsWS, fmt.Errorf("websocket dial: %w", err))
	}
	defer conn.Close()

	// Unblock ReadMessage when the caller gives up.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := e.send(conn, req.Text); err != nil {
		return nil, WrapError(providerElevenLabsWS, err)
	}

	var audio []byte
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// A normal close after the last chunk ends the stream too.
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && len(audio) > 0 {
				break
			}
			return nil, WrapError(providerElevenLabsWS, fmt.Errorf("read: %w", err))
		}

		var chunk wsChunk
		if err := sonic.Unmarshal(message, &chunk); err != nil {
			e.logger.Warn("failed to parse response", "error", err)
			continue
		}
		if chunk.Error != "" {
			return nil, &APIError{Message: chunk.Message, Code: chunk.Error, Provider: providerElevenLabsWS}
		}
		if chunk.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(chunk.Audio)
			if err != nil {
				return nil, WrapError(providerElevenLabsWS, fmt.Errorf("decode audio: %w", err))
			}
			audio = append(audio, data...)
		}
		if chunk.IsFinal {
			break
		}
	}

	if len(audio) == 0 {
		return nil, WrapError(providerElevenLabsWS, ErrEmptyAudio)
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	latency := time.Since(start).Milliseconds()
	e.logger.Debug("synthesized audio",
		"chars", len(req.Text),
		"bytes", len(audio),
		"latency_ms", latency,
		"voice", voiceID,
	)

	format := elevenLabsFormat(e.config.OutputFormat)
	return &AudioResult{
		Audio:     audio,
		Format:    format,
		CharCount: len(req.Text),
		LatencyMs: latency,
		Duration:  pcmDuration(len(audio), format.SampleRate),
	}, nil
}

// send writes the begin-of-stream, text and end-of-stream messages.
func (e *ElevenLabsWS) send(conn *websocket.Conn, text string) error {
	bos := map[string]interface{}{
		"text": " ",
		"voice_settings": map[string]interface{}{
			"stability":        e.config.VoiceSettings.Stability,
			"similarity_boost": e.config.VoiceSettings.SimilarityBoost,
			"speed":            e.config.Speed,
		},
	}
	msgs := []map[string]interface{}{
		bos,
		{"text": text + " ", "try_trigger_generation": true},
		{"text": ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			return fmt.Errorf("send: %w", err)
		}
	}
	return nil
}

// Health checks the API key through the REST endpoint.
func (e *ElevenLabsWS) Health(ctx context.Context) error {
	return e.rest.Health(ctx)
}

// Close releases resources.
func (e *ElevenLabsWS) Close() error {
	return e.rest.Close()
}

var _ Provider = (*ElevenLabsWS)(nil)

