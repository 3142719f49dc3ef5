package web

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-phonic/pkg/artifact"
	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/hub"
	"github.com/teslashibe/go-phonic/pkg/pipeline"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// FeedbackResponse is the body of a successful POST /process.
type FeedbackResponse struct {
	SessionID               string        `json:"session_id"`
	UserTranscript          string        `json:"user_transcript"`
	CoachingFeedback        string        `json:"coaching_feedback"`
	ConversationalResponse  string        `json:"conversational_response"`
	CoachingAudioPath       string        `json:"coaching_audio_path"`
	ConversationalAudioPath string        `json:"conversational_audio_path"`
	Profile                 voice.Profile `json:"profile"`
}

func newFeedbackResponse(fb *pipeline.Feedback) FeedbackResponse {
	return FeedbackResponse{
		SessionID:               fb.SessionID,
		UserTranscript:          fb.Transcript,
		CoachingFeedback:        fb.CoachingText,
		ConversationalResponse:  fb.ConversationalText,
		CoachingAudioPath:       string(fb.AudioRefs[voice.Coaching]),
		ConversationalAudioPath: string(fb.AudioRefs[voice.Conversational]),
		Profile:                 fb.Profile,
	}
}

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

// handleError renders errors that escape handlers.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	if status >= 500 {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return detail(c, status, err.Error())
}

func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.logger.Info("request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed", time.Since(start))
	return err
}

func (s *Server) handleRoot(c *fiber.Ctx) error {
	total, failed := s.pipe.Metrics().Count()
	avg := s.pipe.Metrics().Average()
	latency := make(map[pipeline.Stage]int64, len(avg.Stages))
	for stage, d := range avg.Stages {
		latency[stage] = d.Milliseconds()
	}

	return c.JSON(fiber.Map{
		"name":        "phonic",
		"version":     Version,
		"description": "Spoken language coach: transcription, coaching feedback and voiced replies",
		"endpoints": fiber.Map{
			"health":       "/health",
			"process":      "/process",
			"audio":        "/audio/{session_id}",
			"conversation": "/conversation/{session_id}",
			"config":       "/config",
			"events":       "/ws/events",
		},
		"synthesize": s.pipe.Categories(),
		"turns": fiber.Map{
			"total":         total,
			"failed":        failed,
			"avg_stage_ms":  latency,
			"avg_total_ms":  avg.Total.Milliseconds(),
			"event_clients": s.events.ClientCount(),
		},
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(s.pipe.Health(c.UserContext()))
}

func (s *Server) handleProcess(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return detail(c, fiber.StatusBadRequest, "missing audio upload in form field \"file\"")
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(file.Filename), "."))
	if !slices.Contains(SupportedFormats, ext) {
		return detail(c, fiber.StatusBadRequest, fmt.Sprintf(
			"Unsupported audio format: %s. Supported: %s", ext, strings.Join(SupportedFormats, ", ")))
	}

	sessionID := c.FormValue("session_id")
	if sessionID == "" {
		sessionID = c.Query("session_id")
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if err := history.ValidateSessionID(sessionID); err != nil {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}

	tmp := filepath.Join(s.cfg.UploadDir, "upload_"+uuid.NewString()+"."+ext)
	if err := c.SaveFile(file, tmp); err != nil {
		return fmt.Errorf("save upload: %w", err)
	}
	defer removeQuietly(tmp, s.logger)

	fb, err := s.pipe.Process(c.UserContext(), tmp, sessionID)
	switch {
	case errors.Is(err, pipeline.ErrInputNotFound):
		return detail(c, fiber.StatusBadRequest, err.Error())
	case err != nil:
		return detail(c, fiber.StatusInternalServerError, "Processing error: "+err.Error())
	}
	return c.JSON(newFeedbackResponse(fb))
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	category, err := voice.ParseCategory(c.Query("audio_type", string(voice.Conversational)))
	if err != nil {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}

	rc, size, err := s.pipe.Audio(c.UserContext(), sessionID, category)
	switch {
	case errors.Is(err, pipeline.ErrNotSynthesized):
		return detail(c, fiber.StatusBadRequest, fmt.Sprintf(
			"%s audio is not synthesized; it is provided as text only", category))
	case errors.Is(err, history.ErrInvalidSession):
		return detail(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, artifact.ErrNotFound):
		return detail(c, fiber.StatusNotFound, "Audio not found for session "+sessionID)
	case err != nil:
		return err
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`inline; filename="feedback_%s_%s.wav"`, sessionID, category))
	return c.SendStream(rc, int(size))
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	turns, err := s.pipe.History(c.UserContext(), sessionID)
	if errors.Is(err, history.ErrInvalidSession) {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	if turns == nil {
		turns = []history.Turn{}
	}
	return c.JSON(fiber.Map{
		"session_id":         sessionID,
		"conversation_count": len(turns),
		"history":            turns,
	})
}

func (s *Server) handleClearConversation(c *fiber.Ctx) error {
	sessionID := c.Params("session")
	cleared, err := s.pipe.Clear(c.UserContext(), sessionID)
	if errors.Is(err, history.ErrInvalidSession) {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}
	if err != nil {
		s.logger.Warn("clear conversation", "session", sessionID, "error", err)
	}

	status, message := "success", "Conversation history cleared"
	switch {
	case err != nil:
		status, message = "failed", "Could not clear conversation history"
	case !cleared:
		status, message = "failed", "No conversation history for this session"
	}
	return c.JSON(fiber.Map{
		"status":     status,
		"session_id": sessionID,
		"message":    message,
	})
}

func (s *Server) handleGetConfig(c *fiber.Ctx) error {
	return c.JSON(s.pipe.Settings())
}

// handleUpdateConfig merges the body over the current settings, so
// omitted fields keep their values.
func (s *Server) handleUpdateConfig(c *fiber.Ctx) error {
	settings := s.pipe.Settings()
	if err := sonic.Unmarshal(c.Body(), &settings); err != nil {
		return detail(c, fiber.StatusBadRequest, "invalid settings: "+err.Error())
	}
	if err := s.pipe.Reconfigure(c.UserContext(), settings); err != nil {
		s.logger.Warn("release previous handles", "error", err)
	}
	return c.JSON(fiber.Map{
		"status":   "configuration updated",
		"settings": s.pipe.Settings(),
	})
}

// handleEventsWS streams stage events; ?session_id= narrows them to one
// session.
func (s *Server) handleEventsWS(conn *websocket.Conn) {
	client := hub.NewClient(s.events, conn, conn.Query("session_id"))
	if client == nil {
		conn.Close()
		return
	}
	client.Run()
}
