// Package web serves the coaching pipeline over HTTP and streams stage
// events to websocket subscribers.
package web

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/bytedance/sonic"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-phonic/pkg/history"
	"github.com/teslashibe/go-phonic/pkg/hub"
	"github.com/teslashibe/go-phonic/pkg/pipeline"
	"github.com/teslashibe/go-phonic/pkg/voice"
)

// Version is reported by GET /.
const Version = "1.0.0"

// SupportedFormats are the accepted upload extensions.
var SupportedFormats = []string{"wav", "mp3", "m4a", "flac", "ogg", "opus"}

// DefaultBodyLimit caps upload size.
const DefaultBodyLimit = 50 * 1024 * 1024

// Pipeline is what the server needs from the orchestrator.
type Pipeline interface {
	Process(ctx context.Context, audioPath, sessionID string) (*pipeline.Feedback, error)
	Health(ctx context.Context) pipeline.Health
	History(ctx context.Context, sessionID string) ([]history.Turn, error)
	Clear(ctx context.Context, sessionID string) (bool, error)
	Audio(ctx context.Context, sessionID string, category voice.Category) (io.ReadCloser, int64, error)
	Settings() pipeline.Settings
	Reconfigure(ctx context.Context, s pipeline.Settings) error
	Categories() []voice.Category
	Metrics() *pipeline.MetricsCollector
	Subscribe(fn pipeline.Observer)
}

var _ Pipeline = (*pipeline.Orchestrator)(nil)

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// UploadDir receives uploads while they are processed. Defaults to
	// the system temp directory.
	UploadDir string

	// BodyLimit caps request bodies in bytes.
	BodyLimit int

	// AccessLog enables per-request logging.
	AccessLog bool
}

// Server is the HTTP surface.
type Server struct {
	app    *fiber.App
	pipe   Pipeline
	events *hub.Hub
	cfg    Config
	logger *slog.Logger
}

// NewServer builds the app and subscribes the event hub to the pipeline.
func NewServer(p Pipeline, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}

	s := &Server{
		pipe:   p,
		events: hub.New("events", logger),
		cfg:    cfg,
		logger: logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "phonic",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		JSONEncoder:           sonic.Marshal,
		JSONDecoder:           sonic.Unmarshal,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Content-Type",
	}))
	if cfg.AccessLog {
		app.Use(s.accessLog)
	}

	app.Get("/", s.handleRoot)
	app.Get("/health", s.handleHealth)
	app.Post("/process", s.handleProcess)
	app.Get("/audio/:session", s.handleAudio)
	app.Get("/conversation/:session", s.handleGetConversation)
	app.Delete("/conversation/:session", s.handleClearConversation)
	app.Get("/config", s.handleGetConfig)
	app.Post("/config", s.handleUpdateConfig)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	p.Subscribe(func(e pipeline.Event) {
		if err := s.events.Publish(e.SessionID, e); err != nil {
			s.logger.Warn("encode event", "error", err)
		}
	})

	s.app = app
	return s
}

// App returns the fiber app, for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Events returns the stage event hub.
func (s *Server) Events() *hub.Hub {
	return s.events
}

// ListenAndServe serves on cfg.Addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.events.Run(hubCtx)

	errc := make(chan error, 1)
	go func() { errc <- s.app.Listener(ln) }()
	s.logger.Info("listening", "addr", ln.Addr().String())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	if err := s.app.Shutdown(); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
