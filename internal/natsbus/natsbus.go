// Package natsbus opens the NATS connection behind the JetStream storage
// backends, either to an external server or to one embedded in the
// process.
package natsbus

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// readyTimeout bounds how long an embedded server may take to start.
const readyTimeout = 10 * time.Second

// Options configures Connect.
type Options struct {
	// URL of an external server. Ignored when Embedded is set.
	URL string

	// Embedded starts an in-process JetStream server. It is implied when
	// URL is empty.
	Embedded bool

	// StoreDir holds the embedded server's JetStream data.
	StoreDir string

	// Name identifies the client connection.
	Name string

	Logger *slog.Logger
}

// Bus is a connection with JetStream enabled.
type Bus struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext

	srv    *server.Server
	logger *slog.Logger
}

// Connect opens the bus.
func Connect(opts Options) (*Bus, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "natsbus")
	if opts.Name == "" {
		opts.Name = "phonic"
	}

	b := &Bus{logger: logger}
	copts := []nats.Option{
		nats.Name(opts.Name),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", "url", nc.ConnectedUrl())
		}),
	}

	url := opts.URL
	if opts.Embedded || url == "" {
		srv, err := startEmbedded(opts.StoreDir)
		if err != nil {
			return nil, err
		}
		b.srv = srv
		url = ""
		copts = append(copts, nats.InProcessServer(srv))
		logger.Info("embedded server started", "store_dir", opts.StoreDir)
	}

	nc, err := nats.Connect(url, copts...)
	if err != nil {
		b.shutdownServer()
		return nil, fmt.Errorf("natsbus: connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		b.shutdownServer()
		return nil, fmt.Errorf("natsbus: jetstream: %w", err)
	}
	b.Conn, b.JS = nc, js
	return b, nil
}

func startEmbedded(storeDir string) (*server.Server, error) {
	if storeDir == "" {
		return nil, errors.New("natsbus: embedded server needs a store directory")
	}
	srv, err := server.NewServer(&server.Options{
		ServerName: "phonic-embedded",
		JetStream:  true,
		StoreDir:   storeDir,
		DontListen: true,
		NoSigs:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("natsbus: embedded server: %w", err)
	}
	srv.Start()
	if !srv.ReadyForConnections(readyTimeout) {
		srv.Shutdown()
		return nil, errors.New("natsbus: embedded server not ready")
	}
	return srv, nil
}

// Embedded reports whether the bus runs its own server.
func (b *Bus) Embedded() bool {
	return b.srv != nil
}

// Close drains the connection and stops the embedded server, if any.
func (b *Bus) Close() error {
	var err error
	if b.Conn != nil {
		err = b.Conn.Drain()
		if errors.Is(err, nats.ErrConnectionClosed) {
			err = nil
		}
		b.Conn.Close()
	}
	b.shutdownServer()
	return err
}

func (b *Bus) shutdownServer() {
	if b.srv == nil {
		return
	}
	b.srv.Shutdown()
	b.srv.WaitForShutdown()
}
