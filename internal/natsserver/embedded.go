package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// EmbeddedServer wraps a NATS server instance so a single murmurd
// process needs no external broker.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start creates and starts an embedded NATS server. Returns (nil, nil)
// when the config points at an external broker instead.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Embedded {
		return nil, nil
	}

	opts := &server.Options{
		Host:     "0.0.0.0",
		Port:     cfg.Port,
		StoreDir: cfg.StoreDir,
		LogFile:  "", // use stdout/stderr
		Trace:    false,
		Debug:    false,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start within 5 seconds")
	}

	log.Info("embedded NATS server started",
		slog.Int("port", cfg.Port),
		slog.String("store_dir", cfg.StoreDir))

	return &EmbeddedServer{
		ns:  ns,
		log: log,
	}, nil
}

// Shutdown gracefully shuts down the embedded NATS server.
func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
