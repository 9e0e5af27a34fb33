// Package app wires the chat server together: store, relay channel,
// protocol listener, admin HTTP surface and the maintenance runner, and
// owns their lifecycle from start to graceful shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"parley/internal/maintenance"
	"parley/pkg/auth"
	"parley/pkg/banner"
	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/relay"
	"parley/pkg/serve"
	"parley/pkg/store"
	"parley/pkg/telemetry"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	serverID uuid.UUID
	secret   []byte

	server *serve.Server
	gate   *auth.Gate
	ln     net.Listener
	admin  *http.Server
}

// New validates configuration and initializes everything that does not
// require a running context: the store, the relay client and the protocol
// engine. Call Run to start listening and block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	a := &App{eff: eff, version: version, commit: commit, buildDate: buildDate}

	if idStr := eff.Config.Server.ID; idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("invalid server id %q: %w", idStr, err)
		}
		a.serverID = id
	} else {
		a.serverID = uuid.New()
		logger.Info("server_id_generated", "id", a.serverID)
	}

	secret, err := auth.ParseSecret(eff.Config.Relay.Secret)
	if err != nil {
		return nil, err
	}
	a.secret = secret

	if err := store.Open(eff.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
	}

	var channel relay.Relay = relay.NoOp{}
	if addr := eff.Config.Relay.Address; addr != "" {
		channel = relay.NewRemote(addr, eff.Config.Relay.DialTimeout())
		logger.Info("relay_remote", "addr", addr)
	} else {
		logger.Info("relay_standalone")
	}

	a.server = serve.New(serve.Options{
		ID:           a.serverID,
		Secret:       a.secret,
		Relay:        channel,
		PollInterval: eff.Config.Relay.PollInterval(),
		PollBatch:    eff.Config.Relay.Batch,
	})
	a.gate = auth.NewGate(auth.GateConfig{
		RPS:   eff.Config.Security.RateLimit.RPS,
		Burst: eff.Config.Security.RateLimit.Burst,
	})
	return a, nil
}

// Run starts the admin surface, the maintenance runner and the protocol
// listener, and blocks until ctx is canceled or a fatal listener error.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.eff, a.versionString(), a.serverID.String())

	stopMaint, err := maintenance.Start(ctx, a.eff.Config.Maintenance)
	if err != nil {
		return err
	}
	defer stopMaint()

	if addr := a.eff.Config.Admin.Address; addr != "" {
		a.admin = &http.Server{Addr: addr, Handler: a.adminRouter()}
		go func() {
			logger.Info("admin_listening", "addr", addr)
			if err := a.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("admin_serve_failed", "error", err)
			}
		}()
	}

	ln, err := net.Listen("tcp", a.eff.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.eff.Addr, err)
	}
	a.ln = ln
	logger.Info("listening", "addr", a.eff.Addr)

	errCh := make(chan error, 1)
	go func() { errCh <- a.acceptLoop() }()

	select {
	case <-ctx.Done():
		a.shutdown()
		<-errCh
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) acceptLoop() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !a.gate.Allow(conn.RemoteAddr()) {
			telemetry.ConnectionsRefused.Inc()
			logger.Warn("connection_refused", "remote", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}
		a.server.HandleConnection(conn)
	}
}

func (a *App) shutdown() {
	logger.Info("shutting_down")
	if a.ln != nil {
		_ = a.ln.Close()
	}
	a.server.Stop()
	if a.admin != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.admin.Shutdown(ctx)
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
}

func (a *App) versionString() string {
	v := a.version
	if a.commit != "none" {
		v += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" {
		v += " @ " + a.buildDate
	}
	return v
}
