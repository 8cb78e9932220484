// Package server wires the handshake gate, the registry, and the dispatcher
// onto an HTTP server exposing the /geolocation WebSocket endpoint.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/daneralejandro03/geolocation-backend/internal/dispatch"
	"github.com/daneralejandro03/geolocation-backend/internal/follow"
	"github.com/daneralejandro03/geolocation-backend/internal/identity"
	"github.com/daneralejandro03/geolocation-backend/internal/registry"
	"github.com/daneralejandro03/geolocation-backend/internal/server/middleware"
	"github.com/daneralejandro03/geolocation-backend/pkg/config"
	"github.com/daneralejandro03/geolocation-backend/pkg/transport"
)

type App struct {
	logger     *slog.Logger
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	wg         sync.WaitGroup
	http       *http.Server
	handler    http.Handler
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, directory identity.Directory, graph follow.Graph) *App {
	reg := registry.New(logger)
	dispatcher := dispatch.New(logger, reg, graph)

	app := &App{
		logger:     logger,
		registry:   reg,
		dispatcher: dispatcher,
		config:     cfg,
		ctx:        rootCtx,
	}

	online := func(identityID int64) bool {
		_, ok := reg.ConnectionOf(identityID)
		return ok
	}

	mux := http.NewServeMux()
	mux.Handle("/geolocation",
		middleware.Chain(http.HandlerFunc(app.upgradeHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(logger),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret, directory),
			middleware.NewSessionPolicy(logger, cfg.Server.Session, online),
		),
	)
	app.handler = mux

	app.http = &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return app.ctx
		},
	}

	return app
}

// Handler exposes the routed handler, mainly for tests that mount the app on
// an httptest server.
func (a *App) Handler() http.Handler {
	return a.handler
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

// upgradeHandler admits an authenticated handshake: it completes the upgrade,
// registers the connection, applies the supersede policy, and then starts the
// pumps, so no application event can precede registration.
func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, ok := middleware.ReqMetadataFrom(r.Context())
	if !ok || !reqMeta.Authenticated {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	ident := reqMeta.Identity
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.Int64("identityID", ident.ID),
	)

	// The endpoint accepts cross-origin connections from any origin.
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		connLogger.Error("failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{
			ReadTimeout:  a.config.Transport.ReadTimeout,
			WriteTimeout: a.config.Transport.WriteTimeout,
		},
		a.logger,
	)
	conn.SetOnMessageHandler(func(ctx context.Context, _ uuid.UUID, msg []byte) {
		a.dispatcher.HandleMessage(ctx, conn, msg)
	})
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("deregistering connection", slog.String("connID", id.String()))
		a.registry.Unregister(id)
	})

	if superseded := a.registry.Register(ident, conn); superseded != nil {
		connLogger.Info("closing superseded connection",
			slog.String("oldConnID", superseded.ID().String()))
		superseded.Close(errors.New("superseded by a new connection"))
	}

	connLogger.Info("connection admitted", slog.String("name", ident.Name), slog.String("role", string(ident.Role)))
	conn.Run()
	<-conn.Done()
}

// Shutdown stops accepting handshakes and waits for connection goroutines to
// finish. Their contexts descend from the root context, which is already
// cancelled by the time this runs, so the pumps unwind on their own.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.wg.Wait()
	a.logger.Info("server shut down gracefully")
	return nil
}
