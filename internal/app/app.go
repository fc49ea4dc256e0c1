package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kumona/notify-core/internal/config"
	"github.com/kumona/notify-core/internal/dispatch"
	"github.com/kumona/notify-core/internal/registry"
	"github.com/kumona/notify-core/internal/scheduler"
	"github.com/kumona/notify-core/internal/store"
	"github.com/kumona/notify-core/internal/ws"
)

// Collaborators are the external services the delivery core depends on but
// does not implement. Nil senders degrade that channel to sent=false with a
// warning instead of failing dispatch.
type Collaborators struct {
	Push      dispatch.PushSender
	Email     dispatch.EmailSender
	Addresses dispatch.AddressResolver
}

type App struct {
	cfg     config.Config
	log     *zap.Logger
	collab  Collaborators
	httpSrv *http.Server
	repo    store.Repo

	// Service is the exposed entry point for domain event sources.
	Service *dispatch.Service
}

func New(cfg config.Config, log *zap.Logger, collab Collaborators) *App {
	return &App{cfg: cfg, log: log, collab: collab}
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting notifier",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("tickPeriod", a.cfg.TickPeriod),
	)

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	reg := registry.New()
	disp := dispatch.NewDispatcher(repo, reg, a.collab.Push, a.collab.Email, a.collab.Addresses, a.log, a.cfg.SendTimeout)
	a.Service = dispatch.NewService(repo, reg, disp, a.log)
	sched := scheduler.New(repo, disp, a.log, a.cfg.TickPeriod)

	var authorizer ws.Authorizer
	if auth := ws.NewHTTPAuthorizer(a.cfg.AuthURL, a.cfg.AuthSecret); auth != nil {
		authorizer = auth
	} else {
		a.log.Warn("AUTH_INTROSPECT_URL not set, websocket connections will be rejected")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("/ws", ws.NewHandler(authorizer, reg, repo, a.log))
	a.httpSrv = &http.Server{
		Addr:    a.cfg.HTTPAddr,
		Handler: mux,
		// Header timeout only: websocket connections are long-lived, so
		// whole-request read/write timeouts would sever them.
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sched.Run(ctx)

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	a.log.Info("shutdown signal received")

	// Create a short-lived shutdown context and cancel it immediately after use.
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = a.httpSrv.Shutdown(shCtx)
	cancel()

	if err != nil {
		a.log.Warn("http server shutdown error", zap.Error(err))
	}
	if a.repo != nil {
		_ = a.repo.Close()
	}
	return nil
}
