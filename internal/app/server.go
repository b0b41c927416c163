// Package app wires configuration, storage and the gateway into a running
// service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/asuasu0131/parking-monitor/internal/api"
	"github.com/asuasu0131/parking-monitor/internal/config"
	"github.com/asuasu0131/parking-monitor/internal/engine"
	"github.com/asuasu0131/parking-monitor/internal/feed"
	"github.com/asuasu0131/parking-monitor/internal/layout"
	"github.com/asuasu0131/parking-monitor/internal/presence"
	"github.com/asuasu0131/parking-monitor/internal/reactive"
)

type Server struct {
	cfg        config.Config
	log        *zap.Logger
	httpServer *http.Server
	ws         *api.WSHandler
	feed       *feed.Consumer
	Engine     *engine.Engine
	closeStore func() error
}

// NewServer opens the layout store and builds every component. The store is
// loaded, and initialized if absent, before NewServer returns.
func NewServer(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	repo, err := layout.Open(ctx, store, layout.Options{
		Mode:         layout.Mode(cfg.Layout.Mode),
		DefaultSpace: cfg.Layout.DefaultSpace,
		Logger:       log.Named("layout"),
	})
	if err != nil {
		_ = closeStore()
		return nil, fmt.Errorf("open layouts: %w", err)
	}

	eng := engine.New(presence.NewRegistry(), repo, reactive.NewHub(log.Named("hub")), log.Named("engine"))
	ws := api.NewWSHandler(eng, api.WSOptions{
		SendBuffer:     cfg.WS.SendBuffer,
		WriteTimeout:   cfg.WS.WriteTimeout,
		PongTimeout:    cfg.WS.PongTimeout,
		PingInterval:   cfg.WS.PingInterval,
		ReadLimit:      cfg.WS.ReadLimit,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	}, log.Named("ws"))

	s := &Server{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           api.SetupRoutes(eng, ws, api.Options{StaticDir: cfg.HTTP.StaticDir, Logger: log}),
			ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		},
		ws:         ws,
		Engine:     eng,
		closeStore: closeStore,
	}
	if cfg.SensorFeed.Addr != "" {
		s.feed = &feed.Consumer{
			Addr:       cfg.SensorFeed.Addr,
			MaxBackoff: cfg.SensorFeed.MaxBackoff,
			Relay:      eng,
			Log:        log.Named("feed"),
		}
	}
	return s, nil
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (layout.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverMemory:
		log.Warn("layouts are kept in memory only")
		return layout.NewMemoryStore(), noop, nil

	case config.DriverFile:
		if layout.Mode(cfg.Layout.Mode) == layout.ModeSingle {
			return layout.NewSingleFileStore(cfg.Store.Path, cfg.Layout.DefaultSpace), noop, nil
		}
		return layout.NewFileStore(cfg.Store.Path), noop, nil

	case config.DriverPgx, config.DriverPostgres:
		db, err := layout.OpenDB(ctx, cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := layout.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return layout.NewPostgresStore(db), db.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		_ = s.closeStore()
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server and the sensor feed on ln until ctx is
// cancelled or one of them fails, then shuts everything down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer func() {
		if err := s.closeStore(); err != nil {
			s.log.Warn("close layout store", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if s.feed != nil {
		g.Go(func() error { return s.feed.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		s.ws.CloseAll()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
