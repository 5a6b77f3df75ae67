package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/typerace-backend/internal/config"
	"github.com/DoyleJ11/typerace-backend/internal/httpapi"
	"github.com/DoyleJ11/typerace-backend/internal/hub"
	"github.com/DoyleJ11/typerace-backend/internal/logging"
	"github.com/DoyleJ11/typerace-backend/internal/paragraph"
	"github.com/DoyleJ11/typerace-backend/internal/session"
	"github.com/DoyleJ11/typerace-backend/internal/store"
	"github.com/DoyleJ11/typerace-backend/internal/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "typerace:", err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := session.Deps{
		Paragraphs:    paragraph.NewHTTPProvider(cfg.ParagraphURL, cfg.ParagraphTimeout, log),
		RoundDuration: cfg.RoundDuration,
		Log:           log,
	}

	// The archive outlives the hub so rounds finishing during shutdown still land.
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	defer stopArchive()

	var (
		db      *store.Store
		archive *store.Archive
		results httpapi.Results
	)
	if cfg.DatabaseURL != "" {
		db, err = store.Open(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return err
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		archive = store.NewArchive(db.Insert, 0, log)
		deps.Recorder = archive
		results = db
	} else {
		log.Info("DATABASE_URL not set, round results will not be archived")
	}

	gateway := ws.NewGateway(ws.Options{
		OriginPatterns:    cfg.WS.AllowedOrigins,
		WriteTimeout:      cfg.WS.WriteTimeout,
		PingInterval:      cfg.WS.PingInterval,
		OutboxSize:        cfg.WS.OutboxSize,
		MessagesPerSecond: cfg.WS.MessagesPerSecond,
		MessageBurst:      cfg.WS.MessageBurst,
	}, log)
	deps.Transport = gateway

	h := hub.NewHub(context.Background(), deps, log)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.SetupRoutes(h, gateway, results, log),
		ReadHeaderTimeout: 10 * time.Second,
		// Hijacked websocket connections are not closed by Shutdown; cancelling
		// their base context ends the read loops instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if archive != nil {
		g.Go(func() error { return archive.Run(archiveCtx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		var errs error
		errs = multierr.Append(errs, srv.Shutdown(sctx))
		h.Shutdown()
		select {
		case <-h.Done():
		case <-sctx.Done():
			errs = multierr.Append(errs, errors.New("hub did not stop in time"))
		}
		stopArchive()
		return errs
	})

	return g.Wait()
}
