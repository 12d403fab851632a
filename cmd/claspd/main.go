// Command claspd runs the CLASP router: a single WebSocket listener,
// the sharded dispatcher hot path, the State Store, and the
// Subscription Index, wired together from configuration.
//
// Grounded on ws/main.go's flag-parse -> config-load -> server-start ->
// signal-wait -> graceful-shutdown shape.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/lumencanvas/clasp-sub002/internal/auth"
	"github.com/lumencanvas/clasp-sub002/internal/config"
	"github.com/lumencanvas/clasp-sub002/internal/dispatcher"
	"github.com/lumencanvas/clasp-sub002/internal/hooks"
	"github.com/lumencanvas/clasp-sub002/internal/logging"
	"github.com/lumencanvas/clasp-sub002/internal/metrics"
	"github.com/lumencanvas/clasp-sub002/internal/resource"
	"github.com/lumencanvas/clasp-sub002/internal/session"
	"github.com/lumencanvas/clasp-sub002/internal/state"
	"github.com/lumencanvas/clasp-sub002/internal/subscription"
	"github.com/lumencanvas/clasp-sub002/internal/transport"
)

// Exit codes (spec.md §6 "Lifecycle").
const (
	exitConfigError      = 64
	exitPortInUse        = 65
	exitPersistenceInit  = 66
	exitSIGINTDrain      = 130
)

func main() {
	debug := flag.Bool("debug", false, "enable debug logging (overrides CLASP_LOG_LEVEL)")
	flag.Parse()

	bootLogger := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Error().Err(err).Msg("configuration error")
		os.Exit(exitConfigError)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Config{Level: logging.Level(cfg.LogLevel), Format: logging.Format(cfg.LogFormat)})
	cfg.LogConfig(logger)

	persistence := buildPersistence(cfg, logger)
	if persistence == nil {
		os.Exit(exitPersistenceInit)
	}
	defer persistence.Close()

	announcer := buildAnnouncer(cfg, logger)
	defer announcer.Close()

	authorizer := buildAuthorizer(cfg)

	guard := resource.New(resource.Config{
		MaxGoroutines:      cfg.MaxGoroutines,
		CPURejectThreshold: cfg.CPURejectThreshold,
		CPUPauseThreshold:  cfg.CPUPauseThreshold,
	}, logger)
	defer guard.Close()

	store := state.New(state.Options{
		NumShards:     cfg.NumShards,
		MaxParams:     cfg.MaxParams,
		Eviction:      state.EvictionPolicy(cfg.EvictionStrategy),
		ParamTTL:      time.Duration(cfg.ParamTTLSecs) * time.Second,
		SweepInterval: 60 * time.Second,
		Logger:        logger,
	})
	defer store.Close()

	subs := subscription.NewIndex()
	sessions := session.NewManager(cfg.MaxSessions, logger)

	d := dispatcher.New(dispatcher.Options{
		NumShards:       cfg.NumShards,
		Store:           store,
		Subs:            subs,
		Sessions:        sessions,
		Persistence:     persistence,
		Authorizer:      authorizer,
		Guard:           guard,
		Logger:          logger,
		PersistRequired: cfg.PersistRequired,
	})
	defer d.Close()

	announceSignals(announcer, cfg, logger)

	acceptor, err := transport.Listen(cfg.Host + ":" + strconv.Itoa(cfg.WSPort))
	if err != nil {
		logger.Error().Err(err).Msg("failed to bind listener")
		os.Exit(exitPortInUse)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", acceptor.Handler(func(conn transport.Conn) {
		handleConnection(conn, cfg, d, sessions, authorizer, logger)
	}))
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	httpServer := &http.Server{Handler: mux}
	go func() {
		if err := httpServer.Serve(acceptor.Listener()); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server stopped unexpectedly")
		}
	}()
	logger.Info().Int("port", cfg.WSPort).Msg("claspd listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received, draining")

	sessions.BeginDrainAll()
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeoutSecs)*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)

	os.Exit(exitSIGINTDrain)
}

func buildPersistence(cfg *config.Config, logger zerolog.Logger) hooks.Persistence {
	if cfg.KafkaBrokers == "" {
		return hooks.NoopPersistence{}
	}
	topic := cfg.JournalPath
	if topic == "" {
		topic = "clasp.journal"
	}
	p, err := hooks.NewKafkaPersistence(cfg.KafkaBrokers, topic, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize kafka persistence")
		return nil
	}
	return p
}

func buildAnnouncer(cfg *config.Config, logger zerolog.Logger) hooks.Announcer {
	if cfg.NATSURL == "" {
		return hooks.NoopAnnouncer{}
	}
	a, err := hooks.NewNATSAnnouncer(cfg.NATSURL, cfg.AnnounceSubject, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to connect announcer, continuing without discovery")
		return hooks.NoopAnnouncer{}
	}
	return a
}

func buildAuthorizer(cfg *config.Config) hooks.Authorizer {
	if cfg.Auth == config.AuthOff {
		return hooks.AllowAllAuthorizer{}
	}
	manager := auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour)
	return hooks.NewJWTAuthorizer(manager)
}

// announceSignals publishes the router's top-level address namespace once
// at startup, best-effort (spec.md §1 discovery plane).
func announceSignals(a hooks.Announcer, cfg *config.Config, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Announce(ctx, []string{cfg.Name}); err != nil {
		logger.Debug().Err(err).Msg("startup announce failed")
	}
}
