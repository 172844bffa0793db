/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/notincredibox/internal/api"
	"github.com/friendsincode/notincredibox/internal/auth"
	"github.com/friendsincode/notincredibox/internal/beat"
	"github.com/friendsincode/notincredibox/internal/cache"
	"github.com/friendsincode/notincredibox/internal/combinations"
	"github.com/friendsincode/notincredibox/internal/config"
	"github.com/friendsincode/notincredibox/internal/db"
	"github.com/friendsincode/notincredibox/internal/eventbus"
	"github.com/friendsincode/notincredibox/internal/events"
	"github.com/friendsincode/notincredibox/internal/mixer"
	"github.com/friendsincode/notincredibox/internal/sounds"
	"github.com/friendsincode/notincredibox/internal/storage"
	"github.com/friendsincode/notincredibox/internal/telemetry"
	"github.com/friendsincode/notincredibox/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	tracer       *telemetry.TracerProvider
	db           *gorm.DB
	cache        *cache.Cache
	loops        storage.LoopStore
	audio        *Audio
	catalog      *sounds.Catalog
	beat         *beat.Scheduler
	mixer        *mixer.Mixer
	combinations *combinations.Service
	identity     *auth.Provider
	api          *api.API
	bus          *events.Bus

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("notincredibox-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Event streams and loop downloads run longer than an API call.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(30 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") || strings.HasPrefix(r.URL.Path, "/loops/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:    cfg,
		logger: logger,
		router: router,
		bus:    events.NewBus(),
	}

	if err := srv.initDependencies(ctx); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	srv.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Zero write timeout keeps websocket streams open; the middleware bounds API calls.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.MetricsBind != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; media-src 'self' blob:; connect-src 'self' ws: wss:; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies(ctx context.Context) error {
	tracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:    "notincredibox",
		ServiceVersion: version.Version,
		OTLPEndpoint:   s.cfg.OTLPEndpoint,
		Enabled:        s.cfg.TracingEnabled,
		SampleRate:     s.cfg.TracingSampleRate,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	s.tracer = tracer
	s.DeferClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracer.Shutdown(shutdownCtx)
	})

	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	s.DeferClose(func() error { return db.Close(database) })
	if err := db.Migrate(database); err != nil {
		return err
	}
	s.db = database

	if s.cfg.CacheEnabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.RedisAddr = s.cfg.RedisAddr
		cacheCfg.RedisPassword = s.cfg.RedisPassword
		cacheCfg.RedisDB = s.cfg.RedisDB
		s.cache = cache.New(cacheCfg, s.logger)
		s.DeferClose(func() error { return s.cache.Close() })
	}

	if s.cfg.EventRelayEnabled {
		relay := eventbus.New(eventbus.Config{
			Addr:     s.cfg.RedisAddr,
			Password: s.cfg.RedisPassword,
			DB:       s.cfg.RedisDB,
		}, s.bus, s.logger)
		if err := relay.Start(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("event relay disabled, library events stay on this replica")
			_ = relay.Close()
		} else {
			s.DeferClose(relay.Close)
		}
	}

	loops, err := OpenLoopStore(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	s.loops = loops

	s.audio = NewAudio(s.cfg, loops, s.logger)

	catalog, err := sounds.Load()
	if err != nil {
		return fmt.Errorf("load sound catalog: %w", err)
	}
	s.catalog = catalog

	sched, err := NewScheduler(s.cfg, s.audio.Players, s.bus, s.logger)
	if err != nil {
		return err
	}
	s.beat = sched
	s.DeferClose(sched.Close)

	mx, err := mixer.New(mixer.Config{
		SlotIDs:   s.cfg.SlotIDs(),
		Catalog:   catalog,
		Scheduler: sched,
		Warmer:    s.audio.Warmer,
		Bus:       s.bus,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("create mixer: %w", err)
	}
	s.mixer = mx

	s.combinations = combinations.NewService(combinations.Config{
		DB:        database,
		Cache:     s.cache,
		Catalog:   catalog,
		Bus:       s.bus,
		MaxSounds: s.cfg.SlotCount,
	}, s.logger)
	s.identity = auth.NewProvider(database, []byte(s.cfg.JWTSigningKey), s.cfg.TokenTTL, s.logger)

	s.api = api.New(api.Config{
		DB:           database,
		Catalog:      catalog,
		Mixer:        mx,
		Beat:         sched,
		Combinations: s.combinations,
		Identity:     s.identity,
		Loops:        loops,
		Bus:          s.bus,
	}, s.logger)

	s.logger.Info().
		Str("db_backend", string(s.cfg.DBBackend)).
		Str("audio_backend", s.audio.Backend).
		Int("slots", s.cfg.SlotCount).
		Dur("loop", s.cfg.LoopDuration).
		Bool("cache", s.cache.IsAvailable()).
		Msg("dependencies ready")
	return nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer is the standalone metrics listener, or nil when disabled.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.audio.Preloader != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			if err := s.audio.Preloader.Preload(ctx, s.catalog.AudioKeys()...); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("loop preload incomplete, remaining assets load on first use")
			}
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.logPlaybackFailures(ctx)
	}()
}

// logPlaybackFailures surfaces per-slot failures once per slot and sound until it recovers.
func (s *Server) logPlaybackFailures(ctx context.Context) {
	failed := s.bus.Subscribe(events.EventPlaybackFailed)
	cleared := s.bus.Subscribe(events.EventSlotDeactivated)
	defer s.bus.Unsubscribe(events.EventPlaybackFailed, failed)
	defer s.bus.Unsubscribe(events.EventSlotDeactivated, cleared)

	reported := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-failed:
			slotID, _ := payload["slot_id"].(string)
			ref, _ := payload["sound_ref"].(string)
			if reported[slotID] == ref {
				continue
			}
			reported[slotID] = ref
			s.logger.Error().Str("slot_id", slotID).Str("sound_ref", ref).Interface("error", payload["error"]).Msg("slot cannot play its loop")
		case payload := <-cleared:
			slotID, _ := payload["slot_id"].(string)
			delete(reported, slotID)
		}
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","beat":"` + s.beat.Phase().String() + `"}`))
	})

	s.router.Handle("/metrics", telemetry.Handler())

	s.api.Routes(s.router)
}
