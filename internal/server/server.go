/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server bundles the HTTP control surface and wires the playout
// services together.
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_tv/internal/config"
	"github.com/friendsincode/grimnir_tv/internal/db"
	"github.com/friendsincode/grimnir_tv/internal/distribution"
	"github.com/friendsincode/grimnir_tv/internal/engine"
	"github.com/friendsincode/grimnir_tv/internal/eventbus"
	"github.com/friendsincode/grimnir_tv/internal/events"
	"github.com/friendsincode/grimnir_tv/internal/logbuffer"
	"github.com/friendsincode/grimnir_tv/internal/mediaserver"
	"github.com/friendsincode/grimnir_tv/internal/sessions"
	"github.com/friendsincode/grimnir_tv/internal/telemetry"
	"github.com/friendsincode/grimnir_tv/internal/version"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	router chi.Router

	db      *gorm.DB
	bus     *events.Bus
	redis   *eventbus.RedisBus
	logBuf  *logbuffer.Buffer
	tracker *sessions.Tracker
	engine  *engine.Engine
	dist    *distribution.Manager
	updates *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	gdb, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}

	bus := events.NewBus()
	tracker := sessions.New(cfg.ViewerWindow, cfg.PreviewWindow)

	spawner := &engine.ExecSpawner{
		Bin:    cfg.FFmpegBin,
		Logger: logger,
		LogBuf: logBuf,
	}

	controller := engine.NewController(spawner, logger, cfg.DataDir, cfg.HLSDir,
		cfg.MediaServerHost, cfg.SequenceLength, cfg.OverlayEpsilon)

	dist := distribution.NewManager(distribution.Config{
		MasterReadURL:   cfg.MasterFeedReadURL,
		MediaServerHost: cfg.MediaServerHost,
		Cooldown:        cfg.RelayCooldown,
		GraceWindow:     cfg.FeedGraceWindow,
	}, func(args []string) (distribution.Process, error) {
		return spawner.Spawn("relay", args)
	}, bus, logger)

	feed := mediaserver.New(cfg.MediaServerAPIURL, cfg.HealthCheckTimeout)

	eng := engine.New(cfg, &engine.GormStore{DB: gdb}, controller, dist, tracker,
		feed, bus, logBuf, logger)

	s := &Server{
		cfg:     cfg,
		logger:  logger.With().Str("component", "server").Logger(),
		db:      gdb,
		bus:     bus,
		logBuf:  logBuf,
		tracker: tracker,
		engine:  eng,
		dist:    dist,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(telemetry.TracingMiddleware("grimnir-tv-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Segment delivery is long-polling friendly; keep the timeout off /hls.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/hls/") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	s.routes(router)
	s.router = router

	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		eng.Run(ctx)
	}()

	s.updates = version.NewChecker(logger)
	s.updates.Start(ctx)

	if cfg.RedisAddr != "" {
		rcfg := eventbus.DefaultRedisConfig()
		rcfg.Addr = cfg.RedisAddr
		rcfg.Password = cfg.RedisPassword
		rcfg.DB = cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(rcfg, cfg.InstanceID, logger)
		if err != nil {
			s.logger.Warn().Err(err).Msg("redis event mirroring unavailable")
		} else {
			s.redis = redisBus
			s.bgWG.Add(1)
			go s.mirrorEvents(ctx)
		}
	}

	return s, nil
}

// mirrorEvents republishes the channel's public events to Redis so other
// instances and dashboards can follow along.
func (s *Server) mirrorEvents(ctx context.Context) {
	defer s.bgWG.Done()

	mirrored := []events.EventType{
		events.EventNowPlaying,
		events.EventEngineStarted,
		events.EventEngineStopped,
		events.EventEngineError,
		events.EventClipSkipped,
		events.EventProtocolToggled,
		events.EventFeedLost,
		events.EventFeedRecovered,
		events.EventViewerStats,
	}

	type tagged struct {
		typ     events.EventType
		payload events.Payload
	}
	merged := make(chan tagged, 64)
	for _, typ := range mirrored {
		sub := s.bus.Subscribe(typ)
		go func(typ events.EventType, sub events.Subscriber) {
			for payload := range sub {
				select {
				case merged <- tagged{typ: typ, payload: payload}:
				default:
				}
			}
		}(typ, sub)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			s.redis.Publish(ev.typ, ev.payload)
		}
	}
}

func (s *Server) routes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", telemetry.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Route("/playout", func(r chi.Router) {
			r.Get("/status", s.handleStatus)
			r.Get("/debug", s.handleDebug)
			r.Post("/start", s.handleStart)
			r.Post("/stop", s.handleStop)
			r.Post("/skip", s.handleSkip)
		})
		r.Post("/protocols/{key}", s.handleToggleProtocol)
		r.Get("/logs", s.handleLogs)
		r.Get("/media/info", s.handleMediaInfo)
		r.Get("/schedule/export.ics", s.handleScheduleExport)
		r.Get("/system/version", s.handleVersion)
	})

	r.Route("/hls", func(r chi.Router) {
		r.Use(s.sessionMiddleware)
		fs := http.StripPrefix("/hls/", http.FileServer(http.Dir(s.cfg.HLSDir)))
		r.Get("/*", fs.ServeHTTP)
	})
}

// HTTPServer returns the configured http.Server.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.HTTPAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Router exposes the handler, mostly for tests.
func (s *Server) Router() http.Handler { return s.router }

// Close stops background services and releases resources.
func (s *Server) Close() error {
	s.bgCancel()
	s.bgWG.Wait()
	if s.redis != nil {
		_ = s.redis.Close()
	}
	return db.Close(s.db)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	info := s.updates.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":          info.CurrentVersion,
		"latest_version":   info.LatestVersion,
		"update_available": info.UpdateAvailable,
		"release_url":      info.ReleaseURL,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context(), requestHost(r))
	if err != nil {
		s.logger.Error().Err(err).Msg("status failed")
		writeError(w, http.StatusInternalServerError, "status_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Debug(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("debug report failed")
		writeError(w, http.StatusInternalServerError, "debug_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Start(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("start failed")
		writeError(w, http.StatusInternalServerError, "start_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "starting"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Stop(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("stop failed")
		writeError(w, http.StatusInternalServerError, "stop_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSkip(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Skip(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("skip failed")
		writeError(w, http.StatusConflict, "skip_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "skipped"})
}

func (s *Server) handleToggleProtocol(w http.ResponseWriter, r *http.Request) {
	key := strings.ToLower(chi.URLParam(r, "key"))

	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	if err := s.engine.ToggleProtocol(r.Context(), key, body.Enabled); err != nil {
		writeError(w, http.StatusBadRequest, "unknown_protocol")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"protocol": key, "enabled": body.Enabled})
}

func (s *Server) handleMediaInfo(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" || strings.Contains(filename, "..") {
		writeError(w, http.StatusBadRequest, "invalid_filename")
		return
	}

	item, info, err := s.engine.MediaInfo(r.Context(), filename)
	if err != nil && item == nil {
		writeError(w, http.StatusNotFound, "media_unreadable")
		return
	}

	resp := map[string]any{"filename": filename}
	if item != nil {
		resp["catalog"] = item
	}
	if info != nil {
		resp["probe"] = info
	}
	if err != nil {
		resp["probe_error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScheduleExport(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 90 {
			days = parsed
		}
	}
	start := time.Now()
	end := start.AddDate(0, 0, days)

	data, filename, err := s.engine.ExportSchedule(r.Context(), start, end)
	if err != nil {
		s.logger.Error().Err(err).Msg("schedule export failed")
		writeError(w, http.StatusInternalServerError, "export_failed")
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	entries := s.logBuf.Query(logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Limit:      limit,
		Descending: true,
	})
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries, "count": len(entries)})
}

// requestHost strips the port so display URLs carry only the hostname.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		host = "localhost"
	}
	return host
}
