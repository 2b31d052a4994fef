package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"deepresearch/config"
	"deepresearch/internal/fetch"
	"deepresearch/internal/oracle"
	"deepresearch/internal/research"
	"deepresearch/internal/search"
	"deepresearch/internal/storage"
	"deepresearch/internal/telemetry"
)

// Deps bundles the collaborators shared by all research sessions. The
// fetcher is a factory because each session holds its own browser for
// its lifetime.
type Deps struct {
	Oracle     research.Oracle
	NewFetcher func() research.Fetcher
	Searcher   research.Searcher
	Storage    research.Storage
	Telemetry  *telemetry.Telemetry
}

// Server exposes the research engine over HTTP. Each started session
// gets its own engine and event channel; finished runs are looked up
// from storage.
type Server struct {
	cfg    *config.Config
	deps   Deps
	logger *log.Logger

	mu   sync.Mutex
	runs map[string]*run
}

type run struct {
	engine *research.Engine
	sink   research.ChannelSink
	done   chan struct{}
}

func New(cfg *config.Config, deps Deps, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		runs:   make(map[string]*run),
	}
}

// Run wires the full dependency graph from config and serves until the
// listener fails.
func Run(cfg *config.Config) error {
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	llm, err := oracle.NewLLMProvider(cfg.Oracle)
	if err != nil {
		return err
	}
	adapter := oracle.NewAdapter(llm, cfg.Oracle,
		tele, log.New(log.Writer(), "[ORACLE] ", log.LstdFlags))

	searcher, err := search.NewMultiSearcher(cfg.Search,
		log.New(log.Writer(), "[SEARCH] ", log.LstdFlags))
	if err != nil {
		return err
	}

	store := storage.NewStorage(cfg.Storage, cfg.Crawl.HistoryLimit,
		log.New(log.Writer(), "[STORAGE] ", log.LstdFlags))

	fetchLogger := log.New(log.Writer(), "[FETCH] ", log.LstdFlags)
	deps := Deps{
		Oracle:     adapter,
		NewFetcher: func() research.Fetcher { return fetch.NewChromeFetcher(cfg.Fetch, fetchLogger) },
		Searcher:   searcher,
		Storage:    store,
		Telemetry:  tele,
	}

	srv := New(cfg, deps, log.New(log.Writer(), "[HTTP] ", log.LstdFlags))
	e := srv.Echo()

	addr := cfg.Server.Address
	if addr == "" {
		addr = ":8080"
	}
	srv.logger.Printf("listening on %s", addr)
	return e.Start(addr)
}

// Echo builds the configured echo instance with all routes registered.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	baseLogger := s.logger
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if h := s.deps.Telemetry.Handler(); h != nil {
		e.GET("/metrics", echo.WrapHandler(h))
	}

	api := e.Group("/api")
	if s.cfg.Server.JWTSecret != "" {
		api.Use(EchoAuthMiddleware([]byte(s.cfg.Server.JWTSecret)))
	}
	api.POST("/research", s.startResearch)
	api.GET("/research/:id", s.getSession)
	api.GET("/research/:id/events", s.streamEvents)
	api.POST("/research/:id/cancel", s.cancelSession)
	api.POST("/research/:id/skip", s.skipDepth)
	api.GET("/history", s.history)
	return e
}

type startRequest struct {
	Query string `json:"query"`
}

func (s *Server) startResearch(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	id := uuid.NewString()
	sink := research.NewChannelSink(256)
	engine := research.NewEngine(s.cfg, s.deps.Oracle, s.deps.NewFetcher(),
		s.deps.Searcher, s.deps.Storage, sink, s.deps.Telemetry, nil)

	r := &run{engine: engine, sink: sink, done: make(chan struct{})}
	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	go func() {
		defer func() {
			close(r.done)
			sink.Close()
			s.mu.Lock()
			delete(s.runs, id)
			s.mu.Unlock()
		}()
		if _, err := engine.RunSession(context.Background(), id, req.Query); err != nil {
			s.logger.Printf("session %s: %v", id, err)
		}
	}()

	return c.JSON(http.StatusAccepted, map[string]string{
		"session_id": id,
		"status":     string(research.StatusRunning),
	})
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.deps.Storage.GetSession(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

// streamEvents replays session progress as server-sent events until the
// run finishes or the client disconnects.
func (s *Server) streamEvents(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not active")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	enc := newSSEWriter(resp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-r.sink.C:
			if !open {
				_ = enc.WriteEvent("done", research.Event{Category: "session", Message: "stream closed"})
				return nil
			}
			if err := enc.WriteEvent("progress", ev); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) cancelSession(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not active")
	}
	r.engine.Stop()
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": id, "status": "cancelling"})
}

func (s *Server) skipDepth(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "session not active")
	}
	r.engine.SkipDepth()
	return c.JSON(http.StatusAccepted, map[string]string{"session_id": id, "status": "skipping depth"})
}

func (s *Server) history(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
	}
	sessions, err := s.deps.Storage.History(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if sessions == nil {
		sessions = []*research.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}
