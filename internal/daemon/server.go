// Package daemon serves the learning session over HTTP.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/go-chi/chi/v5"

	"github.com/felixgeelhaar/pylearn/internal/app"
	"github.com/felixgeelhaar/pylearn/internal/catalog"
	"github.com/felixgeelhaar/pylearn/internal/challenge"
	"github.com/felixgeelhaar/pylearn/internal/config"
	"github.com/felixgeelhaar/pylearn/internal/domain"
	"github.com/felixgeelhaar/pylearn/internal/quiz"
	"github.com/felixgeelhaar/pylearn/internal/runner"
)

// Server represents the PyLearn daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  chi.Router
	ctrl    *app.Controller
	catalog *catalog.Catalog
	limiter ratelimit.RateLimiter
	closers []io.Closer
	version string
	runtime string
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config     *config.LocalConfig
	Controller *app.Controller
	Catalog    *catalog.Catalog
	Runtime    string // runtime name reported by /v1/status
	Version    string
	Closers    []io.Closer // released on Shutdown
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil || cfg.Controller == nil || cfg.Catalog == nil {
		return nil, errors.New("daemon: config, controller and catalog are required")
	}

	s := &Server{
		cfg:     cfg.Config,
		router:  chi.NewRouter(),
		ctrl:    cfg.Controller,
		catalog: cfg.Catalog,
		closers: cfg.Closers,
		version: cfg.Version,
		runtime: cfg.Runtime,
	}

	if rate := cfg.Config.Daemon.RunsPerMinute; rate > 0 {
		s.limiter = ratelimit.New(&ratelimit.Config{
			Rate:     rate,
			Burst:    rate,
			Interval: time.Minute,
		})
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No write timeout: /v1/events holds its connection open
		IdleTimeout: 120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(correlationIDMiddleware, recoveryMiddleware, loggingMiddleware)

	// Health & status
	r.Get("/v1/health", s.handleHealth)
	r.Get("/v1/status", s.handleStatus)

	// Lessons
	r.Get("/v1/lessons", s.handleListLessons)
	r.Get("/v1/lessons/{id}", s.handleGetLesson)
	r.Get("/v1/lessons/{id}/reference", s.handleGetReference)
	r.Post("/v1/lessons/{id}/load", s.handleLoadLesson)

	// Session
	r.Get("/v1/state", s.handleState)
	r.Post("/v1/challenges/{difficulty}/load", s.handleLoadChallenge)
	r.Post("/v1/reference/toggle", s.handleToggleReference)
	r.Get("/v1/events", s.handleEvents)

	// Code execution
	r.Group(func(r chi.Router) {
		r.Use(rateLimitMiddleware(s.limiter))
		r.Post("/v1/run", s.handleRun)
		r.Post("/v1/submit", s.handleSubmit)
	})

	// Quiz
	r.Post("/v1/quiz/select", s.handleQuizSelect)
	r.Post("/v1/quiz/check", s.handleQuizCheck)
	r.Post("/v1/quiz/next", s.handleQuizNext)
	r.Post("/v1/quiz/start", s.handleQuizStart)

	// Progress
	r.Get("/v1/progress", s.handleGetProgress)
	r.Delete("/v1/progress", s.handleResetProgress)
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting pylearn daemon",
		"addr", s.server.Addr,
		"runtime", s.runtime,
		"storage", s.cfg.Storage.Backend,
		"lessons", s.catalog.Count(),
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	err := s.server.Shutdown(ctx)
	s.ctrl.Close()

	if s.limiter != nil {
		if cerr := s.limiter.Close(); cerr != nil {
			slog.Warn("failed to close rate limiter", "error", cerr)
		}
	}
	for _, c := range s.closers {
		if cerr := c.Close(); cerr != nil {
			slog.Warn("failed to close resource", "error", cerr)
		}
	}

	return err
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	vm := s.ctrl.View(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":  "running",
		"version": s.version,
		"runtime": map[string]interface{}{
			"backend": s.runtime,
			"status":  vm.Runtime.Status,
			"message": vm.Runtime.Message,
		},
		"storage": s.cfg.Storage.Backend,
		"lessons": s.catalog.Count(),
		"locale":  s.cfg.Learning.Locale,
	})
}

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"lessons": s.ctrl.Lessons(r.Context()),
	})
}

// lessonDetail is the public view of a lesson. Quiz answers and expected
// outputs are left out.
type lessonDetail struct {
	ID           int                                    `json:"id"`
	Title        string                                 `json:"title"`
	Content      string                                 `json:"content"`
	Instructions string                                 `json:"instructions,omitempty"`
	Questions    int                                    `json:"questions"`
	Challenges   map[domain.Difficulty]challengeSummary `json:"challenges"`
}

type challengeSummary struct {
	Title        string `json:"title"`
	Instructions string `json:"instructions"`
	StarterCode  string `json:"starterCode"`
	Hints        int    `json:"hints"`
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lessonID(w, r)
	if !ok {
		return
	}

	lesson, err := s.catalog.Lesson(id)
	if err != nil {
		s.domainError(w, "lesson not found", err)
		return
	}

	detail := lessonDetail{
		ID:           lesson.ID,
		Title:        lesson.Title,
		Content:      lesson.Content,
		Instructions: lesson.Instructions,
		Questions:    len(lesson.Quiz),
		Challenges:   make(map[domain.Difficulty]challengeSummary, len(lesson.Challenges)),
	}
	for d, ch := range lesson.Challenges {
		detail.Challenges[d] = challengeSummary{
			Title:        ch.Title,
			Instructions: ch.Instructions,
			StarterCode:  ch.StarterCode,
			Hints:        len(ch.Hints),
		}
	}
	s.jsonResponse(w, http.StatusOK, detail)
}

func (s *Server) handleGetReference(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lessonID(w, r)
	if !ok {
		return
	}

	view, err := s.ctrl.Reference(id)
	if err != nil {
		s.domainError(w, "reference not found", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, view)
}

func (s *Server) handleLoadLesson(w http.ResponseWriter, r *http.Request) {
	id, ok := s.lessonID(w, r)
	if !ok {
		return
	}

	if err := s.ctrl.LoadLesson(r.Context(), id); err != nil {
		s.domainError(w, "failed to load lesson", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleLoadChallenge(w http.ResponseWriter, r *http.Request) {
	d, err := domain.ParseDifficulty(chi.URLParam(r, "difficulty"))
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid difficulty", err)
		return
	}

	if err := s.ctrl.LoadChallenge(r.Context(), d); err != nil {
		s.domainError(w, "failed to load challenge", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleToggleReference(w http.ResponseWriter, r *http.Request) {
	view, open := s.ctrl.ToggleReference()
	resp := map[string]interface{}{"open": open}
	if open {
		resp["reference"] = view
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// CodeRequest is the request body for run and submit
type CodeRequest struct {
	Code string `json:"code"`
}

// maxCodeBody caps run and submit request bodies.
const maxCodeBody = 1 << 20

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	s.handleCode(w, r, s.ctrl.Run)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.handleCode(w, r, s.ctrl.Submit)
}

func (s *Server) handleCode(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (challenge.Outcome, error)) {
	var req CodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCodeBody)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.jsonError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return
		}
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	out, err := fn(r.Context(), req.Code)
	if err != nil && !errors.Is(err, challenge.ErrNoChallenge) {
		s.domainError(w, "execution failed", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

// SelectRequest is the request body for quiz option selection
type SelectRequest struct {
	Option *int `json:"option"`
}

func (s *Server) handleQuizSelect(w http.ResponseWriter, r *http.Request) {
	var req SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Option == nil {
		s.jsonError(w, http.StatusBadRequest, "option is required", nil)
		return
	}

	if err := s.ctrl.SelectOption(*req.Option); err != nil {
		s.domainError(w, "failed to select option", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleQuizCheck(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.CheckAnswer()
	if err != nil {
		s.domainError(w, "failed to check answer", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, res)
}

func (s *Server) handleQuizNext(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.NextQuestion(); err != nil {
		s.domainError(w, "failed to advance quiz", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleQuizStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.StartChallenges(r.Context()); err != nil {
		s.domainError(w, "failed to start challenges", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	vm := s.ctrl.View(r.Context())
	s.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"summary":   vm.Progress,
		"lessons":   vm.Navigation,
		"challenge": vm.Challenge,
	})
}

func (s *Server) handleResetProgress(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.ResetProgress(r.Context()); err != nil {
		s.domainError(w, "failed to reset progress", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, s.ctrl.View(r.Context()))
}

// Helpers

func (s *Server) lessonID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		s.jsonError(w, http.StatusBadRequest, "invalid lesson id", err)
		return 0, false
	}
	return id, true
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrChallengeNotFound),
		errors.Is(err, domain.ErrReferenceNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, challenge.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, runner.ErrNotReady),
		errors.Is(err, runner.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidDifficulty),
		errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, quiz.ErrNoSelection),
		errors.Is(err, quiz.ErrInvalidOption):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) domainError(w http.ResponseWriter, message string, err error) {
	s.jsonError(w, statusFor(err), message, err)
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}
