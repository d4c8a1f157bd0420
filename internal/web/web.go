package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"medremind/internal/config"
	"medremind/internal/ics"
	"medremind/internal/intake"
	appLog "medremind/internal/log"
	"medremind/internal/model"
	"medremind/internal/notify"
	"medremind/internal/reminder"
	"medremind/internal/remote"
	"medremind/internal/schedule"
	"medremind/internal/store"
)

// Deps are the services the HTTP API drives.
type Deps struct {
	Store    *store.Store
	Recorder *intake.Recorder
	Resolver *intake.Resolver
	Sync     *reminder.Synchronizer
	Builder  schedule.Builder
	Notifier notify.Service
	// Feedback may be nil when no dispatcher runs.
	Feedback *notify.Feedback
	Exporter ics.Exporter
	// Remote may be nil when no sync service is configured; the caregiver
	// endpoints then answer 503.
	Remote   *remote.Client
	Location *time.Location
	Now      func() time.Time
}

// Server provides the HTTP API over medications, intakes and reminders.
type Server struct {
	cfg    *config.Config
	deps   Deps
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		router: chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	if s.cfg != nil && len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			ExposedHeaders:   []string{"X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			appLog.Info("HTTP basic auth enabled")
			r.Use(s.basicAuthMiddleware)
		}

		r.Get("/calendar.ics", s.handleCalendar)

		r.Route("/api", func(r chi.Router) {
			r.Route("/medications", func(r chi.Router) {
				r.Get("/", s.handleListMedications)
				r.Post("/", s.handleCreateMedication)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetMedication)
					r.Put("/", s.handleUpdateMedication)
					r.Delete("/", s.handleDeleteMedication)
					r.Get("/intakes", s.handleListIntakes)
					r.Post("/intakes", s.handleRecordIntake)
					r.Post("/reschedule", s.handleReschedule)
					r.Get("/status", s.handleStatus)
				})
			})

			r.Get("/schedule", s.handleSchedulePreview)
			r.Post("/resync", s.handleResync)
			r.Post("/sync/retry", s.handleRetrySync)
			r.Get("/triggers", s.handleTriggers)

			r.Post("/notifications/opened", s.handleNotificationOpened)
			r.Get("/notifications/feedback", s.handleFeedback)

			r.Route("/relations", func(r chi.Router) {
				r.Get("/", s.handleRelations)
				r.Post("/", s.handleAddRelation)
				r.Post("/invite", s.handleInvite)
				r.Delete("/{id}", s.handleRemoveRelation)
			})
			r.Get("/patients/{id}/schedule", s.handlePatientSchedule)
		})
	})
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware guards every route it is mounted on with HTTP Basic
// Auth. /health is registered outside of it.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="medremind", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) now() time.Time {
	return s.deps.Now()
}

func (s *Server) today() model.Date {
	return model.DateOf(s.now().In(s.deps.Location))
}

func pathID(r *http.Request) (uint, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeFailure maps domain errors onto status codes.
func writeFailure(w http.ResponseWriter, op string, err error) {
	var se *remote.StatusError
	switch {
	case errors.Is(err, model.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, reminder.ErrCancel):
		appLog.Error(op+" failed", err)
		writeError(w, http.StatusServiceUnavailable, "notification service unavailable")
	case errors.As(err, &se):
		appLog.Warn(op+" failed", err)
		writeError(w, http.StatusBadGateway, se.Error())
	default:
		appLog.Error(op+" failed", err)
		writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func warningText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
