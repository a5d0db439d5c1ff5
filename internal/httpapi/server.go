// Package httpapi exposes the service over HTTP for automation callers.
//
// Identity comes from the X-Actor-ID and X-Actor-Role headers. Errors are
// JSON bodies carrying the error kind and a message localized from the
// catalog by Accept-Language.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/service"
)

// Actor headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Server routes HTTP requests to a service.
type Server struct {
	svc     *service.Service
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// New returns a Server.
func New(svc *service.Service, cat *catalog.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{svc: svc, catalog: cat, logger: logger}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)

	r.HandleFunc("/requests", s.createRequest).Methods(http.MethodPost)
	r.HandleFunc("/requests", s.listRequests).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", s.getRequest).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}", s.editRequest).Methods(http.MethodPatch)
	r.HandleFunc("/requests/{id}/transitions", s.transition).Methods(http.MethodPost)
	r.HandleFunc("/requests/{id}/applications", s.apply).Methods(http.MethodPost)
	r.HandleFunc("/requests/{id}/applications", s.listApplications).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/recommendation", s.recommendation).Methods(http.MethodGet)
	r.HandleFunc("/requests/{id}/selection", s.selectTrainer).Methods(http.MethodPost)
	r.HandleFunc("/applications/{id}/rejection", s.rejectApplication).Methods(http.MethodPost)

	r.HandleFunc("/conflicts", s.checkConflicts).Methods(http.MethodPost)
	r.HandleFunc("/events", s.scheduleEvent).Methods(http.MethodPost)
	r.HandleFunc("/events", s.listEvents).Methods(http.MethodGet)

	r.HandleFunc("/channels/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/channels/{id}/messages", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/profiles/me", s.updateProfile).Methods(http.MethodPut)

	r.HandleFunc("/queue", s.listQueue).Methods(http.MethodGet)
	r.HandleFunc("/queue/drain", s.drainQueue).Methods(http.MethodPost)

	r.Use(s.logging)
	r.Use(s.recovery)
	return r
}

// Handler wraps the router with CORS for the given origins.
func (s *Server) Handler(origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept-Language", HeaderActorID, HeaderActorRole},
	}).Handler(s.Router())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"online": s.svc.Online(),
		"queued": s.svc.Queue().Len(),
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", v)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Message: "internal server error"}})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func actorFrom(r *http.Request) (domain.Actor, error) {
	actor := domain.Actor{
		UserID: r.Header.Get(HeaderActorID),
		Role:   domain.Role(r.Header.Get(HeaderActorRole)),
	}
	if !actor.Role.Valid() {
		return domain.Actor{}, domain.NewError(domain.KindUnauthorized, "missing or unknown "+HeaderActorRole)
	}
	return actor, nil
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.WrapError(domain.KindValidation, "malformed request body", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response", "error", err)
	}
}
