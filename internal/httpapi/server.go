// Package httpapi implements the query/triage HTTP API: a thin gorilla/mux
// router over the query parser, query builders, alert aggregator, and
// histogram engine, backed by a session-cookie auth gate.
package httpapi

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/configdb"
	"github.com/evebox/evebox-go/internal/query"
)

// sessionCookieName is also accepted as a request header per §6.
const sessionCookieName = "x-evebox-session-id"

// Server holds everything the HTTP handlers need: the events store, the
// config/session database, and auth policy.
type Server struct {
	DB     *sql.DB
	HasFTS bool
	Schema query.Schema

	ConfigDB *configdb.DB

	AuthRequired bool
	AuthType     string // "anonymous" | "username" | "usernamepassword"

	Log *zap.Logger

	router *mux.Router
}

// New builds a Server with every §6 endpoint wired.
func New(s *Server) *Server {
	if s.Log == nil {
		s.Log = zap.NewNop()
	}
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	api := r.PathPrefix("/api/1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/event/{id}", s.handleEventByID).Methods(http.MethodGet)
	api.HandleFunc("/event/{id}/archive", s.handleEventArchive).Methods(http.MethodPost)
	api.HandleFunc("/event/{id}/escalate", s.handleEventEscalate).Methods(http.MethodPost)
	api.HandleFunc("/event/{id}/de-escalate", s.handleEventDeescalate).Methods(http.MethodPost)
	api.HandleFunc("/event/{id}/comment", s.handleEventComment).Methods(http.MethodPost)
	api.HandleFunc("/alert-group/archive", s.handleAlertGroupMutate("archive")).Methods(http.MethodPost)
	api.HandleFunc("/alert-group/star", s.handleAlertGroupMutate("star")).Methods(http.MethodPost)
	api.HandleFunc("/alert-group/unstar", s.handleAlertGroupMutate("unstar")).Methods(http.MethodPost)
	api.HandleFunc("/alert-group/comment", s.handleAlertGroupMutate("comment")).Methods(http.MethodPost)
	api.HandleFunc("/report/histogram", s.handleHistogram).Methods(http.MethodGet)
	api.HandleFunc("/report/agg", s.handleAgg).Methods(http.MethodGet)
	api.HandleFunc("/sensors", s.handleSensors).Methods(http.MethodGet)

	// Login/logout are reachable without a session.
	r.HandleFunc("/api/1/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/1/logout", s.handleLogout).Methods(http.MethodPost)

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.Log.Error("panic in http handler", zap.Any("recover", rec), zap.String("path", r.URL.Path))
				http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware gates every /api/1 route (except login/logout, mounted
// outside this subrouter) behind a valid, unexpired session when
// authentication is required.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.AuthRequired || s.AuthType == "anonymous" {
			next.ServeHTTP(w, r)
			return
		}

		sessionID := r.Header.Get(sessionCookieName)
		if sessionID == "" {
			if c, err := r.Cookie(sessionCookieName); err == nil {
				sessionID = c.Value
			}
		}
		if sessionID == "" {
			writeError(w, errUnauthorised("missing session"))
			return
		}
		username, ok, err := s.ConfigDB.LookupSession(sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, errUnauthorised("expired or unknown session"))
			return
		}
		r = r.WithContext(withUsername(r.Context(), username))
		next.ServeHTTP(w, r)
	})
}
