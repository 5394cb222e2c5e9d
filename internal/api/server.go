// Package api exposes the HTTP surface: the WebSocket sync endpoint, a
// minimal document REST slice, health, and metrics.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/driftpad/driftpad/internal/auth"
	"github.com/driftpad/driftpad/internal/collab"
	"github.com/driftpad/driftpad/internal/gateway"
	"github.com/driftpad/driftpad/internal/logging"
	"github.com/driftpad/driftpad/internal/metrics"
	"github.com/driftpad/driftpad/internal/storage"
)

// Server handles HTTP requests.
type Server struct {
	gateway *gateway.Gateway
	manager *collab.Manager
	store   storage.Store
	audit   storage.AuditSink
	authn   auth.Authenticator
	authz   auth.Authorizer

	log zerolog.Logger
}

// ServerConfig holds configuration for creating a server.
type ServerConfig struct {
	Gateway       *gateway.Gateway
	Manager       *collab.Manager
	Store         storage.Store
	Audit         storage.AuditSink
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		gateway: cfg.Gateway,
		manager: cfg.Manager,
		store:   cfg.Store,
		audit:   cfg.Audit,
		authn:   cfg.Authenticator,
		authz:   cfg.Authorizer,
		log:     logging.WithComponent("api"),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.accessLogMiddleware)

	// The sync endpoint does its own token handling: WebSocket clients
	// carry the credential in the query string.
	r.Methods(http.MethodGet).Path("/sync/{docID}").HandlerFunc(s.gateway.HandleSync)

	r.Methods(http.MethodPost).Path("/documents").
		Handler(s.authMiddleware(http.HandlerFunc(s.handleCreateDocument)))
	r.Methods(http.MethodGet).Path("/documents/{docID}").
		Handler(s.authMiddleware(http.HandlerFunc(s.handleGetDocument)))

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.handleHealth)
	r.Methods(http.MethodGet).Path("/metrics").Handler(metrics.Handler())

	return r
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
