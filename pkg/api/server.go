package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cbodonnell/civlink/pkg/api/handlers"
	"github.com/cbodonnell/civlink/pkg/api/middleware"
	"github.com/cbodonnell/civlink/pkg/inference"
	"github.com/cbodonnell/civlink/pkg/log"
	"github.com/cbodonnell/civlink/pkg/repositories"
	"github.com/gorilla/mux"
)

// Game is what the operator API reads from and saves through.
type Game interface {
	handlers.Source
	handlers.Saver
}

type APIServer struct {
	server      *http.Server
	tls         *TLSConfig
	broadcaster *Broadcaster
}

type TLSConfig struct {
	CertFile string
	KeyFile  string
}

type NewAPIServerOptions struct {
	Port       int
	TLS        *TLSConfig
	Game       Game
	Repository repositories.Repository
	// Token, when set, is required as a bearer token on every request.
	Token string
	// OriginPatterns are the extra origins allowed to open the update stream.
	OriginPatterns []string
}

// NewAPIServer creates a new http.Server for handling operator API requests
func NewAPIServer(opts NewAPIServerOptions) *APIServer {
	broadcaster := NewBroadcaster()
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: NewRouter(opts, broadcaster),
	}
	return &APIServer{
		server:      server,
		tls:         opts.TLS,
		broadcaster: broadcaster,
	}
}

// NewRouter builds the API routes.
func NewRouter(opts NewAPIServerOptions, broadcaster *Broadcaster) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.NewLoggingMiddleware(), middleware.NewTokenMiddleware(opts.Token))

	r.HandleFunc("/status", handlers.HandleStatus(opts.Game)).Methods(http.MethodGet)
	r.HandleFunc("/snapshot", handlers.HandleSnapshot(opts.Game)).Methods(http.MethodGet)
	r.HandleFunc("/snapshot/{namespace}", handlers.HandleSnapshot(opts.Game)).Methods(http.MethodGet)
	r.HandleFunc("/saves", handlers.HandleCreateSave(opts.Game)).Methods(http.MethodPost)
	if opts.Repository != nil {
		r.HandleFunc("/saves", handlers.HandleListSaves(opts.Repository)).Methods(http.MethodGet)
	}
	r.HandleFunc("/ws/updates", handlers.HandleUpdates(broadcaster, opts.OriginPatterns)).Methods(http.MethodGet)
	return r
}

// Publish forwards a tick result to update stream subscribers.
func (s *APIServer) Publish(res inference.UpdateResult) {
	s.broadcaster.Publish(res)
}

// Start starts the APIServer
func (s *APIServer) Start() {
	var listenAndServe func() error
	if s.tls != nil {
		log.Info("API server listening on %s with TLS", s.server.Addr)
		listenAndServe = func() error {
			return s.server.ListenAndServeTLS(s.tls.CertFile, s.tls.KeyFile)
		}
	} else {
		log.Info("API server listening on %s", s.server.Addr)
		listenAndServe = s.server.ListenAndServe
	}
	if err := listenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			log.Info("API server closed")
			return
		}
		log.Error("API server error: %v", err)
	}
}

// Stop closes update streams and stops the APIServer
func (s *APIServer) Stop(ctx context.Context) error {
	s.broadcaster.Close()
	return s.server.Shutdown(ctx)
}
