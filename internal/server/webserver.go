package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/ternarybob/arbor"

	"studio-board/internal/common"
	"studio-board/internal/handlers"
	"studio-board/internal/interfaces"
	"studio-board/internal/middleware"
)

// webServer serves the REST API, the websocket board sessions and metrics
type webServer struct {
	config      *common.Config
	server      *http.Server
	logger      arbor.ILogger
	apiHandlers *handlers.APIHandlers
	wsHub       *handlers.WebSocketHub
	running     atomic.Bool
	startTime   time.Time
}

// NewWebServer creates a new web server instance
func NewWebServer(deps handlers.Dependencies) (interfaces.WebService, error) {
	if deps.Repo == nil {
		return nil, common.NewConfigurationError("NO_REPOSITORY", "web server needs a repository")
	}

	apiHandlers := handlers.NewAPIHandlers(deps)
	wsHub := handlers.NewWebSocketHub(deps)

	ws := &webServer{
		config:      deps.Config,
		logger:      deps.Logger,
		apiHandlers: apiHandlers,
		wsHub:       wsHub,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", deps.Config.Server.Port),
			Handler:           NewRouter(deps, apiHandlers, wsHub),
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	return ws, nil
}

// NewRouter builds the routing table wrapped in the middleware chain.
// /health, /version and /metrics are public; everything else needs a
// session.
func NewRouter(deps handlers.Dependencies, apiHandlers *handlers.APIHandlers, wsHub *handlers.WebSocketHub) http.Handler {
	auth := middleware.NewAuthenticator(&deps.Config.Auth, deps.Logger)

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, common.NewNotFoundError("ROUTE_NOT_FOUND", "no such endpoint"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, common.NewValidationError("METHOD_NOT_ALLOWED", r.Method+" is not supported here"))
	})

	r.HandleFunc("/health", apiHandlers.HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/version", apiHandlers.VersionHandler).Methods(http.MethodGet)
	r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	r.Handle("/config", auth.Middleware(http.HandlerFunc(apiHandlers.ConfigHandler))).Methods(http.MethodGet)
	r.Handle("/ws", auth.Middleware(http.HandlerFunc(wsHub.WebSocketHandler))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(auth.Middleware)
	apiHandlers.RegisterRoutes(api)

	// Create middleware chain
	logMiddleware := middleware.Logging(deps.Logger, deps.Metrics)
	corsMiddleware := middleware.CORS(&deps.Config.CORS)

	return logMiddleware(corsMiddleware(r))
}

// Start starts the web server
func (ws *webServer) Start(ctx context.Context) error {
	ws.running.Store(true)
	ws.startTime = time.Now()

	go func() {
		ws.logger.Info().Int("port", ws.config.Server.Port).Msg("Starting web server")
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error().Err(err).Msg("Web server error")
			ws.running.Store(false)
		}
	}()
	return nil
}

// Stop stops the web server, closes the websocket sessions and waits for
// board writes already in flight
func (ws *webServer) Stop() error {
	ws.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws.logger.Info().Str("uptime", time.Since(ws.startTime).String()).Msg("Shutting down web server")
	ws.wsHub.Stop()
	err := ws.server.Shutdown(ctx)
	ws.apiHandlers.Wait()
	return err
}

// IsRunning returns true if the web server is running
func (ws *webServer) IsRunning() bool {
	return ws.running.Load()
}
