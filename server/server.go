package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Ghostrayu/xahpayroll-sub003/repository"
	service_registry "github.com/Ghostrayu/xahpayroll-sub003/srvreg"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// WebServer handles HTTP requests
type WebServer struct {
	httpAddr        string
	server          *http.Server
	router          chi.Router
	logger          cmtlog.Logger
	startTime       time.Time
	serviceRegistry *service_registry.ServiceRegistry
	repository      *repository.Repository
}

// NewWebServer creates a new web server
func NewWebServer(httpPort string, logger cmtlog.Logger, serviceRegistry *service_registry.ServiceRegistry, repository *repository.Repository) *WebServer {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	server := &WebServer{
		httpAddr: ":" + httpPort,
		server: &http.Server{
			Addr:              ":" + httpPort,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		router:          r,
		logger:          logger.With("module", "server"),
		startTime:       time.Now(),
		serviceRegistry: serviceRegistry,
		repository:      repository,
	}

	// Register routes
	r.Get("/health", server.handleHealth)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, "Service not found for "+r.Method+" "+r.URL.Path, http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		JSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
	})
	serviceRegistry.RegisterDefaultServices(r)

	return server
}

// Handler exposes the router (used by tests)
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start starts the web server
func (ws *WebServer) Start() error {
	ws.logger.Info("Starting web server", "addr", ws.httpAddr)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			ws.logger.Error("web server error: ", "err", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the web server
func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.logger.Info("Shutting down web server")
	return ws.server.Shutdown(ctx)
}

// handleHealth reports uptime and database reachability
func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	info := map[string]any{
		"status": "ok",
		"uptime": time.Since(ws.startTime).String(),
	}
	if ws.repository != nil {
		if err := ws.repository.Ping(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			info["status"] = "degraded"
			info["database_error"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(info); err != nil {
		ws.logger.Error("Failed to encode health response", "err", err)
	}
}

// JSONError sends a JSON formatted error response with the given status code and message
func JSONError(w http.ResponseWriter, message string, statusCode int) {
	errorResponse := struct {
		Error string `json:"error"`
	}{
		Error: message,
	}
	jsonBytes, err := json.Marshal(errorResponse)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonBytes)
}
