package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/config"
)

// Server exposes the driver service over HTTP.
type Server struct {
	server *http.Server
	cfg    *config.Config
	svc    *DriverService
	mutex  sync.RWMutex
	port   int
}

// NewServer creates an API server around the given driver service.
func NewServer(cfg *config.Config, svc *DriverService, port int) *Server {
	return &Server{
		cfg:  cfg,
		svc:  svc,
		port: port,
	}
}

// Start runs the HTTP server. It blocks until the server shuts down.
func (s *Server) Start() error {
	router := http.NewServeMux()
	s.setupRoutes(router)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: router,
	}

	log.Printf("API server listening on http://localhost:%d", s.port)
	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down.
func (s *Server) Stop() error {
	if s.server != nil {
		log.Println("stopping the API server...")
		return s.server.Shutdown(context.Background())
	}
	return nil
}

// GetConfig returns the current configuration.
func (s *Server) GetConfig() *config.Config {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.cfg
}

// UpdateConfig replaces the configuration. It takes effect on the next
// service start.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.cfg = cfg
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("JSON encode error: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
