package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/Kirill-Marinushkin/umlaut-kb/internal/config"
	"github.com/Kirill-Marinushkin/umlaut-kb/internal/driver"
)

func (s *Server) setupRoutes(router *http.ServeMux) {
	router.HandleFunc("GET /api/config", s.handleGetConfig)
	router.HandleFunc("PUT /api/config", s.handleUpdateConfig)
	router.HandleFunc("POST /api/config/save", s.handleSaveConfig)

	router.HandleFunc("GET /api/devices", s.handleGetDevices)

	router.HandleFunc("POST /api/service/start", s.handleStartService)
	router.HandleFunc("POST /api/service/stop", s.handleStopService)
	router.HandleFunc("GET /api/service/status", s.handleServiceStatus)

	router.HandleFunc("POST /api/power/suspend", s.handleSuspend)
	router.HandleFunc("POST /api/power/resume", s.handleResume)

	router.HandleFunc("GET /api/health", s.handleHealthCheck)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.GetConfig())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var newConfig config.Config

	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse the configuration")
		return
	}

	s.UpdateConfig(&newConfig)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleSaveConfig(w http.ResponseWriter, r *http.Request) {
	var saveRequest struct {
		Path string `json:"path"`
	}

	if err := json.NewDecoder(r.Body).Decode(&saveRequest); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse the request")
		return
	}

	configPath := saveRequest.Path
	if configPath == "" {
		userConfigDir, err := config.GetDefaultConfigDir()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not resolve the default config directory")
			return
		}
		configPath = filepath.Join(userConfigDir, "config.toml")
	}

	if err := config.SaveConfig(configPath, s.GetConfig()); err != nil {
		writeError(w, http.StatusInternalServerError, "could not save the configuration: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
		"path":   configPath,
	})
}

func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Status())
}

func (s *Server) handleStartService(w http.ResponseWriter, r *http.Request) {
	if s.svc.IsRunning() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "already_running"})
		return
	}

	if err := s.svc.Start(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not start the service: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleStopService(w http.ResponseWriter, r *http.Request) {
	if !s.svc.IsRunning() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "not_running"})
		return
	}

	if err := s.svc.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("could not stop the service: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	status := "stopped"
	if s.svc.IsRunning() {
		status = "running"
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Suspend(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, driver.ErrNoDevice) {
			code = http.StatusNotFound
		}
		writeError(w, code, fmt.Sprintf("suspend failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "suspended"})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Resume(); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, driver.ErrNoDevice) {
			code = http.StatusNotFound
		}
		writeError(w, code, fmt.Sprintf("resume failed: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
