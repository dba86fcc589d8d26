package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeStatus exposes /healthz, /clients and /metrics on addr. It
// blocks until the server shuts down.
func (s *Server) ServeStatus(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.statusMux()}
	s.trackHTTPServer(srv)
	s.logger.Info().Str("addr", addr).Msg("status endpoint listening")

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) statusMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.HandleFunc("/clients", s.clientsHandler)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":             "healthy",
		"uptime_seconds":     int64(time.Since(s.startTime).Seconds()),
		"connected_clients":  s.registry.Len(),
		"configured_screens": s.topology.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Debug().Err(err).Msg("failed to encode health response")
	}
}

func (s *Server) clientsHandler(w http.ResponseWriter, r *http.Request) {
	type clientStatus struct {
		Name   string `json:"name"`
		State  string `json:"state"`
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
	}

	sessions := s.registry.Sessions()
	clients := make([]clientStatus, 0, len(sessions))
	for _, sess := range sessions {
		info := sess.Info()
		clients = append(clients, clientStatus{
			Name:   sess.Name(),
			State:  sess.State().String(),
			Width:  info.Width,
			Height: info.Height,
		})
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	response := map[string]interface{}{
		"clients": clients,
		"count":   len(clients),
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Debug().Err(err).Msg("failed to encode clients response")
	}
}
