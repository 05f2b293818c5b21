package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go.sazak.io/monotick/cmd/monotick/storage"
)

// Config represents the timeline configuration for the web UI
type Config struct {
	MicrosecondsPerPixel float64           `json:"microseconds_per_pixel"`
	WorkerColors         map[string]string `json:"worker_colors"`
}

// Metrics represents the real-time sampling statistics
type Metrics struct {
	SPS float64 `json:"sps"` // Samples taken per second
	PPS float64 `json:"pps"` // Samples processed per second
	SWP int64   `json:"swp"` // Samples waiting processing
	LAT float64 `json:"lat"` // Average clock call latency in nanoseconds
	RES float64 `json:"res"` // Smallest nonzero delta seen, in microseconds
	BWD int64   `json:"bwd"` // Backward steps observed so far
	ZRO int64   `json:"zro"` // Unavailable (zero) reads so far
}

// Server is the HTTP API server
type Server struct {
	manager    *storage.Manager
	config     *Config
	configMu   sync.RWMutex
	hub        *Hub
	httpServer *http.Server
	metrics    *Metrics
	metricsMu  sync.RWMutex
	registry   *prometheus.Registry
	collectors *Collectors
}

// NewServer creates a new API server
func NewServer(manager *storage.Manager, port int, quantiles []float64) *Server {
	registry := prometheus.NewRegistry()

	server := &Server{
		manager: manager,
		metrics: &Metrics{},
		config: &Config{
			MicrosecondsPerPixel: 1000.0, // 1ms per pixel by default
			WorkerColors: map[string]string{
				"0": "#22c55e",
				"1": "#3b82f6",
				"2": "#eab308",
				"3": "#f97316",
				"4": "#ef4444",
				"5": "#a855f7",
				"6": "#64748b",
				"7": "#ec4899",
			},
		},
		hub:        NewHub(),
		registry:   registry,
		collectors: NewCollectors(registry, quantiles),
	}

	r := mux.NewRouter()

	// API endpoints
	r.HandleFunc("/api/sessions", server.listSessions).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}", server.getSession).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/samples", server.getSamples).Methods(http.MethodGet)
	r.HandleFunc("/api/sessions/{id}/workers", server.getWorkers).Methods(http.MethodGet)
	r.HandleFunc("/api/config", server.handleConfig).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/api/metrics", server.handleMetrics).Methods(http.MethodGet)

	// Prometheus exposition
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// WebSocket endpoint
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		ServeWs(server.hub, w, req)
	})

	// CORS middleware
	handler := corsMiddleware(r)

	server.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	return server
}

// Start starts the API server
func (s *Server) Start() error {
	// Start the WebSocket hub
	go s.hub.Run()

	log.Printf("API server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Stop stops the API server
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ObserveBatch feeds a batch of samples into the Prometheus collectors and
// broadcasts it to all connected WebSocket clients.
func (s *Server) ObserveBatch(samples []*storage.Sample) {
	for _, sample := range samples {
		s.collectors.Observe(sample)
	}

	// Send as an array for efficient client processing
	data, err := json.Marshal(map[string]interface{}{
		"type":    "batch",
		"samples": samples,
	})
	if err != nil {
		log.Printf("Failed to marshal sample batch: %v", err)
		return
	}

	s.hub.Broadcast(data)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.manager.ListSessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := s.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session)
}

func (s *Server) getSamples(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	store, err := s.manager.OpenSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer store.Close()

	// Parse query parameters
	filter := &storage.SampleFilter{}

	if workerStr := r.URL.Query().Get("worker"); workerStr != "" {
		if worker, err := strconv.ParseUint(workerStr, 10, 32); err == nil {
			w32 := uint32(worker)
			filter.Worker = &w32
		}
	}

	if startTimeStr := r.URL.Query().Get("start_time"); startTimeStr != "" {
		if st, err := strconv.ParseUint(startTimeStr, 10, 64); err == nil {
			filter.StartTime = &st
		}
	}

	if endTimeStr := r.URL.Query().Get("end_time"); endTimeStr != "" {
		if et, err := strconv.ParseUint(endTimeStr, 10, 64); err == nil {
			filter.EndTime = &et
		}
	}

	if minDeltaStr := r.URL.Query().Get("min_delta"); minDeltaStr != "" {
		if md, err := strconv.ParseUint(minDeltaStr, 10, 64); err == nil {
			filter.MinDelta = &md
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	samples, err := store.ReadSamples(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(samples)
}

func (s *Server) getWorkers(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	store, err := s.manager.OpenSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer store.Close()

	workers, err := store.GetWorkers(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(workers)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.configMu.RLock()
		config := s.config
		s.configMu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(config)

	case http.MethodPost:
		var config Config
		if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		s.configMu.Lock()
		s.config = &config
		s.configMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(config)
	}
}

// UpdateMetrics updates the server's metrics snapshot
func (s *Server) UpdateMetrics(metrics *Metrics) {
	s.metricsMu.Lock()
	s.metrics = metrics
	s.metricsMu.Unlock()
}

// handleMetrics handles the /api/metrics endpoint
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metricsMu.RLock()
	metrics := s.metrics
	s.metricsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(metrics)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
