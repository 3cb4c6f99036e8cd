// Package api exposes the dispatcher over HTTP: inbound conversation events, externally
// produced risk reports, and outbound messages by websocket or polling.
package api

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/defiguard/internal/dispatcher"
	"github.com/defiguard/internal/logging"
	"github.com/defiguard/internal/models"
	"github.com/defiguard/internal/storage"
	"github.com/defiguard/internal/worker"
)

// EventHandler is the part of the dispatcher the server drives
type EventHandler interface {
	Handle(ctx context.Context, ev dispatcher.Event) error
	DeliverAlert(ctx context.Context, report *models.RiskReport) (bool, error)
}

// WorkerStatus reports scheduler state for /status
type WorkerStatus interface {
	GetStatus() worker.ScanWorkerStatus
}

// Deps are the collaborators behind the routes. Worker may be nil.
type Deps struct {
	Dispatcher    EventHandler
	Hub           *Hub
	Portfolios    *storage.PortfolioRepository
	Alerts        *storage.AlertRepository
	Sessions      *storage.SessionRepository
	Worker        WorkerStatus
	KnowledgeMode string
	StorageMode   string
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	deps       Deps
	limiter    *RateLimiter
	upgrader   websocket.Upgrader
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	EventsPerSecond float64 // sustained inbound events per sender
	EventBurst      int
}

// Event types accepted on /v1/events
const (
	EventStart = "start"
	EventText  = "text"
	EventEnd   = "end"
)

// EventRequest is an inbound conversation event
type EventRequest struct {
	Type   string `json:"type"`
	Sender string `json:"sender"`
	Text   string `json:"text,omitempty"`
}

// EventResponse acknowledges an accepted event
type EventResponse struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

// ReportResponse says what happened to a submitted report
type ReportResponse struct {
	Stored    bool `json:"stored"`
	Delivered bool `json:"delivered"`
}

// StatusResponse is the system overview served on /status
type StatusResponse struct {
	Sessions      int                      `json:"active_sessions"`
	Portfolios    int                      `json:"portfolios"`
	Alerts        int                      `json:"alerts"`
	Connections   int                      `json:"websocket_connections"`
	KnowledgeMode string                   `json:"knowledge_mode"`
	StorageMode   string                   `json:"storage_mode"`
	Worker        *worker.ScanWorkerStatus `json:"worker,omitempty"`
	Time          time.Time                `json:"time"`
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, deps Deps) (*Server, error) {
	if deps.Dispatcher == nil || deps.Hub == nil {
		return nil, fmt.Errorf("dispatcher and hub are required")
	}
	if deps.Portfolios == nil || deps.Alerts == nil || deps.Sessions == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if config.EventsPerSecond <= 0 {
		config.EventsPerSecond = 5
	}
	if config.EventBurst <= 0 {
		config.EventBurst = 10
	}

	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		limiter: NewRateLimiter(config.EventsPerSecond, config.EventBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		config: config,
	}
	s.setupRouter()
	return s, nil
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)
	v1.HandleFunc("/reports", s.handleReport).Methods(http.MethodPost)
	v1.HandleFunc("/messages/{sender}", s.handleMessages).Methods(http.MethodGet)
	v1.HandleFunc("/ws/{sender}", s.handleWebsocket).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// Handler returns the routed handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "defiguard",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessions, err := s.deps.Sessions.List(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	users, err := s.deps.Portfolios.ListUserIDs(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	alerts, err := s.deps.Alerts.Count(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	resp := StatusResponse{
		Sessions:      len(sessions),
		Portfolios:    len(users),
		Alerts:        alerts,
		Connections:   s.deps.Hub.Connections(),
		KnowledgeMode: s.deps.KnowledgeMode,
		StorageMode:   s.deps.StorageMode,
		Time:          time.Now().UTC(),
	}
	if s.deps.Worker != nil {
		ws := s.deps.Worker.GetStatus()
		resp.Worker = &ws
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	req.Sender = strings.TrimSpace(req.Sender)
	if req.Sender == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "sender is required", nil)
		return
	}

	var ev dispatcher.Event
	switch req.Type {
	case EventStart:
		ev = dispatcher.StartSession{Sender: req.Sender}
	case EventEnd:
		ev = dispatcher.EndSession{Sender: req.Sender}
	case EventText:
		if strings.TrimSpace(req.Text) == "" {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "text is required for text events", nil)
			return
		}
		ev = dispatcher.Text{Sender: req.Sender, Body: req.Text}
	default:
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "type must be one of start, text, end", map[string]interface{}{
			"type": req.Type,
		})
		return
	}

	if !s.limiter.Allow(req.Sender) {
		respondError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "Rate limit exceeded. Please try again later.", map[string]interface{}{
			"sender": req.Sender,
		})
		return
	}

	eventID := uuid.New().String()
	ctx := logging.WithLogger(r.Context(), logging.WithFields(map[string]interface{}{
		"eventId": eventID,
		"sender":  req.Sender,
		"type":    req.Type,
	}))
	if err := s.deps.Dispatcher.Handle(ctx, ev); err != nil {
		logging.FromContext(ctx).WithError(err).Error("Event handling failed")
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, EventResponse{EventID: eventID, Status: "accepted"})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var report models.RiskReport
	if err := parseJSONBody(r, &report); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if problems := validateReport(&report); len(problems) > 0 {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid risk report", map[string]interface{}{
			"problems": problems,
		})
		return
	}
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now().UTC()
	}

	delivered, err := s.deps.Dispatcher.DeliverAlert(r.Context(), &report)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ReportResponse{Stored: report.ShouldAlert, Delivered: delivered})
}

func validateReport(r *models.RiskReport) []string {
	var problems []string
	if strings.TrimSpace(r.UserID) == "" {
		problems = append(problems, "user_id is required")
	}
	if !r.Level.IsValid() {
		problems = append(problems, fmt.Sprintf("unknown risk_level %q", r.Level))
	}
	if math.IsNaN(r.Score) || r.Score < 0 || r.Score > 1 {
		problems = append(problems, "risk_score must be within [0, 1]")
	}
	return problems
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	msgs := s.deps.Hub.Messages(sender)
	if msgs == nil {
		msgs = []models.OutboundMessage{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sender":   sender,
		"messages": msgs,
	})
}

// handleWebsocket streams every message addressed to sender until the client goes away
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sender := mux.Vars(r)["sender"]
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	c := s.deps.Hub.addClient(sender, conn)
	defer s.deps.Hub.removeClient(sender, c)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
