package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nipunasudha/monopoly-polymarket-agent/internal/observability"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/approvals"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/store"
	"github.com/rs/zerolog"
)

// Server exposes the agent's control surface: a JSON API for status
// and approval decisions, Prometheus metrics, and a websocket stream
// of live events for the dashboard.
type Server struct {
	host        string
	port        int
	server      *http.Server
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	hub         *hub.Hub
	approvals   *approvals.Manager
	store       *store.Store
	logger      zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
}

// Config holds server configuration
type Config struct {
	Host      string
	Port      int
	Hub       *hub.Hub
	Approvals *approvals.Manager
	Store     *store.Store
	Logger    zerolog.Logger
}

// NewServer creates a new gateway server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port <= 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.Approvals == nil {
		return nil, fmt.Errorf("approval manager is required")
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}

	clients := NewClientRegistry()

	s := &Server{
		host:        cfg.Host,
		port:        cfg.Port,
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, cfg.Logger),
		hub:         cfg.Hub,
		approvals:   cfg.Approvals,
		store:       cfg.Store,
		logger:      cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Dashboard is served from a different origin in dev
			},
		},
	}

	// Stream hub lifecycle to the dashboard.
	cfg.Hub.On("enqueued", func(event hub.Event) {
		s.broadcaster.Broadcast("task_enqueued", map[string]interface{}{
			"task_id": event.TaskID,
			"lane":    string(event.Lane),
		})
	})
	cfg.Hub.On("completed", func(event hub.Event) {
		s.broadcaster.Broadcast("task_completed", map[string]interface{}{
			"task_id":  event.TaskID,
			"lane":     string(event.Lane),
			"success":  event.Data["success"],
			"duration": event.Data["duration"],
		})
	})

	return s, nil
}

// Notifier returns an approvals notifier that broadcasts pending
// requests to the dashboard.
func (s *Server) Notifier() approvals.Notifier {
	return approvals.NotifierFunc(func(tradeID string, tradeData map[string]interface{}) error {
		s.broadcaster.Broadcast("approval_request", map[string]interface{}{
			"trade_id":   tradeID,
			"trade_data": tradeData,
		})
		return nil
	})
}

// Broadcaster exposes the event broadcaster for other producers.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Handler builds the HTTP routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("GET /metrics", observability.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/approvals", s.handlePendingApprovals)
	mux.HandleFunc("POST /api/approvals/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /api/approvals/{id}/reject", s.handleReject)
	mux.HandleFunc("GET /api/forecasts", s.handleForecasts)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	return mux
}

// Start begins serving. Non-blocking.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.host, s.port),
		Handler: s.Handler(),
	}

	s.logger.Info().Str("host", s.host).Int("port", s.port).Msg("Starting gateway server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()

	return nil
}

// Stop gracefully stops the server, closing client connections.
func (s *Server) Stop() error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway server")

	s.broadcaster.Broadcast("server_shutdown", map[string]interface{}{
		"message": "Server is shutting down",
	})

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway server stopped")
	return nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}
	s.shutdownMu.RUnlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:           clientID,
		Conn:         conn,
		ConnectedAt:  time.Now(),
		LastActivity: time.Now(),
		IPAddress:    r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Msg("Dashboard client connected")

	go s.readLoop(client)
}

// readLoop drains inbound frames so pings and close frames are
// handled; the stream is otherwise one-directional.
func (s *Server) readLoop(client *Client) {
	defer func() {
		client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Dashboard client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Error().Err(err).Str("clientId", client.ID).Msg("WebSocket error")
			}
			return
		}
		s.clients.UpdateActivity(client.ID)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hub":       s.hub.GetStatus(),
		"approvals": s.approvals.GetStats(),
		"clients":   s.clients.Count(),
	})
}

func (s *Server) handlePendingApprovals(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending": s.approvals.GetPending(),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	tradeID := r.PathValue("id")
	if !s.approvals.Approve(tradeID) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"ok":    false,
			"error": "trade not found or already processed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "trade_id": tradeID})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	tradeID := r.PathValue("id")
	if !s.approvals.Reject(tradeID) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"ok":    false,
			"error": "trade not found or already processed",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "trade_id": tradeID})
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not configured"})
		return
	}

	forecasts, err := s.store.RecentForecasts(r.Context(), queryLimit(r, 10))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query forecasts")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"forecasts": forecasts})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not configured"})
		return
	}

	trades, err := s.store.RecentTrades(r.Context(), queryLimit(r, 10))
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query trades")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trades": trades})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store not configured"})
		return
	}

	snap, err := s.store.LatestPortfolioSnapshot(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to query portfolio")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"portfolio": snap})
}

func queryLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return fallback
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
