// Package api exposes the adaptive loop over REST and WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/atlas-desktop/adaptive-backend/internal/data"
	"github.com/atlas-desktop/adaptive-backend/internal/params"
	"github.com/atlas-desktop/adaptive-backend/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// LoopReader is the read side of the control loop served by the API
type LoopReader interface {
	Symbols() []string
	Bindings() []types.SymbolBinding
	Snapshot(symbol string) (types.MarketConditionSnapshot, bool)
	RecentEvents(n int) []types.MarketEvent
	ActiveAdjustments(symbol string) []types.DynamicAdjustment
	RetiredAdjustments(symbol string) []types.DynamicAdjustment
	EffectiveParameters(ctx context.Context, strategyID string) (types.ParameterSet, error)
	HasStrategy(strategyID string) bool
	Staleness(now time.Time) []data.SymbolStatus
	IsRunning() bool
}

// AppliedReader reports what was last pushed to the parameter store
type AppliedReader interface {
	Effective(strategyID string) (params.Applied, bool)
}

// Server represents the API server
type Server struct {
	logger     *zap.Logger
	config     types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	upgrader   websocket.Upgrader
	hub        *Hub
	loop       LoopReader
	applied    AppliedReader
	gatherer   prometheus.Gatherer
	started    time.Time

	mu sync.Mutex
}

// NewServer creates a new API server. applied and gatherer may be nil.
func NewServer(
	logger *zap.Logger,
	config types.ServerConfig,
	loop LoopReader,
	hub *Hub,
	applied AppliedReader,
	gatherer prometheus.Gatherer,
) *Server {
	if config.WebSocketPath == "" {
		config.WebSocketPath = "/ws"
	}

	s := &Server{
		logger:   logger,
		config:   config,
		router:   mux.NewRouter(),
		hub:      hub,
		loop:     loop,
		applied:  applied,
		gatherer: gatherer,
		started:  time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/symbols", s.handleSymbols).Methods("GET")
	// Symbols contain a slash ("SOL/USDT"), so the variable spans segments.
	api.HandleFunc("/symbols/{symbol:.+}/adjustments", s.handleAdjustments).Methods("GET")
	api.HandleFunc("/symbols/{symbol:.+}/events", s.handleSymbolEvents).Methods("GET")
	api.HandleFunc("/symbols/{symbol:.+}", s.handleSymbol).Methods("GET")

	api.HandleFunc("/events", s.handleEvents).Methods("GET")

	api.HandleFunc("/strategies", s.handleStrategies).Methods("GET")
	api.HandleFunc("/strategies/{id:.+}/parameters", s.handleParameters).Methods("GET")

	api.HandleFunc("/staleness", s.handleStaleness).Methods("GET")

	if s.config.EnableMetrics && s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	if s.hub != nil {
		s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
	}
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.mu.Lock()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stale := 0
	for _, st := range s.loop.Staleness(time.Now()) {
		if st.Stale {
			stale++
		}
	}

	status := "healthy"
	if !s.loop.IsRunning() || stale > 0 {
		status = "degraded"
	}

	clients := 0
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"running":      s.loop.IsRunning(),
		"staleSymbols": stale,
		"clients":      clients,
		"uptime":       time.Since(s.started).Round(time.Second).String(),
		"timestamp":    time.Now().Unix(),
	})
}

// SymbolView summarizes one bound symbol
type SymbolView struct {
	Symbol            string                         `json:"symbol"`
	StrategyID        string                         `json:"strategyId"`
	Snapshot          *types.MarketConditionSnapshot `json:"snapshot,omitempty"`
	ActiveAdjustments int                            `json:"activeAdjustments"`
}

func (s *Server) symbolView(b types.SymbolBinding) SymbolView {
	view := SymbolView{
		Symbol:            b.Symbol,
		StrategyID:        b.StrategyID,
		ActiveAdjustments: len(s.loop.ActiveAdjustments(b.Symbol)),
	}
	if snap, ok := s.loop.Snapshot(b.Symbol); ok {
		view.Snapshot = &snap
	}
	return view
}

func (s *Server) binding(symbol string) (types.SymbolBinding, bool) {
	for _, b := range s.loop.Bindings() {
		if b.Symbol == symbol {
			return b, true
		}
	}
	return types.SymbolBinding{}, false
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	bindings := s.loop.Bindings()
	views := make([]SymbolView, 0, len(bindings))
	for _, b := range bindings {
		views = append(views, s.symbolView(b))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	b, ok := s.binding(mux.Vars(r)["symbol"])
	if !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}
	writeJSON(w, http.StatusOK, s.symbolView(b))
}

func (s *Server) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if _, ok := s.binding(symbol); !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}

	var adjustments []types.DynamicAdjustment
	switch state := r.URL.Query().Get("state"); state {
	case "", "active":
		adjustments = s.loop.ActiveAdjustments(symbol)
	case "retired":
		adjustments = s.loop.RetiredAdjustments(symbol)
	default:
		writeError(w, http.StatusBadRequest, "state must be active or retired")
		return
	}
	if adjustments == nil {
		adjustments = []types.DynamicAdjustment{}
	}
	writeJSON(w, http.StatusOK, adjustments)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.events("", limit))
}

func (s *Server) handleSymbolEvents(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if _, ok := s.binding(symbol); !ok {
		writeError(w, http.StatusNotFound, "unknown symbol")
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.events(symbol, limit))
}

// events returns up to limit recent events, optionally for one symbol
func (s *Server) events(symbol string, limit int) []types.MarketEvent {
	if symbol == "" {
		out := s.loop.RecentEvents(limit)
		if out == nil {
			out = []types.MarketEvent{}
		}
		return out
	}

	all := s.loop.RecentEvents(0)
	out := []types.MarketEvent{}
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		if all[i].Symbol == symbol {
			out = append(out, all[i])
		}
	}
	// back to oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (s *Server) handleStrategies(w http.ResponseWriter, r *http.Request) {
	symbols := make(map[string][]string)
	var order []string
	for _, b := range s.loop.Bindings() {
		if _, ok := symbols[b.StrategyID]; !ok {
			order = append(order, b.StrategyID)
		}
		symbols[b.StrategyID] = append(symbols[b.StrategyID], b.Symbol)
	}

	out := make([]map[string]interface{}, 0, len(order))
	for _, id := range order {
		out = append(out, map[string]interface{}{
			"strategyId": id,
			"symbols":    symbols[id],
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.loop.HasStrategy(id) {
		writeError(w, http.StatusNotFound, "unknown strategy")
		return
	}

	set, err := s.loop.EffectiveParameters(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, params.ErrNoBaseline) {
			status = http.StatusNotFound
		}
		writeError(w, status, err.Error())
		return
	}

	resp := map[string]interface{}{
		"strategyId": id,
		"effective":  set,
	}
	if s.applied != nil {
		if applied, ok := s.applied.Effective(id); ok {
			resp["version"] = applied.Version
			resp["appliedAt"] = applied.AppliedAt
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.loop.Staleness(time.Now()))
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client, err := s.hub.Register(conn)
	if err != nil {
		s.logger.Warn("Rejecting websocket client", zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
