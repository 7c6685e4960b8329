package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kirillm/defairy-rebalancer/internal/domain"
	"github.com/kirillm/defairy-rebalancer/internal/execution"
	"github.com/kirillm/defairy-rebalancer/internal/orchestrator"
	"github.com/kirillm/defairy-rebalancer/internal/preferences"
	"github.com/kirillm/defairy-rebalancer/internal/queue"
	"github.com/kirillm/defairy-rebalancer/internal/wallet"
	"github.com/rs/zerolog"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// Engine операции движка, доступные через HTTP
type Engine interface {
	Configure(ctx context.Context, walletAddress string, raw preferences.RawPreferences) (*domain.UserPreferences, error)
	Preferences(ctx context.Context, walletAddress string) (*orchestrator.PreferencesView, error)
	RunCycle(ctx context.Context, walletAddress string) (*orchestrator.CycleReport, error)
	Alerts(walletAddress string) []queue.Alert
	Preview(ctx context.Context, walletAddress, key string) ([]execution.Preview, error)
	ExecuteOneClick(ctx context.Context, walletAddress, key string) (*execution.Report, error)
	ConfirmAndExecute(ctx context.Context, walletAddress, key string) (*execution.Report, error)
	Cancel(ctx context.Context, walletAddress, key string) error
	Snooze(walletAddress, key string, d time.Duration) (time.Time, error)
	Dismiss(walletAddress, key string) error
	EnablePool(ctx context.Context, walletAddress, poolID string) error
	History(ctx context.Context, walletAddress string, limit int) ([]domain.RebalanceResult, error)
	AuditLog(walletAddress string, limit int) []domain.AuditEvent
	KillSwitch() execution.KillSwitchStatus
	ActivateKillSwitch(ctx context.Context, reason string) execution.KillSwitchStatus
	DeactivateKillSwitch(ctx context.Context) execution.KillSwitchStatus
}

// Config настройки HTTP сервера
type Config struct {
	Port           int
	AllowedOrigins []string
}

// Server HTTP API дашборда
type Server struct {
	cfg    Config
	engine Engine
	hub    *Hub
	log    zerolog.Logger
	router *chi.Mux
	server *http.Server
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type SnoozeRequest struct {
	Minutes int `json:"minutes"`
}

type KillSwitchRequest struct {
	Reason string `json:"reason"`
}

// NewServer создает сервер и регистрирует маршруты
func NewServer(cfg Config, engine Engine, hub *Hub, log zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: engine,
		hub:    hub,
		log:    log.With().Str("component", "api").Logger(),
		router: chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler корневой http.Handler (для тестов)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.hub != nil {
		s.router.Get("/ws", s.hub.ServeWS)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/audit", s.handleAudit)

		r.Get("/killswitch", s.handleKillSwitchStatus)
		r.Post("/killswitch", s.handleKillSwitchActivate)
		r.Delete("/killswitch", s.handleKillSwitchDeactivate)

		r.Route("/wallets/{wallet}", func(r chi.Router) {
			r.Use(validateWallet)

			r.Get("/preferences", s.handleGetPreferences)
			r.Put("/preferences", s.handlePutPreferences)
			r.Post("/cycle", s.handleCycle)
			r.Get("/alerts", s.handleAlerts)
			r.Get("/history", s.handleHistory)
			r.Post("/pools/{pool}/enable", s.handleEnablePool)

			r.Route("/queue/{key}", func(r chi.Router) {
				r.Get("/preview", s.handlePreview)
				r.Post("/execute", s.handleExecute(false))
				r.Post("/confirm", s.handleExecute(true))
				r.Post("/cancel", s.handleCancel)
				r.Post("/snooze", s.handleSnooze)
				r.Post("/dismiss", s.handleDismiss)
			})
		})
	})
}

// Start запускает HTTP сервер (блокирует)
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("🌐 Starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown graceful остановка сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.hub != nil {
		s.hub.Close()
	}
	return s.server.Shutdown(ctx)
}

// validateWallet отклоняет запросы с некорректным адресом кошелька
func validateWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := wallet.ValidateAddress(chi.URLParam(r, "wallet")); err != nil {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth - health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"kill_switch": s.engine.KillSwitch().Active,
	}
	if s.hub != nil {
		health["ws_clients"] = s.hub.Clients()
	}
	sendSuccess(w, health)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Preferences(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, view)
}

func (s *Server) handlePutPreferences(w http.ResponseWriter, r *http.Request) {
	var raw preferences.RawPreferences
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	walletAddress := chi.URLParam(r, "wallet")
	if _, err := s.engine.Configure(r.Context(), walletAddress, raw); err != nil {
		s.sendDomainError(w, err)
		return
	}

	view, err := s.engine.Preferences(r.Context(), walletAddress)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, view)
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.RunCycle(r.Context(), chi.URLParam(r, "wallet"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, report)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := s.engine.Alerts(chi.URLParam(r, "wallet"))
	if alerts == nil {
		alerts = []queue.Alert{}
	}
	sendSuccess(w, alerts)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := clamp(getQueryParamInt(r, "limit", 20), 1, 100)
	results, err := s.engine.History(r.Context(), chi.URLParam(r, "wallet"), limit)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, results)
}

func (s *Server) handleEnablePool(w http.ResponseWriter, r *http.Request) {
	pool := chi.URLParam(r, "pool")
	if err := s.engine.EnablePool(r.Context(), chi.URLParam(r, "wallet"), pool); err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, map[string]interface{}{"pool_id": pool, "enabled": true})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	previews, err := s.engine.Preview(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "key"))
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, previews)
}

func (s *Server) handleExecute(confirmed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletAddress := chi.URLParam(r, "wallet")
		key := chi.URLParam(r, "key")

		var (
			report *execution.Report
			err    error
		)
		if confirmed {
			report, err = s.engine.ConfirmAndExecute(r.Context(), walletAddress, key)
		} else {
			report, err = s.engine.ExecuteOneClick(r.Context(), walletAddress, key)
		}
		if err != nil {
			s.sendDomainError(w, err)
			return
		}
		sendSuccess(w, report)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Cancel(r.Context(), chi.URLParam(r, "wallet"), chi.URLParam(r, "key")); err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, map[string]interface{}{"cancelled": true})
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	// пустое тело: длительность по умолчанию
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Minutes < 0 || req.Minutes > 24*60 {
		sendError(w, "minutes must be between 0 and 1440", http.StatusBadRequest)
		return
	}

	until, err := s.engine.Snooze(chi.URLParam(r, "wallet"), chi.URLParam(r, "key"), time.Duration(req.Minutes)*time.Minute)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, map[string]interface{}{"snoozed_until": until})
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Dismiss(chi.URLParam(r, "wallet"), chi.URLParam(r, "key")); err != nil {
		s.sendDomainError(w, err)
		return
	}
	sendSuccess(w, map[string]interface{}{"dismissed": true})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	walletAddress := getQueryParam(r, "wallet", "")
	if walletAddress != "" {
		if err := wallet.ValidateAddress(walletAddress); err != nil {
			sendError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	limit := clamp(getQueryParamInt(r, "limit", defaultAuditLimit), 1, maxAuditLimit)
	sendSuccess(w, s.engine.AuditLog(walletAddress, limit))
}

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, _ *http.Request) {
	sendSuccess(w, s.engine.KillSwitch())
}

func (s *Server) handleKillSwitchActivate(w http.ResponseWriter, r *http.Request) {
	var req KillSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual"
	}
	s.log.Warn().Str("reason", req.Reason).Msg("🚨 Kill switch activated via API")
	sendSuccess(w, s.engine.ActivateKillSwitch(r.Context(), req.Reason))
}

func (s *Server) handleKillSwitchDeactivate(w http.ResponseWriter, r *http.Request) {
	s.log.Info().Msg("✅ Kill switch deactivated via API")
	sendSuccess(w, s.engine.DeactivateKillSwitch(r.Context()))
}

// sendDomainError переводит доменные ошибки в HTTP статусы
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	sendError(w, err.Error(), status)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrInvalidWalletAddress):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAutoExecutable), errors.Is(err, domain.ErrQueueEntryBusy), errors.Is(err, domain.ErrSecurityRejected):
		return http.StatusConflict
	case errors.Is(err, domain.ErrKillSwitchActive), errors.Is(err, domain.ErrWalletNotConnected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Helper methods
func sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

// Helper function to parse query parameter
func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

// Helper function to parse int query parameter
func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
