package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sales-arena/internal/config"
	"github.com/sales-arena/internal/domain"
	"github.com/sales-arena/internal/service"
	"github.com/sales-arena/internal/websocket"
)

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides HTTP handlers for the sales API
type Handler struct {
	sales   *service.SalesService
	admin   *service.AdminService
	hub     *websocket.Hub
	metrics http.Handler
	limiter *ipRateLimiter
	checks  map[string]Pinger
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub and metrics may be nil.
func NewHandler(
	sales *service.SalesService,
	admin *service.AdminService,
	hub *websocket.Hub,
	metrics http.Handler,
	rateLimit *config.RateLimitConfig,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sales:   sales,
		admin:   admin,
		hub:     hub,
		metrics: metrics,
		limiter: newIPRateLimiter(rateLimit),
		checks:  make(map[string]Pinger),
		logger:  logger,
	}
}

// AddReadinessCheck registers a dependency reported by /ready
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}

	// WebSocket endpoint
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sales", func(r chi.Router) {
			r.With(h.limiter.middleware(h)).Post("/", h.SubmitSale)
			r.Get("/", h.ListSales)
			r.Delete("/{saleID}", h.DeleteSale)
		})

		r.Route("/attendants", func(r chi.Router) {
			r.Post("/", h.CreateAttendant)
			r.Get("/", h.ListAttendants)
			r.Get("/{attendantID}", h.GetAttendant)
			r.Delete("/{attendantID}", h.DeleteAttendant)
		})

		r.Route("/goals", func(r chi.Router) {
			r.Post("/", h.CreateGoal)
			r.Get("/", h.ListGoals)
			r.Post("/{goalID}/deactivate", h.DeactivateGoal)
		})

		r.Get("/achievements", h.ListAchievements)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/events", h.ListEvents)

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (h *Handler) writeCreated(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps a service error to its status code. Unclassified
// errors are logged and reported with the generic internal error.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrAttendantHasSales):
		h.writeError(w, http.StatusConflict, domain.ErrAttendantHasSales)
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, rootError(err))
	case domain.IsValidationError(err):
		h.writeError(w, http.StatusBadRequest, rootError(err))
	case domain.IsConflictError(err):
		h.writeError(w, http.StatusConflict, domain.ErrConflict)
	default:
		h.logger.Error(op+" failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// rootError strips wrapping context so storage details never reach clients
func rootError(err error) error {
	for _, sentinel := range []error{
		domain.ErrAttendantNotFound,
		domain.ErrSaleNotFound,
		domain.ErrGoalNotFound,
		domain.ErrInvalidSaleValue,
		domain.ErrInvalidClientInfo,
		domain.ErrInvalidGoal,
		domain.ErrInvalidAttendant,
		domain.ErrInvalidRequest,
		domain.ErrNegativeEarnings,
		domain.ErrEarningsLimit,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return domain.ErrInvalidRequest
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 0
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections":       h.hub.TotalConnections(),
		"leaderboard_subscribers": h.hub.SubscriberCount(websocket.TopicLeaderboard),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck pings every registered dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks)+1)
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		status["status"] = "not_ready"
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, status)
}

// SubmitSale runs one sale through the ingestion pipeline
func (h *Handler) SubmitSale(w http.ResponseWriter, r *http.Request) {
	var submission domain.SaleSubmission
	if !h.decode(w, r, &submission) {
		return
	}

	out, err := h.sales.Process(r.Context(), submission)
	if err != nil {
		h.writeServiceError(w, r, "submit sale", err)
		return
	}

	h.writeCreated(w, out)
}

// ListSales returns recent sales, optionally for one attendant
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	sales, err := h.admin.ListSales(r.Context(), r.URL.Query().Get("attendant_id"), queryInt(r, "limit"))
	if err != nil {
		h.writeServiceError(w, r, "list sales", err)
		return
	}
	h.writeSuccess(w, sales)
}

// DeleteSale removes a sale and reverses its earnings
func (h *Handler) DeleteSale(w http.ResponseWriter, r *http.Request) {
	saleID := chi.URLParam(r, "saleID")
	if saleID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sale, err := h.sales.DeleteSale(r.Context(), saleID)
	if err != nil {
		h.writeServiceError(w, r, "delete sale", err)
		return
	}

	h.writeSuccess(w, sale)
}

// CreateAttendant registers an attendant
func (h *Handler) CreateAttendant(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAttendantRequest
	if !h.decode(w, r, &req) {
		return
	}

	a, err := h.admin.CreateAttendant(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create attendant", err)
		return
	}

	h.writeCreated(w, a)
}

// ListAttendants returns all attendants
func (h *Handler) ListAttendants(w http.ResponseWriter, r *http.Request) {
	attendants, err := h.admin.ListAttendants(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list attendants", err)
		return
	}
	h.writeSuccess(w, attendants)
}

// GetAttendant returns an attendant by ID
func (h *Handler) GetAttendant(w http.ResponseWriter, r *http.Request) {
	a, err := h.admin.GetAttendant(r.Context(), chi.URLParam(r, "attendantID"))
	if err != nil {
		h.writeServiceError(w, r, "get attendant", err)
		return
	}
	h.writeSuccess(w, a)
}

// DeleteAttendant removes an attendant without sales
func (h *Handler) DeleteAttendant(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeleteAttendant(r.Context(), chi.URLParam(r, "attendantID")); err != nil {
		h.writeServiceError(w, r, "delete attendant", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// CreateGoal creates a goal for an attendant
func (h *Handler) CreateGoal(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}

	g, err := h.admin.CreateGoal(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, "create goal", err)
		return
	}

	h.writeCreated(w, g)
}

// ListGoals returns goals with progress, optionally for one attendant
func (h *Handler) ListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := h.admin.ListGoals(r.Context(), r.URL.Query().Get("attendant_id"))
	if err != nil {
		h.writeServiceError(w, r, "list goals", err)
		return
	}
	h.writeSuccess(w, goals)
}

// DeactivateGoal stops tracking a goal
func (h *Handler) DeactivateGoal(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.DeactivateGoal(r.Context(), chi.URLParam(r, "goalID")); err != nil {
		h.writeServiceError(w, r, "deactivate goal", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "deactivated"})
}

// ListAchievements returns unlocked achievements, newest first
func (h *Handler) ListAchievements(w http.ResponseWriter, r *http.Request) {
	achievements, err := h.admin.ListAchievements(r.Context(), r.URL.Query().Get("attendant_id"), queryInt(r, "limit"))
	if err != nil {
		h.writeServiceError(w, r, "list achievements", err)
		return
	}
	h.writeSuccess(w, achievements)
}

// GetLeaderboard returns the top ranked attendants
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admin.Leaderboard(r.Context(), queryInt(r, "limit"))
	if err != nil {
		h.writeServiceError(w, r, "get leaderboard", err)
		return
	}
	h.writeSuccess(w, entries)
}

// ListEvents is the polling feed over committed pipeline events
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		after = n
	}

	events, err := h.admin.Events(r.Context(), after, queryInt(r, "limit"))
	if err != nil {
		h.writeServiceError(w, r, "list events", err)
		return
	}

	next := after
	if len(events) > 0 {
		next = events[len(events)-1].ID
	}
	h.writeSuccess(w, map[string]interface{}{
		"events":     events,
		"next_after": next,
	})
}
