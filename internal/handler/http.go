package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/broker"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/game"
	"github.com/chess-broker/internal/websocket"
)

// Runner executes functions on the event loop
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Leaderboard is the read side of the rating leaderboard
type Leaderboard interface {
	GetTopN(ctx context.Context, n int) ([]domain.LeaderboardEntry, error)
	GetPlayerRank(ctx context.Context, username string) (*domain.LeaderboardEntry, error)
	GetAroundPlayer(ctx context.Context, username string, count int) ([]domain.LeaderboardEntry, error)
	GetCount(ctx context.Context) (int64, error)
}

// Handler provides HTTP handlers for the broker API
type Handler struct {
	app         *broker.Application
	runner      Runner
	hub         *websocket.Hub
	leaderboard Leaderboard
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. leaderboard may be nil, in which
// case the leaderboard routes answer 503.
func NewHandler(app *broker.Application, runner Runner, hub *websocket.Hub, leaderboard Leaderboard, logger *zap.Logger) *Handler {
	return &Handler{
		app:         app,
		runner:      runner,
		hub:         hub,
		leaderboard: leaderboard,
		logger:      logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

var errLeaderboardDisabled = errors.New("leaderboard is not enabled")

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.hub.ServeWs)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/stats", h.GetStats)
		r.Get("/challenges", h.ListChallenges)
		r.Get("/games/{gameID}", h.GetGame)
		r.Get("/players/{username}", h.GetPlayer)

		r.Route("/leaderboard", func(r chi.Router) {
			r.Get("/top", h.GetTop)
			r.Get("/player/{username}", h.GetPlayerRank)
			r.Get("/around/{username}", h.GetAroundPlayer)
		})

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// requestLogger logs each request once it has been served
func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data any) {
	h.writeJSON(w, http.StatusOK, APIResponse{
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

// onLoop runs fn on the event loop, answering 503 if the loop is gone
func (h *Handler) onLoop(w http.ResponseWriter, r *http.Request, fn func()) bool {
	if err := h.runner.Do(r.Context(), fn); err != nil {
		h.logger.Warn("event loop unavailable", zap.Error(err))
		h.writeError(w, http.StatusServiceUnavailable, err)
		return false
	}
	return true
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the event loop answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if !h.onLoop(w, r, func() {}) {
		return
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// GetStats returns what the broker registry currently holds
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	var stats broker.Stats
	if !h.onLoop(w, r, func() { stats = h.app.Stats() }) {
		return
	}
	h.writeSuccess(w, stats)
}

// ListChallenges returns the open challenges
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	var data json.RawMessage
	var err error
	// challenges are loop-owned, so they are encoded on the loop
	if !h.onLoop(w, r, func() { data, err = json.Marshal(h.app.OpenChallenges()) }) {
		return
	}
	if err != nil {
		h.logger.Error("failed to encode challenges", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, data)
}

type gameLookup struct {
	details game.Details
	err     error
}

// GetGame returns a live or archived game
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "gameID")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	result := make(chan gameLookup, 1)
	ok := h.onLoop(w, r, func() {
		h.app.ArchivedGameDetails(id).Then(func(d game.Details) {
			result <- gameLookup{details: d}
		}, func(err error) {
			result <- gameLookup{err: err}
		}, nil)
	})
	if !ok {
		return
	}

	select {
	case lookup := <-result:
		if lookup.err != nil {
			if errors.Is(lookup.err, domain.ErrGameNotFound) {
				h.writeError(w, http.StatusNotFound, lookup.err)
				return
			}
			h.logger.Error("failed to get game", zap.String("game_id", id), zap.Error(lookup.err))
			h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
			return
		}
		h.writeSuccess(w, lookup.details)
	case <-r.Context().Done():
		h.writeError(w, http.StatusGatewayTimeout, r.Context().Err())
	}
}

// GetPlayer returns a registered player's public profile
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	profile, err := h.app.PublicProfile(r.Context(), username)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get player", zap.String("username", username), zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, profile)
}

// GetTop returns the highest rated players
func (h *Handler) GetTop(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errLeaderboardDisabled)
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}

	entries, err := h.leaderboard.GetTopN(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to get top", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	count, err := h.leaderboard.GetCount(r.Context())
	if err != nil {
		h.logger.Error("failed to get count", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]any{
		"entries": entries,
		"total":   count,
	})
}

// GetAroundPlayer returns players around a specific player's rank
func (h *Handler) GetAroundPlayer(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errLeaderboardDisabled)
		return
	}
	username := chi.URLParam(r, "username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	count := 0
	if rangeStr := r.URL.Query().Get("range"); rangeStr != "" {
		if c, err := strconv.Atoi(rangeStr); err == nil && c > 0 {
			count = c
		}
	}

	entries, err := h.leaderboard.GetAroundPlayer(r.Context(), username, count)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get around player", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, entries)
}

// GetPlayerRank returns a player's rank and rating
func (h *Handler) GetPlayerRank(w http.ResponseWriter, r *http.Request) {
	if h.leaderboard == nil {
		h.writeError(w, http.StatusServiceUnavailable, errLeaderboardDisabled)
		return
	}
	username := chi.URLParam(r, "username")
	if username == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	entry, err := h.leaderboard.GetPlayerRank(r.Context(), username)
	if err != nil {
		if errors.Is(err, domain.ErrPlayerNotFound) {
			h.writeError(w, http.StatusNotFound, err)
			return
		}
		h.logger.Error("failed to get player rank", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, entry)
}
