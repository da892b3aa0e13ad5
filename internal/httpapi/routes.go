// Package httpapi is the REST surface: guest auth, room lifecycle, stats and
// the admin endpoints. Game rules live in internal/game; handlers translate
// between HTTP and the game sentinels.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/auth"
	"github.com/oleksandrpechak/DuoEng/internal/config"
	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/hub"
	"github.com/oleksandrpechak/DuoEng/internal/ratelimit"
	"github.com/oleksandrpechak/DuoEng/internal/ws"
	"github.com/oleksandrpechak/DuoEng/pkg/types"
)

type Server struct {
	svc    *game.Service
	tokens *auth.TokenService
	hub    *hub.Hub
	wsh    *ws.Handler
	log    *zap.Logger

	limiter        *ratelimit.Limiter
	requestsPerMin int
	adminNicknames map[string]bool
}

func NewServer(svc *game.Service, tokens *auth.TokenService, h *hub.Hub, wsh *ws.Handler, cfg *config.Config, log *zap.Logger) *Server {
	return &Server{
		svc:            svc,
		tokens:         tokens,
		hub:            h,
		wsh:            wsh,
		log:            log,
		limiter:        ratelimit.NewLimiter(),
		requestsPerMin: cfg.RequestsPerMin,
		adminNicknames: cfg.AdminNicknames,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit)
		r.Use(s.banGate)

		r.Post("/api/auth/guest", s.handleGuestAuth)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Post("/api/rooms", s.handleCreateRoom)
			r.Post("/api/rooms/{code}/join", s.handleJoinRoom)
			r.Get("/api/rooms/{code}/state", s.handleRoomState)
			r.Post("/api/rooms/{code}/submit", s.handleSubmit)
			// Older clients still post answers here.
			r.Post("/api/rooms/{code}/turn", s.handleSubmit)

			r.Get("/api/leaderboard", s.handleLeaderboard)
			r.Get("/api/players/{id}/stats", s.handlePlayerStats)
			r.Get("/api/dictionary/search", s.handleDictionarySearch)

			r.Group(func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Post("/api/admin/batch-seed", s.handleBatchSeed)
			})
		})

		r.Get("/ws/rooms/{code}", s.wsh.ServeRoom)
	})

	return r
}

// broadcastState pushes fresh per-viewer snapshots to every live socket in
// the room after an HTTP mutation.
func (s *Server) broadcastState(ctx context.Context, code string) {
	s.hub.BroadcastRoomState(ctx, code, func(ctx context.Context, roomCode, playerID string) (any, error) {
		state, err := s.svc.RoomStateFor(ctx, roomCode, playerID, "")
		if err != nil {
			return nil, err
		}
		return types.GameStateFrame{Type: types.FrameGameState, State: state}, nil
	})
}
