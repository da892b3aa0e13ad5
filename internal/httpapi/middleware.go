package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/auth"
	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/metrics"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

type ctxKey int

const identityKey ctxKey = iota

func identityFrom(ctx context.Context) (auth.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(auth.Identity)
	return ident, ok
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// statusRecorder lets the metrics middleware see the final status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)))
	})
}

// rateLimit applies the global per-IP request budget.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.Allow("http:"+ip, s.requestsPerMin, time.Minute) {
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// banGate rejects requests from banned IPs before any handler runs. Banned
// players are handled inside the game core where the player id is known.
func (s *Server) banGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.svc.IsBanned(r.Context(), store.EntityIP, clientIP(r)) {
			writeError(w, http.StatusForbidden, "banned", "access temporarily suspended")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer token and guarantees the player row still
// exists, so a wiped database does not leave ghosts holding valid tokens.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r.Header.Get("Authorization"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		ident, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
			return
		}
		if err := s.svc.EnsurePlayer(r.Context(), ident.PlayerID); err != nil {
			if errors.Is(err, game.ErrPlayerNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unknown player")
				return
			}
			s.log.Error("player lookup failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, ident)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident, ok := identityFrom(r.Context())
		if !ok || !ident.IsAdmin {
			writeError(w, http.StatusForbidden, "forbidden", "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
