// Package ws serves the live room socket. Auth happens before the upgrade
// so a rejected client gets a plain HTTP status, not a half-open socket.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/auth"
	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/hub"
	"github.com/oleksandrpechak/DuoEng/pkg/types"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

type Handler struct {
	svc    *game.Service
	tokens *auth.TokenService
	hub    *hub.Hub
	log    *zap.Logger
}

func NewHandler(svc *game.Service, tokens *auth.TokenService, h *hub.Hub, log *zap.Logger) *Handler {
	return &Handler{svc: svc, tokens: tokens, hub: h, log: log}
}

// wsConn adapts *websocket.Conn to the hub's Conn interface with a bounded
// write deadline.
type wsConn struct {
	c *websocket.Conn
}

func (w wsConn) Send(ctx context.Context, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, w.c, payload)
}

// token finds the bearer token in the query string, the Authorization
// header, or a "jwt, <token>" subprotocol list. Browsers cannot set headers
// during the upgrade, so ?token= and the subprotocol trick are the common
// paths.
func token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	if t, err := auth.BearerToken(r.Header.Get("Authorization")); err == nil {
		return t
	}
	protos := strings.Split(r.Header.Get("Sec-WebSocket-Protocol"), ",")
	if len(protos) >= 2 && strings.TrimSpace(protos[0]) == "jwt" {
		return strings.TrimSpace(protos[1])
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) ServeRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	ip := clientIP(r)

	ident, err := h.tokens.Verify(token(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	// Membership gate before the upgrade. RoomStateFor also settles an
	// expired turn, so a reconnecting client sees fresh state immediately.
	state, err := h.svc.RoomStateFor(r.Context(), code, ident.PlayerID, ip)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrRoomNotFound):
			http.Error(w, "room not found", http.StatusNotFound)
		case errors.Is(err, game.ErrNotMember), errors.Is(err, game.ErrBanned):
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			h.log.Error("room state before upgrade", zap.Error(err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"jwt"},
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	wc := wsConn{c: conn}
	h.hub.Connect(state.RoomCode, ident.PlayerID, wc)
	defer h.hub.Disconnect(state.RoomCode, ident.PlayerID, wc)

	h.log.Info("ws connected",
		zap.String("room_code", state.RoomCode),
		zap.String("player_id", ident.PlayerID))

	_ = wc.Send(r.Context(), types.ConnectedFrame{
		Type:     types.FrameConnected,
		RoomCode: state.RoomCode,
		PlayerID: ident.PlayerID,
	})
	_ = wc.Send(r.Context(), types.GameStateFrame{Type: types.FrameGameState, State: state})

	// Joining while the opponent is already watching: push them the fresh
	// snapshot too.
	h.broadcastState(r.Context(), state.RoomCode)

	// Protocol pings keep idle connections alive without touching the turn
	// timer; a failed ping means the peer is gone and Read unblocks.
	pingCtx, cancelPing := context.WithCancel(r.Context())
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(pingCtx, writeTimeout)
				err := conn.Ping(ctx)
				cancel()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var frame types.ClientFrame
		if err := wsjson.Read(r.Context(), conn, &frame); err != nil {
			return
		}

		if !h.svc.WSMessageAllowed(state.RoomCode, ident.PlayerID) {
			_ = wc.Send(r.Context(), types.NewError("rate_limited", "too many messages"))
			continue
		}

		h.handleFrame(r.Context(), wc, ident, state.RoomCode, ip, frame)
	}
}

func (h *Handler) handleFrame(ctx context.Context, wc wsConn, ident auth.Identity, code, ip string, frame types.ClientFrame) {
	switch frame.Type {
	case types.FramePing:
		_ = wc.Send(ctx, types.PongFrame{Type: types.FramePong})

	case types.FrameGetState:
		state, err := h.svc.RoomStateFor(ctx, code, ident.PlayerID, ip)
		if err != nil {
			_ = wc.Send(ctx, types.NewError("state_failed", err.Error()))
			return
		}
		_ = wc.Send(ctx, types.GameStateFrame{Type: types.FrameGameState, State: state})

	case types.FrameSubmitAnswer:
		res, err := h.svc.SubmitAnswer(ctx, code, ident.PlayerID, frame.Answer, ip)
		if err != nil {
			_ = wc.Send(ctx, types.NewError(errorCode(err), err.Error()))
			// The turn may have been settled by a timeout during this
			// submit; resync everyone.
			h.broadcastState(ctx, code)
			return
		}

		_ = wc.Send(ctx, types.SubmitAckFrame{
			Type:          types.FrameSubmitAck,
			TurnNumber:    res.TurnNumber,
			Points:        res.Points,
			ScoringSource: res.ScoringSource,
			Feedback:      res.Feedback,
			CorrectAnswer: res.CorrectAnswer,
			GameOver:      res.GameOver,
			WinnerID:      res.WinnerID,
		})
		h.broadcastState(ctx, code)

		if res.GameOver {
			if entries, err := h.svc.Leaderboard(ctx, 10); err == nil {
				h.hub.Broadcast(ctx, code, types.LeaderboardFrame{
					Type:    types.FrameLeaderboard,
					Entries: entries,
				})
			}
		}

	default:
		_ = wc.Send(ctx, types.NewError("unknown_type", "unknown frame type"))
	}
}

func (h *Handler) broadcastState(ctx context.Context, code string) {
	h.hub.BroadcastRoomState(ctx, code, func(ctx context.Context, roomCode, playerID string) (any, error) {
		state, err := h.svc.RoomStateFor(ctx, roomCode, playerID, "")
		if err != nil {
			return nil, err
		}
		return types.GameStateFrame{Type: types.FrameGameState, State: state}, nil
	})
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrNotYourTurn):
		return "not_your_turn"
	case errors.Is(err, game.ErrTurnExpired):
		return "turn_expired"
	case errors.Is(err, game.ErrAlreadySubmitted), errors.Is(err, game.ErrTurnChanged):
		return "conflict"
	case errors.Is(err, game.ErrMatchNotActive), errors.Is(err, game.ErrRoomFinished):
		return "match_not_active"
	case errors.Is(err, game.ErrEmptyAnswer):
		return "empty_answer"
	case errors.Is(err, game.ErrBanned):
		return "banned"
	case errors.Is(err, game.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, game.ErrNotMember):
		return "not_member"
	default:
		return "internal_error"
	}
}
