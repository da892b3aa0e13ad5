package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/oleksandrpechak/DuoEng/internal/game"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeGameError maps game sentinels onto HTTP statuses. Unknown errors are
// logged and surface as a bare 500.
func (s *Server) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room_not_found", "room not found")
	case errors.Is(err, game.ErrPlayerNotFound):
		writeError(w, http.StatusNotFound, "player_not_found", "player not found")

	case errors.Is(err, game.ErrBanned):
		writeError(w, http.StatusForbidden, "banned", "access temporarily suspended")
	case errors.Is(err, game.ErrNotMember):
		writeError(w, http.StatusForbidden, "not_member", "you are not in this room")
	case errors.Is(err, game.ErrNotYourTurn):
		writeError(w, http.StatusForbidden, "not_your_turn", "it is not your turn")

	case errors.Is(err, game.ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, "already_submitted", "this turn was already settled")
	case errors.Is(err, game.ErrTurnChanged):
		writeError(w, http.StatusConflict, "turn_changed", "the turn changed while scoring")
	case errors.Is(err, game.ErrTurnExpired):
		writeError(w, http.StatusConflict, "turn_expired", "the turn timed out")
	case errors.Is(err, game.ErrNicknameTaken):
		writeError(w, http.StatusConflict, "nickname_taken", "nickname already in use")
	case errors.Is(err, game.ErrRoomFull):
		writeError(w, http.StatusConflict, "room_full", "room already has two players")
	case errors.Is(err, game.ErrRoomFinished):
		writeError(w, http.StatusConflict, "room_finished", "this game is over")
	case errors.Is(err, game.ErrMatchNotActive):
		writeError(w, http.StatusConflict, "match_not_active", "no active match in this room")

	case errors.Is(err, game.ErrNicknameTooShort):
		writeError(w, http.StatusUnprocessableEntity, "invalid_nickname", "nickname must be at least 2 characters")
	case errors.Is(err, game.ErrInvalidMode):
		writeError(w, http.StatusUnprocessableEntity, "invalid_mode", "mode must be classic or challenge")
	case errors.Is(err, game.ErrInvalidTarget):
		writeError(w, http.StatusUnprocessableEntity, "invalid_target", "target score out of range")
	case errors.Is(err, game.ErrEmptyAnswer):
		writeError(w, http.StatusUnprocessableEntity, "empty_answer", "answer must not be empty")

	case errors.Is(err, game.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate_limited", "slow down")

	case errors.Is(err, game.ErrNoRoomCodes), errors.Is(err, game.ErrNoWords):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")

	default:
		s.log.Error("unhandled game error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed json body")
		return false
	}
	return true
}

// ---------- Auth ----------

type guestRequest struct {
	Nickname string `json:"nickname"`
}

type guestResponse struct {
	Token    string `json:"token"`
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Elo      int    `json:"elo"`
}

func (s *Server) handleGuestAuth(w http.ResponseWriter, r *http.Request) {
	var req guestRequest
	if !decodeBody(w, r, &req) {
		return
	}

	player, err := s.svc.RegisterGuest(r.Context(), req.Nickname)
	if err != nil {
		s.writeGameError(w, err)
		return
	}

	isAdmin := s.adminNicknames[strings.ToLower(player.Nickname)]
	token, err := s.tokens.Issue(player.ID, player.Nickname, isAdmin)
	if err != nil {
		s.log.Error("token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, guestResponse{
		Token:    token,
		PlayerID: player.ID,
		Nickname: player.Nickname,
		Elo:      player.Elo,
	})
}

// ---------- Rooms ----------

type createRoomRequest struct {
	Mode        string `json:"mode"`
	TargetScore int    `json:"target_score"`
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())

	req := createRoomRequest{Mode: string(store.ModeClassic)}
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	room, err := s.svc.CreateRoom(r.Context(), ident.PlayerID, store.GameMode(req.Mode), req.TargetScore, clientIP(r))
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, room)
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())

	room, err := s.svc.JoinRoom(r.Context(), chi.URLParam(r, "code"), ident.PlayerID, clientIP(r))
	if err != nil {
		s.writeGameError(w, err)
		return
	}

	// Any opponent already on the socket learns about the join right away.
	s.broadcastState(r.Context(), room.Code)
	writeJSON(w, http.StatusOK, room)
}

func (s *Server) handleRoomState(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())

	state, err := s.svc.RoomStateFor(r.Context(), chi.URLParam(r, "code"), ident.PlayerID, clientIP(r))
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type submitRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ident, _ := identityFrom(r.Context())

	var req submitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	code := chi.URLParam(r, "code")
	res, err := s.svc.SubmitAnswer(r.Context(), code, ident.PlayerID, req.Answer, clientIP(r))
	if err != nil {
		s.writeGameError(w, err)
		// A failed submit may still have settled the turn as a timeout.
		s.broadcastState(r.Context(), code)
		return
	}

	s.broadcastState(r.Context(), res.RoomCode)
	writeJSON(w, http.StatusOK, res)
}

// ---------- Stats ----------

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := s.svc.Leaderboard(r.Context(), limit)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.PlayerStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleDictionarySearch(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.DictionarySearch(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------- Admin ----------

type batchSeedRequest struct {
	SeedWords  bool `json:"seed_words"`
	ResetStats bool `json:"reset_stats"`
}

func (s *Server) handleBatchSeed(w http.ResponseWriter, r *http.Request) {
	var req batchSeedRequest
	if !decodeBody(w, r, &req) {
		return
	}

	seeded, err := s.svc.BatchSeed(r.Context(), req.SeedWords, req.ResetStats)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"words_seeded": seeded,
		"stats_reset":  req.ResetStats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
