package game

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/store"
)

type RoomPlayerView struct {
	PlayerID      string `json:"player_id"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Elo           int    `json:"elo"`
	IsCurrentTurn bool   `json:"is_current_turn"`
}

type LastFeedback struct {
	PlayerNickname string `json:"player_nickname"`
	PromptTerm     string `json:"prompt_term"`
	CorrectAnswer  string `json:"correct_answer"`
	Answer         string `json:"answer"`
	Points         int    `json:"points"`
	Status         string `json:"status"`
}

type WinnerView struct {
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
}

type CurrentTurnView struct {
	TurnID          string  `json:"turn_id"`
	PromptTerm      *string `json:"prompt_term"`
	TimeRemaining   int     `json:"time_remaining"`
	CurrentPlayerID string  `json:"current_player_id"`
}

// RoomState is a per-viewer snapshot: the prompt word is visible only to the
// player on turn.
type RoomState struct {
	RoomCode           string           `json:"room_code"`
	Status             store.RoomStatus `json:"status"`
	Mode               store.GameMode   `json:"mode"`
	TargetScore        int              `json:"target_score"`
	TurnNumber         int              `json:"turn_number"`
	TurnTimeoutSeconds int              `json:"turn_timeout_seconds"`
	Players            []RoomPlayerView `json:"players"`
	PromptTerm         *string          `json:"prompt_term"`
	CurrentTurnPlayer  *string          `json:"current_turn_player_id"`
	TurnStartedAt      *time.Time       `json:"turn_started_at"`
	MatchID            *string          `json:"match_id"`
	WinnerID           *string          `json:"winner_id"`
	CurrentTurn        *CurrentTurnView `json:"current_turn"`
	Winner             *WinnerView      `json:"winner"`
	LastFeedback       *LastFeedback    `json:"last_feedback"`
}

// RoomStateFor reconciles any overdue turn, then builds the snapshot the
// given viewer is allowed to see.
func (s *Service) RoomStateFor(ctx context.Context, code, viewerID, ip string) (*RoomState, error) {
	normalized := strings.ToUpper(code)

	var state *RoomState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNotBanned(tx, viewerID, ip); err != nil {
			return err
		}

		if _, err := s.fetchRoom(tx, normalized); err != nil {
			return err
		}
		if _, err := s.fetchMembership(tx, normalized, viewerID); err != nil {
			return err
		}

		if _, err := s.applyTimeoutIfNeeded(tx, normalized); err != nil {
			return err
		}
		room, err := s.fetchRoom(tx, normalized)
		if err != nil {
			return err
		}

		var members []store.RoomPlayer
		if err := tx.Where("room_code = ?", normalized).Order("player_order").Find(&members).Error; err != nil {
			return err
		}

		players := make([]RoomPlayerView, 0, len(members))
		for _, m := range members {
			var p store.Player
			if err := tx.First(&p, "id = ?", m.PlayerID).Error; err != nil {
				return err
			}
			players = append(players, RoomPlayerView{
				PlayerID:      m.PlayerID,
				Nickname:      p.Nickname,
				Score:         m.Score,
				Elo:           p.Elo,
				IsCurrentTurn: room.CurrentTurn != nil && *room.CurrentTurn == m.PlayerID,
			})
		}

		var winnerID *string
		var winner *WinnerView
		if room.MatchID != nil {
			var match store.Match
			if err := tx.First(&match, "id = ?", *room.MatchID).Error; err == nil && match.WinnerID != nil {
				winnerID = match.WinnerID
				var p store.Player
				if err := tx.First(&p, "id = ?", *match.WinnerID).Error; err == nil {
					winner = &WinnerView{PlayerID: p.ID, Nickname: p.Nickname}
				}
			}
		}

		var feedback *LastFeedback
		var lastMove store.Move
		err = tx.Where("room_code = ?", normalized).Order("created_at DESC").First(&lastMove).Error
		if err == nil {
			var p store.Player
			if err := tx.First(&p, "id = ?", lastMove.PlayerID).Error; err != nil {
				return err
			}
			answer := lastMove.Answer
			if answer == "" {
				answer = "(no answer)"
			}
			status := "completed"
			if lastMove.IsTimeout {
				status = "expired"
			}
			feedback = &LastFeedback{
				PlayerNickname: p.Nickname,
				PromptTerm:     lastMove.PromptTerm,
				CorrectAnswer:  lastMove.CorrectAnswer,
				Answer:         answer,
				Points:         lastMove.ScoreAwarded,
				Status:         status,
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		// Redaction: only the player on turn sees the prompt word.
		var visibleTerm *string
		if room.Status == store.RoomPlaying && room.CurrentTurn != nil && *room.CurrentTurn == viewerID {
			visibleTerm = room.CurrentTerm
		}

		timeRemaining := 0
		if room.Status == store.RoomPlaying && room.TurnStartedAt != nil {
			remaining := int(s.cfg.TurnTimeout.Seconds() - s.elapsedSeconds(room))
			if remaining > 0 {
				timeRemaining = remaining
			}
		}

		var currentTurn *CurrentTurnView
		if room.Status == store.RoomPlaying && room.CurrentTurn != nil && room.MatchID != nil {
			currentTurn = &CurrentTurnView{
				TurnID:          *room.MatchID + ":" + strconv.Itoa(room.TurnNumber),
				PromptTerm:      visibleTerm,
				TimeRemaining:   timeRemaining,
				CurrentPlayerID: *room.CurrentTurn,
			}
		}

		state = &RoomState{
			RoomCode:           normalized,
			Status:             room.Status,
			Mode:               room.Mode,
			TargetScore:        room.TargetScore,
			TurnNumber:         room.TurnNumber,
			TurnTimeoutSeconds: int(s.cfg.TurnTimeout.Seconds()),
			Players:            players,
			PromptTerm:         visibleTerm,
			CurrentTurnPlayer:  room.CurrentTurn,
			TurnStartedAt:      room.TurnStartedAt,
			MatchID:            room.MatchID,
			WinnerID:           winnerID,
			CurrentTurn:        currentTurn,
			Winner:             winner,
			LastFeedback:       feedback,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}
