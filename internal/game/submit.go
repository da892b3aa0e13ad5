package game

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/store"
)

// turnSnapshot is the immutable phase-1 capture. Phase 2 commits only if the
// room still matches it.
type turnSnapshot struct {
	MatchID       string
	TurnNumber    int
	PromptTerm    string
	CorrectAnswer string
	Elapsed       float64
}

type SubmitResult struct {
	RoomCode      string  `json:"room_code"`
	TurnNumber    int     `json:"turn_number"`
	Points        int     `json:"points"`
	ScoringSource string  `json:"scoring_source"`
	Feedback      string  `json:"feedback"`
	CorrectAnswer string  `json:"correct_answer"`
	GameOver      bool    `json:"game_over"`
	WinnerID      *string `json:"winner_id"`
}

// SubmitAnswer settles one turn in two phases. Phase 1 validates ownership
// and freshness under a short transaction and captures a snapshot. The
// scoring oracle runs with no transaction held. Phase 2 re-validates the
// snapshot against live room state and commits the move; any drift is a
// conflict, not a silent overwrite. A concurrent duplicate loses on the
// (match_id, turn_number) unique index.
func (s *Service) SubmitAnswer(ctx context.Context, code, playerID, answer, ip string) (*SubmitResult, error) {
	normalized := strings.ToUpper(code)

	if strings.TrimSpace(answer) == "" {
		return nil, ErrEmptyAnswer
	}

	if !s.SubmitAllowed(playerID, normalized) {
		// Hammering the submit budget is itself ban-worthy.
		if err := s.banEntity(s.db.WithContext(ctx), store.EntityPlayer, playerID, "submit_rate_limit"); err != nil {
			s.log.Error("rate-limit ban failed", zap.Error(err))
		}
		return nil, ErrRateLimited
	}

	// Reconcile an overdue turn in its own committed transaction before any
	// validation. Done inside phase 1 the settlement would roll back
	// together with the refusal it causes, leaving the turn unsettled.
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.applyTimeoutIfNeeded(tx, normalized)
		return err
	})
	if err != nil {
		return nil, err
	}

	var snapshot turnSnapshot
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNotBanned(tx, playerID, ip); err != nil {
			return err
		}

		room, err := s.fetchRoom(tx, normalized)
		if err != nil {
			return err
		}

		if _, err := s.fetchMembership(tx, normalized, playerID); err != nil {
			return err
		}

		if room.Status != store.RoomPlaying || room.MatchID == nil {
			return ErrMatchNotActive
		}
		if room.CurrentTurn == nil || *room.CurrentTurn != playerID {
			return ErrNotYourTurn
		}

		// Only reachable when the turn crosses the deadline between the
		// reconciliation transaction above and this one; the next touch of
		// the room settles it.
		elapsed := s.elapsedSeconds(room)
		if elapsed > s.cfg.TurnTimeout.Seconds() {
			return ErrTurnExpired
		}

		var existing int64
		if err := tx.Model(&store.Move{}).
			Where("match_id = ? AND turn_number = ?", *room.MatchID, room.TurnNumber).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadySubmitted
		}

		snapshot = turnSnapshot{
			MatchID:       *room.MatchID,
			TurnNumber:    room.TurnNumber,
			PromptTerm:    deref(room.CurrentTerm),
			CorrectAnswer: deref(room.CurrentAnswer),
			Elapsed:       elapsed,
		}
		return nil
	})
	if err != nil {
		// Violation bookkeeping happens after the transaction so the ban
		// row survives the rollback of the refused request.
		switch {
		case errors.Is(err, ErrNotMember):
			s.recordViolation(ctx, playerID, "submit_without_membership")
		case errors.Is(err, ErrNotYourTurn):
			s.recordViolation(ctx, playerID, "submit_not_your_turn")
		case errors.Is(err, ErrAlreadySubmitted):
			s.recordViolation(ctx, playerID, "double_submit")
		}
		return nil, err
	}

	// Long-latency work happens here, outside any transaction, so other
	// room participants are never blocked behind the oracle.
	scored := s.oracle.Score(ctx, snapshot.CorrectAnswer, answer)

	var result *SubmitResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Bans may have landed while the oracle ran.
		if err := s.ensureNotBanned(tx, playerID, ip); err != nil {
			return err
		}

		room, err := s.fetchRoom(tx, normalized)
		if err != nil {
			return err
		}
		if room.Status != store.RoomPlaying || room.MatchID == nil {
			return ErrMatchNotActive
		}
		if *room.MatchID != snapshot.MatchID ||
			room.TurnNumber != snapshot.TurnNumber ||
			room.CurrentTurn == nil || *room.CurrentTurn != playerID {
			return ErrTurnChanged
		}

		move := store.Move{
			ID:            uuid.NewString(),
			MatchID:       snapshot.MatchID,
			TurnNumber:    snapshot.TurnNumber,
			RoomCode:      normalized,
			PlayerID:      playerID,
			PromptTerm:    snapshot.PromptTerm,
			CorrectAnswer: snapshot.CorrectAnswer,
			Answer:        answer,
			ScoreAwarded:  scored.Score,
			ResponseTime:  snapshot.Elapsed,
			ScoringSource: scored.Source,
			CreatedAt:     s.now().UTC(),
		}
		if err := tx.Create(&move).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadySubmitted
			}
			return err
		}

		if err := tx.Model(&store.Player{}).Where("id = ?", playerID).Updates(map[string]any{
			"total_response_time": gorm.Expr("total_response_time + ?", snapshot.Elapsed),
			"total_moves":         gorm.Expr("total_moves + 1"),
		}).Error; err != nil {
			return err
		}

		if err := tx.Model(&store.RoomPlayer{}).
			Where("room_code = ? AND player_id = ?", normalized, playerID).
			Update("score", gorm.Expr("score + ?", scored.Score)).Error; err != nil {
			return err
		}

		var member store.RoomPlayer
		if err := tx.First(&member, "room_code = ? AND player_id = ?", normalized, playerID).Error; err != nil {
			return err
		}

		gameOver := member.Score >= room.TargetScore
		var winnerID *string
		if gameOver {
			winnerID = &playerID
			if err := s.finishMatch(tx, room, playerID); err != nil {
				return err
			}
		} else {
			if err := s.advanceTurn(tx, room, playerID); err != nil {
				return err
			}
		}

		result = &SubmitResult{
			RoomCode:      normalized,
			TurnNumber:    snapshot.TurnNumber,
			Points:        scored.Score,
			ScoringSource: scored.Source,
			Feedback:      feedbackFor(scored.Score),
			CorrectAnswer: snapshot.CorrectAnswer,
			GameOver:      gameOver,
			WinnerID:      winnerID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("turn settled",
		zap.String("room_code", normalized),
		zap.String("player_id", playerID),
		zap.Int("turn_number", result.TurnNumber),
		zap.Int("points", result.Points),
		zap.String("source", result.ScoringSource),
		zap.Bool("game_over", result.GameOver))
	return result, nil
}

func feedbackFor(score int) string {
	switch score {
	case 2:
		return "correct"
	case 1:
		return "partial"
	default:
		return "wrong"
	}
}
