package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/elo"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

const roomCodeCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateRoomCode(length int) (string, error) {
	code := make([]byte, length)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeCharset))))
		if err != nil {
			return "", err
		}
		code[i] = roomCodeCharset[n.Int64()]
	}
	return string(code), nil
}

// CreateRoom allocates a fresh room code, retrying on collision up to the
// configured attempt budget, and seats the creator as member #1.
func (s *Service) CreateRoom(ctx context.Context, playerID string, mode store.GameMode, targetScore int, ip string) (*store.Room, error) {
	if mode != store.ModeClassic && mode != store.ModeChallenge {
		return nil, ErrInvalidMode
	}
	if targetScore <= 0 {
		targetScore = s.cfg.DefaultTarget
	}
	if targetScore > 100 {
		return nil, ErrInvalidTarget
	}

	var created *store.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNotBanned(tx, playerID, ip); err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&store.Player{}).Where("id = ?", playerID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrPlayerNotFound
		}

		now := s.now().UTC()
		for attempt := 0; attempt < s.cfg.RoomCodeAttempts; attempt++ {
			code, err := generateRoomCode(s.cfg.RoomCodeLength)
			if err != nil {
				return fmt.Errorf("generate room code: %w", err)
			}
			room := store.Room{
				Code:        code,
				Status:      store.RoomWaiting,
				Mode:        mode,
				TargetScore: targetScore,
				CreatedAt:   now,
			}
			// Nested transaction: a collision must not abort the outer
			// transaction on postgres, where any errored statement poisons
			// the rest of it.
			err = tx.Transaction(func(tx *gorm.DB) error {
				return tx.Create(&room).Error
			})
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			if err != nil {
				return err
			}
			created = &room
			break
		}
		if created == nil {
			return ErrNoRoomCodes
		}

		member := store.RoomPlayer{
			RoomCode:    created.Code,
			PlayerID:    playerID,
			PlayerOrder: 1,
			JoinedAt:    now,
		}
		return tx.Create(&member).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("room created",
		zap.String("room_code", created.Code),
		zap.String("player_id", playerID),
		zap.String("mode", string(mode)))
	return created, nil
}

// JoinRoom seats the player. Re-joining a room you are already in is an
// idempotent no-op. The second successful join atomically creates the match
// and starts play with the first joiner on turn. Failed lookups count toward
// a brute-force ban keyed by player+IP.
func (s *Service) JoinRoom(ctx context.Context, code, playerID, ip string) (*store.Room, error) {
	var room *store.Room
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureNotBanned(tx, playerID, ip); err != nil {
			return err
		}

		var err error
		room, err = s.fetchRoom(tx, code)
		if err != nil {
			return err
		}

		if _, err := s.fetchMembership(tx, room.Code, playerID); err == nil {
			return nil // already a member
		} else if !errors.Is(err, ErrNotMember) {
			return err
		}

		if room.Status == store.RoomFinished {
			return ErrRoomFinished
		}

		var memberCount int64
		if err := tx.Model(&store.RoomPlayer{}).Where("room_code = ?", room.Code).Count(&memberCount).Error; err != nil {
			return err
		}
		if memberCount >= 2 {
			return ErrRoomFull
		}

		now := s.now().UTC()
		member := store.RoomPlayer{
			RoomCode:    room.Code,
			PlayerID:    playerID,
			PlayerOrder: int(memberCount) + 1,
			JoinedAt:    now,
		}
		// Nested transaction keeps the outer one usable on postgres when the
		// insert loses a race.
		if err := tx.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&member).Error
		}); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Either this player double-joined, or a concurrent joiner
				// took the seat first; the membership row tells them apart.
				if _, mErr := s.fetchMembership(tx, room.Code, playerID); mErr == nil {
					return nil
				} else if !errors.Is(mErr, ErrNotMember) {
					return mErr
				}
				return ErrRoomFull
			}
			return err
		}

		if memberCount+1 == 2 && room.Status == store.RoomWaiting {
			if err := s.startMatch(tx, room); err != nil {
				return err
			}
		}

		room, err = s.fetchRoom(tx, room.Code)
		return err
	})
	if errors.Is(err, ErrRoomNotFound) {
		// Failed lookups are brute-force attempts; the ban write happens
		// outside the rolled-back transaction.
		failures := s.joinFailures.Record(playerID+":"+ip, time.Minute)
		if failures >= s.cfg.JoinFailureLimit {
			db := s.db.WithContext(ctx)
			if banErr := s.banEntity(db, store.EntityPlayer, playerID, "room_code_bruteforce"); banErr != nil {
				s.log.Error("bruteforce ban failed", zap.Error(banErr))
			}
			if banErr := s.banEntity(db, store.EntityIP, ip, "room_code_bruteforce"); banErr != nil {
				s.log.Error("bruteforce ban failed", zap.Error(banErr))
			}
		}
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return room, nil
}

// startMatch flips a full waiting room into play: creates the match row,
// deals the first prompt word and hands the turn to the first joiner.
func (s *Service) startMatch(tx *gorm.DB, room *store.Room) error {
	var members []store.RoomPlayer
	if err := tx.Where("room_code = ?", room.Code).Order("player_order").Find(&members).Error; err != nil {
		return err
	}
	if len(members) != 2 {
		return fmt.Errorf("start match: expected 2 members, have %d", len(members))
	}

	word, err := s.pickRandomWord(tx)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	match := store.Match{
		ID:        uuid.NewString(),
		RoomCode:  room.Code,
		PlayerA:   members[0].PlayerID,
		PlayerB:   members[1].PlayerID,
		StartedAt: now,
	}
	if err := tx.Create(&match).Error; err != nil {
		return err
	}

	firstTurn := members[0].PlayerID
	updates := map[string]any{
		"status":          store.RoomPlaying,
		"current_turn":    firstTurn,
		"turn_started_at": now,
		"turn_number":     1,
		"current_term":    word.Term,
		"current_answer":  word.Translation,
		"match_id":        match.ID,
	}
	if err := tx.Model(&store.Room{}).Where("code = ?", room.Code).Updates(updates).Error; err != nil {
		return err
	}

	s.log.Info("match started",
		zap.String("room_code", room.Code),
		zap.String("match_id", match.ID),
		zap.String("first_turn", firstTurn))
	return nil
}

// applyTimeoutIfNeeded is the lazy alternative to a timer goroutine: every
// read/submit path calls it so an overdue turn gets settled as a zero-score
// timeout move the next time anyone touches the room. The existing-move
// check makes it settle each turn at most once.
func (s *Service) applyTimeoutIfNeeded(tx *gorm.DB, code string) (bool, error) {
	room, err := s.fetchRoom(tx, code)
	if err != nil {
		return false, err
	}
	if room.Status != store.RoomPlaying || room.CurrentTurn == nil || room.MatchID == nil {
		return false, nil
	}
	if s.elapsedSeconds(room) <= s.cfg.TurnTimeout.Seconds() {
		return false, nil
	}

	var existing int64
	if err := tx.Model(&store.Move{}).
		Where("match_id = ? AND turn_number = ?", *room.MatchID, room.TurnNumber).
		Count(&existing).Error; err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	delinquent := *room.CurrentTurn
	timeoutSecs := s.cfg.TurnTimeout.Seconds()
	move := store.Move{
		ID:            uuid.NewString(),
		MatchID:       *room.MatchID,
		TurnNumber:    room.TurnNumber,
		RoomCode:      room.Code,
		PlayerID:      delinquent,
		PromptTerm:    deref(room.CurrentTerm),
		CorrectAnswer: deref(room.CurrentAnswer),
		Answer:        "",
		ScoreAwarded:  0,
		ResponseTime:  timeoutSecs,
		ScoringSource: "timeout",
		IsTimeout:     true,
		CreatedAt:     s.now().UTC(),
	}
	// Nested transaction: losing the settlement race must leave the caller's
	// transaction usable on postgres.
	if err := tx.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&move).Error
	}); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil // settled by a concurrent reader
		}
		return false, err
	}

	if err := tx.Model(&store.Player{}).Where("id = ?", delinquent).Updates(map[string]any{
		"total_response_time": gorm.Expr("total_response_time + ?", timeoutSecs),
		"total_moves":         gorm.Expr("total_moves + 1"),
	}).Error; err != nil {
		return false, err
	}

	if err := s.advanceTurn(tx, room, delinquent); err != nil {
		return false, err
	}

	s.log.Info("turn timeout applied",
		zap.String("room_code", room.Code),
		zap.String("player_id", delinquent),
		zap.Int("turn_number", room.TurnNumber))
	return true, nil
}

// advanceTurn hands play to the other member with a fresh prompt word.
func (s *Service) advanceTurn(tx *gorm.DB, room *store.Room, lastPlayerID string) error {
	nextPlayerID, err := s.otherPlayerID(tx, room.Code, lastPlayerID)
	if err != nil {
		return err
	}
	if nextPlayerID == "" {
		return nil
	}

	word, err := s.pickRandomWord(tx)
	if err != nil {
		return err
	}

	return tx.Model(&store.Room{}).Where("code = ?", room.Code).Updates(map[string]any{
		"current_turn":    nextPlayerID,
		"turn_started_at": s.now().UTC(),
		"turn_number":     room.TurnNumber + 1,
		"current_term":    word.Term,
		"current_answer":  word.Translation,
	}).Error
}

// finishMatch settles ratings from one pre-update snapshot, records the
// winner, clears the room's live-turn fields and runs the anti-farm check.
func (s *Service) finishMatch(tx *gorm.DB, room *store.Room, winnerID string) error {
	loserID, err := s.otherPlayerID(tx, room.Code, winnerID)
	if err != nil || loserID == "" {
		return err
	}

	var winner, loser store.Player
	if err := tx.First(&winner, "id = ?", winnerID).Error; err != nil {
		return err
	}
	if err := tx.First(&loser, "id = ?", loserID).Error; err != nil {
		return err
	}

	newWinnerElo, newLoserElo := elo.Outcome(winner.Elo, loser.Elo, s.cfg.KFactor)

	if err := tx.Model(&store.Player{}).Where("id = ?", winnerID).Updates(map[string]any{
		"elo":         newWinnerElo,
		"wins":        gorm.Expr("wins + 1"),
		"total_games": gorm.Expr("total_games + 1"),
	}).Error; err != nil {
		return err
	}
	if err := tx.Model(&store.Player{}).Where("id = ?", loserID).Updates(map[string]any{
		"elo":         newLoserElo,
		"losses":      gorm.Expr("losses + 1"),
		"total_games": gorm.Expr("total_games + 1"),
	}).Error; err != nil {
		return err
	}

	now := s.now().UTC()
	if err := tx.Model(&store.Match{}).Where("id = ?", *room.MatchID).Updates(map[string]any{
		"winner_id":   winnerID,
		"finished_at": now,
	}).Error; err != nil {
		return err
	}

	if err := tx.Model(&store.Room{}).Where("code = ?", room.Code).Updates(map[string]any{
		"status":          store.RoomFinished,
		"current_turn":    nil,
		"turn_started_at": nil,
		"current_term":    nil,
		"current_answer":  nil,
	}).Error; err != nil {
		return err
	}

	s.log.Info("match finished",
		zap.String("room_code", room.Code),
		zap.String("winner_id", winnerID),
		zap.Int("winner_elo", newWinnerElo),
		zap.Int("loser_elo", newLoserElo))

	return s.antiFarmCheck(tx, winnerID, loserID)
}

// antiFarmCheck bans a winner who keeps beating the same opponent inside a
// one-minute window.
func (s *Service) antiFarmCheck(tx *gorm.DB, winnerID, loserID string) error {
	windowStart := s.now().Add(-time.Minute)
	var recentWins int64
	err := tx.Model(&store.Match{}).
		Where("winner_id = ? AND finished_at >= ?", winnerID, windowStart).
		Where("(player_a = ? AND player_b = ?) OR (player_a = ? AND player_b = ?)",
			winnerID, loserID, loserID, winnerID).
		Count(&recentWins).Error
	if err != nil {
		return err
	}

	if int(recentWins) >= s.cfg.FarmWinsThreshold {
		return s.banEntity(tx, store.EntityPlayer, winnerID, "anti_farm_triggered")
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
