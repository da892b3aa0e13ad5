// Package game owns the room/turn state machine: room lifecycle, turn
// settlement, timeout reconciliation, match finalization and the anti-abuse
// defenses around them. Correctness under concurrent access comes from short
// storage transactions, re-validation after the scoring call, and the
// (match_id, turn_number) unique constraint, never from an in-process room
// lock.
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/ratelimit"
	"github.com/oleksandrpechak/DuoEng/internal/scoring"
	"github.com/oleksandrpechak/DuoEng/internal/store"
)

// Oracle judges a submitted answer against the correct one. It never fails;
// upstream trouble degrades into a fallback-tagged result.
type Oracle interface {
	Score(ctx context.Context, correct, submitted string) scoring.Result
}

type Config struct {
	TurnTimeout      time.Duration
	RoomCodeLength   int
	RoomCodeAttempts int
	DefaultTarget    int

	DefaultElo int
	KFactor    int

	BanDuration       time.Duration
	JoinFailureLimit  int
	ViolationLimit    int
	FarmWinsThreshold int

	SubmitsPerMin    int
	WSMessagesPerMin int
}

type Service struct {
	db     *gorm.DB
	oracle Oracle
	cfg    Config
	log    *zap.Logger
	now    func() time.Time

	submitLimiter *ratelimit.Limiter
	wsLimiter     *ratelimit.Limiter
	joinFailures  *ratelimit.Tracker
	violations    *ratelimit.Tracker
}

func NewService(db *gorm.DB, oracle Oracle, cfg Config, log *zap.Logger) *Service {
	return &Service{
		db:            db,
		oracle:        oracle,
		cfg:           cfg,
		log:           log,
		now:           time.Now,
		submitLimiter: ratelimit.NewLimiter(),
		wsLimiter:     ratelimit.NewLimiter(),
		joinFailures:  ratelimit.NewTracker(),
		violations:    ratelimit.NewTracker(),
	}
}

// WithClock replaces the time source. Tests use it to expire turns without
// sleeping.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ---------- Players ----------

const maxNicknameAttempts = 20

// RegisterGuest creates a player with a unique display name. On a nickname
// collision a random numeric suffix is appended and the insert retried.
func (s *Service) RegisterGuest(ctx context.Context, nickname string) (*store.Player, error) {
	candidate := strings.TrimSpace(nickname)
	if len(candidate) < 2 {
		return nil, ErrNicknameTooShort
	}

	player := &store.Player{
		ID:        uuid.NewString(),
		Elo:       s.cfg.DefaultElo,
		CreatedAt: s.now().UTC(),
	}

	finalName := candidate
	for attempt := 0; ; attempt++ {
		player.Nickname = finalName
		err := s.db.WithContext(ctx).Create(player).Error
		if err == nil {
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("create player: %w", err)
		}
		if attempt >= maxNicknameAttempts {
			return nil, ErrNicknameTaken
		}
		finalName = fmt.Sprintf("%s%s", candidate, uuid.NewString()[:4])
	}

	s.log.Info("guest registered",
		zap.String("player_id", player.ID),
		zap.String("nickname", player.Nickname))
	return player, nil
}

// EnsurePlayer verifies that an authenticated identity still maps to a row.
func (s *Service) EnsurePlayer(ctx context.Context, playerID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&store.Player{}).Where("id = ?", playerID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrPlayerNotFound
	}
	return nil
}

// ---------- Bans / violations ----------

// IsBanned reports whether any non-expired ban row exists for the entity.
func (s *Service) IsBanned(ctx context.Context, entityType store.EntityType, entityID string) bool {
	return s.isBanned(s.db.WithContext(ctx), entityType, entityID)
}

func (s *Service) isBanned(tx *gorm.DB, entityType store.EntityType, entityID string) bool {
	var count int64
	err := tx.Model(&store.Ban{}).
		Where("entity_type = ? AND entity_id = ? AND expires_at > ?", entityType, entityID, s.now()).
		Count(&count).Error
	if err != nil {
		// Fail closed would lock everyone out on a DB blip; bans are a soft
		// defense, so fail open and log.
		s.log.Error("ban lookup failed", zap.Error(err))
		return false
	}
	return count > 0
}

// banEntity appends a ban row. Old rows are never touched; the table is the
// audit trail.
func (s *Service) banEntity(tx *gorm.DB, entityType store.EntityType, entityID, reason string) error {
	now := s.now()
	ban := store.Ban{
		EntityType: entityType,
		EntityID:   entityID,
		Reason:     reason,
		ExpiresAt:  now.Add(s.cfg.BanDuration),
		CreatedAt:  now.UTC(),
	}
	if err := tx.Create(&ban).Error; err != nil {
		return fmt.Errorf("insert ban: %w", err)
	}
	s.log.Warn("entity temporarily banned",
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.String("reason", reason))
	return nil
}

func (s *Service) ensureNotBanned(tx *gorm.DB, playerID, ip string) error {
	if s.isBanned(tx, store.EntityPlayer, playerID) {
		return fmt.Errorf("player: %w", ErrBanned)
	}
	if ip != "" && s.isBanned(tx, store.EntityIP, ip) {
		return fmt.Errorf("ip: %w", ErrBanned)
	}
	return nil
}

// recordViolation counts a suspicious action and escalates to a ban once the
// rolling-minute count crosses the threshold. Callers invoke it after their
// transaction has finished; the ban row must survive the rollback of the
// refused request.
func (s *Service) recordViolation(ctx context.Context, playerID, reason string) {
	count := s.violations.Record(playerID, time.Minute)
	s.log.Warn("suspicious behavior",
		zap.String("player_id", playerID),
		zap.String("reason", reason),
		zap.Int("count", count))
	if count >= s.cfg.ViolationLimit {
		if err := s.banEntity(s.db.WithContext(ctx), store.EntityPlayer, playerID, "too_many_violations:"+reason); err != nil {
			s.log.Error("violation ban failed", zap.Error(err))
		}
	}
}

// ---------- Rate budgets ----------

func (s *Service) SubmitAllowed(playerID, roomCode string) bool {
	return s.submitLimiter.Allow("submit:"+playerID+":"+strings.ToUpper(roomCode), s.cfg.SubmitsPerMin, time.Minute)
}

func (s *Service) WSMessageAllowed(roomCode, playerID string) bool {
	return s.wsLimiter.Allow("ws:"+strings.ToUpper(roomCode)+":"+playerID, s.cfg.WSMessagesPerMin, time.Minute)
}

// ---------- Shared room helpers ----------

func (s *Service) fetchRoom(tx *gorm.DB, code string) (*store.Room, error) {
	var room store.Room
	err := tx.First(&room, "code = ?", strings.ToUpper(code)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (s *Service) fetchMembership(tx *gorm.DB, code, playerID string) (*store.RoomPlayer, error) {
	var member store.RoomPlayer
	err := tx.First(&member, "room_code = ? AND player_id = ?", strings.ToUpper(code), playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (s *Service) otherPlayerID(tx *gorm.DB, code, playerID string) (string, error) {
	var member store.RoomPlayer
	err := tx.Where("room_code = ? AND player_id <> ?", strings.ToUpper(code), playerID).
		Order("player_order").First(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return member.PlayerID, nil
}

func (s *Service) pickRandomWord(tx *gorm.DB) (*store.Word, error) {
	var word store.Word
	err := tx.Order("RANDOM()").First(&word).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoWords
	}
	if err != nil {
		return nil, err
	}
	return &word, nil
}

func (s *Service) elapsedSeconds(room *store.Room) float64 {
	if room.TurnStartedAt == nil {
		return 0
	}
	elapsed := s.now().Sub(*room.TurnStartedAt).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}
