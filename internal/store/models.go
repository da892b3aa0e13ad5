package store

import "time"

type RoomStatus string

const (
	RoomWaiting  RoomStatus = "waiting"
	RoomPlaying  RoomStatus = "playing"
	RoomFinished RoomStatus = "finished"
)

type GameMode string

const (
	ModeClassic   GameMode = "classic"
	ModeChallenge GameMode = "challenge"
)

type EntityType string

const (
	EntityPlayer EntityType = "player"
	EntityIP     EntityType = "ip"
)

type Player struct {
	ID                string    `gorm:"size:36;primaryKey" json:"id"`
	Nickname          string    `gorm:"size:64;unique;not null" json:"nickname"`
	Elo               int       `gorm:"not null;default:1000;index" json:"elo"`
	Wins              int       `gorm:"not null;default:0" json:"wins"`
	Losses            int       `gorm:"not null;default:0" json:"losses"`
	TotalGames        int       `gorm:"not null;default:0" json:"total_games"`
	TotalResponseTime float64   `gorm:"not null;default:0" json:"total_response_time"`
	TotalMoves        int       `gorm:"not null;default:0" json:"total_moves"`
	CreatedAt         time.Time `gorm:"not null" json:"created_at"`
}

// Room carries its live turn state inline. CurrentTurn, TurnStartedAt and the
// current word pair are null exactly when Status != playing.
type Room struct {
	Code          string     `gorm:"size:16;primaryKey" json:"code"`
	Status        RoomStatus `gorm:"size:16;not null;default:'waiting';check:status IN ('waiting','playing','finished')" json:"status"`
	Mode          GameMode   `gorm:"size:16;not null;default:'classic';check:mode IN ('classic','challenge')" json:"mode"`
	TargetScore   int        `gorm:"not null;default:10" json:"target_score"`
	TurnNumber    int        `gorm:"not null;default:0" json:"turn_number"`
	CurrentTurn   *string    `gorm:"size:36" json:"current_turn"`
	TurnStartedAt *time.Time `json:"turn_started_at"`
	CurrentTerm   *string    `json:"-"`
	CurrentAnswer *string    `json:"-"`
	MatchID       *string    `gorm:"size:36" json:"match_id"`
	CreatedAt     time.Time  `gorm:"not null" json:"created_at"`
}

// RoomPlayer seats are unique per room both by player and by seat order; the
// order constraint is what makes two concurrent joiners of a one-member room
// race for the second seat instead of both taking it.
type RoomPlayer struct {
	RoomCode    string    `gorm:"size:16;primaryKey;uniqueIndex:uq_room_order" json:"room_code"`
	PlayerID    string    `gorm:"size:36;primaryKey;index" json:"player_id"`
	PlayerOrder int       `gorm:"not null;uniqueIndex:uq_room_order" json:"player_order"`
	Score       int       `gorm:"not null;default:0" json:"score"`
	JoinedAt    time.Time `gorm:"not null" json:"joined_at"`
}

type Match struct {
	ID         string     `gorm:"size:36;primaryKey" json:"id"`
	RoomCode   string     `gorm:"size:16;not null;index" json:"room_code"`
	PlayerA    string     `gorm:"size:36;not null" json:"player_a"`
	PlayerB    string     `gorm:"size:36;not null" json:"player_b"`
	WinnerID   *string    `gorm:"size:36;index" json:"winner_id"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// Move is the append-only record of one settled turn. The (match_id,
// turn_number) unique index is the final arbiter against double settlement.
type Move struct {
	ID            string    `gorm:"size:36;primaryKey" json:"id"`
	MatchID       string    `gorm:"size:36;not null;uniqueIndex:uq_moves_match_turn" json:"match_id"`
	TurnNumber    int       `gorm:"not null;uniqueIndex:uq_moves_match_turn" json:"turn_number"`
	RoomCode      string    `gorm:"size:16;not null;index" json:"room_code"`
	PlayerID      string    `gorm:"size:36;not null;index" json:"player_id"`
	PromptTerm    string    `gorm:"not null" json:"prompt_term"`
	CorrectAnswer string    `gorm:"not null" json:"correct_answer"`
	Answer        string    `gorm:"not null" json:"answer"`
	ScoreAwarded  int       `gorm:"not null" json:"score_awarded"`
	ResponseTime  float64   `gorm:"not null" json:"response_time"`
	ScoringSource string    `gorm:"size:32;not null" json:"scoring_source"`
	IsTimeout     bool      `gorm:"not null;default:false" json:"is_timeout"`
	CreatedAt     time.Time `gorm:"not null;index" json:"created_at"`
}

type Word struct {
	ID          string `gorm:"size:64;primaryKey" json:"id"`
	Term        string `gorm:"not null" json:"term"`
	Translation string `gorm:"not null" json:"translation"`
	Level       string `gorm:"size:2;not null;check:level IN ('B1','B2')" json:"level"`
}

// Ban rows are append-only; old rows are never updated so the table doubles
// as an audit trail. An entity is banned while any row's ExpiresAt is in the
// future.
type Ban struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	EntityType EntityType `gorm:"size:16;not null;index:ix_bans_lookup;check:entity_type IN ('player','ip')" json:"entity_type"`
	EntityID   string     `gorm:"size:128;not null;index:ix_bans_lookup" json:"entity_id"`
	Reason     string     `gorm:"size:128;not null" json:"reason"`
	ExpiresAt  time.Time  `gorm:"not null;index:ix_bans_lookup" json:"expires_at"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

// ScoreCache is the persisted tier of the scoring memoization layer, keyed
// by a fingerprint of the normalized (correct, submitted) pair.
type ScoreCache struct {
	CacheKey  string    `gorm:"size:64;primaryKey" json:"cache_key"`
	Score     int       `gorm:"not null" json:"score"`
	Source    string    `gorm:"size:32;not null" json:"source"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
}

type DictionaryEntry struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	Term         string    `gorm:"not null;uniqueIndex:uq_dictionary_term_translation;index" json:"term"`
	Translation  string    `gorm:"not null;uniqueIndex:uq_dictionary_term_translation;index" json:"translation"`
	PartOfSpeech string    `gorm:"size:32" json:"part_of_speech,omitempty"`
	Source       string    `gorm:"size:32;not null" json:"source"`
	CreatedAt    time.Time `gorm:"not null" json:"-"`
}
