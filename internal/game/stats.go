package game

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/oleksandrpechak/DuoEng/internal/store"
)

type LeaderboardEntry struct {
	PlayerID        string  `json:"player_id"`
	Nickname        string  `json:"nickname"`
	Elo             int     `json:"elo"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	TotalGames      int     `json:"total_games"`
	WinRate         float64 `json:"win_rate"`
	AvgResponseTime float64 `json:"avg_response_time"`
}

type PlayerStats struct {
	LeaderboardEntry
	TotalMoves int       `json:"total_moves"`
	CreatedAt  time.Time `json:"created_at"`
}

// Leaderboard ranks players by rating, wins breaking ties, oldest account
// winning further ties. limit is clamped to [1, 100].
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	var players []store.Player
	err := s.db.WithContext(ctx).
		Order("elo DESC, wins DESC, created_at ASC").
		Limit(limit).
		Find(&players).Error
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, entryFor(p))
	}
	return entries, nil
}

func (s *Service) PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	var p store.Player
	err := s.db.WithContext(ctx).First(&p, "id = ?", playerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPlayerNotFound
	}
	if err != nil {
		return nil, err
	}

	return &PlayerStats{
		LeaderboardEntry: entryFor(p),
		TotalMoves:       p.TotalMoves,
		CreatedAt:        p.CreatedAt,
	}, nil
}

func entryFor(p store.Player) LeaderboardEntry {
	winRate := 0.0
	if p.TotalGames > 0 {
		winRate = round4(float64(p.Wins) / float64(p.TotalGames))
	}
	avgResponse := 0.0
	if p.TotalMoves > 0 {
		avgResponse = round4(p.TotalResponseTime / float64(p.TotalMoves))
	}
	return LeaderboardEntry{
		PlayerID:        p.ID,
		Nickname:        p.Nickname,
		Elo:             p.Elo,
		Wins:            p.Wins,
		Losses:          p.Losses,
		TotalGames:      p.TotalGames,
		WinRate:         winRate,
		AvgResponseTime: avgResponse,
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// DictionarySearch does a prefix search over seeded dictionary entries,
// exact hits first.
func (s *Service) DictionarySearch(ctx context.Context, query string) ([]store.DictionaryEntry, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	if normalized == "" {
		return nil, nil
	}

	var entries []store.DictionaryEntry
	err := s.db.WithContext(ctx).Raw(`
		SELECT * FROM dictionary_entries
		WHERE term LIKE ? OR translation LIKE ?
		ORDER BY CASE WHEN term = ? OR translation = ? THEN 0 ELSE 1 END,
		         translation ASC, term ASC
		LIMIT 20`,
		normalized+"%", normalized+"%", normalized, normalized).
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// BatchSeed is the admin maintenance hook: reseed the word corpus and/or
// reset all competitive state.
func (s *Service) BatchSeed(ctx context.Context, seedWords, resetStats bool) (int, error) {
	seeded := 0
	if seedWords {
		n, err := store.SeedWordsIfEmpty(s.db.WithContext(ctx))
		if err != nil {
			return 0, err
		}
		seeded = n
	}

	if resetStats {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&store.Player{}).Where("1 = 1").Updates(map[string]any{
				"elo":                 s.cfg.DefaultElo,
				"wins":                0,
				"losses":              0,
				"total_games":         0,
				"total_response_time": 0,
				"total_moves":         0,
			}).Error; err != nil {
				return err
			}
			for _, model := range []any{&store.Move{}, &store.Match{}, &store.RoomPlayer{}, &store.Room{}} {
				if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return seeded, err
		}
	}
	return seeded, nil
}
