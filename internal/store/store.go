// Package store owns the persistence layer: gorm models, schema migration
// and the seed/maintenance helpers the server runs at startup.
package store

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to postgres when the DSN looks like a postgres URL and falls
// back to a local sqlite file otherwise. TranslateError is on so unique
// constraint races surface as gorm.ErrDuplicatedKey on both drivers.
func Open(dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}

	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn + "?_foreign_keys=on")
	}

	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Player{},
		&Room{},
		&RoomPlayer{},
		&Match{},
		&Move{},
		&Word{},
		&Ban{},
		&ScoreCache{},
		&DictionaryEntry{},
	)
}

// PurgeExpiredScores removes persisted score-cache rows past their TTL.
// Expiry is also checked at read time, so this is garbage collection only.
func PurgeExpiredScores(db *gorm.DB, now time.Time) (int64, error) {
	res := db.Where("expires_at <= ?", now).Delete(&ScoreCache{})
	return res.RowsAffected, res.Error
}

var seedWords = []Word{
	{Term: "привіт", Translation: "hello", Level: "B1"},
	{Term: "дякую", Translation: "thank you", Level: "B1"},
	{Term: "будь ласка", Translation: "please", Level: "B1"},
	{Term: "добрий ранок", Translation: "good morning", Level: "B1"},
	{Term: "на добраніч", Translation: "good night", Level: "B1"},
	{Term: "вода", Translation: "water", Level: "B1"},
	{Term: "хліб", Translation: "bread", Level: "B1"},
	{Term: "молоко", Translation: "milk", Level: "B1"},
	{Term: "яблуко", Translation: "apple", Level: "B1"},
	{Term: "книга", Translation: "book", Level: "B1"},
	{Term: "стіл", Translation: "table", Level: "B1"},
	{Term: "вікно", Translation: "window", Level: "B1"},
	{Term: "двері", Translation: "door", Level: "B1"},
	{Term: "будинок", Translation: "house", Level: "B1"},
	{Term: "машина", Translation: "car", Level: "B1"},
	{Term: "собака", Translation: "dog", Level: "B1"},
	{Term: "кіт", Translation: "cat", Level: "B1"},
	{Term: "друг", Translation: "friend", Level: "B1"},
	{Term: "час", Translation: "time", Level: "B1"},
	{Term: "день", Translation: "day", Level: "B1"},
	{Term: "ніч", Translation: "night", Level: "B1"},
	{Term: "місто", Translation: "city", Level: "B1"},
	{Term: "країна", Translation: "country", Level: "B2"},
	{Term: "подорож", Translation: "journey", Level: "B2"},
	{Term: "досвід", Translation: "experience", Level: "B2"},
	{Term: "рішення", Translation: "decision", Level: "B2"},
	{Term: "зустріч", Translation: "meeting", Level: "B2"},
	{Term: "розвиток", Translation: "development", Level: "B2"},
	{Term: "середовище", Translation: "environment", Level: "B2"},
	{Term: "відповідальність", Translation: "responsibility", Level: "B2"},
}

// SeedWordsIfEmpty loads the starter corpus on first boot. Returns the
// number of words inserted.
func SeedWordsIfEmpty(db *gorm.DB) (int, error) {
	var count int64
	if err := db.Model(&Word{}).Count(&count).Error; err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	for i := range seedWords {
		w := seedWords[i]
		w.ID = fmt.Sprintf("seed-%03d", i+1)
		if err := db.Create(&w).Error; err != nil {
			return 0, err
		}
		entry := DictionaryEntry{
			Term:        w.Term,
			Translation: w.Translation,
			Source:      "seed",
			CreatedAt:   now,
		}
		if err := db.Create(&entry).Error; err != nil {
			return 0, err
		}
	}
	return len(seedWords), nil
}
