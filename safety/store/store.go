package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("record not found")

// Owns all persistent engine state: profiles and the append-only logs.
//
// Profile mutations are exposed as narrow, atomic operations (SQL-level increments and clamped score updates); callers never read-modify-write profile rows themselves.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Creates or updates all tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("migrating store tables: %w", err)
	}
	return nil
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// SQL expression for "col + delta", clamped to [ScoreMin, ScoreMax]
func clampedAdd(col string, delta float64) clause.Expr {
	return gorm.Expr(
		fmt.Sprintf("CASE WHEN %[1]s + ? > ? THEN ? WHEN %[1]s + ? < ? THEN ? ELSE %[1]s + ? END", col),
		delta, ScoreMax, ScoreMax, delta, ScoreMin, ScoreMin, delta,
	)
}

// SQL expression for "col * keep + add", clamped to [ScoreMin, ScoreMax]
func clampedBlend(col string, keep, add float64) clause.Expr {
	return gorm.Expr(
		fmt.Sprintf("CASE WHEN %[1]s * ? + ? > ? THEN ? WHEN %[1]s * ? + ? < ? THEN ? ELSE %[1]s * ? + ? END", col),
		keep, add, ScoreMax, ScoreMax, keep, add, ScoreMin, ScoreMin, keep, add,
	)
}

// SQL expression decrementing a counter by one, never below zero
func floorDecrement(col string) clause.Expr {
	return gorm.Expr(fmt.Sprintf("CASE WHEN %[1]s > 0 THEN %[1]s - 1 ELSE 0 END", col))
}

func clampScore(v float64) float64 {
	if v < ScoreMin {
		return ScoreMin
	}
	if v > ScoreMax {
		return ScoreMax
	}
	return v
}

func subject(db *gorm.DB, communityID, userID string) *gorm.DB {
	return db.Model(&Profile{}).Where("community_id = ? AND user_id = ?", communityID, userID)
}

func dayOf(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
