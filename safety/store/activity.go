package store

import (
	"context"
	"time"
)

type UserMessageCount struct {
	UserID string
	Count  int64
}

type UserDeletionRatio struct {
	UserID  string
	Total   int64
	Deleted int64
}

func (r UserDeletionRatio) Ratio() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Deleted) / float64(r.Total)
}

// Users in a community who posted more than threshold messages since the cutoff.
func (s *Store) MessageSpikes(ctx context.Context, communityID string, since time.Time, threshold int) ([]UserMessageCount, error) {
	var out []UserMessageCount
	err := s.db.WithContext(ctx).Model(&ContentSample{}).
		Select("user_id, count(*) as count").
		Where("community_id = ? AND created_at >= ?", communityID, since.UTC()).
		Group("user_id").
		Having("count(*) > ?", threshold).
		Order("user_id").
		Scan(&out).Error
	return out, err
}

// Per-user message and deletion totals since the cutoff, for users with at least minSample messages.
func (s *Store) DeletionRatios(ctx context.Context, communityID string, since time.Time, minSample int) ([]UserDeletionRatio, error) {
	var out []UserDeletionRatio
	err := s.db.WithContext(ctx).Model(&ContentSample{}).
		Select("user_id, count(*) as total, sum(case when deleted then 1 else 0 end) as deleted").
		Where("community_id = ? AND created_at >= ?", communityID, since.UTC()).
		Group("user_id").
		Having("count(*) >= ?", minSample).
		Order("user_id").
		Scan(&out).Error
	return out, err
}
