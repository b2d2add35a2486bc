package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Initial scores for a profile on first sight.
const (
	InitialTrust = 50.0
	InitialRisk  = 0.0
)

// Creates the profile if it doesn't exist yet (with the given status), and returns the current row.
func (s *Store) EnsureProfile(ctx context.Context, communityID, userID, status string, now time.Time) (*Profile, error) {
	now = now.UTC()
	p := Profile{
		UserID:      userID,
		CommunityID: communityID,
		Trust:       InitialTrust,
		Risk:        InitialRisk,
		Status:      status,
		ActivityDay: dayOf(now),
		FirstSeen:   now,
		LastActive:  now,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	return s.GetProfile(ctx, communityID, userID)
}

func (s *Store) GetProfile(ctx context.Context, communityID, userID string) (*Profile, error) {
	var p Profile
	err := s.db.WithContext(ctx).Where("community_id = ? AND user_id = ?", communityID, userID).Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Records an inbound message: stores the content sample and bumps activity counters and the toxicity moving average, in one transaction.
//
// Returns false (and changes nothing) if the message was already recorded.
func (s *Store) RecordMessage(ctx context.Context, sample *ContentSample, toxicityAlpha float64) (bool, error) {
	sample.CreatedAt = sample.CreatedAt.UTC()
	day := dayOf(sample.CreatedAt)
	inserted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(sample)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		inserted = true
		return subject(tx, sample.CommunityID, sample.UserID).Updates(map[string]any{
			"total_messages": gorm.Expr("total_messages + 1"),
			"messages_today": gorm.Expr("CASE WHEN activity_day = ? THEN messages_today + 1 ELSE 1 END", day),
			"activity_day":   day,
			"last_active":    sample.CreatedAt,
			"toxicity":       clampedBlend("toxicity", 1-toxicityAlpha, toxicityAlpha*sample.Toxicity*ScoreMax),
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("recording message: %w", err)
	}
	return inserted, nil
}

// Marks a stored message as deleted, and bumps the author's deletion counter. Returns the sample, or ErrNotFound if the message was never seen.
//
// Repeated deletion notifications for the same message only count once.
func (s *Store) RecordDeletion(ctx context.Context, messageID string, at time.Time) (*ContentSample, error) {
	at = at.UTC()
	var sample ContentSample
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("message_id = ?", messageID).Take(&sample).Error; err != nil {
			return err
		}
		res := tx.Model(&ContentSample{}).
			Where("message_id = ? AND deleted = ?", messageID, false).
			Updates(map[string]any{"deleted": true, "deleted_at": at})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		sample.Deleted = true
		sample.DeletedAt = &at
		return subject(tx, sample.CommunityID, sample.UserID).
			Update("total_deletions", gorm.Expr("total_deletions + 1")).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("recording deletion: %w", err)
	}
	return &sample, nil
}

func (s *Store) GetSample(ctx context.Context, messageID string) (*ContentSample, error) {
	var sample ContentSample
	err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Take(&sample).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// Atomically adds delta to the risk score, clamped to bounds.
func (s *Store) AdjustRisk(ctx context.Context, communityID, userID string, delta float64) error {
	return subject(s.db.WithContext(ctx), communityID, userID).Update("risk", clampedAdd("risk", delta)).Error
}

// Atomically adds delta to the trust score, clamped to bounds.
func (s *Store) AdjustTrust(ctx context.Context, communityID, userID string, delta float64) error {
	return subject(s.db.WithContext(ctx), communityID, userID).Update("trust", clampedAdd("trust", delta)).Error
}

// Decays risk by step for every profile not active since the cutoff. Returns number of profiles touched.
func (s *Store) DecayRisk(ctx context.Context, inactiveSince time.Time, step float64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Profile{}).
		Where("last_active < ? AND risk > ?", inactiveSince.UTC(), ScoreMin).
		Update("risk", clampedAdd("risk", -step))
	return res.RowsAffected, res.Error
}

// Grows trust by step for every well-behaved profile active since the cutoff. Returns number of profiles touched.
func (s *Store) GrowTrust(ctx context.Context, activeSince time.Time, step, toxicityFloor float64) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Profile{}).
		Where("last_active >= ? AND warnings = 0 AND mutes = 0 AND toxicity < ? AND trust < ?", activeSince.UTC(), toxicityFloor, ScoreMax).
		Update("trust", clampedAdd("trust", step))
	return res.RowsAffected, res.Error
}

// Moves new accounts to normal status once they were first seen before the cutoff.
func (s *Store) GraduateNewAccounts(ctx context.Context, firstSeenBefore time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&Profile{}).
		Where("status = ? AND first_seen < ?", StatusNewAccount, firstSeenBefore.UTC()).
		Update("status", StatusNormal)
	return res.RowsAffected, res.Error
}

// Zeroes messages_today for profiles whose activity day is not the current UTC day.
func (s *Store) RolloverMessagesToday(ctx context.Context, now time.Time) (int64, error) {
	day := dayOf(now)
	res := s.db.WithContext(ctx).Model(&Profile{}).
		Where("activity_day <> ?", day).
		Updates(map[string]any{"messages_today": 0, "activity_day": day})
	return res.RowsAffected, res.Error
}

// Deletes content samples older than the cutoff. The action, investigation, and appeal logs are never pruned.
func (s *Store) PruneSamples(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("created_at < ?", before.UTC()).Delete(&ContentSample{})
	return res.RowsAffected, res.Error
}

func (s *Store) RecentSamples(ctx context.Context, communityID, userID string, limit int) ([]ContentSample, error) {
	var out []ContentSample
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Highest-risk profiles in a community, riskiest first.
func (s *Store) TopRiskProfiles(ctx context.Context, communityID string, limit int) ([]Profile, error) {
	var out []Profile
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND risk > ?", communityID, ScoreMin).
		Order("risk DESC, user_id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Distinct communities with any profile activity since the cutoff.
func (s *Store) ActiveCommunities(ctx context.Context, since time.Time) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&Profile{}).
		Where("last_active >= ?", since.UTC()).
		Distinct().
		Pluck("community_id", &out).Error
	return out, err
}

// Every known community.
func (s *Store) Communities(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).Model(&Profile{}).Distinct().Pluck("community_id", &out).Error
	return out, err
}
