package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Atomically marks a profile as under investigation. Returns the profile as it was before the claim, and false if it was already under investigation (or doesn't exist).
func (s *Store) ClaimInvestigation(ctx context.Context, communityID, userID string, at time.Time) (*Profile, bool, error) {
	var prior Profile
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("community_id = ? AND user_id = ?", communityID, userID).Take(&prior).Error; err != nil {
			return err
		}
		res := subject(tx, communityID, userID).
			Where("under_investigation = ?", false).
			Updates(map[string]any{
				"under_investigation": true,
				"prior_status":        gorm.Expr("status"),
				"status":              StatusUnderInvestigation,
				"last_investigation":  at.UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		claimed = res.RowsAffected == 1
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("claiming investigation: %w", err)
	}
	return &prior, claimed, nil
}

// Persists a finished investigation, clears the under-investigation flag, and sets profile status to the given value.
func (s *Store) FinishInvestigation(ctx context.Context, inv *Investigation, status string) error {
	inv.CreatedAt = inv.CreatedAt.UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(inv).Error; err != nil {
			return err
		}
		return subject(tx, inv.CommunityID, inv.UserID).Updates(map[string]any{
			"under_investigation": false,
			"status":              status,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("finishing investigation: %w", err)
	}
	return nil
}

// Clears the under-investigation flag without recording a result, restoring the prior status.
func (s *Store) ReleaseInvestigation(ctx context.Context, communityID, userID, priorStatus string) error {
	return subject(s.db.WithContext(ctx), communityID, userID).Updates(map[string]any{
		"under_investigation": false,
		"status":              priorStatus,
	}).Error
}

// Releases a stale claim, restoring the status recorded when the claim was made.
func (s *Store) ReleaseStaleInvestigation(ctx context.Context, communityID, userID string) error {
	return subject(s.db.WithContext(ctx), communityID, userID).
		Where("under_investigation = ?", true).
		Updates(map[string]any{
			"under_investigation": false,
			"status":              gorm.Expr("CASE WHEN prior_status = '' OR prior_status IS NULL THEN ? ELSE prior_status END", StatusNormal),
		}).Error
}

// Profiles left flagged as under investigation, eg by a crash mid-investigation.
func (s *Store) StaleInvestigations(ctx context.Context, claimedBefore time.Time) ([]Profile, error) {
	var out []Profile
	err := s.db.WithContext(ctx).
		Where("under_investigation = ? AND last_investigation < ?", true, claimedBefore.UTC()).
		Find(&out).Error
	return out, err
}

func (s *Store) RecentInvestigations(ctx context.Context, communityID, userID string, limit int) ([]Investigation, error) {
	var out []Investigation
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
