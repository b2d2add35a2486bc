package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAppealPending = errors.New("an appeal is already pending for this user")

func openAppealKey(communityID, userID string) string {
	return communityID + "/" + userID
}

// Creates a new appeal in the submitted state. Returns ErrAppealPending if the user already has an undecided appeal in the community.
func (s *Store) CreateAppeal(ctx context.Context, a *Appeal) error {
	key := openAppealKey(a.CommunityID, a.UserID)
	a.OpenKey = &key
	a.State = AppealSubmitted
	a.Decision = ""
	a.Executed = false
	a.CreatedAt = a.CreatedAt.UTC()
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a)
	if res.Error != nil {
		return fmt.Errorf("creating appeal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAppealPending
	}
	return nil
}

func (s *Store) GetAppeal(ctx context.Context, id uint) (*Appeal, error) {
	var a Appeal
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Undecided appeals, oldest first.
func (s *Store) PendingAppeals(ctx context.Context, limit int) ([]Appeal, error) {
	var out []Appeal
	err := s.db.WithContext(ctx).
		Where("state IN ?", []string{AppealSubmitted, AppealReviewed}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Approved appeals whose reversal was never committed (the process stopped between the decision and the reversal), oldest first.
func (s *Store) UnexecutedApprovals(ctx context.Context, limit int) ([]Appeal, error) {
	var out []Appeal
	err := s.db.WithContext(ctx).
		Where("decision = ? AND executed = ?", DecisionApprove, false).
		Order("decided_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Stores the oracle's review text and moves the appeal to the reviewed state.
func (s *Store) MarkAppealReviewed(ctx context.Context, id uint, review string) error {
	return s.db.WithContext(ctx).Model(&Appeal{}).
		Where("id = ? AND state = ?", id, AppealSubmitted).
		Updates(map[string]any{"review": review, "state": AppealReviewed}).Error
}

// Records the decision on an undecided appeal. Returns false if the appeal was already decided (the stored decision is left unchanged).
func (s *Store) DecideAppeal(ctx context.Context, a *Appeal, at time.Time) (bool, error) {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&Appeal{}).
		Where("id = ? AND decision = ?", a.ID, "").
		Updates(map[string]any{
			"review":     a.Review,
			"decision":   a.Decision,
			"reason":     a.Reason,
			"confidence": a.Confidence,
			"state":      AppealDecided,
			"decided_at": at,
			"open_key":   nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("deciding appeal: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	a.State = AppealDecided
	a.DecidedAt = &at
	a.OpenKey = nil
	return true, nil
}
