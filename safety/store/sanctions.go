package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Everything needed to commit a sanction against a profile.
type Sanction struct {
	CommunityID string
	UserID      string
	Kind        string
	Reason      string
	Confidence  float64
	Notified    bool
	Duration    time.Duration
	Source      string
	// if non-empty, a second commit with the same key is a no-op
	IdempotencyKey string
	RiskBump       float64
	MarkThreat     bool
	At             time.Time
}

func counterColumn(kind string) (string, error) {
	switch kind {
	case ActionWarn:
		return "warnings", nil
	case ActionMute:
		return "mutes", nil
	case ActionKick:
		return "kicks", nil
	case ActionBan:
		return "bans", nil
	}
	return "", fmt.Errorf("not a sanction kind: %s", kind)
}

// Commits a sanction: appends the action record, increments the matching sanction counter, bumps risk, and updates status fields, all in one transaction.
//
// Returns the new action record, or nil if a record with the same idempotency key already exists (in which case nothing is changed).
func (s *Store) ApplySanction(ctx context.Context, sn Sanction) (*ActionRecord, error) {
	col, err := counterColumn(sn.Kind)
	if err != nil {
		return nil, err
	}
	at := sn.At.UTC()
	rec := ActionRecord{
		UserID:      sn.UserID,
		CommunityID: sn.CommunityID,
		Kind:        sn.Kind,
		Reason:      sn.Reason,
		Confidence:  sn.Confidence,
		Notified:    sn.Notified,
		DurationSec: int64(sn.Duration / time.Second),
		Source:      sn.Source,
		CreatedAt:   at,
	}
	if sn.IdempotencyKey != "" {
		key := sn.IdempotencyKey
		rec.IdempotencyKey = &key
	}

	applied := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		updates := map[string]any{
			col:    gorm.Expr(col + " + 1"),
			"risk": clampedAdd("risk", sn.RiskBump),
		}
		switch sn.Kind {
		case ActionWarn:
			updates["last_warning"] = at
		case ActionMute:
			until := at.Add(sn.Duration)
			updates["muted_until"] = until
		case ActionBan:
			updates["banned"] = true
		}
		if sn.MarkThreat {
			updates["is_threat"] = true
		}
		return subject(tx, sn.CommunityID, sn.UserID).Updates(updates).Error
	})
	if err != nil {
		return nil, fmt.Errorf("applying %s sanction: %w", sn.Kind, err)
	}
	if !applied {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) ActionExists(ctx context.Context, idempotencyKey string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&ActionRecord{}).Where("idempotency_key = ?", idempotencyKey).Count(&n).Error
	return n > 0, err
}

func (s *Store) RecentActions(ctx context.Context, communityID, userID string, limit int) ([]ActionRecord, error) {
	var out []ActionRecord
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ?", communityID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// Most recent action of the given kind against a profile.
func (s *Store) LatestAction(ctx context.Context, communityID, userID, kind string) (*ActionRecord, error) {
	var rec ActionRecord
	err := s.db.WithContext(ctx).
		Where("community_id = ? AND user_id = ? AND kind = ?", communityID, userID, kind).
		Order("created_at DESC, id DESC").
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Reverses the sanction named by an approved appeal: decrements the sanction counter by one, lifts the ban or mute, resets risk to the floor, clears the threat flag, and appends an unban/unmute action record.
//
// The appeal's executed flag gates the whole operation: returns false, with no changes, if the appeal was already executed.
func (s *Store) ReverseSanction(ctx context.Context, appeal *Appeal, riskFloor float64, notified bool, at time.Time) (bool, error) {
	col, err := counterColumn(appeal.SanctionKind)
	if err != nil {
		return false, err
	}
	at = at.UTC()
	reverseKind := ActionUnmute
	if appeal.SanctionKind == ActionBan {
		reverseKind = ActionUnban
	}

	reversed := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Appeal{}).
			Where("id = ? AND executed = ? AND decision = ?", appeal.ID, false, DecisionApprove).
			Updates(map[string]any{"executed": true, "state": AppealReversed})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		reversed = true
		updates := map[string]any{
			col:         floorDecrement(col),
			"risk":      clampScore(riskFloor),
			"is_threat": false,
		}
		if appeal.SanctionKind == ActionBan {
			updates["banned"] = false
		} else {
			updates["muted_until"] = nil
		}
		if err := subject(tx, appeal.CommunityID, appeal.UserID).Updates(updates).Error; err != nil {
			return err
		}
		key := fmt.Sprintf("appeal/%d/%s", appeal.ID, reverseKind)
		return tx.Create(&ActionRecord{
			UserID:         appeal.UserID,
			CommunityID:    appeal.CommunityID,
			Kind:           reverseKind,
			Reason:         "appeal approved",
			Confidence:     appeal.Confidence,
			Notified:       notified,
			Source:         fmt.Sprintf("appeal/%d", appeal.ID),
			IdempotencyKey: &key,
			CreatedAt:      at,
		}).Error
	})
	if err != nil {
		return false, fmt.Errorf("reversing sanction: %w", err)
	}
	if reversed {
		appeal.Executed = true
		appeal.State = AppealReversed
	}
	return reversed, nil
}
