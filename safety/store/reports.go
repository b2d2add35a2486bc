package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Aggregate counts for one community over a time range, read from the append-only logs.
type Aggregate struct {
	Messages        int64
	Deletions       int64
	ActionsByKind   map[string]int64
	Investigations  int64
	AppealsApproved int64
	AppealsDenied   int64
}

type kindCount struct {
	Kind  string
	Count int64
}

func (s *Store) Aggregate(ctx context.Context, communityID string, from, to time.Time) (*Aggregate, error) {
	from, to = from.UTC(), to.UTC()
	db := s.db.WithContext(ctx)
	agg := Aggregate{ActionsByKind: map[string]int64{}}

	if err := db.Model(&ContentSample{}).
		Where("community_id = ? AND created_at >= ? AND created_at < ?", communityID, from, to).
		Count(&agg.Messages).Error; err != nil {
		return nil, fmt.Errorf("counting messages: %w", err)
	}
	if err := db.Model(&ContentSample{}).
		Where("community_id = ? AND deleted = ? AND deleted_at >= ? AND deleted_at < ?", communityID, true, from, to).
		Count(&agg.Deletions).Error; err != nil {
		return nil, fmt.Errorf("counting deletions: %w", err)
	}

	var kinds []kindCount
	if err := db.Model(&ActionRecord{}).
		Select("kind, count(*) as count").
		Where("community_id = ? AND created_at >= ? AND created_at < ?", communityID, from, to).
		Group("kind").
		Scan(&kinds).Error; err != nil {
		return nil, fmt.Errorf("counting actions: %w", err)
	}
	for _, k := range kinds {
		agg.ActionsByKind[k.Kind] = k.Count
	}

	if err := db.Model(&Investigation{}).
		Where("community_id = ? AND created_at >= ? AND created_at < ?", communityID, from, to).
		Count(&agg.Investigations).Error; err != nil {
		return nil, fmt.Errorf("counting investigations: %w", err)
	}

	var decisions []kindCount
	if err := db.Model(&Appeal{}).
		Select("decision as kind, count(*) as count").
		Where("community_id = ? AND decided_at >= ? AND decided_at < ?", communityID, from, to).
		Group("decision").
		Scan(&decisions).Error; err != nil {
		return nil, fmt.Errorf("counting appeals: %w", err)
	}
	for _, d := range decisions {
		switch d.Kind {
		case DecisionApprove:
			agg.AppealsApproved = d.Count
		case DecisionDeny:
			agg.AppealsDenied = d.Count
		}
	}
	return &agg, nil
}

// Inserts the report unless one already exists for the same community and day. Returns false if a report already existed (the stored one is not modified).
func (s *Store) InsertReport(ctx context.Context, r *DailyReport) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(r)
	if res.Error != nil {
		return false, fmt.Errorf("inserting daily report: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) GetReport(ctx context.Context, communityID, day string) (*DailyReport, error) {
	var r DailyReport
	err := s.db.WithContext(ctx).Where("community_id = ? AND day = ?", communityID, day).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Most recent reports for a community, newest first.
func (s *Store) ListReports(ctx context.Context, communityID string, limit int) ([]DailyReport, error) {
	var out []DailyReport
	err := s.db.WithContext(ctx).
		Where("community_id = ?", communityID).
		Order("day DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
