package engine

import (
	"context"
	"fmt"

	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"
)

func subjectOf(p *store.Profile) oracle.Subject {
	return oracle.Subject{
		UserID:      p.UserID,
		CommunityID: p.CommunityID,
		Status:      p.Status,
		Trust:       p.Trust,
		Risk:        p.Risk,
		Toxicity:    p.Toxicity,
		Warnings:    p.Warnings,
		Mutes:       p.Mutes,
		Kicks:       p.Kicks,
		Bans:        p.Bans,
		IsThreat:    p.IsThreat,
		Messages:    p.TotalMessages,
		Deletions:   p.TotalDeletions,
		FirstSeen:   p.FirstSeen,
	}
}

// Snapshot of a profile for the oracle: score summary, recent content samples with their flags, and recent actions.
func (eng *Engine) gatherEvidence(ctx context.Context, p *store.Profile, trigger string) (oracle.Evidence, error) {
	ev := oracle.Evidence{
		Subject: subjectOf(p),
		Trigger: trigger,
	}
	samples, err := eng.Store.RecentSamples(ctx, p.CommunityID, p.UserID, eng.Policy.EvidenceSamples)
	if err != nil {
		return ev, fmt.Errorf("fetching content samples: %w", err)
	}
	for _, s := range samples {
		ev.Samples = append(ev.Samples, oracle.Sample{
			Text:    s.Text,
			Flags:   s.Flags,
			Deleted: s.Deleted,
			At:      s.CreatedAt,
		})
	}
	actions, err := eng.Store.RecentActions(ctx, p.CommunityID, p.UserID, eng.Policy.EvidenceSamples)
	if err != nil {
		return ev, fmt.Errorf("fetching recent actions: %w", err)
	}
	for _, a := range actions {
		ev.Actions = append(ev.Actions, oracle.PriorAction{
			Kind:       a.Kind,
			Reason:     a.Reason,
			Confidence: a.Confidence,
			At:         a.CreatedAt,
		})
	}
	return ev, nil
}
