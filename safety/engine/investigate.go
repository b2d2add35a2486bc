package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"

	"go.opentelemetry.io/otel/attribute"
)

// Queues a profile for investigation, unless it is already queued or under investigation. Returns true if queued.
func (eng *Engine) Enqueue(ctx context.Context, communityID, userID, reason string) bool {
	logger := eng.Logger.With("user", userID, "community", communityID)
	p, err := eng.Store.GetProfile(ctx, communityID, userID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warn("reading profile for investigation queue", "err", err)
		}
		return false
	}
	if p.UnderInvestigation {
		logger.Debug("already under investigation", "reason", reason)
		return false
	}
	if !eng.queue.Push(InvestigationItem{CommunityID: communityID, UserID: userID, Reason: reason}) {
		logger.Debug("already queued for investigation", "reason", reason)
		return false
	}
	logger.Info("queued for investigation", "reason", reason)
	investigationQueued.Inc()
	return true
}

// Investigates up to one batch of queued profiles, sequentially. Returns the number of items taken off the queue.
func (eng *Engine) DrainInvestigations(ctx context.Context) int {
	items := eng.queue.PopN(eng.Policy.InvestigationBatch)
	for _, it := range items {
		if err := eng.investigate(ctx, it); err != nil {
			eng.Logger.Error("investigation failed", "user", it.UserID, "community", it.CommunityID, "err", err)
		}
	}
	return len(items)
}

func (eng *Engine) investigate(ctx context.Context, it InvestigationItem) error {
	ctx, span := tracer.Start(ctx, "Investigate")
	defer span.End()
	span.SetAttributes(attribute.String("community", it.CommunityID), attribute.String("user", it.UserID))
	logger := eng.Logger.With("user", it.UserID, "community", it.CommunityID)

	prior, claimed, err := eng.Store.ClaimInvestigation(ctx, it.CommunityID, it.UserID, eng.now())
	if err != nil {
		return err
	}
	if !claimed {
		logger.Debug("skipping investigation, profile missing or already claimed")
		return nil
	}

	ev, err := eng.gatherEvidence(ctx, prior, it.Reason)
	if err != nil {
		if rerr := eng.Store.ReleaseInvestigation(ctx, it.CommunityID, it.UserID, prior.Status); rerr != nil {
			logger.Error("releasing investigation claim", "err", rerr)
		}
		return err
	}
	evidence, _ := json.Marshal(ev)

	octx, cancel := context.WithTimeout(ctx, eng.Policy.OracleTimeout)
	verdict, err := eng.Judge.Investigate(octx, ev)
	cancel()
	if err != nil {
		// no verdict: record the attempt, restore the prior status, take no action
		logger.Warn("investigation produced no verdict", "reason", it.Reason, "err", err)
		oracleFailures.WithLabelValues("investigate").Inc()
		inv := &store.Investigation{
			UserID:      it.UserID,
			CommunityID: it.CommunityID,
			Trigger:     it.Reason,
			Evidence:    string(evidence),
			NoVerdict:   true,
			CreatedAt:   eng.now(),
		}
		if ferr := eng.Store.FinishInvestigation(ctx, inv, prior.Status); ferr != nil {
			if rerr := eng.Store.ReleaseInvestigation(ctx, it.CommunityID, it.UserID, prior.Status); rerr != nil {
				logger.Error("releasing investigation claim", "err", rerr)
			}
			return ferr
		}
		investigationCount.WithLabelValues("no-verdict").Inc()
		return nil
	}

	inv := &store.Investigation{
		UserID:            it.UserID,
		CommunityID:       it.CommunityID,
		Trigger:           it.Reason,
		Evidence:          string(evidence),
		Verdict:           verdict.Raw,
		Label:             verdict.Label,
		Rationale:         verdict.Rationale,
		RecommendedAction: verdict.RecommendedAction,
		Confidence:        verdict.Confidence,
		CreatedAt:         eng.now(),
	}
	if err := eng.Store.FinishInvestigation(ctx, inv, verdict.Label); err != nil {
		if rerr := eng.Store.ReleaseInvestigation(ctx, it.CommunityID, it.UserID, prior.Status); rerr != nil {
			logger.Error("releasing investigation claim", "err", rerr)
		}
		return err
	}
	investigationCount.WithLabelValues(verdict.Label).Inc()
	logger.Info("investigation complete", "id", inv.ID, "label", verdict.Label, "recommend", verdict.RecommendedAction, "confidence", verdict.Confidence)

	if verdict.Label == oracle.LevelHigh || verdict.Label == oracle.LevelCritical {
		alert := notify.Alert{
			CommunityID: it.CommunityID,
			Kind:        notify.KindInvestigation,
			Title:       fmt.Sprintf("Investigation: %s threat level for %s", verdict.Label, it.UserID),
			Body: fmt.Sprintf("trigger: %s\nrecommended: %s (confidence %.2f)\nrationale: %s",
				it.Reason, verdict.RecommendedAction, verdict.Confidence, verdict.Rationale),
		}
		if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
			logger.Error("sending investigation alert", "err", err)
		}
	}

	if verdict.Confidence < eng.Policy.HighConfidence || !verdict.Actionable() {
		return nil
	}
	sn := &sanction{
		CommunityID:       it.CommunityID,
		UserID:            it.UserID,
		Kind:              verdict.RecommendedAction,
		Reason:            "investigation: " + verdict.Rationale,
		Confidence:        verdict.Confidence,
		Source:            fmt.Sprintf("investigation/%d", inv.ID),
		FromInvestigation: true,
	}
	if sn.Kind == ActionMute {
		sn.Duration = eng.Policy.MuteDuration(prior.Mutes)
	}
	if _, err := eng.enforce(ctx, sn, prior.Mutes); err != nil {
		return fmt.Errorf("enforcing investigation verdict: %w", err)
	}
	return nil
}

// Releases profiles left under investigation for too long (eg, by a crash mid-investigation), so they can be investigated again.
func (eng *Engine) RecoverStaleInvestigations(ctx context.Context) (int, error) {
	stale, err := eng.Store.StaleInvestigations(ctx, eng.now().Add(-eng.Policy.StaleInvestigation))
	if err != nil {
		return 0, err
	}
	for _, p := range stale {
		eng.Logger.Warn("releasing stale investigation claim", "user", p.UserID, "community", p.CommunityID, "status", p.PriorStatus)
		if err := eng.Store.ReleaseStaleInvestigation(ctx, p.CommunityID, p.UserID); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}
