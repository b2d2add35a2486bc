package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"

	"go.opentelemetry.io/otel/attribute"
)

// Most severe sanction currently in force against the profile: an active ban takes priority over an unexpired mute. Returns "" if none.
func activeSanction(p *store.Profile, now time.Time) string {
	if p.Banned {
		return ActionBan
	}
	if p.MutedUntil != nil && p.MutedUntil.After(now) {
		return ActionMute
	}
	return ""
}

// Opens an appeal against the user's most severe active sanction.
func (eng *Engine) SubmitAppeal(ctx context.Context, communityID, userID, text string, at time.Time) (*store.Appeal, error) {
	logger := eng.Logger.With("user", userID, "community", communityID)
	p, err := eng.Store.GetProfile(ctx, communityID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoActiveSanction
	}
	if err != nil {
		return nil, err
	}
	kind := activeSanction(p, at)
	if kind == "" {
		return nil, ErrNoActiveSanction
	}
	a := &store.Appeal{
		UserID:       userID,
		CommunityID:  communityID,
		SanctionKind: kind,
		Message:      text,
		CreatedAt:    at,
	}
	if rec, err := eng.Store.LatestAction(ctx, communityID, userID, kind); err == nil {
		a.SanctionActionID = rec.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if err := eng.Store.CreateAppeal(ctx, a); err != nil {
		if errors.Is(err, store.ErrAppealPending) {
			logger.Info("rejected appeal, another is still pending")
		}
		return nil, err
	}
	logger.Info("appeal submitted", "appeal", a.ID, "sanction", kind)
	appealCount.WithLabelValues("submitted").Inc()
	return a, nil
}

// Finishes approved appeals whose reversal did not commit, then reviews up to one batch of undecided appeals, oldest first. Returns the number of appeals processed.
func (eng *Engine) DrainAppeals(ctx context.Context) (int, error) {
	stuck, err := eng.Store.UnexecutedApprovals(ctx, eng.Policy.AppealBatch)
	if err != nil {
		return 0, fmt.Errorf("listing unexecuted approvals: %w", err)
	}
	for i := range stuck {
		a := &stuck[i]
		eng.Logger.Warn("resuming reversal of approved appeal", "appeal", a.ID, "user", a.UserID, "community", a.CommunityID)
		if _, err := eng.reverse(ctx, a); err != nil {
			eng.Logger.Error("appeal reversal failed", "appeal", a.ID, "err", err)
		}
	}

	pending, err := eng.Store.PendingAppeals(ctx, eng.Policy.AppealBatch)
	if err != nil {
		return len(stuck), fmt.Errorf("listing pending appeals: %w", err)
	}
	for i := range pending {
		if err := eng.reviewAppeal(ctx, &pending[i]); err != nil {
			eng.Logger.Error("appeal review failed", "appeal", pending[i].ID, "err", err)
		}
	}
	return len(stuck) + len(pending), nil
}

func (eng *Engine) reviewAppeal(ctx context.Context, a *store.Appeal) error {
	ctx, span := tracer.Start(ctx, "ReviewAppeal")
	defer span.End()
	span.SetAttributes(attribute.Int64("appeal", int64(a.ID)))
	logger := eng.Logger.With("user", a.UserID, "community", a.CommunityID, "appeal", a.ID)

	p, err := eng.Store.GetProfile(ctx, a.CommunityID, a.UserID)
	if err != nil {
		return err
	}
	ev, err := eng.gatherEvidence(ctx, p, "appeal")
	if err != nil {
		return err
	}
	ev.SanctionKind = a.SanctionKind
	ev.Rebuttal = a.Message

	octx, cancel := context.WithTimeout(ctx, eng.Policy.OracleTimeout)
	av, err := eng.Judge.ReviewAppeal(octx, ev)
	cancel()
	if err != nil {
		// the safest default is a denial; the user may appeal again
		logger.Warn("appeal review produced no verdict, denying", "err", err)
		oracleFailures.WithLabelValues("appeal").Inc()
		av = &oracle.AppealVerdict{
			Decision:   oracle.DecisionDeny,
			Reasoning:  "no verdict from reviewer",
			Confidence: 0,
		}
	}
	if err := eng.Store.MarkAppealReviewed(ctx, a.ID, av.Raw); err != nil {
		return err
	}

	a.Review = av.Raw
	a.Decision = av.Decision
	a.Reason = av.Reasoning
	a.Confidence = av.Confidence
	if a.Decision == store.DecisionApprove && a.Confidence < eng.Policy.HighConfidence {
		a.Decision = store.DecisionDeny
		a.Reason = fmt.Sprintf("approval confidence %.2f below threshold: %s", av.Confidence, av.Reasoning)
	}
	decided, err := eng.Store.DecideAppeal(ctx, a, eng.now())
	if err != nil {
		return err
	}
	if !decided {
		logger.Debug("appeal already decided")
		return nil
	}
	appealCount.WithLabelValues(a.Decision).Inc()
	logger.Info("appeal decided", "decision", a.Decision, "confidence", a.Confidence)

	reversed := false
	if a.Decision == store.DecisionApprove {
		reversed, err = eng.reverse(ctx, a)
		if err != nil {
			return err
		}
	} else {
		text := fmt.Sprintf("Your appeal against the %s in %s was reviewed and denied.", a.SanctionKind, a.CommunityID)
		if err := eng.Gateway.NotifyUser(ctx, a.CommunityID, a.UserID, text); err != nil {
			logger.Warn("failed to notify user of appeal denial", "err", err)
			gatewayFailures.WithLabelValues("notify").Inc()
		}
	}

	alert := notify.Alert{
		CommunityID: a.CommunityID,
		Kind:        notify.KindAppeal,
		Title:       fmt.Sprintf("Appeal %d by %s: %s", a.ID, a.UserID, a.Decision),
		Body: fmt.Sprintf("sanction: %s\nconfidence: %.2f\nreason: %s\nreversed: %t",
			a.SanctionKind, a.Confidence, a.Reason, reversed),
	}
	if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
		logger.Error("sending appeal alert", "err", err)
	}
	return nil
}

// Lifts an approved appeal's sanction on the platform, then commits the reversal. The appeal's executed flag makes the commit happen at most once.
func (eng *Engine) reverse(ctx context.Context, a *store.Appeal) (bool, error) {
	logger := eng.Logger.With("user", a.UserID, "community", a.CommunityID, "appeal", a.ID)
	if a.Executed {
		return false, nil
	}

	gctx, cancel := context.WithTimeout(ctx, eng.Policy.GatewayTimeout)
	defer cancel()
	reverseKind := ActionUnmute
	var err error
	if a.SanctionKind == ActionBan {
		reverseKind = ActionUnban
		err = eng.Gateway.Unban(gctx, a.CommunityID, a.UserID, "appeal approved")
	} else {
		err = eng.Gateway.RemoveTimeout(gctx, a.CommunityID, a.UserID, "appeal approved")
	}
	if err != nil {
		logger.Error("failed to lift sanction on platform", "err", err)
		gatewayFailures.WithLabelValues(reverseKind).Inc()
	}
	notified := true
	notice := renderUserNotice(reverseKind, a.CommunityID, "", 0)
	if err := eng.Gateway.NotifyUser(gctx, a.CommunityID, a.UserID, notice); err != nil {
		logger.Warn("failed to notify user of reversal", "err", err)
		gatewayFailures.WithLabelValues("notify").Inc()
		notified = false
	}

	reversed, err := eng.Store.ReverseSanction(ctx, a, eng.Policy.RehabilitationFloor, notified, eng.now())
	if err != nil {
		return false, err
	}
	if reversed {
		logger.Info("sanction reversed", "kind", a.SanctionKind)
		sanctionCount.WithLabelValues(reverseKind).Inc()
	}
	return reversed, nil
}
