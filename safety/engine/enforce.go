package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/sentinel/safety/classifier"
	"github.com/bluesky-social/sentinel/safety/countstore"
	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/store"
)

// counter name for daily enforcement quotas (circuit breakers)
const quotaCounter = "sentinel-quota"

// A decided sanction, not yet executed.
type sanction struct {
	CommunityID string
	UserID      string
	Kind        string
	Reason      string
	Confidence  float64
	Duration    time.Duration
	// "message/<id>" or "investigation/<id>"
	Source     string
	MarkThreat bool
	// offending message, deleted if still present
	ChannelID string
	MessageID string
	// set when the circuit breaker replaced the original kind with a mute
	DowngradedFrom string
	// investigation-driven sanctions don't re-queue the profile for investigation
	FromInvestigation bool
}

func (sn *sanction) idempotencyKey() string {
	return sn.Source + "/" + sn.Kind
}

// Picks the sanction (if any) for a classified message, given the author's current profile. Rule-based only: never consults the oracle.
//
// Precedence: instant threat patterns, then spam, then continuous toxicity.
func (eng *Engine) decide(v *classifier.Verdict, p *store.Profile) *sanction {
	sn := &sanction{
		CommunityID: p.CommunityID,
		UserID:      p.UserID,
	}
	switch {
	case v.Threat != nil && v.Threat.Action == classifier.ActionBan:
		sn.Kind = ActionBan
		sn.Confidence = v.Threat.Confidence
		sn.Reason = "threat:" + v.Threat.PatternID
		sn.MarkThreat = true
	case v.Threat != nil:
		sn.Kind = ActionMute
		sn.Duration = eng.Policy.MuteDuration(p.Mutes)
		sn.Confidence = v.Threat.Confidence
		sn.Reason = "threat:" + v.Threat.PatternID
		sn.MarkThreat = true
	case v.Spam != nil:
		sn.Reason = "spam:" + string(v.Spam.Kind)
		sn.Confidence = 1.0
		if p.Warnings < eng.Policy.WarningsBeforeMute {
			sn.Kind = ActionWarn
		} else {
			sn.Kind = ActionMute
			sn.Duration = eng.Policy.MuteDuration(p.Mutes)
		}
	case v.Analysis.Toxicity >= eng.Policy.ToxicityHigh:
		sn.Kind = ActionMute
		sn.Duration = eng.Policy.MuteDuration(p.Mutes)
		sn.Confidence = v.Analysis.Toxicity
		sn.Reason = toxicityReason(v.Analysis)
	case v.Analysis.Toxicity >= eng.Policy.ToxicityLow:
		sn.Kind = ActionWarn
		sn.Confidence = v.Analysis.Toxicity
		sn.Reason = toxicityReason(v.Analysis)
	default:
		return nil
	}
	return sn
}

func toxicityReason(a classifier.Analysis) string {
	reason := fmt.Sprintf("toxicity %.2f", a.Toxicity)
	if len(a.Flags) > 0 {
		reason += " (" + strings.Join(a.Flags, ", ") + ")"
	}
	return reason
}

// Replaces a ban or kick with a mute once the community's daily quota for that kind is used up.
func (eng *Engine) circuitBreak(ctx context.Context, sn *sanction, priorMutes int64) {
	var quota int
	switch sn.Kind {
	case ActionBan:
		quota = eng.Policy.QuotaBanDay
	case ActionKick:
		quota = eng.Policy.QuotaKickDay
	default:
		return
	}
	c, err := eng.Counters.GetCount(ctx, quotaCounter, sn.Kind+"/"+sn.CommunityID, countstore.PeriodDay, eng.now())
	if err != nil {
		eng.Logger.Warn("reading enforcement quota", "community", sn.CommunityID, "kind", sn.Kind, "err", err)
		return
	}
	if c < quota {
		return
	}
	eng.Logger.Warn("CIRCUIT BREAKER: daily quota reached, downgrading to mute", "community", sn.CommunityID, "kind", sn.Kind, "quota", quota)
	circuitBreakerTrips.WithLabelValues(sn.Kind).Inc()
	alert := notify.Alert{
		CommunityID: sn.CommunityID,
		Kind:        notify.KindCircuitBreak,
		Title:       fmt.Sprintf("Circuit breaker: daily %s quota (%d) reached", sn.Kind, quota),
		Body:        fmt.Sprintf("%s against %s downgraded to a mute (%s)", sn.Kind, sn.UserID, sn.Reason),
	}
	if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
		eng.Logger.Error("sending circuit breaker alert", "community", sn.CommunityID, "err", err)
	}
	sn.DowngradedFrom = sn.Kind
	sn.Kind = ActionMute
	sn.Duration = eng.Policy.MuteDuration(priorMutes)
}

// Executes a sanction: best-effort platform calls (delete, apply, notify), then the atomic store commit, then the operator summary.
//
// Returns the new action record, or nil if this exact sanction was already committed (eg, an event replayed after a restart).
func (eng *Engine) enforce(ctx context.Context, sn *sanction, priorMutes int64) (*store.ActionRecord, error) {
	eng.circuitBreak(ctx, sn, priorMutes)
	logger := eng.Logger.With("user", sn.UserID, "community", sn.CommunityID, "kind", sn.Kind)

	key := sn.idempotencyKey()
	exists, err := eng.Store.ActionExists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("checking for prior action: %w", err)
	}
	if exists {
		logger.Debug("skipping already-committed sanction", "key", key)
		return nil, nil
	}

	notified := eng.applyOnPlatform(ctx, sn)

	rec, err := eng.Store.ApplySanction(ctx, store.Sanction{
		CommunityID:    sn.CommunityID,
		UserID:         sn.UserID,
		Kind:           sn.Kind,
		Reason:         sn.Reason,
		Confidence:     sn.Confidence,
		Notified:       notified,
		Duration:       sn.Duration,
		Source:         sn.Source,
		IdempotencyKey: key,
		RiskBump:       eng.Policy.RiskBump(sn.Kind),
		MarkThreat:     sn.MarkThreat,
		At:             eng.now(),
	})
	if err != nil {
		return nil, err
	}
	if rec == nil {
		logger.Debug("concurrent duplicate sanction dropped", "key", key)
		return nil, nil
	}
	logger.Info("sanction applied", "reason", sn.Reason, "confidence", sn.Confidence, "duration", sn.Duration, "notified", notified, "source", sn.Source)
	sanctionCount.WithLabelValues(sn.Kind).Inc()

	if sn.Kind == ActionBan || sn.Kind == ActionKick {
		if err := eng.Counters.Increment(ctx, quotaCounter, sn.Kind+"/"+sn.CommunityID, eng.now()); err != nil {
			logger.Warn("incrementing enforcement quota", "err", err)
		}
		eng.Classifier.Forget(sn.CommunityID, sn.UserID)
	}

	alert := notify.Alert{
		CommunityID: sn.CommunityID,
		Kind:        notify.KindSanction,
		Title:       fmt.Sprintf("Automated %s", sn.Kind),
		Body:        renderOperatorSummary(sn, notified),
	}
	if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
		logger.Error("sending operator summary", "err", err)
	}

	if sn.Kind == ActionMute && !sn.FromInvestigation {
		eng.checkMuteEscalation(ctx, sn.CommunityID, sn.UserID)
	}
	return rec, nil
}

// Platform side of a sanction. Every call is best-effort and bounded by the gateway timeout; returns whether the user notification was delivered.
func (eng *Engine) applyOnPlatform(ctx context.Context, sn *sanction) bool {
	logger := eng.Logger.With("user", sn.UserID, "community", sn.CommunityID, "kind", sn.Kind)
	ctx, cancel := context.WithTimeout(ctx, eng.Policy.GatewayTimeout)
	defer cancel()

	if sn.MessageID != "" {
		sample, err := eng.Store.GetSample(ctx, sn.MessageID)
		if err != nil || !sample.Deleted {
			if err := eng.Gateway.DeleteMessage(ctx, sn.CommunityID, sn.ChannelID, sn.MessageID); err != nil {
				logger.Error("failed to delete message", "message", sn.MessageID, "err", err)
				gatewayFailures.WithLabelValues("delete").Inc()
			}
		}
	}

	var err error
	switch sn.Kind {
	case ActionMute:
		err = eng.Gateway.Timeout(ctx, sn.CommunityID, sn.UserID, sn.Duration, sn.Reason)
	case ActionKick:
		err = eng.Gateway.Kick(ctx, sn.CommunityID, sn.UserID, sn.Reason)
	case ActionBan:
		err = eng.Gateway.Ban(ctx, sn.CommunityID, sn.UserID, sn.Reason)
	}
	if err != nil {
		logger.Error("failed to apply sanction on platform", "err", err)
		gatewayFailures.WithLabelValues(sn.Kind).Inc()
	}

	notice := renderUserNotice(sn.Kind, sn.CommunityID, sn.Reason, sn.Duration)
	if err := eng.Gateway.NotifyUser(ctx, sn.CommunityID, sn.UserID, notice); err != nil {
		logger.Warn("failed to notify user", "err", err)
		gatewayFailures.WithLabelValues("notify").Inc()
		return false
	}
	return true
}

// Queues an investigation once a profile has accumulated enough mutes.
func (eng *Engine) checkMuteEscalation(ctx context.Context, communityID, userID string) {
	p, err := eng.Store.GetProfile(ctx, communityID, userID)
	if err != nil {
		eng.Logger.Warn("re-reading profile after mute", "user", userID, "community", communityID, "err", err)
		return
	}
	if p.Mutes >= eng.Policy.MutesBeforeInvestigation {
		eng.Enqueue(ctx, communityID, userID, fmt.Sprintf("mute-escalation (%d mutes)", p.Mutes))
	}
}
