package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bluesky-social/sentinel/safety/notify"
)

// Summary of one anomaly sweep.
type SweepResult struct {
	Communities int
	Spikes      int
	Deletions   int
	Raids       int
	Queued      int
}

// Scans every active community for statistical outliers. Message spikes and high deletion ratios feed the investigation queue; join raids alert operators directly.
func (eng *Engine) Sweep(ctx context.Context) (SweepResult, error) {
	ctx, span := tracer.Start(ctx, "Sweep")
	defer span.End()

	var res SweepResult
	now := eng.now()
	communities, err := eng.Store.ActiveCommunities(ctx, now.Add(-eng.Policy.DeletionWindow))
	if err != nil {
		return res, fmt.Errorf("listing active communities: %w", err)
	}
	res.Communities = len(communities)
	for _, c := range communities {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		spikes, err := eng.Store.MessageSpikes(ctx, c, now.Add(-eng.Policy.SpikeWindow), eng.Policy.SpikeThreshold)
		if err != nil {
			eng.Logger.Error("sweeping message spikes", "community", c, "err", err)
		}
		for _, s := range spikes {
			res.Spikes++
			if eng.Enqueue(ctx, c, s.UserID, fmt.Sprintf("message-spike (%d messages in %s)", s.Count, eng.Policy.SpikeWindow)) {
				res.Queued++
			}
		}

		ratios, err := eng.Store.DeletionRatios(ctx, c, now.Add(-eng.Policy.DeletionWindow), eng.Policy.DeletionMinSample)
		if err != nil {
			eng.Logger.Error("sweeping deletion ratios", "community", c, "err", err)
		}
		for _, r := range ratios {
			if r.Ratio() <= eng.Policy.DeletionRatio {
				continue
			}
			res.Deletions++
			if eng.Enqueue(ctx, c, r.UserID, fmt.Sprintf("deletion-ratio (%d of %d deleted)", r.Deleted, r.Total)) {
				res.Queued++
			}
		}
	}

	for _, c := range eng.joins.Communities() {
		if eng.checkRaid(ctx, c, eng.joins.Count(c, now), now) {
			res.Raids++
		}
	}
	eng.pruneRaidAlerts(now)
	anomalyFlags.WithLabelValues("spike").Add(float64(res.Spikes))
	anomalyFlags.WithLabelValues("deletion").Add(float64(res.Deletions))
	eng.Logger.Debug("anomaly sweep complete", "communities", res.Communities, "spikes", res.Spikes, "deletions", res.Deletions, "raids", res.Raids, "queued", res.Queued)
	return res, nil
}

// Alerts operators if the community's join count in the trailing window reaches the raid threshold. Repeat alerts for the same community are suppressed for one window. Never queues investigations.
func (eng *Engine) checkRaid(ctx context.Context, communityID string, joins int, now time.Time) bool {
	if joins < eng.Policy.RaidThreshold {
		return false
	}
	eng.raidMu.Lock()
	last, seen := eng.raidAlerts[communityID]
	if seen && now.Sub(last) < eng.Policy.RaidWindow {
		eng.raidMu.Unlock()
		return false
	}
	eng.raidAlerts[communityID] = now
	eng.raidMu.Unlock()

	eng.Logger.Warn("raid detected", "community", communityID, "joins", joins, "window", eng.Policy.RaidWindow)
	raidAlerts.Inc()
	alert := notify.Alert{
		CommunityID: communityID,
		Kind:        notify.KindRaid,
		Title:       "Possible raid in progress",
		Body:        fmt.Sprintf("%d joins in the last %s", joins, eng.Policy.RaidWindow),
	}
	if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
		eng.Logger.Error("sending raid alert", "community", communityID, "err", err)
	}
	return true
}

func (eng *Engine) pruneRaidAlerts(now time.Time) {
	eng.raidMu.Lock()
	defer eng.raidMu.Unlock()
	for c, at := range eng.raidAlerts {
		if now.Sub(at) >= eng.Policy.RaidWindow {
			delete(eng.raidAlerts, c)
		}
	}
}
