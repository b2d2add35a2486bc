package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/sentinel/safety/countstore"
	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"

	"github.com/flosch/pongo2/v6"
)

// One entry in a report's list of highest-risk profiles.
type RiskEntry struct {
	UserID string  `json:"user"`
	Risk   float64 `json:"risk"`
	Status string  `json:"status"`
	Bans   int64   `json:"bans"`
	Mutes  int64   `json:"mutes"`
}

var reportTemplate = pongo2.Must(pongo2.FromString(`Daily report for {{ r.CommunityID }} ({{ r.Day }})
messages: {{ r.Messages }}, deletions: {{ r.Deletions }}, active members: {{ r.ActiveUsers }}
actions: warn={{ r.Warns }} mute={{ r.Mutes }} kick={{ r.Kicks }} ban={{ r.Bans }}
investigations: {{ r.Investigations }}
appeals: approved={{ r.AppealsApproved }} denied={{ r.AppealsDenied }}
highest risk:{% for e in top %}
  {{ forloop.Counter }}. {{ e.UserID }} risk={{ e.Risk|floatformat:1 }} status={{ e.Status }}{% empty %} none{% endfor %}{% if r.Summary %}

{{ r.Summary }}{% endif %}`))

// Plain-text rendering of a stored report, for operators.
func RenderReport(r *store.DailyReport) string {
	var top []RiskEntry
	if r.TopRisk != "" {
		_ = json.Unmarshal([]byte(r.TopRisk), &top)
	}
	out, err := reportTemplate.Execute(pongo2.Context{"r": r, "top": top})
	if err != nil {
		return fmt.Sprintf("Daily report for %s (%s): %d messages", r.CommunityID, r.Day, r.Messages)
	}
	return out
}

// Generates and stores the report for one community and UTC day ("2006-01-02"), and delivers it to operators.
//
// Idempotent: if a report for that day already exists it is returned unchanged, with false.
func (eng *Engine) GenerateReport(ctx context.Context, communityID, day string) (*store.DailyReport, bool, error) {
	ctx, span := tracer.Start(ctx, "GenerateReport")
	defer span.End()
	logger := eng.Logger.With("community", communityID, "day", day)

	from, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return nil, false, fmt.Errorf("invalid report day %q: %w", day, err)
	}
	to := from.Add(24 * time.Hour)

	existing, err := eng.Store.GetReport(ctx, communityID, day)
	if err == nil {
		logger.Debug("report already generated")
		return existing, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	agg, err := eng.Store.Aggregate(ctx, communityID, from, to)
	if err != nil {
		return nil, false, err
	}
	profiles, err := eng.Store.TopRiskProfiles(ctx, communityID, eng.Policy.ReportTopN)
	if err != nil {
		return nil, false, fmt.Errorf("selecting top risk profiles: %w", err)
	}
	activeUsers, err := eng.Counters.GetCountDistinct(ctx, activeUsersCounter, communityID, countstore.PeriodDay, from)
	if err != nil {
		logger.Warn("reading active user count", "err", err)
	}

	top := make([]RiskEntry, 0, len(profiles))
	stats := oracle.ReportStats{
		CommunityID:     communityID,
		Day:             day,
		Messages:        agg.Messages,
		Deletions:       agg.Deletions,
		ActiveUsers:     int64(activeUsers),
		ActionsByKind:   agg.ActionsByKind,
		Investigations:  agg.Investigations,
		AppealsApproved: agg.AppealsApproved,
		AppealsDenied:   agg.AppealsDenied,
	}
	for i := range profiles {
		p := &profiles[i]
		top = append(top, RiskEntry{UserID: p.UserID, Risk: p.Risk, Status: p.Status, Bans: p.Bans, Mutes: p.Mutes})
		stats.TopRisk = append(stats.TopRisk, subjectOf(p))
	}
	topJSON, err := json.Marshal(top)
	if err != nil {
		return nil, false, err
	}

	octx, cancel := context.WithTimeout(ctx, eng.Policy.OracleTimeout)
	summary, err := eng.Judge.Summarize(octx, stats)
	cancel()
	if err != nil {
		logger.Warn("report summary unavailable", "err", err)
		oracleFailures.WithLabelValues("summarize").Inc()
		summary = ""
	}

	r := &store.DailyReport{
		CommunityID:     communityID,
		Day:             day,
		Messages:        agg.Messages,
		Deletions:       agg.Deletions,
		ActiveUsers:     int64(activeUsers),
		Warns:           agg.ActionsByKind[ActionWarn],
		Mutes:           agg.ActionsByKind[ActionMute],
		Kicks:           agg.ActionsByKind[ActionKick],
		Bans:            agg.ActionsByKind[ActionBan],
		Investigations:  agg.Investigations,
		AppealsApproved: agg.AppealsApproved,
		AppealsDenied:   agg.AppealsDenied,
		TopRisk:         string(topJSON),
		Summary:         strings.TrimSpace(summary),
		CreatedAt:       eng.now(),
	}
	inserted, err := eng.Store.InsertReport(ctx, r)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// lost a race with another generator; keep theirs
		stored, err := eng.Store.GetReport(ctx, communityID, day)
		return stored, false, err
	}
	logger.Info("daily report generated", "messages", r.Messages, "investigations", r.Investigations)
	reportCount.Inc()

	alert := notify.Alert{
		CommunityID: communityID,
		Kind:        notify.KindReport,
		Title:       fmt.Sprintf("Daily report %s", day),
		Body:        RenderReport(r),
	}
	if err := eng.Notifier.SendAlert(ctx, alert); err != nil {
		logger.Error("delivering daily report", "err", err)
	}
	return r, true, nil
}

// Generates the report for the given day for every known community. Failures for one community don't stop the others.
func (eng *Engine) RunDailyReports(ctx context.Context, day string) (int, error) {
	communities, err := eng.Store.Communities(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing communities: %w", err)
	}
	generated := 0
	for _, c := range communities {
		_, created, err := eng.GenerateReport(ctx, c, day)
		if err != nil {
			eng.Logger.Error("generating daily report", "community", c, "day", day, "err", err)
			continue
		}
		if created {
			generated++
		}
	}
	return generated, nil
}

// Next wall-clock time (UTC) at which daily reports should run, strictly after now.
func (eng *Engine) nextReportTime(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), eng.Policy.ReportHour, eng.Policy.ReportMinute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
