package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func TestEnsureProfile(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	p, err := s.EnsureProfile(ctx, "c1", "u1", StatusNewAccount, t0)
	require.NoError(err)
	assert.Equal(StatusNewAccount, p.Status)
	assert.Equal(InitialTrust, p.Trust)
	assert.Equal(0.0, p.Risk)

	// second call does not reset anything
	require.NoError(s.AdjustRisk(ctx, "c1", "u1", 12))
	p, err = s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0.Add(time.Hour))
	require.NoError(err)
	assert.Equal(StatusNewAccount, p.Status)
	assert.Equal(12.0, p.Risk)

	_, err = s.GetProfile(ctx, "c1", "nobody")
	assert.ErrorIs(err, ErrNotFound)
}

func TestScoresClamped(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)

	deltas := []float64{40, 40, 40, -5, 200, -1000, 30, -3}
	for _, d := range deltas {
		require.NoError(s.AdjustRisk(ctx, "c1", "u1", d))
		require.NoError(s.AdjustTrust(ctx, "c1", "u1", d))
		p, err := s.GetProfile(ctx, "c1", "u1")
		require.NoError(err)
		assert.True(p.Risk >= ScoreMin && p.Risk <= ScoreMax, "risk %f", p.Risk)
		assert.True(p.Trust >= ScoreMin && p.Trust <= ScoreMax, "trust %f", p.Trust)
	}
	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(27.0, p.Risk)

	// toxicity moving average also stays in bounds
	for i := 0; i < 30; i++ {
		_, err := s.RecordMessage(ctx, &ContentSample{
			MessageID:   fmt.Sprintf("m%d", i),
			UserID:      "u1",
			CommunityID: "c1",
			Text:        "x",
			Toxicity:    1.0,
			CreatedAt:   t0.Add(time.Duration(i) * time.Second),
		}, 0.5)
		require.NoError(err)
	}
	p, err = s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.True(p.Toxicity <= ScoreMax)
	assert.True(p.Toxicity > 99)
}

func TestConcurrentRiskUpdates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(s.AdjustRisk(ctx, "c1", "u1", 1))
		}()
	}
	wg.Wait()
	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(20.0, p.Risk)
}

func TestRecordMessageAndDeletion(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)

	sample := ContentSample{MessageID: "m1", UserID: "u1", CommunityID: "c1", ChannelID: "general", Text: "hello", CreatedAt: t0}
	ok, err := s.RecordMessage(ctx, &sample, 0.1)
	require.NoError(err)
	assert.True(ok)
	// replayed message is ignored
	dup := sample
	ok, err = s.RecordMessage(ctx, &dup, 0.1)
	require.NoError(err)
	assert.False(ok)

	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(1), p.TotalMessages)
	assert.Equal(int64(1), p.MessagesToday)

	// next day resets messages_today
	ok, err = s.RecordMessage(ctx, &ContentSample{MessageID: "m2", UserID: "u1", CommunityID: "c1", Text: "again", CreatedAt: t0.Add(24 * time.Hour)}, 0.1)
	require.NoError(err)
	assert.True(ok)
	p, err = s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(2), p.TotalMessages)
	assert.Equal(int64(1), p.MessagesToday)

	del, err := s.RecordDeletion(ctx, "m1", t0.Add(time.Minute))
	require.NoError(err)
	assert.True(del.Deleted)
	_, err = s.RecordDeletion(ctx, "m1", t0.Add(2*time.Minute))
	require.NoError(err)
	p, err = s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(1), p.TotalDeletions)

	_, err = s.RecordDeletion(ctx, "unknown", t0)
	assert.ErrorIs(err, ErrNotFound)
}

func TestApplySanctionIdempotent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)

	sn := Sanction{
		CommunityID:    "c1",
		UserID:         "u1",
		Kind:           ActionMute,
		Reason:         "spam",
		Confidence:     0.8,
		Duration:       5 * time.Minute,
		IdempotencyKey: "msg/m1/mute",
		RiskBump:       10,
		At:             t0,
	}
	rec, err := s.ApplySanction(ctx, sn)
	require.NoError(err)
	require.NotNil(rec)
	assert.Equal(int64(300), rec.DurationSec)

	rec, err = s.ApplySanction(ctx, sn)
	require.NoError(err)
	assert.Nil(rec)

	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(1), p.Mutes)
	assert.Equal(10.0, p.Risk)
	require.NotNil(p.MutedUntil)
	assert.True(p.MutedUntil.Equal(t0.Add(5 * time.Minute)))

	exists, err := s.ActionExists(ctx, "msg/m1/mute")
	require.NoError(err)
	assert.True(exists)

	_, err = s.ApplySanction(ctx, Sanction{CommunityID: "c1", UserID: "u1", Kind: ActionUnban})
	assert.Error(err)
}

func TestInvestigationClaim(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNewAccount, t0)
	require.NoError(err)

	prior, ok, err := s.ClaimInvestigation(ctx, "c1", "u1", t0)
	require.NoError(err)
	assert.True(ok)
	assert.Equal(StatusNewAccount, prior.Status)

	_, ok, err = s.ClaimInvestigation(ctx, "c1", "u1", t0)
	require.NoError(err)
	assert.False(ok)

	require.NoError(s.ReleaseInvestigation(ctx, "c1", "u1", prior.Status))
	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal(StatusNewAccount, p.Status)

	_, ok, err = s.ClaimInvestigation(ctx, "c1", "u1", t0)
	require.NoError(err)
	assert.True(ok)
	require.NoError(s.FinishInvestigation(ctx, &Investigation{
		UserID:      "u1",
		CommunityID: "c1",
		Trigger:     "test",
		Label:       "medium",
		CreatedAt:   t0,
	}, "medium"))
	p, err = s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal("medium", p.Status)

	// unknown profile cannot be claimed
	_, ok, err = s.ClaimInvestigation(ctx, "c1", "ghost", t0)
	require.NoError(err)
	assert.False(ok)
}

func TestAppealLifecycle(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)
	ban, err := s.ApplySanction(ctx, Sanction{CommunityID: "c1", UserID: "u1", Kind: ActionBan, RiskBump: 40, MarkThreat: true, At: t0, IdempotencyKey: "k1"})
	require.NoError(err)

	a := Appeal{UserID: "u1", CommunityID: "c1", SanctionKind: ActionBan, SanctionActionID: ban.ID, Message: "sorry", CreatedAt: t0}
	require.NoError(s.CreateAppeal(ctx, &a))
	assert.Equal(AppealSubmitted, a.State)

	// second appeal while the first is open is rejected
	b := Appeal{UserID: "u1", CommunityID: "c1", SanctionKind: ActionBan, Message: "please", CreatedAt: t0}
	assert.ErrorIs(s.CreateAppeal(ctx, &b), ErrAppealPending)

	pending, err := s.PendingAppeals(ctx, 10)
	require.NoError(err)
	assert.Len(pending, 1)

	a.Decision = DecisionApprove
	a.Reason = "first offense"
	a.Confidence = 0.9
	ok, err := s.DecideAppeal(ctx, &a, t0.Add(time.Hour))
	require.NoError(err)
	assert.True(ok)
	ok, err = s.DecideAppeal(ctx, &a, t0.Add(2*time.Hour))
	require.NoError(err)
	assert.False(ok)

	ok, err = s.ReverseSanction(ctx, &a, 20, true, t0.Add(time.Hour))
	require.NoError(err)
	assert.True(ok)
	ok, err = s.ReverseSanction(ctx, &a, 20, true, t0.Add(time.Hour))
	require.NoError(err)
	assert.False(ok)

	p, err := s.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(0), p.Bans)
	assert.False(p.Banned)
	assert.False(p.IsThreat)
	assert.Equal(20.0, p.Risk)

	unban, err := s.LatestAction(ctx, "c1", "u1", ActionUnban)
	require.NoError(err)
	assert.Equal("appeal/1", unban.Source)

	// once decided, a new appeal may be created
	c := Appeal{UserID: "u1", CommunityID: "c1", SanctionKind: ActionBan, Message: "again", CreatedAt: t0.Add(3 * time.Hour)}
	require.NoError(s.CreateAppeal(ctx, &c))
}

func TestDecayAndTrust(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "idle", StatusNormal, t0)
	require.NoError(err)
	_, err = s.EnsureProfile(ctx, "c1", "active", StatusNormal, t0.Add(2*time.Hour))
	require.NoError(err)
	require.NoError(s.AdjustRisk(ctx, "c1", "idle", 3))
	require.NoError(s.AdjustRisk(ctx, "c1", "active", 3))

	now := t0.Add(2 * time.Hour)
	n, err := s.DecayRisk(ctx, now.Add(-time.Hour), 2)
	require.NoError(err)
	assert.Equal(int64(1), n)
	_, err = s.DecayRisk(ctx, now.Add(-time.Hour), 2)
	require.NoError(err)

	idle, err := s.GetProfile(ctx, "c1", "idle")
	require.NoError(err)
	assert.Equal(0.0, idle.Risk)
	active, err := s.GetProfile(ctx, "c1", "active")
	require.NoError(err)
	assert.Equal(3.0, active.Risk)

	n, err = s.GrowTrust(ctx, now.Add(-24*time.Hour), 1, 20)
	require.NoError(err)
	assert.Equal(int64(2), n)

	// a warning blocks trust growth
	_, err = s.ApplySanction(ctx, Sanction{CommunityID: "c1", UserID: "active", Kind: ActionWarn, At: now})
	require.NoError(err)
	n, err = s.GrowTrust(ctx, now.Add(-24*time.Hour), 1, 20)
	require.NoError(err)
	assert.Equal(int64(1), n)

	n, err = s.GraduateNewAccounts(ctx, now)
	require.NoError(err)
	assert.Equal(int64(0), n)
}

func TestAggregateAndReports(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	_, err := s.EnsureProfile(ctx, "c1", "u1", StatusNormal, t0)
	require.NoError(err)
	for i := 0; i < 4; i++ {
		_, err := s.RecordMessage(ctx, &ContentSample{MessageID: fmt.Sprintf("m%d", i), UserID: "u1", CommunityID: "c1", CreatedAt: t0.Add(time.Duration(i) * time.Minute)}, 0.1)
		require.NoError(err)
	}
	_, err = s.RecordDeletion(ctx, "m0", t0.Add(time.Hour))
	require.NoError(err)
	_, err = s.ApplySanction(ctx, Sanction{CommunityID: "c1", UserID: "u1", Kind: ActionWarn, At: t0})
	require.NoError(err)
	_, err = s.ApplySanction(ctx, Sanction{CommunityID: "c1", UserID: "u1", Kind: ActionWarn, At: t0})
	require.NoError(err)

	from := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	agg, err := s.Aggregate(ctx, "c1", from, from.Add(24*time.Hour))
	require.NoError(err)
	assert.Equal(int64(4), agg.Messages)
	assert.Equal(int64(1), agg.Deletions)
	assert.Equal(int64(2), agg.ActionsByKind[ActionWarn])

	r := DailyReport{CommunityID: "c1", Day: "2024-03-10", Messages: 4, Summary: "first"}
	ok, err := s.InsertReport(ctx, &r)
	require.NoError(err)
	assert.True(ok)
	r2 := DailyReport{CommunityID: "c1", Day: "2024-03-10", Messages: 99, Summary: "second"}
	ok, err = s.InsertReport(ctx, &r2)
	require.NoError(err)
	assert.False(ok)

	stored, err := s.GetReport(ctx, "c1", "2024-03-10")
	require.NoError(err)
	assert.Equal("first", stored.Summary)
	assert.Equal(int64(4), stored.Messages)

	all, err := s.ListReports(ctx, "c1", 10)
	require.NoError(err)
	assert.Len(all, 1)
}

func TestSweepQueries(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s := TestStore(t)

	for _, u := range []string{"busy", "quiet"} {
		_, err := s.EnsureProfile(ctx, "c1", u, StatusNormal, t0)
		require.NoError(err)
	}
	for i := 0; i < 12; i++ {
		_, err := s.RecordMessage(ctx, &ContentSample{MessageID: fmt.Sprintf("b%d", i), UserID: "busy", CommunityID: "c1", CreatedAt: t0.Add(time.Duration(i) * time.Second)}, 0.1)
		require.NoError(err)
	}
	for i := 0; i < 3; i++ {
		_, err := s.RecordMessage(ctx, &ContentSample{MessageID: fmt.Sprintf("q%d", i), UserID: "quiet", CommunityID: "c1", CreatedAt: t0.Add(time.Duration(i) * time.Second)}, 0.1)
		require.NoError(err)
	}
	for i := 0; i < 8; i++ {
		_, err := s.RecordDeletion(ctx, fmt.Sprintf("b%d", i), t0.Add(time.Minute))
		require.NoError(err)
	}

	spikes, err := s.MessageSpikes(ctx, "c1", t0.Add(-time.Minute), 10)
	require.NoError(err)
	require.Len(spikes, 1)
	assert.Equal("busy", spikes[0].UserID)
	assert.Equal(int64(12), spikes[0].Count)

	ratios, err := s.DeletionRatios(ctx, "c1", t0.Add(-time.Hour), 10)
	require.NoError(err)
	require.Len(ratios, 1)
	assert.Equal("busy", ratios[0].UserID)
	assert.InDelta(8.0/12.0, ratios[0].Ratio(), 0.0001)

	comms, err := s.ActiveCommunities(ctx, t0.Add(-time.Hour))
	require.NoError(err)
	assert.Equal([]string{"c1"}, comms)
}
