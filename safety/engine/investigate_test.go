package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bluesky-social/sentinel/safety/notify"
	"github.com/bluesky-social/sentinel/safety/oracle"
	"github.com/bluesky-social/sentinel/safety/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// three severe-toxicity messages: three mutes, which queues an investigation
func threeMutes(t *testing.T, f *TestFixture, user string) {
	t.Helper()
	now := f.Clock.Now()
	for i := 0; i < 3; i++ {
		sendMessage(t, f, user, fmt.Sprintf("%s-m%d", user, i), fmt.Sprintf("everyone hates you %d", i), now.Add(time.Duration(i)*time.Minute))
	}
}

func TestMuteEscalationQueuesInvestigation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	threeMutes(t, f, "u1")
	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(3), p.Mutes)
	assert.Equal(1, f.Engine.QueueLen())

	// the ladder escalates with each mute
	timeouts := f.Gateway.CallsTo("Timeout")
	require.Len(timeouts, 3)
	assert.Equal(5*time.Minute, timeouts[0].Duration)
	assert.Equal(15*time.Minute, timeouts[1].Duration)
	assert.Equal(time.Hour, timeouts[2].Duration)
}

func TestInvestigationHighConfidenceActs(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)
	f.Judge.Verdict = &oracle.Verdict{
		Label:             oracle.LevelHigh,
		Rationale:         "sustained harassment",
		RecommendedAction: oracle.RecommendBan,
		Confidence:        0.9,
		Raw:               "THREAT_LEVEL: high",
	}

	threeMutes(t, f, "u1")
	assert.Equal(1, f.Engine.DrainInvestigations(ctx))
	assert.Equal(0, f.Engine.QueueLen())

	require.Len(f.Judge.Investigated, 1)
	ev := f.Judge.Investigated[0]
	assert.Equal(int64(3), ev.Subject.Mutes)
	assert.Len(ev.Samples, 3)
	assert.Len(ev.Actions, 3)
	assert.Contains(ev.Samples[0].Flags, "toxic:severe-harassment")

	invs, err := f.Store.RecentInvestigations(ctx, "c1", "u1", 10)
	require.NoError(err)
	require.Len(invs, 1)
	assert.Equal(oracle.LevelHigh, invs[0].Label)
	assert.Equal(oracle.RecommendBan, invs[0].RecommendedAction)
	assert.False(invs[0].NoVerdict)

	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal(oracle.LevelHigh, p.Status)
	assert.True(p.Banned)

	recs := actionsOf(t, f, "u1")
	assert.Equal(ActionBan, recs[0].Kind)
	assert.Equal(fmt.Sprintf("investigation/%d", invs[0].ID), recs[0].Source)
	assert.Len(f.Alerts.OfKind(notify.KindInvestigation), 1)
}

func TestInvestigationLowConfidenceIsAdvisory(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)
	f.Judge.Verdict = &oracle.Verdict{
		Label:             oracle.LevelMedium,
		RecommendedAction: oracle.RecommendBan,
		Confidence:        0.6,
	}

	threeMutes(t, f, "u1")
	f.Engine.DrainInvestigations(ctx)

	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(oracle.LevelMedium, p.Status)
	assert.False(p.Banned)
	assert.Empty(f.Gateway.CallsTo("Ban"))
	// medium label: no operator alert
	assert.Empty(f.Alerts.OfKind(notify.KindInvestigation))

	// "watch" is never actionable, whatever the confidence
	f.Judge.Verdict = &oracle.Verdict{Label: oracle.LevelLow, RecommendedAction: oracle.RecommendWatch, Confidence: 0.99}
	assert.True(f.Engine.Enqueue(ctx, "c1", "u1", "manual"))
	f.Engine.DrainInvestigations(ctx)
	assert.Len(actionsOf(t, f, "u1"), 3)
}

func TestInvestigationOracleFailure(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	threeMutes(t, f, "u1")
	before := actionsOf(t, f, "u1")
	f.Engine.DrainInvestigations(ctx)

	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal(store.StatusNormal, p.Status)
	assert.Len(actionsOf(t, f, "u1"), len(before))

	invs, err := f.Store.RecentInvestigations(ctx, "c1", "u1", 10)
	require.NoError(err)
	require.Len(invs, 1)
	assert.True(invs[0].NoVerdict)

	// not stuck: the profile can be queued again
	assert.True(f.Engine.Enqueue(ctx, "c1", "u1", "retry on next trigger"))
}

func TestInvestigationDedupe(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	sendMessage(t, f, "u1", "m1", "hello", f.Clock.Now())
	sendMessage(t, f, "u2", "m2", "hello", f.Clock.Now())

	assert.True(f.Engine.Enqueue(ctx, "c1", "u1", "first"))
	assert.False(f.Engine.Enqueue(ctx, "c1", "u1", "second"))
	assert.Equal(1, f.Engine.QueueLen())
	// unknown profiles are never queued
	assert.False(f.Engine.Enqueue(ctx, "c1", "ghost", "x"))

	// a profile already under investigation can't be queued
	_, claimed, err := f.Store.ClaimInvestigation(ctx, "c1", "u2", f.Clock.Now())
	require.NoError(err)
	require.True(claimed)
	assert.False(f.Engine.Enqueue(ctx, "c1", "u2", "x"))
}

func TestInvestigationBatchCap(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	for i := 0; i < 5; i++ {
		user := fmt.Sprintf("u%d", i)
		sendMessage(t, f, user, "m-"+user, "hello", f.Clock.Now())
		assert.True(f.Engine.Enqueue(ctx, "c1", user, "test"))
	}
	assert.Equal(3, f.Engine.DrainInvestigations(ctx))
	assert.Equal(2, f.Engine.QueueLen())
	assert.Equal(2, f.Engine.DrainInvestigations(ctx))
	assert.Equal(0, f.Engine.DrainInvestigations(ctx))
	assert.Equal(5, f.Judge.InvestigatedCount())
}

func TestRecoverStaleInvestigations(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	sendMessage(t, f, "u1", "m1", "hello", f.Clock.Now())
	_, claimed, err := f.Store.ClaimInvestigation(ctx, "c1", "u1", f.Clock.Now())
	require.NoError(err)
	require.True(claimed)

	n, err := f.Engine.RecoverStaleInvestigations(ctx)
	require.NoError(err)
	assert.Equal(0, n)

	f.Clock.Advance(time.Hour)
	n, err = f.Engine.RecoverStaleInvestigations(ctx)
	require.NoError(err)
	assert.Equal(1, n)
	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal(store.StatusNormal, p.Status)
}

func TestRecoverStaleInvestigationKeepsStatus(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	f := EngineTestFixture(t)

	require.NoError(f.Engine.ProcessJoin(ctx, JoinEvent{UserID: "u1", CommunityID: "c1", AccountAge: time.Hour, Timestamp: f.Clock.Now()}))
	_, claimed, err := f.Store.ClaimInvestigation(ctx, "c1", "u1", f.Clock.Now())
	require.NoError(err)
	require.True(claimed)
	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(store.StatusUnderInvestigation, p.Status)
	assert.Equal(store.StatusNewAccount, p.PriorStatus)

	f.Clock.Advance(time.Hour)
	n, err := f.Engine.RecoverStaleInvestigations(ctx)
	require.NoError(err)
	assert.Equal(1, n)
	p, err = f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.False(p.UnderInvestigation)
	assert.Equal(store.StatusNewAccount, p.Status)
}
