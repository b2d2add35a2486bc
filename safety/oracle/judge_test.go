package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvidence() Evidence {
	return Evidence{
		Subject: Subject{
			UserID:      "u1",
			CommunityID: "c1",
			Status:      "normal",
			Risk:        42,
			Mutes:       3,
		},
		Trigger: "mute-escalation",
		Samples: []Sample{
			{Text: "you will regret this", Flags: "threat:explicit-threat"},
			{Text: "hello"},
		},
		Actions: []PriorAction{
			{Kind: "mute", Reason: "spam:flood", Confidence: 1},
		},
	}
}

func TestLLMJudgeInvestigate(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	mc := NewMockCompleter("THREAT_LEVEL: high\nRATIONALE: threats\nRECOMMENDED_ACTION: ban\nCONFIDENCE: 0.9")
	j := NewLLMJudge(mc, time.Second, nil)

	v, err := j.Investigate(ctx, testEvidence())
	require.NoError(err)
	assert.Equal(RecommendBan, v.RecommendedAction)
	require.Len(mc.Prompts, 1)
	assert.Contains(mc.Prompts[0], "you will regret this")
	assert.Contains(mc.Prompts[0], "mute-escalation")
	assert.Contains(mc.Prompts[0], "mutes=3")
	assert.Contains(mc.Prompts[0], "spam:flood")
}

func TestLLMJudgeFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	mc := NewMockCompleter()
	mc.Err = errors.New("connection refused")
	j := NewLLMJudge(mc, time.Second, nil)

	v, err := j.Investigate(ctx, testEvidence())
	assert.Nil(v)
	assert.ErrorIs(err, ErrNoVerdict)

	av, err := j.ReviewAppeal(ctx, testEvidence())
	assert.Nil(av)
	assert.ErrorIs(err, ErrNoVerdict)

	_, err = j.Summarize(ctx, ReportStats{CommunityID: "c1"})
	assert.ErrorIs(err, ErrNoVerdict)

	// empty response is no verdict, not a "low" verdict
	j = NewLLMJudge(NewMockCompleter("   "), time.Second, nil)
	v, err = j.Investigate(ctx, testEvidence())
	assert.Nil(v)
	assert.ErrorIs(err, ErrNoVerdict)
}

func TestLLMJudgeAppealPrompt(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	mc := NewMockCompleter("DECISION: approve\nREASONING: misunderstanding\nCONFIDENCE: 0.75")
	j := NewLLMJudge(mc, time.Second, nil)

	ev := testEvidence()
	ev.SanctionKind = "ban"
	ev.Rebuttal = "I am sorry, I misread the rules"
	v, err := j.ReviewAppeal(context.Background(), ev)
	require.NoError(err)
	assert.Equal(DecisionApprove, v.Decision)
	assert.Contains(mc.Prompts[0], "I am sorry, I misread the rules")
	assert.Contains(mc.Prompts[0], "first major offense")
}

func TestChatClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal("/v1/chat/completions", r.URL.Path)
		assert.Equal("Bearer secret", r.Header.Get("Authorization"))
		var req chatRequest
		assert.NoError(json.NewDecoder(r.Body).Decode(&req))
		assert.Equal("test-model", req.Model)
		assert.Len(req.Messages, 2)
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"DECISION: deny"}}]}`))
	}))
	defer srv.Close()

	c, err := NewChatClient(ClientConfig{
		BaseURL:    srv.URL + "/v1/",
		APIKey:     "secret",
		Model:      "test-model",
		MaxRetries: 2,
	})
	require.NoError(err)

	out, err := c.Complete(context.Background(), "sys", "prompt")
	require.NoError(err)
	assert.Equal("DECISION: deny", out)
	assert.Equal(int64(2), calls.Load())
}

func TestChatClientNoRetryOnRateLimit(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewChatClient(ClientConfig{BaseURL: srv.URL, Model: "m", MaxRetries: 2})
	require.NoError(err)

	_, err = c.Complete(context.Background(), "sys", "prompt")
	assert.Error(err)
	assert.Equal(int64(1), calls.Load())

	_, err = NewChatClient(ClientConfig{Model: "m"})
	assert.Error(err)
}
