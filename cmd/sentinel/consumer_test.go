package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bluesky-social/sentinel/safety/engine"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleEvent(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s, f := testServer(t)
	now := f.Clock.Now()

	s.HandleEvent(ctx, &streamEvent{Seq: 1, Type: "join", Join: &engine.JoinEvent{UserID: "u1", CommunityID: "c1", Timestamp: now}})
	s.HandleEvent(ctx, &streamEvent{Seq: 2, Type: "message", Message: &engine.MessageEvent{
		UserID: "u1", CommunityID: "c1", ChannelID: "general", MessageID: "m1", Text: "hello all", Timestamp: now,
	}})
	s.HandleEvent(ctx, &streamEvent{Seq: 3, Type: "delete", Delete: &engine.DeletionEvent{MessageID: "m1", Timestamp: now}})
	// unknown types and missing payloads are skipped, but still advance the cursor
	s.HandleEvent(ctx, &streamEvent{Seq: 4, Type: "typing"})
	s.HandleEvent(ctx, &streamEvent{Seq: 5, Type: "message"})
	assert.Equal(int64(5), atomic.LoadInt64(&s.lastSeq))

	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(1), p.TotalMessages)
	assert.Equal(int64(1), p.TotalDeletions)

	// invalid events are logged, not fatal
	s.HandleEvent(ctx, &streamEvent{Seq: 6, Type: "message", Message: &engine.MessageEvent{Text: "no ids"}})
	assert.Equal(int64(6), atomic.LoadInt64(&s.lastSeq))
}

func TestHandleRebuttalReplies(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, f := testServer(t)
	now := f.Clock.Now()

	rebut := func(seq int64) {
		s.HandleEvent(ctx, &streamEvent{Seq: seq, Type: "rebuttal", Rebuttal: &engine.RebuttalEvent{
			UserID: "u1", CommunityID: "c1", Text: "it was a joke", Timestamp: now,
		}})
	}
	lastReply := func() string {
		calls := f.Gateway.CallsTo("NotifyUser")
		if len(calls) == 0 {
			return ""
		}
		return calls[len(calls)-1].Text
	}

	rebut(1)
	assert.Contains(lastReply(), "no active sanction")

	s.HandleEvent(ctx, &streamEvent{Seq: 2, Type: "message", Message: &engine.MessageEvent{
		UserID: "u1", CommunityID: "c1", ChannelID: "general", MessageID: "m1", Text: "kys", Timestamp: now,
	}})
	rebut(3)
	assert.Contains(lastReply(), "was received")
	rebut(4)
	assert.Contains(lastReply(), "still under review")
}

func TestConsumeOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	s, f := testServer(t)
	now := f.Clock.Now()

	var gotCursor atomic.Value
	upgrader := websocket.Upgrader{}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCursor.Store(r.URL.Query().Get("cursor"))
		con, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer con.Close()
		frames := []streamEvent{
			{Seq: 41, Type: "message", Message: &engine.MessageEvent{UserID: "u1", CommunityID: "c1", ChannelID: "general", MessageID: "m41", Text: "first", Timestamp: now}},
			{Seq: 42, Type: "message", Message: &engine.MessageEvent{UserID: "u1", CommunityID: "c1", ChannelID: "general", MessageID: "m42", Text: "second", Timestamp: now}},
		}
		for _, fr := range frames {
			b, _ := json.Marshal(fr)
			if err := con.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
		_ = con.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = con.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	}))
	defer hs.Close()

	s.streamURL = "ws" + strings.TrimPrefix(hs.URL, "http") + "/events"
	atomic.StoreInt64(&s.lastSeq, 40)

	err := s.consumeOnce(ctx)
	assert.Error(err)
	assert.Equal("40", gotCursor.Load())
	assert.Equal(int64(42), atomic.LoadInt64(&s.lastSeq))

	p, err := f.Store.GetProfile(ctx, "c1", "u1")
	require.NoError(err)
	assert.Equal(int64(2), p.TotalMessages)
}

func TestStreamDialURL(t *testing.T) {
	assert := assert.New(t)
	s := &Server{streamURL: "wss://gateway.example.com/events?format=json"}

	u, err := s.streamDialURL()
	assert.NoError(err)
	assert.Equal("wss://gateway.example.com/events?format=json", u)

	s.lastSeq = 7
	u, err = s.streamDialURL()
	assert.NoError(err)
	assert.Equal("wss://gateway.example.com/events?cursor=7&format=json", u)
}
