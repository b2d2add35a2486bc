package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bluesky-social/sentinel/safety/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{}

func (failingNotifier) SendAlert(ctx context.Context, a Alert) error {
	return errors.New("down")
}

func TestMulti(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	rec := &Recorder{}
	m := Multi{failingNotifier{}, rec}
	err := m.SendAlert(ctx, Alert{CommunityID: "c1", Kind: KindRaid, Title: "raid"})
	assert.Error(err)
	// later notifiers still get the alert
	assert.Len(rec.OfKind(KindRaid), 1)
	assert.Empty(rec.OfKind(KindAppeal))
}

func TestGatewayNotifier(t *testing.T) {
	assert := assert.New(t)

	gw := gateway.NewMockGateway()
	n := &GatewayNotifier{Gateway: gw}
	assert.NoError(n.SendAlert(context.Background(), Alert{CommunityID: "c1", Title: "banned u1", Body: "scam"}))
	calls := gw.CallsTo("PostOperator")
	assert.Len(calls, 1)
	assert.Equal("c1", calls[0].CommunityID)
	assert.Equal("banned u1\nscam", calls[0].Text)
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	require.NoError(n.SendAlert(context.Background(), Alert{CommunityID: "c1", Kind: KindRaid, Title: "Raid detected", Body: "12 joins"}))
	assert.Contains(got.Text, "Raid detected")
	assert.Contains(got.Text, "`c1`")
	assert.Contains(got.Text, "12 joins")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	assert.Error(NewSlackNotifier(bad.URL).SendAlert(context.Background(), Alert{Title: "x"}))
}
