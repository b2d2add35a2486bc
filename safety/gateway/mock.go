package gateway

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrMockFailure = errors.New("mock gateway failure")

// One recorded gateway call.
type Call struct {
	Method      string
	CommunityID string
	UserID      string
	ChannelID   string
	MessageID   string
	Duration    time.Duration
	Text        string
}

// In-memory Gateway for tests. Records every call; methods listed in Fail return ErrMockFailure (the call is still recorded).
type MockGateway struct {
	mu    sync.Mutex
	Calls []Call
	Fail  map[string]bool
}

func NewMockGateway() *MockGateway {
	return &MockGateway{Fail: map[string]bool{}}
}

func (m *MockGateway) SetFail(method string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail[method] = fail
}

func (m *MockGateway) record(c Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, c)
	if m.Fail[c.Method] {
		return ErrMockFailure
	}
	return nil
}

// Recorded calls of the given method.
func (m *MockGateway) CallsTo(method string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Call{}
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

func (m *MockGateway) DeleteMessage(ctx context.Context, communityID, channelID, messageID string) error {
	return m.record(Call{Method: "DeleteMessage", CommunityID: communityID, ChannelID: channelID, MessageID: messageID})
}

func (m *MockGateway) Timeout(ctx context.Context, communityID, userID string, d time.Duration, reason string) error {
	return m.record(Call{Method: "Timeout", CommunityID: communityID, UserID: userID, Duration: d, Text: reason})
}

func (m *MockGateway) RemoveTimeout(ctx context.Context, communityID, userID, reason string) error {
	return m.record(Call{Method: "RemoveTimeout", CommunityID: communityID, UserID: userID, Text: reason})
}

func (m *MockGateway) Kick(ctx context.Context, communityID, userID, reason string) error {
	return m.record(Call{Method: "Kick", CommunityID: communityID, UserID: userID, Text: reason})
}

func (m *MockGateway) Ban(ctx context.Context, communityID, userID, reason string) error {
	return m.record(Call{Method: "Ban", CommunityID: communityID, UserID: userID, Text: reason})
}

func (m *MockGateway) Unban(ctx context.Context, communityID, userID, reason string) error {
	return m.record(Call{Method: "Unban", CommunityID: communityID, UserID: userID, Text: reason})
}

func (m *MockGateway) NotifyUser(ctx context.Context, communityID, userID, text string) error {
	return m.record(Call{Method: "NotifyUser", CommunityID: communityID, UserID: userID, Text: text})
}

func (m *MockGateway) PostOperator(ctx context.Context, communityID, text string) error {
	return m.record(Call{Method: "PostOperator", CommunityID: communityID, Text: text})
}
