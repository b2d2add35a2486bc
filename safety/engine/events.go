package engine

import (
	"time"
)

// A chat message, as delivered by the gateway event feed.
type MessageEvent struct {
	UserID      string    `json:"user"`
	CommunityID string    `json:"community"`
	ChannelID   string    `json:"channel"`
	MessageID   string    `json:"message_id"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}

type JoinEvent struct {
	UserID      string        `json:"user"`
	CommunityID string        `json:"community"`
	AccountAge  time.Duration `json:"account_age"`
	Timestamp   time.Time     `json:"timestamp"`
}

type DeletionEvent struct {
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

// A direct message from a sanctioned user, contesting their sanction.
type RebuttalEvent struct {
	UserID      string    `json:"user"`
	CommunityID string    `json:"community"`
	Text        string    `json:"text"`
	Timestamp   time.Time `json:"timestamp"`
}
