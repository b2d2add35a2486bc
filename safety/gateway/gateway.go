package gateway

import (
	"context"
	"time"
)

// Enforcement actions against the chat platform. All calls are best-effort: callers log failures and carry on, and never retry synchronously.
type Gateway interface {
	DeleteMessage(ctx context.Context, communityID, channelID, messageID string) error
	Timeout(ctx context.Context, communityID, userID string, d time.Duration, reason string) error
	RemoveTimeout(ctx context.Context, communityID, userID, reason string) error
	Kick(ctx context.Context, communityID, userID, reason string) error
	Ban(ctx context.Context, communityID, userID, reason string) error
	Unban(ctx context.Context, communityID, userID, reason string) error
	// direct message to the user
	NotifyUser(ctx context.Context, communityID, userID, text string) error
	// non-interactive post to the community's operator channel
	PostOperator(ctx context.Context, communityID, text string) error
}
