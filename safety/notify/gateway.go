package notify

import (
	"context"

	"github.com/bluesky-social/sentinel/safety/gateway"
)

// Posts alerts to the community's own operator channel, via the chat gateway.
type GatewayNotifier struct {
	Gateway gateway.Gateway
}

func (n *GatewayNotifier) SendAlert(ctx context.Context, a Alert) error {
	return n.Gateway.PostOperator(ctx, a.CommunityID, a.Text())
}
