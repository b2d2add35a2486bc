package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Posts alerts to a Slack channel via an "incoming webhook".
type SlackNotifier struct {
	SlackWebhookURL string
	Client          *http.Client
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	client := &http.Client{
		Transport: otelhttp.NewTransport(cleanhttp.DefaultTransport()),
		Timeout:   10 * time.Second,
	}
	return &SlackNotifier{
		SlackWebhookURL: webhookURL,
		Client:          client,
	}
}

type SlackWebhookBody struct {
	Text string `json:"text"`
}

func (n *SlackNotifier) SendAlert(ctx context.Context, a Alert) error {
	return n.sendSlackMsg(ctx, slackBody(a))
}

// The slack incoming webhook must be already configured in the slack workplace.
func (n *SlackNotifier) sendSlackMsg(ctx context.Context, msg string) error {
	body, err := json.Marshal(SlackWebhookBody{Text: msg})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.SlackWebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return err
	}
	req.Header.Add("Content-Type", "application/json")
	resp, err := n.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// slack answers a bare "ok" on success
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(respBody)) != "ok" {
		return fmt.Errorf("slack webhook POST failed: status=%d body=%q", resp.StatusCode, respBody)
	}
	return nil
}

func slackBody(a Alert) string {
	icon := "ℹ️"
	switch a.Kind {
	case KindSanction, KindInvestigation:
		icon = "⚠️"
	case KindRaid, KindCircuitBreak:
		icon = "🚨"
	case KindReport:
		icon = "📊"
	}
	msg := fmt.Sprintf("%s *%s* `%s`\n", icon, a.Title, a.CommunityID)
	if a.Body != "" {
		msg += a.Body + "\n"
	}
	return msg
}
