package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Gateway implementation which calls a platform bridge service over a small JSON/HTTP API:
//
//	DELETE /communities/{c}/channels/{ch}/messages/{m}
//	PUT    /communities/{c}/members/{u}/timeout     {"duration_sec": n, "reason": "..."}
//	DELETE /communities/{c}/members/{u}/timeout     {"reason": "..."}
//	POST   /communities/{c}/members/{u}/kick        {"reason": "..."}
//	PUT    /communities/{c}/bans/{u}                {"reason": "..."}
//	DELETE /communities/{c}/bans/{u}                {"reason": "..."}
//	POST   /communities/{c}/members/{u}/dm          {"text": "..."}
//	POST   /communities/{c}/operator-posts          {"text": "..."}
//
// Calls are single-shot (no retries) with a short timeout.
type HTTPGateway struct {
	Host   string
	Token  string
	Client *http.Client
	Logger *slog.Logger
}

func NewHTTPGateway(host, token string, timeout time.Duration, logger *slog.Logger) *HTTPGateway {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{
		Transport: otelhttp.NewTransport(cleanhttp.DefaultPooledTransport()),
		Timeout:   timeout,
	}
	return &HTTPGateway{
		Host:   strings.TrimSuffix(host, "/"),
		Token:  token,
		Client: client,
		Logger: logger.With("subsystem", "gateway"),
	}
}

type reasonBody struct {
	Reason string `json:"reason,omitempty"`
}

type timeoutBody struct {
	DurationSec int64  `json:"duration_sec"`
	Reason      string `json:"reason,omitempty"`
}

type textBody struct {
	Text string `json:"text"`
}

func (g *HTTPGateway) do(ctx context.Context, method string, body any, segments ...string) error {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u := g.Host + "/" + strings.Join(escaped, "/")

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", "sentinel")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway %s %s: %w", method, u, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: method, Path: u, StatusCode: resp.StatusCode}
	}
	return nil
}

// Non-2xx response from the gateway.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
}

func (g *HTTPGateway) DeleteMessage(ctx context.Context, communityID, channelID, messageID string) error {
	return g.do(ctx, http.MethodDelete, nil, "communities", communityID, "channels", channelID, "messages", messageID)
}

func (g *HTTPGateway) Timeout(ctx context.Context, communityID, userID string, d time.Duration, reason string) error {
	return g.do(ctx, http.MethodPut, timeoutBody{DurationSec: int64(d / time.Second), Reason: reason}, "communities", communityID, "members", userID, "timeout")
}

func (g *HTTPGateway) RemoveTimeout(ctx context.Context, communityID, userID, reason string) error {
	return g.do(ctx, http.MethodDelete, reasonBody{Reason: reason}, "communities", communityID, "members", userID, "timeout")
}

func (g *HTTPGateway) Kick(ctx context.Context, communityID, userID, reason string) error {
	return g.do(ctx, http.MethodPost, reasonBody{Reason: reason}, "communities", communityID, "members", userID, "kick")
}

func (g *HTTPGateway) Ban(ctx context.Context, communityID, userID, reason string) error {
	return g.do(ctx, http.MethodPut, reasonBody{Reason: reason}, "communities", communityID, "bans", userID)
}

func (g *HTTPGateway) Unban(ctx context.Context, communityID, userID, reason string) error {
	return g.do(ctx, http.MethodDelete, reasonBody{Reason: reason}, "communities", communityID, "bans", userID)
}

func (g *HTTPGateway) NotifyUser(ctx context.Context, communityID, userID, text string) error {
	return g.do(ctx, http.MethodPost, textBody{Text: text}, "communities", communityID, "members", userID, "dm")
}

func (g *HTTPGateway) PostOperator(ctx context.Context, communityID, text string) error {
	return g.do(ctx, http.MethodPost, textBody{Text: text}, "communities", communityID, "operator-posts")
}
