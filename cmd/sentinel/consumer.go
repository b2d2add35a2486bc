package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bluesky-social/sentinel/safety/engine"

	"github.com/carlmjohnson/versioninfo"
	"github.com/gorilla/websocket"
)

// One frame on the gateway event stream. Exactly one payload field is set, matching Type.
type streamEvent struct {
	Seq      int64                 `json:"seq"`
	Type     string                `json:"type"`
	Message  *engine.MessageEvent  `json:"message,omitempty"`
	Join     *engine.JoinEvent     `json:"join,omitempty"`
	Delete   *engine.DeletionEvent `json:"delete,omitempty"`
	Rebuttal *engine.RebuttalEvent `json:"rebuttal,omitempty"`
}

const (
	maxReconnectBackoff = 30 * time.Second
	streamReadTimeout   = 2 * time.Minute
)

// Consumes the event stream until the context is cancelled, reconnecting (from the last processed sequence number) with backoff when the connection drops.
func (s *Server) RunConsumer(ctx context.Context) error {
	if s.streamURL == "" {
		return fmt.Errorf("no event stream URL configured")
	}
	cur, err := s.ReadLastCursor(ctx)
	if err != nil {
		return err
	}
	atomic.StoreInt64(&s.lastSeq, cur)

	backoff := time.Second
	for {
		start := time.Now()
		err := s.consumeOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > time.Minute {
			// connection was healthy for a while; start over
			backoff = time.Second
		}
		s.logger.Warn("event stream disconnected, reconnecting", "err", err, "backoff", backoff)
		streamReconnects.Inc()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
	}
}

func (s *Server) streamDialURL() (string, error) {
	u, err := url.Parse(s.streamURL)
	if err != nil {
		return "", fmt.Errorf("invalid event stream URL: %w", err)
	}
	if seq := atomic.LoadInt64(&s.lastSeq); seq > 0 {
		q := u.Query()
		q.Set("cursor", strconv.FormatInt(seq, 10))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (s *Server) consumeOnce(ctx context.Context) error {
	target, err := s.streamDialURL()
	if err != nil {
		return err
	}
	s.logger.Info("subscribing to event stream", "upstream", s.streamURL, "cursor", atomic.LoadInt64(&s.lastSeq))
	con, _, err := websocket.DefaultDialer.DialContext(ctx, target, http.Header{
		"User-Agent": []string{fmt.Sprintf("sentinel/%s", versioninfo.Short())},
	})
	if err != nil {
		return fmt.Errorf("subscribing to event stream failed (dialing): %w", err)
	}
	defer con.Close()

	// unblock the read loop on shutdown
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			con.Close()
		case <-done:
		}
	}()

	for {
		if err := con.SetReadDeadline(time.Now().Add(streamReadTimeout)); err != nil {
			return err
		}
		mt, raw, err := con.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading from event stream: %w", err)
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		var evt streamEvent
		if err := json.Unmarshal(raw, &evt); err != nil {
			s.logger.Error("skipping malformed stream frame", "err", err)
			eventsFailed.WithLabelValues("malformed").Inc()
			continue
		}
		s.HandleEvent(ctx, &evt)
	}
}

// Dispatches one stream event to the engine. Processing errors are logged and counted, never returned: a bad event must not stall the stream.
func (s *Server) HandleEvent(ctx context.Context, evt *streamEvent) {
	logger := s.logger.With("seq", evt.Seq, "type", evt.Type)
	eventsReceived.WithLabelValues(evt.Type).Inc()

	var err error
	switch {
	case evt.Type == "message" && evt.Message != nil:
		err = s.engine.ProcessMessage(ctx, *evt.Message)
	case evt.Type == "join" && evt.Join != nil:
		err = s.engine.ProcessJoin(ctx, *evt.Join)
	case evt.Type == "delete" && evt.Delete != nil:
		err = s.engine.ProcessDeletion(ctx, *evt.Delete)
	case evt.Type == "rebuttal" && evt.Rebuttal != nil:
		err = s.handleRebuttal(ctx, *evt.Rebuttal)
	default:
		logger.Debug("ignoring unhandled stream event")
	}
	if err != nil {
		logger.Error("failed to process stream event", "err", err)
		eventsFailed.WithLabelValues(evt.Type).Inc()
	}

	if evt.Seq > 0 {
		atomic.StoreInt64(&s.lastSeq, evt.Seq)
		currentSeq.Set(float64(evt.Seq))
	}
}

// Opens an appeal from a direct message, and tells the user whether it was accepted.
func (s *Server) handleRebuttal(ctx context.Context, evt engine.RebuttalEvent) error {
	var reply string
	a, err := s.engine.ProcessRebuttal(ctx, evt)
	switch {
	case err == nil:
		reply = fmt.Sprintf("Your appeal against the %s in %s was received and will be reviewed.", a.SanctionKind, evt.CommunityID)
	case errors.Is(err, engine.ErrNoActiveSanction):
		reply = fmt.Sprintf("You have no active sanction in %s to appeal.", evt.CommunityID)
	case errors.Is(err, engine.ErrAppealPending):
		reply = fmt.Sprintf("Your earlier appeal in %s is still under review.", evt.CommunityID)
	default:
		return err
	}
	if nerr := s.engine.Gateway.NotifyUser(ctx, evt.CommunityID, evt.UserID, reply); nerr != nil {
		s.logger.Warn("failed to reply to rebuttal", "user", evt.UserID, "community", evt.CommunityID, "err", nerr)
	}
	return nil
}
