package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bluesky-social/sentinel/safety/classifier"
	"github.com/bluesky-social/sentinel/safety/store"
)

// counter names for per-community activity totals
const (
	messageCounter     = "sentinel-messages"
	activeUsersCounter = "sentinel-active-users"
)

// Hot path for a single chat message: classify, record, and enforce. Never calls the oracle.
func (eng *Engine) ProcessMessage(ctx context.Context, evt MessageEvent) (err error) {
	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("message processing exception", "err", r, "user", evt.UserID, "community", evt.CommunityID, "message", evt.MessageID)
			err = fmt.Errorf("panic processing message: %v", r)
		}
	}()
	start := time.Now()
	defer func() {
		eventProcessDuration.WithLabelValues("message").Observe(time.Since(start).Seconds())
		eventProcessCount.WithLabelValues("message").Inc()
		if err != nil {
			eventErrorCount.WithLabelValues("message").Inc()
		}
	}()

	if evt.UserID == "" || evt.CommunityID == "" || evt.MessageID == "" {
		return fmt.Errorf("%w: message requires user, community, and message id", ErrInvalidEvent)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eng.now()
	}
	logger := eng.Logger.With("user", evt.UserID, "community", evt.CommunityID)

	// replayed events must not feed the spam window twice
	if _, err := eng.Store.GetSample(ctx, evt.MessageID); err == nil {
		logger.Debug("message already processed", "message", evt.MessageID)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if _, err := eng.Store.EnsureProfile(ctx, evt.CommunityID, evt.UserID, store.StatusNormal, evt.Timestamp); err != nil {
		return err
	}

	verdict := eng.Classifier.Classify(classifier.Message{
		UserID:      evt.UserID,
		CommunityID: evt.CommunityID,
		Text:        evt.Text,
		Timestamp:   evt.Timestamp,
	})
	flags := verdict.AllFlags()

	inserted, err := eng.Store.RecordMessage(ctx, &store.ContentSample{
		MessageID:   evt.MessageID,
		UserID:      evt.UserID,
		CommunityID: evt.CommunityID,
		ChannelID:   evt.ChannelID,
		Text:        evt.Text,
		Flags:       strings.Join(flags, ","),
		Toxicity:    verdict.Analysis.Toxicity,
		CreatedAt:   evt.Timestamp,
	}, eng.Policy.ToxicityAlpha)
	if err != nil {
		return err
	}
	if !inserted {
		logger.Debug("message already processed", "message", evt.MessageID)
		return nil
	}
	if err := eng.Counters.Increment(ctx, messageCounter, evt.CommunityID, evt.Timestamp); err != nil {
		logger.Warn("incrementing message counter", "err", err)
	}
	if err := eng.Counters.IncrementDistinct(ctx, activeUsersCounter, evt.CommunityID, evt.UserID, evt.Timestamp); err != nil {
		logger.Warn("incrementing active users counter", "err", err)
	}
	if len(flags) > 0 {
		logger.Debug("message flagged", "message", evt.MessageID, "flags", flags, "toxicity", verdict.Analysis.Toxicity)
	}

	// re-read after recording, so counters reflect any concurrent sanction
	profile, err := eng.Store.GetProfile(ctx, evt.CommunityID, evt.UserID)
	if err != nil {
		return err
	}
	sn := eng.decide(&verdict, profile)
	if sn != nil {
		sn.Source = "message/" + evt.MessageID
		sn.ChannelID = evt.ChannelID
		sn.MessageID = evt.MessageID
		if _, err := eng.enforce(ctx, sn, profile.Mutes); err != nil {
			return err
		}
	}
	if verdict.Threat != nil && verdict.Threat.ForceInvestigation {
		eng.Enqueue(ctx, evt.CommunityID, evt.UserID, "threat:"+verdict.Threat.PatternID)
	}
	return nil
}

// Records a membership join: creates the profile (as a new account if the platform account is young), and checks the community for a raid.
func (eng *Engine) ProcessJoin(ctx context.Context, evt JoinEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("join processing exception", "err", r, "user", evt.UserID, "community", evt.CommunityID)
			err = fmt.Errorf("panic processing join: %v", r)
		}
	}()
	eventProcessCount.WithLabelValues("join").Inc()

	if evt.UserID == "" || evt.CommunityID == "" {
		return fmt.Errorf("%w: join requires user and community", ErrInvalidEvent)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eng.now()
	}
	status := store.StatusNormal
	if evt.AccountAge < eng.Policy.NewAccountAge {
		status = store.StatusNewAccount
	}
	if _, err := eng.Store.EnsureProfile(ctx, evt.CommunityID, evt.UserID, status, evt.Timestamp); err != nil {
		return err
	}
	n := eng.joins.Record(evt.CommunityID, evt.Timestamp)
	eng.checkRaid(ctx, evt.CommunityID, n, evt.Timestamp)
	return nil
}

// Marks a stored message as deleted. Unknown messages are ignored.
func (eng *Engine) ProcessDeletion(ctx context.Context, evt DeletionEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("deletion processing exception", "err", r, "message", evt.MessageID)
			err = fmt.Errorf("panic processing deletion: %v", r)
		}
	}()
	eventProcessCount.WithLabelValues("delete").Inc()

	if evt.MessageID == "" {
		return fmt.Errorf("%w: deletion requires message id", ErrInvalidEvent)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eng.now()
	}
	_, err = eng.Store.RecordDeletion(ctx, evt.MessageID, evt.Timestamp)
	if errors.Is(err, store.ErrNotFound) {
		eng.Logger.Debug("deletion for unknown message", "message", evt.MessageID)
		return nil
	}
	return err
}

// Accepts a rebuttal as a new appeal against the user's most severe active sanction. The oracle review happens later, in the appeal loop.
//
// Returns ErrNoActiveSanction if there is nothing to appeal, and ErrAppealPending if an earlier appeal is still undecided.
func (eng *Engine) ProcessRebuttal(ctx context.Context, evt RebuttalEvent) (appeal *store.Appeal, err error) {
	defer func() {
		if r := recover(); r != nil {
			eng.Logger.Error("rebuttal processing exception", "err", r, "user", evt.UserID, "community", evt.CommunityID)
			err = fmt.Errorf("panic processing rebuttal: %v", r)
		}
	}()
	eventProcessCount.WithLabelValues("rebuttal").Inc()

	if evt.UserID == "" || evt.CommunityID == "" {
		return nil, fmt.Errorf("%w: rebuttal requires user and community", ErrInvalidEvent)
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = eng.now()
	}
	return eng.SubmitAppeal(ctx, evt.CommunityID, evt.UserID, evt.Text, evt.Timestamp)
}
