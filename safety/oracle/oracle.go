package oracle

import (
	"context"
	"errors"
	"time"
)

// Returned (wrapped) whenever the oracle could not produce a verdict: transport failure, timeout, or empty response.
var ErrNoVerdict = errors.New("oracle produced no verdict")

// Threat levels an investigation can return.
const (
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Recommended actions an investigation can return. "none" and "watch" are not actionable.
const (
	RecommendNone  = "none"
	RecommendWatch = "watch"
	RecommendWarn  = "warn"
	RecommendMute  = "mute"
	RecommendKick  = "kick"
	RecommendBan   = "ban"
)

const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"
)

// used when a response omits (or garbles) the confidence field
const DefaultConfidence = 0.7

// Score summary of the profile under review.
type Subject struct {
	UserID      string
	CommunityID string
	Status      string
	Trust       float64
	Risk        float64
	Toxicity    float64
	Warnings    int64
	Mutes       int64
	Kicks       int64
	Bans        int64
	IsThreat    bool
	Messages    int64
	Deletions   int64
	FirstSeen   time.Time
}

type Sample struct {
	Text    string
	Flags   string
	Deleted bool
	At      time.Time
}

type PriorAction struct {
	Kind       string
	Reason     string
	Confidence float64
	At         time.Time
}

// Evidence bundle submitted with investigation and appeal requests. A snapshot: counts and recent samples, never a full history replay.
type Evidence struct {
	Subject Subject
	Trigger string
	Samples []Sample
	Actions []PriorAction
	// only for appeals
	SanctionKind string
	Rebuttal     string
}

// Aggregate statistics handed to the oracle for a daily narrative summary.
type ReportStats struct {
	CommunityID     string
	Day             string
	Messages        int64
	Deletions       int64
	ActiveUsers     int64
	ActionsByKind   map[string]int64
	Investigations  int64
	AppealsApproved int64
	AppealsDenied   int64
	TopRisk         []Subject
}

type Verdict struct {
	Label             string
	Rationale         string
	RecommendedAction string
	Confidence        float64
	// full response text, kept for the investigation record
	Raw string
}

// Returns true if the recommendation is a concrete sanction.
func (v *Verdict) Actionable() bool {
	switch v.RecommendedAction {
	case RecommendWarn, RecommendMute, RecommendKick, RecommendBan:
		return true
	}
	return false
}

type AppealVerdict struct {
	Decision   string
	Reasoning  string
	Confidence float64
	Raw        string
}

// Typed interface to the external judgment service. Implementations must never return a partially-populated verdict alongside an error.
type Judge interface {
	Investigate(ctx context.Context, ev Evidence) (*Verdict, error)
	ReviewAppeal(ctx context.Context, ev Evidence) (*AppealVerdict, error)
	Summarize(ctx context.Context, stats ReportStats) (string, error)
}

// Low-level text completion transport (eg, a chat-completions HTTP API).
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Judge used when no oracle endpoint is configured. Never reaches a verdict, so investigations record "no verdict", appeals are denied, and reports go out without a summary.
type Unconfigured struct{}

func (Unconfigured) Investigate(ctx context.Context, ev Evidence) (*Verdict, error) {
	return nil, ErrNoVerdict
}

func (Unconfigured) ReviewAppeal(ctx context.Context, ev Evidence) (*AppealVerdict, error) {
	return nil, ErrNoVerdict
}

func (Unconfigured) Summarize(ctx context.Context, stats ReportStats) (string, error) {
	return "", ErrNoVerdict
}
