package store

import (
	"time"
)

// Bounds for all profile scores.
const (
	ScoreMin = 0.0
	ScoreMax = 100.0
)

// Profile status values. An investigation may also set the status to its verdict label (eg "medium").
const (
	StatusNormal             = "normal"
	StatusNewAccount         = "new_account"
	StatusUnderInvestigation = "under_investigation"
)

// Action kinds recorded in the action log.
const (
	ActionWarn   = "warn"
	ActionMute   = "mute"
	ActionKick   = "kick"
	ActionBan    = "ban"
	ActionUnmute = "unmute"
	ActionUnban  = "unban"
)

// Appeal decisions and lifecycle states.
const (
	DecisionApprove = "approve"
	DecisionDeny    = "deny"

	AppealSubmitted = "submitted"
	AppealReviewed  = "reviewed"
	AppealDecided   = "decided"
	AppealReversed  = "reversed"
)

// Behavioral record for one user within one community.
type Profile struct {
	UserID      string `gorm:"primaryKey"`
	CommunityID string `gorm:"primaryKey;index"`

	TotalMessages  int64
	MessagesToday  int64
	TotalDeletions int64
	// UTC calendar day that MessagesToday refers to
	ActivityDay string

	Trust    float64
	Risk     float64 `gorm:"index"`
	Toxicity float64

	Warnings int64
	Mutes    int64
	Kicks    int64
	Bans     int64

	Status             string
	// status held before the current investigation claim, put back if the claim goes stale
	PriorStatus        string `gorm:"not null;default:''"`
	UnderInvestigation bool
	IsThreat           bool
	Banned             bool
	MutedUntil         *time.Time

	FirstSeen         time.Time
	LastActive        time.Time `gorm:"index"`
	LastWarning       *time.Time
	LastInvestigation *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Append-only log of enforcement actions. Rows are never updated.
type ActionRecord struct {
	ID          uint   `gorm:"primaryKey"`
	UserID      string `gorm:"index:idx_action_subject"`
	CommunityID string `gorm:"index:idx_action_subject;index:idx_action_community"`
	Kind        string
	Reason      string
	Confidence  float64
	Notified    bool
	// mute duration, zero for other kinds
	DurationSec int64
	// the message, investigation, or appeal which caused this action
	Source string
	// replaying the same sanction (eg, after a restart) is a no-op
	IdempotencyKey *string   `gorm:"uniqueIndex"`
	CreatedAt      time.Time `gorm:"index:idx_action_community"`
}

// Result of an oracle-assisted review of a profile. Immutable once written.
type Investigation struct {
	ID                uint   `gorm:"primaryKey"`
	UserID            string `gorm:"index:idx_investigation_subject"`
	CommunityID       string `gorm:"index:idx_investigation_subject;index:idx_investigation_community"`
	Trigger           string
	Evidence          string
	Verdict           string
	Label             string
	Rationale         string
	RecommendedAction string
	Confidence        float64
	// true if the oracle call failed and no verdict was produced
	NoVerdict bool
	CreatedAt time.Time `gorm:"index:idx_investigation_community"`
}

type Appeal struct {
	ID           uint   `gorm:"primaryKey"`
	UserID       string `gorm:"index:idx_appeal_subject"`
	CommunityID  string `gorm:"index:idx_appeal_subject;index:idx_appeal_community"`
	SanctionKind string
	// action record of the sanction being appealed
	SanctionActionID uint
	Message          string
	Review           string
	Decision         string
	Reason           string
	Confidence       float64
	State            string `gorm:"index"`
	Executed         bool
	// set while the appeal is undecided; enforces one open appeal per user and community
	OpenKey   *string `gorm:"uniqueIndex"`
	CreatedAt time.Time `gorm:"index:idx_appeal_community"`
	DecidedAt *time.Time
}

// A stored chat message. Evidence for investigations, and the activity log for the anomaly sweep and reports.
type ContentSample struct {
	MessageID   string `gorm:"primaryKey"`
	UserID      string `gorm:"index:idx_sample_subject"`
	CommunityID string `gorm:"index:idx_sample_subject;index:idx_sample_community"`
	ChannelID   string
	Text        string
	// comma-separated classifier flags
	Flags     string
	Toxicity  float64
	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time `gorm:"index:idx_sample_community"`
}

type DailyReport struct {
	CommunityID     string `gorm:"primaryKey"`
	Day             string `gorm:"primaryKey"`
	Messages        int64
	Deletions       int64
	ActiveUsers     int64
	Warns           int64
	Mutes           int64
	Kicks           int64
	Bans            int64
	Investigations  int64
	AppealsApproved int64
	AppealsDenied   int64
	// JSON array of the highest-risk profiles
	TopRisk   string
	Summary   string
	CreatedAt time.Time
}

func AllModels() []any {
	return []any{
		&Profile{},
		&ActionRecord{},
		&Investigation{},
		&Appeal{},
		&ContentSample{},
		&DailyReport{},
	}
}
