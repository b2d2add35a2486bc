package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/bluesky-social/sentinel/safety/classifier"

	"gopkg.in/yaml.v3"
)

// All tunable numeric policy for the engine. The defaults were tuned by example; operators are expected to adjust them.
type Policy struct {
	// classifier: spam
	SpamWindow         time.Duration `yaml:"spam_window"`
	FloodWindow        time.Duration `yaml:"flood_window"`
	FloodThreshold     int           `yaml:"flood_threshold"`
	DuplicateThreshold int           `yaml:"duplicate_threshold"`
	MaxMentions        int           `yaml:"max_mentions"`
	MaxEmoji           int           `yaml:"max_emoji"`
	ShoutingRatio      float64       `yaml:"shouting_ratio"`
	ShoutingMinLetters int           `yaml:"shouting_min_letters"`

	// classifier: toxicity, in [0,1]
	ToxicityHigh float64 `yaml:"toxicity_high"`
	ToxicityLow  float64 `yaml:"toxicity_low"`
	// weight of each new message in the profile toxicity moving average
	ToxicityAlpha float64 `yaml:"toxicity_alpha"`

	// risk bump per sanction kind
	RiskWarn float64 `yaml:"risk_warn"`
	RiskMute float64 `yaml:"risk_mute"`
	RiskKick float64 `yaml:"risk_kick"`
	RiskBan  float64 `yaml:"risk_ban"`

	RiskDecayStep       float64       `yaml:"risk_decay_step"`
	RiskDecayInactivity time.Duration `yaml:"risk_decay_inactivity"`
	TrustStep           float64       `yaml:"trust_step"`
	TrustActivityWindow time.Duration `yaml:"trust_activity_window"`
	TrustToxicityFloor  float64       `yaml:"trust_toxicity_floor"`
	NewAccountAge       time.Duration `yaml:"new_account_age"`
	SampleRetention     time.Duration `yaml:"sample_retention"`

	MuteLadder               []time.Duration `yaml:"mute_ladder"`
	WarningsBeforeMute       int64           `yaml:"warnings_before_mute"`
	MutesBeforeInvestigation int64           `yaml:"mutes_before_investigation"`
	QuotaBanDay              int             `yaml:"quota_ban_day"`
	QuotaKickDay             int             `yaml:"quota_kick_day"`
	GatewayTimeout           time.Duration   `yaml:"gateway_timeout"`

	InvestigationBatch    int           `yaml:"investigation_batch"`
	InvestigationInterval time.Duration `yaml:"investigation_interval"`
	EvidenceSamples       int           `yaml:"evidence_samples"`
	HighConfidence        float64       `yaml:"high_confidence"`
	OracleTimeout         time.Duration `yaml:"oracle_timeout"`
	// claims older than this (eg, left over from a crash) are released
	StaleInvestigation time.Duration `yaml:"stale_investigation"`

	RehabilitationFloor float64       `yaml:"rehabilitation_floor"`
	AppealInterval      time.Duration `yaml:"appeal_interval"`
	AppealBatch         int           `yaml:"appeal_batch"`

	SpikeWindow       time.Duration `yaml:"spike_window"`
	SpikeThreshold    int           `yaml:"spike_threshold"`
	DeletionWindow    time.Duration `yaml:"deletion_window"`
	DeletionRatio     float64       `yaml:"deletion_ratio"`
	DeletionMinSample int           `yaml:"deletion_min_sample"`
	RaidWindow        time.Duration `yaml:"raid_window"`
	RaidThreshold     int           `yaml:"raid_threshold"`

	DecayInterval time.Duration `yaml:"decay_interval"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// wall-clock UTC time of day for daily reports
	ReportHour   int `yaml:"report_hour"`
	ReportMinute int `yaml:"report_minute"`
	ReportTopN   int `yaml:"report_top_n"`

	// extra patterns, appended to the built-in lists
	ThreatPatterns []classifier.ThreatPattern `yaml:"threat_patterns"`
	ToxicPatterns  []classifier.ToxicPattern  `yaml:"toxic_patterns"`
}

func DefaultPolicy() Policy {
	return Policy{
		SpamWindow:         2 * time.Minute,
		FloodWindow:        60 * time.Second,
		FloodThreshold:     10,
		DuplicateThreshold: 3,
		MaxMentions:        5,
		MaxEmoji:           10,
		ShoutingRatio:      0.7,
		ShoutingMinLetters: 10,

		ToxicityHigh:  0.8,
		ToxicityLow:   0.5,
		ToxicityAlpha: 0.2,

		RiskWarn: 5,
		RiskMute: 10,
		RiskKick: 20,
		RiskBan:  40,

		RiskDecayStep:       2,
		RiskDecayInactivity: time.Hour,
		TrustStep:           1,
		TrustActivityWindow: 24 * time.Hour,
		TrustToxicityFloor:  20,
		NewAccountAge:       7 * 24 * time.Hour,
		SampleRetention:     30 * 24 * time.Hour,

		MuteLadder: []time.Duration{
			5 * time.Minute,
			15 * time.Minute,
			time.Hour,
			6 * time.Hour,
			24 * time.Hour,
		},
		WarningsBeforeMute:       2,
		MutesBeforeInvestigation: 3,
		QuotaBanDay:              50,
		QuotaKickDay:             50,
		GatewayTimeout:           5 * time.Second,

		InvestigationBatch:    3,
		InvestigationInterval: 30 * time.Second,
		EvidenceSamples:       10,
		HighConfidence:        0.8,
		OracleTimeout:         30 * time.Second,
		StaleInvestigation:    10 * time.Minute,

		RehabilitationFloor: 20,
		AppealInterval:      30 * time.Second,
		AppealBatch:         3,

		SpikeWindow:       5 * time.Minute,
		SpikeThreshold:    30,
		DeletionWindow:    24 * time.Hour,
		DeletionRatio:     0.5,
		DeletionMinSample: 10,
		RaidWindow:        60 * time.Second,
		RaidThreshold:     10,

		DecayInterval: 10 * time.Minute,
		SweepInterval: 5 * time.Minute,
		ReportHour:    0,
		ReportMinute:  5,
		ReportTopN:    5,
	}
}

// Reads a YAML policy file. Fields missing from the file keep their default values.
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	raw, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("reading policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) Validate() error {
	if len(p.MuteLadder) == 0 {
		return fmt.Errorf("mute ladder must not be empty")
	}
	for i := 1; i < len(p.MuteLadder); i++ {
		if p.MuteLadder[i] < p.MuteLadder[i-1] {
			return fmt.Errorf("mute ladder must not decrease (tier %d)", i+1)
		}
	}
	if p.ToxicityLow > p.ToxicityHigh {
		return fmt.Errorf("toxicity_low (%f) above toxicity_high (%f)", p.ToxicityLow, p.ToxicityHigh)
	}
	if p.ToxicityAlpha <= 0 || p.ToxicityAlpha > 1 {
		return fmt.Errorf("toxicity_alpha must be in (0,1]")
	}
	if p.InvestigationBatch <= 0 || p.AppealBatch <= 0 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if p.ReportHour < 0 || p.ReportHour > 23 || p.ReportMinute < 0 || p.ReportMinute > 59 {
		return fmt.Errorf("invalid report time %02d:%02d", p.ReportHour, p.ReportMinute)
	}
	for _, tp := range p.ThreatPatterns {
		if tp.Action != classifier.ActionBan && tp.Action != classifier.ActionMute {
			return fmt.Errorf("threat pattern %q: action must be ban or mute", tp.ID)
		}
	}
	return nil
}

// Duration of the next mute, given the number of mutes already received. Escalates along the ladder, then the final tier repeats.
func (p *Policy) MuteDuration(priorMutes int64) time.Duration {
	if priorMutes < 0 {
		priorMutes = 0
	}
	if priorMutes >= int64(len(p.MuteLadder)) {
		return p.MuteLadder[len(p.MuteLadder)-1]
	}
	return p.MuteLadder[priorMutes]
}

func (p *Policy) RiskBump(kind string) float64 {
	switch kind {
	case ActionWarn:
		return p.RiskWarn
	case ActionMute:
		return p.RiskMute
	case ActionKick:
		return p.RiskKick
	case ActionBan:
		return p.RiskBan
	}
	return 0
}

// Classifier configuration derived from the policy: built-in patterns plus any extras.
func (p *Policy) ClassifierConfig() classifier.Config {
	cfg := classifier.DefaultConfig()
	cfg.SpamWindow = p.SpamWindow
	cfg.FloodWindow = p.FloodWindow
	cfg.FloodThreshold = p.FloodThreshold
	cfg.DuplicateThreshold = p.DuplicateThreshold
	cfg.MaxMentions = p.MaxMentions
	cfg.MaxEmoji = p.MaxEmoji
	cfg.ShoutingRatio = p.ShoutingRatio
	cfg.ShoutingMinLetters = p.ShoutingMinLetters
	cfg.Threats = append(cfg.Threats, p.ThreatPatterns...)
	cfg.Toxic = append(cfg.Toxic, p.ToxicPatterns...)
	return cfg
}
