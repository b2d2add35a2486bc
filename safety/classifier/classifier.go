package classifier

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bluesky-social/sentinel/safety/keyword"
)

// Sanction kinds a threat pattern can recommend.
const (
	ActionBan  = "ban"
	ActionMute = "mute"
)

type SpamKind string

const (
	SpamFlood     SpamKind = "flood"
	SpamDuplicate SpamKind = "duplicate"
	SpamMentions  SpamKind = "excess-mentions"
	SpamEmoji     SpamKind = "excess-emoji"
	SpamShouting  SpamKind = "shouting"
)

// A single chat message, as seen by the classifier.
type Message struct {
	UserID      string
	CommunityID string
	Text        string
	Timestamp   time.Time
}

// Result of matching one of the instant-action threat patterns.
type ThreatMatch struct {
	PatternID          string
	Action             string
	Confidence         float64
	Severity           int
	ForceInvestigation bool
}

type SpamSignal struct {
	Kind      SpamKind
	Magnitude float64
}

// Continuous (non-instant) analysis of message text.
type Analysis struct {
	// in range [-1, 1]
	Sentiment float64
	// in range [0, 1]
	Toxicity float64
	Flags    []string
}

// Verdict bundle for a single message. Threat and Spam are nil when nothing matched.
type Verdict struct {
	Threat   *ThreatMatch
	Spam     *SpamSignal
	Analysis Analysis
}

// Returns all flags in the verdict, suitable for storing alongside a content sample.
func (v *Verdict) AllFlags() []string {
	out := []string{}
	if v.Threat != nil {
		out = append(out, "threat:"+v.Threat.PatternID)
	}
	if v.Spam != nil {
		out = append(out, "spam:"+string(v.Spam.Kind))
	}
	out = append(out, v.Analysis.Flags...)
	return out
}

type Config struct {
	SpamWindow         time.Duration
	FloodWindow        time.Duration
	FloodThreshold     int
	DuplicateThreshold int
	MaxMentions        int
	MaxEmoji           int
	ShoutingRatio      float64
	ShoutingMinLetters int
	// upper bound on distinct users tracked by the sliding window
	MaxTrackedUsers int

	Threats []ThreatPattern
	Toxic   []ToxicPattern
}

func DefaultConfig() Config {
	return Config{
		SpamWindow:         2 * time.Minute,
		FloodWindow:        60 * time.Second,
		FloodThreshold:     10,
		DuplicateThreshold: 3,
		MaxMentions:        5,
		MaxEmoji:           10,
		ShoutingRatio:      0.7,
		ShoutingMinLetters: 10,
		MaxTrackedUsers:    100_000,
		Threats:            DefaultThreatPatterns(),
		Toxic:              DefaultToxicPatterns(),
	}
}

// Classifier is stateless except for the per-user sliding window used for spam detection.
type Classifier struct {
	cfg     Config
	threats []compiledPattern
	toxic   []compiledPattern
	window  *SpamWindow
}

func NewClassifier(cfg Config) *Classifier {
	c := &Classifier{
		cfg:    cfg,
		window: NewSpamWindow(cfg.SpamWindow, cfg.MaxTrackedUsers),
	}
	for _, p := range cfg.Threats {
		c.threats = append(c.threats, compileThreat(p))
	}
	// highest severity first; ties broken by declared confidence
	sort.SliceStable(c.threats, func(i, j int) bool {
		if c.threats[i].severity != c.threats[j].severity {
			return c.threats[i].severity > c.threats[j].severity
		}
		return c.threats[i].confidence > c.threats[j].confidence
	})
	for _, p := range cfg.Toxic {
		c.toxic = append(c.toxic, compileToxic(p))
	}
	sort.SliceStable(c.toxic, func(i, j int) bool {
		return c.toxic[i].weight > c.toxic[j].weight
	})
	return c
}

// Runs all checks against a message. Updates the sliding spam window for the message author as a side-effect.
func (c *Classifier) Classify(msg Message) Verdict {
	text := newTextForms(msg.Text)
	v := Verdict{
		Threat:   c.matchThreat(text),
		Analysis: c.analyze(text),
	}
	v.Spam = c.detectSpam(msg)
	return v
}

// Checks text against the instant threat patterns only. Pure function.
func (c *Classifier) MatchThreat(text string) *ThreatMatch {
	return c.matchThreat(newTextForms(text))
}

// Continuous analysis only (sentiment, toxicity, flags). Pure function.
func (c *Classifier) Analyze(text string) Analysis {
	return c.analyze(newTextForms(text))
}

// Drops sliding window state for a user; used when the user leaves or is banned.
func (c *Classifier) Forget(communityID, userID string) {
	c.window.Forget(windowKey(communityID, userID))
}

func (c *Classifier) matchThreat(text textForms) *ThreatMatch {
	for _, p := range c.threats {
		if p.matches(text) {
			return &ThreatMatch{
				PatternID:          p.id,
				Action:             p.action,
				Confidence:         p.confidence,
				Severity:           p.severity,
				ForceInvestigation: p.forceInvestigation,
			}
		}
	}
	return nil
}

func (c *Classifier) detectSpam(msg Message) *SpamSignal {
	at := msg.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	obs := c.window.Observe(windowKey(msg.CommunityID, msg.UserID), at, hashOfText(msg.Text), c.cfg.FloodWindow)
	if obs.Recent > c.cfg.FloodThreshold {
		return &SpamSignal{Kind: SpamFlood, Magnitude: float64(obs.Recent)}
	}
	if obs.Duplicates >= c.cfg.DuplicateThreshold {
		return &SpamSignal{Kind: SpamDuplicate, Magnitude: float64(obs.Duplicates)}
	}
	if n := countMentions(msg.Text); n > c.cfg.MaxMentions {
		return &SpamSignal{Kind: SpamMentions, Magnitude: float64(n)}
	}
	if n := countEmoji(msg.Text); n > c.cfg.MaxEmoji {
		return &SpamSignal{Kind: SpamEmoji, Magnitude: float64(n)}
	}
	if ratio, letters := upperRatio(msg.Text); letters >= c.cfg.ShoutingMinLetters && ratio >= c.cfg.ShoutingRatio {
		return &SpamSignal{Kind: SpamShouting, Magnitude: ratio}
	}
	return nil
}

func windowKey(communityID, userID string) string {
	return communityID + "/" + userID
}

// the several normalized forms of a message that patterns are matched against
type textForms struct {
	tokens   []string
	folded   []string
	censored []string
	lower    string
}

func newTextForms(raw string) textForms {
	return textForms{
		tokens:   keyword.TokenizeText(raw),
		folded:   keyword.TokenizeTextFolded(raw),
		censored: keyword.TokenizeTextSkippingCensorChars(raw),
		lower:    strings.ToLower(raw),
	}
}

var (
	mentionRegex     = regexp.MustCompile(`<@[!&]?\d+>|@[\pL\pN_.]+`)
	customEmojiRegex = regexp.MustCompile(`<a?:\w+:\d+>`)
)

func countMentions(text string) int {
	return len(mentionRegex.FindAllString(text, -1))
}

func upperRatio(text string) (float64, int) {
	letters, upper := 0, 0
	for _, r := range text {
		if !isLetter(r) {
			continue
		}
		letters++
		if isUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0, 0
	}
	return float64(upper) / float64(letters), letters
}
