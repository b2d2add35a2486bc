package classifier

import (
	"regexp"

	"github.com/bluesky-social/sentinel/safety/keyword"
)

// An instant-action pattern. Matching any of the phrases, slugs, or regexes triggers the pattern.
type ThreatPattern struct {
	ID         string  `yaml:"id"`
	Action     string  `yaml:"action"`
	Confidence float64 `yaml:"confidence"`
	Severity   int     `yaml:"severity"`
	// if true, a match also queues the author for investigation
	ForceInvestigation bool `yaml:"force_investigation"`
	// multi-word phrases, matched against tokenized (and leet-folded) text
	Phrases []string `yaml:"phrases"`
	// matched against runs of adjacent tokens joined together, to catch "k.y.s" style spelling
	Slugs []string `yaml:"slugs"`
	// matched against the lower-cased raw text
	Regexes []string `yaml:"regexes"`
}

// A weighted pattern contributing to the continuous toxicity score.
type ToxicPattern struct {
	ID      string   `yaml:"id"`
	Weight  float64  `yaml:"weight"`
	Phrases []string `yaml:"phrases"`
	Regexes []string `yaml:"regexes"`
}

type compiledPattern struct {
	id                 string
	action             string
	confidence         float64
	severity           int
	forceInvestigation bool
	weight             float64
	phrases            [][]string
	slugs              []string
	regexes            []*regexp.Regexp
}

func compilePhrases(phrases []string) [][]string {
	out := make([][]string, 0, len(phrases))
	for _, p := range phrases {
		toks := keyword.TokenizeText(p)
		if len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

func compileRegexes(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

func compileThreat(p ThreatPattern) compiledPattern {
	slugs := make([]string, 0, len(p.Slugs))
	for _, s := range p.Slugs {
		slugs = append(slugs, keyword.Slugify(s))
	}
	return compiledPattern{
		id:                 p.ID,
		action:             p.Action,
		confidence:         p.Confidence,
		severity:           p.Severity,
		forceInvestigation: p.ForceInvestigation,
		phrases:            compilePhrases(p.Phrases),
		slugs:              slugs,
		regexes:            compileRegexes(p.Regexes),
	}
}

func compileToxic(p ToxicPattern) compiledPattern {
	return compiledPattern{
		id:      p.ID,
		weight:  p.Weight,
		phrases: compilePhrases(p.Phrases),
		regexes: compileRegexes(p.Regexes),
	}
}

func (p *compiledPattern) matches(text textForms) bool {
	return p.hits(text) > 0
}

// number of distinct phrases/slugs/regexes of this pattern present in the text
func (p *compiledPattern) hits(text textForms) int {
	n := 0
	for _, phrase := range p.phrases {
		if keyword.ContainsPhrase(text.tokens, phrase) || keyword.ContainsPhrase(text.folded, phrase) || keyword.ContainsPhrase(text.censored, phrase) {
			n++
		}
	}
	for _, slug := range p.slugs {
		if keyword.ContainsSlug(text.tokens, slug) || keyword.ContainsSlug(text.folded, slug) {
			n++
		}
	}
	for _, re := range p.regexes {
		if re.MatchString(text.lower) {
			n++
		}
	}
	return n
}

func DefaultThreatPatterns() []ThreatPattern {
	return []ThreatPattern{
		{
			ID:         "self-harm-incitement",
			Action:     ActionBan,
			Confidence: 0.95,
			Severity:   100,
			Phrases: []string{
				"kill yourself",
				"kill urself",
				"kys",
				"go die",
				"hang yourself",
				"end your life",
				"drink bleach",
				"nobody would miss you if you died",
			},
			Slugs: []string{"kys", "killyourself", "killurself", "hangyourself"},
		},
		{
			ID:         "scam",
			Action:     ActionBan,
			Confidence: 0.92,
			Severity:   90,
			Phrases: []string{
				"free nitro",
				"nitro giveaway",
				"steam gift card giveaway",
				"claim your prize",
				"double your crypto",
				"send me your password",
				"verify your account at",
			},
			Regexes: []string{
				`(discord|dlscord|disc0rd)[-.]?(gift|nitro)s?\.(com|ru|xyz|gift)`,
				`steamcommunity\.[a-z]{2,}\.(ru|xyz|tk)`,
			},
		},
		{
			ID:                 "explicit-threat",
			Action:             ActionMute,
			Confidence:         0.9,
			Severity:           80,
			ForceInvestigation: true,
			Phrases: []string{
				"i will kill you",
				"i'm going to kill you",
				"im gonna kill you",
				"i know where you live",
				"you're dead",
				"i will find you",
				"shoot up the",
				"bomb your",
			},
		},
		{
			ID:                 "doxxing",
			Action:             ActionMute,
			Confidence:         0.85,
			Severity:           70,
			ForceInvestigation: true,
			Phrases: []string{
				"your home address is",
				"i found your address",
				"leak your address",
				"posting your address",
			},
		},
	}
}

func DefaultToxicPatterns() []ToxicPattern {
	return []ToxicPattern{
		{
			ID:     "severe-harassment",
			Weight: 0.85,
			Phrases: []string{
				"everyone hates you",
				"you should disappear",
				"die in a fire",
				"waste of oxygen",
				"worthless piece of",
			},
		},
		{
			ID:     "harassment",
			Weight: 0.6,
			Phrases: []string{
				"shut up",
				"nobody likes you",
				"you're worthless",
				"loser",
				"idiot",
				"stupid",
				"moron",
				"pathetic",
				"dumbass",
			},
		},
		{
			ID:     "profanity",
			Weight: 0.3,
			Phrases: []string{
				"fuck",
				"shit",
				"bitch",
				"asshole",
				"wtf",
			},
		},
	}
}
