package classifier

import (
	"github.com/bluesky-social/sentinel/safety/keyword"
)

// each extra toxic hit beyond the first adds this much to the toxicity score
const toxicHitIncrement = 0.1

var positiveWords = []string{
	"thanks", "thank", "love", "great", "awesome", "nice", "cool", "good",
	"happy", "glad", "welcome", "gg", "congrats", "appreciate", "helpful", "lol",
}

var negativeWords = []string{
	"hate", "bad", "terrible", "awful", "worst", "angry", "annoying", "sucks",
	"ugly", "disgusting", "horrible", "boring", "sad", "useless",
}

func (c *Classifier) analyze(text textForms) Analysis {
	out := Analysis{Flags: []string{}}

	hits := 0
	maxWeight := 0.0
	for _, p := range c.toxic {
		n := p.hits(text)
		if n == 0 {
			continue
		}
		hits += n
		if p.weight > maxWeight {
			maxWeight = p.weight
		}
		out.Flags = append(out.Flags, "toxic:"+p.id)
	}
	if hits > 0 {
		out.Toxicity = clampUnit(maxWeight + toxicHitIncrement*float64(hits-1))
	}

	pos, neg := 0, 0
	for _, tok := range text.tokens {
		if keyword.TokenInSet(tok, positiveWords) {
			pos++
		} else if keyword.TokenInSet(tok, negativeWords) {
			neg++
		}
	}
	neg += hits
	if pos+neg > 0 {
		out.Sentiment = float64(pos-neg) / float64(pos+neg)
	}
	return out
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
