package oracle

import (
	"bufio"
	"math"
	"strconv"
	"strings"
)

// Extracts "KEY: value" fields from free-form oracle output. Keys are upper-cased; markdown emphasis and list bullets are ignored. The first occurrence of a key wins.
func parseFields(raw string) map[string]string {
	out := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimLeft(line, "-*#> ")
		line = strings.ReplaceAll(line, "**", "")
		line = strings.ReplaceAll(line, "__", "")
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		key = strings.ReplaceAll(key, " ", "_")
		if key == "" || len(key) > 40 {
			continue
		}
		if _, seen := out[key]; seen {
			continue
		}
		out[key] = strings.TrimSpace(val)
	}
	return out
}

// first word of a field value, lower-cased and stripped of punctuation
func firstWord(val string) string {
	val = strings.ToLower(strings.TrimSpace(val))
	val = strings.Trim(val, "`'\".,;!()[]")
	if i := strings.IndexAny(val, " \t,.;("); i >= 0 {
		val = val[:i]
	}
	return strings.Trim(val, "`'\".,;!()[]")
}

func parseConfidence(val string) float64 {
	val = strings.TrimSpace(val)
	if val == "" {
		return DefaultConfidence
	}
	percent := false
	if i := strings.IndexAny(val, " \t("); i >= 0 {
		val = val[:i]
	}
	if strings.HasSuffix(val, "%") {
		percent = true
		val = strings.TrimSuffix(val, "%")
	}
	f, err := strconv.ParseFloat(val, 64)
	// ParseFloat accepts "NaN" and "Inf", which would slip past every threshold comparison
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return DefaultConfidence
	}
	if percent || f > 1 {
		if f > 100 {
			return DefaultConfidence
		}
		f = f / 100
	}
	return f
}

func normalizeLevel(val string) string {
	switch w := firstWord(val); w {
	case LevelLow, LevelMedium, LevelHigh, LevelCritical:
		return w
	case "moderate":
		return LevelMedium
	case "severe":
		return LevelCritical
	}
	return LevelLow
}

func normalizeRecommendation(val string) string {
	switch w := firstWord(val); w {
	case RecommendNone, RecommendWatch, RecommendWarn, RecommendMute, RecommendKick, RecommendBan:
		return w
	case "monitor":
		return RecommendWatch
	case "warning":
		return RecommendWarn
	case "timeout":
		return RecommendMute
	}
	return RecommendNone
}

func normalizeDecision(val string) string {
	switch firstWord(val) {
	case "approve", "approved", "accept", "accepted":
		return DecisionApprove
	}
	return DecisionDeny
}

// Parses an investigation response. Never fails: missing or unrecognized fields fall back to the safest values (low / none / DefaultConfidence).
func ParseVerdict(raw string) *Verdict {
	f := parseFields(raw)
	rationale := f["RATIONALE"]
	if rationale == "" {
		rationale = f["REASONING"]
	}
	return &Verdict{
		Label:             normalizeLevel(f["THREAT_LEVEL"]),
		Rationale:         rationale,
		RecommendedAction: normalizeRecommendation(f["RECOMMENDED_ACTION"]),
		Confidence:        parseConfidence(f["CONFIDENCE"]),
		Raw:               raw,
	}
}

// Parses an appeal review response. Anything other than an explicit approval is a denial.
func ParseAppealVerdict(raw string) *AppealVerdict {
	f := parseFields(raw)
	reasoning := f["REASONING"]
	if reasoning == "" {
		reasoning = f["RATIONALE"]
	}
	return &AppealVerdict{
		Decision:   normalizeDecision(f["DECISION"]),
		Reasoning:  reasoning,
		Confidence: parseConfidence(f["CONFIDENCE"]),
		Raw:        raw,
	}
}
