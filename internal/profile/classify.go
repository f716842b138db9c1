package profile

import (
	"strings"

	"cardispatch/internal"
)

// Classify scores the document text against every non-fallback profile's
// weighted indicators. The highest score at or above its profile's own
// threshold wins; equal scores resolve to the earlier declared profile.
// Below every threshold the verdict is UNKNOWN and the caller falls back to
// the generic profile.
func (c *Catalog) Classify(rawText string) internal.Classification {
	text := strings.ToLower(rawText)

	best := internal.Classification{AuctionType: internal.AuctionUnknown, NeedsClassification: true}
	bestQualified := false

	for _, p := range c.profiles {
		if p.Fallback || len(p.MatchRules) == 0 {
			continue
		}
		score, matched := p.score(text)
		qualified := score >= p.ConfidenceThreshold && p.ConfidenceThreshold > 0

		switch {
		case qualified && (!bestQualified || score > best.Confidence):
			best = internal.Classification{AuctionType: p.AuctionType, Confidence: score, MatchedPatterns: matched}
			bestQualified = true
		case !bestQualified && score > best.Confidence:
			// Track the closest miss for diagnostics only.
			best.Confidence = score
			best.MatchedPatterns = matched
		}
	}

	return best
}

func (p Profile) score(lowerText string) (float64, []string) {
	total := 0.0
	matched := 0.0
	var hits []string

	for i, mr := range p.MatchRules {
		total += mr.Weight
		ok := false
		if mr.Regex {
			re := p.matchRegex[i]
			ok = re != nil && re.MatchString(lowerText)
		} else {
			ok = strings.Contains(lowerText, strings.ToLower(mr.Pattern))
		}
		if ok {
			matched += mr.Weight
			hits = append(hits, mr.Pattern)
		}
	}

	if total <= 0 {
		return 0, nil
	}
	score := matched / total
	if score > 1 {
		score = 1
	}
	return score, hits
}
