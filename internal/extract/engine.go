package extract

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"cardispatch/internal"
	"cardispatch/internal/profile"
	"cardispatch/internal/util"
)

const (
	confConstant        = 1.0
	confRegexDefault    = 0.7
	confLabelValue      = 0.8
	confLabelAmbiguous  = 0.65
	confSpatialFallback = 0.5
	confRuleDefault     = 0.3
)

const ambiguityWindowPts = 12.0

// Engine resolves field values against a structured document using the
// profile's rules. Strategies run in precedence order and the first non-empty
// result wins; each result carries its confidence and the block ids that
// justify it.
type Engine struct{}

func New() *Engine { return &Engine{} }

func (e *Engine) Extract(doc internal.DocumentStructure, prof profile.Profile, keys []string, now time.Time) map[string]internal.FieldValue {
	out := make(map[string]internal.FieldValue, len(keys))
	for _, key := range keys {
		fv := e.resolveField(doc, prof, key)
		fv.Key = key
		fv.UpdatedAt = now
		out[key] = fv
	}
	return out
}

func (e *Engine) resolveField(doc internal.DocumentStructure, prof profile.Profile, key string) internal.FieldValue {
	rule := prof.FieldRules[key]

	// constant: profile declares a fixed value for this auction type.
	if v := prof.Constants[key]; v != "" {
		return finish(internal.FieldValue{Value: v, Source: internal.SourceAuctionConst, Confidence: confConstant}, rule)
	}
	if rule.Strategy == profile.StrategyConstant && rule.Value != "" {
		return finish(internal.FieldValue{Value: rule.Value, Source: internal.SourceAuctionConst, Confidence: confConstant}, rule)
	}

	// regex against the whole document text.
	if fv, ok := matchPatterns(doc, rule.Patterns, ruleConfidence(rule, confRegexDefault)); ok {
		return finish(fv, rule)
	}

	// label proximity against blocks.
	if fv, ok := matchLabel(doc, rule); ok {
		return finish(fv, rule)
	}

	// spatial/default heuristics, lowest extraction confidence.
	if fv, ok := matchPatterns(doc, rule.Fallbacks, confSpatialFallback); ok {
		return finish(fv, rule)
	}

	if rule.Default != "" {
		return finish(internal.FieldValue{Value: rule.Default, Source: internal.SourceDefault, Confidence: confRuleDefault}, rule)
	}

	return internal.FieldValue{Source: internal.SourceEmpty, Confidence: 0}
}

// finish applies the rule's postprocess chain; a value emptied by
// postprocessing degrades to EMPTY.
func finish(fv internal.FieldValue, rule profile.ExtractionRule) internal.FieldValue {
	fv.Value = applyPostprocess(fv.Value, rule.Postprocess)
	if fv.Value == "" {
		return internal.FieldValue{Source: internal.SourceEmpty, Confidence: 0}
	}
	return fv
}

func ruleConfidence(rule profile.ExtractionRule, fallback float64) float64 {
	if rule.Confidence > 0 {
		return rule.Confidence
	}
	return fallback
}

func matchPatterns(doc internal.DocumentStructure, patterns []string, confidence float64) (internal.FieldValue, bool) {
	for _, pat := range patterns {
		re, err := compiled(pat)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(doc.RawText)
		if m == nil {
			continue
		}
		value := m[0]
		if len(m) > 1 && m[1] != "" {
			value = m[1]
		}
		value = util.NormalizeSpaces(value)
		if value == "" {
			continue
		}
		return internal.FieldValue{
			Value:            value,
			Source:           internal.SourceExtracted,
			Confidence:       confidence,
			EvidenceBlockIDs: evidenceFor(doc, m[0]),
		}, true
	}
	return internal.FieldValue{}, false
}

// evidenceFor locates the blocks whose text contains the matched snippet.
func evidenceFor(doc internal.DocumentStructure, snippet string) []int {
	snippet = util.NormalizeSpaces(snippet)
	if snippet == "" {
		return nil
	}
	var ids []int
	for _, b := range doc.Blocks {
		if strings.Contains(util.NormalizeSpaces(strings.ReplaceAll(b.Text, "\n", " ")), snippet) {
			ids = append(ids, b.ID)
		}
	}
	if len(ids) > 3 {
		ids = ids[:3]
	}
	return ids
}

var reCache sync.Map

func compiled(pattern string) (*regexp.Regexp, error) {
	if v, ok := reCache.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	reCache.Store(pattern, re)
	return re, nil
}

func matchLabel(doc internal.DocumentStructure, rule profile.ExtractionRule) (internal.FieldValue, bool) {
	if len(rule.Labels) == 0 {
		return internal.FieldValue{}, false
	}

	var labelBlocks []internal.TextBlock
	for _, pat := range rule.Labels {
		re, err := compiled(pat)
		if err != nil {
			continue
		}
		for _, b := range doc.Blocks {
			if blockMatchesLabel(b, re) {
				labelBlocks = append(labelBlocks, b)
			}
		}
		if len(labelBlocks) > 0 {
			break
		}
	}
	if len(labelBlocks) == 0 {
		return internal.FieldValue{}, false
	}
	label := labelBlocks[0]

	evidence := rule.Evidence
	if evidence == "" {
		evidence = profile.EvidenceSameLine
	}

	if evidence == profile.EvidenceSameLine {
		return sameLineValue(label, rule)
	}

	candidates := adjacentCandidates(doc, label, evidence)
	if len(candidates) == 0 {
		return internal.FieldValue{}, false
	}
	value := blockValue(candidates[0])
	if value == "" {
		return internal.FieldValue{}, false
	}
	confidence := ruleConfidence(rule, confLabelValue)
	if len(candidates) > 1 {
		confidence = math.Min(confidence, confLabelAmbiguous)
	}
	return internal.FieldValue{
		Value:            value,
		Source:           internal.SourceExtracted,
		Confidence:       confidence,
		EvidenceBlockIDs: []int{label.ID, candidates[0].ID},
	}, true
}

// blockMatchesLabel applies the label pattern line by line so anchored
// patterns behave inside multi-line blocks.
func blockMatchesLabel(b internal.TextBlock, re *regexp.Regexp) bool {
	for _, ln := range strings.Split(b.Text, "\n") {
		if re.MatchString(ln) {
			return true
		}
	}
	return false
}

// sameLineValue pulls the candidate out of the label's own block: the rule
// pattern's capture group, or everything after the label match.
func sameLineValue(label internal.TextBlock, rule profile.ExtractionRule) (internal.FieldValue, bool) {
	text := blockValue(label)
	for _, pat := range rule.Patterns {
		re, err := compiled(pat)
		if err != nil {
			continue
		}
		if m := re.FindStringSubmatch(text); m != nil && len(m) > 1 && m[1] != "" {
			return internal.FieldValue{
				Value:            util.NormalizeSpaces(m[1]),
				Source:           internal.SourceExtracted,
				Confidence:       ruleConfidence(rule, confLabelValue),
				EvidenceBlockIDs: []int{label.ID},
			}, true
		}
	}
	for _, pat := range rule.Labels {
		re, err := compiled(pat)
		if err != nil {
			continue
		}
		if loc := re.FindStringIndex(text); loc != nil {
			rest := strings.TrimLeft(text[loc[1]:], " :#-")
			rest = util.NormalizeSpaces(rest)
			if rest != "" {
				return internal.FieldValue{
					Value:            rest,
					Source:           internal.SourceExtracted,
					Confidence:       ruleConfidence(rule, confLabelValue),
					EvidenceBlockIDs: []int{label.ID},
				}, true
			}
		}
	}
	return internal.FieldValue{}, false
}

// adjacentCandidates returns neighbor blocks ordered by proximity under the
// rule's evidence strategy. More than one close candidate marks the result
// ambiguous.
func adjacentCandidates(doc internal.DocumentStructure, label internal.TextBlock, evidence profile.EvidenceStrategy) []internal.TextBlock {
	type scored struct {
		block internal.TextBlock
		dist  float64
	}
	var picks []scored

	for _, b := range doc.Blocks {
		if b.ID == label.ID || b.PageIndex != label.PageIndex {
			continue
		}
		switch evidence {
		case profile.EvidenceBelowLabel:
			if b.ColumnIndex != label.ColumnIndex || b.BBox.Y0 < label.BBox.Y1-1 {
				continue
			}
			picks = append(picks, scored{b, b.BBox.Y0 - label.BBox.Y1})
		case profile.EvidenceRightOfLabel:
			if b.BBox.X0 < label.BBox.X1-1 || !verticalOverlap(label.BBox, b.BBox) {
				continue
			}
			picks = append(picks, scored{b, b.BBox.X0 - label.BBox.X1})
		case profile.EvidenceNearestBlock:
			picks = append(picks, scored{b, centerDistance(label.BBox, b.BBox)})
		}
	}
	if len(picks) == 0 {
		return nil
	}

	best := picks[0]
	for _, p := range picks[1:] {
		if p.dist < best.dist {
			best = p
		}
	}
	// Anything within roughly a line height of the best pick is a competing
	// candidate; more than one marks the field ambiguous.
	out := []internal.TextBlock{best.block}
	for _, p := range picks {
		if p.block.ID != best.block.ID && p.dist <= best.dist+ambiguityWindowPts {
			out = append(out, p.block)
		}
	}
	return out
}

func verticalOverlap(a, b internal.BBox) bool {
	return a.Y0 < b.Y1 && b.Y0 < a.Y1
}

func centerDistance(a, b internal.BBox) float64 {
	ax, ay := (a.X0+a.X1)/2, (a.Y0+a.Y1)/2
	bx, by := (b.X0+b.X1)/2, (b.Y0+b.Y1)/2
	return math.Hypot(ax-bx, ay-by)
}

func blockValue(b internal.TextBlock) string {
	return util.NormalizeSpaces(strings.ReplaceAll(b.Text, "\n", " "))
}
