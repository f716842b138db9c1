package profile

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type Strategy string

const (
	StrategyConstant   Strategy = "constant"
	StrategyRegex      Strategy = "regex"
	StrategyLabelValue Strategy = "label_value"
	StrategySpatial    Strategy = "spatial"
)

type EvidenceStrategy string

const (
	EvidenceBelowLabel   EvidenceStrategy = "below_label"
	EvidenceRightOfLabel EvidenceStrategy = "right_of_label"
	EvidenceSameLine     EvidenceStrategy = "same_line"
	EvidenceNearestBlock EvidenceStrategy = "nearest_block"
)

// ExtractionRule configures every strategy a field may resolve through. The
// engine walks the strategies in a fixed precedence order; a rule only
// enables the ones it declares patterns for.
type ExtractionRule struct {
	Strategy    Strategy         `yaml:"strategy,omitempty"`
	Value       string           `yaml:"value,omitempty"`
	Patterns    []string         `yaml:"patterns,omitempty"`
	Labels      []string         `yaml:"labels,omitempty"`
	Evidence    EvidenceStrategy `yaml:"evidence,omitempty"`
	Fallbacks   []string         `yaml:"fallbacks,omitempty"`
	Default     string           `yaml:"default,omitempty"`
	Confidence  float64          `yaml:"confidence,omitempty"`
	Postprocess []string         `yaml:"postprocess,omitempty"`
}

type MatchRule struct {
	Pattern string  `yaml:"pattern"`
	Regex   bool    `yaml:"regex,omitempty"`
	Weight  float64 `yaml:"weight"`
}

// Profile is one auction type's versioned, externally configured rule set.
// Read-only to the pipeline.
type Profile struct {
	AuctionType         string                    `yaml:"auction_type"`
	Version             int                       `yaml:"version"`
	Fallback            bool                      `yaml:"fallback,omitempty"`
	ConfidenceThreshold float64                   `yaml:"confidence_threshold"`
	MatchRules          []MatchRule               `yaml:"match_rules"`
	Constants           map[string]string         `yaml:"constants"`
	FieldRules          map[string]ExtractionRule `yaml:"field_rules"`
	GuaranteedFields    []string                  `yaml:"guaranteed_fields"`

	matchRegex []*regexp.Regexp
}

//go:embed defaults/*.yaml
var defaultsFS embed.FS

// Catalog holds profiles in declaration order. Order is load order
// (embedded defaults sorted by file name, then overlay files), which makes
// classification tie-breaks deterministic.
type Catalog struct {
	profiles []Profile
	byType   map[string]int
}

// LoadCatalog reads the embedded default profiles and overlays any *.yaml
// found in dir (same auction_type replaces in place, new types append).
func LoadCatalog(dir string) (*Catalog, error) {
	c := &Catalog{byType: map[string]int{}}

	entries, err := fs.ReadDir(defaultsFS, "defaults")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := defaultsFS.ReadFile("defaults/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.add(data, e.Name()); err != nil {
			return nil, err
		}
	}

	if dir != "" {
		names, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
		if err != nil {
			return nil, err
		}
		sort.Strings(names)
		for _, name := range names {
			data, err := os.ReadFile(name)
			if err != nil {
				return nil, err
			}
			if err := c.add(data, name); err != nil {
				return nil, err
			}
		}
	}

	if _, ok := c.byType[GenericType]; !ok {
		return nil, fmt.Errorf("profile catalog has no %s fallback", GenericType)
	}
	return c, nil
}

const GenericType = "GENERIC"

func (c *Catalog) add(data []byte, origin string) error {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("profile %s: %w", origin, err)
	}
	p.AuctionType = strings.ToUpper(strings.TrimSpace(p.AuctionType))
	if p.AuctionType == "" {
		return fmt.Errorf("profile %s: missing auction_type", origin)
	}
	if err := p.compile(); err != nil {
		return fmt.Errorf("profile %s: %w", origin, err)
	}

	if idx, ok := c.byType[p.AuctionType]; ok {
		c.profiles[idx] = p
		return nil
	}
	c.byType[p.AuctionType] = len(c.profiles)
	c.profiles = append(c.profiles, p)
	return nil
}

func (p *Profile) compile() error {
	p.matchRegex = make([]*regexp.Regexp, len(p.MatchRules))
	for i, mr := range p.MatchRules {
		if !mr.Regex {
			continue
		}
		re, err := regexp.Compile(mr.Pattern)
		if err != nil {
			return fmt.Errorf("match rule %q: %w", mr.Pattern, err)
		}
		p.matchRegex[i] = re
	}
	return nil
}

func (c *Catalog) Get(auctionType string) (Profile, bool) {
	idx, ok := c.byType[strings.ToUpper(auctionType)]
	if !ok {
		return Profile{}, false
	}
	return c.profiles[idx], true
}

// Generic returns the fallback profile used when classification is uncertain.
func (c *Catalog) Generic() Profile {
	p, _ := c.Get(GenericType)
	return p
}

func (c *Catalog) Profiles() []Profile {
	out := make([]Profile, len(c.profiles))
	copy(out, c.profiles)
	return out
}
