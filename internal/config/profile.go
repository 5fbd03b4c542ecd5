package config

import (
	"fmt"
	"regexp"

	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/utils"
)

// WeightedTerm is a soft preference term
type WeightedTerm struct {
	Term   string `mapstructure:"term"`
	Weight int    `mapstructure:"weight"`

	re *regexp.Regexp
}

// Matches reports whether the compiled term matches title
func (w WeightedTerm) Matches(title string) bool {
	return w.re != nil && w.re.MatchString(title)
}

// Weights scales each soft score component
type Weights struct {
	Resolution float64 `mapstructure:"resolution"`
	HDR        float64 `mapstructure:"hdr"`
	Similarity float64 `mapstructure:"similarity"`
	Size       float64 `mapstructure:"size"`
	Bitrate    float64 `mapstructure:"bitrate"`
}

// VersionProfile is a named bundle of scraping preferences
type VersionProfile struct {
	Name string `mapstructure:"-"`

	MaxResolution       string                  `mapstructure:"max_resolution"`
	ResolutionWanted    string                  `mapstructure:"resolution_wanted"`
	EnableHDR           bool                    `mapstructure:"enable_hdr"`
	Weights             Weights                 `mapstructure:"weights"`
	FilterIn            []string                `mapstructure:"filter_in"`
	FilterOut           []string                `mapstructure:"filter_out"`
	PreferredFilterIn   []WeightedTerm          `mapstructure:"preferred_filter_in"`
	PreferredFilterOut  []WeightedTerm          `mapstructure:"preferred_filter_out"`
	MinSizeGB           float64                 `mapstructure:"min_size_gb"`
	MaxSizeGB           float64                 `mapstructure:"max_size_gb"`
	SimilarityThreshold float64                 `mapstructure:"similarity_threshold"`
	UncachedHandling    models.UncachedHandling `mapstructure:"uncached_content_handling"`
	Upgrade             *bool                   `mapstructure:"upgrade"`

	filterIn  []*regexp.Regexp
	filterOut []*regexp.Regexp
}

// DefaultProfile is the profile used when none is configured
func DefaultProfile() VersionProfile {
	return VersionProfile{
		MaxResolution:    "1080p",
		ResolutionWanted: "<=",
		Weights: Weights{
			Resolution: 3,
			HDR:        1,
			Similarity: 3,
			Size:       1,
			Bitrate:    1,
		},
		SimilarityThreshold: 0.5,
	}
}

func (p *VersionProfile) applyDefaults(global models.UncachedHandling) {
	if p.MaxResolution == "" {
		p.MaxResolution = "1080p"
	}
	if p.ResolutionWanted == "" {
		p.ResolutionWanted = "<="
	}
	if p.Weights == (Weights{}) {
		p.Weights = DefaultProfile().Weights
	}
	if p.SimilarityThreshold <= 0 {
		p.SimilarityThreshold = 0.5
	}
	if p.UncachedHandling == "" {
		p.UncachedHandling = global
	}
}

// Compile validates the profile and compiles its regular expressions
func (p *VersionProfile) Compile() error {
	if !utils.KnownResolution(p.MaxResolution) {
		return fmt.Errorf("unknown max_resolution %q", p.MaxResolution)
	}
	switch p.ResolutionWanted {
	case "<=", "==", ">=":
	default:
		return fmt.Errorf("invalid resolution_wanted %q", p.ResolutionWanted)
	}
	if !p.UncachedHandling.Valid() {
		return fmt.Errorf("invalid uncached_content_handling %q", p.UncachedHandling)
	}

	var err error
	if p.filterIn, err = compileAll(p.FilterIn); err != nil {
		return fmt.Errorf("filter_in: %w", err)
	}
	if p.filterOut, err = compileAll(p.FilterOut); err != nil {
		return fmt.Errorf("filter_out: %w", err)
	}
	for i := range p.PreferredFilterIn {
		if p.PreferredFilterIn[i].re, err = regexp.Compile("(?i)" + p.PreferredFilterIn[i].Term); err != nil {
			return fmt.Errorf("preferred_filter_in %q: %w", p.PreferredFilterIn[i].Term, err)
		}
	}
	for i := range p.PreferredFilterOut {
		if p.PreferredFilterOut[i].re, err = regexp.Compile("(?i)" + p.PreferredFilterOut[i].Term); err != nil {
			return fmt.Errorf("preferred_filter_out %q: %w", p.PreferredFilterOut[i].Term, err)
		}
	}
	return nil
}

func compileAll(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// FilterOutMatch returns the first filter_out pattern matching title
func (p *VersionProfile) FilterOutMatch(title string) (string, bool) {
	for _, re := range p.filterOut {
		if re.MatchString(title) {
			return re.String(), true
		}
	}
	return "", false
}

// PassesFilterIn reports whether title satisfies filter_in (always true when empty)
func (p *VersionProfile) PassesFilterIn(title string) bool {
	if len(p.filterIn) == 0 {
		return true
	}
	for _, re := range p.filterIn {
		if re.MatchString(title) {
			return true
		}
	}
	return false
}

// PreferenceScore sums preferred_filter_in weights minus preferred_filter_out weights matching title
func (p *VersionProfile) PreferenceScore(title string) int {
	score := 0
	for _, t := range p.PreferredFilterIn {
		if t.Matches(title) {
			score += t.Weight
		}
	}
	for _, t := range p.PreferredFilterOut {
		if t.Matches(title) {
			score -= t.Weight
		}
	}
	return score
}

// UpgradeEnabled reports whether collected items of this version are watched for upgrades
func (p *VersionProfile) UpgradeEnabled() bool {
	return p.Upgrade == nil || *p.Upgrade
}
