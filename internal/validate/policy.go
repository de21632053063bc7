package validate

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ReferencePattern scores a licence reference format. Patterns are tried in
// order; the first match wins.
type ReferencePattern struct {
	Pattern    string  `yaml:"pattern"`
	Confidence float64 `yaml:"confidence"`
	// RequireMixed additionally demands at least one letter and one digit,
	// which RE2 cannot express in a single pattern.
	RequireMixed bool `yaml:"require_mixed,omitempty"`
	re           *regexp.Regexp
}

// CountLimits bounds a numeric field. Zero handling depends on the field:
// ZeroConfidence is the score given to a zero value, and ZeroWarns controls
// whether zero also emits a warning.
type CountLimits struct {
	Ceiling           int     `yaml:"ceiling"`
	CeilingConfidence float64 `yaml:"ceiling_confidence"`
	ZeroConfidence    float64 `yaml:"zero_confidence"`
	ZeroWarns         bool    `yaml:"zero_warns"`
}

// Policy holds the keyword and pattern tables the field validators score
// against. DefaultPolicy matches the production extraction behavior; a YAML
// file can override individual tables.
type Policy struct {
	CouncilKeywords   []string               `yaml:"council_keywords"`
	CompanySuffixes   []string               `yaml:"company_suffixes"`
	StreetKeywords    []string               `yaml:"street_keywords"`
	ReferencePatterns []ReferencePattern     `yaml:"reference_patterns"`
	DateLayouts       []DateLayout           `yaml:"date_layouts"`
	CountLimits       map[string]CountLimits `yaml:"count_limits"`

	postcodeRe    *regexp.Regexp
	houseNumberRe *regexp.Regexp
	yearOnlyRe    *regexp.Regexp
}

// DateLayout pairs a Go time layout with the confidence it earns.
type DateLayout struct {
	Layout     string  `yaml:"layout"`
	Confidence float64 `yaml:"confidence"`
}

// DefaultPolicy returns the built-in scoring tables.
func DefaultPolicy() *Policy {
	p := &Policy{
		CouncilKeywords: []string{"council", "borough", "city of", "district", "county"},
		CompanySuffixes: []string{"ltd", "limited", "llp", "plc"},
		StreetKeywords: []string{
			"street", "road", "avenue", "lane", "drive", "close", "court",
			"way", "place", "terrace", "gardens", "crescent", "grove", "square",
		},
		ReferencePatterns: []ReferencePattern{
			{Pattern: `^[A-Z]{2,5}\d+$`, Confidence: 0.95},
			{Pattern: `^[A-Z]+[-/]\d+$`, Confidence: 0.9},
			{Pattern: `^\d{4,}$`, Confidence: 0.8},
			{Pattern: `^[A-Za-z\d\-/]{4,}$`, Confidence: 0.7, RequireMixed: true},
			{Pattern: `^[A-Za-z\d]{3,}$`, Confidence: 0.5},
		},
		DateLayouts: []DateLayout{
			{Layout: "2006-01-02", Confidence: 0.95},
			{Layout: "02/01/2006", Confidence: 0.85},
			{Layout: "2 January 2006", Confidence: 0.85},
			{Layout: "02-01-2006", Confidence: 0.8},
			{Layout: "02 Jan 2006", Confidence: 0.8},
			{Layout: "January 2, 2006", Confidence: 0.8},
		},
		CountLimits: map[string]CountLimits{
			"max_occupancy":    {Ceiling: 50, CeilingConfidence: 0.6, ZeroConfidence: 0.2, ZeroWarns: true},
			"storeys":          {Ceiling: 10, CeilingConfidence: 0.5, ZeroConfidence: 0.2, ZeroWarns: true},
			"shared_kitchens":  {Ceiling: 20, CeilingConfidence: 0.7, ZeroConfidence: 0.6},
			"shared_bathrooms": {Ceiling: 20, CeilingConfidence: 0.7, ZeroConfidence: 0.6},
			"shared_toilets":   {Ceiling: 20, CeilingConfidence: 0.7, ZeroConfidence: 0.6},
			"households":       {Ceiling: 30, CeilingConfidence: 0.6, ZeroConfidence: 0.4},
		},
	}
	p.compile()
	return p
}

// LoadPolicy reads a YAML policy file over the defaults. Only tables present
// in the file are replaced.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "validate: read policy %s", path)
	}

	p := DefaultPolicy()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, eris.Wrap(err, "validate: unmarshal policy")
	}
	if err := p.compileStrict(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Policy) compile() {
	_ = p.compileStrict()
}

func (p *Policy) compileStrict() error {
	for i := range p.ReferencePatterns {
		re, err := regexp.Compile(p.ReferencePatterns[i].Pattern)
		if err != nil {
			return eris.Wrapf(err, "validate: compile reference pattern %q", p.ReferencePatterns[i].Pattern)
		}
		p.ReferencePatterns[i].re = re
	}
	p.postcodeRe = regexp.MustCompile(`(?i)\b[A-Z]{1,2}\d[A-Z\d]?\s*\d[A-Z]{2}\b`)
	p.houseNumberRe = regexp.MustCompile(`^\d+`)
	p.yearOnlyRe = regexp.MustCompile(`^\d{4}$`)
	return nil
}
