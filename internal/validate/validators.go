package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Finding is the outcome of scoring a single field.
type Finding struct {
	Score      float64
	Errors     []string
	Warnings   []string
	Suggestion string
}

func errFinding(score float64, msg string) Finding {
	return Finding{Score: score, Errors: []string{msg}}
}

func warnFinding(score float64, msg string) Finding {
	return Finding{Score: score, Warnings: []string{msg}}
}

// Validator scores individual fields against a Policy. All methods are pure.
type Validator struct {
	policy *Policy
}

// NewValidator creates a Validator. A nil policy falls back to the defaults.
func NewValidator(policy *Policy) *Validator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Validator{policy: policy}
}

// Council scores the issuing council name.
func (v *Validator) Council(value string) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		return errFinding(0.0, "Council field is required")
	}
	if len(value) < 4 {
		return Finding{Score: 0.25}
	}

	lower := strings.ToLower(value)
	for _, kw := range v.policy.CouncilKeywords {
		if strings.Contains(lower, kw) {
			if kw == "council" {
				return Finding{Score: 0.95}
			}
			return Finding{Score: 0.9}
		}
	}

	if containsDigit(value) {
		return Finding{Score: 0.4}
	}
	if lettersAndSpacesOnly(value) {
		return Finding{Score: 0.7}
	}
	return Finding{Score: 0.55}
}

// PersonName scores a manager or licence-holder name. label is the
// human-readable field name used in messages.
func (v *Validator) PersonName(value, label string) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		return errFinding(0.0, fmt.Sprintf("%s is missing", label))
	}
	if len(value) < 3 {
		return Finding{Score: 0.2}
	}

	lower := strings.ToLower(value)
	for _, suffix := range v.policy.CompanySuffixes {
		if strings.HasSuffix(lower, suffix) || strings.Contains(lower, " "+suffix+" ") {
			return Finding{Score: 0.95}
		}
	}
	if containsDigit(value) {
		return Finding{Score: 0.4}
	}
	if len(strings.Fields(value)) >= 2 {
		return Finding{Score: 0.9}
	}
	return Finding{Score: 0.5}
}

// Reference scores a licence reference code against the ordered pattern
// list; the first match wins.
func (v *Validator) Reference(value string) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		return errFinding(0.0, "Licence reference is required")
	}

	for _, pat := range v.policy.ReferencePatterns {
		if pat.re == nil || !pat.re.MatchString(value) {
			continue
		}
		if pat.RequireMixed && (!containsDigit(value) || !containsLetter(value)) {
			continue
		}
		return Finding{Score: pat.Confidence}
	}
	return warnFinding(0.2, fmt.Sprintf("licence reference %q has an unrecognized format", value))
}

// Address scores an address field. The primary HMO address is required;
// secondary addresses warn instead of erroring when empty.
func (v *Validator) Address(value, label string, primary bool) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		if primary {
			return errFinding(0.0, "HMO address is required")
		}
		return warnFinding(0.0, fmt.Sprintf("%s is empty", label))
	}

	score := 0.5
	if v.policy.postcodeRe.MatchString(value) {
		score += 0.3
	}
	lower := strings.ToLower(value)
	for _, kw := range v.policy.StreetKeywords {
		if strings.Contains(lower, kw) {
			score += 0.15
			break
		}
	}
	if v.policy.houseNumberRe.MatchString(value) {
		score += 0.05
	}
	if score > 1.0 {
		score = 1.0
	}
	return Finding{Score: score}
}

// Date scores a date field by trying the ordered layout list. Parseable
// non-ISO values get an ISO-normalized correction suggestion.
func (v *Validator) Date(value, label string, required bool) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			return errFinding(0.0, fmt.Sprintf("%s is required", label))
		}
		return Finding{Score: 0.0}
	}

	for i, dl := range v.policy.DateLayouts {
		t, err := time.Parse(dl.Layout, value)
		if err != nil {
			continue
		}
		f := Finding{Score: dl.Confidence}
		if i > 0 {
			f.Suggestion = t.Format("2006-01-02")
		}
		return f
	}

	if v.policy.yearOnlyRe.MatchString(value) {
		return warnFinding(0.4, fmt.Sprintf("%s %q is year-only", label, value))
	}
	return warnFinding(0.1, fmt.Sprintf("%s %q could not be parsed", label, value))
}

// Count scores a numeric field. key selects the per-field limits; label is
// the message name.
func (v *Validator) Count(value, key, label string) Finding {
	value = strings.TrimSpace(value)
	if value == "" {
		return Finding{Score: 0.0}
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return warnFinding(0.1, fmt.Sprintf("%s %q is not a number", label, value))
	}
	if n < 0 {
		return errFinding(0.0, fmt.Sprintf("%s cannot be negative", label))
	}

	limits, ok := v.policy.CountLimits[key]
	if !ok {
		limits = CountLimits{Ceiling: 100, CeilingConfidence: 0.6, ZeroConfidence: 0.5}
	}

	if n == 0 {
		if limits.ZeroWarns {
			return warnFinding(limits.ZeroConfidence, fmt.Sprintf("%s should be greater than zero", label))
		}
		return Finding{Score: limits.ZeroConfidence}
	}
	if limits.Ceiling > 0 && n > limits.Ceiling {
		return warnFinding(limits.CeilingConfidence, fmt.Sprintf("%s %d is unusually high", label, n))
	}
	return Finding{Score: 0.9}
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func lettersAndSpacesOnly(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}
