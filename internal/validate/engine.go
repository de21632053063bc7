package validate

import (
	"fmt"
	"strings"
	"time"

	"github.com/licenceworks/hmo-audit/internal/model"
)

// Cross-field thresholds. These feed flagging downstream, so they are fixed
// rather than configurable.
const (
	minLicenceYears        = 0.5
	maxLicenceYears        = 10.0
	maxOccupancyPerBath    = 10
	maxOccupancyPerKitchen = 15
)

// Engine aggregates the field validators into a per-record validation pass.
type Engine struct {
	validator *Validator
	policy    *Policy
}

// NewEngine creates a validation engine. A nil policy uses the defaults.
func NewEngine(policy *Policy) *Engine {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Engine{validator: NewValidator(policy), policy: policy}
}

// Validate scores every field of the record, applies cross-field rules, and
// returns the aggregated result. Per-field confidence scores are written
// back onto the record; r.ValidationErrors is replaced with the new error
// list.
func (e *Engine) Validate(r *model.Record) model.ValidationResult {
	var errs, warns []string
	suggestions := make(map[string]string)

	score := func(key string, f Finding) {
		r.SetConfidence(key, f.Score)
		errs = append(errs, f.Errors...)
		warns = append(warns, f.Warnings...)
		if f.Suggestion != "" {
			suggestions[key] = f.Suggestion
		}
	}

	score(model.FieldCouncil, e.validator.Council(r.Get(model.FieldCouncil)))
	score(model.FieldLicenceReference, e.validator.Reference(r.Get(model.FieldLicenceReference)))
	score(model.FieldHMOAddress, e.validator.Address(r.Get(model.FieldHMOAddress), "HMO address", true))
	score(model.FieldLicenceStart, e.validator.Date(r.Get(model.FieldLicenceStart), "Licence start date", true))
	score(model.FieldLicenceExpiry, e.validator.Date(r.Get(model.FieldLicenceExpiry), "Licence expiry date", true))
	score(model.FieldMaxOccupancy, e.validator.Count(r.Get(model.FieldMaxOccupancy), model.FieldMaxOccupancy, "Max occupancy"))
	score(model.FieldManagerName, e.validator.PersonName(r.Get(model.FieldManagerName), "Manager name"))
	score(model.FieldManagerAddress, e.validator.Address(r.Get(model.FieldManagerAddress), "Manager address", false))
	score(model.FieldHolderName, e.validator.PersonName(r.Get(model.FieldHolderName), "Licence holder name"))
	score(model.FieldHolderAddress, e.validator.Address(r.Get(model.FieldHolderAddress), "Licence holder address", false))
	score(model.FieldSharedKitchens, e.validator.Count(r.Get(model.FieldSharedKitchens), model.FieldSharedKitchens, "Shared kitchens"))
	score(model.FieldSharedBathrooms, e.validator.Count(r.Get(model.FieldSharedBathrooms), model.FieldSharedBathrooms, "Shared bathrooms"))
	score(model.FieldSharedToilets, e.validator.Count(r.Get(model.FieldSharedToilets), model.FieldSharedToilets, "Shared toilets"))
	score(model.FieldHouseholds, e.validator.Count(r.Get(model.FieldHouseholds), model.FieldHouseholds, "Households"))
	score(model.FieldStoreys, e.validator.Count(r.Get(model.FieldStoreys), model.FieldStoreys, "Storeys"))

	// Cross-field rules add errors/warnings only; field scores stand.
	crossErrs, crossWarns := e.crossFieldChecks(r)
	errs = append(errs, crossErrs...)
	warns = append(warns, crossWarns...)

	result := model.ValidationResult{
		IsValid:         !hasCriticalError(errs),
		ConfidenceScore: weightedConfidence(r),
		Errors:          errs,
		Warnings:        warns,
	}
	if len(suggestions) > 0 {
		result.SuggestedCorrections = suggestions
	}

	r.ValidationErrors = append([]string(nil), errs...)
	return result
}

func (e *Engine) crossFieldChecks(r *model.Record) (errs, warns []string) {
	start, startOK := e.parseDate(r.Get(model.FieldLicenceStart))
	expiry, expiryOK := e.parseDate(r.Get(model.FieldLicenceExpiry))

	if startOK && expiryOK {
		if !expiry.After(start) {
			errs = append(errs, "licence expiry date must be strictly after the start date")
		} else {
			years := expiry.Sub(start).Hours() / 24 / 365.25
			if years < minLicenceYears || years > maxLicenceYears {
				warns = append(warns, fmt.Sprintf("licence duration %.1f years is outside the expected %.1f-%.0f year range", years, minLicenceYears, maxLicenceYears))
			}
		}
	}

	occupancy, occOK := r.Int(model.FieldMaxOccupancy)
	if occOK && occupancy > 0 {
		if baths, ok := r.Int(model.FieldSharedBathrooms); ok && baths > 0 && occupancy/baths > maxOccupancyPerBath {
			warns = append(warns, fmt.Sprintf("occupancy %d exceeds %d persons per bathroom", occupancy, maxOccupancyPerBath))
		}
		if kitchens, ok := r.Int(model.FieldSharedKitchens); ok && kitchens > 0 && occupancy/kitchens > maxOccupancyPerKitchen {
			warns = append(warns, fmt.Sprintf("occupancy %d exceeds %d persons per kitchen", occupancy, maxOccupancyPerKitchen))
		}
		if households, ok := r.Int(model.FieldHouseholds); ok && households > occupancy {
			warns = append(warns, fmt.Sprintf("households %d exceeds max occupancy %d", households, occupancy))
		}
	}

	return errs, warns
}

func (e *Engine) parseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, dl := range e.policy.DateLayouts {
		if t, err := time.Parse(dl.Layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// weightedConfidence computes the weighted mean of per-field scores over all
// declared fields: critical 3.0, important 2.0, others 1.0.
func weightedConfidence(r *model.Record) float64 {
	var sum, totalWeight float64
	for _, key := range model.FieldKeys() {
		w := model.FieldWeight(key)
		totalWeight += w
		sum += w * r.Confidence[key]
	}
	if totalWeight == 0 {
		return 0.0
	}
	return sum / totalWeight
}

// hasCriticalError reports whether any error is critical: it demands a
// required value, concerns a critical field, or is the date-order rule.
func hasCriticalError(errs []string) bool {
	for _, e := range errs {
		lower := strings.ToLower(e)
		if strings.Contains(lower, "required") {
			return true
		}
		for _, ctx := range []string{"council", "reference", "hmo address", "expiry"} {
			if strings.Contains(lower, ctx) {
				return true
			}
		}
	}
	return false
}
