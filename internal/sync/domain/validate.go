package domain

import (
	"fmt"
	"math"

	"crmsync_backend/internal/crm"
)

// Severity classifies a validation warning. Warnings never block a write.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Validation types recorded in the sync validation log.
const (
	ValidationMissingField       = "missing_field"
	ValidationZeroValue          = "zero_value"
	ValidationMissingContact     = "missing_contact"
	ValidationStageTransition    = "stage_transition"
	ValidationProbabilityAnomaly = "probability_anomaly"
	ValidationDriftDetected      = "drift_detected"
	ValidationStaleLead          = "stale_lead"
)

// UnknownCustomerName is the sentinel substituted when an active-stage record
// carries no contact identity.
const UnknownCustomerName = "Unknown"

// Warning is one data-quality finding for an external record. It is purely
// observational: callers decide whether to act on the AutoFixed hint when
// constructing the write payload.
type Warning struct {
	ExternalID int64
	Severity   Severity
	Type       string
	Message    string
	FieldName  string
	FieldValue string
	AutoFixed  bool
	FixApplied string
}

// Validator runs the fixed sequence of pre-write data-quality checks.
type Validator struct {
	taxonomy *Taxonomy
}

// NewValidator creates a validator over the injected taxonomy.
func NewValidator(taxonomy *Taxonomy) *Validator {
	return &Validator{taxonomy: taxonomy}
}

// DefaultTitle is the title substituted for records that arrive without one.
func DefaultTitle(externalID int64) string {
	return fmt.Sprintf("Untitled lead #%d", externalID)
}

// Validate runs every check against one external record. Checks are
// independent and never short-circuit each other; each produces zero or one
// warning. previousStage is the record's last known canonical stage, nil for
// records never seen before. The function is pure: no I/O, no side effects.
func (v *Validator) Validate(record crm.Lead, computedStage CanonicalStage, previousStage *CanonicalStage) []Warning {
	warnings := make([]Warning, 0, 2)

	// 1. Required field: a lead without a title cannot be displayed downstream.
	if record.Title == "" {
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityError,
			Type:       ValidationMissingField,
			Message:    "record has no title",
			FieldName:  "title",
			AutoFixed:  true,
			FixApplied: fmt.Sprintf("Defaulted title to %q", DefaultTitle(record.ID)),
		})
	}

	// 2. Unknown stage label: fail-open, mapped to the default stage.
	if _, known := v.taxonomy.Canonicalize(record.StageLabel); !known {
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityWarning,
			Type:       ValidationMissingField,
			Message:    fmt.Sprintf("unrecognized stage label %q", record.StageLabel),
			FieldName:  "stage_label",
			FieldValue: record.StageLabel,
			AutoFixed:  true,
			FixApplied: fmt.Sprintf("Mapped to default stage %q", v.taxonomy.DefaultStage()),
		})
	}

	// 3. Zero value on a revenue-bearing stage needs a human estimate.
	if v.taxonomy.IsRevenueBearing(computedStage) && record.ExpectedRevenue == 0 {
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityWarning,
			Type:       ValidationZeroValue,
			Message:    fmt.Sprintf("expected revenue is zero on stage %q", computedStage),
			FieldName:  "expected_revenue",
			FieldValue: "0",
		})
	}

	// 4. Missing contact identity on an active stage.
	if v.taxonomy.IsActive(computedStage) && record.ContactName == "" && record.PartnerName == "" {
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityWarning,
			Type:       ValidationMissingContact,
			Message:    "active lead has no contact or partner name",
			FieldName:  "contact_name",
			AutoFixed:  true,
			FixApplied: fmt.Sprintf("Customer name set to %q", UnknownCustomerName),
		})
	}

	// 5. Transition validity. Backward transitions are legal and common (a
	// deal can be reopened), so this is observational only.
	if previousStage != nil && *previousStage != computedStage &&
		!v.taxonomy.TransitionAllowed(*previousStage, computedStage) {
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityInfo,
			Type:       ValidationStageTransition,
			Message:    fmt.Sprintf("transition %q -> %q is not in the allowed graph", *previousStage, computedStage),
			FieldName:  "canonical_stage",
			FieldValue: string(computedStage),
		})
	}

	// 6. Probability anomalies on terminal stages.
	switch {
	case computedStage == v.taxonomy.WonStage() && record.Probability < 100:
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityInfo,
			Type:       ValidationProbabilityAnomaly,
			Message:    fmt.Sprintf("won lead has probability %.0f", record.Probability),
			FieldName:  "probability",
			FieldValue: fmt.Sprintf("%.0f", record.Probability),
			AutoFixed:  true,
			FixApplied: "Normalized to 100%",
		})
	case v.taxonomy.IsTerminal(computedStage) && computedStage != v.taxonomy.WonStage() && record.Probability > 50:
		warnings = append(warnings, Warning{
			ExternalID: record.ID,
			Severity:   SeverityInfo,
			Type:       ValidationProbabilityAnomaly,
			Message:    fmt.Sprintf("closed lead on stage %q has probability %.0f", computedStage, record.Probability),
			FieldName:  "probability",
			FieldValue: fmt.Sprintf("%.0f", record.Probability),
			AutoFixed:  true,
			FixApplied: "Normalized to 0%",
		})
	}

	return warnings
}

// NormalizeProbability computes the probability stored internally: 100 for
// the won stage, 0 for any other terminal stage, otherwise the upstream value
// rounded and clamped to [0,100].
func (v *Validator) NormalizeProbability(stage CanonicalStage, upstream float64) int {
	if stage == v.taxonomy.WonStage() {
		return 100
	}
	if v.taxonomy.IsTerminal(stage) {
		return 0
	}

	rounded := int(math.Round(upstream))
	if rounded < 0 {
		return 0
	}
	if rounded > 100 {
		return 100
	}
	return rounded
}
