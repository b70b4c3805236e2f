package domain

import (
	"testing"

	"crmsync_backend/internal/crm"
)

func findWarning(warnings []Warning, warningType string) *Warning {
	for i := range warnings {
		if warnings[i].Type == warningType {
			return &warnings[i]
		}
	}
	return nil
}

func TestValidateCleanRecordProducesNoWarnings(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	record := crm.Lead{
		ID:              1,
		Title:           "Roof replacement",
		StageLabel:      "Quotation",
		Probability:     60,
		ExpectedRevenue: 12500,
		ContactName:     "A. Jansen",
	}

	warnings := validator.Validate(record, StageQuotation, nil)
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func TestValidateMissingTitle(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	record := crm.Lead{ID: 7, StageLabel: "Won", Probability: 100, ContactName: "B. Smit"}
	warnings := validator.Validate(record, StageWon, nil)

	w := findWarning(warnings, ValidationMissingField)
	if w == nil {
		t.Fatalf("expected missing_field warning, got %v", warnings)
	}
	if w.Severity != SeverityError {
		t.Errorf("severity = %q, want %q", w.Severity, SeverityError)
	}
	if !w.AutoFixed {
		t.Error("missing title should be auto fixed")
	}
	if w.FixApplied != `Defaulted title to "Untitled lead #7"` {
		t.Errorf("fix applied = %q", w.FixApplied)
	}
}

func TestValidateUnknownStageLabel(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	record := crm.Lead{ID: 8, Title: "Lead", StageLabel: "Negotiation", ContactName: "C. Bakker"}
	stage, _ := mustTaxonomy(t).Canonicalize(record.StageLabel)
	warnings := validator.Validate(record, stage, nil)

	w := findWarning(warnings, ValidationMissingField)
	if w == nil {
		t.Fatalf("expected a warning for the unrecognized label, got %v", warnings)
	}
	if w.FieldName != "stage_label" || w.FieldValue != "Negotiation" {
		t.Errorf("field = (%q, %q), want (stage_label, Negotiation)", w.FieldName, w.FieldValue)
	}
	if w.FixApplied != `Mapped to default stage "new"` {
		t.Errorf("fix applied = %q", w.FixApplied)
	}
}

func TestValidateZeroValueOnRevenueBearingStage(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	type revenueCase struct {
		stage    CanonicalStage
		revenue  float64
		expected bool
	}

	cases := []revenueCase{
		{StageEstimation, 0, true},
		{StageEstimationRush, 0, true},
		{StageQuotation, 0, true},
		{StageQuotationPriority, 0, true},
		{StageQuotation, 5000, false},
		// zero revenue is unremarkable outside the revenue bearing stages
		{StageNew, 0, false},
		{StageLost, 0, false},
	}

	for _, tc := range cases {
		record := crm.Lead{ID: 9, Title: "Lead", StageLabel: "Quotation", ExpectedRevenue: tc.revenue, ContactName: "X"}
		warnings := validator.Validate(record, tc.stage, nil)
		got := findWarning(warnings, ValidationZeroValue) != nil
		if got != tc.expected {
			t.Errorf("stage %q revenue %.0f: zero_value warning = %v, want %v", tc.stage, tc.revenue, got, tc.expected)
		}
	}
}

func TestValidateMissingContactOnActiveStage(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	record := crm.Lead{ID: 10, Title: "Lead", StageLabel: "Qualified"}
	warnings := validator.Validate(record, StageQualified, nil)

	w := findWarning(warnings, ValidationMissingContact)
	if w == nil {
		t.Fatalf("expected missing_contact warning, got %v", warnings)
	}
	if w.FixApplied != `Customer name set to "Unknown"` {
		t.Errorf("fix applied = %q", w.FixApplied)
	}

	// terminal records never warn about contacts
	record.StageLabel = "Lost"
	if w := findWarning(validator.Validate(record, StageLost, nil), ValidationMissingContact); w != nil {
		t.Errorf("terminal record warned about contact: %v", *w)
	}

	// a partner name alone satisfies the check
	record.StageLabel = "Qualified"
	record.PartnerName = "Acme BV"
	if w := findWarning(validator.Validate(record, StageQualified, nil), ValidationMissingContact); w != nil {
		t.Errorf("record with partner name warned about contact: %v", *w)
	}
}

func TestValidateStageTransition(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))
	record := crm.Lead{ID: 11, Title: "Lead", StageLabel: "Quotation", ExpectedRevenue: 100, ContactName: "X"}

	prev := StageWon
	warnings := validator.Validate(record, StageQuotation, &prev)
	w := findWarning(warnings, ValidationStageTransition)
	if w == nil {
		t.Fatalf("expected stage_transition warning for won -> quotation, got %v", warnings)
	}
	if w.Severity != SeverityInfo {
		t.Errorf("severity = %q, want %q", w.Severity, SeverityInfo)
	}

	// allowed transitions stay silent
	prev = StageEstimation
	if w := findWarning(validator.Validate(record, StageQuotation, &prev), ValidationStageTransition); w != nil {
		t.Errorf("allowed transition warned: %v", *w)
	}

	// unchanged stage stays silent
	prev = StageQuotation
	if w := findWarning(validator.Validate(record, StageQuotation, &prev), ValidationStageTransition); w != nil {
		t.Errorf("unchanged stage warned: %v", *w)
	}

	// family reassignment stays silent
	prev = StageQuotationPriority
	if w := findWarning(validator.Validate(record, StageQuotation, &prev), ValidationStageTransition); w != nil {
		t.Errorf("family reassignment warned: %v", *w)
	}
}

func TestValidateProbabilityAnomalies(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	// a won deal reported at 60% gets normalized up
	record := crm.Lead{ID: 42, Title: "Lead", StageLabel: "Won", Probability: 60, ExpectedRevenue: 5000, ContactName: "X"}
	warnings := validator.Validate(record, StageWon, nil)
	w := findWarning(warnings, ValidationProbabilityAnomaly)
	if w == nil {
		t.Fatalf("expected probability_anomaly warning, got %v", warnings)
	}
	if w.Severity != SeverityInfo || !w.AutoFixed || w.FixApplied != "Normalized to 100%" {
		t.Errorf("warning = %+v", *w)
	}

	// a lost deal still carrying 80% gets normalized down
	record = crm.Lead{ID: 43, Title: "Lead", StageLabel: "Lost", Probability: 80, ContactName: "X"}
	w = findWarning(validator.Validate(record, StageLost, nil), ValidationProbabilityAnomaly)
	if w == nil {
		t.Fatal("expected probability_anomaly warning for lost deal at 80%")
	}
	if w.FixApplied != "Normalized to 0%" {
		t.Errorf("fix applied = %q", w.FixApplied)
	}

	// consistent probabilities stay silent
	record = crm.Lead{ID: 44, Title: "Lead", StageLabel: "Won", Probability: 100, ContactName: "X"}
	if w := findWarning(validator.Validate(record, StageWon, nil), ValidationProbabilityAnomaly); w != nil {
		t.Errorf("won deal at 100%% warned: %v", *w)
	}
	record = crm.Lead{ID: 45, Title: "Lead", StageLabel: "Lost", Probability: 10, ContactName: "X"}
	if w := findWarning(validator.Validate(record, StageLost, nil), ValidationProbabilityAnomaly); w != nil {
		t.Errorf("lost deal at 10%% warned: %v", *w)
	}
}

func TestValidateChecksDoNotShortCircuit(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	// no title, zero value on a revenue bearing stage, no contact
	record := crm.Lead{ID: 12, StageLabel: "Estimation"}
	warnings := validator.Validate(record, StageEstimation, nil)
	if len(warnings) != 3 {
		t.Fatalf("expected 3 independent warnings, got %d: %v", len(warnings), warnings)
	}
}

func TestNormalizeProbability(t *testing.T) {
	validator := NewValidator(mustTaxonomy(t))

	type probability struct {
		stage    CanonicalStage
		upstream float64
		want     int
	}

	cases := []probability{
		{StageWon, 60, 100},
		{StageWon, 0, 100},
		{StageLost, 80, 0},
		{StageMerged, 50, 0},
		{StageQuotation, 60, 60},
		{StageQuotation, 59.5, 60},
		{StageQuotation, 59.4, 59},
		{StageNew, -5, 0},
		{StageNew, 130, 100},
	}

	for _, tc := range cases {
		if got := validator.NormalizeProbability(tc.stage, tc.upstream); got != tc.want {
			t.Errorf("NormalizeProbability(%q, %v) = %d, want %d", tc.stage, tc.upstream, got, tc.want)
		}
	}
}
