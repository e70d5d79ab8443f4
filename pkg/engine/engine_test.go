package engine

import (
	"strings"
	"testing"

	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/ruleeval"
)

func fptr(v float64) *float64 { return &v }

func powerRule() models.DeclarativeRule {
	return models.DeclarativeRule{
		ID:           "rtiebt-001",
		RegulationID: "rtiebt",
		Article:      "art. 803",
		Severity:     models.SeverityCritical,
		Description:  "contracted power {electrical.contracted_power} kVA exceeds single-phase limit",
		Conditions: []models.RuleCondition{
			{Field: "electrical.contracted_power", Operator: models.OpGT, Value: 10.35},
			{Field: "electrical.phases", Operator: models.OpEQ, Value: 1.0},
		},
		Enabled: true,
	}
}

func TestEvaluateRuleSetFires(t *testing.T) {
	set := RuleSet{Rules: []models.DeclarativeRule{powerRule()}}
	data := map[string]any{
		"electrical": map[string]any{"contracted_power": 13.8, "phases": 1.0},
	}
	report := EvaluateRuleSet(set, data)
	if report.RulesFired != 1 || len(report.Findings) != 1 {
		t.Fatalf("expected one finding, got fired=%d findings=%d", report.RulesFired, len(report.Findings))
	}
	f := report.Findings[0]
	if f.RuleID != "rtiebt-001" || f.Severity != models.SeverityCritical {
		t.Fatalf("unexpected finding: %+v", f)
	}
	if !strings.Contains(f.Description, "13.8") {
		t.Fatalf("expected interpolated description, got %q", f.Description)
	}
}

func TestEvaluateRuleSetDoesNotFireBelowThreshold(t *testing.T) {
	set := RuleSet{Rules: []models.DeclarativeRule{powerRule()}}
	data := map[string]any{
		"electrical": map[string]any{"contracted_power": 6.9, "phases": 1.0},
	}
	report := EvaluateRuleSet(set, data)
	if report.RulesFired != 0 || report.RulesPassed != 1 {
		t.Fatalf("expected rule to pass, got %+v", report)
	}
	if report.Results[0].Outcome != models.OutcomeNotFired {
		t.Fatalf("expected not_fired, got %s", report.Results[0].Outcome)
	}
}

func TestEvaluateRuleSetSkipsAbsentData(t *testing.T) {
	set := RuleSet{Rules: []models.DeclarativeRule{powerRule()}}
	report := EvaluateRuleSet(set, map[string]any{"structure": map[string]any{}})
	if report.RulesSkipped != 1 {
		t.Fatalf("expected one skipped rule, got %+v", report)
	}
	res := report.Results[0]
	if res.Outcome != models.OutcomeSkipped || !strings.Contains(res.Reason, "electrical.contracted_power") {
		t.Fatalf("expected skip reason naming the field, got %+v", res)
	}
}

func TestEvaluateRuleSetExclusions(t *testing.T) {
	rule := powerRule()
	rule.Exclusions = []models.RuleCondition{
		{Field: "project.is_temporary", Operator: models.OpEQ, Value: true},
	}
	set := RuleSet{Rules: []models.DeclarativeRule{rule}}
	data := map[string]any{
		"electrical": map[string]any{"contracted_power": 13.8, "phases": 1.0},
		"project":    map[string]any{"is_temporary": true},
	}
	report := EvaluateRuleSet(set, data)
	if report.RulesFired != 0 {
		t.Fatalf("expected excluded rule not to fire, got %+v", report)
	}
	if report.Results[0].Outcome != models.OutcomeExcluded {
		t.Fatalf("expected excluded, got %s", report.Results[0].Outcome)
	}
}

func TestEvaluateRuleSetDisabledRules(t *testing.T) {
	rule := powerRule()
	rule.Enabled = false
	report := EvaluateRuleSet(RuleSet{Rules: []models.DeclarativeRule{rule}}, map[string]any{})
	if report.Results[0].Outcome != models.OutcomeDisabled {
		t.Fatalf("expected disabled, got %s", report.Results[0].Outcome)
	}
	if len(report.Warnings) == 0 || !strings.Contains(report.Warnings[0], "disabled") {
		t.Fatalf("expected disabled-rules warning, got %v", report.Warnings)
	}
}

func TestEvaluateRuleSetZeroConditionRuleIsSkipped(t *testing.T) {
	rule := models.DeclarativeRule{ID: "empty", Enabled: true}
	report := EvaluateRuleSet(RuleSet{Rules: []models.DeclarativeRule{rule}}, map[string]any{})
	if report.Results[0].Outcome != models.OutcomeSkipped {
		t.Fatalf("expected skipped, got %s", report.Results[0].Outcome)
	}
}

func TestEvaluateRuleSetLookupScenario(t *testing.T) {
	set := RuleSet{
		Rules: []models.DeclarativeRule{{
			ID:           "scie-012",
			RegulationID: "scie",
			Severity:     models.SeverityCritical,
			Description:  "fire resistance below the minimum for this risk category",
			Conditions: []models.RuleCondition{{
				Field:    "structure.fire_resistance",
				Operator: models.OpLookupLT,
				Table:    "fire_resistance_minimums",
			}},
			Enabled: true,
		}},
		Tables: map[string]models.LookupTable{
			"fire_resistance_minimums": {
				ID:   "fire_resistance_minimums",
				Keys: []string{"building.use", "building.risk_category"},
				Values: map[string]any{
					"residential": map[string]any{"1": 30.0, "2": 60.0},
				},
			},
		},
	}
	data := map[string]any{
		"structure": map[string]any{"fire_resistance": 45.0},
		"building":  map[string]any{"use": "residential", "risk_category": 2.0},
	}
	report := EvaluateRuleSet(set, data)
	if report.RulesFired != 1 {
		t.Fatalf("expected 45 < 60 to fire, got %+v", report)
	}
	data["structure"].(map[string]any)["fire_resistance"] = 90.0
	report = EvaluateRuleSet(set, data)
	if report.RulesFired != 0 {
		t.Fatalf("expected 90 >= 60 not to fire, got %+v", report)
	}
}

func TestEvaluateRuleSetComputedFieldScenario(t *testing.T) {
	set := RuleSet{
		Rules: []models.DeclarativeRule{{
			ID:           "park-003",
			RegulationID: "pdm",
			Severity:     models.SeverityWarning,
			Description:  "parking spaces below required {computed.required_spaces}",
			Conditions: []models.RuleCondition{{
				Field:    "parking.spaces",
				Operator: models.OpComputedLT,
				Formula:  "computed.required_spaces",
			}},
			Enabled: true,
		}},
		ComputedFields: []models.ComputedField{{
			ID:    "required_spaces",
			Type:  models.FieldTier,
			Field: "dwelling.area",
			Tiers: []models.TierStep{
				{Max: fptr(100), Result: 5.0},
				{Min: fptr(100.01), Max: fptr(200), Result: 7.0},
			},
		}},
	}
	data := map[string]any{
		"dwelling": map[string]any{"area": 150.0},
		"parking":  map[string]any{"spaces": 6.0},
	}
	report := EvaluateRuleSet(set, data)
	if report.RulesFired != 1 {
		t.Fatalf("expected 6 < 7 to fire, got %+v", report)
	}
	if !strings.Contains(report.Findings[0].Description, "7") {
		t.Fatalf("expected interpolated computed value, got %q", report.Findings[0].Description)
	}
}

func TestFindingIDsAreDeterministic(t *testing.T) {
	set := RuleSet{Rules: []models.DeclarativeRule{powerRule()}}
	data := map[string]any{
		"electrical": map[string]any{"contracted_power": 13.8, "phases": 1.0},
	}
	a := EvaluateRuleSet(set, data)
	b := EvaluateRuleSet(set, data)
	if a.Findings[0].ID != b.Findings[0].ID {
		t.Fatalf("expected identical finding ids across passes, got %s vs %s", a.Findings[0].ID, b.Findings[0].ID)
	}
}

func TestCrossReferenceWarningForUnknownTable(t *testing.T) {
	rule := models.DeclarativeRule{
		ID:      "bad-ref",
		Enabled: true,
		Conditions: []models.RuleCondition{{
			Field:    "x",
			Operator: models.OpLookupGT,
			Table:    "does_not_exist",
		}},
	}
	report := EvaluateRuleSet(RuleSet{Rules: []models.DeclarativeRule{rule}}, map[string]any{"x": 1.0})
	found := false
	for _, w := range report.Warnings {
		if strings.Contains(w, "does_not_exist") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown-table warning, got %v", report.Warnings)
	}
}

func TestInterpolate(t *testing.T) {
	ctx := ruleeval.Context{
		Data:     map[string]any{"a": map[string]any{"b": 42.0}},
		Computed: map[string]any{"computed.c": "X"},
	}
	cases := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"value is {a.b}", "value is 42"},
		{"derived {computed.c}", "derived X"},
		{"missing {nope}", "missing n/a"},
		{"unclosed {a.b", "unclosed {a.b"},
	}
	for _, tc := range cases {
		if got := Interpolate(tc.in, ctx); got != tc.want {
			t.Fatalf("Interpolate(%q) = %q, expected %q", tc.in, got, tc.want)
		}
	}
}
