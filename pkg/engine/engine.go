// Package engine runs a rule set against one project's data and turns
// fired rules into findings. A pass is pure: it takes an immutable
// snapshot of rules, tables and computed-field definitions, and shares
// no state with other passes.
package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arkritico/wallnut-sub005/pkg/computed"
	"github.com/arkritico/wallnut-sub005/pkg/fieldpath"
	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/ruleeval"
)

// findingNamespace makes finding ids a pure function of the rule id, so
// two passes over the same input yield identical findings.
var findingNamespace = uuid.MustParse("8b9e2c6a-4f2d-4a61-9f0e-5a7c3d1b8e42")

// RuleSet is the immutable input of one evaluation pass.
type RuleSet struct {
	Rules          []models.DeclarativeRule
	Tables         map[string]models.LookupTable
	ComputedFields []models.ComputedField
}

// EvaluateRuleSet derives computed fields once, then evaluates every
// enabled rule: all conditions AND-combined, then exclusions; any true
// exclusion skips the rule. A rule whose data is absent from the
// project is recorded as skipped, distinct from evaluated-and-not-fired.
func EvaluateRuleSet(set RuleSet, projectData map[string]any) models.EvaluationReport {
	ctx := ruleeval.Context{
		Data:     projectData,
		Tables:   set.Tables,
		Computed: computed.ResolveAll(set.ComputedFields, projectData),
	}

	report := models.EvaluationReport{
		Findings:    []models.Finding{},
		Results:     make([]models.RuleResult, 0, len(set.Rules)),
		RulesTotal:  len(set.Rules),
		GeneratedAt: time.Now().UTC(),
	}
	disabled := 0
	for _, rule := range set.Rules {
		if !rule.Enabled {
			disabled++
			report.Results = append(report.Results, models.RuleResult{RuleID: rule.ID, Outcome: models.OutcomeDisabled})
			continue
		}
		for _, w := range crossReferenceWarnings(rule, set.Tables) {
			report.Warnings = append(report.Warnings, w)
		}
		result := evaluateRule(rule, ctx)
		report.Results = append(report.Results, result)
		switch result.Outcome {
		case models.OutcomeFired:
			report.RulesFired++
			report.Findings = append(report.Findings, buildFinding(rule, ctx))
		case models.OutcomeSkipped:
			report.RulesSkipped++
		default:
			report.RulesPassed++
		}
	}
	if disabled > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("%d disabled rule(s) present in rule set", disabled))
	}
	return report
}

func evaluateRule(rule models.DeclarativeRule, ctx ruleeval.Context) models.RuleResult {
	// A rule with no conditions can never fire; treat as always
	// skipped in case one slips past load-time validation.
	if len(rule.Conditions) == 0 {
		return models.RuleResult{RuleID: rule.ID, Outcome: models.OutcomeSkipped, Reason: "rule has no conditions"}
	}
	for _, cond := range rule.Conditions {
		switch ruleeval.Evaluate(cond, ctx) {
		case ruleeval.FieldAbsent:
			return models.RuleResult{
				RuleID:  rule.ID,
				Outcome: models.OutcomeSkipped,
				Reason:  fmt.Sprintf("field %q absent from project data", cond.Field),
			}
		case ruleeval.NotSatisfied:
			return models.RuleResult{RuleID: rule.ID, Outcome: models.OutcomeNotFired}
		}
	}
	for _, excl := range rule.Exclusions {
		if ruleeval.Evaluate(excl, ctx) == ruleeval.Satisfied {
			return models.RuleResult{
				RuleID:  rule.ID,
				Outcome: models.OutcomeExcluded,
				Reason:  fmt.Sprintf("exclusion on %q matched", excl.Field),
			}
		}
	}
	return models.RuleResult{RuleID: rule.ID, Outcome: models.OutcomeFired}
}

func buildFinding(rule models.DeclarativeRule, ctx ruleeval.Context) models.Finding {
	return models.Finding{
		ID:            uuid.NewSHA1(findingNamespace, []byte(rule.ID)).String(),
		RuleID:        rule.ID,
		RegulationID:  rule.RegulationID,
		Article:       rule.Article,
		Severity:      rule.Severity,
		Description:   Interpolate(rule.Description, ctx),
		Remediation:   rule.Remediation,
		CurrentValue:  Interpolate(rule.CurrentValue, ctx),
		RequiredValue: rule.RequiredValue,
	}
}

// crossReferenceWarnings reports non-fatal inconsistencies between a
// rule and its evaluation contexts.
func crossReferenceWarnings(rule models.DeclarativeRule, tables map[string]models.LookupTable) []string {
	var out []string
	for _, cond := range append(append([]models.RuleCondition{}, rule.Conditions...), rule.Exclusions...) {
		if !models.OperatorNeedsTable(cond.Operator) {
			continue
		}
		if _, ok := tables[cond.Table]; !ok {
			out = append(out, fmt.Sprintf("rule %s references unknown lookup table %q", rule.ID, cond.Table))
		}
	}
	return out
}

// Interpolate substitutes {dot.path} tokens with resolved project
// values. Unresolvable tokens render as n/a.
func Interpolate(template string, ctx ruleeval.Context) string {
	if !strings.Contains(template, "{") {
		return template
	}
	var b strings.Builder
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			break
		}
		closing := strings.IndexByte(template[open:], '}')
		if closing < 0 {
			b.WriteString(template)
			break
		}
		b.WriteString(template[:open])
		path := strings.TrimSpace(template[open+1 : open+closing])
		if raw, ok := resolveForDisplay(path, ctx); ok {
			b.WriteString(fieldpath.Display(raw))
		} else {
			b.WriteString("n/a")
		}
		template = template[open+closing+1:]
	}
	return b.String()
}

func resolveForDisplay(path string, ctx ruleeval.Context) (any, bool) {
	if v, ok := ctx.Computed[path]; ok {
		return v, true
	}
	return fieldpath.Resolve(ctx.Data, path)
}
