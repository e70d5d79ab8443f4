// Package ruleeval evaluates single rule conditions against project
// data. Evaluation-time failures (missing fields, lookup misses, values
// outside an ordinal scale, bad formulas) never surface as errors: they
// resolve to NotSatisfied or FieldAbsent so the engine can distinguish
// "checked and false" from "data does not apply".
package ruleeval

import (
	"strings"

	"github.com/arkritico/wallnut-sub005/pkg/fieldpath"
	"github.com/arkritico/wallnut-sub005/pkg/lookup"
	"github.com/arkritico/wallnut-sub005/pkg/models"
)

type Outcome int

const (
	NotSatisfied Outcome = iota
	Satisfied
	FieldAbsent
)

// Context carries the immutable inputs of one evaluation pass.
type Context struct {
	Data     map[string]any
	Tables   map[string]models.LookupTable
	Computed map[string]any
}

// resolve reads a path, checking derived fields before raw data.
func (c Context) resolve(path string) (any, bool) {
	if v, ok := c.Computed[path]; ok {
		return v, true
	}
	return fieldpath.Resolve(c.Data, path)
}

// ReactionClassScale ranks fire-reaction Euroclasses worst to best, so
// a higher index is a better class (same rank convention as authored
// ordinal scales).
var ReactionClassScale = []string{"F", "E", "D", "C", "B", "A2", "A1"}

// Evaluate applies one condition. FieldAbsent is returned when the
// condition's target field is missing from the project entirely, except
// for the existence operators which test exactly that.
func Evaluate(cond models.RuleCondition, ctx Context) Outcome {
	raw, present := ctx.resolve(cond.Field)

	switch cond.Operator {
	case models.OpExists:
		return outcome(present && fieldpath.Truthy(raw))
	case models.OpNotExists:
		return outcome(!present || !fieldpath.Truthy(raw))
	}
	if !present {
		return FieldAbsent
	}

	switch cond.Operator {
	case models.OpGT, models.OpGTE, models.OpLT, models.OpLTE, models.OpEQ, models.OpNEQ:
		return outcome(compare(cond.Operator, raw, cond.Value))

	case models.OpIn:
		return outcome(member(raw, cond.Value))
	case models.OpNotIn:
		return outcome(!member(raw, cond.Value))

	case models.OpBetween:
		lo, hi, ok := bounds(cond.Value)
		if !ok {
			return NotSatisfied
		}
		n, numeric := fieldpath.Number(raw)
		return outcome(numeric && n >= lo && n <= hi)
	case models.OpNotInRange:
		lo, hi, ok := bounds(cond.Value)
		if !ok {
			return NotSatisfied
		}
		n, numeric := fieldpath.Number(raw)
		return outcome(numeric && (n < lo || n > hi))

	case models.OpLookupGT, models.OpLookupGTE, models.OpLookupLT, models.OpLookupLTE, models.OpLookupEQ, models.OpLookupNEQ:
		table, ok := ctx.Tables[cond.Table]
		if !ok {
			return NotSatisfied
		}
		resolved, ok := lookup.Resolve(table, ctx.Data, cond.Keys)
		if !ok {
			return NotSatisfied
		}
		op := strings.TrimPrefix(cond.Operator, "lookup_")
		return outcome(compare(symbolFor(op), raw, resolved))

	case models.OpOrdinalLT, models.OpOrdinalLTE, models.OpOrdinalGT, models.OpOrdinalGTE:
		return ordinal(strings.TrimPrefix(cond.Operator, "ordinal_"), raw, cond.Value, cond.Scale, false)

	case models.OpReactionClassLT, models.OpReactionClassLTE, models.OpReactionClassGT, models.OpReactionClassGTE:
		return ordinal(strings.TrimPrefix(cond.Operator, "reaction_class_"), raw, cond.Value, ReactionClassScale, true)

	case models.OpFormulaGT, models.OpFormulaGTE, models.OpFormulaLT, models.OpFormulaLTE:
		expr, ok := cond.Value.(string)
		if !ok {
			return NotSatisfied
		}
		return formulaCompare(strings.TrimPrefix(cond.Operator, "formula_"), raw, expr, ctx)

	case models.OpComputedLT, models.OpComputedLTE, models.OpComputedGT, models.OpComputedGTE:
		// Alias of the formula family with the expression stored on the
		// condition's formula field instead of its value.
		return formulaCompare(strings.TrimPrefix(cond.Operator, "computed_"), raw, cond.Formula, ctx)
	}
	return NotSatisfied
}

func outcome(ok bool) Outcome {
	if ok {
		return Satisfied
	}
	return NotSatisfied
}

func symbolFor(suffix string) string {
	switch suffix {
	case "gt":
		return models.OpGT
	case "gte":
		return models.OpGTE
	case "lt":
		return models.OpLT
	case "lte":
		return models.OpLTE
	case "eq":
		return models.OpEQ
	case "neq":
		return models.OpNEQ
	}
	return ""
}

// compare applies a direct comparison, numeric when both sides coerce
// to numbers, string otherwise.
func compare(op string, left, right any) bool {
	ln, lok := fieldpath.Number(left)
	rn, rok := fieldpath.Number(right)
	if lok && rok {
		switch op {
		case models.OpGT:
			return ln > rn
		case models.OpGTE:
			return ln >= rn
		case models.OpLT:
			return ln < rn
		case models.OpLTE:
			return ln <= rn
		case models.OpEQ:
			return ln == rn
		case models.OpNEQ:
			return ln != rn
		}
		return false
	}
	ls, lok := fieldpath.String(left)
	rs, rok := fieldpath.String(right)
	if !lok || !rok {
		return false
	}
	switch op {
	case models.OpGT:
		return ls > rs
	case models.OpGTE:
		return ls >= rs
	case models.OpLT:
		return ls < rs
	case models.OpLTE:
		return ls <= rs
	case models.OpEQ:
		return ls == rs
	case models.OpNEQ:
		return ls != rs
	}
	return false
}

func member(v any, set any) bool {
	items, ok := set.([]any)
	if !ok {
		return false
	}
	for _, item := range items {
		if looseEqual(v, item) {
			return true
		}
	}
	return false
}

func looseEqual(a, b any) bool {
	an, aok := fieldpath.Number(a)
	bn, bok := fieldpath.Number(b)
	if aok && bok {
		return an == bn
	}
	as, aok := fieldpath.String(a)
	bs, bok := fieldpath.String(b)
	return aok && bok && as == bs
}

func bounds(v any) (float64, float64, bool) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, 0, false
	}
	lo, lok := fieldpath.Number(pair[0])
	hi, hok := fieldpath.Number(pair[1])
	if !lok || !hok {
		return 0, 0, false
	}
	return lo, hi, true
}

// ordinal compares the ranks of the field value and the threshold on an
// ordered scale. Values absent from the scale never satisfy.
func ordinal(suffix string, raw, threshold any, scale []string, normalize bool) Outcome {
	fieldLabel, ok := fieldpath.String(raw)
	if !ok {
		return NotSatisfied
	}
	wantLabel, ok := fieldpath.String(threshold)
	if !ok {
		return NotSatisfied
	}
	fieldRank := rank(fieldLabel, scale, normalize)
	wantRank := rank(wantLabel, scale, normalize)
	if fieldRank < 0 || wantRank < 0 {
		return NotSatisfied
	}
	switch suffix {
	case "lt":
		return outcome(fieldRank < wantRank)
	case "lte":
		return outcome(fieldRank <= wantRank)
	case "gt":
		return outcome(fieldRank > wantRank)
	case "gte":
		return outcome(fieldRank >= wantRank)
	}
	return NotSatisfied
}

func rank(label string, scale []string, normalize bool) int {
	if normalize {
		label = normalizeReactionClass(label)
	}
	for i, s := range scale {
		if s == label {
			return i
		}
	}
	return -1
}

// normalizeReactionClass maps flooring and linear-product variants
// (A1fl, Bl, ...) onto the base Euroclass.
func normalizeReactionClass(label string) string {
	label = strings.ToUpper(strings.TrimSpace(label))
	label = strings.TrimSuffix(label, "FL")
	if len(label) > 1 && strings.HasSuffix(label, "L") && label != "A1" {
		label = strings.TrimSuffix(label, "L")
	}
	return label
}

func formulaCompare(suffix string, raw any, expr string, ctx Context) Outcome {
	n, ok := fieldpath.Number(raw)
	if !ok {
		return NotSatisfied
	}
	result, err := EvalFormula(expr, ctx)
	if err != nil {
		return NotSatisfied
	}
	switch suffix {
	case "gt":
		return outcome(n > result)
	case "gte":
		return outcome(n >= result)
	case "lt":
		return outcome(n < result)
	case "lte":
		return outcome(n <= result)
	}
	return NotSatisfied
}
