package models

// Condition operators. Direct comparisons keep their symbol spelling as
// authored in rule bundles.
const (
	OpGT  = ">"
	OpGTE = ">="
	OpLT  = "<"
	OpLTE = "<="
	OpEQ  = "=="
	OpNEQ = "!="

	OpExists    = "exists"
	OpNotExists = "not_exists"

	OpIn         = "in"
	OpNotIn      = "not_in"
	OpBetween    = "between"
	OpNotInRange = "not_in_range"

	OpLookupGT  = "lookup_gt"
	OpLookupGTE = "lookup_gte"
	OpLookupLT  = "lookup_lt"
	OpLookupLTE = "lookup_lte"
	OpLookupEQ  = "lookup_eq"
	OpLookupNEQ = "lookup_neq"

	OpOrdinalLT  = "ordinal_lt"
	OpOrdinalLTE = "ordinal_lte"
	OpOrdinalGT  = "ordinal_gt"
	OpOrdinalGTE = "ordinal_gte"

	OpFormulaGT  = "formula_gt"
	OpFormulaGTE = "formula_gte"
	OpFormulaLT  = "formula_lt"
	OpFormulaLTE = "formula_lte"

	OpComputedLT  = "computed_lt"
	OpComputedLTE = "computed_lte"
	OpComputedGT  = "computed_gt"
	OpComputedGTE = "computed_gte"

	OpReactionClassLT  = "reaction_class_lt"
	OpReactionClassLTE = "reaction_class_lte"
	OpReactionClassGT  = "reaction_class_gt"
	OpReactionClassGTE = "reaction_class_gte"
)

var knownOperators = map[string]struct{}{
	OpGT: {}, OpGTE: {}, OpLT: {}, OpLTE: {}, OpEQ: {}, OpNEQ: {},
	OpExists: {}, OpNotExists: {},
	OpIn: {}, OpNotIn: {}, OpBetween: {}, OpNotInRange: {},
	OpLookupGT: {}, OpLookupGTE: {}, OpLookupLT: {}, OpLookupLTE: {}, OpLookupEQ: {}, OpLookupNEQ: {},
	OpOrdinalLT: {}, OpOrdinalLTE: {}, OpOrdinalGT: {}, OpOrdinalGTE: {},
	OpFormulaGT: {}, OpFormulaGTE: {}, OpFormulaLT: {}, OpFormulaLTE: {},
	OpComputedLT: {}, OpComputedLTE: {}, OpComputedGT: {}, OpComputedGTE: {},
	OpReactionClassLT: {}, OpReactionClassLTE: {}, OpReactionClassGT: {}, OpReactionClassGTE: {},
}

func KnownOperator(op string) bool {
	_, ok := knownOperators[op]
	return ok
}

// OperatorNeedsTable reports whether op dereferences a lookup table.
func OperatorNeedsTable(op string) bool {
	switch op {
	case OpLookupGT, OpLookupGTE, OpLookupLT, OpLookupLTE, OpLookupEQ, OpLookupNEQ:
		return true
	}
	return false
}

// OperatorNeedsScale reports whether op ranks values on a supplied
// ordinal scale.
func OperatorNeedsScale(op string) bool {
	switch op {
	case OpOrdinalLT, OpOrdinalLTE, OpOrdinalGT, OpOrdinalGTE:
		return true
	}
	return false
}

// OperatorNeedsFormula reports whether op reads its expression from the
// condition's formula field.
func OperatorNeedsFormula(op string) bool {
	switch op {
	case OpComputedLT, OpComputedLTE, OpComputedGT, OpComputedGTE:
		return true
	}
	return false
}
