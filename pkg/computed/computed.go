// Package computed derives named values from raw project data before
// rule evaluation. Fields are pure functions of project data and are
// resolved once per evaluation pass; they may not reference each other.
package computed

import (
	"math"

	"github.com/arkritico/wallnut-sub005/pkg/fieldpath"
	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// Namespace prefixes every derived field id in condition paths.
const Namespace = "computed."

// ResolveAll derives every field and returns a flat map keyed
// "computed.<id>". Fields that cannot be derived are simply absent.
func ResolveAll(fields []models.ComputedField, data map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := Resolve(f, data)
		if !ok {
			continue
		}
		out[Namespace+f.ID] = v
	}
	return out
}

// Resolve derives one field. The second return is false when the field
// cannot be derived from this project's data.
func Resolve(f models.ComputedField, data map[string]any) (any, bool) {
	switch f.Type {
	case models.FieldArithmetic:
		return resolveArithmetic(f, data)
	case models.FieldTier:
		return resolveTier(f, data)
	case models.FieldConditional:
		return resolveConditional(f, data)
	}
	return nil, false
}

func resolveArithmetic(f models.ComputedField, data map[string]any) (any, bool) {
	if len(f.Operands) != 2 {
		return nil, false
	}
	left, ok := resolveNumber(data, f.Operands[0])
	if !ok {
		return nil, false
	}
	right, ok := resolveNumber(data, f.Operands[1])
	if !ok {
		return nil, false
	}
	var result float64
	switch f.Operation {
	case "divide":
		if right == 0 {
			return nil, false
		}
		result = left / right
	case "multiply":
		result = left * right
	case "add":
		result = left + right
	case "subtract":
		result = left - right
	default:
		return nil, false
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return nil, false
	}
	return result, true
}

func resolveTier(f models.ComputedField, data map[string]any) (any, bool) {
	v, ok := resolveNumber(data, f.Field)
	if !ok {
		return nil, false
	}
	for _, tier := range f.Tiers {
		if tier.Min != nil && v < *tier.Min {
			continue
		}
		if tier.Max != nil && v > *tier.Max {
			continue
		}
		return tier.Result, true
	}
	return nil, false
}

func resolveConditional(f models.ComputedField, data map[string]any) (any, bool) {
	raw, ok := fieldpath.Resolve(data, f.Field)
	if !ok {
		return nil, false
	}
	if fieldpath.Truthy(raw) {
		return f.IfTrue, true
	}
	return f.IfFalse, true
}

func resolveNumber(data map[string]any, path string) (float64, bool) {
	raw, ok := fieldpath.Resolve(data, path)
	if !ok {
		return 0, false
	}
	return fieldpath.Number(raw)
}
