package plugin

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// LoadError locates one validation failure inside a bundle. A failed
// bundle never aborts loading of sibling bundles.
type LoadError struct {
	File    string `json:"file,omitempty"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e LoadError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.File, e.Path, e.Message)
}

// ParseBundle decodes and validates one plugin JSON bundle.
func ParseBundle(file string, raw []byte) (models.SpecialtyPlugin, []LoadError) {
	var p models.SpecialtyPlugin
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, []LoadError{{File: file, Path: "$", Message: "malformed JSON: " + err.Error()}}
	}
	if errs := Validate(file, p); len(errs) > 0 {
		return p, errs
	}
	return p, nil
}

// LoadBundles parses many bundles, collecting per-file errors while
// returning every bundle that validated.
func LoadBundles(bundles map[string][]byte) ([]models.SpecialtyPlugin, []LoadError) {
	var plugins []models.SpecialtyPlugin
	var errs []LoadError
	for file, raw := range bundles {
		p, ferrs := ParseBundle(file, raw)
		if len(ferrs) > 0 {
			errs = append(errs, ferrs...)
			continue
		}
		plugins = append(plugins, p)
	}
	return plugins, errs
}

// Validate checks a plugin bundle against the schema invariants:
// identity fields, enum values, operator side-data, table shapes and
// computed-field shapes. All failures are reported, not only the first.
func Validate(file string, p models.SpecialtyPlugin) []LoadError {
	var errs []LoadError
	add := func(path, msg string) {
		errs = append(errs, LoadError{File: file, Path: path, Message: msg})
	}
	if strings.TrimSpace(p.ID) == "" {
		add("$.id", "plugin id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		add("$.name", "plugin name is required")
	}
	if !validSemver(p.Version) {
		add("$.version", fmt.Sprintf("%q is not a semver version", p.Version))
	}

	declared := map[string]bool{}
	for i, reg := range p.Regulations {
		path := fmt.Sprintf("$.regulations[%d]", i)
		if strings.TrimSpace(reg.ID) == "" {
			add(path+".id", "regulation id is required")
			continue
		}
		if declared[reg.ID] {
			add(path+".id", fmt.Sprintf("duplicate regulation id %q", reg.ID))
		}
		declared[reg.ID] = true
		if reg.Status != "" && !models.ValidStatus(reg.Status) {
			add(path+".status", fmt.Sprintf("unknown status %q", reg.Status))
		}
		if reg.IngestionStatus != "" && !models.ValidIngestionStatus(reg.IngestionStatus) {
			add(path+".ingestion_status", fmt.Sprintf("unknown ingestion status %q", reg.IngestionStatus))
		}
		if reg.Status == models.StatusSuperseded && (reg.SupersededBy == "" || reg.RevocationDate == "") {
			add(path, "superseded regulation needs superseded_by and revocation_date")
		}
		if reg.Status == models.StatusRevoked && reg.RevocationDate == "" {
			add(path, "revoked regulation needs revocation_date")
		}
	}

	tables := map[string]bool{}
	for i, table := range p.LookupTables {
		path := fmt.Sprintf("$.lookup_tables[%d]", i)
		if strings.TrimSpace(table.ID) == "" {
			add(path+".id", "table id is required")
			continue
		}
		tables[table.ID] = true
		if len(table.Keys) == 0 {
			add(path+".keys", "table needs at least one key path")
		}
		if table.Values == nil {
			add(path+".values", "table values are required")
		}
	}

	for i, rule := range p.Rules {
		path := fmt.Sprintf("$.rules[%d]", i)
		if strings.TrimSpace(rule.ID) == "" {
			add(path+".id", "rule id is required")
		}
		if strings.TrimSpace(rule.RegulationID) == "" {
			add(path+".regulation_id", "rule must reference a regulation")
		} else if len(declared) > 0 && !declared[rule.RegulationID] {
			add(path+".regulation_id", fmt.Sprintf("regulation %q not declared by this plugin", rule.RegulationID))
		}
		if !models.ValidSeverity(rule.Severity) {
			add(path+".severity", fmt.Sprintf("unknown severity %q", rule.Severity))
		}
		if len(rule.Conditions) == 0 {
			add(path+".conditions", "rule with zero conditions can never fire")
		}
		for j, cond := range rule.Conditions {
			validateCondition(fmt.Sprintf("%s.conditions[%d]", path, j), cond, add)
		}
		for j, cond := range rule.Exclusions {
			validateCondition(fmt.Sprintf("%s.exclusions[%d]", path, j), cond, add)
		}
	}

	for i, field := range p.ComputedFields {
		validateComputedField(fmt.Sprintf("$.computed_fields[%d]", i), field, add)
	}
	return errs
}

func validateCondition(path string, cond models.RuleCondition, add func(string, string)) {
	if strings.TrimSpace(cond.Field) == "" {
		add(path+".field", "condition field path is required")
	}
	if !models.KnownOperator(cond.Operator) {
		add(path+".operator", fmt.Sprintf("unknown operator %q", cond.Operator))
		return
	}
	if models.OperatorNeedsTable(cond.Operator) && strings.TrimSpace(cond.Table) == "" {
		add(path+".table", fmt.Sprintf("operator %s requires a lookup table id", cond.Operator))
	}
	if models.OperatorNeedsScale(cond.Operator) && len(cond.Scale) == 0 {
		add(path+".scale", fmt.Sprintf("operator %s requires an ordinal scale", cond.Operator))
	}
	if models.OperatorNeedsFormula(cond.Operator) && strings.TrimSpace(cond.Formula) == "" {
		add(path+".formula", fmt.Sprintf("operator %s requires a formula expression", cond.Operator))
	}
	switch cond.Operator {
	case models.OpIn, models.OpNotIn:
		if _, ok := cond.Value.([]any); !ok {
			add(path+".value", fmt.Sprintf("operator %s requires an array value", cond.Operator))
		}
	case models.OpBetween, models.OpNotInRange:
		pair, ok := cond.Value.([]any)
		if !ok || len(pair) != 2 {
			add(path+".value", fmt.Sprintf("operator %s requires a [min, max] pair", cond.Operator))
		}
	case models.OpFormulaGT, models.OpFormulaGTE, models.OpFormulaLT, models.OpFormulaLTE:
		if _, ok := cond.Value.(string); !ok {
			add(path+".value", fmt.Sprintf("operator %s requires an expression string value", cond.Operator))
		}
	}
}

func validateComputedField(path string, field models.ComputedField, add func(string, string)) {
	if strings.TrimSpace(field.ID) == "" {
		add(path+".id", "computed field id is required")
	}
	switch field.Type {
	case models.FieldArithmetic:
		if len(field.Operands) != 2 {
			add(path+".operands", "arithmetic field needs exactly two operand paths")
		}
		switch field.Operation {
		case "divide", "multiply", "add", "subtract":
		default:
			add(path+".operation", fmt.Sprintf("unknown arithmetic operation %q", field.Operation))
		}
	case models.FieldTier:
		if strings.TrimSpace(field.Field) == "" {
			add(path+".field", "tier field needs a source path")
		}
		if len(field.Tiers) == 0 {
			add(path+".tiers", "tier field needs at least one step")
		}
	case models.FieldConditional:
		if strings.TrimSpace(field.Field) == "" {
			add(path+".field", "conditional field needs a source path")
		}
	default:
		add(path+".type", fmt.Sprintf("unknown computed field type %q", field.Type))
	}
}

// validSemver accepts MAJOR.MINOR.PATCH with an optional pre-release
// tag, which is all the plugin manifests use.
func validSemver(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	if i := strings.IndexByte(v, '-'); i >= 0 {
		if i == len(v)-1 {
			return false
		}
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if _, err := strconv.Atoi(part); err != nil {
			return false
		}
	}
	return true
}
