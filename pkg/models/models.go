package models

import (
	"encoding/json"
	"time"
)

// RegulationStatus tracks where a regulation sits in its lifecycle.
type RegulationStatus string

const (
	StatusDraft      RegulationStatus = "draft"
	StatusActive     RegulationStatus = "active"
	StatusAmended    RegulationStatus = "amended"
	StatusSuperseded RegulationStatus = "superseded"
	StatusRevoked    RegulationStatus = "revoked"
)

func ValidStatus(s RegulationStatus) bool {
	switch s {
	case StatusDraft, StatusActive, StatusAmended, StatusSuperseded, StatusRevoked:
		return true
	}
	return false
}

// Applicable reports whether a regulation still contributes rules.
func (s RegulationStatus) Applicable() bool {
	return s == StatusActive || s == StatusAmended
}

type IngestionStatus string

const (
	IngestionPending  IngestionStatus = "pending"
	IngestionPartial  IngestionStatus = "partial"
	IngestionComplete IngestionStatus = "complete"
	IngestionVerified IngestionStatus = "verified"
)

func ValidIngestionStatus(s IngestionStatus) bool {
	switch s {
	case IngestionPending, IngestionPartial, IngestionComplete, IngestionVerified:
		return true
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
	SeverityPass     Severity = "pass"
)

func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityCritical, SeverityWarning, SeverityInfo, SeverityPass:
		return true
	}
	return false
}

// RegulationDocument is one regulatory source (decree, technical norm).
// Dates are ISO-8601 day strings as authored in the source documents.
type RegulationDocument struct {
	ID              string           `json:"id"`
	ShortRef        string           `json:"short_ref"`
	Title           string           `json:"title"`
	Status          RegulationStatus `json:"status"`
	EffectiveDate   string           `json:"effective_date,omitempty"`
	RevocationDate  string           `json:"revocation_date,omitempty"`
	Amends          []string         `json:"amends,omitempty"`
	AmendedBy       []string         `json:"amended_by,omitempty"`
	SupersededBy    string           `json:"superseded_by,omitempty"`
	SourceType      string           `json:"source_type,omitempty"`
	LegalForce      string           `json:"legal_force,omitempty"`
	Area            string           `json:"area,omitempty"`
	IngestionStatus IngestionStatus  `json:"ingestion_status,omitempty"`
	IngestionDate   string           `json:"ingestion_date,omitempty"`
	VerifiedBy      string           `json:"verified_by,omitempty"`
	RulesCount      int              `json:"rules_count"`
	Tags            []string         `json:"tags,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

// RuleCondition is one atomic predicate against project data.
// Table, Keys, Scale and Formula are only meaningful for the operator
// families that require them; the plugin loader rejects mismatches.
type RuleCondition struct {
	Field    string   `json:"field"`
	Operator string   `json:"operator"`
	Value    any      `json:"value,omitempty"`
	Table    string   `json:"table,omitempty"`
	Keys     []string `json:"keys,omitempty"`
	Scale    []string `json:"scale,omitempty"`
	Formula  string   `json:"formula,omitempty"`
}

// DeclarativeRule is one compliance check extracted from a regulation.
// Conditions are AND-combined; any true exclusion skips the rule.
type DeclarativeRule struct {
	ID            string          `json:"id"`
	RegulationID  string          `json:"regulation_id"`
	Article       string          `json:"article,omitempty"`
	Description   string          `json:"description"`
	Severity      Severity        `json:"severity"`
	Conditions    []RuleCondition `json:"conditions"`
	Exclusions    []RuleCondition `json:"exclusions,omitempty"`
	Remediation   string          `json:"remediation,omitempty"`
	CurrentValue  string          `json:"current_value,omitempty"`
	RequiredValue string          `json:"required_value,omitempty"`
	Enabled       bool            `json:"enabled"`
	Tags          []string        `json:"tags,omitempty"`
}

// LookupTable is an N-dimensional keyed table. Values nests one object
// level per entry in Keys; SubKey selects a field from the deepest leaf.
type LookupTable struct {
	ID     string         `json:"id"`
	Keys   []string       `json:"keys"`
	Values map[string]any `json:"values"`
	SubKey string         `json:"sub_key,omitempty"`
}

// ComputedField derives a named value from project data before rule
// evaluation. Exactly one shape applies depending on Type.
type ComputedField struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"` // arithmetic | tier | conditional
	Operation string     `json:"operation,omitempty"`
	Operands  []string   `json:"operands,omitempty"`
	Field     string     `json:"field,omitempty"`
	Tiers     []TierStep `json:"tiers,omitempty"`
	IfTrue    any        `json:"if_true,omitempty"`
	IfFalse   any        `json:"if_false,omitempty"`
}

const (
	FieldArithmetic  = "arithmetic"
	FieldTier        = "tier"
	FieldConditional = "conditional"
)

// TierStep matches when the source value is within [Min, Max]; a step
// with neither bound acts as catch-all.
type TierStep struct {
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Result any      `json:"result"`
}

// SpecialtyPlugin bundles one discipline's regulations, rules, tables
// and computed fields.
type SpecialtyPlugin struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Version        string               `json:"version"`
	Areas          []string             `json:"areas,omitempty"`
	Regulations    []RegulationDocument `json:"regulations"`
	Rules          []DeclarativeRule    `json:"rules"`
	LookupTables   []LookupTable        `json:"lookup_tables,omitempty"`
	ComputedFields []ComputedField      `json:"computed_fields,omitempty"`
}

// Registry event kinds.
const (
	EventRegulationAdded      = "regulation_added"
	EventAmendmentAdded       = "amendment_added"
	EventRulesExtracted       = "rules_extracted"
	EventRulesVerified        = "rules_verified"
	EventRegulationAmended    = "regulation_amended"
	EventRegulationSuperseded = "regulation_superseded"
	EventRegulationRevoked    = "regulation_revoked"
	EventRuleToggled          = "rule_toggled"
)

// RegistryEvent is one append-only audit record. Seq is assigned by the
// registry and is strictly increasing.
type RegistryEvent struct {
	ID            string              `json:"id"`
	Seq           int64               `json:"seq"`
	Type          string              `json:"type"`
	RegulationID  string              `json:"regulation_id,omitempty"`
	Timestamp     time.Time           `json:"timestamp"`
	Description   string              `json:"description"`
	Actor         string              `json:"actor"`
	PreviousState *RegulationSnapshot `json:"previous_state,omitempty"`
}

// RegulationSnapshot captures the mutable fields of a regulation before
// a lifecycle operation touched it.
type RegulationSnapshot struct {
	Status          RegulationStatus `json:"status"`
	IngestionStatus IngestionStatus  `json:"ingestion_status,omitempty"`
	RevocationDate  string           `json:"revocation_date,omitempty"`
	SupersededBy    string           `json:"superseded_by,omitempty"`
	RulesCount      int              `json:"rules_count"`
}

// Finding is one emitted result of a fired rule.
type Finding struct {
	ID            string   `json:"id"`
	RuleID        string   `json:"rule_id"`
	RegulationID  string   `json:"regulation_id"`
	Article       string   `json:"article,omitempty"`
	Severity      Severity `json:"severity"`
	Description   string   `json:"description"`
	Remediation   string   `json:"remediation,omitempty"`
	CurrentValue  string   `json:"current_value,omitempty"`
	RequiredValue string   `json:"required_value,omitempty"`
}

// Rule outcomes per evaluation pass. Skipped means the data the rule
// needs is absent from the project, which is distinct from a rule that
// evaluated and simply did not fire.
type RuleOutcome string

const (
	OutcomeFired    RuleOutcome = "fired"
	OutcomeNotFired RuleOutcome = "not_fired"
	OutcomeSkipped  RuleOutcome = "skipped"
	OutcomeExcluded RuleOutcome = "excluded"
	OutcomeDisabled RuleOutcome = "disabled"
)

type RuleResult struct {
	RuleID  string      `json:"rule_id"`
	Outcome RuleOutcome `json:"outcome"`
	Reason  string      `json:"reason,omitempty"`
}

// EvaluationReport is the full output of one engine pass.
type EvaluationReport struct {
	Findings     []Finding    `json:"findings"`
	Results      []RuleResult `json:"results"`
	Warnings     []string     `json:"warnings,omitempty"`
	RulesTotal   int          `json:"rules_total"`
	RulesFired   int          `json:"rules_fired"`
	RulesPassed  int          `json:"rules_passed"`
	RulesSkipped int          `json:"rules_skipped"`
	GeneratedAt  time.Time    `json:"generated_at"`
}

// EvaluateRequest is the gateway evaluation payload. ProjectData is an
// arbitrary nested structure read via dot-paths.
type EvaluateRequest struct {
	ProjectData json.RawMessage `json:"project_data"`
	PluginIDs   []string        `json:"plugin_ids,omitempty"`
}

// CoverageReport summarizes rule-extraction completeness over the
// applicable regulation set.
type CoverageReport struct {
	TotalRegulations      int     `json:"total_regulations"`
	ApplicableRegulations int     `json:"applicable_regulations"`
	CompleteExtractions   int     `json:"complete_extractions"`
	VerifiedExtractions   int     `json:"verified_extractions"`
	CoverageRatio         float64 `json:"coverage_ratio"`
	TotalRules            int     `json:"total_rules"`
}
