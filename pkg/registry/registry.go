// Package registry owns the authoritative set of regulation documents,
// their rules, and the append-only audit trail of lifecycle changes.
// Documents are never physically deleted; every mutation is recorded as
// a RegistryEvent with a monotonically increasing sequence number.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// Lifecycle usage errors. These indicate caller bugs, not recoverable
// runtime conditions; the regulation state is left unchanged.
var (
	ErrRegulationExists   = errors.New("regulation already registered")
	ErrRegulationNotFound = errors.New("regulation not found")
	ErrRuleNotFound       = errors.New("rule not found")
	ErrSelfReference      = errors.New("regulation cannot amend or supersede itself")
	ErrInvalidRegulation  = errors.New("invalid regulation")
)

// EventSink mirrors registry events to a durable or streaming backend.
// The in-memory log stays authoritative; sink failures are logged and
// do not fail the lifecycle operation.
type EventSink interface {
	Append(ctx context.Context, ev models.RegistryEvent) error
}

type Registry struct {
	mu          sync.RWMutex
	regulations map[string]*models.RegulationDocument
	order       []string
	rules       map[string][]models.DeclarativeRule
	events      []models.RegistryEvent
	seq         int64
	now         func() time.Time
	sinks       []EventSink
}

type Option func(*Registry)

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEventSink mirrors events to an external sink.
func WithEventSink(sink EventSink) Option {
	return func(r *Registry) { r.sinks = append(r.sinks, sink) }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		regulations: map[string]*models.RegulationDocument{},
		rules:       map[string][]models.DeclarativeRule{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddRegulation registers a new document. Status defaults to active,
// ingestion status to pending.
func (r *Registry) AddRegulation(doc models.RegulationDocument, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertLocked(doc); err != nil {
		return err
	}
	r.appendEventLocked(models.RegistryEvent{
		Type:         models.EventRegulationAdded,
		RegulationID: doc.ID,
		Description:  fmt.Sprintf("regulation %s (%s) registered", doc.ID, doc.ShortRef),
		Actor:        actor,
	})
	return nil
}

// AddRules appends extracted rules to a regulation and marks its
// ingestion complete.
func (r *Registry) AddRules(regulationID string, rules []models.DeclarativeRule, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.regulations[regulationID]
	if !ok {
		return fmt.Errorf("add rules for %q: %w", regulationID, ErrRegulationNotFound)
	}
	for i := range rules {
		if rules[i].RegulationID == "" {
			rules[i].RegulationID = regulationID
		}
		if rules[i].RegulationID != regulationID {
			return fmt.Errorf("rule %s belongs to %q: %w", rules[i].ID, rules[i].RegulationID, ErrInvalidRegulation)
		}
	}
	prev := snapshot(doc)
	r.rules[regulationID] = append(r.rules[regulationID], rules...)
	doc.RulesCount = len(r.rules[regulationID])
	doc.IngestionStatus = models.IngestionComplete
	doc.IngestionDate = r.now().Format("2006-01-02")
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRulesExtracted,
		RegulationID:  regulationID,
		Description:   fmt.Sprintf("%d rule(s) extracted for %s", len(rules), regulationID),
		Actor:         actor,
		PreviousState: prev,
	})
	return nil
}

// SyncRules reconciles a regulation's rules with an externally declared
// set, keyed by rule id: unknown rules are appended, known rules whose
// definition changed are replaced. The registry's enabled flag wins for
// replaced rules so operator toggles survive re-ingestion. A sync that
// changes nothing records no event.
func (r *Registry) SyncRules(regulationID string, rules []models.DeclarativeRule, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.regulations[regulationID]
	if !ok {
		return fmt.Errorf("sync rules for %q: %w", regulationID, ErrRegulationNotFound)
	}
	for i := range rules {
		if rules[i].RegulationID == "" {
			rules[i].RegulationID = regulationID
		}
		if rules[i].RegulationID != regulationID {
			return fmt.Errorf("rule %s belongs to %q: %w", rules[i].ID, rules[i].RegulationID, ErrInvalidRegulation)
		}
	}
	held := r.rules[regulationID]
	index := make(map[string]int, len(held))
	for i, rule := range held {
		index[rule.ID] = i
	}
	added, replaced := 0, 0
	for _, rule := range rules {
		i, known := index[rule.ID]
		if !known {
			held = append(held, rule)
			index[rule.ID] = len(held) - 1
			added++
			continue
		}
		rule.Enabled = held[i].Enabled
		if reflect.DeepEqual(held[i], rule) {
			continue
		}
		held[i] = rule
		replaced++
	}
	if added == 0 && replaced == 0 {
		return nil
	}
	prev := snapshot(doc)
	r.rules[regulationID] = held
	doc.RulesCount = len(held)
	doc.IngestionStatus = models.IngestionComplete
	doc.IngestionDate = r.now().Format("2006-01-02")
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRulesExtracted,
		RegulationID:  regulationID,
		Description:   fmt.Sprintf("%d rule(s) added, %d replaced for %s", added, replaced, regulationID),
		Actor:         actor,
		PreviousState: prev,
	})
	return nil
}

// VerifyRules marks a regulation's extracted rules as human-verified.
func (r *Registry) VerifyRules(regulationID, verifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.regulations[regulationID]
	if !ok {
		return fmt.Errorf("verify rules for %q: %w", regulationID, ErrRegulationNotFound)
	}
	prev := snapshot(doc)
	doc.IngestionStatus = models.IngestionVerified
	doc.VerifiedBy = verifier
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRulesVerified,
		RegulationID:  regulationID,
		Description:   fmt.Sprintf("rules of %s verified", regulationID),
		Actor:         verifier,
		PreviousState: prev,
	})
	return nil
}

// AmendRegulation registers an amendment. The original stays applicable
// with status amended; the amendment becomes active.
func (r *Registry) AmendRegulation(originalID string, amendment models.RegulationDocument, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	original, ok := r.regulations[originalID]
	if !ok {
		return fmt.Errorf("amend %q: %w", originalID, ErrRegulationNotFound)
	}
	if amendment.ID == originalID {
		return ErrSelfReference
	}
	amendment.Status = models.StatusActive
	amendment.Amends = append([]string{originalID}, amendment.Amends...)
	if err := r.insertLocked(amendment); err != nil {
		return err
	}
	prev := snapshot(original)
	original.Status = models.StatusAmended
	original.AmendedBy = append(original.AmendedBy, amendment.ID)
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRegulationAmended,
		RegulationID:  originalID,
		Description:   fmt.Sprintf("regulation %s amended by %s", originalID, amendment.ID),
		Actor:         actor,
		PreviousState: prev,
	})
	r.appendEventLocked(models.RegistryEvent{
		Type:         models.EventAmendmentAdded,
		RegulationID: amendment.ID,
		Description:  fmt.Sprintf("amendment %s to %s registered", amendment.ID, originalID),
		Actor:        actor,
	})
	return nil
}

// SupersedeRegulation replaces a document. The old one becomes
// terminal; its revocation date is the replacement's effective date.
func (r *Registry) SupersedeRegulation(oldID string, replacement models.RegulationDocument, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.regulations[oldID]
	if !ok {
		return fmt.Errorf("supersede %q: %w", oldID, ErrRegulationNotFound)
	}
	if replacement.ID == oldID {
		return ErrSelfReference
	}
	replacement.Status = models.StatusActive
	if err := r.insertLocked(replacement); err != nil {
		return err
	}
	prev := snapshot(old)
	old.Status = models.StatusSuperseded
	old.SupersededBy = replacement.ID
	old.RevocationDate = replacement.EffectiveDate
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRegulationSuperseded,
		RegulationID:  oldID,
		Description:   fmt.Sprintf("regulation %s superseded by %s", oldID, replacement.ID),
		Actor:         actor,
		PreviousState: prev,
	})
	r.appendEventLocked(models.RegistryEvent{
		Type:         models.EventRegulationAdded,
		RegulationID: replacement.ID,
		Description:  fmt.Sprintf("regulation %s (%s) registered", replacement.ID, replacement.ShortRef),
		Actor:        actor,
	})
	return nil
}

// RevokeRegulation retires a document with no replacement.
func (r *Registry) RevokeRegulation(id, date, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.regulations[id]
	if !ok {
		return fmt.Errorf("revoke %q: %w", id, ErrRegulationNotFound)
	}
	prev := snapshot(doc)
	doc.Status = models.StatusRevoked
	doc.RevocationDate = date
	r.appendEventLocked(models.RegistryEvent{
		Type:          models.EventRegulationRevoked,
		RegulationID:  id,
		Description:   fmt.Sprintf("regulation %s revoked effective %s", id, date),
		Actor:         actor,
		PreviousState: prev,
	})
	return nil
}

// SetRuleEnabled toggles a rule without removing it.
func (r *Registry) SetRuleEnabled(regulationID, ruleID string, enabled bool, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.regulations[regulationID]; !ok {
		return fmt.Errorf("toggle rule in %q: %w", regulationID, ErrRegulationNotFound)
	}
	rules := r.rules[regulationID]
	for i := range rules {
		if rules[i].ID != ruleID {
			continue
		}
		rules[i].Enabled = enabled
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		r.appendEventLocked(models.RegistryEvent{
			Type:         models.EventRuleToggled,
			RegulationID: regulationID,
			Description:  fmt.Sprintf("rule %s %s", ruleID, state),
			Actor:        actor,
		})
		return nil
	}
	return fmt.Errorf("rule %q in %q: %w", ruleID, regulationID, ErrRuleNotFound)
}

// Regulation returns a copy of one document.
func (r *Registry) Regulation(id string) (models.RegulationDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.regulations[id]
	if !ok {
		return models.RegulationDocument{}, fmt.Errorf("regulation %q: %w", id, ErrRegulationNotFound)
	}
	return *doc, nil
}

// Regulations lists all documents in registration order.
func (r *Registry) Regulations() []models.RegulationDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.RegulationDocument, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.regulations[id])
	}
	return out
}

// ActiveRegulations lists documents with status active.
func (r *Registry) ActiveRegulations() []models.RegulationDocument {
	return r.filter(func(d *models.RegulationDocument) bool { return d.Status == models.StatusActive })
}

// ApplicableRegulations lists documents still contributing rules
// (active or amended). This is what the rule engine consumes.
func (r *Registry) ApplicableRegulations() []models.RegulationDocument {
	return r.filter(func(d *models.RegulationDocument) bool { return d.Status.Applicable() })
}

func (r *Registry) filter(keep func(*models.RegulationDocument) bool) []models.RegulationDocument {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RegulationDocument
	for _, id := range r.order {
		if doc := r.regulations[id]; keep(doc) {
			out = append(out, *doc)
		}
	}
	return out
}

// ActiveRules returns enabled rules whose regulation is applicable.
func (r *Registry) ActiveRules() []models.DeclarativeRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.DeclarativeRule
	for _, id := range r.order {
		if !r.regulations[id].Status.Applicable() {
			continue
		}
		for _, rule := range r.rules[id] {
			if rule.Enabled {
				out = append(out, rule)
			}
		}
	}
	return out
}

// Rules returns all rules of one regulation, enabled or not.
func (r *Registry) Rules(regulationID string) ([]models.DeclarativeRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.regulations[regulationID]; !ok {
		return nil, fmt.Errorf("rules of %q: %w", regulationID, ErrRegulationNotFound)
	}
	return append([]models.DeclarativeRule(nil), r.rules[regulationID]...), nil
}

// LifecycleChain walks one hop backward through amends, then the
// document itself, then one hop forward through amendedBy and
// supersededBy. Multi-generation chains are deliberately not resolved.
func (r *Registry) LifecycleChain(id string) ([]models.RegulationDocument, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.regulations[id]
	if !ok {
		return nil, fmt.Errorf("lifecycle chain of %q: %w", id, ErrRegulationNotFound)
	}
	var chain []models.RegulationDocument
	seen := map[string]bool{id: true}
	appendDoc := func(refID string) {
		if refID == "" || seen[refID] {
			return
		}
		if ref, ok := r.regulations[refID]; ok {
			chain = append(chain, *ref)
			seen[refID] = true
		}
	}
	for _, ref := range doc.Amends {
		appendDoc(ref)
	}
	chain = append(chain, *doc)
	for _, ref := range doc.AmendedBy {
		appendDoc(ref)
	}
	appendDoc(doc.SupersededBy)
	return chain, nil
}

// CoverageReport measures rule-extraction completeness over the
// applicable regulation set.
func (r *Registry) CoverageReport() models.CoverageReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rep := models.CoverageReport{TotalRegulations: len(r.order)}
	for _, id := range r.order {
		doc := r.regulations[id]
		rep.TotalRules += len(r.rules[id])
		if !doc.Status.Applicable() {
			continue
		}
		rep.ApplicableRegulations++
		switch doc.IngestionStatus {
		case models.IngestionVerified:
			rep.VerifiedExtractions++
			rep.CompleteExtractions++
		case models.IngestionComplete:
			rep.CompleteExtractions++
		}
	}
	if rep.ApplicableRegulations > 0 {
		rep.CoverageRatio = float64(rep.CompleteExtractions) / float64(rep.ApplicableRegulations)
	}
	return rep
}

// ConsistencyWarnings reports applicable regulations whose declared
// rules_count disagrees with the rules actually held for them. The
// mismatch is non-fatal; callers surface it alongside evaluation
// warnings.
func (r *Registry) ConsistencyWarnings() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, id := range r.order {
		doc := r.regulations[id]
		if !doc.Status.Applicable() {
			continue
		}
		if held := len(r.rules[id]); doc.RulesCount != held {
			out = append(out, fmt.Sprintf("regulation %s declares %d rule(s) but holds %d", id, doc.RulesCount, held))
		}
	}
	return out
}

// Events returns the full audit trail in sequence order.
func (r *Registry) Events() []models.RegistryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.RegistryEvent(nil), r.events...)
}

// EventsByRegulation returns a filtered read-only view of the trail.
func (r *Registry) EventsByRegulation(regulationID string) []models.RegistryEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.RegistryEvent
	for _, ev := range r.events {
		if ev.RegulationID == regulationID {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Registry) insertLocked(doc models.RegulationDocument) error {
	if doc.ID == "" {
		return fmt.Errorf("empty regulation id: %w", ErrInvalidRegulation)
	}
	if _, exists := r.regulations[doc.ID]; exists {
		return fmt.Errorf("regulation %q: %w", doc.ID, ErrRegulationExists)
	}
	if doc.Status == "" {
		doc.Status = models.StatusActive
	}
	if !models.ValidStatus(doc.Status) {
		return fmt.Errorf("regulation %q status %q: %w", doc.ID, doc.Status, ErrInvalidRegulation)
	}
	if doc.IngestionStatus == "" {
		doc.IngestionStatus = models.IngestionPending
	}
	r.regulations[doc.ID] = &doc
	r.order = append(r.order, doc.ID)
	return nil
}

func (r *Registry) appendEventLocked(ev models.RegistryEvent) {
	r.seq++
	ev.Seq = r.seq
	ev.ID = uuid.NewString()
	ev.Timestamp = r.now()
	r.events = append(r.events, ev)
	for _, sink := range r.sinks {
		if err := sink.Append(context.Background(), ev); err != nil {
			log.Printf("registry: event sink append seq=%d: %v", ev.Seq, err)
		}
	}
}

func snapshot(doc *models.RegulationDocument) *models.RegulationSnapshot {
	return &models.RegulationSnapshot{
		Status:          doc.Status,
		IngestionStatus: doc.IngestionStatus,
		RevocationDate:  doc.RevocationDate,
		SupersededBy:    doc.SupersededBy,
		RulesCount:      doc.RulesCount,
	}
}
