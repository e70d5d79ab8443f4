package registry

import (
	"encoding/json"
	"fmt"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// Snapshot is the registry's sole serialization boundary. Persistence
// of the snapshot itself belongs to an external layer.
type Snapshot struct {
	Regulations []models.RegulationDocument         `json:"regulations"`
	Rules       map[string][]models.DeclarativeRule `json:"rules"`
	Events      []models.RegistryEvent              `json:"events"`
	Seq         int64                               `json:"seq"`
}

// Export copies the full registry state.
func (r *Registry) Export() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		Regulations: make([]models.RegulationDocument, 0, len(r.order)),
		Rules:       make(map[string][]models.DeclarativeRule, len(r.rules)),
		Events:      append([]models.RegistryEvent(nil), r.events...),
		Seq:         r.seq,
	}
	for _, id := range r.order {
		snap.Regulations = append(snap.Regulations, *r.regulations[id])
	}
	for id, rules := range r.rules {
		snap.Rules[id] = append([]models.DeclarativeRule(nil), rules...)
	}
	return snap
}

// Import replaces the registry state with a previously exported
// snapshot. Import(Export()) is an exact round trip; no event is
// recorded for the restore itself.
func (r *Registry) Import(snap Snapshot) error {
	regulations := make(map[string]*models.RegulationDocument, len(snap.Regulations))
	order := make([]string, 0, len(snap.Regulations))
	for i := range snap.Regulations {
		doc := snap.Regulations[i]
		if doc.ID == "" {
			return fmt.Errorf("import: regulation %d: %w", i, ErrInvalidRegulation)
		}
		if _, dup := regulations[doc.ID]; dup {
			return fmt.Errorf("import: regulation %q: %w", doc.ID, ErrRegulationExists)
		}
		if !models.ValidStatus(doc.Status) {
			return fmt.Errorf("import: regulation %q status %q: %w", doc.ID, doc.Status, ErrInvalidRegulation)
		}
		regulations[doc.ID] = &doc
		order = append(order, doc.ID)
	}
	rules := make(map[string][]models.DeclarativeRule, len(snap.Rules))
	for id, list := range snap.Rules {
		if _, ok := regulations[id]; !ok {
			return fmt.Errorf("import: rules reference %q: %w", id, ErrRegulationNotFound)
		}
		rules[id] = append([]models.DeclarativeRule(nil), list...)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regulations = regulations
	r.order = order
	r.rules = rules
	r.events = append([]models.RegistryEvent(nil), snap.Events...)
	r.seq = snap.Seq
	return nil
}

// MarshalSnapshot renders a snapshot as JSON for the export endpoint.
func MarshalSnapshot(snap Snapshot) ([]byte, error) {
	return json.Marshal(snap)
}

// UnmarshalSnapshot parses snapshot JSON.
func UnmarshalSnapshot(raw []byte) (Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("parse registry snapshot: %w", err)
	}
	return snap, nil
}
