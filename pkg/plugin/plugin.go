// Package plugin assembles specialty plugins (one discipline's
// regulations, rules, lookup tables and computed fields) into an
// immutable catalog. The catalog is rebuilt and atomically swapped on
// every registration, so in-flight evaluations keep a consistent
// snapshot.
package plugin

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// Catalog is one consistent snapshot of every registered plugin.
// Dynamic plugins replace built-in plugins sharing the same id.
type Catalog struct {
	Version        int64
	Plugins        []models.SpecialtyPlugin
	Tables         map[string]models.LookupTable
	ComputedFields []models.ComputedField
}

// Store holds built-in and dynamically registered plugins and publishes
// the merged catalog behind an atomic pointer.
type Store struct {
	mu           sync.Mutex
	builtin      map[string]models.SpecialtyPlugin
	builtinOrder []string
	dynamic      map[string]models.SpecialtyPlugin
	dynamicOrder []string
	version      int64
	catalog      atomic.Pointer[Catalog]
}

func NewStore() *Store {
	s := &Store{
		builtin: map[string]models.SpecialtyPlugin{},
		dynamic: map[string]models.SpecialtyPlugin{},
	}
	s.catalog.Store(&Catalog{Tables: map[string]models.LookupTable{}})
	return s
}

// RegisterBuiltin adds a compiled-in plugin. Same-id registration
// replaces the previous one.
func (s *Store) RegisterBuiltin(p models.SpecialtyPlugin) error {
	if errs := Validate("", p); len(errs) > 0 {
		return fmt.Errorf("plugin %q rejected: %s", p.ID, errs[0].Message)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.builtin[p.ID]; !exists {
		s.builtinOrder = append(s.builtinOrder, p.ID)
	}
	s.builtin[p.ID] = p
	s.rebuildLocked()
	return nil
}

// RegisterDynamic adds a runtime plugin. Dynamic plugins shadow
// built-in plugins with the same id; last registration wins.
func (s *Store) RegisterDynamic(p models.SpecialtyPlugin) error {
	if errs := Validate("", p); len(errs) > 0 {
		return fmt.Errorf("plugin %q rejected: %s", p.ID, errs[0].Message)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dynamic[p.ID]; !exists {
		s.dynamicOrder = append(s.dynamicOrder, p.ID)
	}
	s.dynamic[p.ID] = p
	s.rebuildLocked()
	return nil
}

// MergeRules appends a newly ingested regulation and its rules into an
// existing plugin without reconstructing it.
func (s *Store) MergeRules(pluginID string, regulation models.RegulationDocument, rules []models.DeclarativeRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, dynamic := s.dynamic[pluginID]
	if !dynamic {
		var ok bool
		p, ok = s.builtin[pluginID]
		if !ok {
			return fmt.Errorf("plugin %q not registered", pluginID)
		}
	}
	for i := range rules {
		if rules[i].RegulationID == "" {
			rules[i].RegulationID = regulation.ID
		}
	}
	exists := false
	for _, reg := range p.Regulations {
		if reg.ID == regulation.ID {
			exists = true
			break
		}
	}
	if !exists {
		p.Regulations = append(append([]models.RegulationDocument(nil), p.Regulations...), regulation)
	}
	p.Rules = append(append([]models.DeclarativeRule(nil), p.Rules...), rules...)
	if dynamic {
		s.dynamic[pluginID] = p
	} else {
		s.builtin[pluginID] = p
	}
	s.rebuildLocked()
	return nil
}

// Catalog returns the current snapshot. The returned value is immutable
// by convention; callers must not modify it.
func (s *Store) Catalog() *Catalog {
	return s.catalog.Load()
}

func (s *Store) rebuildLocked() {
	s.version++
	cat := &Catalog{
		Version: s.version,
		Tables:  map[string]models.LookupTable{},
	}
	for _, id := range s.builtinOrder {
		if _, shadowed := s.dynamic[id]; shadowed {
			continue
		}
		appendPlugin(cat, s.builtin[id])
	}
	for _, id := range s.dynamicOrder {
		appendPlugin(cat, s.dynamic[id])
	}
	s.catalog.Store(cat)
}

func appendPlugin(cat *Catalog, p models.SpecialtyPlugin) {
	cat.Plugins = append(cat.Plugins, p)
	for _, table := range p.LookupTables {
		cat.Tables[table.ID] = table
	}
	cat.ComputedFields = append(cat.ComputedFields, p.ComputedFields...)
}

// RuleSetFor flattens rules from the selected plugins (all when ids is
// empty), keeping only the given rule filter.
func (c *Catalog) RuleSetFor(ids []string, keep func(models.DeclarativeRule) bool) []models.DeclarativeRule {
	selected := map[string]bool{}
	for _, id := range ids {
		selected[id] = true
	}
	var out []models.DeclarativeRule
	for _, p := range c.Plugins {
		if len(selected) > 0 && !selected[p.ID] {
			continue
		}
		for _, rule := range p.Rules {
			if keep == nil || keep(rule) {
				out = append(out, rule)
			}
		}
	}
	return out
}

// Regulations flattens every plugin's regulation documents.
func (c *Catalog) Regulations() []models.RegulationDocument {
	var out []models.RegulationDocument
	for _, p := range c.Plugins {
		out = append(out, p.Regulations...)
	}
	return out
}
