package plugin

import (
	"errors"

	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/registry"
)

// Seed loads a catalog's regulations and rules into the registry. For
// regulations already present the held rules are reconciled with the
// catalog's set, so a dynamic plugin replacing a built-in one pushes
// its new and changed rules through to evaluation. Re-seeding an
// unchanged catalog records nothing.
func Seed(reg *registry.Registry, cat *Catalog, actor string) error {
	for _, p := range cat.Plugins {
		rulesByRegulation := map[string][]models.DeclarativeRule{}
		for _, rule := range p.Rules {
			rulesByRegulation[rule.RegulationID] = append(rulesByRegulation[rule.RegulationID], rule)
		}
		for _, doc := range p.Regulations {
			err := reg.AddRegulation(doc, actor)
			switch {
			case errors.Is(err, registry.ErrRegulationExists):
				if rules := rulesByRegulation[doc.ID]; len(rules) > 0 {
					if err := reg.SyncRules(doc.ID, rules, actor); err != nil {
						return err
					}
				}
			case err != nil:
				return err
			default:
				if rules := rulesByRegulation[doc.ID]; len(rules) > 0 {
					if err := reg.AddRules(doc.ID, rules, actor); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
