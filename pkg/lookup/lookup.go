// Package lookup resolves N-dimensional keyed regulation tables to a
// scalar threshold. A miss is a defined outcome, not an error.
package lookup

import (
	"github.com/arkritico/wallnut-sub005/pkg/fieldpath"
	"github.com/arkritico/wallnut-sub005/pkg/models"
)

// Resolve descends table.Values one level per key in keyPaths order,
// reading the key values from project data. keyPaths defaults to the
// table's own Keys when nil. The second return is false on any miss.
func Resolve(table models.LookupTable, data map[string]any, keyPaths []string) (any, bool) {
	if len(keyPaths) == 0 {
		keyPaths = table.Keys
	}
	if len(keyPaths) == 0 || table.Values == nil {
		return nil, false
	}
	var cur any = table.Values
	for _, path := range keyPaths {
		raw, ok := fieldpath.Resolve(data, path)
		if !ok {
			return nil, false
		}
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := node[fieldpath.Key(raw)]
		if !ok {
			return nil, false
		}
		cur = next
	}
	if table.SubKey != "" {
		leaf, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := leaf[table.SubKey]
		if !ok {
			return nil, false
		}
		return v, true
	}
	// Landing on an unexhausted branch means the authored depth does
	// not match Keys; treat as a miss.
	if _, branch := cur.(map[string]any); branch {
		return nil, false
	}
	return cur, true
}
