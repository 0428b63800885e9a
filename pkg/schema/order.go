package schema

import (
	"fmt"
	"sort"
	"strings"
)

// SortByDependency orders tables so every table comes after the tables its
// foreign keys reference. Self references and references to tables outside
// the set are ignored. Ties are broken by qualified name.
func SortByDependency(tables []*TableMetadata) ([]*TableMetadata, error) {
	byName := make(map[string]*TableMetadata, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		byName[t.QualifiedName()] = t
		names = append(names, t.QualifiedName())
	}
	sort.Strings(names)

	indegree := make(map[string]int, len(tables))
	dependents := make(map[string][]string)
	for _, name := range names {
		seen := make(map[string]bool)
		for _, fk := range byName[name].ForeignKeys {
			ref := fk.ReferencedTable
			if ref == name || seen[ref] {
				continue
			}
			if _, ok := byName[ref]; !ok {
				continue
			}
			seen[ref] = true
			indegree[name]++
			dependents[ref] = append(dependents[ref], name)
		}
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	ordered := make([]*TableMetadata, 0, len(tables))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])

		next := dependents[name]
		sort.Strings(next)
		for _, dep := range next {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
	}

	if len(ordered) != len(tables) {
		var cyclic []string
		for _, name := range names {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, fmt.Errorf("foreign key cycle between tables: %s", strings.Join(cyclic, ", "))
	}
	return ordered, nil
}
