package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/marshallshelly/crudschemas/internal/cinema"
	"github.com/marshallshelly/crudschemas/internal/qa"
	"github.com/marshallshelly/crudschemas/internal/rental"
	"github.com/marshallshelly/crudschemas/pkg/registry"
	"github.com/marshallshelly/crudschemas/pkg/schema"
)

// domains lists the models of every schema this binary owns.
var domains = map[string]func() []any{
	qa.Schema:     qa.Models,
	cinema.Schema: cinema.Models,
	rental.Schema: rental.Models,
}

// selectedSchemas returns the --schema selection, or every schema.
func selectedSchemas(names []string) ([]string, error) {
	if len(names) == 0 {
		for name := range domains {
			names = append(names, name)
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if _, ok := domains[name]; !ok {
			return nil, fmt.Errorf("unknown schema %q (known: %s)", name, strings.Join(knownSchemas(), ", "))
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func knownSchemas() []string {
	names := make([]string, 0, len(domains))
	for name := range domains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// codeTables parses the selected schemas' models, ordered for creation.
func codeTables(names []string) ([]*schema.TableMetadata, []string, error) {
	selected, err := selectedSchemas(names)
	if err != nil {
		return nil, nil, err
	}
	r := registry.NewRegistry()
	for _, name := range selected {
		if err := r.RegisterAll(domains[name]()...); err != nil {
			return nil, nil, fmt.Errorf("schema %s: %w", name, err)
		}
	}
	tables, err := r.Ordered(selected...)
	if err != nil {
		return nil, nil, err
	}
	return tables, selected, nil
}
