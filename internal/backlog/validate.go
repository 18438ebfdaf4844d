package backlog

import (
	"fmt"
	"strings"

	"github.com/prdflow/prdflow/internal/errors"
)

// Validate checks the registry's structural integrity: every id unique, every
// dependency resolvable, levels nested phase → milestone → task → subtask,
// no self-dependencies, and no dependency cycles among leaves. It returns a
// validation error carrying all problems found, or nil. Backlog schema
// violations are deliberately non-fatal: a broken decomposition costs the
// run, not the session.
func (r *Registry) Validate() error {
	var problems []string

	seen := make(map[string]bool)
	r.Walk(func(it *Item, parent *Item) bool {
		if it.ID == "" {
			problems = append(problems, "item with empty id")
			return true
		}
		if seen[it.ID] {
			problems = append(problems, fmt.Sprintf("duplicate item id %q", it.ID))
		}
		seen[it.ID] = true

		want := LevelPhase
		if parent != nil {
			want = ChildLevel(parent.Level)
		}
		if it.Level != want {
			problems = append(problems, fmt.Sprintf("item %q has level %q, expected %q under its parent", it.ID, it.Level, want))
		}
		if !it.IsLeaf() && len(it.Children) == 0 {
			problems = append(problems, fmt.Sprintf("item %q (%s) has no children", it.ID, it.Level))
		}
		return true
	})

	r.Walk(func(it *Item, parent *Item) bool {
		for _, dep := range it.DependsOn {
			if dep == it.ID {
				problems = append(problems, fmt.Sprintf("item %q depends on itself", it.ID))
				continue
			}
			if !seen[dep] {
				problems = append(problems, fmt.Sprintf("item %q depends on unknown item %q", it.ID, dep))
			}
		}
		return true
	})

	if cycle := r.dependencyCycle(); cycle != nil {
		problems = append(problems, fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewValidationError(
		fmt.Sprintf("backlog failed validation: %s", strings.Join(problems, "; ")), nil).
		WithCode(errors.CodeSchemaViolation).
		WithOperation("parse_backlog")
}

// dependencyCycle runs a depth-first search over the leaf dependency graph
// and returns the ids forming the first cycle found, or nil.
func (r *Registry) dependencyCycle() []string {
	leaves := r.Leaves()
	byID := make(map[string]*Item, len(leaves))
	for _, leaf := range leaves {
		byID[leaf.ID] = leaf
	}

	visited := make(map[string]bool)
	inStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(id string) []string
	dfs = func(id string) []string {
		visited[id] = true
		inStack[id] = true

		leaf, ok := byID[id]
		if !ok {
			inStack[id] = false
			return nil
		}

		for _, dep := range leaf.DependsOn {
			if !visited[dep] {
				parent[dep] = id
				if cycle := dfs(dep); cycle != nil {
					return cycle
				}
			} else if inStack[dep] {
				// Reconstruct the cycle path back to dep.
				cycle := []string{dep}
				for cur := id; cur != dep; cur = parent[cur] {
					cycle = append([]string{cur}, cycle...)
				}
				return append([]string{dep}, cycle...)
			}
		}

		inStack[id] = false
		return nil
	}

	for _, leaf := range leaves {
		if !visited[leaf.ID] {
			if cycle := dfs(leaf.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
