package backlog

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// flexibleItem tolerates the alternative field names decomposers tend to
// produce: "depends" for "depends_on", "context" for "context_scope", and
// "name" for "title".
type flexibleItem struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Name         string          `json:"name"`
	Level        Level           `json:"level"`
	Status       Status          `json:"status"`
	DependsOn    []string        `json:"depends_on"`
	Depends      []string        `json:"depends"`
	ContextScope map[string]any  `json:"context_scope"`
	Context      map[string]any  `json:"context"`
	Children     []*flexibleItem `json:"children"`
}

// levelForDepth maps tree depth to the expected level, used when a
// decomposer omits level fields entirely.
var levelForDepth = []Level{LevelPhase, LevelMilestone, LevelTask, LevelSubtask}

// normalize converts a flexible item tree into the canonical form, filling
// defaults for omitted fields.
func (fi *flexibleItem) normalize(depth int) *Item {
	title := fi.Title
	if title == "" {
		title = fi.Name
	}

	level := fi.Level
	if level == "" && depth < len(levelForDepth) {
		level = levelForDepth[depth]
	}

	status := fi.Status
	if status == "" {
		status = StatusPlanned
	}

	deps := fi.DependsOn
	if len(deps) == 0 && len(fi.Depends) > 0 {
		deps = fi.Depends
	}

	scope := fi.ContextScope
	if scope == nil && fi.Context != nil {
		scope = fi.Context
	}

	item := &Item{
		ID:           fi.ID,
		Title:        title,
		Level:        level,
		Status:       status,
		DependsOn:    deps,
		ContextScope: scope,
	}
	for _, child := range fi.Children {
		item.Children = append(item.Children, child.normalize(depth+1))
	}
	return item
}

// Encode serializes the registry as indented UTF-8 JSON in the persisted
// {"backlog":[...]} shape. A nil backlog encodes as an empty array.
func (r *Registry) Encode() ([]byte, error) {
	if r.Backlog == nil {
		r.Backlog = []*Item{}
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backlog: %w", err)
	}
	return data, nil
}

// Decode parses registry JSON. It accepts the canonical {"backlog":[...]}
// shape as well as a bare top-level array, and tolerates the field aliases
// handled by normalize. Items with an empty status default to planned.
func Decode(data []byte) (*Registry, error) {
	var wrapped struct {
		Backlog []*flexibleItem `json:"backlog"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		// Fall back to a bare array of items.
		var bare []*flexibleItem
		if arrErr := json.Unmarshal(data, &bare); arrErr != nil {
			return nil, fmt.Errorf("failed to parse backlog JSON: %w", err)
		}
		wrapped.Backlog = bare
	}

	reg := NewRegistry()
	for _, fi := range wrapped.Backlog {
		reg.Backlog = append(reg.Backlog, fi.normalize(0))
	}
	return reg, nil
}

// backlogTagRe matches the JSON payload a decomposing agent wraps in
// <backlog></backlog> tags.
var backlogTagRe = regexp.MustCompile(`(?s)<backlog>\s*(.*?)\s*</backlog>`)

// ParseBacklogFromOutput extracts a registry from agent output. It looks for
// JSON wrapped in <backlog></backlog> tags.
func ParseBacklogFromOutput(output string) (*Registry, error) {
	matches := backlogTagRe.FindStringSubmatch(output)
	if len(matches) < 2 {
		return nil, fmt.Errorf("no backlog found in output (expected <backlog>JSON</backlog>)")
	}

	jsonStr := strings.TrimSpace(matches[1])
	reg, err := Decode([]byte(jsonStr))
	if err != nil {
		return nil, err
	}
	if len(reg.Backlog) == 0 {
		return nil, ErrEmptyBacklog
	}
	return reg, nil
}

// LoadFile reads and parses a backlog JSON file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog file: %w", err)
	}
	reg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(reg.Backlog) == 0 {
		return nil, ErrEmptyBacklog
	}
	return reg, nil
}
