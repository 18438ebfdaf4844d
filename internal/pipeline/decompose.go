package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prdflow/prdflow/internal/agent"
	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/fsx"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/session"
)

// OverviewName is the decomposition overview's file name under the
// session's architecture directory.
const OverviewName = "decomposition.md"

// Decomposer turns a session's PRD into a populated backlog registry.
type Decomposer interface {
	Decompose(ctx context.Context, sess *session.Session) (*backlog.Registry, error)

	// Source names where the backlog came from, for events and the
	// decomposition overview.
	Source() string
}

// AgentDecomposer prompts the subtask runtime with a synthetic
// decomposition item and parses the backlog out of its response.
type AgentDecomposer struct {
	runtime agent.Runtime
	log     *logging.Logger
}

// NewAgentDecomposer returns a decomposer backed by the given runtime.
func NewAgentDecomposer(runtime agent.Runtime, logger *logging.Logger) *AgentDecomposer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &AgentDecomposer{runtime: runtime, log: logger}
}

// Source implements Decomposer.
func (d *AgentDecomposer) Source() string { return "agent" }

// Decompose implements Decomposer. The runtime reads the PRD snapshot and
// must answer with the full backlog wrapped in <backlog></backlog> tags.
func (d *AgentDecomposer) Decompose(ctx context.Context, sess *session.Session) (*backlog.Registry, error) {
	item := decompositionItem(sess)
	d.log.Info("decomposing PRD", "session", sess.ID)

	res, err := d.runtime.Execute(ctx, item, agent.SessionContext{
		SessionID:   sess.ID,
		SessionPath: sess.Path,
		PRDPath:     sess.SnapshotPath(),
	})
	if err != nil {
		return nil, err
	}
	if res == nil || !res.Success {
		return nil, errors.NewAgentError("decomposition runtime reported failure", nil).
			WithCode(errors.CodeAgentFailed).
			WithOperation("decompose")
	}

	reg, err := backlog.ParseBacklogFromOutput(res.Output)
	if err != nil {
		return nil, errors.NewAgentError("decomposition output carried no usable backlog", err).
			WithCode(errors.CodeBadResponse).
			WithOperation("decompose")
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// decompositionItem builds the synthetic item handed to the runtime for
// the decomposition prompt. It is never added to the registry.
func decompositionItem(sess *session.Session) *backlog.Item {
	return &backlog.Item{
		ID:     "decompose",
		Title:  "Decompose the PRD into a backlog",
		Level:  backlog.LevelSubtask,
		Status: backlog.StatusPlanned,
		ContextScope: map[string]any{
			"instructions": "Read the PRD snapshot and emit the complete " +
				"phase/milestone/task/subtask backlog as JSON wrapped in " +
				"<backlog></backlog> tags.",
			"session": sess.ID,
		},
	}
}

// FileDecomposer loads a prepared backlog JSON file instead of asking the
// runtime, for offline runs and tests.
type FileDecomposer struct {
	Path string
}

// Source implements Decomposer.
func (d FileDecomposer) Source() string { return "file" }

// Decompose implements Decomposer.
func (d FileDecomposer) Decompose(ctx context.Context, sess *session.Session) (*backlog.Registry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reg, err := backlog.LoadFile(d.Path)
	if err != nil {
		return nil, errors.NewValidationError(
			fmt.Sprintf("failed to load backlog file %s", d.Path), err).
			WithCode(errors.CodeInvalidInput).
			WithOperation("decompose")
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}

// writeOverview renders the decomposed tree to
// architecture/decomposition.md.
func writeOverview(sess *session.Session, source string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Decomposition\n\n")
	fmt.Fprintf(&b, "Session %s, decomposed from %s.\n\n", sess.ID, source)

	sess.Registry.Walk(func(it *backlog.Item, parent *backlog.Item) bool {
		fmt.Fprintf(&b, "%s- **%s** %s", strings.Repeat("  ", depthOf(it.Level)), it.ID, it.Title)
		if len(it.DependsOn) > 0 {
			fmt.Fprintf(&b, " (depends on %s)", strings.Join(it.DependsOn, ", "))
		}
		b.WriteString("\n")
		return true
	})

	path := filepath.Join(sess.ArchitectureDir(), OverviewName)
	return fsx.AtomicWrite(path, []byte(b.String()), 0o644)
}

// writeBriefs writes one prps/{leaf id}.md per subtask. The brief restates
// what the runtime receives on stdin, in a form a human can review.
func writeBriefs(sess *session.Session) error {
	for _, leaf := range sess.Registry.Leaves() {
		var b strings.Builder
		fmt.Fprintf(&b, "# %s\n\n%s\n", leaf.ID, leaf.Title)
		if len(leaf.DependsOn) > 0 {
			fmt.Fprintf(&b, "\nDepends on: %s\n", strings.Join(leaf.DependsOn, ", "))
		}
		for _, key := range sortedKeys(leaf.ContextScope) {
			fmt.Fprintf(&b, "\n- %s: %v\n", key, leaf.ContextScope[key])
		}

		path := filepath.Join(sess.PRPsDir(), leaf.ID+".md")
		if err := fsx.AtomicWrite(path, []byte(b.String()), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func depthOf(l backlog.Level) int {
	switch l {
	case backlog.LevelPhase:
		return 0
	case backlog.LevelMilestone:
		return 1
	case backlog.LevelTask:
		return 2
	default:
		return 3
	}
}
