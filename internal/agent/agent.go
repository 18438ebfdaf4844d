// Package agent invokes the external subtask runtime: one process per
// subtask, the item brief on stdin, a tagged result block on stdout. The
// runtime is the pipeline's slowest collaborator, so invocations are rate
// limited and bounded by a per-call timeout, and every transcript is kept
// under the session's artifacts directory for later inspection.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/fsx"
	"github.com/prdflow/prdflow/internal/logging"
)

// SessionContext identifies the session a subtask executes within.
type SessionContext struct {
	SessionID   string `json:"session_id"`
	SessionPath string `json:"session_path"`
	PRDPath     string `json:"prd_path"`
}

// Result is the runtime's report for one subtask. A well-formed "it did not
// work" response is a Result with Success false, not an error; errors are
// reserved for invocations that produced no usable report at all.
type Result struct {
	Success      bool   `json:"success"`
	FilesChanged bool   `json:"files_changed"`
	Output       string `json:"-"`
}

// Runtime executes one subtask and reports the outcome.
type Runtime interface {
	Execute(ctx context.Context, item *backlog.Item, sc SessionContext) (*Result, error)
}

// brief is the JSON document written to the agent's stdin.
type brief struct {
	ItemID       string         `json:"item_id"`
	Title        string         `json:"title"`
	Level        string         `json:"level"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	ContextScope map[string]any `json:"context_scope,omitempty"`
	SessionContext
}

// resultTagRe matches the JSON payload the agent wraps in
// <result></result> tags at the end of its output.
var resultTagRe = regexp.MustCompile(`(?s)<result>\s*(.*?)\s*</result>`)

// Options configure the CLI runtime.
type Options struct {
	// Command is the agent executable. Must resolve on PATH or be an
	// absolute path.
	Command string

	// Args are passed to every invocation before the brief is written to
	// stdin.
	Args []string

	// Timeout bounds one invocation. Zero means no deadline.
	Timeout time.Duration

	// RequestsPerMinute throttles invocations across the whole run. Zero
	// means unthrottled.
	RequestsPerMinute float64

	// Burst is the limiter burst size. Defaults to 1 when throttled.
	Burst int
}

// CLIRuntime runs a configured command per subtask.
type CLIRuntime struct {
	opts    Options
	limiter *rate.Limiter
	logger  *logging.Logger
}

// NewCLIRuntime verifies the agent command resolves and returns a runtime.
// A missing command is an environment error: no subsequent call could
// succeed, so the pipeline must not start.
func NewCLIRuntime(opts Options, logger *logging.Logger) (*CLIRuntime, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if opts.Command == "" {
		return nil, errors.NewEnvironmentError("no agent command configured", nil).
			WithCode(errors.CodeAgentUnavailable)
	}
	if _, err := exec.LookPath(opts.Command); err != nil {
		return nil, errors.NewEnvironmentError(
			fmt.Sprintf("agent command %q not found", opts.Command), err).
			WithCode(errors.CodeAgentUnavailable)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerMinute > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60), burst)
	}

	return &CLIRuntime{opts: opts, limiter: limiter, logger: logger}, nil
}

// Execute spawns the agent for one subtask. The item brief goes to stdin as
// JSON; stdout must end with a <result>{"success":...,"files_changed":...}</result>
// block. The full transcript is written to the session's artifacts
// directory regardless of outcome.
func (r *CLIRuntime) Execute(ctx context.Context, item *backlog.Item, sc SessionContext) (*Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	input, err := json.MarshalIndent(brief{
		ItemID:         item.ID,
		Title:          item.Title,
		Level:          string(item.Level),
		DependsOn:      item.DependsOn,
		ContextScope:   item.ContextScope,
		SessionContext: sc,
	}, "", "  ")
	if err != nil {
		return nil, errors.NewAgentError("failed to encode item brief", err).
			WithCode(errors.CodeBadResponse).
			WithItem(item.ID)
	}

	runCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	started := time.Now()
	r.logger.Info("agent started", "item_id", item.ID, "command", r.opts.Command)

	cmd := exec.CommandContext(runCtx, r.opts.Command, r.opts.Args...)
	cmd.Stdin = bytes.NewReader(input)
	output, runErr := cmd.CombinedOutput()

	r.writeTranscript(sc, item.ID, input, output)

	if runErr != nil {
		if ctx.Err() != nil {
			// The caller's context ended; let the orchestrator classify
			// the cancellation.
			return nil, ctx.Err()
		}
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.NewAgentError(
				fmt.Sprintf("agent timed out after %s", r.opts.Timeout), runErr).
				WithCode(errors.CodeAgentTimeout).
				WithItem(item.ID)
		}
		return nil, errors.NewAgentError("agent command failed", runErr).
			WithCode(errors.CodeAgentFailed).
			WithItem(item.ID).
			WithContext("output", tail(string(output), 500))
	}

	result, err := parseResult(string(output))
	if err != nil {
		return nil, errors.NewAgentError("agent output has no usable result block", err).
			WithCode(errors.CodeBadResponse).
			WithItem(item.ID).
			WithContext("output", tail(string(output), 500))
	}

	r.logger.Info("agent finished",
		"item_id", item.ID,
		"success", result.Success,
		"files_changed", result.FilesChanged,
		"duration", time.Since(started).Round(time.Millisecond).String(),
	)
	return result, nil
}

// writeTranscript records the exchange under artifacts/. Best-effort: a
// transcript failure is logged, never surfaced.
func (r *CLIRuntime) writeTranscript(sc SessionContext, itemID string, input, output []byte) {
	if sc.SessionPath == "" {
		return
	}
	var buf bytes.Buffer
	buf.WriteString("--- brief ---\n")
	buf.Write(input)
	buf.WriteString("\n--- output ---\n")
	buf.Write(output)

	path := filepath.Join(sc.SessionPath, "artifacts", "agent_"+itemID+".log")
	if err := fsx.AtomicWrite(path, buf.Bytes(), 0o644); err != nil {
		r.logger.Warn("failed to write agent transcript", "item_id", itemID, "error", err)
	}
}

// parseResult extracts the last result block from agent output.
func parseResult(output string) (*Result, error) {
	matches := resultTagRe.FindAllStringSubmatch(output, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no <result> block in output")
	}
	payload := matches[len(matches)-1][1]

	var result Result
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("failed to parse result block: %w", err)
	}
	result.Output = output
	return &result, nil
}

// tail returns the last n bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
