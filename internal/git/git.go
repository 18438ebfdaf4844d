// Package git is the version-control collaborator for the pipeline: a
// pending-change query and a stage-everything commit, backed by the git CLI.
// The orchestrator checks for pending changes before committing so that
// subtasks which touched nothing produce no empty commits.
package git

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/prdflow/prdflow/internal/logging"
)

// Executor abstracts command execution so tests can script git's behavior
// without spawning processes.
type Executor interface {
	// Run executes a command in dir and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)
}

// CLIExecutor executes commands using os/exec.
type CLIExecutor struct{}

// Run executes a command and returns combined output.
func (e *CLIExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Client is the interface the orchestrator drives.
type Client interface {
	// HasPendingChanges reports whether the working tree has staged or
	// unstaged changes.
	HasPendingChanges() (bool, error)

	// Commit stages all changes and commits them, returning the commit
	// hash. A commit race that leaves nothing to commit returns "" with no
	// error.
	Commit(message string) (string, error)
}

// CLIClient runs git against a repository directory.
type CLIClient struct {
	dir      string
	prefix   string
	executor Executor
	logger   *logging.Logger
}

// NewCLIClient returns a client for the repository at dir. The logger may
// be nil.
func NewCLIClient(dir string, logger *logging.Logger) *CLIClient {
	return NewCLIClientWithExecutor(dir, &CLIExecutor{}, logger)
}

// NewCLIClientWithExecutor returns a client with a custom executor,
// primarily for tests.
func NewCLIClientWithExecutor(dir string, executor Executor, logger *logging.Logger) *CLIClient {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CLIClient{dir: dir, executor: executor, logger: logger}
}

// WithCommitPrefix prepends prefix to every commit subject, separated by a
// space. An empty prefix leaves messages untouched.
func (c *CLIClient) WithCommitPrefix(prefix string) *CLIClient {
	c.prefix = prefix
	return c
}

// HasPendingChanges reports whether git status shows any change.
func (c *CLIClient) HasPendingChanges() (bool, error) {
	output, err := c.executor.Run(c.dir, "git", "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}

// Commit stages and commits everything in the working tree.
func (c *CLIClient) Commit(message string) (string, error) {
	if c.prefix != "" {
		message = c.prefix + " " + message
	}

	output, err := c.executor.Run(c.dir, "git", "add", "-A")
	if err != nil {
		return "", fmt.Errorf("failed to stage changes: %w (%s)", err, strings.TrimSpace(string(output)))
	}

	output, err = c.executor.Run(c.dir, "git", "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			c.logger.Debug("commit skipped, nothing staged", "dir", c.dir)
			return "", nil
		}
		return "", fmt.Errorf("failed to commit changes: %w (%s)", err, strings.TrimSpace(string(output)))
	}

	output, err = c.executor.Run(c.dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to resolve commit hash: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	hash := strings.TrimSpace(string(output))

	c.logger.Info("changes committed", "dir", c.dir, "commit", hash)
	return hash, nil
}

// IsRepo reports whether dir is inside a git repository.
func IsRepo(dir string) bool {
	_, err := (&CLIExecutor{}).Run(dir, "git", "rev-parse", "--git-dir")
	return err == nil
}

// NopClient is a Client for runs without version control: it reports no
// pending changes and commits nothing.
type NopClient struct{}

// HasPendingChanges always reports false.
func (NopClient) HasPendingChanges() (bool, error) { return false, nil }

// Commit does nothing.
func (NopClient) Commit(message string) (string, error) { return "", nil }
