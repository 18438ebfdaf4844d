// Package session resolves a PRD to its content-addressed session directory
// under the plan root, creating one when no session exists for the
// document's hash and loading the existing one otherwise. The session
// directory is the unit of durability: the PRD snapshot, the decomposed
// task registry, agent artifacts, and the final report all live in it, and
// every post-creation write goes through the atomic-write helper so a
// crashed run never leaves a half-written file behind.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prdflow/prdflow/internal/backlog"
	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/event"
	"github.com/prdflow/prdflow/internal/fsx"
	"github.com/prdflow/prdflow/internal/logging"
	"github.com/prdflow/prdflow/internal/prd"
)

// Session is the durable state for one PRD. Its identity is the document's
// content hash: re-initializing with unchanged content yields this same
// session, while any byte change yields a new one.
type Session struct {
	// ID is the directory name, {sequence:%03d}_{hash}.
	ID string

	// Path is the absolute session directory path.
	Path string

	// Hash is the 12-character content hash embedded in the ID.
	Hash string

	// Sequence is the 1-based creation order under the plan root.
	Sequence int

	// CreatedAt is when the directory was created (directory mtime for
	// loaded sessions).
	CreatedAt time.Time

	// ParentID names the predecessor session for delta runs, or "".
	ParentID string

	// Snapshot holds the exact PRD bytes captured at creation.
	Snapshot []byte

	// Registry is the decomposed backlog. Empty until decomposition runs.
	Registry *backlog.Registry

	// CurrentItemID is the execution pointer: the leaf the orchestrator
	// should consider first. Empty for fresh sessions.
	CurrentItemID string
}

// TasksPath returns the path of the persisted task registry.
func (s *Session) TasksPath() string { return filepath.Join(s.Path, TasksFileName) }

// SnapshotPath returns the path of the PRD snapshot.
func (s *Session) SnapshotPath() string { return filepath.Join(s.Path, SnapshotFileName) }

// ArchitectureDir returns the decomposition overview directory.
func (s *Session) ArchitectureDir() string { return filepath.Join(s.Path, ArchitectureDirName) }

// PRPsDir returns the per-subtask brief directory.
func (s *Session) PRPsDir() string { return filepath.Join(s.Path, PRPsDirName) }

// ArtifactsDir returns the agent transcript and report directory.
func (s *Session) ArtifactsDir() string { return filepath.Join(s.Path, ArtifactsDirName) }

// Options control session creation.
type Options struct {
	// ParentSession links the new session to an explicit predecessor by id.
	ParentSession string

	// DeltaFromLatest links the new session to the highest-sequence
	// session already under the plan root, when one exists.
	DeltaFromLatest bool
}

// Manager creates, discovers, and persists sessions.
type Manager struct {
	logger    *logging.Logger
	bus       *event.Bus
	validator prd.Validator
}

// NewManager returns a session manager. The bus and validator may be nil; a
// nil validator skips the PRD validation step.
func NewManager(logger *logging.Logger, bus *event.Bus, validator prd.Validator) *Manager {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Manager{logger: logger, bus: bus, validator: validator}
}

// Initialize resolves the PRD at prdPath to a session under planRoot.
//
// The document is read and hashed, then validated; a validation failure
// aborts before any directory is touched, so no partial session state is
// ever left behind. The plan root is then scanned for a directory carrying
// the document's hash: a match is loaded and returned as-is, otherwise a
// new directory is created at the next sequence number with the standard
// subdirectories and a byte-identical PRD snapshot. Fresh sessions start
// with an empty registry and no tasks.json; that file first appears when
// the populated backlog is saved after decomposition.
func (m *Manager) Initialize(ctx context.Context, prdPath, planRoot string, opts Options) (*Session, error) {
	doc, err := prd.Load(prdPath)
	if err != nil {
		return nil, err
	}

	if m.validator != nil {
		res, err := m.validator.Validate(ctx, doc)
		if err != nil {
			return nil, err
		}
		if err := res.Err(doc.Path); err != nil {
			m.logger.Error("PRD validation failed",
				"path", doc.Path,
				"errors", res.Summary.ErrorCount,
				"warnings", res.Summary.WarningCount,
			)
			return nil, err
		}
		if res.Summary.WarningCount > 0 {
			m.logger.Warn("PRD validated with warnings",
				"path", doc.Path,
				"warnings", res.Summary.WarningCount,
			)
		}
	}

	existing, err := Find(planRoot, doc.SessionHash)
	if err != nil {
		return nil, errors.NewSessionError(
			fmt.Sprintf("failed to scan plan root %s", planRoot), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", planRoot)
	}
	if existing != nil {
		return m.load(existing)
	}
	return m.create(planRoot, doc, opts)
}

// Load loads an existing session by id, for resumption and inspection.
func (m *Manager) Load(planRoot, id string) (*Session, error) {
	seq, hash, ok := ParseDirName(id)
	if !ok {
		return nil, errors.NewSessionError(
			fmt.Sprintf("invalid session id %q", id), nil).
			WithCode(errors.CodeSessionLoadFailed)
	}
	path := filepath.Join(planRoot, id)
	if _, err := os.Stat(path); err != nil {
		return nil, errors.NewSessionError(
			fmt.Sprintf("session %s not found under %s", id, planRoot), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", path)
	}
	return m.load(&Info{ID: id, Sequence: seq, Hash: hash, Path: path})
}

// load reconstructs a session from its directory.
func (m *Manager) load(info *Info) (*Session, error) {
	sess := &Session{
		ID:       info.ID,
		Path:     info.Path,
		Hash:     info.Hash,
		Sequence: info.Sequence,
		Registry: backlog.NewRegistry(),
	}
	if stat, err := os.Stat(info.Path); err == nil {
		sess.CreatedAt = stat.ModTime()
	}

	snapshot, err := os.ReadFile(sess.SnapshotPath())
	if err != nil {
		return nil, errors.NewSessionError(
			fmt.Sprintf("failed to read PRD snapshot for session %s", sess.ID), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", sess.SnapshotPath())
	}
	sess.Snapshot = snapshot

	if err := m.LoadTasks(sess); err != nil {
		return nil, err
	}
	sess.CurrentItemID = deriveCurrentItem(sess.Registry)

	if parent, err := os.ReadFile(filepath.Join(sess.Path, ParentFileName)); err == nil {
		sess.ParentID = trimLine(parent)
	}

	m.logger.Info("session loaded",
		"session_id", sess.ID,
		"path", sess.Path,
		"items", sess.Registry.Len(),
		"current_item", sess.CurrentItemID,
	)
	if m.bus != nil {
		m.bus.Publish(event.NewSessionLoadedEvent(sess.ID, sess.Path, sess.Registry.Len()))
	}
	return sess, nil
}

// create builds a new session directory for the document.
func (m *Manager) create(planRoot string, doc *prd.Document, opts Options) (*Session, error) {
	parentID, err := m.resolveParent(planRoot, opts)
	if err != nil {
		return nil, err
	}

	seq, err := NextSequence(planRoot)
	if err != nil {
		return nil, errors.NewSessionError(
			fmt.Sprintf("failed to scan plan root %s", planRoot), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", planRoot)
	}

	sess := &Session{
		ID:        DirName(seq, doc.SessionHash),
		Hash:      doc.SessionHash,
		Sequence:  seq,
		CreatedAt: time.Now(),
		ParentID:  parentID,
		Snapshot:  doc.Content,
		Registry:  backlog.NewRegistry(),
	}
	sess.Path = filepath.Join(planRoot, sess.ID)

	for _, dir := range []string{
		sess.Path,
		sess.ArchitectureDir(),
		sess.PRPsDir(),
		sess.ArtifactsDir(),
	} {
		if err := fsx.EnsureDir(dir, 0o755); err != nil {
			return nil, errors.NewSessionError(
				fmt.Sprintf("failed to create session directory %s", dir), err).
				WithCode(errors.CodeSessionSaveFailed).
				WithContext("path", dir)
		}
	}

	if err := fsx.AtomicWrite(sess.SnapshotPath(), doc.Content, 0o644); err != nil {
		return nil, errors.NewSessionError(
			"failed to write PRD snapshot", err).
			WithCode(errors.CodeSessionSaveFailed).
			WithContext("path", sess.SnapshotPath())
	}

	if parentID != "" {
		parentPath := filepath.Join(sess.Path, ParentFileName)
		if err := fsx.AtomicWrite(parentPath, []byte(parentID+"\n"), 0o644); err != nil {
			return nil, errors.NewSessionError(
				"failed to record parent session", err).
				WithCode(errors.CodeSessionSaveFailed).
				WithContext("path", parentPath)
		}
	}

	m.logger.Info("session created",
		"session_id", sess.ID,
		"path", sess.Path,
		"hash", sess.Hash,
		"sequence", sess.Sequence,
		"parent", sess.ParentID,
	)
	if m.bus != nil {
		m.bus.Publish(event.NewSessionCreatedEvent(sess.ID, sess.Path, sess.Hash, sess.Sequence, sess.ParentID))
	}
	return sess, nil
}

// resolveParent picks the predecessor session id for a delta run, verifying
// an explicitly named parent exists.
func (m *Manager) resolveParent(planRoot string, opts Options) (string, error) {
	if opts.ParentSession != "" {
		if _, _, ok := ParseDirName(opts.ParentSession); !ok {
			return "", errors.NewSessionError(
				fmt.Sprintf("invalid parent session id %q", opts.ParentSession), nil)
		}
		if _, err := os.Stat(filepath.Join(planRoot, opts.ParentSession)); err != nil {
			return "", errors.NewSessionError(
				fmt.Sprintf("parent session %s not found", opts.ParentSession), err)
		}
		return opts.ParentSession, nil
	}

	if opts.DeltaFromLatest {
		latest, err := Latest(planRoot)
		if err != nil {
			return "", errors.NewSessionError(
				fmt.Sprintf("failed to scan plan root %s", planRoot), err)
		}
		if latest == nil {
			m.logger.Warn("delta session requested but plan root has no sessions", "plan_root", planRoot)
			return "", nil
		}
		return latest.ID, nil
	}
	return "", nil
}

// SaveTasks atomically persists the session's registry to tasks.json. A
// failure here is fatal: continuing would desynchronize the in-memory
// registry from its durable state.
func (m *Manager) SaveTasks(sess *Session) error {
	data, err := sess.Registry.Encode()
	if err != nil {
		return errors.NewSessionError(
			"failed to encode task registry", err).
			WithCode(errors.CodeSessionSaveFailed).
			WithContext("path", sess.TasksPath()).
			WithOperation("save_tasks")
	}
	if err := fsx.AtomicWrite(sess.TasksPath(), data, 0o644); err != nil {
		return errors.NewSessionError(
			"failed to persist task registry", err).
			WithCode(errors.CodeSessionSaveFailed).
			WithContext("path", sess.TasksPath()).
			WithOperation("save_tasks")
	}
	return nil
}

// LoadTasks reads tasks.json into the session. A missing file leaves the
// registry empty: the session has not been decomposed yet.
func (m *Manager) LoadTasks(sess *Session) error {
	reg, err := readTasks(sess.Path)
	if err != nil {
		return errors.NewSessionError(
			fmt.Sprintf("failed to load task registry for session %s", sess.ID), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", sess.TasksPath())
	}
	if reg == nil {
		reg = backlog.NewRegistry()
	}
	sess.Registry = reg
	return nil
}

// deriveCurrentItem recovers the execution pointer from persisted statuses:
// an in-flight leaf marks where the previous run stopped, otherwise the
// first non-terminal leaf is next.
func deriveCurrentItem(reg *backlog.Registry) string {
	leaves := reg.Leaves()
	for _, leaf := range leaves {
		if leaf.Status == backlog.StatusResearching || leaf.Status == backlog.StatusImplementing {
			return leaf.ID
		}
	}
	for _, leaf := range leaves {
		if !leaf.Status.IsTerminal() {
			return leaf.ID
		}
	}
	return ""
}
