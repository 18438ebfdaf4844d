package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prdflow/prdflow/internal/backlog"
)

// Session directory contents. The directory name itself carries the
// session's identity: {sequence:%03d}_{12-char content hash}.
const (
	SnapshotFileName = "prd_snapshot.md"
	TasksFileName    = "tasks.json"
	ParentFileName   = "parent_session.txt"

	ArchitectureDirName = "architecture"
	PRPsDirName         = "prps"
	ArtifactsDirName    = "artifacts"
)

// dirNameRe matches valid session directory names, capturing the sequence
// and the content hash.
var dirNameRe = regexp.MustCompile(`^(\d{3})_([a-f0-9]{12})$`)

// DirName formats a session directory name from its parts.
func DirName(sequence int, hash string) string {
	return fmt.Sprintf("%03d_%s", sequence, hash)
}

// ParseDirName splits a session directory name into sequence and hash. It
// reports false for names that are not sessions.
func ParseDirName(name string) (sequence int, hash string, ok bool) {
	m := dirNameRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	sequence, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return sequence, m[2], true
}

// Info is summary information about one session under the plan root, as
// discovered by scanning directory names. Entries whose tasks.json parses
// also carry leaf status counts.
type Info struct {
	ID        string    `json:"id"`
	Sequence  int       `json:"sequence"`
	Hash      string    `json:"hash"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	ParentID  string    `json:"parent_id,omitempty"`

	// HasTasks reports whether the session has been decomposed.
	HasTasks bool `json:"has_tasks"`

	// Leaves and Counts summarize subtask progress when HasTasks is true.
	Leaves int                    `json:"leaves,omitempty"`
	Counts map[backlog.Status]int `json:"counts,omitempty"`

	// IsLocked reports whether a live process holds the session lock.
	IsLocked bool  `json:"is_locked"`
	LockInfo *Lock `json:"lock_info,omitempty"`
}

// List scans the plan root and returns info for every session directory,
// ordered by sequence. Entries that are not directories or whose names do
// not match the session pattern are skipped. A missing plan root means no
// sessions.
func List(planRoot string) ([]*Info, error) {
	entries, err := os.ReadDir(planRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []*Info
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		seq, hash, ok := ParseDirName(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(planRoot, entry.Name())
		info := &Info{
			ID:       entry.Name(),
			Sequence: seq,
			Hash:     hash,
			Path:     path,
		}
		if stat, err := os.Stat(path); err == nil {
			info.CreatedAt = stat.ModTime()
		}
		if parent, err := os.ReadFile(filepath.Join(path, ParentFileName)); err == nil {
			info.ParentID = trimLine(parent)
		}
		if reg, err := readTasks(path); err == nil && reg != nil {
			info.HasTasks = true
			info.Leaves = len(reg.Leaves())
			info.Counts = reg.Counts()
		}
		info.LockInfo, info.IsLocked = IsLocked(path)

		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Sequence < sessions[j].Sequence
	})
	return sessions, nil
}

// Find returns the session whose content hash matches, or nil when no such
// session exists. When several sequences share a hash the lowest wins; that
// is the directory initialize originally created.
func Find(planRoot, hash string) (*Info, error) {
	sessions, err := List(planRoot)
	if err != nil {
		return nil, err
	}
	for _, info := range sessions {
		if info.Hash == hash {
			return info, nil
		}
	}
	return nil, nil
}

// Latest returns the session with the highest sequence, or nil when the
// plan root holds none.
func Latest(planRoot string) (*Info, error) {
	sessions, err := List(planRoot)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[len(sessions)-1], nil
}

// NextSequence returns one past the highest existing sequence number, or 1
// for an empty plan root.
func NextSequence(planRoot string) (int, error) {
	sessions, err := List(planRoot)
	if err != nil {
		return 0, err
	}
	max := 0
	for _, info := range sessions {
		if info.Sequence > max {
			max = info.Sequence
		}
	}
	return max + 1, nil
}

// readTasks parses a session's tasks.json. A missing file returns nil with
// no error: the session simply has not been decomposed yet.
func readTasks(sessionDir string) (*backlog.Registry, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, TasksFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return backlog.Decode(data)
}

// trimLine returns the first line of b with surrounding whitespace removed.
func trimLine(b []byte) string {
	line, _, _ := strings.Cut(string(b), "\n")
	return strings.TrimSpace(line)
}
