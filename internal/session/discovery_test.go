package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prdflow/prdflow/internal/backlog"
)

// makeSessionDir creates a bare session directory under planRoot.
func makeSessionDir(t *testing.T, planRoot string, sequence int, hash string) string {
	t.Helper()
	path := filepath.Join(planRoot, DirName(sequence, hash))
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("failed to create session dir: %v", err)
	}
	return path
}

func TestParseDirName(t *testing.T) {
	tests := []struct {
		name     string
		wantSeq  int
		wantHash string
		wantOK   bool
	}{
		{"001_14b9dc2a33c7", 1, "14b9dc2a33c7", true},
		{"010_abcdef012345", 10, "abcdef012345", true},
		{"999_000000000000", 999, "000000000000", true},
		{"01_14b9dc2a33c7", 0, "", false},
		{"0001_14b9dc2a33c7", 0, "", false},
		{"001_14b9dc2a33", 0, "", false},
		{"001_14B9DC2A33C7", 0, "", false},
		{"001-14b9dc2a33c7", 0, "", false},
		{"abc_14b9dc2a33c7", 0, "", false},
		{"notasession", 0, "", false},
		{"", 0, "", false},
	}

	for _, tt := range tests {
		seq, hash, ok := ParseDirName(tt.name)
		if ok != tt.wantOK {
			t.Errorf("ParseDirName(%q) ok = %v, want %v", tt.name, ok, tt.wantOK)
			continue
		}
		if seq != tt.wantSeq || hash != tt.wantHash {
			t.Errorf("ParseDirName(%q) = (%d, %q), want (%d, %q)", tt.name, seq, hash, tt.wantSeq, tt.wantHash)
		}
	}
}

func TestDirNameZeroPadding(t *testing.T) {
	if got := DirName(1, "14b9dc2a33c7"); got != "001_14b9dc2a33c7" {
		t.Errorf("DirName(1) = %s, want 001_14b9dc2a33c7", got)
	}
	if got := DirName(10, "14b9dc2a33c7"); got != "010_14b9dc2a33c7" {
		t.Errorf("DirName(10) = %s, want 010_14b9dc2a33c7", got)
	}
}

func TestListSkipsNonSessions(t *testing.T) {
	planRoot := t.TempDir()
	makeSessionDir(t, planRoot, 2, "bbbbbbbbbbbb")
	makeSessionDir(t, planRoot, 1, "aaaaaaaaaaaa")
	if err := os.MkdirAll(filepath.Join(planRoot, "notasession"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(planRoot, "README.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sessions, err := List(planRoot)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].Sequence != 1 || sessions[1].Sequence != 2 {
		t.Errorf("sessions not ordered by sequence: %d, %d", sessions[0].Sequence, sessions[1].Sequence)
	}
	if sessions[0].Hash != "aaaaaaaaaaaa" {
		t.Errorf("Hash = %s, want aaaaaaaaaaaa", sessions[0].Hash)
	}
}

func TestListMissingPlanRoot(t *testing.T) {
	sessions, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil {
		t.Fatalf("List of missing plan root failed: %v", err)
	}
	if sessions != nil {
		t.Errorf("List of missing plan root = %v, want nil", sessions)
	}
}

func TestListReadsTaskCounts(t *testing.T) {
	planRoot := t.TempDir()
	path := makeSessionDir(t, planRoot, 1, "aaaaaaaaaaaa")

	reg := &backlog.Registry{Backlog: []*backlog.Item{{
		ID: "P1", Title: "P", Level: backlog.LevelPhase, Status: backlog.StatusPlanned,
		Children: []*backlog.Item{{
			ID: "P1.M1", Title: "M", Level: backlog.LevelMilestone, Status: backlog.StatusPlanned,
			Children: []*backlog.Item{{
				ID: "P1.M1.T1", Title: "T", Level: backlog.LevelTask, Status: backlog.StatusPlanned,
				Children: []*backlog.Item{
					{ID: "P1.M1.T1.S1", Title: "a", Level: backlog.LevelSubtask, Status: backlog.StatusComplete},
					{ID: "P1.M1.T1.S2", Title: "b", Level: backlog.LevelSubtask, Status: backlog.StatusPlanned},
				},
			}},
		}},
	}}}
	data, err := reg.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(path, TasksFileName), data, 0o644); err != nil {
		t.Fatal(err)
	}

	sessions, err := List(planRoot)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	info := sessions[0]
	if !info.HasTasks {
		t.Error("HasTasks = false for a decomposed session")
	}
	if info.Leaves != 2 {
		t.Errorf("Leaves = %d, want 2", info.Leaves)
	}
	if info.Counts[backlog.StatusComplete] != 1 {
		t.Errorf("complete count = %d, want 1", info.Counts[backlog.StatusComplete])
	}
}

func TestListReadsParent(t *testing.T) {
	planRoot := t.TempDir()
	path := makeSessionDir(t, planRoot, 2, "bbbbbbbbbbbb")
	if err := os.WriteFile(filepath.Join(path, ParentFileName), []byte("001_aaaaaaaaaaaa\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sessions, err := List(planRoot)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if sessions[0].ParentID != "001_aaaaaaaaaaaa" {
		t.Errorf("ParentID = %q, want 001_aaaaaaaaaaaa", sessions[0].ParentID)
	}
}

func TestFind(t *testing.T) {
	planRoot := t.TempDir()
	makeSessionDir(t, planRoot, 1, "aaaaaaaaaaaa")
	makeSessionDir(t, planRoot, 2, "bbbbbbbbbbbb")

	info, err := Find(planRoot, "bbbbbbbbbbbb")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if info == nil || info.Sequence != 2 {
		t.Errorf("Find(bbbbbbbbbbbb) = %+v, want sequence 2", info)
	}

	info, err = Find(planRoot, "cccccccccccc")
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if info != nil {
		t.Errorf("Find of unknown hash = %+v, want nil", info)
	}
}

func TestLatestAndNextSequence(t *testing.T) {
	planRoot := t.TempDir()

	latest, err := Latest(planRoot)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Errorf("Latest of empty plan root = %+v, want nil", latest)
	}
	seq, err := NextSequence(planRoot)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Errorf("NextSequence of empty plan root = %d, want 1", seq)
	}

	makeSessionDir(t, planRoot, 1, "aaaaaaaaaaaa")
	makeSessionDir(t, planRoot, 3, "cccccccccccc")

	latest, err = Latest(planRoot)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.Sequence != 3 {
		t.Errorf("Latest = %+v, want sequence 3", latest)
	}
	seq, err = NextSequence(planRoot)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 4 {
		t.Errorf("NextSequence = %d, want 4", seq)
	}
}
