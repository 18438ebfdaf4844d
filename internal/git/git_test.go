package git

import (
	"errors"
	"strings"
	"testing"
)

type mockCall struct {
	dir  string
	name string
	args []string
}

type mockExecutor struct {
	calls     []mockCall
	outputs   [][]byte
	errs      []error
	callIndex int
}

func (m *mockExecutor) addResponse(output []byte, err error) {
	m.outputs = append(m.outputs, output)
	m.errs = append(m.errs, err)
}

func (m *mockExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	m.calls = append(m.calls, mockCall{dir: dir, name: name, args: args})
	idx := m.callIndex
	m.callIndex++
	if idx < len(m.outputs) {
		return m.outputs[idx], m.errs[idx]
	}
	return nil, nil
}

func TestHasPendingChanges(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"clean tree", "", false},
		{"whitespace only", "\n", false},
		{"modified file", " M internal/git/git.go\n", true},
		{"untracked file", "?? notes.txt\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockExecutor{}
			mock.addResponse([]byte(tt.output), nil)
			client := NewCLIClientWithExecutor("/repo", mock, nil)

			got, err := client.HasPendingChanges()
			if err != nil {
				t.Fatalf("HasPendingChanges failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("HasPendingChanges() = %v, want %v", got, tt.want)
			}

			call := mock.calls[0]
			if call.dir != "/repo" || call.args[0] != "status" || call.args[1] != "--porcelain" {
				t.Errorf("unexpected git invocation: %+v", call)
			}
		})
	}
}

func TestHasPendingChangesError(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse([]byte("fatal: not a git repository"), errors.New("exit status 128"))
	client := NewCLIClientWithExecutor("/repo", mock, nil)

	if _, err := client.HasPendingChanges(); err == nil {
		t.Error("expected error from failed git status")
	}
}

func TestCommit(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse(nil, nil)                                              // git add -A
	mock.addResponse([]byte("[main abc1234] msg"), nil)                     // git commit
	mock.addResponse([]byte("abc1234def5678900000000000000000000000\n"), nil) // git rev-parse

	client := NewCLIClientWithExecutor("/repo", mock, nil)
	hash, err := client.Commit("feat: complete P1.M1.T1.S1")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if hash != "abc1234def5678900000000000000000000000" {
		t.Errorf("hash = %q", hash)
	}

	if len(mock.calls) != 3 {
		t.Fatalf("Commit made %d git calls, want 3", len(mock.calls))
	}
	if mock.calls[0].args[0] != "add" || mock.calls[0].args[1] != "-A" {
		t.Errorf("first call = %v, want add -A", mock.calls[0].args)
	}
	if mock.calls[1].args[0] != "commit" || mock.calls[1].args[2] != "feat: complete P1.M1.T1.S1" {
		t.Errorf("second call = %v", mock.calls[1].args)
	}
	if mock.calls[2].args[0] != "rev-parse" {
		t.Errorf("third call = %v, want rev-parse HEAD", mock.calls[2].args)
	}
}

func TestCommitPrefix(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse(nil, nil)
	mock.addResponse([]byte("[main abc1234] msg"), nil)
	mock.addResponse([]byte("abc1234\n"), nil)

	client := NewCLIClientWithExecutor("/repo", mock, nil).WithCommitPrefix("[prdflow]")
	if _, err := client.Commit("P1.M1.T1.S1: leaf one"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	got := mock.calls[1].args[2]
	if got != "[prdflow] P1.M1.T1.S1: leaf one" {
		t.Errorf("commit message = %q, want prefixed subject", got)
	}
}

func TestCommitNothingToCommit(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse(nil, nil)
	mock.addResponse([]byte("On branch main\nnothing to commit, working tree clean\n"), errors.New("exit status 1"))

	client := NewCLIClientWithExecutor("/repo", mock, nil)
	hash, err := client.Commit("msg")
	if err != nil {
		t.Fatalf("Commit with clean tree failed: %v", err)
	}
	if hash != "" {
		t.Errorf("hash = %q, want empty for no-op commit", hash)
	}
}

func TestCommitFailure(t *testing.T) {
	mock := &mockExecutor{}
	mock.addResponse(nil, nil)
	mock.addResponse([]byte("error: gpg failed to sign the data"), errors.New("exit status 128"))

	client := NewCLIClientWithExecutor("/repo", mock, nil)
	_, err := client.Commit("msg")
	if err == nil {
		t.Fatal("expected error from failed commit")
	}
	if !strings.Contains(err.Error(), "gpg failed") {
		t.Errorf("error %q does not carry git output", err)
	}
}

func TestNopClient(t *testing.T) {
	var client Client = NopClient{}

	pending, err := client.HasPendingChanges()
	if err != nil || pending {
		t.Errorf("NopClient.HasPendingChanges() = (%v, %v), want (false, nil)", pending, err)
	}
	hash, err := client.Commit("msg")
	if err != nil || hash != "" {
		t.Errorf("NopClient.Commit() = (%q, %v), want (\"\", nil)", hash, err)
	}
}
