package tui

// sessionMsg is sent when the run's session is created or loaded.
type sessionMsg struct {
	id string
}

// stageMsg is sent when the pipeline driver enters a stage.
type stageMsg struct {
	stage string
}

// decomposedMsg is sent once decomposition has produced a backlog and the
// leaf count is known. It never arrives on a resumed session.
type decomposedMsg struct {
	leaves int
	source string
}

// statusMsg is sent on every subtask status transition.
type statusMsg struct {
	itemID string
	status string
	reason string
}

// failedMsg is sent when a subtask fails non-fatally and the run continues.
type failedMsg struct {
	itemID  string
	code    string
	message string
}

// committedMsg is sent when a subtask's changes are committed.
type committedMsg struct {
	itemID string
	hash   string
}

// doneMsg is sent once per run with the terminal outcome.
type doneMsg struct {
	outcome   string
	completed int
	failed    int
	blocked   int
}
