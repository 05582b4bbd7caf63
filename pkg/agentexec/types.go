// Package agentexec runs one opaque coding-agent subprocess per job,
// enforces a wall-clock timeout, streams its messages to subscribers, and
// extracts a structured AgentResult from its terminal message.
//
// Grounded on picoclaw's domain/agent.Agent aggregate for the
// lifecycle/state vocabulary, generalized from a standing chat agent with
// bound tools/skills to a one-shot subprocess execution record; and on
// picoclaw's pkg/tools (ReadFileTool/WriteFileTool/ListDirTool) for the
// host-process tool shape, sandboxed per spec.md §4.4 to exactly one
// worktree subtree per execution instead of one process-global directory.
package agentexec

import (
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/snapshot"
)

// State is an AgentExecution's lifecycle stage.
type State string

const (
	StateCreated  State = "created"
	StateRunning  State = "running"
	StateComplete State = "completed"
	StateTimedOut State = "timed_out"
	StateFailed   State = "failed"
)

// Outcome classifies a finished execution per spec.md §4.4's failure
// taxonomy. Only SuccessWithChanges advances a job to the commit step.
type Outcome string

const (
	OutcomeTimeout            Outcome = "started_but_not_finished"
	OutcomeCrashedBeforeResult Outcome = "crashed_before_result"
	OutcomeMalformedResult    Outcome = "malformed_result"
	OutcomeSuccessWithChanges Outcome = "success_with_changes"
	OutcomeSuccessNoChanges   Outcome = "success_no_changes"
)

// MessageType discriminates a streamed Message. Terminal detection is by
// explicit type inspection, per spec.md §4.4 point 4 — never by
// duck-typing a field's presence.
type MessageType string

const (
	MessageThought    MessageType = "thought"
	MessageToolUse    MessageType = "tool_use"
	MessageProgress   MessageType = "progress"
	MessageTerminalOK MessageType = "terminal_result"
)

// Message is one unit in an execution's streamed output.
type Message struct {
	Type      MessageType `json:"type"`
	Text      string      `json:"text,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
	Result    *AgentResult `json:"result,omitempty"` // set only on MessageTerminalOK
	Timestamp time.Time   `json:"timestamp"`
}

// IsTerminal reports whether this message ends the stream.
func (m Message) IsTerminal() bool { return m.Type == MessageTerminalOK }

// AgentResult is the structured output a terminal message carries.
type AgentResult struct {
	Success       bool     `json:"success"`
	ChangesMade   bool     `json:"changes_made"`
	FilesCreated  []string `json:"files_created"`
	FilesModified []string `json:"files_modified"`
	FilesDeleted  []string `json:"files_deleted"`
	CommitHash    string   `json:"commit_hash,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	Message       string   `json:"message"`
	Thinkings     []string `json:"thinkings,omitempty"`
}

// AgentExecution is the lifecycle record for one subprocess run.
type AgentExecution struct {
	AgentType        string
	JobID            domain.EntityID
	WorktreePath     string
	Skill            string
	State            State
	Result           *AgentResult
	ErrorMessage     string
	Stdout           string
	Stderr           string
	StreamedMessages []Message
	InitialSnapshot  *snapshot.Snapshot
	FinalSnapshot    *snapshot.Snapshot
	Diff             *snapshot.Diff
	TimeoutSeconds   int
	CreatedAt        time.Time
	StartedAt        time.Time
	CompletedAt      time.Time
}

// Duration reports wall-clock runtime, zero if the execution never
// started or is still running.
func (e *AgentExecution) Duration() time.Duration {
	if e.StartedAt.IsZero() || e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.StartedAt)
}

// Outcome classifies a finished execution for the orchestrator's commit
// decision.
func (e *AgentExecution) Outcome() Outcome {
	switch e.State {
	case StateTimedOut:
		return OutcomeTimeout
	case StateFailed:
		if e.Result == nil {
			return OutcomeCrashedBeforeResult
		}
		return OutcomeMalformedResult
	case StateComplete:
		if e.Diff != nil && !e.Diff.Empty() {
			return OutcomeSuccessWithChanges
		}
		return OutcomeSuccessNoChanges
	}
	return OutcomeCrashedBeforeResult
}

func (e *AgentExecution) appendMessage(m Message) {
	e.StreamedMessages = append(e.StreamedMessages, m)
}
