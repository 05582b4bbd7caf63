package agentexec

import (
	"context"
	"time"
)

// Facade is the polymorphic capability set spec.md §4.4 requires: both
// the native-SDK adapter and the subprocess-CLI adapter conform to it,
// selected by a feature flag evaluated once at startup (see
// config.AgentsConfig.Provider).
type Facade interface {
	// Spawn runs one agent execution to completion (or timeout) and
	// returns its final record. messages, if non-nil, receives every
	// streamed Message as it is produced.
	Spawn(ctx context.Context, req SpawnRequest, messages chan<- Message) (*AgentExecution, error)
	AgentType() string
	TimeoutForSkill(skill string) time.Duration
}

// SpawnRequest carries everything a Facade needs to start one execution.
type SpawnRequest struct {
	JobID        string
	WorktreePath string
	Skill        string
	IssueNumber  int
	RepoFullName string
	PromptVars   map[string]string
}
