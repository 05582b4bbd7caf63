package agentexec

import (
	"bufio"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
	"github.com/h4mn/skybridge/pkg/snapshot"
)

// CLIFacade is the legacy agent facade: it runs an external coding-agent
// CLI as a subprocess with the worktree as its current directory and
// reads its stdout as newline-delimited JSON Messages, one per line, the
// last of which must be a MessageTerminalOK. Conforms to the same Facade
// contract as NativeFacade so the orchestrator can use either behind a
// single feature flag (config.AgentsConfig.Provider == "cli").
type CLIFacade struct {
	cliPath        string
	defaultTimeout time.Duration
	skillTimeouts  map[string]time.Duration
	promptTemplate *PromptTemplate
	gracePeriod    time.Duration
}

type CLIFacadeConfig struct {
	CLIPath        string
	DefaultTimeout time.Duration
	SkillTimeouts  map[string]time.Duration
	PromptTemplate *PromptTemplate
}

func NewCLIFacade(cfg CLIFacadeConfig) *CLIFacade {
	tmpl := cfg.PromptTemplate
	if tmpl == nil {
		tmpl = DefaultPromptTemplate
	}
	return &CLIFacade{
		cliPath:        cfg.CLIPath,
		defaultTimeout: cfg.DefaultTimeout,
		skillTimeouts:  cfg.SkillTimeouts,
		promptTemplate: tmpl,
		gracePeriod:    5 * time.Second,
	}
}

func (f *CLIFacade) AgentType() string { return "cli-subprocess" }

func (f *CLIFacade) TimeoutForSkill(skill string) time.Duration {
	if d, ok := f.skillTimeouts[skill]; ok {
		return d
	}
	return f.defaultTimeout
}

// Spawn launches f.cliPath with the rendered system prompt on stdin and
// the worktree as its working directory, terminating it cooperatively
// (SIGTERM) and then forcefully (SIGKILL after gracePeriod) if no
// terminal message arrives within the skill's timeout.
func (f *CLIFacade) Spawn(ctx context.Context, req SpawnRequest, messages chan<- Message) (*AgentExecution, error) {
	execution := &AgentExecution{
		AgentType: f.AgentType(), JobID: domain.EntityID(req.JobID), WorktreePath: req.WorktreePath,
		Skill: req.Skill, State: StateCreated, CreatedAt: time.Now().UTC(),
		TimeoutSeconds: int(f.TimeoutForSkill(req.Skill).Seconds()),
	}

	initial, err := snapshot.Take(req.WorktreePath)
	if err != nil {
		execution.State = StateFailed
		execution.ErrorMessage = err.Error()
		return execution, err
	}
	execution.InitialSnapshot = initial

	vars := map[string]string{
		"worktree_path":  req.WorktreePath,
		"issue_number":   strconv.Itoa(req.IssueNumber),
		"repo_full_name": req.RepoFullName,
	}
	for k, v := range req.PromptVars {
		vars[k] = v
	}
	systemPrompt := f.promptTemplate.Render(req.Skill, vars)

	timeout := f.TimeoutForSkill(req.Skill)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := execCommandContext(runCtx, f.cliPath, f.gracePeriod)
	cmd.Dir = req.WorktreePath
	stdin, err := cmd.StdinPipe()
	if err != nil {
		execution.State = StateFailed
		execution.ErrorMessage = err.Error()
		return execution, skyerr.Wrap(skyerr.KindUnavailable, "CLIFacade.Spawn", "open stdin pipe", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		execution.State = StateFailed
		execution.ErrorMessage = err.Error()
		return execution, skyerr.Wrap(skyerr.KindUnavailable, "CLIFacade.Spawn", "open stdout pipe", err)
	}

	execution.State = StateRunning
	execution.StartedAt = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		execution.State = StateFailed
		execution.ErrorMessage = err.Error()
		return f.finalize(execution, req.WorktreePath), skyerr.Wrap(skyerr.KindUnavailable, "CLIFacade.Spawn", "start subprocess", err)
	}

	go func() {
		defer stdin.Close()
		stdin.Write([]byte(systemPrompt))
	}()

	var result *AgentResult
	terminal := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			logger.WarnCF("agentexec", "unparseable cli output line", map[string]interface{}{"job_id": req.JobID, "line": truncateForLog(line)})
			continue
		}
		msg.Timestamp = time.Now().UTC()
		execution.appendMessage(msg)
		send(messages, msg)
		if msg.IsTerminal() {
			result = msg.Result
			terminal = true
			break
		}
	}

	waitErr := cmd.Wait()
	execution.CompletedAt = time.Now().UTC()

	if runCtx.Err() == context.DeadlineExceeded {
		execution.State = StateTimedOut
		execution.ErrorMessage = "timed out after " + timeout.String()
		return f.finalize(execution, req.WorktreePath), nil
	}
	if !terminal {
		execution.State = StateFailed
		if waitErr != nil {
			execution.ErrorMessage = "subprocess exited without terminal message: " + waitErr.Error()
		} else {
			execution.ErrorMessage = "subprocess exited without terminal message"
		}
		return f.finalize(execution, req.WorktreePath), nil
	}
	if result == nil {
		execution.State = StateFailed
		execution.ErrorMessage = "terminal message carried no result"
		return f.finalize(execution, req.WorktreePath), nil
	}

	execution.State = StateComplete
	execution.Result = result
	return f.finalize(execution, req.WorktreePath), nil
}

func (f *CLIFacade) finalize(execution *AgentExecution, worktreePath string) *AgentExecution {
	final, err := snapshot.Take(worktreePath)
	if err != nil {
		logger.WarnCF("agentexec", "final snapshot failed", map[string]interface{}{"job_id": string(execution.JobID), "error": err.Error()})
		return execution
	}
	execution.FinalSnapshot = final
	if execution.InitialSnapshot != nil {
		execution.Diff = snapshot.Compute(execution.JobID, execution.InitialSnapshot, final)
	}
	return execution
}

// execCommandContext wires the two-stage termination Spawn's doc comment
// promises: Cancel sends SIGTERM on context cancellation instead of the
// default SIGKILL, and WaitDelay gives the subprocess gracePeriod to exit
// on its own before the runtime escalates to SIGKILL.
func execCommandContext(ctx context.Context, path string, gracePeriod time.Duration) *exec.Cmd {
	cmd := exec.CommandContext(ctx, path)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = gracePeriod
	return cmd
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
