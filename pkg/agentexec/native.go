package agentexec

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/skyerr"
	"github.com/h4mn/skybridge/pkg/snapshot"
)

// NativeFacade is the preferred agent facade: it drives Claude directly
// through anthropic-sdk-go's Messages API and a tool-use loop over the
// StandardTools host-process tools, instead of shelling out to a CLI.
// Grounded on the teacher's own declared dependency
// (github.com/anthropics/anthropic-sdk-go in go.mod) — the teacher never
// called it directly in any retrieved source file, so the call shape
// below follows the SDK's own published client/option/MessageNewParams
// API rather than a teacher call site.
type NativeFacade struct {
	client          anthropic.Client
	model           anthropic.Model
	maxTokens       int64
	maxIterations   int
	defaultTimeout  time.Duration
	skillTimeouts   map[string]time.Duration
	promptTemplate  *PromptTemplate
}

// NativeFacadeConfig configures NewNativeFacade.
type NativeFacadeConfig struct {
	APIKey         string
	Model          string
	MaxTokens      int64
	MaxIterations  int
	DefaultTimeout time.Duration
	SkillTimeouts  map[string]time.Duration
	PromptTemplate *PromptTemplate
}

func NewNativeFacade(cfg NativeFacadeConfig) *NativeFacade {
	tmpl := cfg.PromptTemplate
	if tmpl == nil {
		tmpl = DefaultPromptTemplate
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 25
	}
	return &NativeFacade{
		client:         anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:          anthropic.Model(cfg.Model),
		maxTokens:      cfg.MaxTokens,
		maxIterations:  cfg.MaxIterations,
		defaultTimeout: cfg.DefaultTimeout,
		skillTimeouts:  cfg.SkillTimeouts,
		promptTemplate: tmpl,
	}
}

func (f *NativeFacade) AgentType() string { return "anthropic-native" }

func (f *NativeFacade) TimeoutForSkill(skill string) time.Duration {
	if d, ok := f.skillTimeouts[skill]; ok {
		return d
	}
	return f.defaultTimeout
}

// Spawn implements the spec.md §4.4 spawn contract: snapshot, render
// prompt, run a bounded tool-use loop against the worktree, timeout via
// context cancellation, snapshot again, diff, classify.
func (f *NativeFacade) Spawn(ctx context.Context, req SpawnRequest, messages chan<- Message) (*AgentExecution, error) {
	exec := &AgentExecution{
		AgentType: f.AgentType(), JobID: domain.EntityID(req.JobID), WorktreePath: req.WorktreePath,
		Skill: req.Skill, State: StateCreated, CreatedAt: time.Now().UTC(),
		TimeoutSeconds: int(f.TimeoutForSkill(req.Skill).Seconds()),
	}

	initial, err := snapshot.Take(req.WorktreePath)
	if err != nil {
		exec.State = StateFailed
		exec.ErrorMessage = err.Error()
		return exec, err
	}
	exec.InitialSnapshot = initial

	vars := map[string]string{
		"worktree_path": req.WorktreePath,
		"issue_number":  fmt.Sprintf("%d", req.IssueNumber),
		"repo_full_name": req.RepoFullName,
	}
	for k, v := range req.PromptVars {
		vars[k] = v
	}
	systemPrompt := f.promptTemplate.Render(req.Skill, vars)

	runCtx, cancel := context.WithTimeout(ctx, f.TimeoutForSkill(req.Skill))
	defer cancel()

	exec.State = StateRunning
	exec.StartedAt = time.Now().UTC()

	var onProgress = func(text string) {
		msg := Message{Type: MessageProgress, Text: text, Timestamp: time.Now().UTC()}
		exec.appendMessage(msg)
		send(messages, msg)
	}
	toolset := StandardTools(req.WorktreePath, req.JobID, onProgress)

	result, terminal, runErr := f.runLoop(runCtx, systemPrompt, toolset, exec, messages)
	exec.CompletedAt = time.Now().UTC()

	if runCtx.Err() == context.DeadlineExceeded {
		exec.State = StateTimedOut
		exec.ErrorMessage = "timed out after " + f.TimeoutForSkill(req.Skill).String()
		return f.finalize(exec, req.WorktreePath)
	}
	if runErr != nil {
		exec.State = StateFailed
		exec.ErrorMessage = runErr.Error()
		return f.finalize(exec, req.WorktreePath)
	}
	if !terminal {
		exec.State = StateFailed
		exec.ErrorMessage = "subprocess exited without a terminal message"
		return f.finalize(exec, req.WorktreePath)
	}

	exec.State = StateComplete
	exec.Result = result
	return f.finalize(exec, req.WorktreePath)
}

func (f *NativeFacade) finalize(exec *AgentExecution, worktreePath string) (*AgentExecution, error) {
	final, err := snapshot.Take(worktreePath)
	if err != nil {
		logger.WarnCF("agentexec", "final snapshot failed", map[string]interface{}{"job_id": string(exec.JobID), "error": err.Error()})
		return exec, nil
	}
	exec.FinalSnapshot = final
	if exec.InitialSnapshot != nil {
		exec.Diff = snapshot.Compute(exec.JobID, exec.InitialSnapshot, final)
	}
	return exec, nil
}

// runLoop drives a bounded request/tool-result loop against the Messages
// API until the model emits a terminal result (encoded as a final text
// block containing a JSON AgentResult) or maxIterations is exhausted.
func (f *NativeFacade) runLoop(ctx context.Context, systemPrompt string, toolset []Tool, exec *AgentExecution, messages chan<- Message) (*AgentResult, bool, error) {
	toolParams := make([]anthropic.ToolUnionParam, 0, len(toolset))
	byName := make(map[string]Tool, len(toolset))
	for _, tool := range toolset {
		byName[tool.Name()] = tool
		params := tool.Parameters()
		properties, _ := params["properties"].(map[string]interface{})
		toolParams = append(toolParams, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name(),
				Description: anthropic.String(tool.Description()),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: properties,
				},
			},
		})
	}

	history := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock("Begin.")),
	}

	for i := 0; i < f.maxIterations; i++ {
		resp, err := f.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     f.model,
			MaxTokens: f.maxTokens,
			System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
			Messages:  history,
			Tools:     toolParams,
		})
		if err != nil {
			return nil, false, skyerr.Wrap(skyerr.KindUnavailable, "NativeFacade.runLoop", "anthropic messages.New", err)
		}

		sawToolUse := false
		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				msg := Message{Type: MessageThought, Text: variant.Text, Timestamp: time.Now().UTC()}
				exec.appendMessage(msg)
				send(messages, msg)
				if result, ok := tryParseResult(variant.Text); ok {
					terminalMsg := Message{Type: MessageTerminalOK, Result: result, Timestamp: time.Now().UTC()}
					exec.appendMessage(terminalMsg)
					send(messages, terminalMsg)
					return result, true, nil
				}
			case anthropic.ToolUseBlock:
				sawToolUse = true
				msg := Message{Type: MessageToolUse, ToolName: variant.Name, Timestamp: time.Now().UTC()}
				exec.appendMessage(msg)
				send(messages, msg)

				tool, known := byName[variant.Name]
				var args map[string]interface{}
				_ = json.Unmarshal(variant.Input, &args)
				output := "unknown tool: " + variant.Name
				if known {
					if out, err := tool.Execute(ctx, args); err == nil {
						output = out
					} else {
						output = "error: " + err.Error()
					}
				}
				history = append(history, anthropic.NewAssistantMessage(block))
				history = append(history, anthropic.NewUserMessage(
					anthropic.NewToolResultBlock(variant.ID, output, false),
				))
			}
		}
		if !sawToolUse {
			// The model replied with no tool calls and no parseable
			// terminal result — nudge it to finish (resp.StopReason
			// is still end_turn in this case, not a crash).
			history = append(history, anthropic.NewUserMessage(
				anthropic.NewTextBlock("Continue, or emit your final AgentResult as JSON."),
			))
		}
	}
	return nil, false, nil
}

func send(ch chan<- Message, m Message) {
	if ch == nil {
		return
	}
	select {
	case ch <- m:
	default:
	}
}

// tryParseResult attempts to decode text as a terminal AgentResult. The
// native adapter's agent is instructed to emit its final answer as a JSON
// object; anything that doesn't parse is treated as ordinary reasoning
// text, not an error.
func tryParseResult(text string) (*AgentResult, bool) {
	var result AgentResult
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return nil, false
	}
	if result.Message == "" && !result.Success && !result.ChangesMade {
		return nil, false
	}
	return &result, true
}
