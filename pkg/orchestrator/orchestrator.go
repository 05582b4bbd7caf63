// Package orchestrator drives one webhook job through its complete step
// machine — worktree creation, agent execution, commit/push, optional pull
// request, worktree teardown — publishing a domain event at each
// transition and guaranteeing the worktree is released on every exit path.
//
// Grounded on picoclaw's pkg/app application-service pattern (a thin
// coordinator over repositories/adapters that publishes domain events
// after each mutation) and original_source's JobOrchestrator /
// commit_message_generator.py for the step sequence and commit heuristic.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/h4mn/skybridge/pkg/agentexec"
	"github.com/h4mn/skybridge/pkg/domain"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/queue"
	"github.com/h4mn/skybridge/pkg/skyerr"
	"github.com/h4mn/skybridge/pkg/snapshot"
	"github.com/h4mn/skybridge/pkg/worktree"
)

// PullRequestCreator opens a pull request after a job's branch is pushed.
// Optional: a nil creator simply skips step 6. Adapted in pkg/githubpr
// using golang.org/x/oauth2 for token-scoped calls to the GitHub REST API.
type PullRequestCreator interface {
	CreatePullRequest(ctx context.Context, repoFullName, branch, baseBranch, title, body string) (url string, err error)
}

// Orchestrator runs the per-job step machine described in spec.md §4.5. It
// never imports pkg/kanban directly — the Kanban listener (pkg/listeners)
// reacts to the JobDequeued/JobCompleted/JobFailed events published here,
// keeping the orchestrator and the board decoupled per spec.md §4.6.
type Orchestrator struct {
	queue      queue.Queue
	worktrees  *worktree.Manager
	agents     agentexec.Facade
	bus        domain.EventBus
	prCreator  PullRequestCreator
	baseBranch string
}

// New wires an Orchestrator. prCreator may be nil to skip pull request
// creation entirely (spec.md step 6 is optional).
func New(q queue.Queue, worktrees *worktree.Manager, agents agentexec.Facade, bus domain.EventBus, prCreator PullRequestCreator, baseBranch string) *Orchestrator {
	return &Orchestrator{
		queue:      q,
		worktrees:  worktrees,
		agents:     agents,
		bus:        bus,
		prCreator:  prCreator,
		baseBranch: baseBranch,
	}
}

// RunOne dequeues exactly one job and drives it through the complete step
// machine. It blocks on queue.Dequeue, so callers run it in a loop inside
// a worker goroutine (spec.md §5: one worker per concurrent job, default
// pool of 4).
func (o *Orchestrator) RunOne(ctx context.Context) error {
	job, err := o.queue.Dequeue(ctx)
	if err != nil {
		return err
	}
	o.process(ctx, job)
	return nil
}

// process runs steps 2-8 for an already-dequeued (processing-state) job.
// Every exit path removes the worktree or marks cleanup_failed; every exit
// path marks the job Completed or Failed. Step 1 (dequeue + mark
// Processing) already happened inside queue.Dequeue.
func (o *Orchestrator) process(ctx context.Context, job *queue.WebhookJob) {
	o.publishJobEvent(domain.EventJobDequeued, job, nil)

	names, err := o.worktrees.Create(ctx, job.Source, job.IssueNumber, string(job.ID()))
	if err != nil {
		o.fail(job, skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.process", "worktree create", err))
		return
	}
	job.WorktreePath = names.Path
	job.BranchName = names.Branch

	before, err := snapshot.Take(names.Path)
	if err != nil {
		o.cleanupAndFail(ctx, job, names.Path, skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.process", "initial snapshot", err))
		return
	}
	o.publishJobEvent(domain.EventSnapshotTaken, job, map[string]interface{}{"phase": "before", "files": len(before.Files)})

	issueTitle, _ := job.Payload["title"].(string)
	var labels []string
	if raw, ok := job.Payload["labels"].([]string); ok {
		labels = raw
	}

	req := agentexec.SpawnRequest{
		JobID:        string(job.ID()),
		WorktreePath: names.Path,
		Skill:        job.AgentType,
		IssueNumber:  job.IssueNumber,
		RepoFullName: job.RepoFullName,
		PromptVars: map[string]string{
			"issue_number": strconv.Itoa(job.IssueNumber),
			"issue_title":  issueTitle,
			"repo":         job.RepoFullName,
		},
	}

	execResult, err := o.agents.Spawn(ctx, req, nil)
	if err != nil {
		o.cleanupAndFail(ctx, job, names.Path, skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.process", "agent spawn", err))
		return
	}

	after, err := snapshot.Take(names.Path)
	if err != nil {
		o.cleanupAndFail(ctx, job, names.Path, skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.process", "final snapshot", err))
		return
	}
	diff := snapshot.Compute(job.ID(), before, after)
	execResult.Diff = diff
	o.publishJobEvent(domain.EventDiffComputed, job, map[string]interface{}{"changes": len(diff.Changes)})

	switch execResult.Outcome() {
	case agentexec.OutcomeTimeout, agentexec.OutcomeCrashedBeforeResult, agentexec.OutcomeMalformedResult:
		o.cleanupAndFail(ctx, job, names.Path, skyerr.New(skyerr.KindUnavailable, "Orchestrator.process", "agent execution outcome: "+string(execResult.Outcome())))
		return
	case agentexec.OutcomeSuccessNoChanges:
		o.cleanup(ctx, job, names.Path)
		o.complete(job)
		return
	}

	if err := o.commitAndPush(ctx, job, names, issueTitle, labels, diff); err != nil {
		o.cleanupAndFail(ctx, job, names.Path, err)
		return
	}

	if o.prCreator != nil {
		prTitle := fmt.Sprintf("%s (#%d)", issueTitle, job.IssueNumber)
		prBody := fmt.Sprintf("Automated change for #%d.", job.IssueNumber)
		url, err := o.prCreator.CreatePullRequest(ctx, job.RepoFullName, names.Branch, o.baseBranch, prTitle, prBody)
		if err != nil {
			logger.WarnCF("orchestrator", "pull request creation failed", map[string]interface{}{"job_id": job.ID().String(), "error": err.Error()})
		} else {
			o.publishJobEvent(domain.EventPullRequestOpened, job, map[string]interface{}{"url": url})
		}
	}

	o.cleanup(ctx, job, names.Path)
	o.complete(job)
}

// commitAndPush stages the worktree's changes, generates a commit message
// from the issue's labels/title and the diff stat, commits, and pushes.
func (o *Orchestrator) commitAndPush(ctx context.Context, job *queue.WebhookJob, names worktree.Names, issueTitle string, labels []string, diff *snapshot.Diff) error {
	if _, err := worktree.SafeGit(ctx, "git add -A", names.Path, 30*time.Second); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.commitAndPush", "git add", err)
	}

	message := generateCommitMessage(job.IssueNumber, issueTitle, labels, diff)
	commitCmd := fmt.Sprintf("git commit -m %s", quoteCommitMessage(message))
	if _, err := worktree.SafeGit(ctx, commitCmd, names.Path, 30*time.Second); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.commitAndPush", "git commit", err)
	}
	o.publishJobEvent(domain.EventCommitCreated, job, map[string]interface{}{"message": message})

	pushCmd := fmt.Sprintf("git push origin %s", names.Branch)
	if _, err := worktree.SafeGit(ctx, pushCmd, names.Path, 30*time.Second); err != nil {
		return skyerr.Wrap(skyerr.KindUnavailable, "Orchestrator.commitAndPush", "git push", err)
	}
	o.publishJobEvent(domain.EventJobStepCompleted, job, map[string]interface{}{"step": "push", "branch": names.Branch})
	return nil
}

// quoteCommitMessage single-quotes a commit message for SafeGit's shlex
// tokenizer, escaping any embedded single quotes.
func quoteCommitMessage(msg string) string {
	escaped := ""
	for _, r := range msg {
		if r == '\'' {
			escaped += `'\''`
		} else {
			escaped += string(r)
		}
	}
	return "'" + escaped + "'"
}

// cleanup removes the worktree, marking the job cleanup_failed (without
// failing the job itself) if removal errors.
func (o *Orchestrator) cleanup(ctx context.Context, job *queue.WebhookJob, path string) {
	if err := o.worktrees.Remove(ctx, path); err != nil {
		if markErr := o.queue.MarkCleanupFailed(job.ID(), err); markErr != nil {
			logger.ErrorCF("orchestrator", "failed to mark cleanup_failed", map[string]interface{}{"job_id": job.ID().String(), "error": markErr.Error()})
		}
		o.publishJobEvent(domain.EventCleanupFailed, job, map[string]interface{}{"error": err.Error()})
		return
	}
	o.publishJobEvent(domain.EventWorktreeRemoved, job, nil)
}

// cleanupAndFail removes the worktree then marks the job failed with
// cause — the exit path for every step-2-through-6 failure. Worktree
// teardown here follows the exact same event-publishing/cleanup_failed
// contract as cleanup(): a job that enters Processing always gets a
// WorktreeRemoved or CleanupFailed event, whether it ultimately succeeds
// or fails.
func (o *Orchestrator) cleanupAndFail(ctx context.Context, job *queue.WebhookJob, path string, cause error) {
	o.cleanup(ctx, job, path)
	o.fail(job, cause)
}

func (o *Orchestrator) complete(job *queue.WebhookJob) {
	if err := o.queue.Complete(job.ID()); err != nil {
		logger.ErrorCF("orchestrator", "failed to mark job completed", map[string]interface{}{"job_id": job.ID().String(), "error": err.Error()})
		return
	}
	o.publishJobEvent(domain.EventJobCompleted, job, nil)
}

func (o *Orchestrator) fail(job *queue.WebhookJob, cause error) {
	retryable, err := o.queue.Fail(job.ID(), cause)
	if err != nil {
		logger.ErrorCF("orchestrator", "failed to mark job failed", map[string]interface{}{"job_id": job.ID().String(), "error": err.Error()})
	}
	o.publishJobEvent(domain.EventJobFailed, job, map[string]interface{}{"error": cause.Error(), "retryable": retryable})
}

func (o *Orchestrator) publishJobEvent(eventType domain.EventType, job *queue.WebhookJob, data map[string]interface{}) {
	if o.bus == nil {
		return
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	data["issue_number"] = job.IssueNumber
	data["source"] = job.Source
	data["agent_type"] = job.AgentType
	data["job_id"] = string(job.ID())
	if title, ok := job.Payload["title"].(string); ok {
		data["title"] = title
	}
	o.bus.Publish(domain.NewEvent(eventType, job.ID(), data).WithCorrelationID(job.CorrelationID))
}
