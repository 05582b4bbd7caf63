// Command skybridge is the process entrypoint: it loads config.yaml, wires
// every component in the order spec.md §2 lays out (event bus → job queue
// → worktree manager → agent subsystem → snapshot → kanban projection →
// job orchestrator → webhook intake), starts a fixed pool of job workers,
// and serves the HTTP surface until an interrupt or the HTTP server dies.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/h4mn/skybridge/pkg/agentexec"
	"github.com/h4mn/skybridge/pkg/config"
	"github.com/h4mn/skybridge/pkg/githubpr"
	"github.com/h4mn/skybridge/pkg/httpapi"
	"github.com/h4mn/skybridge/pkg/infrastructure/eventbus"
	"github.com/h4mn/skybridge/pkg/kanban"
	"github.com/h4mn/skybridge/pkg/listeners"
	"github.com/h4mn/skybridge/pkg/logger"
	"github.com/h4mn/skybridge/pkg/orchestrator"
	"github.com/h4mn/skybridge/pkg/queue"
	"github.com/h4mn/skybridge/pkg/rpcticket"
	"github.com/h4mn/skybridge/pkg/scheduler"
	"github.com/h4mn/skybridge/pkg/trellosync"
	"github.com/h4mn/skybridge/pkg/webhook"
	"github.com/h4mn/skybridge/pkg/worktree"
	"github.com/h4mn/skybridge/pkg/wsconsole"
)

// workerPoolSize is the default count of concurrent job workers spec.md §5
// calls for.
const workerPoolSize = 4

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $SKYBRIDGE_CONFIG or ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.FatalCF("main", "failed to load config", map[string]interface{}{"error": err.Error()})
	}

	bus := eventbus.New()

	q, err := buildQueue(cfg.Queue)
	if err != nil {
		logger.FatalCF("main", "failed to build job queue", map[string]interface{}{"error": err.Error()})
	}

	worktrees := worktree.NewManager(
		cfg.Worktree.RepoPath,
		cfg.Worktree.BasePath,
		cfg.Worktree.BaseBranch,
		time.Duration(cfg.Worktree.CommandTimeoutSec)*time.Second,
	)

	agents := buildAgentFacade(cfg.Agents)

	board, err := kanban.Open(cfg.Kanban.DBPath, bus)
	if err != nil {
		logger.FatalCF("main", "failed to open kanban board", map[string]interface{}{"error": err.Error()})
	}

	kanbanListener := listeners.NewKanbanListener(board)
	kanbanListener.Subscribe(bus)

	metrics := listeners.NewMetricsListener()
	metrics.Subscribe(bus)

	var prCreator orchestrator.PullRequestCreator
	if cfg.GitHub.Enabled && cfg.GitHub.OAuthToken != "" {
		prCreator = githubpr.New(context.Background(), cfg.GitHub.OAuthToken)
	}

	orch := orchestrator.New(q, worktrees, agents, bus, prCreator, cfg.Worktree.BaseBranch)

	sources := map[string]webhook.SourceConfig{
		"github": {Verifier: webhook.GitHubVerifier{}, Secret: cfg.Webhooks.GitHubSecret},
	}
	if cfg.Webhooks.TrelloSecret != "" {
		sources["trello"] = webhook.SourceConfig{
			Verifier: webhook.TrelloVerifier{CallbackURL: cfg.Webhooks.TrelloCallbackURL},
			Secret:   cfg.Webhooks.TrelloSecret,
		}
	}
	intake := webhook.New(q, bus, sources)

	tickets := rpcticket.New()
	console := wsconsole.NewHub()

	server := httpapi.New(intake, q, tickets, console, metrics, cfg.Server.APIKey)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	recoverCrashedJobs(q)

	sweeps := scheduler.New()
	sweeps.Add("crash-recovery-sweep", "*/5 * * * *", func(ctx context.Context) error {
		recoverCrashedJobs(q)
		return nil
	})
	go sweeps.Start(ctx)

	if cfg.Trello.Enabled {
		provider := trellosync.NewHTTPProvider(cfg.Trello.APIKey, cfg.Trello.Token, cfg.Trello.BoardID)
		sync := trellosync.New(provider, board)
		trelloListener := listeners.NewTrelloSyncListener(board, sync)
		trelloListener.Subscribe(bus)
		go sync.Run(ctx)
	}

	var wg sync.WaitGroup
	for i := 0; i < workerPoolSize; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(ctx, workerID, orch)
		}(i)
	}

	logger.InfoCF("main", "skybridge listening", map[string]interface{}{"addr": cfg.Server.Addr})
	if err := httpapi.Serve(ctx, cfg.Server.Addr, server.Handler()); err != nil {
		logger.ErrorCF("main", "http server exited with error", map[string]interface{}{"error": err.Error()})
	}

	cancel()
	wg.Wait()
}

// runWorker repeatedly dequeues and processes one job at a time until ctx
// is cancelled. RunOne already blocks inside queue.Dequeue, so this is a
// tight loop rather than a ticker.
func runWorker(ctx context.Context, workerID int, orch *orchestrator.Orchestrator) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := orch.RunOne(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("main", "job worker iteration failed", map[string]interface{}{"worker": workerID, "error": err.Error()})
		}
	}
}

// recoverCrashedJobs resurrects any job a prior process left stuck in the
// processing bin, per spec.md §4.2's crash-recovery invariant.
func recoverCrashedJobs(q queue.Queue) {
	recovered, err := q.RecoverCrashed()
	if err != nil {
		logger.WarnCF("main", "crash recovery sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if len(recovered) > 0 {
		logger.InfoCF("main", "recovered crashed jobs", map[string]interface{}{"count": len(recovered)})
	}
}

func buildQueue(cfg config.QueueConfig) (queue.Queue, error) {
	dedupTTL := time.Duration(cfg.DedupTTLSec) * time.Second
	if cfg.Backend == "file" {
		return queue.NewFileQueue(cfg.DataDir, dedupTTL)
	}
	return queue.NewMemoryQueue(256, dedupTTL), nil
}

func buildAgentFacade(cfg config.AgentsConfig) agentexec.Facade {
	skillTimeouts := map[string]time.Duration{}
	defaultTimeout := time.Duration(cfg.Defaults.SkillTimeoutSec) * time.Second

	if cfg.Provider == "cli" {
		return agentexec.NewCLIFacade(agentexec.CLIFacadeConfig{
			CLIPath:        cfg.CLIPath,
			DefaultTimeout: defaultTimeout,
			SkillTimeouts:  skillTimeouts,
		})
	}
	return agentexec.NewNativeFacade(agentexec.NativeFacadeConfig{
		APIKey:         cfg.APIKey,
		Model:          cfg.Defaults.Model,
		MaxTokens:      int64(cfg.Defaults.MaxTokens),
		MaxIterations:  cfg.Defaults.MaxToolIterations,
		DefaultTimeout: defaultTimeout,
		SkillTimeouts:  skillTimeouts,
	})
}
