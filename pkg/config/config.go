// Package config loads skybridge's YAML configuration file and applies
// environment-variable overrides for secrets that should never live in a
// checked-in file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration tree, loaded from config.yaml (or the
// path given by SKYBRIDGE_CONFIG) and layered with SKYBRIDGE_* env vars.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Worktree WorktreeConfig `yaml:"worktree"`
	Agents   AgentsConfig   `yaml:"agents"`
	Queue    QueueConfig    `yaml:"queue"`
	Kanban   KanbanConfig   `yaml:"kanban"`
	Trello   TrelloConfig   `yaml:"trello"`
	GitHub   GitHubConfig   `yaml:"github"`
}

// ServerConfig configures the HTTP surface (webhook intake, dashboard,
// console websocket).
type ServerConfig struct {
	Addr       string `yaml:"addr"`        // e.g. ":8787"
	APIKey     string `yaml:"api_key,omitempty"`
	DashboardDir string `yaml:"dashboard_dir,omitempty"`
}

// WebhooksConfig holds per-source shared secrets used for signature
// verification.
type WebhooksConfig struct {
	GitHubSecret string `yaml:"github_secret,omitempty"`
	TrelloSecret string `yaml:"trello_secret,omitempty"`
	TrelloCallbackURL string `yaml:"trello_callback_url,omitempty"`
}

// WorktreeConfig configures the worktree manager.
type WorktreeConfig struct {
	BasePath   string `yaml:"base_path"`   // parent directory for all worktrees
	RepoPath   string `yaml:"repo_path"`   // path to the git repository the worktrees branch off
	BaseBranch string `yaml:"base_branch"` // default "dev"
	BranchPrefix string `yaml:"branch_prefix"` // default "webhook/"
	CommandTimeoutSec int `yaml:"command_timeout_sec"` // default 30
}

// AgentDefaults mirrors the defaults block an agent run falls back to when
// a skill does not override them.
type AgentDefaults struct {
	Workspace         string  `yaml:"workspace"`
	Model             string  `yaml:"model"`
	MaxTokens         int     `yaml:"max_tokens"`
	Temperature       float64 `yaml:"temperature"`
	MaxToolIterations int     `yaml:"max_tool_iterations"`
	SkillTimeoutSec   int     `yaml:"skill_timeout_sec"`
}

// AgentsConfig configures the agent execution subsystem.
type AgentsConfig struct {
	Defaults AgentDefaults `yaml:"defaults"`
	Provider string        `yaml:"provider"` // "anthropic" | "cli"
	CLIPath  string        `yaml:"cli_path,omitempty"`
	APIKey   string        `yaml:"api_key,omitempty"`
}

// QueueConfig selects the job queue backend.
type QueueConfig struct {
	Backend string `yaml:"backend"` // "memory" | "file"
	DataDir string `yaml:"data_dir,omitempty"`
	DedupTTLSec int `yaml:"dedup_ttl_sec"`
}

// KanbanConfig configures the local board.
type KanbanConfig struct {
	DBPath string `yaml:"db_path"`
}

// TrelloConfig configures the optional external sync.
type TrelloConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKey    string `yaml:"api_key,omitempty"`
	Token     string `yaml:"token,omitempty"`
	BoardID   string `yaml:"board_id,omitempty"`
}

// GitHubConfig configures the optional PR-opening client.
type GitHubConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Owner       string `yaml:"owner,omitempty"`
	Repo        string `yaml:"repo,omitempty"`
	OAuthToken  string `yaml:"oauth_token,omitempty"`
}

// Default returns a Config with every field set to a safe, working default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8787"},
		Worktree: WorktreeConfig{
			BasePath:          "./worktrees",
			RepoPath:          ".",
			BaseBranch:        "dev",
			BranchPrefix:      "webhook/",
			CommandTimeoutSec: 30,
		},
		Agents: AgentsConfig{
			Provider: "anthropic",
			Defaults: AgentDefaults{
				Workspace:         "./worktrees",
				Model:             "claude-sonnet-4-5",
				MaxTokens:         8192,
				Temperature:       0.2,
				MaxToolIterations: 40,
				SkillTimeoutSec:   900,
			},
		},
		Queue: QueueConfig{Backend: "file", DataDir: "./data/queue", DedupTTLSec: 86400},
		Kanban: KanbanConfig{DBPath: "./data/kanban.db"},
	}
}

// Load reads path (or SKYBRIDGE_CONFIG, or "config.yaml" if path is empty),
// then applies env overrides for secret-bearing fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SKYBRIDGE_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}

	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKYBRIDGE_GITHUB_WEBHOOK_SECRET"); v != "" {
		cfg.Webhooks.GitHubSecret = v
	}
	if v := os.Getenv("SKYBRIDGE_TRELLO_WEBHOOK_SECRET"); v != "" {
		cfg.Webhooks.TrelloSecret = v
	}
	if v := os.Getenv("SKYBRIDGE_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Agents.APIKey = v
	}
	if v := os.Getenv("SKYBRIDGE_TRELLO_API_KEY"); v != "" {
		cfg.Trello.APIKey = v
	}
	if v := os.Getenv("SKYBRIDGE_TRELLO_TOKEN"); v != "" {
		cfg.Trello.Token = v
	}
	if v := os.Getenv("SKYBRIDGE_GITHUB_OAUTH_TOKEN"); v != "" {
		cfg.GitHub.OAuthToken = v
	}
}
