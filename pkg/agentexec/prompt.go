package agentexec

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/h4mn/skybridge/pkg/skyerr"
)

// PromptTemplate is the on-disk JSON shape a system prompt is rendered
// from: a single "system" string carrying `{{placeholder}}` markers plus
// an optional list of skill-specific overrides.
type PromptTemplate struct {
	System      string            `json:"system"`
	SkillPrompts map[string]string `json:"skill_prompts,omitempty"`
}

// LoadPromptTemplate reads a PromptTemplate from path.
func LoadPromptTemplate(path string) (*PromptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, skyerr.Wrap(skyerr.KindUnavailable, "LoadPromptTemplate", "read template file", err)
	}
	var tmpl PromptTemplate
	if err := json.Unmarshal(data, &tmpl); err != nil {
		return nil, skyerr.Wrap(skyerr.KindInvalid, "LoadPromptTemplate", "parse template JSON", err)
	}
	return &tmpl, nil
}

// Render substitutes `{{key}}` placeholders in the template's base prompt
// (the skill-specific override when one exists for skill, the default
// System string otherwise) with values from vars.
func (t *PromptTemplate) Render(skill string, vars map[string]string) string {
	base := t.System
	if override, ok := t.SkillPrompts[skill]; ok {
		base = override
	}
	out := base
	for key, value := range vars {
		out = strings.ReplaceAll(out, fmt.Sprintf("{{%s}}", key), value)
	}
	return out
}

// DefaultPromptTemplate is used when no template file is configured — a
// minimal system prompt naming the worktree and issue context an agent
// needs to get started.
var DefaultPromptTemplate = &PromptTemplate{
	System: "You are working inside a git worktree at {{worktree_path}} addressing issue #{{issue_number}} " +
		"from {{repo_full_name}}. Make the minimal correct change, run any available tests, and report your result.",
}
