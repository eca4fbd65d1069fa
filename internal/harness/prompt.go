package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fentz26/warden/internal/config"
	"github.com/fentz26/warden/internal/models"
)

const (
	buildPlanSummaryLimit = 2000
	progressTailLimit     = 1000
)

// buildPrompt produces the focused single-task prompt. The agent gets
// exactly one task, the project context, and its own prior notes.
func (h *Harness) buildPrompt(task *models.Task) string {
	var b strings.Builder

	b.WriteString("## Your Task\n\n")
	b.WriteString("Implement this ONE feature:\n\n")
	fmt.Fprintf(&b, "**Task ID:** %s\n", task.ID)
	fmt.Fprintf(&b, "**Description:** %s\n", task.Description)
	if task.Steps != "" {
		fmt.Fprintf(&b, "\n**Steps to verify:**\n%s\n", task.Steps)
	}

	b.WriteString(`
## Process

1. Understand the requirement from the description and steps
2. Implement the feature
3. Verify it in the running app:
   - Take a screenshot into screenshots/` + h.cfg.SessionID + `/` + task.ID + `-<name>.png
   - View the screenshot to confirm the expected behavior
4. Fix any issues you find
5. Set "passes": true for this task in ` + config.FeatureListName + ` using the edit tool
6. Commit your changes with a descriptive message

## Constraints

- Work ONLY on this task - do not touch other features
- Screenshot verification is REQUIRED before marking the task passing
- Commit when done, or when stuck after several attempts
- If stuck, record what you tried in ` + config.ProgressFileName + `
`)

	fmt.Fprintf(&b, "\n## Project Context\n\n%s\n", h.loadBuildPlanSummary())
	fmt.Fprintf(&b, "\n## Previous Progress\n\n%s\n", h.loadProgressContext())
	fmt.Fprintf(&b, "\nWorking on session %s, branch %s.\n", h.cfg.SessionID, h.cfg.Branch)
	fmt.Fprintf(&b, "Begin implementing %s now.\n", task.ID)

	return b.String()
}

// loadBuildPlanSummary returns the head of BUILD_PLAN.md, checking the
// prompts directory first.
func (h *Harness) loadBuildPlanSummary() string {
	for _, path := range []string{
		filepath.Join(h.cfg.RepoDir(), "prompts", config.BuildPlanName),
		filepath.Join(h.cfg.RepoDir(), config.BuildPlanName),
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		content := string(data)
		if len(content) > buildPlanSummaryLimit {
			return content[:buildPlanSummaryLimit] + "\n\n[... truncated ...]"
		}
		return content
	}
	return "[No " + config.BuildPlanName + " found]"
}

// loadProgressContext returns the tail of the agent's progress notes.
func (h *Harness) loadProgressContext() string {
	data, err := os.ReadFile(h.cfg.ProgressFilePath())
	if err != nil {
		return "[No previous progress recorded]"
	}
	content := string(data)
	if len(content) > progressTailLimit {
		return "..." + content[len(content)-progressTailLimit:]
	}
	return content
}

const defaultSystemPrompt = `You are an expert software engineer working inside a supervised session.

You are implementing one specific feature from ` + config.FeatureListName + `. Your job:
1. Read and understand the feature requirement
2. Implement the feature
3. Take screenshots to verify your work, and view them
4. Set "passes": true for the feature in ` + config.FeatureListName + ` once verified
5. Commit your changes

Rules:
- Focus ONLY on the assigned feature
- Screenshot verification is REQUIRED before marking a feature passing
- Commit when done or when stuck after multiple attempts
- Keep ` + config.ProgressFileName + ` up to date with your progress
`

// loadSystemPrompt prefers a project-provided system prompt over the
// built-in one.
func (h *Harness) loadSystemPrompt() string {
	for _, name := range []string{"worker_system_prompt.txt", "system_prompt.txt"} {
		path := filepath.Join(h.cfg.RepoDir(), "prompts", name)
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	return defaultSystemPrompt
}
