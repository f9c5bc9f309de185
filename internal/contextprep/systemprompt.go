package contextprep

import (
	"fmt"
	"strings"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// PromptSection is one labeled block folded into the rendered system
// prompt, joined in the order given.
type PromptSection struct {
	Label   string
	Content string
}

// RuntimeFacts describes the environment the loop is actually running in,
// folded into the system prompt so the model never has to guess it.
type RuntimeFacts struct {
	Provider     string
	Model        string
	OS           string
	Architecture string
}

// SystemPromptInputs is everything §4.F requires the rendered system
// message to cover.
type SystemPromptInputs struct {
	AgentIdentity  string
	SkillHints     []string
	AutoSkillHints []string
	Tools          []chatmodel.ToolDefinition
	WorkspaceInfo  string
	Runtime        RuntimeFacts
	EconomyMode    bool
	UndoGuarantee  bool
	ExtraSections  []PromptSection
}

// BuildSystemPrompt renders the leading system message from scratch on every
// iteration; nothing about it is incremental or cached.
func BuildSystemPrompt(in SystemPromptInputs) string {
	lines := make([]string, 0, 10)

	if identity := strings.TrimSpace(in.AgentIdentity); identity != "" {
		lines = append(lines, fmt.Sprintf("Identity: %s.", identity))
	}

	lines = append(lines, fmt.Sprintf(
		"Runtime: provider=%s model=%s os=%s arch=%s.",
		orUnknown(in.Runtime.Provider), orUnknown(in.Runtime.Model),
		orUnknown(in.Runtime.OS), orUnknown(in.Runtime.Architecture),
	))

	if in.EconomyMode {
		lines = append(lines, "Economy mode is on: responses should be terse, iteration and tool-result budgets are reduced.")
	}

	if in.UndoGuarantee {
		lines = append(lines, "Undo guarantee is active: mutating tool calls without a known reversal are blocked before they run.")
	} else {
		lines = append(lines, "Undo guarantee is disabled for this run: irreversible actions are permitted.")
	}

	if workspace := strings.TrimSpace(in.WorkspaceInfo); workspace != "" {
		lines = append(lines, fmt.Sprintf("Workspace:\n%s", workspace))
	}

	if digest := toolDigest(in.Tools); digest != "" {
		lines = append(lines, fmt.Sprintf("Available tools:\n%s", digest))
	}

	if hints := normalizeLines(in.SkillHints); len(hints) > 0 {
		lines = append(lines, fmt.Sprintf("Skill hints:\n%s", strings.Join(hints, "\n")))
	}

	if hints := normalizeLines(in.AutoSkillHints); len(hints) > 0 {
		lines = append(lines, fmt.Sprintf("Suggested skills for this request:\n%s", strings.Join(hints, "\n")))
	}

	for _, section := range normalizeSections(in.ExtraSections) {
		lines = append(lines, fmt.Sprintf("%s:\n%s", section.Label, section.Content))
	}

	return strings.TrimSpace(strings.Join(lines, "\n\n"))
}

func toolDigest(tools []chatmodel.ToolDefinition) string {
	if len(tools) == 0 {
		return ""
	}
	lines := make([]string, 0, len(tools))
	for _, t := range tools {
		desc := strings.TrimSpace(t.Description)
		if desc == "" {
			lines = append(lines, fmt.Sprintf("- %s [%s]", t.Name, t.Category))
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s [%s]: %s", t.Name, t.Category, desc))
	}
	return strings.Join(lines, "\n")
}

func normalizeLines(lines []string) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func normalizeSections(sections []PromptSection) []PromptSection {
	if len(sections) == 0 {
		return nil
	}
	out := make([]PromptSection, 0, len(sections))
	for _, s := range sections {
		label := strings.TrimSpace(s.Label)
		content := strings.TrimSpace(s.Content)
		if label == "" || content == "" {
			continue
		}
		out = append(out, PromptSection{Label: label, Content: content})
	}
	return out
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
