package runner

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Agent definitions are markdown files with optional YAML frontmatter. The
// body is the agent's system prompt; the frontmatter may reference skills by
// name, each of which resolves to a <skills-dir>/<name>/SKILL.md file whose
// body gets embedded into the prompt for backends without native agent
// support.

// AgentNameFromPath derives the agent name from a definition path:
// the file stem with underscores mapped to hyphens.
func AgentNameFromPath(specPath string) string {
	stem := strings.TrimSuffix(filepath.Base(specPath), filepath.Ext(specPath))
	return strings.ReplaceAll(stem, "_", "-")
}

// splitFrontmatter separates YAML frontmatter from markdown body. Content
// without a leading "---" marker has no frontmatter.
func splitFrontmatter(content string) (frontmatter, body string) {
	if !strings.HasPrefix(content, "---") {
		return "", content
	}
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return "", content
	}
	return parts[1], parts[2]
}

// readAgentSpec returns the definition file content, or empty when the
// file is absent. A missing definition degrades the prompt, it does not
// fail the invocation.
func readAgentSpec(specPath string) string {
	data, err := os.ReadFile(specPath)
	if err != nil {
		return ""
	}
	return string(data)
}

// systemPromptFromSpec extracts the definition body for embedding.
func systemPromptFromSpec(specPath string) string {
	content := readAgentSpec(specPath)
	if content == "" {
		return ""
	}
	_, body := splitFrontmatter(content)
	return strings.TrimSpace(body)
}

// agentMeta is the decoded frontmatter of an agent definition.
type agentMeta struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Model       string    `yaml:"model"`
	Skills      skillList `yaml:"skills"`
}

// skillList accepts both frontmatter forms in the wild: a YAML sequence and
// an inline comma-separated string ("skills: tdd, security-review").
type skillList []string

func (s *skillList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*s = cleanSkillNames(items)
	case yaml.ScalarNode:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		*s = cleanSkillNames(strings.Split(raw, ","))
	}
	return nil
}

func cleanSkillNames(items []string) []string {
	var out []string
	for _, item := range items {
		if name := strings.TrimSpace(item); name != "" {
			out = append(out, name)
		}
	}
	return out
}

// parseAgentMeta decodes frontmatter text. Malformed YAML degrades to an
// empty meta rather than failing the invocation.
func parseAgentMeta(frontmatter string) agentMeta {
	var meta agentMeta
	if strings.TrimSpace(frontmatter) == "" {
		return meta
	}
	_ = yaml.Unmarshal([]byte(frontmatter), &meta)
	return meta
}

// candidateSkillsDirs lists the directories searched for skill definitions:
// a "skills" sibling of the agents directory, then the configured skills
// directory when set.
func candidateSkillsDirs(specPath, skillsDir string) []string {
	var candidates []string
	agentDir := filepath.Dir(specPath)
	if filepath.Base(agentDir) == "agents" {
		candidates = append(candidates, filepath.Join(filepath.Dir(agentDir), "skills"))
	}
	if skillsDir != "" {
		candidates = append(candidates, skillsDir)
	}
	return candidates
}

// loadSkillText finds a skill by name across candidate directories and
// returns its body with frontmatter stripped.
func loadSkillText(name string, candidates []string) string {
	for _, dir := range candidates {
		data, err := os.ReadFile(filepath.Join(dir, name, "SKILL.md"))
		if err != nil {
			continue
		}
		_, body := splitFrontmatter(string(data))
		return strings.TrimSpace(body)
	}
	return ""
}

// skillsPromptFromSpec renders the skills an agent definition references
// into prompt sections. Unresolvable skills are silently skipped.
func skillsPromptFromSpec(specPath, skillsDir string) string {
	content := readAgentSpec(specPath)
	if content == "" {
		return ""
	}

	frontmatter, _ := splitFrontmatter(content)
	names := parseAgentMeta(frontmatter).Skills
	if len(names) == 0 {
		return ""
	}

	candidates := candidateSkillsDirs(specPath, skillsDir)
	var rendered []string
	for _, name := range names {
		text := loadSkillText(name, candidates)
		if text == "" {
			continue
		}
		rendered = append(rendered, "## Skill: "+name+"\n\n"+text)
	}

	return strings.Join(rendered, "\n\n")
}

// buildEmbeddedPrompt assembles the full prompt for backends that cannot
// load agent definitions natively: system prompt and skills first, a rule
// separator, then the task prompt with its context block.
func buildEmbeddedPrompt(prompt string, context map[string]any, systemPrompt, skillsPrompt string) string {
	var prelude []string
	if s := strings.TrimSpace(systemPrompt); s != "" {
		prelude = append(prelude, s)
	}
	if s := strings.TrimSpace(skillsPrompt); s != "" {
		prelude = append(prelude, s)
	}

	body := appendContext(prompt, context)
	if len(prelude) == 0 {
		return body
	}
	return strings.Join(prelude, "\n\n") + "\n\n---\n\n" + body
}
