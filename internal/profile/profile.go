// Package profile holds the static agent profile: the main tool allowlist, the
// declarative subagent table and the tool servers handed to the agent runtime.
//
// A profile is loaded once at startup, validated, and then only read.
package profile

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/ashureev/kaya/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultProfile []byte

// ErrInvalidProfile is returned when a profile fails to parse or validate.
var ErrInvalidProfile = errors.New("invalid agent profile")

// Permission modes understood by the agent runtime.
var permissionModes = []string{"default", "acceptEdits", "plan", "bypassPermissions"}

// builtinTools is the catalog of tools provided by the agent runtime itself.
var builtinTools = map[string]struct{}{
	"Bash": {}, "BashOutput": {}, "KillShell": {},
	"Read": {}, "Write": {}, "Edit": {}, "MultiEdit": {}, "NotebookEdit": {},
	"Grep": {}, "Glob": {},
	"Task": {}, "TodoWrite": {}, "ExitPlanMode": {}, "SlashCommand": {},
	"WebSearch": {}, "WebFetch": {},
}

const delegationTool = "Task"

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
	mcpToolPattern = regexp.MustCompile(`^mcp__([A-Za-z0-9_-]+)__([A-Za-z0-9_]+)$`)
)

// Summary is the public description of a subagent shown in the sidebar.
type Summary struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Model       domain.ModelTier `json:"model,omitempty"`
}

// Profile is a validated agent profile.
type Profile struct {
	permissionMode string
	settingSources []string
	allowedTools   []string
	subagents      map[string]domain.SubagentDefinition
	toolServers    map[string]domain.ToolServer
}

// toolList decodes a YAML sequence of tool names, flattening nested sequences
// so anchored tool sets can be spliced into a list.
type toolList []string

func (l *toolList) UnmarshalYAML(node *yaml.Node) error {
	var out []string
	var walk func(n *yaml.Node) error
	walk = func(n *yaml.Node) error {
		switch n.Kind {
		case yaml.AliasNode:
			return walk(n.Alias)
		case yaml.ScalarNode:
			out = append(out, strings.TrimSpace(n.Value))
		case yaml.SequenceNode:
			for _, child := range n.Content {
				if err := walk(child); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("line %d: tool list entries must be names or lists of names", n.Line)
		}
		return nil
	}
	if err := walk(node); err != nil {
		return err
	}
	*l = out
	return nil
}

type fileSubagent struct {
	Description string   `yaml:"description"`
	Prompt      string   `yaml:"prompt"`
	Model       string   `yaml:"model"`
	Tools       toolList `yaml:"tools"`
}

type fileToolServer struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

type file struct {
	PermissionMode string                    `yaml:"permission_mode"`
	SettingSources []string                  `yaml:"setting_sources"`
	ToolSets       map[string]toolList       `yaml:"tool_sets"`
	AllowedTools   toolList                  `yaml:"allowed_tools"`
	Subagents      map[string]fileSubagent   `yaml:"subagents"`
	ToolServers    map[string]fileToolServer `yaml:"tool_servers"`
}

// Default returns the embedded profile.
func Default() (*Profile, error) {
	return Parse(defaultProfile)
}

// Load reads a profile from path, or returns the embedded profile when path is empty.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}

	p := &Profile{
		permissionMode: f.PermissionMode,
		settingSources: f.SettingSources,
		allowedTools:   dedupe(f.AllowedTools),
		subagents:      make(map[string]domain.SubagentDefinition, len(f.Subagents)),
		toolServers:    make(map[string]domain.ToolServer, len(f.ToolServers)),
	}
	if p.permissionMode == "" {
		p.permissionMode = "default"
	}

	var problems []string
	for name, srv := range f.ToolServers {
		p.toolServers[name] = domain.ToolServer{
			Name:    name,
			Command: strings.TrimSpace(srv.Command),
			Args:    srv.Args,
			Env:     srv.Env,
		}
	}
	for name, sa := range f.Subagents {
		def := domain.SubagentDefinition{
			Name:        name,
			Description: strings.TrimSpace(sa.Description),
			Prompt:      strings.TrimSpace(sa.Prompt),
			Tools:       dedupe(sa.Tools),
		}
		if sa.Model != "" {
			model, ok := domain.ParseModel(sa.Model)
			if !ok {
				problems = append(problems, fmt.Sprintf("subagent %q: unknown model %q", name, sa.Model))
			}
			def.Model = model
		}
		p.subagents[name] = def
	}

	problems = append(problems, p.validate()...)
	if len(problems) > 0 {
		slices.Sort(problems)
		return nil, fmt.Errorf("%w: %s", ErrInvalidProfile, strings.Join(problems, "; "))
	}
	return p, nil
}

func (p *Profile) validate() []string {
	var problems []string

	if !slices.Contains(permissionModes, p.permissionMode) {
		problems = append(problems, fmt.Sprintf("permission_mode %q is not one of %v", p.permissionMode, permissionModes))
	}

	for name, srv := range p.toolServers {
		if !namePattern.MatchString(name) {
			problems = append(problems, fmt.Sprintf("tool server name %q is invalid", name))
		}
		if srv.Command == "" {
			problems = append(problems, fmt.Sprintf("tool server %q: command is required", name))
		}
	}

	for _, tool := range p.allowedTools {
		if !p.knownTool(tool) {
			problems = append(problems, fmt.Sprintf("allowed_tools: unknown tool %q", tool))
		}
	}
	if len(p.subagents) > 0 && !slices.Contains(p.allowedTools, delegationTool) {
		problems = append(problems, fmt.Sprintf("allowed_tools must include %q when subagents are declared", delegationTool))
	}

	for name, def := range p.subagents {
		if !namePattern.MatchString(name) {
			problems = append(problems, fmt.Sprintf("subagent name %q is invalid", name))
		}
		if def.Description == "" {
			problems = append(problems, fmt.Sprintf("subagent %q: description is required", name))
		}
		if def.Prompt == "" {
			problems = append(problems, fmt.Sprintf("subagent %q: prompt is required", name))
		}
		for _, tool := range def.Tools {
			if !p.knownTool(tool) {
				problems = append(problems, fmt.Sprintf("subagent %q: unknown tool %q", name, tool))
			}
		}
	}
	return problems
}

// knownTool reports whether tool is a builtin or belongs to a declared tool server.
func (p *Profile) knownTool(tool string) bool {
	if _, ok := builtinTools[tool]; ok {
		return true
	}
	m := mcpToolPattern.FindStringSubmatch(tool)
	if m == nil {
		return false
	}
	_, ok := p.toolServers[m[1]]
	return ok
}

// Configuration builds a fresh agent configuration for model.
func (p *Profile) Configuration(model domain.ModelTier) domain.AgentConfiguration {
	return domain.AgentConfiguration{
		Model:          model,
		PermissionMode: p.permissionMode,
		SettingSources: p.settingSources,
		AllowedTools:   p.allowedTools,
		Subagents:      p.subagents,
		ToolServers:    p.toolServers,
	}.Clone()
}

// Subagents returns the declared subagents sorted by name.
func (p *Profile) Subagents() []Summary {
	out := make([]Summary, 0, len(p.subagents))
	for _, name := range slices.Sorted(maps.Keys(p.subagents)) {
		def := p.subagents[name]
		out = append(out, Summary{Name: name, Description: def.Description, Model: def.Model})
	}
	return out
}

// ToolServerNames returns the declared tool server names sorted.
func (p *Profile) ToolServerNames() []string {
	return slices.Sorted(maps.Keys(p.toolServers))
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
