package domain

import (
	"maps"
	"slices"
	"strings"
)

// ModelTier is one of the model identifiers a session may select.
type ModelTier string

const (
	// ModelFast is the fast tier.
	ModelFast ModelTier = "haiku"
	// ModelBalanced is the balanced tier and the default selection.
	ModelBalanced ModelTier = "sonnet"
	// ModelHighCapability is the high-capability tier.
	ModelHighCapability ModelTier = "opus"
)

// DefaultModel is selected for new sessions.
const DefaultModel = ModelBalanced

// Models returns the supported tiers in display order.
func Models() []ModelTier {
	return []ModelTier{ModelBalanced, ModelHighCapability, ModelFast}
}

// ParseModel normalizes name and reports whether it is a supported tier.
func ParseModel(name string) (ModelTier, bool) {
	m := ModelTier(strings.ToLower(strings.TrimSpace(name)))
	switch m {
	case ModelFast, ModelBalanced, ModelHighCapability:
		return m, true
	}
	return "", false
}

// SubagentDefinition describes a named, specialized assistant the agent may delegate to.
type SubagentDefinition struct {
	Name        string    `json:"-" yaml:"-"`
	Description string    `json:"description" yaml:"description"`
	Prompt      string    `json:"prompt" yaml:"prompt"`
	Model       ModelTier `json:"model,omitempty" yaml:"model"`
	Tools       []string  `json:"tools,omitempty" yaml:"tools"`
}

// ToolServer is a declarative descriptor for a capability-provider subprocess
// the agent runtime launches on its own.
type ToolServer struct {
	Name    string            `json:"-" yaml:"-"`
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args"`
	Env     map[string]string `json:"env,omitempty" yaml:"env"`
}

// AgentConfiguration is the bundle sent with every request to the agent.
type AgentConfiguration struct {
	Model          ModelTier
	PermissionMode string
	SettingSources []string
	AllowedTools   []string
	Subagents      map[string]SubagentDefinition
	ToolServers    map[string]ToolServer
}

// Clone returns a deep copy so callers can hand the configuration to a
// backend without sharing slices or maps.
func (c AgentConfiguration) Clone() AgentConfiguration {
	out := AgentConfiguration{
		Model:          c.Model,
		PermissionMode: c.PermissionMode,
		SettingSources: slices.Clone(c.SettingSources),
		AllowedTools:   slices.Clone(c.AllowedTools),
		Subagents:      make(map[string]SubagentDefinition, len(c.Subagents)),
		ToolServers:    make(map[string]ToolServer, len(c.ToolServers)),
	}
	for name, def := range c.Subagents {
		def.Tools = slices.Clone(def.Tools)
		out.Subagents[name] = def
	}
	for name, srv := range c.ToolServers {
		srv.Args = slices.Clone(srv.Args)
		srv.Env = maps.Clone(srv.Env)
		out.ToolServers[name] = srv
	}
	return out
}

// SubagentNames returns the declared subagent names in sorted order.
func (c AgentConfiguration) SubagentNames() []string {
	return slices.Sorted(maps.Keys(c.Subagents))
}
