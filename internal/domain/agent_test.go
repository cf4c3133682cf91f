package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want ModelTier
		ok   bool
	}{
		{"sonnet", ModelBalanced, true},
		{" Opus ", ModelHighCapability, true},
		{"HAIKU", ModelFast, true},
		{"gpt-4", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseModel(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestModelsOrder(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []ModelTier{"sonnet", "opus", "haiku"}, Models())
	assert.Equal(t, ModelBalanced, DefaultModel)
}

func TestAgentConfigurationClone(t *testing.T) {
	t.Parallel()

	orig := AgentConfiguration{
		Model:        ModelBalanced,
		AllowedTools: []string{"Read", "Task"},
		Subagents: map[string]SubagentDefinition{
			"researcher": {Description: "d", Prompt: "p", Tools: []string{"WebSearch"}},
		},
		ToolServers: map[string]ToolServer{
			"Playwright": {Command: "npx", Args: []string{"-y"}, Env: map[string]string{"A": "1"}},
		},
	}

	cp := orig.Clone()
	cp.AllowedTools[0] = "Write"
	cp.Subagents["researcher"].Tools[0] = "Bash"
	cp.ToolServers["Playwright"].Args[0] = "--x"
	cp.ToolServers["Playwright"].Env["A"] = "2"

	require.Equal(t, "Read", orig.AllowedTools[0])
	assert.Equal(t, "WebSearch", orig.Subagents["researcher"].Tools[0])
	assert.Equal(t, "-y", orig.ToolServers["Playwright"].Args[0])
	assert.Equal(t, "1", orig.ToolServers["Playwright"].Env["A"])
	assert.Equal(t, []string{"researcher"}, cp.SubagentNames())
}
