package llmadapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeAdapter_ParseSystemPromptFile_ReadsClaudeMD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "CLAUDE.md"), []byte("you are the health butler"), 0o644))

	a := NewClaudeAdapter("", nil)
	content, err := a.ParseSystemPromptFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "you are the health butler", content)
}

func TestClaudeAdapter_ParseSystemPromptFile_MissingReturnsEmpty(t *testing.T) {
	a := NewClaudeAdapter("", nil)
	content, err := a.ParseSystemPromptFile(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestClaudeAdapter_ParseSystemPromptFile_NeverFallsBackToAgentsMD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("generic agent instructions"), 0o644))

	a := NewClaudeAdapter("", nil)
	content, err := a.ParseSystemPromptFile(dir)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestClaudeAdapter_BuildConfigFile_WritesMCPServerMapping(t *testing.T) {
	dir := t.TempDir()
	a := NewClaudeAdapter("", nil)
	path, err := a.BuildConfigFile([]MCPServer{{Name: "memory", URL: "http://localhost:9001"}}, dir)
	require.NoError(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"memory"`)
	assert.Contains(t, string(body), "http://localhost:9001")
}

func TestClaudeAdapter_Name(t *testing.T) {
	assert.Equal(t, "claude", NewClaudeAdapter("", nil).Name())
}

func TestClaudeAdapter_CreateWorker_SharesStaticConfigOnly(t *testing.T) {
	a := NewClaudeAdapter("/usr/local/bin/claude", map[string]string{"ANTHROPIC_API_KEY": "k"})
	worker := a.CreateWorker()

	claudeWorker, ok := worker.(*ClaudeAdapter)
	require.True(t, ok)
	assert.Equal(t, a.BinaryPath, claudeWorker.BinaryPath)
	assert.NotSame(t, a, claudeWorker)
}

func TestGeminiAdapter_ParseSystemPromptFile_FallsBackToAgentsMD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("generic agent instructions"), 0o644))

	a := NewGeminiAdapter("", nil)
	content, err := a.ParseSystemPromptFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "generic agent instructions", content)
}

func TestGeminiAdapter_ParseSystemPromptFile_PrefersGeminiMD(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("generic"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GEMINI.md"), []byte("gemini-specific"), 0o644))

	a := NewGeminiAdapter("", nil)
	content, err := a.ParseSystemPromptFile(dir)
	require.NoError(t, err)
	assert.Equal(t, "gemini-specific", content)
}

func TestGeminiAdapter_Name(t *testing.T) {
	assert.Equal(t, "gemini", NewGeminiAdapter("", nil).Name())
}
