package llmadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// claudeAllowedEnv is the env allowlist sent to the Claude CLI subprocess;
// nothing else from the process environment crosses over.
var claudeAllowedEnv = []string{"ANTHROPIC_API_KEY", "PATH", "HOME"}

// ClaudeAdapter invokes a configurable Claude CLI binary, reading CLAUDE.md
// as its system-prompt file and streaming NDJSON events.
type ClaudeAdapter struct {
	BinaryPath string
	Env        map[string]string // process-level source env (ANTHROPIC_API_KEY, ...)
}

// NewClaudeAdapter constructs a ClaudeAdapter. binaryPath defaults to
// "claude" (resolved via PATH) when empty.
func NewClaudeAdapter(binaryPath string, env map[string]string) *ClaudeAdapter {
	if binaryPath == "" {
		binaryPath = "claude"
	}
	return &ClaudeAdapter{BinaryPath: binaryPath, Env: env}
}

func (a *ClaudeAdapter) Name() string { return "claude" }

func (a *ClaudeAdapter) ParseSystemPromptFile(configDir string) (string, error) {
	return readFirstExisting(configDir, "CLAUDE.md")
}

func (a *ClaudeAdapter) BuildConfigFile(servers []MCPServer, tmpDir string) (string, error) {
	return writeMCPConfigFile(servers, tmpDir, "claude-mcp-config.json")
}

func (a *ClaudeAdapter) Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error) {
	tmpDir, err := os.MkdirTemp("", "claude-session-")
	if err != nil {
		return nil, fmt.Errorf("failed to create session temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	configPath, err := a.BuildConfigFile(opts.MCPServers, tmpDir)
	if err != nil {
		return nil, err
	}

	args := []string{
		"--mcp-config", configPath,
		"--max-turns", strconv.Itoa(maxTurnsOrDefault(opts.MaxTurns)),
		"--output-format", "stream-json",
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	args = append(args, "--print", opts.Prompt)

	env := filterEnv(a.Env, claudeAllowedEnv, opts.Env)
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = tmpDir
	}

	raw, err := subprocessInvoke(ctx, subprocessSpec{Binary: a.BinaryPath, Args: args, WorkDir: workDir, Env: env})
	if err != nil {
		return nil, err
	}

	return parseNDJSONEvents(raw.Stdout, claudeEventKind)
}

func (a *ClaudeAdapter) CreateWorker() Adapter {
	return &ClaudeAdapter{BinaryPath: a.BinaryPath, Env: a.Env}
}

// claudeEventKind discriminates one decoded NDJSON line by its "type" field,
// matching the Claude CLI's stream-json event shapes.
func claudeEventKind(raw map[string]any) (kind string, toolCall *ToolCall, text string, usage *Usage) {
	t, _ := raw["type"].(string)
	switch t {
	case "tool_use":
		name, _ := raw["name"].(string)
		id, _ := raw["id"].(string)
		input, _ := raw["input"].(map[string]any)
		return "tool_use", &ToolCall{ID: id, Name: name, Input: input}, "", nil
	case "result":
		if s, ok := raw["result"].(string); ok {
			return "result", nil, s, nil
		}
		return "result", nil, "", nil
	case "usage":
		u := &Usage{}
		if v, ok := raw["input_tokens"].(float64); ok {
			u.InputTokens = int(v)
		}
		if v, ok := raw["output_tokens"].(float64); ok {
			u.OutputTokens = int(v)
		}
		return "usage", nil, "", u
	default:
		return t, nil, "", nil
	}
}

func readFirstExisting(dir string, names ...string) (string, error) {
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return "", nil
}

func writeMCPConfigFile(servers []MCPServer, tmpDir, filename string) (string, error) {
	mapping := make(map[string]any, len(servers))
	for _, s := range servers {
		mapping[s.Name] = map[string]string{"url": s.URL}
	}
	body, err := json.MarshalIndent(map[string]any{"mcpServers": mapping}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal mcp config: %w", err)
	}

	path := filepath.Join(tmpDir, filename)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		return "", fmt.Errorf("failed to write mcp config: %w", err)
	}
	return path, nil
}
