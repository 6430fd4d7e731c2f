package llmadapter

import (
	"context"
	"fmt"
	"os"
	"strconv"
)

// geminiAllowedEnv is the env allowlist sent to the Gemini CLI subprocess.
// ANTHROPIC_API_KEY never crosses over here, mirroring claudeAllowedEnv's
// exclusion of Google credentials.
var geminiAllowedEnv = []string{"GOOGLE_API_KEY", "GOOGLE_OAUTH_CLIENT_ID", "GOOGLE_OAUTH_CLIENT_SECRET", "PATH", "HOME"}

// GeminiAdapter invokes a configurable Gemini CLI binary, reading GEMINI.md
// (falling back to AGENTS.md) as its system-prompt file and streaming NDJSON
// events shaped around functionCall rather than tool_use.
type GeminiAdapter struct {
	BinaryPath string
	Env        map[string]string
}

// NewGeminiAdapter constructs a GeminiAdapter. binaryPath defaults to
// "gemini" (resolved via PATH) when empty.
func NewGeminiAdapter(binaryPath string, env map[string]string) *GeminiAdapter {
	if binaryPath == "" {
		binaryPath = "gemini"
	}
	return &GeminiAdapter{BinaryPath: binaryPath, Env: env}
}

func (a *GeminiAdapter) Name() string { return "gemini" }

func (a *GeminiAdapter) ParseSystemPromptFile(configDir string) (string, error) {
	return readFirstExisting(configDir, "GEMINI.md", "AGENTS.md")
}

func (a *GeminiAdapter) BuildConfigFile(servers []MCPServer, tmpDir string) (string, error) {
	return writeMCPConfigFile(servers, tmpDir, "gemini-mcp-config.json")
}

func (a *GeminiAdapter) Invoke(ctx context.Context, opts InvokeOptions) (*InvokeResult, error) {
	tmpDir, err := os.MkdirTemp("", "gemini-session-")
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
	args = append(args, "--prompt", opts.Prompt)

	env := filterEnv(a.Env, geminiAllowedEnv, opts.Env)
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = tmpDir
	}

	raw, err := subprocessInvoke(ctx, subprocessSpec{Binary: a.BinaryPath, Args: args, WorkDir: workDir, Env: env})
	if err != nil {
		return nil, err
	}

	return parseNDJSONEvents(raw.Stdout, geminiEventKind)
}

func (a *GeminiAdapter) CreateWorker() Adapter {
	return &GeminiAdapter{BinaryPath: a.BinaryPath, Env: a.Env}
}

// geminiEventKind discriminates one decoded NDJSON line by its "type" field,
// matching the Gemini CLI's event shapes: functionCall instead of tool_use,
// otherwise the same result/usage vocabulary.
func geminiEventKind(raw map[string]any) (kind string, toolCall *ToolCall, text string, usage *Usage) {
	t, _ := raw["type"].(string)
	switch t {
	case "functionCall":
		name, _ := raw["name"].(string)
		id, _ := raw["id"].(string)
		args, _ := raw["args"].(map[string]any)
		return "functionCall", &ToolCall{ID: id, Name: name, Input: args}, "", nil
	case "result":
		if s, ok := raw["result"].(string); ok {
			return "result", nil, s, nil
		}
		return "result", nil, "", nil
	case "usage":
		u := &Usage{}
		if v, ok := raw["promptTokenCount"].(float64); ok {
			u.InputTokens = int(v)
		}
		if v, ok := raw["candidatesTokenCount"].(float64); ok {
			u.OutputTokens = int(v)
		}
		return "usage", nil, "", u
	default:
		return t, nil, "", nil
	}
}
