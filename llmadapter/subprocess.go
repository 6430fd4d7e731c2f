package llmadapter

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// subprocessSpec describes one CLI invocation: binary, args, working
// directory, and the environment it should see (already filtered by the
// calling adapter — never the full process environment).
type subprocessSpec struct {
	Binary  string
	Args    []string
	WorkDir string
	Env     []string // "KEY=VALUE" pairs, exec.Cmd.Env shape
}

// subprocessResult carries raw process output for the caller to parse.
type subprocessResult struct {
	Stdout      string
	Stderr      string
	ExitCode    int
	CommandLine string // shell-quoted, for audit/debug logging only — never re-executed
}

// subprocessInvoke runs spec under ctx, grounded on the teacher's
// docker_exec.go pattern: exec.CommandContext, buffered stdout/stderr,
// deadline-exceeded or cancellation returned as an error wrapping ctx.Err(),
// and a non-zero exit returned as an error carrying the exit code and the
// last lines of stderr. The captured result is returned alongside any error.
func subprocessInvoke(ctx context.Context, spec subprocessSpec) (*subprocessResult, error) {
	cmd := exec.CommandContext(ctx, spec.Binary, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := &subprocessResult{
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		ExitCode:    -1,
		CommandLine: shellquote.Join(append([]string{spec.Binary}, spec.Args...)...),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(ctx.Err(), context.Canceled) {
			return result, fmt.Errorf("subprocess %s: %w", spec.Binary, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			excerpt := stderrExcerpt(result.Stderr)
			return result, fmt.Errorf("subprocess %s exited %d: %s", spec.Binary, result.ExitCode, excerpt)
		}
		return result, fmt.Errorf("subprocess %s failed to start: %w", spec.Binary, err)
	}

	return result, nil
}

// stderrExcerpt returns at most the last few lines of stderr, enough to
// diagnose a CLI failure without flooding logs with a full stack dump.
func stderrExcerpt(stderr string) string {
	lines := strings.Split(strings.TrimRight(stderr, "\n"), "\n")
	const maxLines = 10
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n")
}

// scanNDJSONLines calls fn once per non-empty line of data, stopping at the
// first error fn returns or at EOF.
func scanNDJSONLines(data string, fn func(line string) error) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
