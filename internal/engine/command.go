package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Avis2912/magnus/internal/logging"
)

// Command runs an external program once per task as
// `<path> [args...] --task_id <id> --prompt <prompt>`. Its stdout and stderr
// are streamed into the task as raw output. A non-zero exit fails the task.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string

	// WaitDelay bounds how long output pipes may stay open after the
	// process was killed.
	WaitDelay time.Duration
}

func (c *Command) Run(ctx context.Context, prompt string) (string, error) {
	path := strings.TrimSpace(c.Path)
	if path == "" {
		return "", errors.New("command path is required")
	}
	args := append([]string{}, c.Args...)
	if id := TaskID(ctx); id != "" {
		args = append(args, "--task_id", id)
	}
	args = append(args, "--prompt", prompt)

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	out := Output(ctx)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = c.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = 2 * time.Second
	}

	lg := logging.FromContext(ctx)
	lg.Debug("command engine start", "path", path, "args", len(args))
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("%s exited with code %d", filepath.Base(path), exitErr.ExitCode())
		}
		return "", fmt.Errorf("run %s: %w", filepath.Base(path), err)
	}
	return fmt.Sprintf("%s finished successfully", filepath.Base(path)), nil
}
