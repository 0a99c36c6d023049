package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/cochaviz/tcbuild/internal/logging"
)

// Command describes one external tool invocation.
type Command struct {
	Executable string
	Args       []string
	Dir        string
	Env        map[string]string
	// Secrets are masked whenever the command line is rendered for humans.
	Secrets []string
}

// New returns a Command for executable with a copy of args.
func New(executable string, args ...string) Command {
	return Command{
		Executable: executable,
		Args:       append([]string(nil), args...),
	}
}

// WithEnv returns a copy of c with key set in its environment.
func (c Command) WithEnv(key, value string) Command {
	env := make(map[string]string, len(c.Env)+1)
	for k, v := range c.Env {
		env[k] = v
	}
	env[key] = value
	c.Env = env
	c.Args = append([]string(nil), c.Args...)
	return c
}

// WithDir returns a copy of c that runs in dir.
func (c Command) WithDir(dir string) Command {
	c.Dir = dir
	c.Args = append([]string(nil), c.Args...)
	return c
}

// Argv returns the executable followed by its arguments.
func (c Command) Argv() []string {
	return append([]string{c.Executable}, c.Args...)
}

func (c Command) String() string {
	return strings.Join(c.Argv(), " ")
}

// WithSecrets returns a copy of c that also masks secrets.
func (c Command) WithSecrets(secrets ...string) Command {
	c.Secrets = append(append([]string(nil), c.Secrets...), secrets...)
	c.Args = append([]string(nil), c.Args...)
	return c
}

// Redacted renders the command line with its own secrets and any extra ones masked.
func (c Command) Redacted(secrets ...string) string {
	line := c.String()
	for _, secret := range append(append([]string(nil), c.Secrets...), secrets...) {
		if strings.TrimSpace(secret) == "" {
			continue
		}
		line = strings.ReplaceAll(line, secret, "****")
	}
	return line
}

// Validate reports whether the command can be started.
func (c Command) Validate() error {
	if strings.TrimSpace(c.Executable) == "" {
		return errors.New("executable cannot be empty")
	}
	if c.Dir != "" {
		info, err := os.Stat(c.Dir)
		if err != nil {
			return fmt.Errorf("working directory %s: %w", c.Dir, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("working directory %s is not a directory", c.Dir)
		}
	}
	return nil
}

func (c Command) environ() []string {
	if len(c.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := os.Environ()
	for _, k := range keys {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Result is the captured outcome of a finished command.
type Result struct {
	ExitCode int
	Output   string
}

// ExternalToolError reports a tool that could not be started or exited non-zero.
// Output holds everything the tool printed on stdout and stderr.
type ExternalToolError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExternalToolError) Error() string {
	var b strings.Builder
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, "%s exited with status %d", e.Command, e.ExitCode)
	} else {
		fmt.Fprintf(&b, "%s failed: %v", e.Command, e.Err)
	}
	if out := strings.TrimRight(e.Output, "\n"); out != "" {
		b.WriteString("\n")
		b.WriteString(out)
	}
	return b.String()
}

func (e *ExternalToolError) Unwrap() error {
	return e.Err
}

// Runner runs a command to completion and captures its combined output.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	Logger *slog.Logger
	// Secrets are masked when the command line is logged.
	Secrets []string
}

var _ Runner = (*ExecRunner)(nil)

// Run blocks until the command exits. A non-zero exit status is returned as an
// *ExternalToolError carrying the captured output.
func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if err := c.Validate(); err != nil {
		return Result{}, err
	}

	logger := logging.Ensure(r.Logger)
	logger.Debug("running external tool", "command", c.Redacted(r.Secrets...), "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Executable, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.environ()

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := Result{Output: out.String()}
	if err == nil {
		return result, nil
	}

	toolErr := &ExternalToolError{
		Command: c.Redacted(r.Secrets...),
		Output:  result.Output,
		Err:     err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		toolErr.ExitCode = result.ExitCode
	}
	return result, toolErr
}
