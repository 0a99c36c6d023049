package command

import (
	"context"
	"fmt"
	"strings"
)

// Recorder is a Runner that records commands instead of running them. Responses are
// matched by executable and first argument ("docker run", "java -cp" ...); unmatched
// commands succeed with empty output.
type Recorder struct {
	Commands  []Command
	Responses map[string]Result
}

var _ Runner = (*Recorder)(nil)

// Respond registers the result returned for commands whose "executable arg0" key
// matches key. Results with a non-zero exit code are returned as errors.
func (r *Recorder) Respond(key string, result Result) {
	if r.Responses == nil {
		r.Responses = map[string]Result{}
	}
	r.Responses[key] = result
}

func (r *Recorder) Run(_ context.Context, c Command) (Result, error) {
	r.Commands = append(r.Commands, c)

	result, ok := r.Responses[recorderKey(c)]
	if !ok {
		result, ok = r.Responses[c.Executable]
	}
	if !ok || result.ExitCode == 0 {
		return result, nil
	}
	return result, &ExternalToolError{
		Command:  c.Redacted(),
		ExitCode: result.ExitCode,
		Output:   result.Output,
		Err:      fmt.Errorf("exit status %d", result.ExitCode),
	}
}

// Last returns the most recently recorded command.
func (r *Recorder) Last() Command {
	if len(r.Commands) == 0 {
		return Command{}
	}
	return r.Commands[len(r.Commands)-1]
}

func recorderKey(c Command) string {
	if len(c.Args) == 0 {
		return c.Executable
	}
	return strings.Join([]string{c.Executable, c.Args[0]}, " ")
}
