package executor

import (
	"context"
	"strings"
	"sync"
)

// FakeRunner records commands instead of running them. Responses are
// matched by command-line prefix; unmatched commands succeed with empty
// output.
type FakeRunner struct {
	mu        sync.Mutex
	Calls     []Command
	responses []fakeResponse
}

type fakeResponse struct {
	prefix string
	result Result
	err    error
}

// On registers the result returned for commands whose rendered line
// starts with prefix. Later registrations take precedence.
func (f *FakeRunner) On(prefix string, res Result, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{prefix: prefix, result: res, err: err})
	return f
}

// Fail registers a non-zero exit for commands starting with prefix.
func (f *FakeRunner) Fail(prefix string, code int, stderr string) *FakeRunner {
	return f.On(prefix, Result{ExitCode: code, Stderr: stderr},
		&ExitError{Command: prefix, ExitCode: code, Stderr: stderr})
}

func (f *FakeRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, c)

	line := c.String()
	for i := len(f.responses) - 1; i >= 0; i-- {
		r := f.responses[i]
		if strings.HasPrefix(line, r.prefix) {
			res := r.result
			return &res, r.err
		}
	}
	return &Result{}, nil
}

// Lines returns the rendered command lines in call order.
func (f *FakeRunner) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Calls))
	for i, c := range f.Calls {
		out[i] = c.String()
	}
	return out
}
