// Package health verifies the containers of a running RedELK stack.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"redelk/internal/docker"
	"redelk/internal/stack"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds each in-container check.
const DefaultTimeout = 10 * time.Second

// ErrDockerUnavailable is returned when the daemon cannot be reached.
var ErrDockerUnavailable = errors.New("docker is not running or not accessible")

// Kind classifies the outcome of a service check.
type Kind string

const (
	Healthy     Kind = "healthy"
	Unhealthy   Kind = "unhealthy"
	NotRunning  Kind = "not running"
	CheckFailed Kind = "check failed"
	Timeout     Kind = "timeout"
	ParseError  Kind = "parse error"
	Error       Kind = "error"
)

// Result is the health of one service.
type Result struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Status    string `json:"status"`
	Health    string `json:"health"`
	Check     Kind   `json:"check"`
	// Detail holds the offending value, exit code or error message.
	Detail string `json:"detail,omitempty"`
}

// Healthy reports whether the service check passed.
func (r Result) Healthy() bool {
	return r.Check == Healthy
}

// CheckText renders the check outcome for people, e.g. "unhealthy (red)".
func (r Result) CheckText() string {
	switch {
	case r.Check == Error && r.Detail != "":
		return "error: " + r.Detail
	case r.Detail != "":
		return fmt.Sprintf("%s (%s)", r.Check, r.Detail)
	}
	return string(r.Check)
}

// Containers is what the checker needs from the container runtime.
type Containers interface {
	Available(ctx context.Context) (string, error)
	State(ctx context.Context, name string) (docker.ContainerState, error)
	Exec(ctx context.Context, name string, cmd []string, timeout time.Duration) (*docker.ExecResult, error)
}

// Env resolves $VARS referenced by check commands.
type Env interface {
	Value(key, def string) string
}

// Checker runs service checks.
type Checker struct {
	Docker  Containers
	Env     Env
	Timeout time.Duration
	Logger  *logrus.Entry
}

// Run checks every service in order. It fails only when Docker itself is
// unreachable; per-service problems are reported in the results.
func (c *Checker) Run(ctx context.Context, services []stack.Service) ([]Result, error) {
	if _, err := c.Docker.Available(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerUnavailable, err)
	}
	results := make([]Result, 0, len(services))
	for _, svc := range services {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := c.Service(ctx, svc)
		if c.Logger != nil {
			c.Logger.Debugf("checked %s: %s", svc.Name, r.CheckText())
		}
		results = append(results, r)
	}
	return results, nil
}

// Service checks a single service.
func (c *Checker) Service(ctx context.Context, svc stack.Service) Result {
	r := Result{Name: svc.Name, Container: svc.Container, Status: "unknown", Health: "unknown"}

	st, err := c.Docker.State(ctx, svc.Container)
	if err != nil {
		r.Check, r.Detail = Error, err.Error()
		return r
	}
	r.Status, r.Health = st.Status, st.Health
	if !st.Running() {
		r.Check = NotRunning
		return r
	}

	timeout := c.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	out, err := c.Docker.Exec(ctx, svc.Container, c.expand(svc.Check.Command), timeout)
	switch {
	case errors.Is(err, docker.ErrExecTimeout):
		r.Check = Timeout
		return r
	case err != nil:
		r.Check, r.Detail = Error, err.Error()
		return r
	case out.ExitCode != 0:
		r.Check, r.Detail = CheckFailed, strconv.Itoa(out.ExitCode)
		return r
	}

	r.Check, r.Detail = Evaluate(svc.Check, out.Stdout)
	return r
}

func (c *Checker) expand(cmd []string) []string {
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		out[i] = os.Expand(arg, func(key string) string {
			if c.Env == nil {
				return os.Getenv(key)
			}
			return c.Env.Value(key, "")
		})
	}
	return out
}

// Evaluate judges the output of a successful check command.
func Evaluate(check stack.Check, output string) (Kind, string) {
	output = strings.TrimSpace(output)
	if check.JSONKey == "" {
		if len(check.Healthy) == 0 || contains(check.Healthy, output) {
			return Healthy, ""
		}
		return Unhealthy, output
	}

	var doc any
	if err := json.Unmarshal([]byte(output), &doc); err != nil {
		return ParseError, ""
	}
	value, ok := jsonPath(doc, check.JSONKey)
	if !ok {
		return Unhealthy, "missing " + check.JSONKey
	}
	if contains(check.Healthy, value) {
		return Healthy, ""
	}
	return Unhealthy, value
}

func jsonPath(doc any, path string) (string, bool) {
	cur := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		if cur, ok = m[part]; !ok {
			return "", false
		}
	}
	switch v := cur.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprint(v), true
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
