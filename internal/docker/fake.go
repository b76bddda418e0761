package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/pkg/stdcopy"
)

// FakeContainer scripts one container for Fake.
type FakeContainer struct {
	Status string
	Health string
	// Exec maps a command line (joined with spaces) to its output.
	Exec map[string]FakeExec
}

// FakeExec is a scripted exec outcome.
type FakeExec struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Block    bool // never finish; exercises timeouts
}

// Fake is an in-memory API used by tests.
type Fake struct {
	mu         sync.Mutex
	Down       bool
	Version    string
	Containers map[string]*FakeContainer
	Pulled     []string

	execs map[string]FakeExec
	seq   int
}

var _ API = (*Fake)(nil)

func (f *Fake) Ping(ctx context.Context) (types.Ping, error) {
	if f.Down {
		return types.Ping{}, errors.New("cannot connect to the docker daemon")
	}
	return types.Ping{APIVersion: "1.47"}, nil
}

func (f *Fake) ServerVersion(ctx context.Context) (types.Version, error) {
	if f.Down {
		return types.Version{}, errors.New("cannot connect to the docker daemon")
	}
	return types.Version{Version: f.Version}, nil
}

func (f *Fake) ContainerInspect(ctx context.Context, name string) (container.InspectResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.Containers[name]
	if !ok {
		return container.InspectResponse{}, fmt.Errorf("no such container %s: %w", name, errdefs.ErrNotFound)
	}
	state := &container.State{Status: container.ContainerState(fc.Status)}
	if fc.Health != "" {
		state.Health = &container.Health{Status: container.HealthStatus(fc.Health)}
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{Name: "/" + name, State: state},
	}, nil
}

func (f *Fake) ContainerExecCreate(ctx context.Context, name string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fc, ok := f.Containers[name]
	if !ok {
		return container.ExecCreateResponse{}, errdefs.ErrNotFound
	}
	line := strings.Join(options.Cmd, " ")
	out, ok := fc.Exec[line]
	if !ok {
		out = FakeExec{Stderr: "executable file not found", ExitCode: 127}
	}
	if f.execs == nil {
		f.execs = make(map[string]FakeExec)
	}
	f.seq++
	id := fmt.Sprintf("exec-%d", f.seq)
	f.execs[id] = out
	return container.ExecCreateResponse{ID: id}, nil
}

func (f *Fake) ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error) {
	f.mu.Lock()
	out := f.execs[execID]
	f.mu.Unlock()

	local, remote := net.Pipe()
	if out.Block {
		// Reads on the pipe block until the caller gives up.
		return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(local)}, nil
	}
	remote.Close()

	var buf bytes.Buffer
	if out.Stdout != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(out.Stdout))
	}
	if out.Stderr != "" {
		stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(out.Stderr))
	}
	return types.HijackedResponse{Conn: local, Reader: bufio.NewReader(&buf)}, nil
}

func (f *Fake) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return container.ExecInspect{ExecID: execID, ExitCode: f.execs[execID].ExitCode}, nil
}

func (f *Fake) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Down {
		return nil, errors.New("cannot connect to the docker daemon")
	}
	f.Pulled = append(f.Pulled, ref)
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (f *Fake) Close() error { return nil }
