// Package docker wraps the parts of the Docker Engine API the installer
// and the health checker need: daemon reachability, container state,
// exec inside a running container and image pulls.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// StatusNotFound is reported for containers the daemon does not know.
const StatusNotFound = "not found"

// ErrExecTimeout is returned when a command inside a container outlives
// its deadline.
var ErrExecTimeout = errors.New("exec timed out")

// API is the subset of the Docker client used here.
type API interface {
	Ping(ctx context.Context) (types.Ping, error)
	ServerVersion(ctx context.Context) (types.Version, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// Client is a thin, logged wrapper over API.
type Client struct {
	api    API
	logger *logrus.Entry
}

// ContainerState is the runtime view of one container.
type ContainerState struct {
	Status string // running, exited, not found, ...
	Health string // healthy, unhealthy, starting or none
}

// Running reports whether the container is up.
func (s ContainerState) Running() bool {
	return s.Status == "running"
}

// ExecResult is the outcome of a command run inside a container.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// NewFromEnv connects using DOCKER_HOST and friends, negotiating the API version.
func NewFromEnv(logger *logrus.Entry) (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return New(cli, logger), nil
}

// New wraps an existing API implementation.
func New(api API, logger *logrus.Entry) *Client {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{api: api, logger: logger}
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.api.Close()
}

// Available pings the daemon and returns its version.
func (c *Client) Available(ctx context.Context) (string, error) {
	if _, err := c.api.Ping(ctx); err != nil {
		return "", fmt.Errorf("ping docker daemon: %w", err)
	}
	v, err := c.api.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("docker server version: %w", err)
	}
	return v.Version, nil
}

// State inspects a container. A missing container is not an error.
func (c *Client) State(ctx context.Context, name string) (ContainerState, error) {
	info, err := c.api.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return ContainerState{Status: StatusNotFound, Health: "none"}, nil
		}
		return ContainerState{}, fmt.Errorf("inspect %s: %w", name, err)
	}

	st := ContainerState{Status: "unknown", Health: "none"}
	if info.ContainerJSONBase != nil && info.State != nil {
		st.Status = string(info.State.Status)
		if info.State.Health != nil && info.State.Health.Status != "" {
			st.Health = string(info.State.Health.Status)
		}
	}
	return st, nil
}

// Exec runs cmd inside the named container and waits for it, bounded by timeout.
func (c *Client) Exec(ctx context.Context, name string, cmd []string, timeout time.Duration) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debugf("exec in %s: %v", name, cmd)

	created, err := c.api.ContainerExecCreate(ctx, name, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, c.execErr(ctx, fmt.Errorf("create exec: %w", err))
	}

	resp, err := c.api.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, c.execErr(ctx, fmt.Errorf("attach exec: %w", err))
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	streamDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader)
		streamDone <- err
	}()

	select {
	case err := <-streamDone:
		if err != nil {
			c.logger.Debugf("stream error: %v", err)
		}
	case <-ctx.Done():
		return nil, c.execErr(ctx, ctx.Err())
	}

	inspect, err := c.api.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, c.execErr(ctx, fmt.Errorf("exec inspect: %w", err))
	}

	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (c *Client) execErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrExecTimeout
	}
	return err
}

// Pull downloads an image, draining the progress stream.
func (c *Client) Pull(ctx context.Context, ref string) error {
	c.logger.Infof("pulling %s", ref)
	rc, err := c.api.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	return nil
}
