package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestLocalRunnerCapturesOutput(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}
	lr := NewLocalRunner(testLogger(), false)

	res, err := lr.Run(context.Background(), Cmd("sh", "-c", "echo out; echo err >&2"))
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
}

func TestLocalRunnerExitError(t *testing.T) {
	if !Available("sh") {
		t.Skip("sh not available")
	}
	lr := NewLocalRunner(testLogger(), false)

	res, err := lr.Run(context.Background(), Cmd("sh", "-c", "echo broken >&2; exit 3"))
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "broken")
}

func TestLocalRunnerTimeout(t *testing.T) {
	if !Available("sleep") {
		t.Skip("sleep not available")
	}
	lr := NewLocalRunner(testLogger(), false)

	c := Cmd("sleep", "5")
	c.Timeout = 50 * time.Millisecond
	_, err := lr.Run(context.Background(), c)
	require.Error(t, err)
}

func TestLocalRunnerCancelled(t *testing.T) {
	if !Available("sleep") {
		t.Skip("sleep not available")
	}
	lr := NewLocalRunner(testLogger(), false)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := lr.Run(ctx, Cmd("sleep", "5"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), err.Error())
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestLocalRunnerMissingBinary(t *testing.T) {
	lr := NewLocalRunner(testLogger(), false)
	_, err := lr.Run(context.Background(), Cmd("redelk-definitely-not-a-binary"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not installed")
}

func TestLocalRunnerDryRun(t *testing.T) {
	lr := NewLocalRunner(testLogger(), true)
	res, err := lr.Run(context.Background(), Cmd("redelk-definitely-not-a-binary", "--flag"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
}

func TestScrubEnvironment(t *testing.T) {
	in := []string{
		"PATH=/usr/bin",
		"HOME=/root",
		"LD_PRELOAD=/tmp/evil.so",
		"AWS_SECRET_ACCESS_KEY=xyz",
		"https_proxy=http://proxy:3128",
	}
	out := ScrubEnvironment(in)

	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "HOME=/root")
	assert.Contains(t, out, "https_proxy=http://proxy:3128")
	assert.Contains(t, out, "DEBIAN_FRONTEND=noninteractive")
	assert.NotContains(t, out, "LD_PRELOAD=/tmp/evil.so")
	assert.NotContains(t, out, "AWS_SECRET_ACCESS_KEY=xyz")
}

func TestScrubEnvironmentKeepsDockerClientSettings(t *testing.T) {
	in := []string{
		"DOCKER_HOST=tcp://10.0.0.2:2376",
		"DOCKER_TLS_VERIFY=1",
		"DOCKER_CERT_PATH=/root/.docker/tls",
		"DOCKER_CONFIG=/root/.docker",
		"XDG_RUNTIME_DIR=/run/user/1000",
	}
	out := ScrubEnvironment(in)
	for _, kv := range in {
		assert.Contains(t, out, kv)
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{Cmd("systemctl"), "systemctl"},
		{Cmd("apt-get", "install", "-y", "filebeat"), "apt-get install -y filebeat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.cmd.String())
	}
}

func TestFakeRunner(t *testing.T) {
	f := &FakeRunner{}
	f.On("docker ps", Result{Stdout: "CONTAINER ID"}, nil)
	f.Fail("docker compose", 1, "no such command")

	res, err := f.Run(context.Background(), Cmd("docker", "ps"))
	require.NoError(t, err)
	assert.Equal(t, "CONTAINER ID", res.Stdout)

	_, err = f.Run(context.Background(), Cmd("docker", "compose", "version"))
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitCode)

	_, err = f.Run(context.Background(), Cmd("true"))
	require.NoError(t, err)

	assert.Equal(t, []string{"docker ps", "docker compose version", "true"}, f.Lines())
}
