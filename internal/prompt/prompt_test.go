package prompt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scripted(input string) (*Prompter, *bytes.Buffer) {
	var out bytes.Buffer
	return New(strings.NewReader(input), &out, true), &out
}

func TestAskDefault(t *testing.T) {
	p, out := scripted("\nredirector-01\n")
	ctx := context.Background()

	s, err := p.Ask(ctx, "Hostname", "c2-01")
	require.NoError(t, err)
	assert.Equal(t, "c2-01", s)
	assert.Contains(t, out.String(), "Hostname [c2-01]: ")

	s, err = p.Ask(ctx, "Hostname", "c2-01")
	require.NoError(t, err)
	assert.Equal(t, "redirector-01", s)
}

func TestChooseRetriesInvalid(t *testing.T) {
	p, out := scripted("proxy\nREDIRECTOR\n")
	s, err := p.Choose(context.Background(), "Role", []string{"c2", "redirector"}, "c2")
	require.NoError(t, err)
	assert.Equal(t, "redirector", s)
	assert.Contains(t, out.String(), "Please choose one of: c2, redirector")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{"y\n", false, true},
		{"no\n", true, false},
		{"\n", true, true},
		{"\n", false, false},
		{"maybe\nyes\n", false, true},
	}
	for _, tt := range tests {
		p, _ := scripted(tt.input)
		got, err := p.Confirm(context.Background(), "Continue?", tt.def)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestInt(t *testing.T) {
	p, _ := scripted("abc\n99\n5\n")
	n, err := p.Int(context.Background(), "Team servers", 3, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestAssumeDefaults(t *testing.T) {
	p, out := scripted("")
	p.AssumeDefaults = true
	ctx := context.Background()

	s, err := p.Ask(ctx, "Scenario", "operation-redteam")
	require.NoError(t, err)
	assert.Equal(t, "operation-redteam", s)

	ok, err := p.Confirm(ctx, "Proceed?", true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, out.String())
}

func TestNotInteractiveWithoutDefault(t *testing.T) {
	p := New(strings.NewReader(""), io.Discard, false)
	_, err := p.Ask(context.Background(), "Server", "")
	require.ErrorIs(t, err, ErrNotInteractive)

	s, err := p.Ask(context.Background(), "Port", "5044")
	require.NoError(t, err)
	assert.Equal(t, "5044", s)
}

func TestCancelledWhileReading(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	p := New(pr, io.Discard, true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Ask(ctx, "Server", "")
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestEOF(t *testing.T) {
	p, _ := scripted("")
	_, err := p.Ask(context.Background(), "Server", "")
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	p, _ = scripted("last-line-without-newline")
	s, err := p.Ask(context.Background(), "Server", "")
	require.NoError(t, err)
	assert.Equal(t, "last-line-without-newline", s)
}
