// Package prompt implements the line-oriented questions asked by the
// installer wizards.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when an answer is needed, stdin is not a
// terminal and the question has no default.
var ErrNotInteractive = errors.New("no terminal available to answer prompt")

// Prompter asks questions on an input/output pair.
type Prompter struct {
	in          *bufio.Reader
	out         io.Writer
	interactive bool

	// AssumeDefaults answers every question with its default without reading input.
	AssumeDefaults bool
}

// New creates a Prompter. interactive controls whether input is read at all.
func New(in io.Reader, out io.Writer, interactive bool) *Prompter {
	return &Prompter{in: bufio.NewReader(in), out: out, interactive: interactive}
}

// Stdio creates a Prompter on the process terminal.
func Stdio() *Prompter {
	return New(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

type line struct {
	text string
	err  error
}

// readLine reads one line, giving up when ctx is cancelled.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	ch := make(chan line, 1)
	go func() {
		s, err := p.in.ReadString('\n')
		ch <- line{s, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l := <-ch:
		if l.err != nil && !(errors.Is(l.err, io.EOF) && l.text != "") {
			if errors.Is(l.err, io.EOF) {
				return "", fmt.Errorf("read answer: %w", io.ErrUnexpectedEOF)
			}
			return "", fmt.Errorf("read answer: %w", l.err)
		}
		return strings.TrimSpace(l.text), nil
	}
}

// answer prints the question and returns the trimmed reply, or def when
// the reply is empty or input is not being read.
func (p *Prompter) answer(ctx context.Context, question, hint, def string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.AssumeDefaults || !p.interactive {
		if def == "" && !p.AssumeDefaults {
			return "", fmt.Errorf("%s: %w", question, ErrNotInteractive)
		}
		return def, nil
	}

	switch {
	case hint != "":
		fmt.Fprintf(p.out, "%s %s: ", question, hint)
	case def != "":
		fmt.Fprintf(p.out, "%s [%s]: ", question, def)
	default:
		fmt.Fprintf(p.out, "%s: ", question)
	}

	s, err := p.readLine(ctx)
	if err != nil {
		return "", err
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

// Ask returns free text, or def on an empty answer.
func (p *Prompter) Ask(ctx context.Context, question, def string) (string, error) {
	return p.answer(ctx, question, "", def)
}

// AskRequired repeats the question until a non-empty answer is given.
func (p *Prompter) AskRequired(ctx context.Context, question, def string) (string, error) {
	for {
		s, err := p.Ask(ctx, question, def)
		if err != nil {
			return "", err
		}
		if s != "" {
			return s, nil
		}
		if !p.interactive || p.AssumeDefaults {
			return "", fmt.Errorf("%s: %w", question, ErrNotInteractive)
		}
		fmt.Fprintln(p.out, "A value is required.")
	}
}

// Choose asks until the answer is one of choices.
func (p *Prompter) Choose(ctx context.Context, question string, choices []string, def string) (string, error) {
	hint := "[" + strings.Join(choices, "/") + "]"
	if def != "" {
		hint += " (" + def + ")"
	}
	for {
		s, err := p.answer(ctx, question, hint, def)
		if err != nil {
			return "", err
		}
		for _, c := range choices {
			if strings.EqualFold(s, c) {
				return c, nil
			}
		}
		if !p.interactive || p.AssumeDefaults {
			return "", fmt.Errorf("%s: %q is not one of %s", question, s, hint)
		}
		fmt.Fprintf(p.out, "Please choose one of: %s\n", strings.Join(choices, ", "))
	}
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	hint := "[y/N]"
	d := "n"
	if def {
		hint, d = "[Y/n]", "y"
	}
	for {
		s, err := p.answer(ctx, question, hint, d)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(s) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

// Int asks for an integer within [min, max].
func (p *Prompter) Int(ctx context.Context, question string, def, min, max int) (int, error) {
	for {
		s, err := p.answer(ctx, question, "", strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		n, err := strconv.Atoi(s)
		if err == nil && n >= min && n <= max {
			return n, nil
		}
		if !p.interactive || p.AssumeDefaults {
			return 0, fmt.Errorf("%s: %q is not a number between %d and %d", question, s, min, max)
		}
		fmt.Fprintf(p.out, "Please enter a number between %d and %d.\n", min, max)
	}
}
