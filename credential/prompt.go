package credential

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/manifoldco/promptui"
	"github.com/pkg/errors"
)

// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
var ErrAborted = errors.New("aborted")

// IsAborted returns true if the error indicates the user aborted a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) ||
		errors.Is(err, promptui.ErrEOF) || errors.Is(err, ErrAborted)
}

// Prompter asks the user for a value.
type Prompter interface {
	// Prompt asks for a value described by label. Secret values must not be
	// echoed.
	Prompt(ctx context.Context, label string, secret bool) (string, error)
}

// PromptFunc is an adapter to allow the use of ordinary functions as
// Prompter.
type PromptFunc func(ctx context.Context, label string, secret bool) (string, error)

func (f PromptFunc) Prompt(ctx context.Context, label string, secret bool) (string, error) {
	return f(ctx, label, secret)
}

// TerminalPrompter prompts on the controlling terminal.
type TerminalPrompter struct{}

var _ Prompter = TerminalPrompter{}

// Prompt reads a value from standard input. When ctx is cancelled, the
// prompt input is closed, so that the prompt returns and restores the
// terminal.
func (TerminalPrompter) Prompt(ctx context.Context, label string, secret bool) (string, error) {
	input := newPromptInput(stdinChunks())
	prompt := promptui.Prompt{Label: label, Stdin: input}
	if secret {
		prompt.Mask = '*'
	}

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := prompt.Run()
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && IsAborted(r.err) {
			return "", ErrAborted
		}
		return r.value, r.err
	case <-ctx.Done():
		input.Close()
		return "", ctx.Err()
	}
}

var (
	stdinOnce sync.Once
	stdinCh   chan []byte
)

// stdinChunks returns the data read from standard input. A single goroutine
// reads standard input for all prompts, so that a closed prompt doesn't
// leave a read pending on the terminal.
func stdinChunks() <-chan []byte {
	stdinOnce.Do(func() {
		stdinCh = make(chan []byte)
		go func() {
			defer close(stdinCh)
			for {
				buf := make([]byte, 256)
				n, err := os.Stdin.Read(buf)
				if n > 0 {
					stdinCh <- buf[:n]
				}
				if err != nil {
					return
				}
			}
		}()
	})
	return stdinCh
}

// promptInput is the input of one prompt. Close makes pending and future
// reads return io.EOF.
type promptInput struct {
	src     <-chan []byte
	pending []byte
	done    chan struct{}
	once    sync.Once
}

func newPromptInput(src <-chan []byte) *promptInput {
	return &promptInput{src: src, done: make(chan struct{})}
}

func (in *promptInput) Read(b []byte) (int, error) {
	if len(in.pending) == 0 {
		select {
		case chunk, ok := <-in.src:
			if !ok {
				return 0, io.EOF
			}
			in.pending = chunk
		case <-in.done:
			return 0, io.EOF
		}
	}
	n := copy(b, in.pending)
	in.pending = in.pending[n:]
	return n, nil
}

func (in *promptInput) Close() error {
	in.once.Do(func() { close(in.done) })
	return nil
}
