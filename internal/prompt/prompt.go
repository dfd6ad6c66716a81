// Package prompt supplies the commit message shared by every repository published in a run.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrEmptyMessage is returned when the supplied commit message is blank.
var ErrEmptyMessage = errors.New("commit message must not be empty")

// MessageSource yields the commit message for a run
type MessageSource interface {
	Message(ctx context.Context) (string, error)
}

// Static returns a fixed message, e.g. one passed with --message.
type Static string

// Message implements MessageSource.
func (s Static) Message(context.Context) (string, error) {
	return normalize(string(s))
}

// Reader asks for the message once and reads a single line.
type Reader struct {
	In     io.Reader
	Out    io.Writer
	Prompt string
}

// NewReader creates an interactive message source on in/out.
func NewReader(in io.Reader, out io.Writer) *Reader {
	return &Reader{In: in, Out: out, Prompt: "Enter commit message"}
}

// Message implements MessageSource. It returns ctx.Err() if ctx is cancelled
// before a line is read.
func (r *Reader) Message(ctx context.Context) (string, error) {
	if r.Out != nil && r.Prompt != "" {
		if _, err := fmt.Fprintf(r.Out, "%s\n", r.Prompt); err != nil {
			return "", err
		}
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(r.In).ReadString('\n')
		if errors.Is(err, io.EOF) && line != "" {
			err = nil
		}
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return "", ErrEmptyMessage
			}
			return "", fmt.Errorf("read commit message: %w", res.err)
		}
		return normalize(res.line)
	}
}

func normalize(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", ErrEmptyMessage
	}
	return msg, nil
}
