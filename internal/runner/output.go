package runner

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
)

// limitedBuffer keeps the first max bytes written to it and counts the rest.
// The runner points both stdout and stderr at the same *limitedBuffer, and
// exec.Cmd serializes writes to a shared comparable writer.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if l.max <= 0 {
		return l.buf.Write(p)
	}
	remaining := l.max - l.buf.Len()
	if remaining <= 0 {
		l.truncated += len(p)
		return len(p), nil
	}
	n := len(p)
	if n > remaining {
		l.truncated += n - remaining
		p = p[:remaining]
	}
	_, _ = l.buf.Write(p)
	return n, nil
}

// text returns the captured output, nil when the process printed nothing.
func (l *limitedBuffer) text() *string {
	if l.buf.Len() == 0 && l.truncated == 0 {
		return nil
	}
	s := l.buf.String()
	if l.truncated > 0 {
		s += fmt.Sprintf("\n[output truncated: %d bytes dropped]", l.truncated)
	}
	return &s
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
