package worker

import (
	"strings"
	"sync"
)

// OutputBuffer is a bounded, line-oriented capture of child output. When the
// byte budget is exceeded the oldest lines are dropped so the tail is always
// retained for checkpoints.
type OutputBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	byteSize int64
	maxBytes int64
}

// NewOutputBuffer creates a buffer capped at maxBytes. A non-positive cap
// selects 1 MiB.
func NewOutputBuffer(maxBytes int64) *OutputBuffer {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &OutputBuffer{maxBytes: maxBytes}
}

// Write implements io.Writer. Data is split into lines; an incomplete final
// line is held back until its newline arrives.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		if c == '\n' {
			b.appendLine(b.partial.String())
			b.partial.Reset()
			continue
		}
		b.partial.WriteByte(c)
	}
	return len(p), nil
}

// appendLine records a completed line and evicts from the head while over
// budget. The newest line is never evicted. Caller holds the lock.
func (b *OutputBuffer) appendLine(line string) {
	b.lines = append(b.lines, line)
	b.byteSize += int64(len(line)) + 1

	for b.byteSize > b.maxBytes && len(b.lines) > 1 {
		b.byteSize -= int64(len(b.lines[0])) + 1
		b.lines = b.lines[1:]
	}
}

// Tail returns the last n lines, including any unterminated trailing output.
// n <= 0 returns everything retained.
func (b *OutputBuffer) Tail(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := b.lines
	if b.partial.Len() > 0 {
		lines = append(append([]string{}, lines...), b.partial.String())
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]string, len(lines))
	copy(out, lines)
	return out
}

// Len returns the number of retained complete lines.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
