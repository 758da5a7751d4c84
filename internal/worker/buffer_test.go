package worker

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputBufferTail(t *testing.T) {
	b := NewOutputBuffer(1 << 20)
	for i := range 10 {
		fmt.Fprintf(b, "line %d\n", i)
	}

	tail := b.Tail(3)
	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, tail)
}

func TestOutputBufferPartialLine(t *testing.T) {
	b := NewOutputBuffer(1 << 20)
	b.Write([]byte("complete\nincompl")) //nolint:errcheck

	assert.Equal(t, 1, b.Len())
	assert.Equal(t, []string{"complete", "incompl"}, b.Tail(0))

	b.Write([]byte("ete\n")) //nolint:errcheck
	assert.Equal(t, []string{"complete", "incomplete"}, b.Tail(0))
}

func TestOutputBufferDropsOldestOnOverflow(t *testing.T) {
	b := NewOutputBuffer(64)
	for i := range 100 {
		fmt.Fprintf(b, "line-%02d\n", i)
	}

	tail := b.Tail(0)
	require.NotEmpty(t, tail)
	// The newest line survives; the oldest is long gone.
	assert.Equal(t, "line-99", tail[len(tail)-1])
	assert.NotContains(t, tail, "line-00")
}

func TestOutputBufferNeverEvictsNewestLine(t *testing.T) {
	b := NewOutputBuffer(8)
	b.Write([]byte("a line much longer than the whole budget\n")) //nolint:errcheck

	tail := b.Tail(0)
	require.Len(t, tail, 1)
	assert.Equal(t, "a line much longer than the whole budget", tail[0])
}

func TestOutputBufferSplitWrites(t *testing.T) {
	b := NewOutputBuffer(1 << 20)
	for _, chunk := range []string{"he", "llo\nwo", "rld\n"} {
		b.Write([]byte(chunk)) //nolint:errcheck
	}
	assert.Equal(t, []string{"hello", "world"}, b.Tail(0))
}
