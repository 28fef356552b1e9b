package engine

import (
	"sync"
)

const defaultOutputTailBytes = 512 * 1024 // per-unit output kept in memory

// tailBuffer keeps only the last N bytes written to it so a representative
// snippet of unit output can ride on the RunResult without retaining the
// entire log in memory.
type tailBuffer struct {
	maxBytes int

	mu       sync.Mutex
	total    int64
	contents []byte
	overflow bool
}

func newTailBuffer(maxBytes int) *tailBuffer {
	if maxBytes <= 0 {
		maxBytes = defaultOutputTailBytes
	}
	return &tailBuffer{
		maxBytes: maxBytes,
		contents: make([]byte, 0, min(maxBytes, 4096)),
	}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	b.contents = append(b.contents, p...)
	if len(b.contents) > b.maxBytes {
		// Trim the front to keep the most recent bytes.
		b.contents = b.contents[len(b.contents)-b.maxBytes:]
		b.overflow = true
	}
	return len(p), nil
}

func (b *tailBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	cp := make([]byte, len(b.contents))
	copy(cp, b.contents)
	return cp
}

func (b *tailBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overflow
}
