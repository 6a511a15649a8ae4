package rpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// MaxFrameBytes bounds a single inbound line.
const MaxFrameBytes = 4 << 20

type frame struct {
	line []byte
	err  error
}

// readFrame reads one newline-terminated line without the terminator.
func readFrame(br *bufio.Reader, limit int) ([]byte, error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if len(buf)+len(chunk) > limit {
			return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocol, limit)
		}
		buf = append(buf, chunk...)
		switch {
		case err == nil:
			buf = buf[:len(buf)-1]
			if n := len(buf); n > 0 && buf[n-1] == '\r' {
				buf = buf[:n-1]
			}
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
			if len(buf) > 0 {
				return nil, fmt.Errorf("%w: stream ended mid-frame (%d bytes)", ErrConnectionClosed, len(buf))
			}
			return nil, ErrConnectionClosed
		default:
			return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer { return &tailBuffer{max: max} }

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
