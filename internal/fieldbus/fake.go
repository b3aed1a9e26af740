package fieldbus

import (
	"context"
	"sync"

	"codeberg.org/mutker/h2station/internal/errors"
	"codeberg.org/mutker/h2station/internal/register"
)

// FakeReader serves queued frames, repeating the last one once drained.
type FakeReader struct {
	mu     sync.Mutex
	frames []*register.Frame
	err    error
	reads  int
	closed bool
}

func NewFakeReader(frames ...*register.Frame) *FakeReader {
	return &FakeReader{frames: frames}
}

// FailWith makes subsequent reads return err; nil restores normal reads.
func (f *FakeReader) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *FakeReader) ReadFrame(_ context.Context) (*register.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reads++
	if f.err != nil {
		return nil, errors.New().Wrap(ErrRead, f.err)
	}
	if len(f.frames) == 0 {
		return &register.Frame{}, nil
	}

	frame := f.frames[0]
	if len(f.frames) > 1 {
		f.frames = f.frames[1:]
	}

	return frame, nil
}

func (f *FakeReader) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
