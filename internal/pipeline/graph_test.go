package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/h2station/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trace struct {
	mu    sync.Mutex
	order []string
}

func (tr *trace) task(name string, err error) TaskFunc {
	return func(context.Context) error {
		tr.mu.Lock()
		tr.order = append(tr.order, name)
		tr.mu.Unlock()
		return err
	}
}

func (tr *trace) index(name string) int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for i, n := range tr.order {
		if n == name {
			return i
		}
	}
	return -1
}

func TestGraphAddRejectsUnknownAndDuplicate(t *testing.T) {
	g := NewGraph()
	noop := func(context.Context) error { return nil }

	require.NoError(t, g.Add("a", noop))

	err := g.Add("b", noop, "missing")
	assert.True(t, errors.HasCode(err, ErrUnknownDep))

	// a task cannot depend on itself or anything added later
	err = g.Add("c", noop, "c")
	assert.True(t, errors.HasCode(err, ErrUnknownDep))

	err = g.Add("a", noop)
	assert.True(t, errors.HasCode(err, ErrDuplicateTask))

	assert.Equal(t, 1, g.Len())
}

func TestGraphRunsInDependencyOrder(t *testing.T) {
	tr := &trace{}
	g := NewGraph()
	require.NoError(t, g.Add("read", tr.task("read", nil)))
	require.NoError(t, g.Add("left", tr.task("left", nil), "read"))
	require.NoError(t, g.Add("right", tr.task("right", nil), "read"))
	require.NoError(t, g.Add("join", tr.task("join", nil), "left", "right"))

	res := g.Run(context.Background(), 4)
	require.NoError(t, res.Err())
	assert.Len(t, res, 4)

	assert.Equal(t, 0, tr.index("read"))
	assert.Equal(t, 3, tr.index("join"))
}

func TestGraphSkipsDependentsOfFailures(t *testing.T) {
	tr := &trace{}
	g := NewGraph()
	require.NoError(t, g.Add("read", tr.task("read", assert.AnError)))
	require.NoError(t, g.Add("decode", tr.task("decode", nil), "read"))
	require.NoError(t, g.Add("flush", tr.task("flush", nil), "decode"))
	require.NoError(t, g.Add("evaluate", tr.task("evaluate", nil)))

	res := g.Run(context.Background(), 2)

	assert.ErrorIs(t, res["read"], assert.AnError)
	assert.True(t, errors.HasCode(res["decode"], ErrDependencyFailed))
	assert.True(t, errors.HasCode(res["flush"], ErrDependencyFailed))
	assert.NoError(t, res["evaluate"])

	assert.Equal(t, -1, tr.index("decode"))
	assert.Equal(t, -1, tr.index("flush"))
	assert.NotEqual(t, -1, tr.index("evaluate"))

	assert.Equal(t, []string{"decode", "flush", "read"}, res.Failed())
	assert.ErrorIs(t, res.Err(), assert.AnError)
}

func TestGraphAfterRunsDespiteFailures(t *testing.T) {
	tr := &trace{}
	g := NewGraph()
	require.NoError(t, g.Add("read", tr.task("read", assert.AnError)))
	require.NoError(t, g.Add("buffer", tr.task("buffer", nil), "read"))
	require.NoError(t, g.After("flush", tr.task("flush", nil), "buffer"))
	require.NoError(t, g.Add("report", tr.task("report", nil), "flush"))

	err := g.After("drain", tr.task("drain", nil), "missing")
	assert.True(t, errors.HasCode(err, ErrUnknownDep))

	res := g.Run(context.Background(), 2)

	assert.True(t, errors.HasCode(res["buffer"], ErrDependencyFailed))
	assert.NoError(t, res["flush"])
	assert.NoError(t, res["report"])
	assert.Equal(t, -1, tr.index("buffer"))
	assert.Less(t, tr.index("read"), tr.index("flush"))
	assert.Less(t, tr.index("flush"), tr.index("report"))
	assert.Equal(t, []string{"buffer", "read"}, res.Failed())
}

func TestGraphBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32

	g := NewGraph()
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		require.NoError(t, g.Add(name, func(context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}

	require.NoError(t, g.Run(context.Background(), 2).Err())
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestGraphSingleWorkerChain(t *testing.T) {
	tr := &trace{}
	g := NewGraph()
	require.NoError(t, g.Add("a", tr.task("a", nil)))
	require.NoError(t, g.Add("b", tr.task("b", nil), "a"))
	require.NoError(t, g.Add("c", tr.task("c", nil), "b"))
	require.NoError(t, g.Add("d", tr.task("d", nil)))

	require.NoError(t, g.Run(context.Background(), 1).Err())
	assert.Less(t, tr.index("a"), tr.index("b"))
	assert.Less(t, tr.index("b"), tr.index("c"))
}

func TestGraphRecoversPanics(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.Add("boom", func(context.Context) error { panic("bad frame") }))
	require.NoError(t, g.Add("after", func(context.Context) error { return nil }, "boom"))

	res := g.Run(context.Background(), 2)
	assert.True(t, errors.HasCode(res["boom"], ErrTaskPanic))
	assert.True(t, errors.HasCode(res["after"], ErrDependencyFailed))
}

func TestGraphEmpty(t *testing.T) {
	res := NewGraph().Run(context.Background(), 4)
	assert.Empty(t, res)
	assert.NoError(t, res.Err())
}

func TestBackoff(t *testing.T) {
	var b backoff
	assert.True(t, b.ready(0))

	assert.Equal(t, uint64(1), b.fail(10))
	assert.False(t, b.ready(10))
	assert.True(t, b.ready(11))

	assert.Equal(t, uint64(2), b.fail(11))
	assert.False(t, b.ready(12))
	assert.True(t, b.ready(13))

	for i := 0; i < 10; i++ {
		b.fail(20)
	}
	assert.Equal(t, uint64(20+maxBackoffTicks), b.next)

	b.reset()
	assert.True(t, b.ready(0))
}
