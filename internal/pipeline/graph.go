// Package pipeline runs the per-tick task graph: acquisition into the
// time-series store and the alarm and statistics analysis over it.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"codeberg.org/mutker/h2station/internal/errors"
	"golang.org/x/sync/errgroup"
)

// TaskFunc is one unit of work in a tick.
type TaskFunc func(ctx context.Context) error

type task struct {
	name string
	deps []int
	fn   TaskFunc
	// ordered tasks wait for deps but run whatever their outcome
	ordered bool
}

// Graph is a DAG of named tasks. Dependencies must be added before their
// dependents, so a graph can never hold a cycle.
type Graph struct {
	tasks []task
	index map[string]int
}

func NewGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// Add registers fn under name, to start once every task in deps succeeded.
func (g *Graph) Add(name string, fn TaskFunc, deps ...string) error {
	return g.add(name, fn, false, deps)
}

// After registers fn under name, to start once every task in deps finished,
// failed or skipped.
func (g *Graph) After(name string, fn TaskFunc, deps ...string) error {
	return g.add(name, fn, true, deps)
}

func (g *Graph) add(name string, fn TaskFunc, ordered bool, deps []string) error {
	errFactory := errors.New()

	if _, ok := g.index[name]; ok {
		return errFactory.WithData(ErrDuplicateTask, name)
	}

	t := task{name: name, fn: fn, ordered: ordered, deps: make([]int, 0, len(deps))}
	for _, d := range deps {
		i, ok := g.index[d]
		if !ok {
			return errFactory.WithData(ErrUnknownDep, struct {
				Task       string
				Dependency string
			}{name, d})
		}
		t.deps = append(t.deps, i)
	}

	g.index[name] = len(g.tasks)
	g.tasks = append(g.tasks, t)

	return nil
}

func (g *Graph) Len() int {
	return len(g.tasks)
}

// Result maps each task name to its outcome; nil means it succeeded.
type Result map[string]error

// Failed lists the names of failed or skipped tasks in order.
func (r Result) Failed() []string {
	var names []string
	for name, err := range r {
		if err != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Err joins the task failures, or returns nil when every task succeeded.
func (r Result) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}

	errs := make([]error, len(failed))
	for i, name := range failed {
		errs[i] = fmt.Errorf("%s: %w", name, r[name])
	}
	return errors.Join(errs...)
}

// Run executes the graph on at most workers goroutines and returns once
// every task finished or was skipped. Tasks whose predecessors failed are
// skipped with ErrDependencyFailed; unrelated branches still run.
func (g *Graph) Run(ctx context.Context, workers int) Result {
	n := len(g.tasks)
	res := make(Result, n)
	if n == 0 {
		return res
	}

	pending := make([]int, n)
	dependents := make([][]int, n)
	for i, t := range g.tasks {
		pending[i] = len(t.deps)
		for _, d := range t.deps {
			dependents[d] = append(dependents[d], i)
		}
	}

	errs := make([]error, n)
	done := make(chan int, n)

	var eg errgroup.Group
	eg.SetLimit(max(workers, 1))

	launch := func(i int) {
		t := g.tasks[i]
		for _, d := range t.deps {
			if !t.ordered && errs[d] != nil {
				errs[i] = errors.New().WithData(ErrDependencyFailed, g.tasks[d].name)
				done <- i
				return
			}
		}

		eg.Go(func() error {
			defer func() { done <- i }()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = errors.New().WithData(ErrTaskPanic, fmt.Sprint(r))
				}
			}()
			errs[i] = t.fn(ctx)
			return nil
		})
	}

	for i := range g.tasks {
		if pending[i] == 0 {
			launch(i)
		}
	}

	for finished := 0; finished < n; finished++ {
		i := <-done
		for _, d := range dependents[i] {
			pending[d]--
			if pending[d] == 0 {
				launch(d)
			}
		}
	}

	_ = eg.Wait()

	for i, t := range g.tasks {
		res[t.name] = errs[i]
	}

	return res
}
