// Package workpool runs independent network-bound tasks on a bounded pool and
// joins them with all-complete semantics: one failing task never cancels its siblings.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type Config struct {
	// Size is the number of tasks allowed in flight. It is the only throttle.
	Size int64
	// CallTimeout bounds each task. Zero disables the per-task deadline.
	CallTimeout time.Duration
}

type Pool struct {
	sem    *semaphore.Weighted
	config Config
}

func New(config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 8
	}
	return &Pool{
		sem:    semaphore.NewWeighted(config.Size),
		config: config,
	}
}

// Result pairs a task outcome with the index it was submitted under.
type Result[T any] struct {
	Index int
	Value T
	Err   error
}

// All runs fn for every index in [0, n) and returns the results ordered by index,
// independent of completion order. Panics inside fn are reported as errors.
func All[T any](ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) (T, error)) []Result[T] {
	results := make([]Result[T], n)
	if n == 0 {
		return results
	}

	resultChan := make(chan Result[T], n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			resultChan <- run(ctx, p, index, fn)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for r := range resultChan {
		results[r.Index] = r
	}

	return results
}

func run[T any](ctx context.Context, p *Pool, index int, fn func(ctx context.Context, i int) (T, error)) (res Result[T]) {
	res.Index = index

	if err := p.sem.Acquire(ctx, 1); err != nil {
		res.Err = err
		return res
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("task %d panicked: %v", index, r)
		}
	}()

	callCtx := ctx
	if p.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.config.CallTimeout)
		defer cancel()
	}

	res.Value, res.Err = fn(callCtx, index)
	return res
}
