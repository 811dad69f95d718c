package parallel

import (
	"runtime"
	"sync"
)

// MinGrain is the smallest range handed to a separate goroutine. Shorter
// ranges run on the caller's goroutine.
const MinGrain = 256

// For splits [0, n) into contiguous chunks and runs fn on each chunk
// concurrently. Every index is covered exactly once.
func For(n int, fn func(start, end int)) {
	ForGrain(n, MinGrain, fn)
}

// ForGrain is For with an explicit minimum chunk size. Kernels whose
// per-index work is heavy (one output channel of a convolution) pass 1.
func ForGrain(n, grain int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	if grain < 1 {
		grain = 1
	}
	workers := runtime.GOMAXPROCS(0)
	if maxWorkers := (n + grain - 1) / grain; workers > maxWorkers {
		workers = maxWorkers
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}
