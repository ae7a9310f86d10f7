package datasets

import "sync"

// Prefetcher decodes batches on a small worker pool ahead of the
// consumer while preserving batch order. It exists purely as a
// throughput aid for the training loop: the consumer sees a plain
// sequential stream and never observes reordering.
//
// The underlying dataset must not be mutated (e.g. via Shuffle) while
// a Prefetcher built on it is live.

// Batcher is the minimal surface the prefetcher needs from a dataset.
type Batcher interface {
	Batch(indices []int) (inputs [][]float32, labels []int, err error)
}

// PrefetchedBatch carries one decoded batch or the error that produced it.
type PrefetchedBatch struct {
	Inputs [][]float32
	Labels []int
	Err    error
}

type prefetchJob struct {
	indices []int
	result  chan PrefetchedBatch
}

// Prefetcher streams the batches described by a batch plan (one index
// slice per batch) in plan order. Callers that stop consuming before
// the plan is exhausted must call Close to release the workers.
type Prefetcher struct {
	order     chan chan PrefetchedBatch
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPrefetcher starts workers decoding the planned batches from ds.
// workers <= 0 defaults to 2; depth controls how many batches may be
// decoded ahead of the consumer (<= 0 defaults to workers).
func NewPrefetcher(ds Batcher, plan [][]int, workers, depth int) *Prefetcher {
	if workers <= 0 {
		workers = 2
	}
	if depth <= 0 {
		depth = workers
	}

	jobs := make(chan prefetchJob)
	p := &Prefetcher{
		order: make(chan chan PrefetchedBatch, depth),
		done:  make(chan struct{}),
	}

	p.wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer p.wg.Done()
			for job := range jobs {
				inputs, labels, err := ds.Batch(job.indices)
				// result is buffered, the send never blocks
				job.result <- PrefetchedBatch{Inputs: inputs, Labels: labels, Err: err}
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			p.wg.Wait()
			close(p.order)
		}()
		for _, indices := range plan {
			job := prefetchJob{indices: indices, result: make(chan PrefetchedBatch, 1)}
			select {
			case p.order <- job.result:
			case <-p.done:
				return
			}
			select {
			case jobs <- job:
			case <-p.done:
				return
			}
		}
	}()

	return p
}

// Next returns the next batch in plan order. ok is false once the plan
// is exhausted or the prefetcher has been closed.
func (p *Prefetcher) Next() (b PrefetchedBatch, ok bool) {
	result, ok := <-p.order
	if !ok {
		return PrefetchedBatch{}, false
	}
	select {
	case b = <-result:
		return b, true
	case <-p.done:
		return PrefetchedBatch{}, false
	}
}

// Close stops the feeder and lets the workers drain. Safe to call more
// than once and alongside a blocked Next.
func (p *Prefetcher) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// BatchPlan splits [0,n) into consecutive index slices of at most
// batchSize examples.
func BatchPlan(n, batchSize int) [][]int {
	if n <= 0 || batchSize <= 0 {
		return nil
	}
	plan := make([][]int, 0, (n+batchSize-1)/batchSize)
	for start := 0; start < n; start += batchSize {
		end := start + batchSize
		if end > n {
			end = n
		}
		indices := make([]int, end-start)
		for i := range indices {
			indices[i] = start + i
		}
		plan = append(plan, indices)
	}
	return plan
}
