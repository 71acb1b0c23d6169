// Package async decides where callbacks run.
//
// A Submitter receives a unit of work and chooses whether to run it inline,
// on a goroutine, on a worker pool or on a queue the caller drains later.
package async

import "sync"

// Submitter schedules task for execution.
type Submitter func(task func())

// Inline runs task on the calling goroutine.
func Inline(task func()) { task() }

// Go runs task on a new goroutine.
func Go(task func()) { go task() }

// Pool runs tasks on a fixed set of workers.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

// NewPool starts workers goroutines with a queue of the given depth.
func NewPool(workers, depth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func(), depth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Submit queues task, blocking while the queue is full.
func (p *Pool) Submit(task func()) { p.tasks <- task }

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.tasks) })
	p.wg.Wait()
}

// Queue collects tasks until Drain is called.
type Queue struct {
	mu    sync.Mutex
	tasks []func()
}

// Submit appends task to the queue.
func (q *Queue) Submit(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
}

// Drain runs every queued task in submission order, including tasks
// submitted while draining, and returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()
		if len(tasks) == 0 {
			return n
		}
		for _, task := range tasks {
			task()
			n++
		}
	}
}

// Len returns the number of pending tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
