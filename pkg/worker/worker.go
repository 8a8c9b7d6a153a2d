package worker

import (
	"sync"
)

type Handler = func(workerIndex int, job interface{})

// Pool is a bounded goroutine pool fed through a buffered job channel. It
// serves two usage patterns: long-lived consumers that Submit forever and
// batch sweeps that Submit a known set, Close, and Wait for drain. Workers
// exit when the job channel is closed and drained, so Close+Wait guarantees
// every submitted job was handled.
type Pool struct {
	workers int
	jobs    chan interface{}
	do      Handler
	wg      sync.WaitGroup
	once    sync.Once
}

func NewPool(workers, bufferSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Pool{
		workers: workers,
		jobs:    make(chan interface{}, bufferSize),
	}
}

func (p *Pool) SetHandler(h Handler) {
	p.do = h
}

// Pending returns the number of jobs waiting in the buffer.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Start launches the workers. Returns immediately; workers run until Close.
func (p *Pool) Start() {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(index int) {
			defer p.wg.Done()
			for job := range p.jobs {
				p.do(index, job)
			}
		}(i)
	}
}

// Submit publishes a job onto the channel. Blocks when the buffer is full.
func (p *Pool) Submit(job interface{}) {
	p.jobs <- job
}

// Close stops accepting jobs. Safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.jobs)
	})
}

// Wait blocks until all workers have drained the channel and exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}
