package executor

import (
	"sync"
)

// dispatchPool bounds how many commands run against the channel at once.
// It keeps two queues: control-triggered requests are dispatched ahead of
// queued normal requests, but share the same worker slots.
type dispatchPool struct {
	priority  chan func()
	normal    chan func()
	quit      chan struct{}
	waitGroup sync.WaitGroup
}

// newDispatchPool creates a pool with the specified number of workers.
func newDispatchPool(workers, queueDepth int) *dispatchPool {
	pool := &dispatchPool{
		priority: make(chan func(), queueDepth),
		normal:   make(chan func(), queueDepth),
		quit:     make(chan struct{}),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker drains the priority queue before taking normal work.
func (p *dispatchPool) worker() {
	defer p.waitGroup.Done()
	for {
		select {
		case task := <-p.priority:
			task()
		case <-p.quit:
			return
		default:
			select {
			case task := <-p.priority:
				task()
			case task := <-p.normal:
				task()
			case <-p.quit:
				return
			}
		}
	}
}

// Submit queues a task. It blocks only while the queue is full.
func (p *dispatchPool) Submit(priority bool, task func()) {
	queue := p.normal
	if priority {
		queue = p.priority
	}
	select {
	case queue <- task:
	case <-p.quit:
	}
}

// Shutdown stops the workers. Queued tasks that have not started are
// dropped; their waiters unblock through context cancellation.
func (p *dispatchPool) Shutdown() {
	close(p.quit)
	p.waitGroup.Wait()
}
