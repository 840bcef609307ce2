// fixed-size worker pool draining a shared task queue
package pool

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const queueCap = 1024

type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup
	once  sync.Once
	log   *logrus.Logger
}

// New starts workers goroutines; workers < 1 is clamped to 1
func New(workers int, log *logrus.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		tasks: make(chan func(), queueCap),
		log:   log,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

// run keeps a panicking task from killing the worker and logs the panic;
// it does not close the connection the task was serving
func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("worker task panic: %v", r)
		}
	}()
	task()
}

// Submit enqueues a task, blocking while the queue is full
func (p *Pool) Submit(task func()) {
	p.tasks <- task
}

// Close stops accepting tasks, drains the queue and joins the workers
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.tasks)
	})
	p.wg.Wait()
}
