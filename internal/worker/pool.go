package worker

import (
	"hash/fnv"
	"sync"
	"sync/atomic"

	"sheetbot-go/internal/metrics"
)

// MaxDeadLetters bounds the dead letter list; the oldest entries are
// dropped first.
const MaxDeadLetters = 64

// Task represents a unit of work for the worker pool
type Task interface {
	Process() error
}

// Keyed tasks with equal keys run one at a time, in submission order.
type Keyed interface {
	Task
	Key() string
}

// Func adapts a function to a Keyed task.
type Func struct {
	K  string
	Fn func() error
}

func (f Func) Process() error { return f.Fn() }
func (f Func) Key() string    { return f.K }

// WorkerPool runs tasks on a fixed set of workers. Each worker owns a
// queue; keyed tasks always land on the same worker so tasks for one key
// never run concurrently.
type WorkerPool struct {
	wg           sync.WaitGroup
	workers      int
	queues       []chan Task
	queueCap     int
	next         atomic.Uint32
	stateMu      sync.RWMutex
	started      bool
	stopped      bool
	deadLetter   []Task
	deadLetterMu sync.Mutex
	maxAttempts  int
}

// PoolStats holds monitoring information about the worker pool
type PoolStats struct {
	ActiveWorkers int
	QueueLength   int
	DeadLetters   int
}

// NewWorkerPool creates a pool of workers, each with a queue of queueCap
// tasks. A task is tried up to maxAttempts times before it is moved to
// the dead letter list, which keeps the MaxDeadLetters most recent
// failures.
func NewWorkerPool(workers, queueCap, maxAttempts int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueCap < 1 {
		queueCap = 1
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	queues := make([]chan Task, workers)
	for i := range queues {
		queues[i] = make(chan Task, queueCap)
	}
	return &WorkerPool{
		workers:     workers,
		queues:      queues,
		queueCap:    queueCap,
		maxAttempts: maxAttempts,
	}
}

// Start launches the worker goroutines
func (p *WorkerPool) Start() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for _, q := range p.queues {
		p.wg.Add(1)
		go p.workerLoop(q)
	}
}

// Stop stops accepting tasks, lets workers drain their queues and waits
// for them to finish.
func (p *WorkerPool) Stop() {
	p.stateMu.Lock()
	if p.stopped {
		p.stateMu.Unlock()
		return
	}
	p.stopped = true
	for _, q := range p.queues {
		close(q)
	}
	p.stateMu.Unlock()
	p.wg.Wait()
}

// Submit adds a task to the queue, returns false if the queue is full or
// the pool is stopped.
func (p *WorkerPool) Submit(task Task) bool {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if p.stopped {
		return false
	}

	q := p.queues[p.route(task)]
	select {
	case q <- task:
		return true
	default:
		metrics.TasksDropped.Inc()
		return false // backpressure: queue is full
	}
}

func (p *WorkerPool) route(task Task) int {
	if k, ok := task.(Keyed); ok {
		h := fnv.New32a()
		h.Write([]byte(k.Key()))
		return int(h.Sum32() % uint32(p.workers))
	}
	return int((p.next.Add(1) - 1) % uint32(p.workers))
}

// workerLoop is the main loop for each worker goroutine
func (p *WorkerPool) workerLoop(q chan Task) {
	defer p.wg.Done()
	for task := range q {
		p.process(task)
	}
}

// process runs a task up to maxAttempts times, then moves it to dead
// letter. A panicking task counts as a failed attempt.
func (p *WorkerPool) process(task Task) {
	metrics.TasksInFlight.Inc()
	defer metrics.TasksInFlight.Dec()

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if err := safeProcess(task); err == nil {
			return
		}
	}
	metrics.TasksFailed.Inc()

	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	if len(p.deadLetter) >= MaxDeadLetters {
		n := copy(p.deadLetter, p.deadLetter[len(p.deadLetter)-MaxDeadLetters+1:])
		clear(p.deadLetter[n:])
		p.deadLetter = p.deadLetter[:n]
	}
	p.deadLetter = append(p.deadLetter, task)
	metrics.DeadLetters.Set(float64(len(p.deadLetter)))
}

func safeProcess(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errPanic{r}
		}
	}()
	return task.Process()
}

// DeadLetterCount returns the number of tasks in the dead letter queue
func (p *WorkerPool) DeadLetterCount() int {
	p.deadLetterMu.Lock()
	defer p.deadLetterMu.Unlock()
	return len(p.deadLetter)
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Stats returns current statistics about the worker pool
func (p *WorkerPool) Stats() PoolStats {
	queued := 0
	for _, q := range p.queues {
		queued += len(q)
	}
	return PoolStats{
		ActiveWorkers: p.workers,
		QueueLength:   queued,
		DeadLetters:   p.DeadLetterCount(),
	}
}
