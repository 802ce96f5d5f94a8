package worker

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

type JobType int

const (
	Turn JobType = iota
	Stop
)

func (t JobType) String() string {
	switch t {
	case Turn:
		return "turn"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

type Job struct {
	Type JobType
	turn *turnTask
}

// identity returns the fairness key: one queue per signed-in user, and one
// per guest conversation.
func (job Job) identity() string {
	if job.turn == nil {
		return ""
	}
	return job.turn.identity
}

// DispatcherConfig sizes the worker pool and the turn queue.
type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
}

type identityQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher holds one FIFO per identity and hands jobs to pooled workers,
// serving identities round-robin.
type Dispatcher struct {
	pool      *jobChannelPool
	Manager   *Manager
	queueSize int
	logger    *zap.Logger

	mu        sync.Mutex
	queues    map[string]*identityQueue // job queue for each identity
	ready     *list.List                // round-robin queue storing identities
	positions map[string]*list.Element
	pending   int // accepted but not yet handed to a worker
	closed    bool

	notify chan struct{}
	stop   chan struct{}
	done   chan struct{}
}

const defaultQueueSize = 64

func NewDispatcher(cfg DispatcherConfig, manager *Manager, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	d := &Dispatcher{
		pool:      newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, manager),
		Manager:   manager,
		queueSize: queueSize,
		logger:    logger,
		queues:    make(map[string]*identityQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues job, failing fast with ErrDispatcherBusy when the queue is full.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrManagerClosed
	}
	if d.pending >= d.queueSize {
		d.mu.Unlock()
		return ErrDispatcherBusy
	}
	d.pending++
	d.enqueueLocked(job)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		if d.dispatchOne() {
			continue
		}
		select {
		case <-d.notify:
		case <-d.stop:
			return
		}
	}
}

// CancelIdentity drops every queued job of identity. Their callers get
// ErrTurnCanceled.
func (d *Dispatcher) CancelIdentity(identity string) int {
	d.mu.Lock()
	q := d.queues[identity]
	delete(d.queues, identity)
	if elem, ok := d.positions[identity]; ok {
		d.ready.Remove(elem)
		delete(d.positions, identity)
	}
	var dropped []Job
	if q != nil {
		dropped = q.jobs
		d.pending -= len(dropped)
	}
	d.mu.Unlock()

	for _, job := range dropped {
		job.turn.finish(nil, ErrTurnCanceled)
	}
	return len(dropped)
}

func (d *Dispatcher) enqueueLocked(job Job) {
	identity := job.identity()
	q := d.queues[identity]
	if q == nil {
		q = &identityQueue{}
		d.queues[identity] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[identity] = d.ready.PushBack(identity)
}

// dispatchOne takes the next job of the identity at the front and hands it
// to a worker, blocking until one is free.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	identity := elem.Value.(string)
	q := d.queues[identity]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, identity)
		delete(d.queues, identity)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, ok := d.pool.acquire()
	if !ok {
		d.release()
		job.turn.finish(nil, ErrManagerClosed)
		return true
	}
	d.logger.Debug("assign turn to worker",
		zap.String("identity", identity),
		zap.Int("worker", d.pool.workerID(workerChan)))
	workerChan <- job
	d.release()
	return true
}

func (d *Dispatcher) release() {
	d.mu.Lock()
	d.pending--
	d.mu.Unlock()
}

// Pending reports jobs accepted but not yet running.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Close stops accepting jobs, fails the queued ones and shuts the pool down.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	var dropped []Job
	for _, q := range d.queues {
		dropped = append(dropped, q.jobs...)
	}
	d.queues = make(map[string]*identityQueue)
	d.positions = make(map[string]*list.Element)
	d.ready.Init()
	d.pending -= len(dropped)
	d.mu.Unlock()

	for _, job := range dropped {
		job.turn.finish(nil, ErrManagerClosed)
	}
	d.pool.close()
	close(d.stop)
	<-d.done
}
