package worker

// Worker runs turns handed to it by the pool, one at a time.
type Worker struct {
	pool       *jobChannelPool
	manager    *Manager
	jobChannel chan Job
}

func NewWorker(pool *jobChannelPool, manager *Manager) *Worker {
	return &Worker{
		pool:       pool,
		manager:    manager,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// offer ourselves to the pool, then wait for work
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			switch job.Type {
			case Stop:
				w.pool.retire(w.jobChannel)
				return
			case Turn:
				w.manager.runTurn(job.turn)
			}
		}
	}()
}
