package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
)

// Job is one independent unit of work, typically the submission cycle of a
// single sample for a single pipeline.
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// executionState holds state for a single batch of jobs
type executionState struct {
	jobErrors    map[string]error
	pendingCount int           // Jobs not yet finished
	completeChan chan struct{} // Closed when pendingCount reaches zero
	mu           sync.Mutex
	completeOnce sync.Once
}

type jobContext struct {
	job    Job
	execID string
	ctx    context.Context
}

// WorkerPool runs jobs on a fixed number of goroutines. Jobs share nothing,
// so one failing job never stops the others.
type WorkerPool struct {
	logger     Logger
	jobChan    chan jobContext
	executions map[string]*executionState
	stopped    bool
	mu         sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
}

func NewWorkerPool(mainCtx context.Context, logger Logger) *WorkerPool {
	return &WorkerPool{
		logger:     orNop(logger),
		executions: make(map[string]*executionState),
		ctx:        mainCtx,
	}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.jobChan = make(chan jobContext, workers)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop waits for queued jobs to drain and shuts the workers down.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.mu.Unlock()

	close(wp.jobChan)
	wp.wg.Wait()
}

// ExecuteJobs runs jobs under execID and blocks until every one of them has
// finished or been abandoned because ctx (or the pool's context) ended.
// The returned map holds the error of each failed job by job ID.
func (wp *WorkerPool) ExecuteJobs(ctx context.Context, execID string, jobs []Job) map[string]error {
	wp.mu.Lock()
	if wp.stopped || wp.jobChan == nil {
		wp.mu.Unlock()
		return map[string]error{execID: fmt.Errorf("worker pool is not running")}
	}
	if _, exists := wp.executions[execID]; exists {
		wp.mu.Unlock()
		wp.logger.Errorf("execution %s already running", execID)
		return map[string]error{execID: fmt.Errorf("execution %s already running", execID)}
	}
	if len(jobs) == 0 {
		wp.mu.Unlock()
		return map[string]error{}
	}
	state := &executionState{
		jobErrors:    make(map[string]error),
		pendingCount: len(jobs),
		completeChan: make(chan struct{}),
	}
	wp.executions[execID] = state
	wp.mu.Unlock()

	// Queue from a separate goroutine so a cancelled context can abandon
	// jobs that never made it onto the channel.
	wp.wg.Add(1)
	go func() {
		defer wp.wg.Done()
		for i, job := range jobs {
			select {
			case wp.jobChan <- jobContext{job: job, execID: execID, ctx: ctx}:
			case <-ctx.Done():
				wp.abandon(state, jobs[i:], ctx.Err())
				return
			case <-wp.ctx.Done():
				wp.abandon(state, jobs[i:], wp.ctx.Err())
				return
			}
		}
	}()

	<-state.completeChan

	wp.mu.Lock()
	delete(wp.executions, execID)
	wp.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	errs := make(map[string]error, len(state.jobErrors))
	for id, err := range state.jobErrors {
		errs[id] = err
	}
	return errs
}

func (wp *WorkerPool) abandon(state *executionState, jobs []Job, err error) {
	wp.logger.Infof("Abandoning %d queued job(s): %v", len(jobs), err)
	for _, job := range jobs {
		wp.finish(state, job.ID, err)
	}
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for jc := range wp.jobChan {
		wp.mu.RLock()
		state, ok := wp.executions[jc.execID]
		wp.mu.RUnlock()
		if !ok {
			wp.logger.Errorf("Skipping job %s: unknown execution %s", jc.job.ID, jc.execID)
			continue
		}

		if err := wp.ctx.Err(); err != nil {
			wp.finish(state, jc.job.ID, err)
			continue
		}
		if err := jc.ctx.Err(); err != nil {
			wp.finish(state, jc.job.ID, err)
			continue
		}
		wp.finish(state, jc.job.ID, wp.runJob(jc))
	}
}

func (wp *WorkerPool) runJob(jc jobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("Job %s panicked: %v", jc.job.ID, r)
			err = fmt.Errorf("job %s panicked: %v", jc.job.ID, r)
		}
	}()
	return jc.job.Run(jc.ctx)
}

func (wp *WorkerPool) finish(state *executionState, jobID string, err error) {
	state.mu.Lock()
	if err != nil {
		state.jobErrors[jobID] = err
	}
	state.pendingCount--
	done := state.pendingCount <= 0
	state.mu.Unlock()
	if done {
		state.completeOnce.Do(func() { close(state.completeChan) })
	}
}
