// Package pipeline coordinates alignment jobs from queue to output.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"skyalign/internal/logging"
	"skyalign/internal/storage"
)

// Result captures the outcome of one queued job.
type Result struct {
	Job     Job
	Outcome *Outcome
	Error   error
}

// Pipeline dispatches alignment jobs across workers.
type Pipeline struct {
	coord     *Coordinator
	log       *slog.Logger
	jobs      chan Job
	wg        sync.WaitGroup
	cancel    context.CancelFunc
	stopOnce  sync.Once
	store     *storage.Store
	mu        sync.Mutex
	subs      map[int]chan Result
	nextSubID int
}

// New creates a pipeline running jobs on the given coordinator with
// the given worker count.
func New(ctx context.Context, workers int, coord *Coordinator, logger *slog.Logger, store *storage.Store) *Pipeline {
	if workers < 1 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		coord:  coord,
		log:    logger,
		jobs:   make(chan Job, workers*2),
		cancel: cancel,
		store:  store,
		subs:   make(map[int]chan Result),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	return p
}

// Submit adds a job to the processing queue.
func (p *Pipeline) Submit(job Job) error {
	if p.store != nil {
		_ = p.store.RecordJobQueued(storage.JobRecord{
			ID:         job.ID,
			Status:     "queued",
			RGBPath:    job.RGBPath,
			OutputPath: job.OutputPath,
			TilePath:   job.TilePath,
			FITSCount:  len(job.FITSPaths),
		})
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Stop signals workers to exit and waits for completion.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.jobs)
		p.wg.Wait()
		p.mu.Lock()
		for id, ch := range p.subs {
			close(ch)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	})
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			logging.LogJobStart(p.log, job.ID, job.RGBPath, len(job.FITSPaths), job.OutputPath)
			if p.store != nil {
				_ = p.store.RecordJobStart(job.ID)
			}

			outcome, err := p.coord.Run(ctx, job)
			duration := time.Since(start)

			if err != nil {
				logging.LogJobError(p.log, job.ID, duration, err)
				if p.store != nil {
					_ = p.store.RecordJobResult(job.ID, "failed", err.Error())
				}
			} else {
				logging.LogJobComplete(p.log, job.ID, duration, job.OutputPath, job.TilePath)
				if p.store != nil {
					_ = p.store.RecordJobResult(job.ID, "completed", "")
				}
			}

			p.broadcast(Result{Job: job, Outcome: outcome, Error: err})
		}
	}
}

// Subscribe returns a channel receiving job results and an unsubscribe
// function.
func (p *Pipeline) Subscribe() (<-chan Result, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextSubID
	p.nextSubID++
	ch := make(chan Result, 8)
	p.subs[id] = ch
	unsub := func() {
		p.mu.Lock()
		if c, ok := p.subs[id]; ok {
			close(c)
			delete(p.subs, id)
		}
		p.mu.Unlock()
	}
	return ch, unsub
}

func (p *Pipeline) broadcast(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ch := range p.subs {
		select {
		case ch <- res:
		default:
		}
	}
}
