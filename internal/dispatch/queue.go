package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDailyLimitExceeded means the durable per-destination daily cap is spent.
	ErrDailyLimitExceeded = errors.New("daily send limit reached")
	// ErrRateLimited means the in-memory sliding window denied the send.
	ErrRateLimited = errors.New("send rate limit exceeded")
	// ErrStopped means the queue no longer accepts jobs.
	ErrStopped = errors.New("dispatch queue stopped")
)

// Job is one outbound send. It lives only in queue memory for the duration of
// processing; nothing about it is persisted by the queue itself.
type Job struct {
	Channel        string
	Destination    string
	OrganizationID uuid.UUID
	Message        string
	Subject        string // email only
	HTMLBody       string // email only
	EnqueuedAt     time.Time
}

// Result reports a completed send.
type Result struct {
	SentToday int           // including this send
	Delay     time.Duration // humanizer pause applied before the transport call
	Message   string        // body actually sent, after wording variation
}

// Sender places one message on the wire. Implementations live in services;
// the queue never inspects transport internals.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// SentCounter counts durable send history so the daily cap survives restarts.
type SentCounter interface {
	CountSentToday(channel, destination string, now time.Time) (int64, error)
}

type outcome struct {
	result Result
	err    error
}

type pending struct {
	job Job
	out chan outcome
}

// Queue serializes outbound sends for one channel: a single worker drains
// jobs strictly in FIFO order, so at most one transport call per channel is
// in flight and side effects keep submission order.
type Queue struct {
	channel   string
	dailyCap  int
	sender    Sender
	counter   SentCounter
	limiter   *Limiter
	humanizer *Humanizer

	jobs     chan pending
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

func NewQueue(channel string, dailyCap, size int, sender Sender, counter SentCounter, limiter *Limiter, humanizer *Humanizer) *Queue {
	if size <= 0 {
		size = 512
	}
	q := &Queue{
		channel:   channel,
		dailyCap:  dailyCap,
		sender:    sender,
		counter:   counter,
		limiter:   limiter,
		humanizer: humanizer,
		jobs:      make(chan pending, size),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
	}
	go q.run()
	return q
}

// Enqueue submits a job and waits for its outcome. Enqueueing never blocks
// the worker; the caller blocks until the job is processed or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Result, error) {
	job.Channel = q.channel
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now()
	}
	p := pending{job: job, out: make(chan outcome, 1)}

	select {
	case q.jobs <- p:
	case <-q.quit:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case o := <-p.out:
		return o.result, o.err
	case <-q.done:
		// The worker is gone. The submit select above races a closed quit
		// against the buffered jobs channel, so the job may have landed in
		// the buffer after the final drain with nobody left to fail it.
		select {
		case o := <-p.out:
			return o.result, o.err
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		// The job still runs to completion; only the caller stops waiting.
		return Result{}, ctx.Err()
	}
}

// Stop shuts the worker down after the current job. Pending jobs fail with
// ErrStopped through their outcome channels when the worker exits.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.quit) })
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			q.failPending()
			return
		case p := <-q.jobs:
			p.out <- q.process(p.job)
		}
	}
}

func (q *Queue) failPending() {
	for {
		select {
		case p := <-q.jobs:
			p.out <- outcome{err: ErrStopped}
		default:
			return
		}
	}
}

// process runs one job. A failed job is reported to its caller and never
// takes the worker down with it; the queue keeps draining.
func (q *Queue) process(job Job) (o outcome) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Dispatch worker recovered on %s job for %s: %v", q.channel, job.Destination, r)
			o = outcome{err: fmt.Errorf("dispatch job panicked: %v", r)}
		}
	}()

	now := q.now()
	sentToday, err := q.counter.CountSentToday(q.channel, job.Destination, now)
	if err != nil {
		return outcome{err: fmt.Errorf("failed to count today's sends: %w", err)}
	}
	if q.dailyCap > 0 && sentToday >= int64(q.dailyCap) {
		return outcome{err: fmt.Errorf("%w: %d/%d %s sends today for %s",
			ErrDailyLimitExceeded, sentToday, q.dailyCap, q.channel, job.Destination)}
	}

	if d := q.limiter.CanSend(job.Destination); !d.Allowed {
		return outcome{err: fmt.Errorf("%w: %s", ErrRateLimited, d.Reason)}
	}

	delay := q.humanizer.Delay()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-q.quit:
			timer.Stop()
			return outcome{err: ErrStopped}
		}
	}

	job.Message = q.humanizer.Vary(job.Message)

	if err := q.sender.Send(context.Background(), job); err != nil {
		return outcome{err: fmt.Errorf("%s send to %s failed: %w", q.channel, job.Destination, err)}
	}

	q.limiter.Record(job.Destination)
	return outcome{result: Result{
		SentToday: int(sentToday) + 1,
		Delay:     delay,
		Message:   job.Message,
	}}
}

// Dispatcher routes jobs to the per-channel queues. Constructed at startup
// and injected into the orchestrator; there is no package-level instance.
type Dispatcher struct {
	queues map[string]*Queue
}

func NewDispatcher(queues map[string]*Queue) *Dispatcher {
	return &Dispatcher{queues: queues}
}

func (d *Dispatcher) Enqueue(ctx context.Context, job Job) (Result, error) {
	q, ok := d.queues[job.Channel]
	if !ok {
		return Result{}, fmt.Errorf("no dispatch queue for channel %q", job.Channel)
	}
	return q.Enqueue(ctx, job)
}

// Stop shuts all queues down, waiting for each worker.
func (d *Dispatcher) Stop() {
	for _, q := range d.queues {
		q.Stop()
	}
}
