// Package pipeline moves events from the camera workers to the cloud: a
// bounded in-memory queue, a batching dispatcher with retry backoff, and a
// disk spool for batches that outlive the retry ladder.
package pipeline

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/winklabs/storepulse/internal/events"
)

// Config tunes the dispatcher. Zero values fall back to the defaults below,
// which match the BATCH_SECONDS/MAX_BATCH/BACKOFF_* environment knobs.
type Config struct {
	QueueCapacity int
	MaxBatch      int
	BatchInterval time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffMax    time.Duration
	DrainMax      int
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 10000
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.BatchInterval <= 0 {
		c.BatchInterval = 2 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 4
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 1.5
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 60 * time.Second
	}
	if c.DrainMax <= 0 {
		c.DrainMax = 2000
	}
	return c
}

// Observer receives dispatcher telemetry. Implementations must be cheap;
// calls happen on the dispatch goroutine.
type Observer interface {
	BatchFlushed(n int, elapsed time.Duration)
	BatchSpooled(n int)
	SpoolDrained(n int)
}

type nopObserver struct{}

func (nopObserver) BatchFlushed(int, time.Duration) {}
func (nopObserver) BatchSpooled(int)                {}
func (nopObserver) SpoolDrained(int)                {}

// Dispatcher owns the outbound path. Camera workers publish into the bounded
// queue; a single goroutine batches, posts, retries, and spools.
type Dispatcher struct {
	cfg      Config
	client   *Client
	spool    *Spool
	queue    chan events.Event
	breaker  *gobreaker.CircuitBreaker
	observer Observer
	logger   *log.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewDispatcher wires the outbound pipeline and starts its dispatch loop.
// The circuit breaker only gates opportunistic spool drains; the primary
// batch path keeps its own retry ladder regardless of breaker state.
func NewDispatcher(cfg Config, client *Client, spool *Spool, observer Observer) *Dispatcher {
	cfg = cfg.withDefaults()
	if observer == nil {
		observer = nopObserver{}
	}

	d := &Dispatcher{
		cfg:      cfg,
		client:   client,
		spool:    spool,
		queue:    make(chan events.Event, cfg.QueueCapacity),
		observer: observer,
		logger:   log.New(log.Writer(), "[DISPATCH] ", log.LstdFlags),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "spool-drain",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}

	d.wg.Add(1)
	go d.run()
	return d
}

// Publish enqueues one event. It blocks when the queue is full so frame
// processing throttles instead of dropping events; a dropped event is an
// undercount the analytics layer can never repair.
func (d *Dispatcher) Publish(ev events.Event) {
	d.queue <- ev
}

// Close stops accepting events, flushes whatever is buffered, and returns
// when the dispatch goroutine has exited. Producers must be stopped first.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.BatchInterval)
	defer ticker.Stop()

	batch := make([]events.Event, 0, d.cfg.MaxBatch)

	for {
		select {
		case ev, ok := <-d.queue:
			if !ok {
				if len(batch) > 0 {
					d.flush(batch)
				}
				d.drainSpool()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.MaxBatch {
				d.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				d.flush(batch)
				batch = batch[:0]
			}
			d.drainSpool()
		}
	}
}

// flush posts one batch with the retry ladder. Exhausted batches go to the
// spool so the worst case degrades to delayed delivery, never loss.
func (d *Dispatcher) flush(batch []events.Event) {
	start := time.Now()
	if err := d.postWithRetry(batch); err != nil {
		d.logger.Printf("⚠️  Batch of %d failed after retries, spooling to disk: %v", len(batch), err)
		if serr := d.spool.Append(batch); serr != nil {
			d.logger.Printf("❌ Spool append failed, %d events lost: %v", len(batch), serr)
			return
		}
		d.observer.BatchSpooled(len(batch))
		return
	}
	d.observer.BatchFlushed(len(batch), time.Since(start))
	d.drainSpool()
}

func (d *Dispatcher) postWithRetry(batch []events.Event) error {
	var err error
	for attempt := 0; attempt <= d.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(d.backoff(attempt - 1))
		}
		var resp *BulkResponse
		resp, err = d.client.PostBulk(context.Background(), batch)
		if err == nil {
			if resp.Duplicates > 0 {
				d.logger.Printf("Sent batch of %d (%d duplicates absorbed)", resp.Total, resp.Duplicates)
			}
			return nil
		}
		d.logger.Printf("⚠️  Bulk post attempt %d/%d failed: %v", attempt+1, d.cfg.MaxRetries+1, err)
	}
	return err
}

// backoff returns min(base * factor^n, max).
func (d *Dispatcher) backoff(n int) time.Duration {
	delay := float64(d.cfg.BackoffBase) * math.Pow(d.cfg.BackoffFactor, float64(n))
	if delay > float64(d.cfg.BackoffMax) {
		return d.cfg.BackoffMax
	}
	return time.Duration(delay)
}

// drainSpool opportunistically replays spooled events. One failed post
// re-appends the slice; the breaker then skips drains for a while so a dead
// backend is not hammered from two directions at once.
func (d *Dispatcher) drainSpool() {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		pending, err := d.spool.Drain(d.cfg.DrainMax)
		if err != nil {
			d.logger.Printf("❌ Spool drain failed: %v", err)
			return nil, err
		}
		if len(pending) == 0 {
			return nil, nil
		}

		if _, err := d.client.PostBulk(context.Background(), pending); err != nil {
			if serr := d.spool.Append(pending); serr != nil {
				d.logger.Printf("❌ Spool re-append failed, %d events lost: %v", len(pending), serr)
			}
			return nil, err
		}
		d.logger.Printf("✅ Replayed %d spooled events", len(pending))
		d.observer.SpoolDrained(len(pending))
		return nil, nil
	})
	if err != nil && err != gobreaker.ErrOpenState && err != gobreaker.ErrTooManyRequests {
		d.logger.Printf("⚠️  Spool replay deferred: %v", err)
	}
}
