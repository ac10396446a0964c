package communicator

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bilal/dashline-agent/internal/config"
	"github.com/bilal/dashline-agent/internal/metrics"
)

// Communicator delivers dash lines to a sink with retries and buffering.
type Communicator struct {
	sink         Sink
	rec          metrics.Recorder
	queue        chan Line
	wg           sync.WaitGroup
	sendInterval time.Duration
	batchSize    int
	maxQueue     int
	maxAttempts  int
	baseDelay    time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates communicator; it does NOT start the send loop.
func New(cfg *config.Config, sink Sink, rec metrics.Recorder) *Communicator {
	if rec == nil {
		rec = metrics.Nop{}
	}

	maxQ := cfg.Agent.MaxQueueSize
	if maxQ <= 0 {
		maxQ = 256
	}
	batch := cfg.Agent.BatchSize
	if batch <= 0 {
		batch = 1
	}
	interval := cfg.Agent.SendInterval()
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	attempts := cfg.Agent.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Communicator{
		sink:         sink,
		rec:          rec,
		queue:        make(chan Line, maxQ),
		sendInterval: interval,
		batchSize:    batch,
		maxQueue:     maxQ,
		maxAttempts:  attempts,
		baseDelay:    100 * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start background sender loop. Call once.
func (c *Communicator) Start() {
	c.wg.Add(1)
	go c.loop()
	log.Info().Str("sink", c.sink.Name()).Int("queue_capacity", c.maxQueue).Msg("communicator started")
}

// Shutdown stops the sender, flushes what is queued and closes the sink.
// It gives up waiting when ctx expires.
func (c *Communicator) Shutdown(ctx context.Context) {
	log.Info().Msg("communicator shutdown initiated")
	c.cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("communicator shutdown complete")
	case <-ctx.Done():
		log.Warn().Msg("communicator shutdown timeout")
	}

	if err := c.sink.Close(); err != nil {
		log.Error().Err(err).Str("sink", c.sink.Name()).Msg("close sink failed")
	}
}

// Send enqueues a line. Non-blocking: if the queue is full, the oldest line
// is dropped.
func (c *Communicator) Send(l Line) {
	// ensure correlation id
	if l.CorrelationID == "" {
		l.CorrelationID = uuid.New().String()
	}
	if l.Timestamp.IsZero() {
		l.Timestamp = time.Now()
	}

	select {
	case c.queue <- l:
		// enqueued
	default:
		// queue full: drop oldest (read one) then enqueue
		select {
		case <-c.queue:
			c.rec.IncCounter(metrics.LinesDropped, 1)
		default:
		}
		select {
		case c.queue <- l:
		default:
			// if still fails, drop and log
			c.rec.IncCounter(metrics.LinesDropped, 1)
			log.Warn().Msg("line dropped: queue full")
		}
	}
	c.rec.SetGauge(metrics.QueueLength, float64(len(c.queue)))
}

// QueueLen reports how many lines are waiting.
func (c *Communicator) QueueLen() int {
	return len(c.queue)
}

// loop batches and sends
func (c *Communicator) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.sendInterval)
	defer ticker.Stop()

	// local buffer
	buffer := make([]Line, 0, c.batchSize)

	for {
		select {
		case <-c.ctx.Done():
			// flush remaining
			for {
				select {
				case l := <-c.queue:
					buffer = append(buffer, l)
				default:
					if len(buffer) > 0 {
						c.flushWithRetry(context.Background(), buffer)
					}
					c.rec.SetGauge(metrics.QueueLength, 0)
					return
				}
			}

		case l := <-c.queue:
			buffer = append(buffer, l)
			c.rec.SetGauge(metrics.QueueLength, float64(len(c.queue)))
			if len(buffer) >= c.batchSize {
				c.flushWithRetry(c.ctx, buffer)
				buffer = buffer[:0]
			}

		case <-ticker.C:
			if len(buffer) > 0 {
				c.flushWithRetry(c.ctx, buffer)
				buffer = buffer[:0]
			}
		}
	}
}

// flushWithRetry writes the batch and retries with exponential backoff + jitter
func (c *Communicator) flushWithRetry(ctx context.Context, items []Line) {
	var attempt int
	for {
		attempt++
		err := c.sink.WriteBatch(ctx, items)
		if err == nil {
			log.Debug().Int("count", len(items)).Str("correlation", items[0].CorrelationID).Msg("lines delivered")
			return
		}

		c.rec.IncCounter(metrics.SendFailures, 1)
		log.Warn().Err(err).Str("sink", c.sink.Name()).Int("attempt", attempt).Int("count", len(items)).Msg("line delivery failed")

		if attempt >= c.maxAttempts {
			c.rec.IncCounter(metrics.LinesDropped, float64(len(items)))
			log.Error().Int("attempts", attempt).Msg("max attempts reached, dropping lines")
			return
		}

		// exponential backoff with jitter
		backoff := time.Duration(math.Pow(2, float64(attempt-1))) * c.baseDelay
		jitter := time.Duration(rand.Int63n(int64(c.baseDelay) + 1))
		sleep := backoff + jitter

		select {
		case <-time.After(sleep):
			// next attempt
		case <-ctx.Done():
			c.rec.IncCounter(metrics.LinesDropped, float64(len(items)))
			log.Warn().Msg("communicator context cancelled during backoff")
			return
		}
	}
}
