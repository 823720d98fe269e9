package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/wildlife-id-bot/internal/errors"
	"github.com/tphakala/wildlife-id-bot/internal/logger"
)

// Config holds bus configuration.
type Config struct {
	BufferSize     int
	Workers        int
	ConsumeTimeout time.Duration
}

// DefaultConfig returns the default bus configuration.
func DefaultConfig() Config {
	return Config{BufferSize: 1000, Workers: 2, ConsumeTimeout: 15 * time.Second}
}

// Bus delivers events to consumers on a fixed worker pool. Publishing never
// blocks: when the buffer is full the event is dropped and counted.
type Bus struct {
	cfg       Config
	ch        chan Event
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	consumers []Consumer
	running   atomic.Bool
	closeOnce sync.Once
	log       logger.Logger

	received, processed, dropped, consumerErrors atomic.Uint64
}

// NewBus creates a bus and starts its workers.
func NewBus(cfg Config) *Bus {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ConsumeTimeout <= 0 {
		cfg.ConsumeTimeout = def.ConsumeTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		cfg:    cfg,
		ch:     make(chan Event, cfg.BufferSize),
		ctx:    ctx,
		cancel: cancel,
		log:    logger.Global().Module("events"),
	}
	b.running.Store(true)
	for i := range cfg.Workers {
		b.wg.Go(func() { b.worker(i) })
	}
	return b
}

// Register adds a consumer. Names must be unique.
func (b *Bus) Register(c Consumer) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.consumers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("consumer %s already registered", c.Name())
		}
	}
	b.consumers = append(b.consumers, c)
	b.log.Info("registered event consumer", logger.String("consumer", c.Name()))
	return nil
}

// Publish queues e without blocking. It returns false when the event was
// dropped because the bus is closed, has no consumers, or is full.
func (b *Bus) Publish(e Event) bool {
	if b == nil || !b.running.Load() {
		return false
	}
	b.mu.RLock()
	hasConsumers := len(b.consumers) > 0
	b.mu.RUnlock()
	if !hasConsumers {
		return false
	}

	select {
	case b.ch <- e:
		b.received.Add(1)
		return true
	default:
		b.dropped.Add(1)
		b.log.Debug("event dropped due to full buffer", logger.String("kind", string(e.Kind())))
		return false
	}
}

func (b *Bus) worker(id int) {
	for {
		select {
		case <-b.ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case e := <-b.ch:
					b.dispatch(e, id)
				default:
					return
				}
			}
		case e := <-b.ch:
			b.dispatch(e, id)
		}
	}
}

func (b *Bus) dispatch(e Event, workerID int) {
	b.mu.RLock()
	consumers := make([]Consumer, 0, len(b.consumers))
	for _, c := range b.consumers {
		if c.Accepts(e.Kind()) {
			consumers = append(consumers, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range consumers {
		b.deliver(c, e, workerID)
	}
}

func (b *Bus) deliver(c Consumer, e Event, workerID int) {
	defer func() {
		if r := recover(); r != nil {
			b.consumerErrors.Add(1)
			b.log.Error("event consumer panicked",
				logger.String("consumer", c.Name()),
				logger.Int("worker_id", workerID),
				logger.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ConsumeTimeout)
	defer cancel()
	if err := c.Process(ctx, e); err != nil {
		b.consumerErrors.Add(1)
		b.log.Warn("event consumer failed",
			logger.String("consumer", c.Name()),
			logger.String("kind", string(e.Kind())),
			logger.Error(err))
		return
	}
	b.processed.Add(1)
}

// Shutdown stops accepting events, lets the workers drain the buffer and
// waits for them up to timeout.
func (b *Bus) Shutdown(timeout time.Duration) error {
	var err error
	b.closeOnce.Do(func() {
		b.running.Store(false)
		b.cancel()

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			err = errors.Newf("event bus shutdown timeout exceeded").
				Component("events").
				Category(errors.CategoryTimeout).
				Build()
		}
	})
	return err
}

// Stats returns a snapshot of the bus counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Received:       b.received.Load(),
		Processed:      b.processed.Load(),
		Dropped:        b.dropped.Load(),
		ConsumerErrors: b.consumerErrors.Load(),
	}
}
