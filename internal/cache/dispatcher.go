package cache

import (
	"sync"

	"go.uber.org/zap"
)

type delivery struct {
	subscription *Subscription
	entry        Entry
	// final deliveries reach subscriptions that were detached by the same state change.
	final bool
}

// dispatcher delivers broadcasts on one goroutine in enqueue order.
// Enqueue never blocks, so it is safe to call while holding the store lock
// and from inside subscriber callbacks.
type dispatcher struct {
	mu      sync.Mutex
	queue   []delivery
	closing bool
	wake    chan struct{}
	stopped chan struct{}
	logger  *zap.Logger
}

func newDispatcher(logger *zap.Logger) *dispatcher {
	d := &dispatcher{
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go d.run()
	return d
}

func (d *dispatcher) enqueue(items ...delivery) {
	if len(items) == 0 {
		return
	}
	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, items...)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		batch := d.queue
		d.queue = nil
		closing := d.closing
		d.mu.Unlock()

		if len(batch) == 0 {
			if closing {
				return
			}
			<-d.wake
			continue
		}
		for _, item := range batch {
			d.deliver(item)
		}
	}
}

func (d *dispatcher) deliver(item delivery) {
	if !item.final && !item.subscription.active.Load() {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("cache subscriber panicked",
				zap.String("key", item.entry.Key.String()),
				zap.Any("panic", recovered))
		}
	}()
	item.subscription.onChange(item.entry)
}

// close drains queued deliveries and stops the goroutine.
// It must not be called from a subscriber callback.
func (d *dispatcher) close() {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()
	d.signal()
	<-d.stopped
}
