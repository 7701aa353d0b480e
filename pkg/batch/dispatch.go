package batch

import "sync"

// dispatcher delivers observer events on its own goroutine, in posting
// order. Posting never blocks, so a slow observer delays only the events
// queued behind it, never the workers.
type dispatcher struct {
	observers []Observer

	mu     sync.Mutex
	queue  []func(Observer)
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

func newDispatcher(observers []Observer) *dispatcher {
	d := &dispatcher{
		observers: observers,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher) post(fn func(Observer)) {
	if len(d.observers) == 0 {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, fn)
	d.mu.Unlock()
	d.signal()
}

func (d *dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher) loop() {
	defer close(d.done)
	for {
		d.mu.Lock()
		pending, closed := d.queue, d.closed
		d.queue = nil
		d.mu.Unlock()

		for _, fn := range pending {
			for _, o := range d.observers {
				fn(o)
			}
		}
		if len(pending) == 0 {
			if closed {
				return
			}
			<-d.wake
		}
	}
}

// drain stops accepting events and waits until every queued event has
// been delivered.
func (d *dispatcher) drain() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.signal()
	<-d.done
}
