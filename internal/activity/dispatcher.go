package activity

import (
	"context"
	"sync"
)

const subscriberBufferSize = 16

// Dispatcher fans recorded events out to live admin stream subscribers.
// Publishing never blocks; a slow subscriber misses events rather than
// stalling the writer.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      int64
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{subscribers: make(map[int64]chan Event)}
}

// Subscribe registers a stream that is torn down when ctx ends. The returned
// cancel function is idempotent.
func (d *Dispatcher) Subscribe(ctx context.Context) (<-chan Event, func()) {
	d.mu.Lock()
	d.nextID++
	id := d.nextID
	stream := make(chan Event, subscriberBufferSize)
	d.subscribers[id] = stream
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return stream, cancel
}

// Publish delivers the event to every current subscriber without blocking.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	streams := make([]chan Event, 0, len(d.subscribers))
	for _, stream := range d.subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()

	for _, stream := range streams {
		select {
		case stream <- event:
		default:
		}
	}
}
