package bus

import (
	"log/slog"
	"sync"

	"github.com/e7canasta/ttsam-go/internal/types"
)

// subscriberBuffer is the per-subscriber channel capacity: small and
// bounded, matching the teacher's framebus "drop frames, never queue"
// philosophy applied here to reports instead of video frames.
const subscriberBuffer = 4

// Broadcaster is the default in-process ViewChannel: every Push fans out to
// each registered subscriber's bounded channel, dropping on a full buffer
// rather than blocking the dispatcher.
type Broadcaster struct {
	log *slog.Logger

	mu          sync.RWMutex
	subscribers map[int]chan types.Report
	nextID      int
	dropped     map[int]uint64
	pushed      uint64
}

// NewBroadcaster builds an empty Broadcaster.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		log:         log,
		subscribers: make(map[int]chan types.Report),
		dropped:     make(map[int]uint64),
	}
}

// Subscribe registers a new listener and returns its channel and an
// unsubscribe function.
func (b *Broadcaster) Subscribe() (<-chan types.Report, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan types.Report, subscriberBuffer)
	b.subscribers[id] = ch
	b.dropped[id] = 0
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		delete(b.dropped, id)
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Push fans report out to every subscriber, non-blocking. Takes the write
// lock since it mutates dropped/pushed counters alongside reading
// subscribers.
func (b *Broadcaster) Push(report types.Report) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- report:
		default:
			b.dropped[id]++
			b.log.Debug("view channel push dropped", "subscriber_id", id, "event_id", report.EventID)
		}
	}
	b.pushed++
}

// Publish implements OutwardBus by delegating to Push, so a Broadcaster can
// be composed directly into a Multi bus alongside the MQTT leg.
func (b *Broadcaster) Publish(report types.Report) {
	b.Push(report)
}
