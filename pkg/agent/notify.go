package agent

import (
	"log"
	"sync"
	"time"
)

// DefaultInboxSize caps queued notifications per sender. When a sender's
// queue is full the oldest entry is dropped to make room.
const DefaultInboxSize = 64

// Notification is a small out-of-band message delivered from a peer.
type Notification struct {
	Sender   string
	Payload  []byte
	Received time.Time
}

// inbox queues notifications in arrival order, bounded per sender.
type inbox struct {
	mu      sync.Mutex
	queue   []Notification
	pending map[string]int
	limit   int
	closed  bool
	dropped uint64
}

func newInbox(limit int) *inbox {
	if limit <= 0 {
		limit = DefaultInboxSize
	}
	return &inbox{
		pending: make(map[string]int),
		limit:   limit,
	}
}

func (in *inbox) push(sender string, payload []byte) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return
	}
	if in.pending[sender] >= in.limit {
		in.evictOldest(sender)
	}
	in.queue = append(in.queue, Notification{
		Sender:   sender,
		Payload:  payload,
		Received: time.Now(),
	})
	in.pending[sender]++
}

// evictOldest removes the oldest queued notification from the given sender.
// Caller holds in.mu.
func (in *inbox) evictOldest(sender string) {
	for i, n := range in.queue {
		if n.Sender == sender {
			in.queue = append(in.queue[:i], in.queue[i+1:]...)
			in.pending[sender]--
			in.dropped++
			log.Printf("Notification inbox full for sender %s, dropped oldest", sender)
			return
		}
	}
}

// pop returns the oldest queued notification, or (nil, nil) when empty.
// Returns ErrChannelClosed after close.
func (in *inbox) pop() (*Notification, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.closed {
		return nil, ErrChannelClosed
	}
	if len(in.queue) == 0 {
		return nil, nil
	}
	n := in.queue[0]
	in.queue = in.queue[1:]
	in.pending[n.Sender]--
	return &n, nil
}

func (in *inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.closed = true
	in.queue = nil
	in.pending = nil
}
