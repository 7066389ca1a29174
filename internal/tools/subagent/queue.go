package subagent

import (
	"sync"
	"time"
)

// AnnounceQueueItem is one buffered announcement awaiting delivery into
// its requester's session.
type AnnounceQueueItem struct {
	Prompt      string
	SummaryLine string
	EnqueuedAt  time.Time
	SessionKey  string
	Origin      *DeliveryContext
}

// QueueSettings tunes one session's queue. Mode describes how the
// adapter should fold drained items into the conversation ("steer",
// "followup", "collect", "interrupt"); the queue itself only stores it.
type QueueSettings struct {
	Mode       string
	MaxItems   int
	DropPolicy string // "oldest" or "newest"
}

const defaultQueueMaxItems = 100

// AnnounceQueue buffers announcements per requester session until the
// session is idle enough for the adapter to drain them.
type AnnounceQueue struct {
	mu       sync.Mutex
	queues   map[string][]*AnnounceQueueItem
	settings map[string]*QueueSettings
}

// NewAnnounceQueue constructs an empty queue.
func NewAnnounceQueue() *AnnounceQueue {
	return &AnnounceQueue{
		queues:   make(map[string][]*AnnounceQueueItem),
		settings: make(map[string]*QueueSettings),
	}
}

// Enqueue buffers item for sessionKey. A non-nil settings replaces the
// session's stored settings first. At the item cap, DropPolicy "oldest"
// evicts the front of the queue and "newest" discards the incoming item.
func (q *AnnounceQueue) Enqueue(sessionKey string, item *AnnounceQueueItem, settings *QueueSettings) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if settings != nil {
		q.settings[sessionKey] = settings
	}

	maxItems := defaultQueueMaxItems
	dropPolicy := "oldest"
	if s := q.settings[sessionKey]; s != nil {
		if s.MaxItems > 0 {
			maxItems = s.MaxItems
		}
		if s.DropPolicy != "" {
			dropPolicy = s.DropPolicy
		}
	}

	queue := q.queues[sessionKey]
	if len(queue) >= maxItems {
		if dropPolicy == "newest" {
			return
		}
		queue = queue[1:]
	}
	q.queues[sessionKey] = append(queue, item)
}

// Dequeue removes and returns the next item for sessionKey, or nil.
func (q *AnnounceQueue) Dequeue(sessionKey string) *AnnounceQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[sessionKey]
	if len(queue) == 0 {
		return nil
	}
	item := queue[0]
	q.queues[sessionKey] = queue[1:]
	return item
}

// DequeueAll removes and returns every buffered item for sessionKey.
func (q *AnnounceQueue) DequeueAll(sessionKey string) []*AnnounceQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[sessionKey]
	if len(queue) == 0 {
		return nil
	}
	items := make([]*AnnounceQueueItem, len(queue))
	copy(items, queue)
	q.queues[sessionKey] = nil
	return items
}

// Peek returns the next item without removing it, or nil.
func (q *AnnounceQueue) Peek(sessionKey string) *AnnounceQueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	queue := q.queues[sessionKey]
	if len(queue) == 0 {
		return nil
	}
	return queue[0]
}

// Size reports how many items sessionKey has buffered.
func (q *AnnounceQueue) Size(sessionKey string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[sessionKey])
}

// Clear drops sessionKey's items and settings.
func (q *AnnounceQueue) Clear(sessionKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, sessionKey)
	delete(q.settings, sessionKey)
}

// SetSettings replaces sessionKey's queue settings.
func (q *AnnounceQueue) SetSettings(sessionKey string, settings *QueueSettings) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settings[sessionKey] = settings
}

// Sessions lists the session keys that currently have buffered items.
func (q *AnnounceQueue) Sessions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []string
	for key, queue := range q.queues {
		if len(queue) > 0 {
			out = append(out, key)
		}
	}
	return out
}
