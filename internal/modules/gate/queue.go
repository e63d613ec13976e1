package gate

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const DefaultReviewCapacity = 50

// Review is an answer waiting for a moderator.
type Review struct {
	UserID    string
	ChannelID string
	Question  string
	Answer    string
	QueuedAt  time.Time
}

// ReviewQueue holds pending reviews in insertion order. When full, adding a
// new user evicts the oldest entry. Lookups never reorder entries.
type ReviewQueue struct {
	mu      sync.Mutex
	entries *simplelru.LRU[string, Review]
	size    int
}

func NewReviewQueue(capacity int) *ReviewQueue {
	if capacity <= 0 {
		capacity = DefaultReviewCapacity
	}
	// NewLRU only fails for a non-positive size.
	entries, _ := simplelru.NewLRU[string, Review](capacity, nil)
	return &ReviewQueue{entries: entries, size: capacity}
}

// Enqueue adds r unless the user is already pending. When the queue was full
// the evicted review is returned.
func (q *ReviewQueue) Enqueue(r Review) (added bool, evicted *Review) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.entries.Contains(r.UserID) {
		return false, nil
	}
	if q.entries.Len() >= q.size {
		if _, oldest, ok := q.entries.RemoveOldest(); ok {
			evicted = &oldest
		}
	}
	q.entries.Add(r.UserID, r)
	return true, evicted
}

func (q *ReviewQueue) Pending(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Contains(userID)
}

func (q *ReviewQueue) Get(userID string) (Review, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Peek(userID)
}

// Resolve removes and returns the user's pending review.
func (q *ReviewQueue) Resolve(userID string) (Review, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	review, ok := q.entries.Peek(userID)
	if ok {
		q.entries.Remove(userID)
	}
	return review, ok
}

// List returns pending reviews oldest first.
func (q *ReviewQueue) List() []Review {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Values()
}

func (q *ReviewQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len()
}

func (q *ReviewQueue) Capacity() int { return q.size }
