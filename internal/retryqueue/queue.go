// Package retryqueue holds remote writes that failed so they can be replayed later.
package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/kvstore"
)

const (
	// StorageKey is the local store key the queue is persisted under.
	StorageKey = "retry_queue"
	// MaxAttempts is the retry count at which an item is dropped.
	MaxAttempts = 5

	baseBackoff = time.Second
	maxBackoff  = 30 * time.Second
	// maxShift is the first exponent whose backoff exceeds maxBackoff.
	maxShift = 5
)

// ErrProcessing is returned by Process when another pass is already running.
var ErrProcessing = errors.New("retry pass already in progress")

// Item is one pending remote write. There is at most one item per Key.
type Item struct {
	Key        string          `json:"key"`
	Value      json.RawMessage `json:"value"`
	Timestamp  time.Time       `json:"timestamp"`
	RetryCount int             `json:"retryCount"`
	LastError  string          `json:"lastError,omitempty"`
}

// CalculateBackoff returns min(1s * 2^retryCount, 30s).
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount >= maxShift {
		return maxBackoff
	}
	return min(baseBackoff<<retryCount, maxBackoff)
}

// ShouldRetry reports whether the item has attempts left.
func ShouldRetry(item Item) bool {
	return item.RetryCount < MaxAttempts
}

// Operation delivers one queued value to the remote store.
type Operation func(ctx context.Context, key string, value json.RawMessage) error

// Result summarizes one Process pass.
type Result struct {
	Success int
	Failed  int
	// Dropped lists items removed because they ran out of attempts.
	Dropped []Item
}

type Option func(*Queue)

// WithClock overrides the time source used for item timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithWait overrides how the queue sleeps between attempts.
func WithWait(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.wait = wait }
}

// WithMaxAttempts overrides MaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) { q.maxAttempts = n }
}

// Queue is a persisted, key-deduplicated list of failed writes.
// Safe for concurrent use.
type Queue struct {
	store       kvstore.Store
	now         func() time.Time
	wait        func(ctx context.Context, d time.Duration) error
	maxAttempts int

	mu    sync.Mutex
	items []Item

	processing atomic.Bool
}

// New loads any previously persisted items from store.
func New(ctx context.Context, store kvstore.Store, opts ...Option) (*Queue, error) {
	q := &Queue{
		store:       store,
		now:         time.Now,
		wait:        sleep,
		maxAttempts: MaxAttempts,
	}
	for _, opt := range opts {
		opt(q)
	}

	items, _, err := kvstore.GetJSON[[]Item](ctx, store, StorageKey)
	if err != nil {
		return nil, fmt.Errorf("kvstore.GetJSON(%s) > %w", StorageKey, err)
	}
	q.items = items
	return q, nil
}

// Add records a failed write for key. An existing item for the same key has its
// value replaced and its retry count incremented.
func (q *Queue) Add(ctx context.Context, key string, value json.RawMessage, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item := Item{
		Key:       key,
		Value:     value,
		Timestamp: q.now(),
	}
	if cause != nil {
		item.LastError = cause.Error()
	}
	if i := q.indexLocked(key); i >= 0 {
		item.RetryCount = q.items[i].RetryCount + 1
		q.items[i] = item
	} else {
		q.items = append(q.items, item)
	}
	return q.persistLocked(ctx)
}

// Remove deletes the item for key, if any.
func (q *Queue) Remove(ctx context.Context, key string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(key)
	if i < 0 {
		return nil
	}
	q.items = slices.Delete(q.items, i, i+1)
	return q.persistLocked(ctx)
}

// Items returns a copy of the queue in insertion order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Process replays a snapshot of the queue through op. Items added while the pass
// runs are left for the next pass. Only one pass runs at a time; a concurrent
// call returns ErrProcessing immediately.
func (q *Queue) Process(ctx context.Context, op Operation) (Result, error) {
	if !q.processing.CompareAndSwap(false, true) {
		return Result{}, ErrProcessing
	}
	defer q.processing.Store(false)

	var result Result
	for _, item := range q.Items() {
		if item.RetryCount >= q.maxAttempts {
			slog.Default().Warn("dropping retry item after max attempts",
				"key", item.Key,
				"retryCount", item.RetryCount,
				"lastError", item.LastError)
			q.settle(ctx, item, nil)
			result.Failed++
			result.Dropped = append(result.Dropped, item)
			continue
		}

		if err := q.wait(ctx, CalculateBackoff(item.RetryCount)); err != nil {
			return result, fmt.Errorf("wait(%s) > %w", item.Key, err)
		}

		if err := op(ctx, item.Key, item.Value); err != nil {
			slog.Default().Debug("retry attempt failed",
				"key", item.Key,
				"retryCount", item.RetryCount,
				"error", err)
			q.settle(ctx, item, err)
			result.Failed++
			continue
		}
		q.settle(ctx, item, nil)
		result.Success++
	}
	return result, nil
}

// settle applies the outcome of an attempt on item. A nil cause removes the item;
// otherwise its retry count is incremented. Nothing changes when the key was
// removed or re-added with a newer value during the attempt.
func (q *Queue) settle(ctx context.Context, item Item, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(item.Key)
	if i < 0 || !sameAttempt(q.items[i], item) {
		return
	}
	if cause == nil {
		q.items = slices.Delete(q.items, i, i+1)
	} else {
		q.items[i].RetryCount++
		q.items[i].LastError = cause.Error()
	}
	if err := q.persistLocked(ctx); err != nil {
		slog.Default().Warn("failed to persist retry queue", "key", item.Key, "error", err)
	}
}

func sameAttempt(a, b Item) bool {
	return a.RetryCount == b.RetryCount && a.Timestamp.Equal(b.Timestamp)
}

func (q *Queue) indexLocked(key string) int {
	return slices.IndexFunc(q.items, func(item Item) bool { return item.Key == key })
}

func (q *Queue) persistLocked(ctx context.Context) error {
	items := q.items
	if items == nil {
		items = []Item{}
	}
	if err := kvstore.SetJSON(ctx, q.store, StorageKey, items); err != nil {
		return fmt.Errorf("kvstore.SetJSON(%s) > %w", StorageKey, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
