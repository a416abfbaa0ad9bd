// Package errreport delivers typed sync and storage errors to subscribers.
package errreport

import (
	"log/slog"
	"sync"
	"time"
)

// Category classifies where an error happened.
type Category string

const (
	CloudSave Category = "cloud_save"
	CloudLoad Category = "cloud_load"
	LocalSave Category = "local_save"
	LocalLoad Category = "local_load"
	Migration Category = "migration"
)

// DefaultThrottle is the minimum interval between two reports of the same category and key.
const DefaultThrottle = 5 * time.Second

// Event is one reported failure.
type Event struct {
	Category Category
	Key      string
	Err      error
	At       time.Time
}

func (e Event) Error() string {
	if e.Key == "" {
		return string(e.Category) + ": " + e.Err.Error()
	}
	return string(e.Category) + "(" + e.Key + "): " + e.Err.Error()
}

func (e Event) Unwrap() error {
	return e.Err
}

type throttleKey struct {
	category Category
	key      string
}

// Reporter fans events out to subscribers. Repeated events for the same
// (category, key) within the throttle interval are logged but not delivered.
type Reporter struct {
	throttle time.Duration
	now      func() time.Time

	mu          sync.Mutex
	nextID      int
	subscribers map[int]func(Event)
	lastSent    map[throttleKey]time.Time
}

func NewReporter(throttle time.Duration, now func() time.Time) *Reporter {
	if now == nil {
		now = time.Now
	}
	return &Reporter{
		throttle:    throttle,
		now:         now,
		subscribers: make(map[int]func(Event)),
		lastSent:    make(map[throttleKey]time.Time),
	}
}

// Subscribe registers fn and returns a function that unregisters it.
func (r *Reporter) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subscribers[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subscribers, id)
	}
}

// Report records err. It returns whether subscribers were notified.
func (r *Reporter) Report(category Category, key string, err error) bool {
	if err == nil {
		return false
	}
	now := r.now()
	event := Event{Category: category, Key: key, Err: err, At: now}

	r.mu.Lock()
	tk := throttleKey{category: category, key: key}
	if last, ok := r.lastSent[tk]; ok && now.Sub(last) < r.throttle {
		r.mu.Unlock()
		slog.Default().Debug("throttled error report",
			"category", category,
			"key", key,
			"error", err)
		return false
	}
	r.lastSent[tk] = now
	subscribers := make([]func(Event), 0, len(r.subscribers))
	for _, fn := range r.subscribers {
		subscribers = append(subscribers, fn)
	}
	r.mu.Unlock()

	slog.Default().Warn("sync error",
		"category", category,
		"key", key,
		"error", err)
	for _, fn := range subscribers {
		fn(event)
	}
	return true
}
