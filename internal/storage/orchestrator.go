// Package storage keeps the phrase collection and its sibling keys in the local
// store and, when a remote identity is configured, in sync with the remote
// document store.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/at-ishikawa/phrasebook/internal/errreport"
	"github.com/at-ishikawa/phrasebook/internal/kvstore"
	"github.com/at-ishikawa/phrasebook/internal/remote"
	"github.com/at-ishikawa/phrasebook/internal/retryqueue"
)

const (
	KeyPhrases      = "phrases"
	KeyCompletedIDs = "completed_ids"
	KeyIncorrectIDs = "incorrect_ids"
	KeyQuizStats    = "quiz_stats"
)

// SyncedKeys are the local keys mirrored as fields of the user's remote document.
var SyncedKeys = []string{KeyPhrases, KeyCompletedIDs, KeyIncorrectIDs, KeyQuizStats}

const DefaultDebounce = time.Second

type Option func(*Orchestrator)

// WithRemote enables syncing with store under the user's document. An empty
// userID keeps the orchestrator local-only.
func WithRemote(store remote.DocumentStore, userID, deviceID string) Option {
	return func(o *Orchestrator) {
		if store == nil || userID == "" {
			return
		}
		o.remote = store
		o.path = remote.UserPath(userID)
		o.deviceID = deviceID
	}
}

func WithRetryQueue(q *retryqueue.Queue) Option {
	return func(o *Orchestrator) { o.queue = q }
}

func WithReporter(r *errreport.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = r }
}

func WithDebounce(d time.Duration) Option {
	return func(o *Orchestrator) { o.debounce = d }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type keyState struct {
	value json.RawMessage
	// lastRemote is the last value known to be stored remotely.
	lastRemote json.RawMessage
	pushing    json.RawMessage
	inFlight   bool
	dirty      bool
	timer      *time.Timer
}

// Orchestrator owns the in-memory copy of every synced key.
type Orchestrator struct {
	local    kvstore.Store
	remote   remote.DocumentStore
	path     string
	deviceID string
	queue    *retryqueue.Queue
	reporter *errreport.Reporter
	debounce time.Duration
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// persistMu orders local writes so the store always ends with the latest value.
	persistMu sync.Mutex

	mu          sync.Mutex
	keys        map[string]*keyState
	listeners   map[int]func(key string, value json.RawMessage)
	nextID      int
	unsubscribe func()
	closed      bool
}

func New(local kvstore.Store, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		local:     local,
		debounce:  DefaultDebounce,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		keys:      make(map[string]*keyState),
		listeners: make(map[int]func(string, json.RawMessage)),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reporter == nil {
		o.reporter = errreport.NewReporter(errreport.DefaultThrottle, o.now)
	}
	return o
}

// Synced reports whether a remote store is configured.
func (o *Orchestrator) Synced() bool {
	return o.remote != nil
}

// Reporter returns the sink that receives every sync error.
func (o *Orchestrator) Reporter() *errreport.Reporter {
	return o.reporter
}

// OnChange registers fn to be called when a remote change alters a key.
func (o *Orchestrator) OnChange(fn func(key string, value json.RawMessage)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// Load reads every synced key from the local store, then merges the remote
// document into it. Remote failures are reported and leave the local values in place.
func (o *Orchestrator) Load(ctx context.Context) error {
	for _, key := range SyncedKeys {
		value, err := o.local.Get(ctx, key)
		if errors.Is(err, kvstore.ErrNotFound) {
			value = nil
		} else if err != nil {
			o.reporter.Report(errreport.LocalLoad, key, err)
			return fmt.Errorf("local.Get(%s) > %w", key, err)
		}
		o.mu.Lock()
		o.state(key).value = value
		o.mu.Unlock()
	}

	if o.remote == nil {
		return nil
	}
	doc, err := o.remote.Get(ctx, o.path)
	if errors.Is(err, remote.ErrNotFound) {
		slog.Default().Debug("no remote document yet", "path", o.path)
		for _, key := range SyncedKeys {
			if len(o.Value(key)) > 0 {
				o.schedulePush(key)
			}
		}
		return nil
	}
	if err != nil {
		o.reporter.Report(errreport.CloudLoad, o.path, err)
		return nil
	}
	o.applyRemote(doc)
	return nil
}

// Value returns the in-memory value of key. Nil means the key has no value.
func (o *Orchestrator) Value(key string) json.RawMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.keys[key]; ok {
		return append(json.RawMessage(nil), st.value...)
	}
	return nil
}

// Save stores value locally and schedules a debounced remote write.
func (o *Orchestrator) Save(ctx context.Context, key string, value json.RawMessage) error {
	return o.Update(ctx, key, func(json.RawMessage) (json.RawMessage, error) {
		return value, nil
	})
}

// Update replaces the value of key with fn applied to its current value, then
// stores it like Save. Remote changes are merged either before or after fn
// runs, never while it runs, so no merged change is lost. fn must not call
// back into the orchestrator.
func (o *Orchestrator) Update(ctx context.Context, key string, fn func(current json.RawMessage) (json.RawMessage, error)) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return errors.New("storage: orchestrator is closed")
	}
	st := o.state(key)
	next, err := fn(append(json.RawMessage(nil), st.value...))
	if err != nil {
		o.mu.Unlock()
		return err
	}
	st.value = append(json.RawMessage(nil), next...)
	o.mu.Unlock()

	if err := o.persist(ctx, key); err != nil {
		return err
	}
	o.schedulePush(key)
	return nil
}

// Subscribe starts merging remote changes into the local state until Close.
func (o *Orchestrator) Subscribe(ctx context.Context) error {
	if o.remote == nil {
		return nil
	}
	unsubscribe, err := o.remote.Subscribe(ctx, o.path, o.applyRemote)
	if err != nil {
		o.reporter.Report(errreport.CloudLoad, o.path, err)
		return fmt.Errorf("remote.Subscribe(%s) > %w", o.path, err)
	}
	o.mu.Lock()
	previous := o.unsubscribe
	o.unsubscribe = unsubscribe
	o.mu.Unlock()
	if previous != nil {
		previous()
	}
	return nil
}

// Flush pushes every pending change immediately and waits for in-flight writes.
func (o *Orchestrator) Flush(ctx context.Context) {
	if o.remote == nil {
		return
	}
	var pending []string
	o.mu.Lock()
	for key, st := range o.keys {
		if st.timer != nil && st.timer.Stop() {
			st.timer = nil
			pending = append(pending, key)
		}
	}
	o.mu.Unlock()

	for _, key := range pending {
		o.push(ctx, key)
		o.wg.Done()
	}
	o.wg.Wait()
}

// RetryPending re-sends queued failed writes. Each key is sent with its current
// value, falling back to the queued one if the key is not loaded. A key with a
// write already in flight is left to that write, which queues it again on failure.
func (o *Orchestrator) RetryPending(ctx context.Context) (retryqueue.Result, error) {
	if o.remote == nil || o.queue == nil {
		return retryqueue.Result{}, nil
	}
	result, err := o.queue.Process(ctx, func(ctx context.Context, key string, queued json.RawMessage) error {
		_, err := o.pushValue(ctx, key, queued)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("queue.Process() > %w", err)
	}
	for _, item := range result.Dropped {
		o.reporter.Report(errreport.CloudSave, item.Key,
			fmt.Errorf("giving up after %d attempts: %s", item.RetryCount, item.LastError))
	}
	slog.Default().Debug("retry pass finished",
		"success", result.Success,
		"failed", result.Failed,
		"dropped", len(result.Dropped))
	return result, nil
}

// Run retries pending writes now and after every signal on online, until ctx is done.
func (o *Orchestrator) Run(ctx context.Context, online <-chan struct{}) {
	o.retry(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-online:
			if !ok {
				online = nil
				continue
			}
			o.retry(ctx)
		}
	}
}

func (o *Orchestrator) retry(ctx context.Context) {
	if _, err := o.RetryPending(ctx); err != nil && !errors.Is(err, retryqueue.ErrProcessing) {
		slog.Default().Warn("retry pass failed", "error", err)
	}
}

// Close stops the subscription and pending timers, then waits for in-flight writes.
// Unsent changes remain in the local store and are pushed after the next Load.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	for _, st := range o.keys {
		if st.timer != nil && st.timer.Stop() {
			st.timer = nil
			o.wg.Done()
		}
	}
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) state(key string) *keyState {
	st, ok := o.keys[key]
	if !ok {
		st = &keyState{}
		o.keys[key] = st
	}
	return st
}

func (o *Orchestrator) persist(ctx context.Context, key string) error {
	o.persistMu.Lock()
	defer o.persistMu.Unlock()

	value := o.Value(key)
	var err error
	if value == nil {
		err = o.local.Delete(ctx, key)
	} else {
		err = o.local.Set(ctx, key, value)
	}
	if err != nil {
		o.reporter.Report(errreport.LocalSave, key, err)
		return fmt.Errorf("local.Set(%s) > %w", key, err)
	}
	return nil
}

func (o *Orchestrator) schedulePush(key string) {
	if o.remote == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	st := o.state(key)
	if st.timer != nil && st.timer.Stop() {
		st.timer.Reset(o.debounce)
		return
	}
	o.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(o.debounce, func() {
		defer o.wg.Done()
		o.mu.Lock()
		if st.timer == timer {
			st.timer = nil
		}
		o.mu.Unlock()
		o.push(o.ctx, key)
	})
	st.timer = timer
}

// push sends the current value of key and queues it for retry when the write fails.
func (o *Orchestrator) push(ctx context.Context, key string) {
	if value, err := o.pushValue(ctx, key, nil); err != nil {
		o.fail(ctx, key, value, err)
	}
}

// pushValue sends the current value of key, or fallback when the key holds no
// value. At most one write per key is in flight: a call made while another is
// running marks the key dirty and returns, and the running call sends again once
// it finishes. The failed value and error of this call's first write are
// returned; failures of the follow-up writes are queued for retry.
func (o *Orchestrator) pushValue(ctx context.Context, key string, fallback json.RawMessage) (json.RawMessage, error) {
	var (
		failed   json.RawMessage
		firstErr error
	)
	for attempt := 0; ; attempt++ {
		o.mu.Lock()
		st := o.state(key)
		if st.inFlight {
			st.dirty = true
			o.mu.Unlock()
			return failed, firstErr
		}
		st.dirty = false
		value := append(json.RawMessage(nil), st.value...)
		if value == nil {
			value = fallback
		}
		if jsonEqual(value, st.lastRemote) {
			o.mu.Unlock()
			slog.Default().Debug("remote already up to date", "key", key)
			return failed, firstErr
		}
		st.inFlight = true
		st.pushing = value
		o.mu.Unlock()

		err := o.writeRemote(ctx, key, value)

		o.mu.Lock()
		st.inFlight = false
		st.pushing = nil
		if err == nil {
			st.lastRemote = value
		}
		again := st.dirty
		o.mu.Unlock()

		switch {
		case err == nil:
			slog.Default().Debug("pushed key", "key", key, "bytes", len(value))
		case attempt == 0:
			failed, firstErr = value, err
		default:
			o.fail(ctx, key, value, err)
		}
		if !again {
			return failed, firstErr
		}
	}
}

func (o *Orchestrator) writeRemote(ctx context.Context, key string, value json.RawMessage) error {
	if value == nil {
		value = json.RawMessage("null")
	}
	meta := remote.Metadata{
		SchemaVersion: remote.SchemaVersion,
		UpdatedAt:     o.now().UTC(),
		DeviceID:      o.deviceID,
	}
	if err := o.remote.Write(ctx, o.path, map[string]json.RawMessage{key: value}, meta); err != nil {
		return fmt.Errorf("remote.Write(%s.%s) > %w", o.path, key, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, key string, value json.RawMessage, err error) {
	o.reporter.Report(errreport.CloudSave, key, err)
	if o.queue == nil {
		return
	}
	if qerr := o.queue.Add(ctx, key, value, err); qerr != nil {
		slog.Default().Error("failed to queue write for retry", "key", key, "error", qerr)
	}
}

// applyRemote merges a remote document into the local state. Fields equal to
// the last known remote value, including echoes of our own writes, are skipped.
func (o *Orchestrator) applyRemote(doc remote.Document) {
	if doc.Metadata.SchemaVersion > remote.SchemaVersion {
		slog.Default().Info("ignoring document from a newer schema",
			"path", doc.Path,
			"schemaVersion", doc.Metadata.SchemaVersion)
		return
	}

	for _, key := range SyncedKeys {
		remoteValue, ok := doc.Fields[key]
		if !ok {
			continue
		}
		mergeFn := mergers[key]

		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		st := o.state(key)
		if jsonEqual(remoteValue, st.lastRemote) || (st.inFlight && jsonEqual(remoteValue, st.pushing)) {
			o.mu.Unlock()
			slog.Default().Debug("skipping unchanged remote value", "key", key)
			continue
		}
		merged, rejected, err := mergeFn(st.value, remoteValue)
		if err != nil {
			o.mu.Unlock()
			o.reporter.Report(errreport.CloudLoad, key, err)
			continue
		}
		st.lastRemote = append(json.RawMessage(nil), remoteValue...)
		localChanged := !jsonEqual(merged, st.value)
		if localChanged {
			st.value = merged
		}
		remoteStale := !jsonEqual(merged, remoteValue)
		listeners := make([]func(string, json.RawMessage), 0, len(o.listeners))
		for _, fn := range o.listeners {
			listeners = append(listeners, fn)
		}
		o.mu.Unlock()

		for _, r := range rejected {
			o.reporter.Report(errreport.CloudLoad, key+"/"+r.id, fmt.Errorf("dropped invalid remote record > %w", r.err))
		}
		slog.Default().Debug("merged remote value",
			"key", key,
			"localChanged", localChanged,
			"remoteStale", remoteStale,
			"deviceId", doc.Metadata.DeviceID)

		if localChanged {
			if err := o.persist(o.ctx, key); err != nil {
				slog.Default().Warn("failed to persist merged value", "key", key, "error", err)
			}
			for _, fn := range listeners {
				fn(key, append(json.RawMessage(nil), merged...))
			}
		}
		if remoteStale {
			o.schedulePush(key)
		}
	}
}
