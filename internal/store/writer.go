package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"timetracker/internal/model"
)

const defaultWriteTimeout = 5 * time.Second

var ErrWriterClosed = errors.New("writer closed")

type writeItem struct {
	userID string
	patch  model.Patch
	done   chan struct{}
}

// Writer applies patches in the background, in enqueue order. A failed patch
// is kept and folded into the next patch for the same user.
type Writer struct {
	store   SessionStore
	log     zerolog.Logger
	onError func(userID string, err error)
	timeout time.Duration

	mu      sync.Mutex
	queue   []writeItem
	failed  map[string]model.Patch
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewWriter starts the worker. onError runs on the worker goroutine and may be nil.
func NewWriter(store SessionStore, log zerolog.Logger, onError func(userID string, err error)) *Writer {
	w := &Writer{
		store:   store,
		log:     log,
		onError: onError,
		timeout: defaultWriteTimeout,
		failed:  make(map[string]model.Patch),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue never blocks.
func (w *Writer) Enqueue(userID string, patch model.Patch) {
	if patch.Empty() {
		return
	}
	w.push(writeItem{userID: userID, patch: patch})
}

// Flush waits for every patch enqueued before the call to be attempted.
func (w *Writer) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !w.push(writeItem{done: done}) {
		return ErrWriterClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Failed reports whether the user's last write attempt failed.
func (w *Writer) Failed(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.failed[userID]
	return ok
}

// Close drains the queue and stops the worker.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.stopped
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.signal()
	<-w.stopped
}

func (w *Writer) push(item writeItem) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn().Str("user_id", item.userID).Msg("write dropped after close")
		return false
	}
	w.queue = append(w.queue, item)
	w.mu.Unlock()
	w.signal()
	return true
}

func (w *Writer) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) run() {
	defer close(w.stopped)
	for {
		w.mu.Lock()
		if len(w.queue) == 0 {
			closed := w.closed
			w.mu.Unlock()
			if closed {
				return
			}
			<-w.wake
			continue
		}
		item := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if item.done != nil {
			close(item.done)
			continue
		}
		w.write(item)
	}
}

func (w *Writer) write(item writeItem) {
	w.mu.Lock()
	patch := item.patch
	if previous, ok := w.failed[item.userID]; ok {
		patch = previous.Then(patch)
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	err := w.store.Set(ctx, item.userID, patch)
	cancel()

	w.mu.Lock()
	if err != nil {
		w.failed[item.userID] = patch
	} else {
		delete(w.failed, item.userID)
	}
	w.mu.Unlock()

	if err != nil {
		w.log.Warn().Err(err).Str("user_id", item.userID).Msg("persist record")
		if w.onError != nil {
			w.onError(item.userID, err)
		}
	}
}
