package server

import (
	"errors"
	"sync"
)

// ErrStreamCancelled is the cancellation cause set when a client asks
// for an in-flight stream to stop. The stream service distinguishes it
// from timeouts when deciding how to finish the stream.
var ErrStreamCancelled = errors.New("stream cancelled by request")

// TaskRegistry tracks in-flight streams by session ID so a separate
// request can cancel them. One active stream per session; the owning
// request registers and releases, any request may cancel.
type TaskRegistry struct {
	mu    sync.Mutex
	tasks map[string]func()
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]func())}
}

// Register stores the cancel function for a running stream. A second
// stream on the same session replaces the entry.
func (r *TaskRegistry) Register(sessionID string, cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[sessionID] = cancel
}

// Release removes the entry when the stream finishes.
func (r *TaskRegistry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, sessionID)
}

// Cancel stops the stream for a session if one is running. Idempotent:
// cancelling an idle session reports cancelled=false with a message.
func (r *TaskRegistry) Cancel(sessionID string) (bool, string) {
	r.mu.Lock()
	cancel, ok := r.tasks[sessionID]
	if ok {
		delete(r.tasks, sessionID)
	}
	r.mu.Unlock()

	if !ok {
		return false, "no active stream for session"
	}
	cancel()
	return true, "stream cancelled"
}

// Active reports whether a stream is running for the session.
func (r *TaskRegistry) Active(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[sessionID]
	return ok
}
