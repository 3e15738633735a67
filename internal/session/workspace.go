package session

import (
	"errors"
	"sync"
	"time"

	ttlworker "github.com/FloatTech/ttl"

	"github.com/JonMunkholm/filestage/internal/staging"
)

// NoReplace is the pendingReplace value when no replace is in progress.
const NoReplace = -1

// View is everything a page needs to render one workspace.
type View struct {
	SessionID      string           `json:"sessionId"`
	Snapshot       staging.Snapshot `json:"snapshot"`
	Notice         *staging.Notice  `json:"notice,omitempty"`
	Error          string           `json:"error,omitempty"`
	PendingReplace int              `json:"pendingReplace"`
}

// Workspace is one session's staging state: a store, its submission
// controller and the index of an in-progress replace.
type Workspace struct {
	ID         string
	Store      *staging.Store
	Controller *staging.Controller

	flashes *ttlworker.Cache[string, string]

	mu             sync.Mutex
	pendingReplace int
	lastSeen       time.Time
	closed         bool
	watchers       map[int]chan struct{}
	nextWatcher    int
}

func newWorkspace(id string, store *staging.Store, ctrl *staging.Controller, flashes *ttlworker.Cache[string, string], now time.Time) *Workspace {
	return &Workspace{
		ID:             id,
		Store:          store,
		Controller:     ctrl,
		flashes:        flashes,
		pendingReplace: NoReplace,
		lastSeen:       now,
		watchers:       make(map[int]chan struct{}),
	}
}

// Add stages a batch. Any notice and error are cleared first; a rejected
// batch leaves its message as the new error.
func (w *Workspace) Add(files []staging.RawFile) error {
	w.Controller.Dismiss()
	w.clearError()

	err := w.Store.Add(files)
	if errors.Is(err, staging.ErrLimitExceeded) {
		w.SetError(staging.MapError(err).Message)
	}
	return err
}

// BeginReplace records index as the entry the next CompleteReplace targets.
func (w *Workspace) BeginReplace(index int) error {
	if index < 0 || index >= w.Store.Len() {
		return &staging.IndexError{Index: index, Len: w.Store.Len()}
	}

	w.mu.Lock()
	w.pendingReplace = index
	w.mu.Unlock()

	w.signal()
	return nil
}

// CancelReplace abandons an in-progress replace.
func (w *Workspace) CancelReplace() {
	w.mu.Lock()
	changed := w.pendingReplace != NoReplace
	w.pendingReplace = NoReplace
	w.mu.Unlock()

	if changed {
		w.signal()
	}
}

// Remove drops the entry at index. A pending replace is abandoned because
// the positions after index shift.
func (w *Workspace) Remove(index int) error {
	if err := w.Store.RemoveAt(index); err != nil {
		return err
	}
	w.CancelReplace()
	return nil
}

// Submit submits the valid entries and empties the store. A pending replace
// is abandoned since its entry is gone. With nothing valid it changes nothing
// and reports false.
func (w *Workspace) Submit() (staging.Notice, bool) {
	n, ok := w.Controller.Submit()
	if ok {
		w.CancelReplace()
	}
	return n, ok
}

// PendingReplace returns the index awaiting a replacement file, or NoReplace.
func (w *Workspace) PendingReplace() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingReplace
}

// CompleteReplace swaps the pending entry for f. It reports false without
// doing anything when no replace is pending or f is nil. The pending index
// is cleared whether or not the replace succeeds.
func (w *Workspace) CompleteReplace(f *staging.RawFile) (bool, error) {
	w.mu.Lock()
	index := w.pendingReplace
	if index == NoReplace || f == nil {
		w.mu.Unlock()
		return false, nil
	}
	w.pendingReplace = NoReplace
	w.mu.Unlock()

	w.Controller.Dismiss()
	w.clearError()

	err := w.Store.ReplaceAt(index, *f)
	w.signal()
	return err == nil, err
}

// HasPreview reports whether id is the preview handle of a staged entry.
func (w *Workspace) HasPreview(id string) bool {
	for _, e := range w.Store.Snapshot().Entries {
		if e.Preview.ID == id {
			return true
		}
	}
	return false
}

// Error returns the dismissible error message, if any.
func (w *Workspace) Error() string {
	return w.flashes.Get(w.ID)
}

// SetError shows msg until it is dismissed or the next add or replace.
func (w *Workspace) SetError(msg string) {
	w.flashes.Set(w.ID, msg)
	w.signal()
}

// DismissError clears the error message.
func (w *Workspace) DismissError() {
	w.clearError()
}

func (w *Workspace) clearError() {
	if w.flashes.Get(w.ID) == "" {
		return
	}
	w.flashes.Delete(w.ID)
	w.signal()
}

// View returns the current state of the workspace.
func (w *Workspace) View() View {
	v := View{
		SessionID:      w.ID,
		Snapshot:       w.Store.Snapshot(),
		Error:          w.Error(),
		PendingReplace: w.PendingReplace(),
	}
	if n, ok := w.Controller.Notice(); ok {
		v.Notice = &n
	}
	return v
}

// Watch returns a channel that receives the View after every change, starting
// with the current one. Slow readers only see the latest View. The channel is
// closed when stop is called or the workspace is torn down.
func (w *Workspace) Watch() (<-chan View, func()) {
	out := make(chan View, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(out)
		return out, func() {}
	}
	id := w.nextWatcher
	w.nextWatcher++
	sig := make(chan struct{}, 1)
	w.watchers[id] = sig
	w.mu.Unlock()

	storeCh, stopStore := w.Store.Subscribe()
	noticeCh, stopNotice := w.Controller.Subscribe()
	done := make(chan struct{})

	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			stopStore()
			stopNotice()
			w.mu.Lock()
			delete(w.watchers, id)
			w.mu.Unlock()
		})
	}

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case _, ok := <-storeCh:
				if !ok {
					return
				}
			case _, ok := <-noticeCh:
				if !ok {
					return
				}
			case _, ok := <-sig:
				if !ok {
					return
				}
			}

			v := w.View()
			select {
			case <-out:
			default:
			}
			select {
			case out <- v:
			case <-done:
				return
			}
		}
	}()

	return out, stop
}

// Touch marks the workspace as used now.
func (w *Workspace) Touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

// idleSince reports when the workspace was last used and whether anyone is
// watching it.
func (w *Workspace) idleSince() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen, len(w.watchers) > 0
}

// Close tears the workspace down: the pending notice expiry is cancelled,
// every preview handle is released and watchers are closed.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.pendingReplace = NoReplace
	for id, sig := range w.watchers {
		close(sig)
		delete(w.watchers, id)
	}
	w.mu.Unlock()

	w.Controller.Close()
	w.Store.Close()
	w.flashes.Delete(w.ID)
}

// signal wakes every watcher without blocking.
func (w *Workspace) signal() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sig := range w.watchers {
		select {
		case sig <- struct{}{}:
		default:
		}
	}
}
