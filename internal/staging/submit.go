package staging

// submit.go implements submission of the valid staged files.
//
// A successful Submit empties the store and raises a Notice that expires by
// itself after the configured TTL. The expiry is a cancellable timer: a new
// Submit, Dismiss or Close stops the pending one, and a sequence number keeps
// a timer that already fired from clearing a newer notice.

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notice is the success message shown after a submission.
// The zero Notice means no notice is showing.
type Notice struct {
	Seq       uint64    `json:"seq"`
	Count     int       `json:"count"`
	Message   string    `json:"message"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Active reports whether n is a live notice.
func (n Notice) Active() bool {
	return n.Seq != 0
}

// Submission describes one completed submit.
type Submission struct {
	ID          string
	SessionID   string
	Count       int
	Files       []Entry
	SubmittedAt time.Time
}

// Recorder receives completed submissions. Record must not block.
type Recorder interface {
	Record(sub Submission)
}

// Stopper cancels a scheduled task. Stop reports whether the task was
// prevented from running.
type Stopper interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func()) Stopper

func afterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

// Controller submits the valid entries of a Store.
type Controller struct {
	store     *Store
	ttl       time.Duration
	schedule  Scheduler
	recorder  Recorder
	sessionID string
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	notice  Notice
	pending Stopper
	seq     uint64

	subs *broadcaster[Notice]
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithNoticeTTL sets how long a notice lives. Defaults to DefaultNoticeTTL.
func WithNoticeTTL(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithScheduler replaces time.AfterFunc, mainly for tests.
func WithScheduler(s Scheduler) ControllerOption {
	return func(c *Controller) {
		if s != nil {
			c.schedule = s
		}
	}
}

// WithRecorder sets where completed submissions are reported.
func WithRecorder(r Recorder) ControllerOption {
	return func(c *Controller) { c.recorder = r }
}

// WithSessionID tags submissions with the owning session.
func WithSessionID(id string) ControllerOption {
	return func(c *Controller) { c.sessionID = id }
}

// WithControllerLogger sets the controller's logger.
func WithControllerLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller for store.
func NewController(store *Store, opts ...ControllerOption) *Controller {
	c := &Controller{
		store:    store,
		ttl:      DefaultNoticeTTL,
		schedule: afterFunc,
		now:      time.Now,
		logger:   slog.Default(),
		subs:     newBroadcaster[Notice](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit takes the valid entries, clears the store and raises a notice.
//
// With no valid entries Submit does nothing and returns false. Callers are
// expected to disable the action in that case; it is not an error.
func (c *Controller) Submit() (Notice, bool) {
	c.mu.Lock()

	valid, ok := c.store.takeValid()
	if !ok {
		c.mu.Unlock()
		return Notice{}, false
	}

	c.stopPendingLocked()
	c.seq++
	seq := c.seq
	now := c.now()

	c.notice = Notice{
		Seq:       seq,
		Count:     len(valid),
		Message:   fmt.Sprintf("Successfully submitted %d file(s)!", len(valid)),
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.pending = c.schedule(c.ttl, func() { c.expire(seq) })
	notice := c.notice

	c.subs.publish(notice)
	c.mu.Unlock()

	sub := Submission{
		ID:          uuid.NewString(),
		SessionID:   c.sessionID,
		Count:       len(valid),
		Files:       valid,
		SubmittedAt: now,
	}
	c.logger.Info("files submitted",
		"submission_id", sub.ID,
		"session_id", sub.SessionID,
		"count", sub.Count,
	)
	if c.recorder != nil {
		c.recorder.Record(sub)
	}

	return notice, true
}

// Notice returns the current notice, if any.
func (c *Controller) Notice() (Notice, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notice, c.notice.Active()
}

// Dismiss clears the notice before it expires and cancels its timer.
func (c *Controller) Dismiss() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopPendingLocked()
	if c.notice.Active() {
		c.notice = Notice{}
		c.subs.publish(c.notice)
	}
}

// Close cancels any pending expiry and closes subscriptions. Used at teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	c.stopPendingLocked()
	c.notice = Notice{}
	c.mu.Unlock()

	c.subs.close()
}

// Subscribe returns a channel that receives the notice on every change,
// starting with the current one. A zero Notice means it was cleared.
func (c *Controller) Subscribe() (<-chan Notice, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs.subscribe(c.notice)
}

// expire clears the notice raised by submission seq, unless a newer one
// has replaced it.
func (c *Controller) expire(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq != seq || !c.notice.Active() {
		return
	}
	c.pending = nil
	c.notice = Notice{}
	c.subs.publish(c.notice)
}

func (c *Controller) stopPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
