package staging

// store.go implements the ordered collection of staged files.
//
// Only Add, ReplaceAt, RemoveAt and Clear change the entry list. Each of them
// runs to completion under the store mutex, so they are atomic with respect
// to one another. Each one that removes an entry releases its preview handle
// before returning.

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Entry is one staged file. Values handed out by the store are copies.
type Entry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
	Valid    bool   `json:"valid"`
	Reason   Reason `json:"errorReason,omitempty"`
	Error    string `json:"error,omitempty"`
	Preview  Handle `json:"preview"`
}

// Snapshot is an immutable view of a store at one point in time.
type Snapshot struct {
	Version    uint64  `json:"version"`
	Entries    []Entry `json:"entries"`
	ValidCount int     `json:"validCount"`
	MaxFiles   int     `json:"maxFiles"`
}

// Store holds the ordered list of staged entries.
type Store struct {
	previewer Previewer
	rules     Rules
	maxFiles  int
	logger    *slog.Logger

	mu      sync.Mutex
	entries []Entry
	version uint64

	subs *broadcaster[Snapshot]
}

// Option configures a Store.
type Option func(*Store)

// WithRules sets the validation rules. Defaults to DefaultRules.
func WithRules(r Rules) Option {
	return func(s *Store) { s.rules = r }
}

// WithMaxFiles sets the entry cap. Non-positive values are ignored.
func WithMaxFiles(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxFiles = n
		}
	}
}

// WithLogger sets the logger used for release failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store that acquires previews from p.
func NewStore(p Previewer, opts ...Option) *Store {
	s := &Store{
		previewer: p,
		rules:     DefaultRules(),
		maxFiles:  DefaultMaxFiles,
		logger:    slog.Default(),
		subs:      newBroadcaster[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add validates and stages a batch of files in order.
//
// If the batch would exceed the cap, Add returns a *LimitError and nothing is
// staged. Invalid files are staged with their Reason set. An empty batch is a
// no-op.
func (s *Store) Add(files []RawFile) error {
	if len(files) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries)+len(files) > s.maxFiles {
		return &LimitError{Max: s.maxFiles, Staged: len(s.entries), Adding: len(files)}
	}

	batch := make([]Entry, 0, len(files))
	for _, f := range files {
		e, err := s.newEntry(f)
		if err != nil {
			// Roll back so the batch stays all-or-nothing.
			for _, acquired := range batch {
				s.release(acquired)
			}
			return err
		}
		batch = append(batch, e)
	}

	s.entries = append(s.entries, batch...)
	s.changedLocked()
	return nil
}

// ReplaceAt swaps the entry at index for a newly validated file. Position and
// the order of the other entries are unchanged.
func (s *Store) ReplaceAt(index int, f RawFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndexLocked(index); err != nil {
		return err
	}

	// Acquire first: a failed acquisition must leave the old entry live.
	e, err := s.newEntry(f)
	if err != nil {
		return err
	}

	s.release(s.entries[index])
	s.entries[index] = e
	s.changedLocked()
	return nil
}

// RemoveAt removes the entry at index. Later entries shift down by one.
func (s *Store) RemoveAt(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndexLocked(index); err != nil {
		return err
	}

	s.release(s.entries[index])
	s.entries = append(s.entries[:index], s.entries[index+1:]...)
	s.changedLocked()
	return nil
}

// Clear releases every handle and empties the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// takeValid atomically empties the store if it holds at least one valid
// entry, returning the valid subset. It reports false and leaves the store
// alone otherwise.
func (s *Store) takeValid() ([]Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var valid []Entry
	for _, e := range s.entries {
		if e.Valid {
			valid = append(valid, e)
		}
	}
	if len(valid) == 0 {
		return nil, false
	}

	s.clearLocked()
	return valid, true
}

func (s *Store) clearLocked() {
	if len(s.entries) == 0 {
		return
	}
	for _, e := range s.entries {
		s.release(e)
	}
	s.entries = nil
	s.changedLocked()
}

// ValidCount returns the number of valid entries, counted on demand.
func (s *Store) ValidCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return countValid(s.entries)
}

// Len returns the number of staged entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MaxFiles returns the entry cap.
func (s *Store) MaxFiles() int {
	return s.maxFiles
}

// Rules returns the validation rules in effect.
func (s *Store) Rules() Rules {
	return s.rules
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel that receives a Snapshot after every change,
// starting with the current one. Call the returned func to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs.subscribe(s.snapshotLocked())
}

// Close clears the store and closes every subscription. Used at teardown.
func (s *Store) Close() {
	s.Clear()
	s.subs.close()
}

func (s *Store) snapshotLocked() Snapshot {
	entries := make([]Entry, len(s.entries))
	copy(entries, s.entries)
	return Snapshot{
		Version:    s.version,
		Entries:    entries,
		ValidCount: countValid(entries),
		MaxFiles:   s.maxFiles,
	}
}

func (s *Store) changedLocked() {
	s.version++
	s.subs.publish(s.snapshotLocked())
}

func (s *Store) checkIndexLocked(index int) error {
	if index < 0 || index >= len(s.entries) {
		return &IndexError{Index: index, Len: len(s.entries)}
	}
	return nil
}

// newEntry validates f and acquires its preview handle.
func (s *Store) newEntry(f RawFile) (Entry, error) {
	verdict := s.rules.Classify(f.MimeType, f.Size)

	h, err := s.previewer.Acquire(f)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s: %v", ErrPreviewUnavailable, f.Name, err)
	}

	return Entry{
		ID:       uuid.NewString(),
		Name:     f.Name,
		Size:     f.Size,
		MimeType: f.MimeType,
		Valid:    verdict.Valid,
		Reason:   verdict.Reason,
		Error:    verdict.Error,
		Preview:  h,
	}, nil
}

// release gives back an entry's handle. A failing Previewer is logged; the
// entry is gone either way and the handle is never released again.
func (s *Store) release(e Entry) {
	if err := s.previewer.Release(e.Preview); err != nil {
		s.logger.Warn("preview release failed",
			"entry_id", e.ID,
			"handle", e.Preview.ID,
			"error", err,
		)
	}
}

func countValid(entries []Entry) int {
	n := 0
	for _, e := range entries {
		if e.Valid {
			n++
		}
	}
	return n
}
