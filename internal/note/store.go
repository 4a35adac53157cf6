package note

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// StorageKey is the slot key holding the whole collection
const StorageKey = "delivery_notes_data"

// payloadVersion is bumped whenever the persisted shape changes
const payloadVersion = 1

// ErrDuplicateID is returned when inserting a note whose ID is already stored
var ErrDuplicateID = errors.New("note id already exists")

// ErrUnsupportedPayload is returned by every mutation after Load found notes
// written with a newer payload version. The slot is left untouched.
var ErrUnsupportedPayload = errors.New("stored notes use a newer payload version")

// DecodeError reports unreadable slot contents at load time.
// It is logged and never returned to callers of Load.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding stored notes: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// payload is the persisted envelope
type payload struct {
	Version int    `json:"version"`
	Notes   []Note `json:"notes"`
}

// encodeNotes serializes the collection with the current payload version
func encodeNotes(notes []Note) ([]byte, error) {
	if notes == nil {
		notes = []Note{}
	}
	return json.Marshal(payload{Version: payloadVersion, Notes: notes})
}

// decodeNotes reads a versioned envelope, or a bare array written by
// earlier unversioned releases
func decodeNotes(data []byte) ([]Note, error) {
	var legacy []Note
	if err := json.Unmarshal(data, &legacy); err == nil {
		return legacy, nil
	}

	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if p.Version > payloadVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedPayload, p.Version)
	}
	if p.Version < 1 {
		return nil, &DecodeError{Err: fmt.Errorf("invalid payload version %d", p.Version)}
	}
	return p.Notes, nil
}

// ChangeKind describes a committed mutation
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is delivered to subscribers after every committed mutation
type Change struct {
	Kind  ChangeKind
	ID    string // empty for ChangeCleared
	Count int    // collection size after the change
}

// Store owns the ordered note collection (newest first) and mirrors it to a Slot
type Store struct {
	slot   Slot
	logger *slog.Logger

	mu    sync.Mutex
	notes []Note
	// readOnly is set when the slot holds a payload this build cannot rewrite safely
	readOnly error

	// emitMu keeps subscriber notifications in commit order
	emitMu sync.Mutex
	subMu  sync.Mutex
	nextID int
	subs   map[int]func(Change)
}

// NewStore creates an empty Store; call Load to restore persisted notes
func NewStore(slot Slot, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		slot:   slot,
		logger: logger,
		notes:  []Note{},
		subs:   make(map[int]func(Change)),
	}
}

// Load restores the collection from the slot.
// Missing or unreadable contents yield an empty collection. A payload from a
// newer version also loads empty, and the store then refuses mutations with
// ErrUnsupportedPayload so that payload is never overwritten.
func (s *Store) Load() []Note {
	notes, readOnly := s.read()

	s.mu.Lock()
	s.notes = notes
	s.readOnly = readOnly
	s.mu.Unlock()

	return cloneNotes(notes)
}

// read fetches and decodes the slot contents, logging failures.
// The returned error is non-nil only for a payload newer than this build.
func (s *Store) read() ([]Note, error) {
	data, ok, err := s.slot.Get(StorageKey)
	if err != nil {
		s.logger.Warn("Failed to read stored notes", "error", &DecodeError{Err: err})
		return []Note{}, nil
	}
	if !ok || len(data) == 0 {
		return []Note{}, nil
	}

	notes, err := decodeNotes(data)
	if errors.Is(err, ErrUnsupportedPayload) {
		s.logger.Error("Stored notes were written by a newer release; refusing changes", "error", err, "bytes", len(data))
		return []Note{}, err
	}
	if err != nil {
		s.logger.Warn("Failed to parse stored notes", "error", err, "bytes", len(data))
		return []Note{}, nil
	}
	if notes == nil {
		notes = []Note{}
	}

	s.logger.Debug("Loaded notes", "count", len(notes))
	return notes, nil
}

// List returns a snapshot of the collection, newest first
func (s *Store) List() []Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNotes(s.notes)
}

// Get returns the note with the given ID
func (s *Store) Get(id string) (Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(id); i >= 0 {
		return s.notes[i], true
	}
	return Note{}, false
}

// Insert prepends a note and persists the collection
func (s *Store) Insert(n Note) error {
	s.mu.Lock()
	if s.readOnly != nil {
		s.mu.Unlock()
		return s.readOnly
	}
	if s.indexOf(n.ID) >= 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}

	next := make([]Note, 0, len(s.notes)+1)
	next = append(next, n)
	next = append(next, s.notes...)

	if err := s.commit(next); err != nil {
		s.mu.Unlock()
		return err
	}

	s.publish(Change{Kind: ChangeInserted, ID: n.ID, Count: len(next)})
	return nil
}

// Update merges the non-nil fields of u into the note with the given ID.
// An unknown ID is a no-op.
func (s *Store) Update(id string, u NoteUpdate) error {
	s.mu.Lock()
	if s.readOnly != nil {
		s.mu.Unlock()
		return s.readOnly
	}
	i := s.indexOf(id)
	if i < 0 || u.IsEmpty() {
		s.mu.Unlock()
		return nil
	}

	next := cloneNotes(s.notes)
	next[i] = u.apply(next[i])

	if err := s.commit(next); err != nil {
		s.mu.Unlock()
		return err
	}

	s.publish(Change{Kind: ChangeUpdated, ID: id, Count: len(next)})
	return nil
}

// Delete removes the note with the given ID. An unknown ID is a no-op.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if s.readOnly != nil {
		s.mu.Unlock()
		return s.readOnly
	}
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil
	}

	next := make([]Note, 0, len(s.notes)-1)
	next = append(next, s.notes[:i]...)
	next = append(next, s.notes[i+1:]...)

	if err := s.commit(next); err != nil {
		s.mu.Unlock()
		return err
	}

	s.publish(Change{Kind: ChangeDeleted, ID: id, Count: len(next)})
	return nil
}

// Clear empties the collection. Asking the user for confirmation is the caller's job.
func (s *Store) Clear() error {
	s.mu.Lock()
	if s.readOnly != nil {
		s.mu.Unlock()
		return s.readOnly
	}
	if err := s.commit([]Note{}); err != nil {
		s.mu.Unlock()
		return err
	}

	s.publish(Change{Kind: ChangeCleared})
	return nil
}

// Subscribe registers fn for change notifications and returns a function removing it
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// commit persists next and swaps it in; the caller holds s.mu.
// Memory only changes once the slot write succeeded.
func (s *Store) commit(next []Note) error {
	data, err := encodeNotes(next)
	if err != nil {
		return fmt.Errorf("encoding notes: %w", err)
	}
	if err := s.slot.Set(StorageKey, data); err != nil {
		s.logger.Error("Failed to persist notes", "error", err, "count", len(next))
		return fmt.Errorf("persisting notes: %w", err)
	}
	s.notes = next
	return nil
}

// publish delivers c in commit order; the caller holds s.mu, which is released here.
// Subscribers must not mutate the store.
func (s *Store) publish(c Change) {
	s.emitMu.Lock()
	s.mu.Unlock()
	s.notify(c)
	s.emitMu.Unlock()
}

// notify calls subscribers outside the store lock
func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// indexOf returns the position of id or -1; the caller holds s.mu
func (s *Store) indexOf(id string) int {
	for i, n := range s.notes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func cloneNotes(notes []Note) []Note {
	out := make([]Note, len(notes))
	copy(out, notes)
	return out
}
