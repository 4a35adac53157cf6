package note

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/docextract/internal/extract"
	"github.com/zombor/docextract/internal/ocr"
)

// ErrBusy is returned when a capture is requested while another one is running
var ErrBusy = errors.New("a capture is already running")

// RecognitionError reports that the OCR engine failed, timed out or was cancelled.
// No note is created when it is returned.
type RecognitionError struct {
	Err error
}

func (e *RecognitionError) Error() string {
	return fmt.Sprintf("recognizing document: %v", e.Err)
}

func (e *RecognitionError) Unwrap() error {
	return e.Err
}

// IDGenerator generates unique IDs for notes
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// State is the lifecycle position of a Session
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is a snapshot of a Session
type Status struct {
	State     State   `json:"state"`
	Progress  float64 `json:"progress"` // 0..100
	LastError string  `json:"last_error,omitempty"`
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithTimeout bounds every capture; zero disables the limit
func WithTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records capture outcomes
func WithMetrics(m *Metrics) SessionOption {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithExtractor replaces the default field rules
func WithExtractor(e *extract.Extractor) SessionOption {
	return func(s *Session) {
		if e != nil {
			s.extractor = e
		}
	}
}

// Session runs one capture at a time: recognize, extract, insert
type Session struct {
	store       *Store
	recognizer  ocr.Recognizer
	extractor   *extract.Extractor
	idGenerator IDGenerator
	timeSource  TimeSource
	timeout     time.Duration
	metrics     *Metrics
	logger      *slog.Logger

	mu     sync.Mutex
	status Status
	run    uint64

	// emitMu keeps observer notifications in state order
	emitMu    sync.Mutex
	obsMu     sync.Mutex
	nextObsID int
	observers map[int]func(Status)
}

// NewSession creates a new Session with default ID generator and time source
func NewSession(store *Store, recognizer ocr.Recognizer, opts ...SessionOption) *Session {
	return NewSessionWithDeps(store, recognizer, &defaultIDGenerator{}, &defaultTimeSource{}, opts...)
}

// NewSessionWithDeps creates a new Session with custom dependencies for testing
func NewSessionWithDeps(store *Store, recognizer ocr.Recognizer, idGen IDGenerator, timeSrc TimeSource, opts ...SessionOption) *Session {
	s := &Session{
		store:       store,
		recognizer:  recognizer,
		extractor:   extract.New(),
		idGenerator: idGen,
		timeSource:  timeSrc,
		logger:      slog.Default(),
		status:      Status{State: StateIdle},
		observers:   make(map[int]func(Status)),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Status returns the current session snapshot
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Observe registers fn for status changes and returns a function removing it.
// Observers must not call Capture.
func (s *Session) Observe(fn func(Status)) func() {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = fn

	return func() {
		s.obsMu.Lock()
		defer s.obsMu.Unlock()
		delete(s.observers, id)
	}
}

// Capture recognizes a document, extracts its fields and inserts the new note.
// It returns ErrBusy while another capture runs and a *RecognitionError when
// the OCR engine fails or ctx ends first.
func (s *Session) Capture(ctx context.Context, data []byte, contentType string) (Note, error) {
	start := s.timeSource.Now()

	s.mu.Lock()
	if s.status.State == StateRunning {
		s.mu.Unlock()
		s.metrics.observeCapture(outcomeBusy, 0)
		return Note{}, ErrBusy
	}
	s.run++
	run := s.run
	s.status.State = StateRunning
	s.status.Progress = 0
	s.transition(s.status)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	text, err := s.recognizer.Recognize(ctx, data, contentType, func(fraction float64) {
		s.progress(run, fraction)
	})
	if err == nil && ctx.Err() != nil {
		// the engine finished but the caller already gave up
		err = ctx.Err()
	}
	elapsed := s.timeSource.Now().Sub(start).Seconds()

	if err != nil {
		recErr := &RecognitionError{Err: err}
		outcome := outcomeFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = outcomeCancelled
		}

		s.logger.Error("Failed to recognize document",
			"content_type", contentType,
			"file_size", len(data),
			"outcome", outcome,
			"error", err,
		)
		s.finish(StateFailed, recErr.Error())
		s.metrics.observeCapture(outcome, elapsed)
		return Note{}, recErr
	}

	n := fromFields(s.idGenerator.Generate(), s.extractor.Extract(text))

	if err := s.store.Insert(n); err != nil {
		s.logger.Error("Failed to save note", "id", n.ID, "error", err)
		s.finish(StateFailed, err.Error())
		s.metrics.observeCapture(outcomeFailed, elapsed)
		return Note{}, fmt.Errorf("saving note: %w", err)
	}

	s.logger.Info("Captured delivery note",
		"id", n.ID,
		"content_type", contentType,
		"file_size", len(data),
		"text_chars", len(text),
		"duration_ms", int64(elapsed*1000),
	)
	s.finish(StateSucceeded, "")
	s.metrics.observeCapture(outcomeSuccess, elapsed)
	return n, nil
}

// progress forwards engine progress for the given run as a monotonic percentage
func (s *Session) progress(run uint64, fraction float64) {
	pct, ok := toPercent(fraction)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.run != run || s.status.State != StateRunning || pct <= s.status.Progress {
		s.mu.Unlock()
		return
	}
	s.status.Progress = pct
	s.transition(s.status)
}

// finish reports the outcome, then returns the session to idle
func (s *Session) finish(outcome State, lastErr string) {
	s.mu.Lock()
	s.status = Status{State: outcome, Progress: 0, LastError: lastErr}
	outcomeStatus := s.status
	s.status.State = StateIdle
	idleStatus := s.status

	s.emitMu.Lock()
	s.mu.Unlock()
	s.notify(outcomeStatus)
	s.notify(idleStatus)
	s.emitMu.Unlock()
}

// transition publishes st; the caller holds s.mu, which is released here
func (s *Session) transition(st Status) {
	s.emitMu.Lock()
	s.mu.Unlock()
	s.notify(st)
	s.emitMu.Unlock()
}

func (s *Session) notify(st Status) {
	s.obsMu.Lock()
	fns := make([]func(Status), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}

// toPercent maps a progress fraction to 0..100
func toPercent(fraction float64) (float64, bool) {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return 0, false
	}
	return math.Max(0, math.Min(100, fraction*100)), true
}
