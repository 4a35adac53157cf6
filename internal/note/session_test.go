package note

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"github.com/zombor/docextract/internal/extract"
	"github.com/zombor/docextract/internal/ocr"
)

// mockRecognizer is a mock implementation of ocr.Recognizer
type mockRecognizer struct {
	text     string
	err      error
	progress []float64

	// block, when set, holds Recognize until closed or ctx ends
	block   chan struct{}
	started chan struct{}

	mu           sync.Mutex
	calls        int
	contentTypes []string
}

func newMockRecognizer(text string) *mockRecognizer {
	return &mockRecognizer{text: text}
}

func (m *mockRecognizer) Recognize(ctx context.Context, data []byte, contentType string, progress ocr.ProgressFunc) (string, error) {
	m.mu.Lock()
	m.calls++
	m.contentTypes = append(m.contentTypes, contentType)
	m.mu.Unlock()

	for _, p := range m.progress {
		progress(p)
	}

	if m.started != nil {
		close(m.started)
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if m.err != nil {
		return "", m.err
	}
	return m.text, nil
}

func (m *mockRecognizer) Close() error {
	return nil
}

func (m *mockRecognizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockIDGenerator is a mock implementation of IDGenerator
type mockIDGenerator struct {
	mu    sync.Mutex
	count int
}

func (m *mockIDGenerator) Generate() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return fmt.Sprintf("note-%d", m.count)
}

// mockTimeSource is a mock implementation of TimeSource
type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

// statusRecorder collects observed statuses
type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, st)
}

func (r *statusRecorder) all() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status{}, r.statuses...)
}

const deliveryNoteText = "Supplier: ACME Corp\nDelivery Note: DN-12345\nDate: 12/03/2024\nSKU: ABC-001\nQty: 50"

var _ = Describe("Session", func() {
	var (
		store      *Store
		slot       *mockSlot
		recognizer *mockRecognizer
		idGen      *mockIDGenerator
		timeSrc    *mockTimeSource
		registry   *prometheus.Registry
		metrics    *Metrics
		session    *Session
		recorder   *statusRecorder
		opts       []SessionOption
		leakOpt    goleak.Option
	)

	BeforeEach(func() {
		leakOpt = goleak.IgnoreCurrent()

		slot = newMockSlot()
		store = NewStore(slot, nil)
		recognizer = newMockRecognizer(deliveryNoteText)
		idGen = &mockIDGenerator{}
		timeSrc = &mockTimeSource{now: time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)}
		recorder = &statusRecorder{}

		registry = prometheus.NewRegistry()
		var err error
		metrics, err = NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())
		opts = []SessionOption{WithMetrics(metrics)}
	})

	JustBeforeEach(func() {
		session = NewSessionWithDeps(store, recognizer, idGen, timeSrc, opts...)
		session.Observe(recorder.record)
	})

	AfterEach(func() {
		goleak.VerifyNone(GinkgoT(), leakOpt)
	})

	Describe("Capture", func() {
		When("recognition succeeds", func() {
			It("should insert the extracted note first in the collection", func() {
				Expect(store.Insert(Note{ID: "old"})).To(Succeed())

				n, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(Note{
					ID:          "note-1",
					Supplier:    "ACME Corp",
					Reference:   "DN-12345",
					Date:        "12/03/2024",
					ProductCode: "ABC-001",
					Quantity:    "50",
				}))

				notes := store.List()
				Expect(notes).To(HaveLen(2))
				Expect(notes[0]).To(Equal(n))
				Expect(recognizer.contentTypes).To(Equal([]string{"image/png"}))
			})

			It("should return to idle", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(session.Status()).To(Equal(Status{State: StateIdle}))
			})

			It("should count a successful capture", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(testutil.ToFloat64(metrics.capturesTotal.WithLabelValues(outcomeSuccess))).To(Equal(1.0))
				Expect(testutil.CollectAndCount(metrics.captureDuration)).To(Equal(1))
			})
		})

		When("the recognizer reports progress", func() {
			BeforeEach(func() {
				recognizer.progress = []float64{0, 0.1, 0.5, 0.3, 0.9, 1}
			})

			It("should publish monotonic percentages then the outcome", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())

				Expect(recorder.all()).To(Equal([]Status{
					{State: StateRunning, Progress: 0},
					{State: StateRunning, Progress: 10},
					{State: StateRunning, Progress: 50},
					{State: StateRunning, Progress: 90},
					{State: StateRunning, Progress: 100},
					{State: StateSucceeded},
					{State: StateIdle},
				}))
			})
		})

		When("the recognizer reports fractions out of range", func() {
			BeforeEach(func() {
				recognizer.progress = []float64{0.25, 2.5, -1}
			})

			It("should clamp them to 100", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())

				statuses := recorder.all()
				Expect(statuses[1]).To(Equal(Status{State: StateRunning, Progress: 25}))
				Expect(statuses[2]).To(Equal(Status{State: StateRunning, Progress: 100}))
				Expect(statuses[3].State).To(Equal(StateSucceeded))
			})
		})

		When("the recognizer reports small fractions", func() {
			BeforeEach(func() {
				recognizer.progress = []float64{0, 0.01, 0.02, 0.5}
			})

			It("should keep advancing instead of jumping to 100", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())

				statuses := recorder.all()
				Expect(statuses).To(HaveLen(6))
				Expect(statuses[1].Progress).To(BeNumerically("~", 1, 1e-9))
				Expect(statuses[2].Progress).To(BeNumerically("~", 2, 1e-9))
				Expect(statuses[3]).To(Equal(Status{State: StateRunning, Progress: 50}))
				Expect(statuses[4].State).To(Equal(StateSucceeded))
			})
		})

		When("recognition fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("engine crashed")
			})

			It("should return a RecognitionError and insert nothing", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")

				var recErr *RecognitionError
				Expect(errors.As(err, &recErr)).To(BeTrue())
				Expect(err).To(MatchError(ContainSubstring("engine crashed")))
				Expect(store.List()).To(BeEmpty())
			})

			It("should publish the failure then return to idle", func() {
				_, _ = session.Capture(context.Background(), []byte("image"), "image/png")

				statuses := recorder.all()
				Expect(statuses).To(HaveLen(3))
				Expect(statuses[1].State).To(Equal(StateFailed))
				Expect(statuses[1].LastError).To(ContainSubstring("engine crashed"))
				Expect(statuses[2].State).To(Equal(StateIdle))
				Expect(testutil.ToFloat64(metrics.capturesTotal.WithLabelValues(outcomeFailed))).To(Equal(1.0))
			})

			It("should accept the next capture", func() {
				_, _ = session.Capture(context.Background(), []byte("image"), "image/png")

				recognizer.err = nil
				n, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(n.Reference).To(Equal("DN-12345"))
			})
		})

		When("the recognizer returns no text", func() {
			BeforeEach(func() {
				recognizer.text = ""
			})

			It("should insert a note with empty fields", func() {
				n, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(n).To(Equal(Note{ID: "note-1"}))
				Expect(store.List()).To(HaveLen(1))
			})
		})

		When("the store cannot persist", func() {
			BeforeEach(func() {
				slot.setErr = errors.New("quota exceeded")
			})

			It("should return the error without a RecognitionError", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).To(MatchError(ContainSubstring("quota exceeded")))

				var recErr *RecognitionError
				Expect(errors.As(err, &recErr)).To(BeFalse())
				Expect(session.Status().State).To(Equal(StateIdle))
			})
		})

		When("a capture is already running", func() {
			BeforeEach(func() {
				recognizer.block = make(chan struct{})
				recognizer.started = make(chan struct{})
			})

			It("should reject the second capture with ErrBusy", func() {
				done := make(chan error, 1)
				go func() {
					defer GinkgoRecover()
					_, err := session.Capture(context.Background(), []byte("first"), "image/png")
					done <- err
				}()
				Eventually(recognizer.started).Should(BeClosed())
				Expect(session.Status().State).To(Equal(StateRunning))

				_, err := session.Capture(context.Background(), []byte("second"), "image/png")
				Expect(err).To(MatchError(ErrBusy))
				Expect(recognizer.callCount()).To(Equal(1))
				Expect(testutil.ToFloat64(metrics.capturesTotal.WithLabelValues(outcomeBusy))).To(Equal(1.0))

				close(recognizer.block)
				Eventually(done).Should(Receive(BeNil()))
				Expect(store.List()).To(HaveLen(1))
			})
		})

		When("the caller cancels", func() {
			BeforeEach(func() {
				recognizer.block = make(chan struct{})
				recognizer.started = make(chan struct{})
			})

			It("should return a RecognitionError wrapping context.Canceled", func() {
				ctx, cancel := context.WithCancel(context.Background())
				done := make(chan error, 1)
				go func() {
					defer GinkgoRecover()
					_, err := session.Capture(ctx, []byte("image"), "image/png")
					done <- err
				}()
				Eventually(recognizer.started).Should(BeClosed())
				cancel()

				var err error
				Eventually(done).Should(Receive(&err))
				var recErr *RecognitionError
				Expect(errors.As(err, &recErr)).To(BeTrue())
				Expect(errors.Is(err, context.Canceled)).To(BeTrue())
				Expect(store.List()).To(BeEmpty())
				Expect(session.Status().State).To(Equal(StateIdle))
				Expect(testutil.ToFloat64(metrics.capturesTotal.WithLabelValues(outcomeCancelled))).To(Equal(1.0))
			})
		})

		When("a timeout is configured", func() {
			BeforeEach(func() {
				recognizer.block = make(chan struct{})
				opts = append(opts, WithTimeout(20*time.Millisecond))
			})

			It("should give up once it expires", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
				Expect(store.List()).To(BeEmpty())
			})
		})

		When("progress arrives after the capture finished", func() {
			BeforeEach(func() {
				recognizer.progress = []float64{0.5}
			})

			It("should ignore it", func() {
				_, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())

				session.progress(1, 0.9)
				Expect(session.Status()).To(Equal(Status{State: StateIdle}))
				Expect(recorder.all()).To(HaveLen(4))
			})
		})

		When("a custom extractor is configured", func() {
			BeforeEach(func() {
				recognizer.text = "Shipper: Initech\nPO: 42"
				opts = append(opts, WithExtractor(extract.New(
					extract.Rule{Field: extract.Supplier, Pattern: regexp.MustCompile(`Shipper:\s*(.*)`), Group: 1},
					extract.Rule{Field: extract.Reference, Pattern: regexp.MustCompile(`PO:\s*(\d+)`), Group: 1},
				)))
			})

			It("should use its rules", func() {
				n, err := session.Capture(context.Background(), []byte("image"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(n.Supplier).To(Equal("Initech"))
				Expect(n.Reference).To(Equal("42"))
			})
		})
	})

	Describe("Observe", func() {
		It("should stop notifying once removed", func() {
			other := &statusRecorder{}
			remove := session.Observe(other.record)
			remove()

			_, err := session.Capture(context.Background(), []byte("image"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(other.all()).To(BeEmpty())
			Expect(recorder.all()).NotTo(BeEmpty())
		})
	})
})

var _ = Describe("Metrics", func() {
	It("should track the collection size", func() {
		registry := prometheus.NewRegistry()
		m, err := NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())

		store := NewStore(newMockSlot(), nil)
		Expect(store.Insert(Note{ID: "1"})).To(Succeed())

		stop := m.Track(store)
		defer stop()
		Expect(testutil.ToFloat64(m.notesStored)).To(Equal(1.0))

		Expect(store.Insert(Note{ID: "2"})).To(Succeed())
		Expect(store.Delete("1")).To(Succeed())
		Expect(testutil.ToFloat64(m.notesStored)).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.mutationsTotal.WithLabelValues(string(ChangeInserted)))).To(Equal(1.0))
		Expect(testutil.ToFloat64(m.mutationsTotal.WithLabelValues(string(ChangeDeleted)))).To(Equal(1.0))

		Expect(store.Clear()).To(Succeed())
		Expect(testutil.ToFloat64(m.notesStored)).To(Equal(0.0))
	})

	It("should end with the final collection size after concurrent inserts", func() {
		m, err := NewMetrics(prometheus.NewRegistry())
		Expect(err).NotTo(HaveOccurred())

		store := NewStore(newMockSlot(), nil)
		stop := m.Track(store)
		defer stop()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				Expect(store.Insert(Note{ID: fmt.Sprintf("n%d", i)})).To(Succeed())
			}(i)
		}
		wg.Wait()

		Expect(testutil.ToFloat64(m.notesStored)).To(Equal(20.0))
	})

	It("should refuse to register twice on the same registry", func() {
		registry := prometheus.NewRegistry()
		_, err := NewMetrics(registry)
		Expect(err).NotTo(HaveOccurred())
		_, err = NewMetrics(registry)
		Expect(err).To(HaveOccurred())
	})
})
