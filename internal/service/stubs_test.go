package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing/iotest"
	"time"

	"irrigation_controller/internal/backoff"
	"irrigation_controller/internal/models"
	"irrigation_controller/internal/stream"
)

// ---- Scratch ----

// memScratch is an in-memory repository.Scratch.
type memScratch struct {
	slots    map[uint8]byte
	readErr  error
	writeErr error
	writes   int
	clears   int
}

func newMemScratch() *memScratch { return &memScratch{slots: map[uint8]byte{}} }

func (m *memScratch) ReadSlot(ctx context.Context, slot uint8) (byte, error) {
	if m.readErr != nil {
		return 0, m.readErr
	}
	return m.slots[slot], nil
}

func (m *memScratch) WriteSlot(ctx context.Context, slot uint8, v byte) error {
	m.writes++
	if m.writeErr != nil {
		return m.writeErr
	}
	m.slots[slot] = v
	return nil
}

func (m *memScratch) Clear(ctx context.Context) error {
	m.clears++
	m.slots = map[uint8]byte{}
	return nil
}

// ---- Cycle log ----

type fakeCycleRepo struct {
	appended []models.CycleEvent
	latest   *models.CycleEvent
	err      error

	gotFrom time.Time
	gotTo   time.Time
	gotType string
	calls   int
}

func (f *fakeCycleRepo) Append(ctx context.Context, e models.CycleEvent) error {
	f.appended = append(f.appended, e)
	return f.err
}

func (f *fakeCycleRepo) List(ctx context.Context, from, to time.Time, typ string) ([]models.CycleEvent, error) {
	f.calls++
	f.gotFrom, f.gotTo, f.gotType = from, to, typ
	return f.appended, f.err
}

func (f *fakeCycleRepo) Latest(ctx context.Context) (*models.CycleEvent, error) {
	return f.latest, f.err
}

// ---- Fetcher ----

type fakeResponse struct {
	status int
	body   string
	err    error
	// readErr is returned by the body once body has been read.
	readErr error
}

// fakeFetcher serves responses per URL in order; the last one repeats.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string][]fakeResponse
	calls     map[string]int
	headers   map[string]string
	closed    int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: map[string][]fakeResponse{}, calls: map[string]int{}}
}

func (f *fakeFetcher) on(url string, rs ...fakeResponse) *fakeFetcher {
	f.responses[url] = append(f.responses[url], rs...)
	return f
}

func (f *fakeFetcher) Get(ctx context.Context, url string, headers map[string]string, chunkSize int) (int, *stream.ChunkReader, io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headers = headers
	rs := f.responses[url]
	if len(rs) == 0 {
		return 0, nil, nil, errors.New("no route to " + url)
	}
	i := f.calls[url]
	f.calls[url]++
	if i >= len(rs) {
		i = len(rs) - 1
	}
	r := rs[i]
	if r.err != nil {
		return 0, nil, nil, r.err
	}
	var src io.Reader = strings.NewReader(r.body)
	if r.readErr != nil {
		src = io.MultiReader(src, iotest.ErrReader(r.readErr))
	}
	return r.status, stream.NewChunkReader(src, chunkSize), closerFunc(func() error {
		f.closed++
		return nil
	}), nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// ---- Backoff ----

// recordingSleeper returns immediately and keeps the requested delays.
type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func newTestExecutor(feeder backoff.Feeder) (*backoff.Executor, *recordingSleeper) {
	s := &recordingSleeper{}
	return backoff.NewExecutor(nil, feeder, backoff.WithSleeper(s)), s
}

// ---- Device collaborators ----

type fakeWake struct {
	reason       models.WakeReason
	sleepEnabled bool
}

func (f fakeWake) Reason() models.WakeReason { return f.reason }
func (f fakeWake) SleepEnabled() bool        { return f.sleepEnabled }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeBattery struct {
	volts float64
	err   error
}

func (b fakeBattery) ReadVoltage() (float64, error) { return b.volts, b.err }

type fakeNetwork struct {
	up          bool
	connects    int
	disconnects int
}

func (n *fakeNetwork) Connect(ctx context.Context) bool {
	n.connects++
	return n.up
}

func (n *fakeNetwork) Disconnect() { n.disconnects++ }

type fakeRainfall struct {
	reading models.RainfallReading
	err     error
	panics  bool
	calls   int
}

func (f *fakeRainfall) Acquire(ctx context.Context, now time.Time) (models.RainfallReading, error) {
	f.calls++
	if f.panics {
		panic("scanner exploded")
	}
	return f.reading, f.err
}

type relayCall struct {
	line  models.Line
	pulse time.Duration
}

type fakeRelay struct {
	calls []relayCall
	err   error
}

func (r *fakeRelay) SetLine(line models.Line, pulse time.Duration) error {
	r.calls = append(r.calls, relayCall{line: line, pulse: pulse})
	return r.err
}

type fakeReporter struct {
	fields [][]string
	err    error
}

func (r *fakeReporter) Report(ctx context.Context, fields []string) error {
	r.fields = append(r.fields, fields)
	return r.err
}

type fakeAlarm struct {
	armed []models.WakeSchedule
	err   error
}

func (a *fakeAlarm) Arm(s models.WakeSchedule) error {
	a.armed = append(a.armed, s)
	return a.err
}

type fakeSleeper struct {
	until []time.Time
	// watchdog, when set, is sampled as each sleep starts.
	watchdog     *fakeWatchdog
	armedAtSleep []bool
}

func (s *fakeSleeper) Sleep(ctx context.Context, until time.Time) error {
	s.until = append(s.until, until)
	if s.watchdog != nil {
		s.armedAtSleep = append(s.armedAtSleep, s.watchdog.armed)
	}
	return nil
}

type fakeWatchdog struct {
	feeds     int
	suspended int
	disabled  int
	armed     bool
	off       bool
}

func (w *fakeWatchdog) Feed() {
	if w.off {
		return
	}
	w.feeds++
	w.armed = true
}

func (w *fakeWatchdog) Suspend() error { w.suspended++; w.armed = false; return nil }
func (w *fakeWatchdog) Disable() error { w.disabled++; w.armed = false; w.off = true; return nil }

type fakeMetrics struct {
	reports []models.CycleReport
}

func (m *fakeMetrics) Record(r models.CycleReport) error {
	m.reports = append(m.reports, r)
	return nil
}
