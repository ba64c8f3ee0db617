package coordinator

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

// fakeTimer is a task owned by fakeScheduler.
type fakeTimer struct {
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeScheduler is a manually advanced clock.
type fakeScheduler struct {
	now   time.Duration
	tasks []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{at: s.now + d, f: f}
	s.tasks = append(s.tasks, t)
	return t
}

// Advance moves the clock forward by d and runs due tasks in order.
func (s *fakeScheduler) Advance(d time.Duration) {
	s.now += d
	for _, t := range s.tasks {
		if !t.stopped && !t.fired && t.at <= s.now {
			t.fired = true
			t.f()
		}
	}
}

// Pending returns the number of scheduled tasks that have neither fired nor
// been stopped.
func (s *fakeScheduler) Pending() int {
	n := 0
	for _, t := range s.tasks {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// recordingBus records button presses.
type recordingBus struct {
	mu      sync.Mutex
	presses [][2]string
}

func (b *recordingBus) ButtonPressed(address, deviceID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.presses = append(b.presses, [2]string{address, deviceID})
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.presses)
}

type harness struct {
	dev     *tuyable.Device
	sched   *fakeScheduler
	bus     *recordingBus
	coord   *Coordinator
	notices *atomic.Int32
}

func newHarness(t *testing.T, product *catalog.ProductInfo) *harness {
	t.Helper()
	h := &harness{
		dev:     tuyable.NewDevice(tuyable.Info{Address: testAddr, DeviceID: "dev1"}),
		sched:   &fakeScheduler{},
		bus:     &recordingBus{},
		notices: &atomic.Int32{},
	}
	h.coord = New(h.dev, h.bus, Options{
		DisconnectDelay: 60 * time.Second,
		Scheduler:       h.sched,
		Product:         product,
	})
	h.coord.AddListener(func() { h.notices.Add(1) })
	t.Cleanup(h.coord.Close)
	return h
}

func fingerbotPlus(manual int) *catalog.ProductInfo {
	return &catalog.ProductInfo{
		Name: "Fingerbot Plus",
		Fingerbot: &catalog.FingerbotInfo{
			Switch:        5,
			ManualControl: manual,
		},
	}
}

func TestInitialStateDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	if h.coord.Connected() {
		t.Error("Connected() = true for a new coordinator, want false")
	}
	if got := h.notices.Load(); got != 0 {
		t.Errorf("notifications = %d, want 0", got)
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)

	h.dev.DispatchConnected()
	h.dev.DispatchConnected()

	if !h.coord.Connected() {
		t.Error("Connected() = false after connect, want true")
	}
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestReconnectCancelsDebounce(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()

	h.dev.DispatchDisconnected()
	if h.sched.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.sched.Pending())
	}
	h.sched.Advance(30 * time.Second)
	h.dev.DispatchConnected()

	if h.sched.Pending() != 0 {
		t.Errorf("pending timers after reconnect = %d, want 0", h.sched.Pending())
	}
	h.sched.Advance(time.Hour)

	if !h.coord.Connected() {
		t.Error("Connected() = false after cancelled debounce, want true")
	}
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1 (connect only)", got)
	}
}

func TestDebounceFires(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()

	h.sched.Advance(59 * time.Second)
	if !h.coord.Connected() {
		t.Fatal("Connected() = false before delay elapsed, want true")
	}

	h.sched.Advance(time.Second)
	if h.coord.Connected() {
		t.Error("Connected() = true after delay elapsed, want false")
	}
	if got := h.notices.Load(); got != 2 {
		t.Errorf("notifications = %d, want 2 (connect + fire)", got)
	}
	if h.sched.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.sched.Pending())
	}
}

func TestDisconnectDoesNotStackTimers(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()

	h.dev.DispatchDisconnected()
	h.sched.Advance(30 * time.Second)
	h.dev.DispatchDisconnected()

	if h.sched.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", h.sched.Pending())
	}

	// The original deadline is kept.
	h.sched.Advance(30 * time.Second)
	if h.coord.Connected() {
		t.Error("Connected() = true at original deadline, want false")
	}
	h.sched.Advance(time.Hour)
	if got := h.notices.Load(); got != 2 {
		t.Errorf("notifications = %d, want 2 (connect + one fire)", got)
	}
}

func TestDisconnectAfterFireSchedulesAgain(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()
	h.sched.Advance(time.Minute)

	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()
	if h.sched.Pending() != 1 {
		t.Errorf("pending timers = %d, want 1", h.sched.Pending())
	}
}

func TestStaleFireIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()

	// Capture the scheduled callback, then cancel it by reconnecting. A
	// scheduler that still runs the callback must not flip the state.
	stale := h.sched.tasks[len(h.sched.tasks)-1].f
	h.dev.DispatchConnected()
	stale()

	if !h.coord.Connected() {
		t.Error("Connected() = false after stale fire, want true")
	}
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestButtonEdgeDetection(t *testing.T) {
	tests := []struct {
		name    string
		product *catalog.ProductInfo
		updates []tuyable.DataPoint
		want    int
	}{
		{
			name:    "device press",
			product: fingerbotPlus(17),
			updates: []tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}},
			want:    1,
		},
		{
			name:    "command echo",
			product: fingerbotPlus(17),
			updates: []tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: false}},
			want:    0,
		},
		{
			name:    "manual control disabled",
			product: fingerbotPlus(0),
			updates: []tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}},
			want:    0,
		},
		{
			name:    "other datapoint",
			product: fingerbotPlus(17),
			updates: []tuyable.DataPoint{{ID: 6, Value: 1, ChangedByDevice: true}},
			want:    0,
		},
		{
			name:    "multiple presses in one batch",
			product: fingerbotPlus(17),
			updates: []tuyable.DataPoint{
				{ID: 5, Value: true, ChangedByDevice: true},
				{ID: 8, Value: 0, ChangedByDevice: true},
				{ID: 5, Value: false, ChangedByDevice: true},
			},
			want: 2,
		},
		{
			name:    "no fingerbot",
			product: &catalog.ProductInfo{Name: "Smart Lock"},
			updates: []tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}},
			want:    0,
		},
		{
			name:    "no product",
			updates: []tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}},
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.product)
			h.dev.DispatchUpdate(tt.updates)

			if got := h.bus.count(); got != tt.want {
				t.Fatalf("button presses = %d, want %d", got, tt.want)
			}
			for _, p := range h.bus.presses {
				if p[0] != testAddr || p[1] != "dev1" {
					t.Errorf("press = %v, want [%s dev1]", p, testAddr)
				}
			}
		})
	}
}

func TestDataImpliesLiveness(t *testing.T) {
	h := newHarness(t, fingerbotPlus(17))

	h.dev.DispatchUpdate([]tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}})

	if !h.coord.Connected() {
		t.Error("Connected() = false after data update, want true")
	}
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
	if got := h.bus.count(); got != 1 {
		t.Errorf("button presses = %d, want 1", got)
	}

	// A further update while connected does not notify again.
	h.dev.DispatchUpdate([]tuyable.DataPoint{{ID: 1, Value: 3}})
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications after second update = %d, want 1", got)
	}
}

func TestDataUpdateCancelsDebounce(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()

	h.dev.DispatchUpdate(nil)
	h.sched.Advance(time.Hour)

	if !h.coord.Connected() {
		t.Error("Connected() = false, want true")
	}
	if h.sched.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.sched.Pending())
	}
}

func TestCloseReleasesTimer(t *testing.T) {
	h := newHarness(t, nil)
	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()

	h.coord.Close()
	if h.sched.Pending() != 0 {
		t.Errorf("pending timers after Close = %d, want 0", h.sched.Pending())
	}

	// Signals after Close are ignored.
	h.dev.DispatchDisconnected()
	h.dev.DispatchUpdate([]tuyable.DataPoint{{ID: 5, ChangedByDevice: true}})
	h.sched.Advance(time.Hour)
	if h.sched.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", h.sched.Pending())
	}
	if got := h.notices.Load(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}

	// Second Close is a no-op.
	h.coord.Close()
}

func TestRemoveListener(t *testing.T) {
	h := newHarness(t, nil)
	var calls atomic.Int32
	remove := h.coord.AddListener(func() { calls.Add(1) })
	remove()

	h.dev.DispatchConnected()
	if calls.Load() != 0 {
		t.Errorf("removed listener called %d times, want 0", calls.Load())
	}
}

func TestListenerCanReadState(t *testing.T) {
	h := newHarness(t, nil)
	var seen []bool
	h.coord.AddListener(func() { seen = append(seen, h.coord.Connected()) })

	h.dev.DispatchConnected()
	h.dev.DispatchDisconnected()
	h.sched.Advance(time.Minute)

	if len(seen) != 2 || !seen[0] || seen[1] {
		t.Errorf("observed states = %v, want [true false]", seen)
	}
}

func TestProductFromCatalog(t *testing.T) {
	dev := tuyable.NewDevice(tuyable.Info{
		Address:   testAddr,
		DeviceID:  "dev1",
		Category:  "szjqr",
		ProductID: "blliqpsj",
	})
	c := New(dev, nil, Options{Scheduler: &fakeScheduler{}})
	defer c.Close()

	if c.Product() == nil || c.Product().Name != "Fingerbot Plus" {
		t.Errorf("Product() = %+v, want Fingerbot Plus", c.Product())
	}

	// Nil bus drops presses without panicking.
	dev.DispatchUpdate([]tuyable.DataPoint{{ID: 2, Value: true, ChangedByDevice: true}})
}

func TestProductIsNotShared(t *testing.T) {
	product := fingerbotPlus(17)
	h := newHarness(t, product)

	// Mutating either the option or the returned copy leaves detection intact.
	product.Fingerbot.ManualControl = 0
	h.coord.Product().Fingerbot.Switch = 99

	h.dev.DispatchUpdate([]tuyable.DataPoint{{ID: 5, Value: true, ChangedByDevice: true}})
	if got := h.bus.count(); got != 1 {
		t.Errorf("button presses = %d, want 1", got)
	}
}

func TestWallClockDebounce(t *testing.T) {
	dev := tuyable.NewDevice(tuyable.Info{Address: testAddr, DeviceID: "dev1"})
	c := New(dev, nil, Options{DisconnectDelay: 20 * time.Millisecond})
	defer c.Close()

	fired := make(chan struct{}, 4)
	c.AddListener(func() {
		if !c.Connected() {
			fired <- struct{}{}
		}
	})

	dev.DispatchConnected()
	dev.DispatchDisconnected()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounce to fire")
	}
	if c.Connected() {
		t.Error("Connected() = true after debounce, want false")
	}
}

func TestConcurrentSignals(t *testing.T) {
	dev := tuyable.NewDevice(tuyable.Info{Address: testAddr, DeviceID: "dev1"})
	c := New(dev, nil, Options{DisconnectDelay: time.Millisecond})
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				dev.DispatchDisconnected()
				dev.DispatchUpdate(nil)
				dev.DispatchConnected()
			}
		}()
	}
	wg.Wait()

	if !c.Connected() {
		t.Error("Connected() = false after final connect, want true")
	}
}
