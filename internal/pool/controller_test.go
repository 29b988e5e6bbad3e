package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sequencerFeed/internal/model"
)

type fakeConn struct{}

func (fakeConn) Run(ctx context.Context) { <-ctx.Done() }

type fakeConnector struct {
	mu       sync.Mutex
	calls    []model.ConnectionID
	failures map[model.ConnectionID]int
}

func (f *fakeConnector) connect(_ context.Context, id model.ConnectionID, _ chan<- model.ConnectionID) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if f.failures[id] > 0 {
		f.failures[id]--
		return nil, errors.New("dial refused")
	}
	return fakeConn{}, nil
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func newTestController(t *testing.T, cfg Config, fc *fakeConnector) (*Controller, *fakeClock) {
	t.Helper()
	c, err := New(testContext(t), cfg, fc.connect, nil, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	clock := &fakeClock{t: c.lastConnected}
	c.now = clock.now
	return c, clock
}

func assertPool(t *testing.T, c *Controller, active, total int) {
	t.Helper()
	if c.totalActive != active || len(c.active) != total {
		t.Fatalf("expected active=%d total=%d, got active=%d total=%d", active, total, c.totalActive, len(c.active))
	}
	if err := c.checkInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestNewStartsInitialConnections(t *testing.T) {
	fc := &fakeConnector{}
	c, _ := newTestController(t, Config{MaxConnections: 3, InitConnections: 2}, fc)
	assertPool(t, c, 2, 2)
	if fc.calls[0] != 0 || fc.calls[1] != 1 {
		t.Fatalf("unexpected connection ids: %v", fc.calls)
	}
	if !c.lastConnected.Equal(c.lastDisconnected) {
		t.Fatalf("expected both clocks to start at construction time")
	}
}

func TestNewFailsOnInitialConnection(t *testing.T) {
	fc := &fakeConnector{failures: map[model.ConnectionID]int{1: 1}}
	_, err := New(context.Background(), Config{MaxConnections: 2, InitConnections: 2}, fc.connect, nil, nil)
	if err == nil {
		t.Fatalf("expected error from failed initial connection")
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected 2 connect attempts, got %d", fc.callCount())
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	fc := &fakeConnector{}
	cases := []Config{
		{MaxConnections: 0},
		{MaxConnections: 1, InitConnections: 2},
		{MaxConnections: 1, InitConnections: -1},
	}
	for _, cfg := range cases {
		if _, err := New(context.Background(), cfg, fc.connect, nil, nil); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
	if fc.callCount() != 0 {
		t.Fatalf("expected no connect attempts, got %d", fc.callCount())
	}
}

func TestTickHonorsCooldown(t *testing.T) {
	fc := &fakeConnector{}
	c, clock := newTestController(t, Config{MaxConnections: 2, InitConnections: 1, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)

	clock.advance(70 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 1)

	clock.advance(time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 2, 2)
}

func TestGrowStopsAtMaxConnections(t *testing.T) {
	fc := &fakeConnector{}
	c, clock := newTestController(t, Config{MaxConnections: 2, InitConnections: 1, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)

	for i := 0; i < 5; i++ {
		clock.advance(71 * time.Second)
		if err := c.tick(ctx); err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}
	assertPool(t, c, 2, 2)
	for _, id := range fc.calls {
		if id > 1 {
			t.Fatalf("unexpected connect for id %d", id)
		}
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected 2 connect calls, got %v", fc.calls)
	}
}

func TestDisconnectConsumesTick(t *testing.T) {
	fc := &fakeConnector{}
	c, clock := newTestController(t, Config{MaxConnections: 2, InitConnections: 2, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)

	clock.advance(100 * time.Second)
	c.disconnects <- 1
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 2)
	if c.active[1] {
		t.Fatalf("expected connection 1 inactive")
	}
	if !c.lastDisconnected.Equal(clock.t) {
		t.Fatalf("expected lastDisconnected reset to now")
	}
	if fc.callCount() != 2 {
		t.Fatalf("expected no reconnect in the disconnect tick, got %v", fc.calls)
	}

	// Cooldown restarts from the disconnect.
	clock.advance(70 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 2)

	clock.advance(time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 2, 2)
	if got := fc.calls[len(fc.calls)-1]; got != 1 {
		t.Fatalf("expected repair of id 1, got %d", got)
	}
}

func TestRepairPrecedesGrow(t *testing.T) {
	fc := &fakeConnector{}
	c, clock := newTestController(t, Config{MaxConnections: 3, InitConnections: 2, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)

	c.disconnects <- 0
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 2)

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 2, 2)
	if got := fc.calls[len(fc.calls)-1]; got != 0 {
		t.Fatalf("expected repair of id 0, got %d", got)
	}

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 3, 3)
	if got := fc.calls[len(fc.calls)-1]; got != 2 {
		t.Fatalf("expected grow to id 2, got %d", got)
	}
}

func TestMaxTwoInitOneScenario(t *testing.T) {
	fc := &fakeConnector{}
	c, clock := newTestController(t, Config{MaxConnections: 2, InitConnections: 1, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)
	assertPool(t, c, 1, 1)

	c.disconnects <- 0
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 0, 1)

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 1)

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 2, 2)

	for i := 0; i < 5; i++ {
		clock.advance(71 * time.Second)
		if err := c.tick(ctx); err != nil {
			t.Fatalf("tick: %v", err)
		}
	}
	assertPool(t, c, 2, 2)

	want := []model.ConnectionID{0, 0, 1}
	if len(fc.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, fc.calls)
	}
	for i, id := range want {
		if fc.calls[i] != id {
			t.Fatalf("expected calls %v, got %v", want, fc.calls)
		}
	}
}

func TestFailedRepairResetsCooldown(t *testing.T) {
	fc := &fakeConnector{failures: map[model.ConnectionID]int{0: 1}}
	c, clock := newTestController(t, Config{MaxConnections: 1, InitConnections: 0, Cooldown: 70 * time.Second}, fc)
	ctx := testContext(t)

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 0, 0)
	if !c.lastDisconnected.Equal(clock.t) {
		t.Fatalf("expected failed grow to reset lastDisconnected")
	}

	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 1, 1)

	c.disconnects <- 0
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	fc.failures[0] = 1
	clock.advance(71 * time.Second)
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	assertPool(t, c, 0, 1)
	if !c.lastDisconnected.Equal(clock.t) {
		t.Fatalf("expected failed repair to reset lastDisconnected")
	}
}

func TestDisconnectUnknownIDIsInconsistent(t *testing.T) {
	fc := &fakeConnector{}
	c, _ := newTestController(t, Config{MaxConnections: 4, InitConnections: 1}, fc)

	c.disconnects <- 3
	if err := c.tick(testContext(t)); !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}
}

func TestDuplicateDisconnectIsInconsistent(t *testing.T) {
	fc := &fakeConnector{}
	c, _ := newTestController(t, Config{MaxConnections: 2, InitConnections: 2}, fc)
	ctx := testContext(t)

	c.disconnects <- 0
	if err := c.tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	c.disconnects <- 0
	if err := c.tick(ctx); !errors.Is(err, ErrInconsistentState) {
		t.Fatalf("expected ErrInconsistentState, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	fc := &fakeConnector{}
	ctx, cancel := context.WithCancel(context.Background())
	c, err := New(ctx, Config{MaxConnections: 1, InitConnections: 1, TickInterval: time.Millisecond}, fc.connect, nil, nil)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}
