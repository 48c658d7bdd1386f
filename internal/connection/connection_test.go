package connection

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mbeckett/bridgemux/internal/auth"
	"github.com/mbeckett/bridgemux/internal/transport"
)

// fakeTransport records every operation and lets tests fire events.
type fakeTransport struct {
	mu           sync.Mutex
	onCalls      map[transport.Event]int
	handlers     map[transport.Event][]transport.EventFunc
	connectCalls int
	connectErr   error
	closeCalls   int
	authReqs     []auth.Request
	connected    bool

	// connectFires controls whether Connect synchronously emits the
	// connection event, like the real websocket transport does.
	connectFires bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		onCalls:      make(map[transport.Event]int),
		handlers:     make(map[transport.Event][]transport.EventFunc),
		connectFires: true,
	}
}

func (f *fakeTransport) Connect(string) error {
	f.mu.Lock()
	// The real transports treat Connect on a live connection as a
	// silent no-op: no dial, no event.
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connectCalls++
	err := f.connectErr
	fires := f.connectFires
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if fires {
		f.fire(transport.EventConnection, nil)
	}
	return nil
}

func (f *fakeTransport) Authenticate(req auth.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authReqs = append(f.authReqs, req)
	return nil
}

func (f *fakeTransport) Advertise(string, transport.TopicOptions) error { return nil }
func (f *fakeTransport) Unadvertise(string) error                       { return nil }
func (f *fakeTransport) Publish(string, any) error                      { return nil }
func (f *fakeTransport) Subscribe(string, transport.TopicOptions) error { return nil }
func (f *fakeTransport) Unsubscribe(string) error                       { return nil }

func (f *fakeTransport) On(event transport.Event, fn transport.EventFunc) transport.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCalls[event]++
	f.handlers[event] = append(f.handlers[event], fn)
	return transport.Registration{}
}

func (f *fakeTransport) Off(transport.Registration) {}

func (f *fakeTransport) OnMessage(string, transport.MessageFunc) transport.Registration {
	return transport.Registration{}
}
func (f *fakeTransport) OffMessage(transport.Registration) {}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.connected = false
	return nil
}

func (f *fakeTransport) fire(event transport.Event, err error) {
	f.mu.Lock()
	switch event {
	case transport.EventConnection:
		f.connected = true
	case transport.EventClose, transport.EventError:
		f.connected = false
	}
	fns := append([]transport.EventFunc(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (f *fakeTransport) registrations(event transport.Event) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onCalls[event]
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// testLogger discards output but satisfies the Logger interface.
func testLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry builds a registry whose factory hands out fresh fakes
// and records them per URL in creation order.
func testRegistry(t *testing.T, clk clock.Clock) (*Registry, *[]*fakeTransport) {
	t.Helper()
	var (
		mu    sync.Mutex
		fakes []*fakeTransport
	)
	factory := func(string) transport.Transport {
		mu.Lock()
		defer mu.Unlock()
		f := newFakeTransport()
		fakes = append(fakes, f)
		return f
	}
	reg, err := NewRegistry(factory, clk, testLogger())
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg, &fakes
}

// =============================================================================
// Callback registration tests
// =============================================================================

func TestRegisterDeduplicates(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	var mu sync.Mutex
	invocations := 0
	cb := func(bool, error) {
		mu.Lock()
		invocations++
		mu.Unlock()
	}

	for i := 0; i < 10; i++ {
		_, inserted := conn.Register(transport.EventClose, "owner-1", cb)
		if inserted != (i == 0) {
			t.Errorf("Register() call %d inserted = %v", i+1, inserted)
		}
	}

	// The transport sees exactly one handler per event, wired at
	// construction, no matter how many times owners register.
	if got := ft.registrations(transport.EventClose); got != 1 {
		t.Errorf("transport close registrations = %d, want 1", got)
	}

	ft.fire(transport.EventClose, nil)

	mu.Lock()
	defer mu.Unlock()
	if invocations != 1 {
		t.Errorf("callback invoked %d times for one event, want 1", invocations)
	}
}

func TestDeregister(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	invoked := false
	h, _ := conn.Register(transport.EventClose, "owner-1", func(bool, error) { invoked = true })
	conn.Deregister(h)
	conn.Deregister(h) // double release is safe

	ft.fire(transport.EventClose, nil)
	if invoked {
		t.Error("callback invoked after Deregister")
	}
	if !conn.Dormant() {
		t.Error("Dormant() = false after removing the only callback")
	}
}

// =============================================================================
// Registry tests
// =============================================================================

func TestAcquireReturnsSameInstance(t *testing.T) {
	reg, _ := testRegistry(t, nil)

	a := reg.Acquire("ws://a:9090")
	b := reg.Acquire("ws://a:9090")
	c := reg.Acquire("ws://b:9090")

	if a != b {
		t.Error("Acquire() returned distinct instances for the same URL")
	}
	if a == c {
		t.Error("Acquire() returned the same instance for different URLs")
	}
	if reg.Len() != 2 {
		t.Errorf("Len() = %d, want 2", reg.Len())
	}
}

func TestNewRegistryNilFactory(t *testing.T) {
	_, err := NewRegistry(nil, nil, testLogger())
	if !errors.Is(err, ErrNilFactory) {
		t.Errorf("NewRegistry(nil) error = %v, want ErrNilFactory", err)
	}
}

func TestRegistryReset(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	conn.Register(transport.EventClose, "owner-1", func(bool, error) {})

	reg.Reset()

	if reg.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", reg.Len())
	}
	if (*fakes)[0].closeCalls != 1 {
		t.Errorf("transport Close calls = %d, want 1", (*fakes)[0].closeCalls)
	}
}

// =============================================================================
// Lifecycle tests
// =============================================================================

func TestConnectTransitionsState(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	var mu sync.Mutex
	var observed []bool
	conn.Register(transport.EventConnection, "owner-1", func(connected bool, _ error) {
		mu.Lock()
		observed = append(observed, connected)
		mu.Unlock()
	})

	conn.Connect(ConnectParams{})

	if got := conn.State(); got != Connected {
		t.Errorf("State() = %v, want Connected", got)
	}
	if ft.connects() != 1 {
		t.Errorf("transport Connect calls = %d, want 1", ft.connects())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(observed) != 1 || !observed[0] {
		t.Errorf("observer notifications = %v, want [true]", observed)
	}
}

func TestCloseEventNotifiesObserver(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	var got *bool
	conn.Register(transport.EventClose, "owner-1", func(connected bool, _ error) {
		got = &connected
	})

	conn.Connect(ConnectParams{})
	ft.fire(transport.EventClose, nil)

	if conn.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", conn.State())
	}
	if got == nil || *got {
		t.Error("close observer not notified with connected=false")
	}
}

func TestConnectWhenConnectedIsNoOp(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	provider := func(endpoint, user, secret string, now time.Time) auth.Request {
		return auth.Request{Client: user, Dest: endpoint}
	}
	params := ConnectParams{
		Authenticate: true,
		User:         "bridge",
		Secret:       "s3cret",
		Provider:     provider,
	}

	conn.Connect(params)
	if got := conn.State(); got != Connected {
		t.Fatalf("State() = %v, want Connected", got)
	}

	// A second owner acquiring the same endpoint re-invokes Connect.
	// The live connection must be left alone: no state transition, no
	// dial, no second credential submission.
	conn.Connect(params)

	if got := conn.State(); got != Connected {
		t.Errorf("State() after re-connect = %v, want Connected", got)
	}
	if ft.connects() != 1 {
		t.Errorf("transport Connect calls = %d, want 1", ft.connects())
	}
	ft.mu.Lock()
	auths := len(ft.authReqs)
	ft.mu.Unlock()
	if auths != 1 {
		t.Errorf("auth requests = %d, want 1", auths)
	}
}

func TestAuthenticateForwardsCredentials(t *testing.T) {
	reg, fakes := testRegistry(t, nil)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	provider := func(endpoint, user, secret string, now time.Time) auth.Request {
		return auth.Request{
			Mac:    "signed(" + secret + ")",
			Client: user,
			Dest:   endpoint,
			Time:   now,
			Level:  "user",
		}
	}

	conn.Connect(ConnectParams{
		Authenticate: true,
		User:         "bridge",
		Secret:       "s3cret",
		Provider:     provider,
	})

	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.authReqs) != 1 {
		t.Fatalf("auth requests = %d, want 1", len(ft.authReqs))
	}
	req := ft.authReqs[0]
	if req.Mac != "signed(s3cret)" {
		t.Errorf("Mac = %q, forwarded fields must be untouched", req.Mac)
	}
	if req.Client != "bridge" || req.Dest != "ws://a:9090" {
		t.Errorf("Client/Dest = %q/%q, want bridge/ws://a:9090", req.Client, req.Dest)
	}
}

// =============================================================================
// Reconnect tests
// =============================================================================

func TestReconnectAfterError(t *testing.T) {
	mock := clock.NewMock()
	reg, fakes := testRegistry(t, mock)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	conn.Register(transport.EventError, "owner-1", func(bool, error) {})
	conn.Connect(ConnectParams{
		AutoConnect:        true,
		AutoConnectTimeout: time.Second,
	})
	if ft.connects() != 1 {
		t.Fatalf("initial connects = %d, want 1", ft.connects())
	}

	ft.fire(transport.EventError, errors.New("broker gone"))

	if got := conn.State(); got != Reconnecting {
		t.Errorf("State() after error = %v, want Reconnecting", got)
	}

	// No attempt before the configured delay elapses.
	mock.Add(999 * time.Millisecond)
	if ft.connects() != 1 {
		t.Errorf("connects before delay = %d, want 1", ft.connects())
	}

	mock.Add(time.Millisecond)
	if ft.connects() != 2 {
		t.Errorf("connects after delay = %d, want 2 (exactly one retry)", ft.connects())
	}
	if got := conn.State(); got != Connected {
		t.Errorf("State() after retry = %v, want Connected", got)
	}
}

func TestDormantConnectionSkipsReconnect(t *testing.T) {
	mock := clock.NewMock()
	reg, fakes := testRegistry(t, mock)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	h, _ := conn.Register(transport.EventError, "owner-1", func(bool, error) {})
	conn.Connect(ConnectParams{
		AutoConnect:        true,
		AutoConnectTimeout: time.Second,
	})

	ft.fire(transport.EventError, errors.New("broker gone"))

	// All callbacks removed before the delay elapses: the retry must
	// silently not happen.
	conn.Deregister(h)
	mock.Add(2 * time.Second)

	if ft.connects() != 1 {
		t.Errorf("connects = %d, want 1 (dormant connection must not retry)", ft.connects())
	}
	if got := conn.State(); got != Disconnected {
		t.Errorf("State() = %v, want Disconnected", got)
	}
}

func TestErrorWithoutAutoConnectDoesNotRetry(t *testing.T) {
	mock := clock.NewMock()
	reg, fakes := testRegistry(t, mock)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	conn.Register(transport.EventError, "owner-1", func(bool, error) {})
	conn.Connect(ConnectParams{AutoConnect: false})

	ft.fire(transport.EventError, errors.New("broker gone"))
	mock.Add(time.Minute)

	if ft.connects() != 1 {
		t.Errorf("connects = %d, want 1", ft.connects())
	}
}

func TestConnectFailureSchedulesRetry(t *testing.T) {
	mock := clock.NewMock()
	reg, fakes := testRegistry(t, mock)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]
	ft.connectErr = errors.New("dial refused")

	var mu sync.Mutex
	var errs []error
	conn.Register(transport.EventError, "owner-1", func(_ bool, err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	})

	conn.Connect(ConnectParams{
		AutoConnect:        true,
		AutoConnectTimeout: time.Second,
	})

	mu.Lock()
	if len(errs) != 1 || errs[0] == nil {
		t.Errorf("error notifications = %v, want one non-nil error", errs)
	}
	mu.Unlock()

	// Second attempt succeeds.
	ft.mu.Lock()
	ft.connectErr = nil
	ft.mu.Unlock()
	mock.Add(time.Second)

	if ft.connects() != 2 {
		t.Errorf("connects = %d, want 2", ft.connects())
	}
	if conn.State() != Connected {
		t.Errorf("State() = %v, want Connected", conn.State())
	}
}

// =============================================================================
// Teardown tests
// =============================================================================

func TestTeardownClearsEverything(t *testing.T) {
	mock := clock.NewMock()
	reg, fakes := testRegistry(t, mock)
	conn := reg.Acquire("ws://a:9090")
	ft := (*fakes)[0]

	invoked := false
	conn.Register(transport.EventConnection, "owner-1", func(bool, error) { invoked = true })
	conn.Register(transport.EventClose, "owner-1", func(bool, error) { invoked = true })
	conn.Register(transport.EventError, "owner-2", func(bool, error) { invoked = true })

	conn.Connect(ConnectParams{
		AutoConnect:        true,
		AutoConnectTimeout: time.Second,
	})
	ft.fire(transport.EventError, errors.New("broker gone"))
	invoked = false

	conn.Teardown()

	if ft.closeCalls != 1 {
		t.Errorf("old transport Close calls = %d, want 1", ft.closeCalls)
	}
	if !conn.Dormant() {
		t.Error("callbacks survived Teardown, want full table clear")
	}
	if conn.State() != Disconnected {
		t.Errorf("State() = %v, want Disconnected", conn.State())
	}

	// The pending reconnect timer must be cancelled.
	mock.Add(time.Minute)
	if ft.connects() != 1 {
		t.Errorf("old transport connects after Teardown = %d, want 1", ft.connects())
	}

	// A stray late event from the replaced transport must not reach the
	// fresh state or any callback.
	ft.fire(transport.EventConnection, nil)
	if invoked {
		t.Error("stale transport event reached a cleared callback")
	}
	if conn.State() != Disconnected {
		t.Errorf("stale event changed State() to %v", conn.State())
	}

	// The connection stays usable: a fresh transport was wired in.
	if len(*fakes) != 2 {
		t.Fatalf("transports created = %d, want 2", len(*fakes))
	}
	conn.Connect(ConnectParams{})
	if (*fakes)[1].connects() != 1 {
		t.Errorf("fresh transport connects = %d, want 1", (*fakes)[1].connects())
	}
}
