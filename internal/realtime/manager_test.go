package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sebastianstn/pdms-v6-sub002/internal/core/domain"
	"github.com/sebastianstn/pdms-v6-sub002/internal/infra/config"
)

type stubGate struct {
	authed atomic.Bool
	token  string
}

func (g *stubGate) Authenticated() bool { return g.authed.Load() }
func (g *stubGate) AccessToken() string { return g.token }

type stubSocket struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newStubSocket() *stubSocket {
	return &stubSocket{
		msgs:   make(chan []byte, 8),
		closed: make(chan struct{}),
	}
}

func (s *stubSocket) ReadMessage() ([]byte, error) {
	select {
	case msg := <-s.msgs:
		return msg, nil
	case <-s.closed:
		return nil, errors.New("connection closed")
	}
}

func (s *stubSocket) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *stubSocket) drop() { s.Close() }

// scriptedDialer returns its scripted results in order; once exhausted
// it keeps failing.
type scriptedDialer struct {
	mu      sync.Mutex
	sockets []*stubSocket
	calls   int
}

func newScriptedDialer(sockets ...*stubSocket) *scriptedDialer {
	return &scriptedDialer{sockets: sockets}
}

func (d *scriptedDialer) Dial(context.Context, string, http.Header) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.sockets) == 0 {
		return nil, errors.New("dial refused")
	}
	next := d.sockets[0]
	d.sockets = d.sockets[1:]
	if next == nil {
		return nil, errors.New("dial refused")
	}
	return next, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func testSettings() *config.RealtimeSettings {
	return &config.RealtimeSettings{
		BaseURL:          "wss://realtime.example.org/channels",
		HandshakeTimeout: time.Second,
		ReconnectFloor:   time.Second,
		ReconnectCeiling: 30 * time.Second,
		MaxMessageSize:   1 << 20,
	}
}

func newTestManager(t *testing.T, dialer Dialer) (*Manager, *stubGate, chan time.Duration) {
	t.Helper()

	gate := &stubGate{token: "token-1"}
	gate.authed.Store(true)

	sleeps := make(chan time.Duration, 64)
	mgr := NewManager(testSettings(), gate, nil, nil).
		WithDialer(dialer).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			select {
			case sleeps <- d:
			case <-ctx.Done():
				return ctx.Err()
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			return nil
		})
	t.Cleanup(mgr.Shutdown)

	return mgr, gate, sleeps
}

func collectSleeps(t *testing.T, sleeps chan time.Duration, n int) []time.Duration {
	t.Helper()

	out := make([]time.Duration, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case d := <-sleeps:
			out = append(out, d)
		case <-deadline:
			t.Fatalf("timed out waiting for backoff waits, got %v", out)
		}
	}
	return out
}

func TestBackoffDoublesToCeiling(t *testing.T) {
	mgr, _, sleeps := newTestManager(t, newScriptedDialer())

	unsubscribe, err := mgr.Subscribe("vitals", func(domain.Event) {})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	got := collectSleeps(t, sleeps, 7)
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("backoff step %d: expected %v, got %v (full: %v)", i, want[i], got[i], got)
		}
	}
}

func TestBackoffResetsAfterSuccessfulOpen(t *testing.T) {
	sock := newStubSocket()
	dialer := newScriptedDialer(nil, nil, sock)
	mgr, _, sleeps := newTestManager(t, dialer)

	unsubscribe, err := mgr.Subscribe("vitals", func(domain.Event) {})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	// Two failed dials, then the connection opens and drops.
	first := collectSleeps(t, sleeps, 2)
	if first[0] != time.Second || first[1] != 2*time.Second {
		t.Fatalf("expected 1s then 2s before the open, got %v", first)
	}

	sock.drop()

	after := collectSleeps(t, sleeps, 1)
	if after[0] != time.Second {
		t.Fatalf("backoff must reset to the floor after a successful open, got %v", after[0])
	}
}

func TestSubscribeRequiresSession(t *testing.T) {
	mgr, gate, _ := newTestManager(t, newScriptedDialer())
	gate.authed.Store(false)

	if _, err := mgr.Subscribe("vitals", func(domain.Event) {}); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestEventsDecodedAndTagged(t *testing.T) {
	sock := newStubSocket()
	mgr, _, _ := newTestManager(t, newScriptedDialer(sock))

	events := make(chan domain.Event, 8)
	unsubscribe, err := mgr.Subscribe("alarms", func(evt domain.Event) { events <- evt })
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	sock.msgs <- []byte(`{"kind":"alarm.raised","payload":{"bed":"12"}}`)

	select {
	case evt := <-events:
		if evt.Topic != "alarms" {
			t.Fatalf("expected topic alarms, got %q", evt.Topic)
		}
		if evt.Kind != "alarm.raised" {
			t.Fatalf("expected kind alarm.raised, got %q", evt.Kind)
		}
		if evt.ReceivedAt.IsZero() {
			t.Fatal("event must be stamped with a receive time")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event delivery")
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	sock := newStubSocket()
	mgr, _, _ := newTestManager(t, newScriptedDialer(sock))

	events := make(chan domain.Event, 8)
	unsubscribe, err := mgr.Subscribe("vitals", func(evt domain.Event) { events <- evt })
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer unsubscribe()

	sock.msgs <- []byte(`{not json`)
	sock.msgs <- []byte(`{"kind":"vitals.sample"}`)

	select {
	case evt := <-events:
		if evt.Kind != "vitals.sample" {
			t.Fatalf("malformed frame leaked through as %q", evt.Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the valid event")
	}

	select {
	case evt := <-events:
		t.Fatalf("unexpected extra event %q", evt.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	sock := newStubSocket()
	mgr, _, _ := newTestManager(t, newScriptedDialer(sock))

	unsubscribe, err := mgr.Subscribe("vitals", func(domain.Event) {})
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	unsubscribe()
	unsubscribe()

	select {
	case <-sock.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("unsubscribe did not close the socket")
	}
	if states := mgr.States(); len(states) != 0 {
		t.Fatalf("expected no live channels, got %v", states)
	}
}

func TestResubscribeReplacesChannel(t *testing.T) {
	first := newStubSocket()
	second := newStubSocket()
	dialer := newScriptedDialer(first, second)
	mgr, _, _ := newTestManager(t, dialer)

	if _, err := mgr.Subscribe("vitals", func(domain.Event) {}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	// Wait until the first connection is up before replacing it.
	deadline := time.After(5 * time.Second)
	for dialer.callCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("first channel never dialed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	unsubscribe, err := mgr.Subscribe("vitals", func(domain.Event) {})
	if err != nil {
		t.Fatalf("re-subscribe returned error: %v", err)
	}
	defer unsubscribe()

	select {
	case <-first.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("previous channel was not torn down on re-subscribe")
	}
}

func TestCloseAllLeavesManagerUsable(t *testing.T) {
	first := newStubSocket()
	second := newStubSocket()
	mgr, _, _ := newTestManager(t, newScriptedDialer(first, second))

	if _, err := mgr.Subscribe("vitals", func(domain.Event) {}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	// Sign-out tears the channels down; the next clinician on the same
	// workstation must be able to subscribe again.
	mgr.CloseAll()

	select {
	case <-first.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("CloseAll did not close the socket")
	}
	if states := mgr.States(); len(states) != 0 {
		t.Fatalf("expected no live channels after CloseAll, got %v", states)
	}

	unsubscribe, err := mgr.Subscribe("vitals", func(domain.Event) {})
	if err != nil {
		t.Fatalf("re-subscribe after CloseAll returned error: %v", err)
	}
	defer unsubscribe()
}

func TestShutdownClosesEverything(t *testing.T) {
	sock := newStubSocket()
	mgr, _, _ := newTestManager(t, newScriptedDialer(sock))

	if _, err := mgr.Subscribe("vitals", func(domain.Event) {}); err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}

	mgr.Shutdown()

	select {
	case <-sock.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not close the socket")
	}
	if _, err := mgr.Subscribe("alarms", func(domain.Event) {}); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}
