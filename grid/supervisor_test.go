package grid

import (
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"
)

// fakeWire records every message the supervisor sends, without sockets.
type fakeWire struct {
	mu         sync.Mutex
	broker     []*osc.Message
	device     []*osc.Message
	boundHost  string
	boundPort  int
	bindCount  int
	closeCount int
	port       int
}

func (w *fakeWire) SendBroker(msg *osc.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.broker = append(w.broker, msg)
	return nil
}

func (w *fakeWire) SendDevice(msg *osc.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.device = append(w.device, msg)
	return nil
}

func (w *fakeWire) BindDevice(host string, port int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.boundHost, w.boundPort = host, port
	w.bindCount++
}

func (w *fakeWire) CloseDevice() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeCount++
}

func (w *fakeWire) BoundPort() int { return w.port }

func (w *fakeWire) brokerCount(addr string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, m := range w.broker {
		if m.Address == addr {
			n++
		}
	}
	return n
}

func (w *fakeWire) deviceAddrs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.device))
	for i, m := range w.device {
		out[i] = m.Address
	}
	return out
}

func newTestSupervisor() (*Supervisor, *fakeWire, *Registry) {
	wire := &fakeWire{port: 8000}
	reg := NewRegistry()
	sup := NewSupervisor(wire, reg, NewLedFrameCache(), Options{
		BrokerHost: "127.0.0.1",
		Prefix:     "/mlr",
	}, zerolog.Nop())
	return sup, wire, reg
}

func announce(id, kind string, port int) *osc.Message {
	m := osc.NewMessage(AddressDevice)
	m.Append(id, kind, int32(port))
	return m
}

func keyMsg(x, y, state int) *osc.Message {
	m := osc.NewMessage("/mlr" + AddressGridKey)
	m.Append(int32(x), int32(y), int32(state))
	return m
}

func drainEvents(sup *Supervisor) []LinkEvent {
	var out []LinkEvent
	for {
		select {
		case ev := <-sup.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func hasEvent(events []LinkEvent, typ LinkEventType) bool {
	for _, ev := range events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func contains(addrs []string, addr string) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// connectDevice walks the supervisor through discovery, bind and handshake.
func connectDevice(t *testing.T, sup *Supervisor, base time.Time) {
	t.Helper()
	sup.tick(base)
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	sup.tick(base.Add(tickInterval))
	if sup.State() != AwaitingHandshake {
		t.Fatalf("expected handshake after bind, got %v", sup.State())
	}
	sup.handleSys(osc.NewMessage(AddressSysID))
	if sup.State() != Connected {
		t.Fatalf("expected connected after device reply, got %v", sup.State())
	}
}

func TestDiscoveryAndHandshakeFlow(t *testing.T) {
	sup, wire, reg := newTestSupervisor()
	base := time.Now()

	sup.tick(base)
	if sup.State() != Discovering {
		t.Fatalf("first tick should enter discovery, got %v", sup.State())
	}
	if wire.brokerCount(AddressList) != 1 || wire.brokerCount(AddressNotify) != 1 {
		t.Fatalf("discovery must send list and notify, got %v", wire.broker)
	}

	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	if d, ok := reg.Get("m0000123"); !ok || d.Port != 13245 {
		t.Fatalf("announce not registered: %+v, %v", d, ok)
	}

	sup.tick(base.Add(tickInterval))
	if sup.State() != AwaitingHandshake {
		t.Fatalf("expected handshake, got %v", sup.State())
	}
	if wire.boundHost != "127.0.0.1" || wire.boundPort != 13245 {
		t.Fatalf("sender bound to %s:%d", wire.boundHost, wire.boundPort)
	}
	addrs := wire.deviceAddrs()
	for _, want := range []string{AddressSysHost, AddressSysPort, AddressSysPrefix, AddressSysRotation, AddressSysInfo} {
		if !contains(addrs, want) {
			t.Fatalf("bind must send %s, got %v", want, addrs)
		}
	}

	// No amount of broker chatter completes the handshake; only device
	// traffic does.
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	if sup.State() != AwaitingHandshake {
		t.Fatalf("broker traffic must not complete the handshake")
	}

	sup.handleSys(osc.NewMessage(AddressSysID))
	if sup.State() != Connected {
		t.Fatalf("expected connected, got %v", sup.State())
	}
	if !contains(wire.deviceAddrs(), "/mlr"+AddressLedAll) {
		t.Fatalf("connect must blank the LED surface, got %v", wire.deviceAddrs())
	}
	if !hasEvent(drainEvents(sup), LinkUp) {
		t.Fatalf("expected a link-up event")
	}
}

func TestHandshakeTimeoutBacksOff(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()

	sup.tick(base)
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	bindTime := base.Add(tickInterval)
	sup.tick(bindTime)
	if wire.bindCount != 1 {
		t.Fatalf("expected 1 bind, got %d", wire.bindCount)
	}

	sup.tick(bindTime.Add(sup.opts.HandshakeTimeout + time.Millisecond))
	if sup.State() != Disconnected {
		t.Fatalf("handshake timeout should drop the link, got %v", sup.State())
	}
	if hasEvent(drainEvents(sup), LinkDown) {
		t.Fatalf("a link that never came up must not emit link-down")
	}

	// Re-entering discovery must not rebind before the reconnect interval.
	early := bindTime.Add(sup.opts.ReconnectInterval / 2)
	sup.tick(early)
	sup.tick(early.Add(tickInterval))
	if wire.bindCount != 1 {
		t.Fatalf("rebind before the reconnect interval, %d binds", wire.bindCount)
	}

	sup.tick(bindTime.Add(sup.opts.ReconnectInterval + time.Millisecond))
	if wire.bindCount != 2 {
		t.Fatalf("expected rebind after the reconnect interval, got %d binds", wire.bindCount)
	}
}

func TestReconnectBudgetExhaustion(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()

	sup.tick(base)
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))

	now := base.Add(tickInterval)
	for i := 0; i < sup.opts.MaxReconnectAttempts; i++ {
		sup.tick(now)
		now = now.Add(sup.opts.HandshakeTimeout + time.Millisecond)
		sup.tick(now) // timeout
		now = now.Add(sup.opts.ReconnectInterval + time.Millisecond)
		sup.tick(now) // re-enter discovery
	}
	binds := wire.bindCount

	// The budget is spent: further ticks alone stay in discovery.
	for i := 0; i < 5; i++ {
		now = now.Add(sup.opts.ReconnectInterval)
		sup.tick(now)
	}
	if wire.bindCount != binds {
		t.Fatalf("exhausted device rebound without discovery: %d -> %d binds", binds, wire.bindCount)
	}

	// A device that still answers the discovery list stays bindable:
	// a fresh announce restores the budget and the next tick rebinds.
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	sup.tick(now.Add(tickInterval))
	if wire.bindCount != binds+1 {
		t.Fatalf("discovery announce should restore the reconnect budget, still %d binds", wire.bindCount)
	}
}

func TestAttachNotificationRestoresBudget(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()

	sup.tick(base)
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))

	now := base.Add(tickInterval)
	for i := 0; i < sup.opts.MaxReconnectAttempts; i++ {
		sup.tick(now)
		now = now.Add(sup.opts.HandshakeTimeout + time.Millisecond)
		sup.tick(now)
		now = now.Add(sup.opts.ReconnectInterval + time.Millisecond)
		sup.tick(now)
	}
	binds := wire.bindCount

	add := osc.NewMessage(AddressDeviceAdd)
	add.Append("m0000123")
	sup.handleDeviceAdd(add)
	sup.tick(now.Add(tickInterval))
	if wire.bindCount != binds+1 {
		t.Fatalf("attach notification should restore the reconnect budget")
	}
}

func TestEndpointMigrationRebinds(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)
	drainEvents(sup)

	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13300))

	if wire.boundPort != 13300 {
		t.Fatalf("sender still at port %d after migration", wire.boundPort)
	}
	if sup.State() != AwaitingHandshake {
		t.Fatalf("migration must re-handshake, got %v", sup.State())
	}
	events := drainEvents(sup)
	if !hasEvent(events, DeviceChanged) || !hasEvent(events, LinkDown) {
		t.Fatalf("expected device-changed and link-down, got %v", events)
	}

	sup.handleSys(osc.NewMessage(AddressSysID))
	if sup.State() != Connected {
		t.Fatalf("expected reconnect at the new endpoint, got %v", sup.State())
	}
}

func TestRemoveOfBoundDeviceDropsLink(t *testing.T) {
	sup, wire, reg := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)
	drainEvents(sup)
	closes := wire.closeCount

	rm := osc.NewMessage(AddressDeviceRemove)
	rm.Append("m0000123")
	sup.handleDeviceRemove(rm)

	if sup.State() != Disconnected {
		t.Fatalf("removal of the bound device must drop the link, got %v", sup.State())
	}
	if wire.closeCount <= closes {
		t.Fatalf("device sender not closed")
	}
	if reg.Len() != 0 {
		t.Fatalf("device not removed from the registry")
	}
	events := drainEvents(sup)
	if !hasEvent(events, DeviceRemoved) || !hasEvent(events, LinkDown) {
		t.Fatalf("expected device-removed and link-down, got %v", events)
	}
}

func TestNotifySubscriptionRenewedOnEveryNotification(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()
	sup.tick(base)
	before := wire.brokerCount(AddressNotify)

	add := osc.NewMessage(AddressDeviceAdd)
	add.Append("m64")
	sup.handleDeviceAdd(add)
	if wire.brokerCount(AddressNotify) != before+1 {
		t.Fatalf("add notification must renew the subscription")
	}

	rm := osc.NewMessage(AddressDeviceRemove)
	rm.Append("m64")
	sup.handleDeviceRemove(rm)
	if wire.brokerCount(AddressNotify) != before+2 {
		t.Fatalf("remove notification must renew the subscription")
	}
}

func TestSizeReportRecorded(t *testing.T) {
	sup, _, reg := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)

	size := osc.NewMessage(AddressSysSize)
	size.Append(int32(16), int32(8))
	sup.handleSys(size)

	d, _ := reg.Get("m0000123")
	if d.SizeX != 16 || d.SizeY != 8 {
		t.Fatalf("size report not recorded: %+v", d)
	}
}

func TestKeyEventsRoutedOnlyWhenBound(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	base := time.Now()

	// Unbound: traffic is dropped.
	sup.handleDeviceTraffic(AddressGridKey, keyMsg(3, 2, 1))
	select {
	case ev := <-sup.Keys():
		t.Fatalf("unbound key event delivered: %+v", ev)
	default:
	}

	connectDevice(t, sup, base)

	sup.handleDeviceTraffic(AddressGridKey, keyMsg(3, 2, 1))
	select {
	case ev := <-sup.Keys():
		if ev.X != 3 || ev.Y != 2 || ev.State != 1 {
			t.Fatalf("unexpected key event %+v", ev)
		}
	default:
		t.Fatalf("key event not delivered while connected")
	}
}

func TestKeyEventCompletesHandshake(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	base := time.Now()

	sup.tick(base)
	sup.handleDeviceAnnounce(announce("m0000123", "monome 128", 13245))
	sup.tick(base.Add(tickInterval))

	// Any device-namespace traffic proves the route, keys included.
	sup.handleDeviceTraffic(AddressGridKey, keyMsg(0, 0, 1))
	if sup.State() != Connected {
		t.Fatalf("device traffic should complete the handshake, got %v", sup.State())
	}
}

func TestConnectionTimeout(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)
	drainEvents(sup)

	sup.tick(time.Now().Add(sup.opts.ConnectionTimeout + time.Second))
	if sup.State() != Disconnected {
		t.Fatalf("silence should time the connection out, got %v", sup.State())
	}
	if !hasEvent(drainEvents(sup), LinkDown) {
		t.Fatalf("expected link-down on timeout")
	}
}

func TestSelectDeviceSwitchesBinding(t *testing.T) {
	sup, wire, _ := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)

	sup.handleDeviceAnnounce(announce("m0000064", "monome 64", 14000))
	if !sup.SelectDevice("m0000064") {
		t.Fatalf("selecting a known device should succeed")
	}
	if wire.boundPort != 14000 {
		t.Fatalf("sender not rebound, at port %d", wire.boundPort)
	}
	if sup.State() != AwaitingHandshake {
		t.Fatalf("selection must re-handshake, got %v", sup.State())
	}
	if sup.SelectDevice("unknown") {
		t.Fatalf("selecting an unknown device should fail")
	}
}

func TestDisconnectStopsSession(t *testing.T) {
	sup, _, _ := newTestSupervisor()
	base := time.Now()
	connectDevice(t, sup, base)
	drainEvents(sup)

	sup.Disconnect()
	if sup.State() != Disconnected {
		t.Fatalf("expected disconnected, got %v", sup.State())
	}
	if !hasEvent(drainEvents(sup), LinkDown) {
		t.Fatalf("expected link-down on manual disconnect")
	}
}
