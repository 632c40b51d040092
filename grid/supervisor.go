package grid

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/rs/zerolog"
)

// tickInterval is the supervisor's cooperative timer resolution. All
// protocol deadlines are re-evaluated on this tick rather than armed as
// blocking waits, so state changes invalidate them implicitly.
const tickInterval = 25 * time.Millisecond

// Options configures the connection supervisor
type Options struct {
	BrokerHost string // discovery broker host; also the host devices live on
	LocalHost  string // host the device should send return traffic to
	Prefix     string // message prefix declared to the device
	Rotation   int    // cable orientation, 0/90/180/270

	DiscoveryInterval    time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	ConnectionTimeout    time.Duration
	PingInterval         time.Duration
	LedFlushInterval     time.Duration
}

func (o *Options) fillDefaults() {
	if o.LocalHost == "" {
		o.LocalHost = "127.0.0.1"
	}
	if o.Prefix == "" {
		o.Prefix = "/mlr"
	}
	if o.DiscoveryInterval <= 0 {
		o.DiscoveryInterval = time.Second
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = 2 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 750 * time.Millisecond
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = time.Second
	}
	if o.LedFlushInterval <= 0 {
		o.LedFlushInterval = 100 * time.Millisecond
	}
}

// Supervisor owns the connection state machine: discovery, device
// selection, handshake, heartbeats, endpoint migration, and the LED flush
// tick. Inbound handlers run on the transport goroutine and the tick loop
// on its own; a single mutex covers the shared state, held only for memory
// operations.
type Supervisor struct {
	opts Options
	wire Wire
	reg  *Registry
	leds *LedFrameCache
	log  zerolog.Logger

	mu                sync.Mutex
	state             ConnectionState
	boundID           string
	lastInbound       time.Time
	handshakeDeadline time.Time
	nextDiscovery     time.Time
	nextBindAttempt   time.Time
	nextPing          time.Time
	nextLedFlush      time.Time
	reconnectAttempts int

	keys   chan KeyEvent
	tilts  chan TiltEvent
	events chan LinkEvent
}

// NewSupervisor creates a supervisor over the given wire and registry
func NewSupervisor(wire Wire, reg *Registry, leds *LedFrameCache, opts Options, log zerolog.Logger) *Supervisor {
	opts.fillDefaults()
	return &Supervisor{
		opts:   opts,
		wire:   wire,
		reg:    reg,
		leds:   leds,
		log:    log.With().Str("component", "supervisor").Logger(),
		state:  Disconnected,
		keys:   make(chan KeyEvent, 64),
		tilts:  make(chan TiltEvent, 64),
		events: make(chan LinkEvent, 16),
	}
}

// Attach registers the supervisor's inbound routes on the router
func (s *Supervisor) Attach(r *Router) {
	r.Handle(AddressDevice, s.handleDeviceAnnounce)
	r.Handle(AddressDeviceAdd, s.handleDeviceAdd)
	r.Handle(AddressDeviceRemove, s.handleDeviceRemove)
	r.HandleDefault(s.handleSys)
	r.HandlePrefix(s.opts.Prefix, s.handleDeviceTraffic)
}

// Keys returns grid key events, delivered only while connected
func (s *Supervisor) Keys() <-chan KeyEvent { return s.keys }

// Tilts returns tilt sensor events
func (s *Supervisor) Tilts() <-chan TiltEvent { return s.tilts }

// Events returns link and device list change notifications
func (s *Supervisor) Events() <-chan LinkEvent { return s.events }

// Leds returns the LED frame cache flushed by this supervisor
func (s *Supervisor) Leds() *LedFrameCache { return s.leds }

// State returns the current connection state
func (s *Supervisor) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BoundDevice returns the device the supervisor is bound to, if any
func (s *Supervisor) BoundDevice() (DeviceInfo, bool) {
	s.mu.Lock()
	id := s.boundID
	s.mu.Unlock()
	if id == "" {
		return DeviceInfo{}, false
	}
	return s.reg.Get(id)
}

// Run drives the state machine until ctx is cancelled (blocking, run in a
// goroutine).
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.state == Connected {
				s.emitLocked(LinkEvent{Type: LinkDown, Device: s.boundDeviceLocked()})
			}
			s.state = Disconnected
			s.mu.Unlock()
			s.wire.CloseDevice()
			close(s.events)
			return
		case <-ticker.C:
			s.tick(time.Now())
		}
	}
}

func (s *Supervisor) tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Disconnected:
		s.state = Discovering
		s.discoverLocked(now)

	case Discovering:
		if !now.Before(s.nextDiscovery) {
			s.discoverLocked(now)
		}
		if now.Before(s.nextBindAttempt) {
			return
		}
		if d, ok := s.pickDeviceLocked(); ok {
			s.nextBindAttempt = now.Add(s.opts.ReconnectInterval)
			s.bindLocked(d, now)
		}

	case AwaitingHandshake:
		if now.After(s.handshakeDeadline) {
			s.log.Warn().Str("id", s.boundID).Int("attempt", s.reconnectAttempts).Msg("handshake timeout")
			s.reconnectAttempts++
			s.dropLinkLocked(false)
		}

	case Connected:
		if now.Sub(s.lastInbound) > s.opts.ConnectionTimeout {
			s.log.Warn().Str("id", s.boundID).Msg("connection timed out")
			s.dropLinkLocked(true)
			return
		}
		if !now.Before(s.nextPing) {
			s.nextPing = now.Add(s.opts.PingInterval)
			s.sendDeviceLocked(osc.NewMessage(AddressSysInfo))
		}
		if !now.Before(s.nextLedFlush) {
			s.nextLedFlush = now.Add(s.opts.LedFlushInterval)
			s.leds.Flush(s.opts.Prefix, s.wire.SendDevice)
		}
	}
}

// discoverLocked (re)issues the discovery list request and renews the
// one-shot add/remove subscription.
func (s *Supervisor) discoverLocked(now time.Time) {
	s.nextDiscovery = now.Add(s.opts.DiscoveryInterval)
	list := osc.NewMessage(AddressList)
	list.Append(s.opts.LocalHost, int32(s.wire.BoundPort()))
	if err := s.wire.SendBroker(list); err != nil {
		s.log.Debug().Err(err).Msg("discovery list send failed")
	}
	s.resubscribeLocked()
}

// resubscribeLocked renews the broker's one-shot notify subscription. Safe
// to call repeatedly; the broker replaces the target.
func (s *Supervisor) resubscribeLocked() {
	notify := osc.NewMessage(AddressNotify)
	notify.Append(s.opts.LocalHost, int32(s.wire.BoundPort()))
	if err := s.wire.SendBroker(notify); err != nil {
		s.log.Debug().Err(err).Msg("notify subscribe failed")
	}
}

// pickDeviceLocked auto-selects a device: the previously bound one while
// its reconnect budget lasts (directly, even before discovery confirms
// it), else the first discovered. An exhausted last-known device is only
// retried once a fresh attach notification resets the budget.
func (s *Supervisor) pickDeviceLocked() (DeviceInfo, bool) {
	last, hasLast := s.reg.LastKnown()
	if hasLast && s.reconnectAttempts < s.opts.MaxReconnectAttempts {
		if d, ok := s.reg.Get(last.ID); ok && d.Port != 0 {
			return d, true
		}
		if last.Port != 0 {
			s.reg.Upsert(last)
			return last, true
		}
	}
	if d, ok := s.reg.First(); ok && d.Port != 0 {
		if hasLast && d.ID == last.ID && s.reconnectAttempts >= s.opts.MaxReconnectAttempts {
			return DeviceInfo{}, false
		}
		return d, true
	}
	return DeviceInfo{}, false
}

// bindLocked points the sender at a device and starts the handshake. Any
// prior binding is force-closed first so handshake state never spans two
// endpoints.
func (s *Supervisor) bindLocked(d DeviceInfo, now time.Time) {
	s.wire.CloseDevice()
	s.wire.BindDevice(d.Host, d.Port)
	if last, ok := s.reg.LastKnown(); !ok || last.ID != d.ID {
		s.reconnectAttempts = 0
	}
	s.boundID = d.ID
	s.reg.Select(d.ID)
	s.reg.SetLastKnown(d)

	host := osc.NewMessage(AddressSysHost)
	host.Append(s.opts.LocalHost)
	s.sendDeviceLocked(host)

	port := osc.NewMessage(AddressSysPort)
	port.Append(int32(s.wire.BoundPort()))
	s.sendDeviceLocked(port)

	prefix := osc.NewMessage(AddressSysPrefix)
	prefix.Append(s.opts.Prefix)
	s.sendDeviceLocked(prefix)

	rotation := osc.NewMessage(AddressSysRotation)
	rotation.Append(int32(s.opts.Rotation))
	s.sendDeviceLocked(rotation)

	// Ping doubles as the handshake probe: any /sys reply completes it.
	s.sendDeviceLocked(osc.NewMessage(AddressSysInfo))

	s.state = AwaitingHandshake
	s.handshakeDeadline = now.Add(s.opts.HandshakeTimeout)
	s.log.Info().Str("id", d.ID).Str("host", d.Host).Int("port", d.Port).Msg("binding device")
}

// dropLinkLocked tears the link down and re-enters discovery on the next
// tick. Safe to invoke repeatedly.
func (s *Supervisor) dropLinkLocked(wasConnected bool) {
	if wasConnected {
		s.emitLocked(LinkEvent{Type: LinkDown, Device: s.boundDeviceLocked()})
	}
	s.wire.CloseDevice()
	s.boundID = ""
	s.state = Disconnected
	s.nextDiscovery = time.Time{}
}

// qualifyInboundLocked records liveness from device-namespace traffic and
// completes the handshake if one is pending. Discovery chatter never comes
// through here: packets can reach us even when the device is not actually
// routed to this application.
func (s *Supervisor) qualifyInboundLocked(now time.Time) {
	s.lastInbound = now
	if s.state != AwaitingHandshake {
		return
	}
	s.state = Connected
	s.reconnectAttempts = 0
	s.nextPing = now.Add(s.opts.PingInterval)
	s.nextLedFlush = now

	// The device's LED state is unknowable after a reconnect: blank it and
	// force the cache to repaint everything.
	s.leds.Invalidate()
	all := osc.NewMessage(s.opts.Prefix + AddressLedAll)
	all.Append(int32(0))
	s.sendDeviceLocked(all)

	s.log.Info().Str("id", s.boundID).Msg("device connected")
	s.emitLocked(LinkEvent{Type: LinkUp, Device: s.boundDeviceLocked()})
}

// handleDeviceAnnounce processes a /serialosc/device reply: (id, kind, port)
func (s *Supervisor) handleDeviceAnnounce(m *osc.Message) {
	if err := wantArgs(m, 3); err != nil {
		s.log.Debug().Err(err).Msg("bad device announce")
		return
	}
	id, err := stringArg(m, 0)
	if err != nil {
		return
	}
	kind, err := stringArg(m, 1)
	if err != nil {
		return
	}
	port, err := intArg(m, 2)
	if err != nil {
		return
	}

	d := DeviceInfo{ID: id, Kind: kind, Host: s.opts.BrokerHost, Port: port}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A device that still answers discovery stays bindable: a fresh
	// announce restores a spent reconnect budget, so exhaustion only
	// excludes devices that stopped answering the list.
	if last, ok := s.reg.LastKnown(); ok && last.ID == id && s.reconnectAttempts >= s.opts.MaxReconnectAttempts {
		s.reconnectAttempts = 0
	}

	created, changed := s.reg.Upsert(d)
	if created {
		s.log.Info().Str("id", id).Str("kind", kind).Int("port", port).Msg("device discovered")
		s.emitLocked(LinkEvent{Type: DeviceAdded, Device: d})
		return
	}
	if !changed {
		return
	}
	s.emitLocked(LinkEvent{Type: DeviceChanged, Device: d})

	// Endpoint migration of the bound device: never stay connected to the
	// stale endpoint, rebind and handshake the new one.
	if id == s.boundID && (s.state == Connected || s.state == AwaitingHandshake) {
		s.log.Warn().Str("id", id).Int("port", port).Msg("endpoint migrated, rebinding")
		if s.state == Connected {
			s.emitLocked(LinkEvent{Type: LinkDown, Device: d})
		}
		s.bindLocked(d, time.Now())
	}
}

// handleDeviceAdd processes a /serialosc/add notification
func (s *Supervisor) handleDeviceAdd(m *osc.Message) {
	id, err := stringArg(m, 0)
	if err != nil {
		s.log.Debug().Err(err).Msg("bad add notification")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// The subscription just fired and is now gone: renew it, then re-list
	// to learn the newcomer's port.
	s.resubscribeLocked()
	list := osc.NewMessage(AddressList)
	list.Append(s.opts.LocalHost, int32(s.wire.BoundPort()))
	if err := s.wire.SendBroker(list); err != nil {
		s.log.Debug().Err(err).Msg("discovery list send failed")
	}

	created, _ := s.reg.Upsert(DeviceInfo{ID: id, Host: s.opts.BrokerHost})
	if created {
		s.log.Info().Str("id", id).Msg("device attached")
		s.emitLocked(LinkEvent{Type: DeviceAdded, Device: DeviceInfo{ID: id, Host: s.opts.BrokerHost}})
	}

	// A fresh attach restores the reconnect budget for a previously
	// exhausted device.
	if last, ok := s.reg.LastKnown(); ok && last.ID == id {
		s.reconnectAttempts = 0
		s.nextBindAttempt = time.Time{}
	}
}

// handleDeviceRemove processes a /serialosc/remove notification
func (s *Supervisor) handleDeviceRemove(m *osc.Message) {
	id, err := stringArg(m, 0)
	if err != nil {
		s.log.Debug().Err(err).Msg("bad remove notification")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.resubscribeLocked()
	if d, ok := s.reg.Remove(id); ok {
		s.log.Info().Str("id", id).Msg("device detached")
		s.emitLocked(LinkEvent{Type: DeviceRemoved, Device: d})
	}
	if id == s.boundID {
		s.dropLinkLocked(s.state == Connected)
	}
}

// handleSys processes unrouted inbound traffic; anything in the /sys
// namespace from the bound device qualifies as liveness.
func (s *Supervisor) handleSys(m *osc.Message) {
	if !strings.HasPrefix(m.Address, "/sys/") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundID == "" {
		return
	}

	switch m.Address {
	case AddressSysSize:
		if err := wantArgs(m, 2); err == nil {
			x, errX := intArg(m, 0)
			y, errY := intArg(m, 1)
			if errX == nil && errY == nil {
				s.reg.SetSize(s.boundID, x, y)
			}
		}
	}
	s.qualifyInboundLocked(time.Now())
}

// handleDeviceTraffic processes prefix-routed messages (key and tilt)
func (s *Supervisor) handleDeviceTraffic(suffix string, m *osc.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundID == "" {
		return
	}
	s.qualifyInboundLocked(time.Now())
	if s.state != Connected {
		return
	}

	switch suffix {
	case AddressGridKey:
		if err := wantArgs(m, 3); err != nil {
			s.log.Debug().Err(err).Msg("bad key event")
			return
		}
		x, _ := intArg(m, 0)
		y, _ := intArg(m, 1)
		state, _ := intArg(m, 2)
		select {
		case s.keys <- KeyEvent{X: x, Y: y, State: state}:
		default:
		}
	case AddressTilt:
		if err := wantArgs(m, 4); err != nil {
			return
		}
		n, _ := intArg(m, 0)
		x, _ := intArg(m, 1)
		y, _ := intArg(m, 2)
		z, _ := intArg(m, 3)
		select {
		case s.tilts <- TiltEvent{Sensor: n, X: x, Y: y, Z: z}:
		default:
		}
	}
}

// SelectDevice binds a specific device by ID, tearing down any active
// session first.
func (s *Supervisor) SelectDevice(id string) bool {
	d, ok := s.reg.Get(id)
	if !ok || d.Port == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Disconnected && s.state != Discovering {
		s.dropLinkLocked(s.state == Connected)
	}
	s.reconnectAttempts = 0
	s.bindLocked(d, time.Now())
	return true
}

// Disconnect tears down the active session; discovery resumes on the next
// tick.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected {
		return
	}
	s.dropLinkLocked(s.state == Connected)
}

// Refresh forces a discovery pass on the next tick
func (s *Supervisor) Refresh() {
	s.mu.Lock()
	s.nextDiscovery = time.Time{}
	s.mu.Unlock()
}

func (s *Supervisor) boundDeviceLocked() DeviceInfo {
	if d, ok := s.reg.Get(s.boundID); ok {
		return d
	}
	return DeviceInfo{ID: s.boundID}
}

// sendDeviceLocked sends without surfacing errors; send failures are
// transient faults the timeout machinery already covers.
func (s *Supervisor) sendDeviceLocked(m *osc.Message) {
	if err := s.wire.SendDevice(m); err != nil {
		s.log.Debug().Err(err).Msg("device send failed")
	}
}

func (s *Supervisor) emitLocked(e LinkEvent) {
	select {
	case s.events <- e:
	default:
	}
}
