package grid

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// bindProbeRange is how many ports above the configured one the receiver
// probes before giving up.
const bindProbeRange = 31

// Wire is the message-sending surface the supervisor drives. Split out so
// the state machine can be tested without sockets.
type Wire interface {
	SendBroker(msg *osc.Message) error
	SendDevice(msg *osc.Message) error
	BindDevice(host string, port int)
	CloseDevice()
	BoundPort() int
}

// Transport owns the receiver socket and the two sender endpoints (broker
// and selected device). It is driven from the network goroutine only; no
// retries live here.
type Transport struct {
	log    zerolog.Logger
	router *Router

	mu        sync.Mutex
	conn      net.PacketConn
	server    *osc.Server
	boundPort int
	broker    *osc.Client
	device    *osc.Client
}

// NewTransport creates a transport sending discovery traffic to the broker
// at brokerHost:brokerPort.
func NewTransport(brokerHost string, brokerPort int, log zerolog.Logger) *Transport {
	return &Transport{
		log:    log.With().Str("component", "transport").Logger(),
		router: NewRouter(),
		broker: osc.NewClient(brokerHost, brokerPort),
	}
}

// Router returns the inbound message router
func (t *Transport) Router() *Router {
	return t.router
}

// Bind opens the receiver socket on localPort, probing localPort+1 up to
// localPort+31 when the bind fails.
func (t *Transport) Bind(localPort int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var lastErr error
	for p := localPort; p <= localPort+bindProbeRange; p++ {
		conn, err := net.ListenPacket("udp", fmt.Sprintf(":%d", p))
		if err != nil {
			lastErr = err
			continue
		}
		t.conn = conn
		t.boundPort = p
		t.server = &osc.Server{Dispatcher: t.router}
		if p != localPort {
			t.log.Warn().Int("want", localPort).Int("got", p).Msg("listen port busy, bound fallback")
		}
		return nil
	}
	return errors.Wrapf(lastErr, "bind %d..%d", localPort, localPort+bindProbeRange)
}

// Serve reads inbound packets until the receiver socket closes. Run it on
// the network goroutine after Bind.
func (t *Transport) Serve() error {
	t.mu.Lock()
	server, conn := t.server, t.conn
	t.mu.Unlock()
	if server == nil || conn == nil {
		return errors.New("transport not bound")
	}
	err := server.Serve(conn)
	if err != nil && strings.Contains(err.Error(), "use of closed") {
		return nil
	}
	return err
}

// Close shuts the receiver socket down, unblocking Serve
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.device = nil
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

// BoundPort reports the port the receiver actually bound (the device needs
// it for return traffic).
func (t *Transport) BoundPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boundPort
}

// SendBroker sends one message to the discovery broker
func (t *Transport) SendBroker(msg *osc.Message) error {
	t.mu.Lock()
	broker := t.broker
	t.mu.Unlock()
	return errors.Wrapf(broker.Send(msg), "send %s to broker", msg.Address)
}

// BindDevice points the device sender at a new endpoint, replacing any
// prior binding.
func (t *Transport) BindDevice(host string, port int) {
	t.mu.Lock()
	t.device = osc.NewClient(host, port)
	t.mu.Unlock()
	t.log.Debug().Str("host", host).Int("port", port).Msg("device sender bound")
}

// CloseDevice drops the device sender binding
func (t *Transport) CloseDevice() {
	t.mu.Lock()
	t.device = nil
	t.mu.Unlock()
}

// SendDevice sends one message to the currently bound device
func (t *Transport) SendDevice(msg *osc.Message) error {
	t.mu.Lock()
	device := t.device
	t.mu.Unlock()
	if device == nil {
		return errors.Errorf("send %s: no device bound", msg.Address)
	}
	return errors.Wrapf(device.Send(msg), "send %s to device", msg.Address)
}

// Router dispatches inbound messages by address pattern: exact matches
// first, then the re-bindable device prefix, then a catch-all. It
// implements osc.Dispatcher.
type Router struct {
	mu       sync.RWMutex
	exact    map[string]func(*osc.Message)
	prefix   string
	onPrefix func(suffix string, m *osc.Message)
	fallback func(*osc.Message)
}

// NewRouter creates an empty router
func NewRouter() *Router {
	return &Router{exact: make(map[string]func(*osc.Message))}
}

// Handle registers an exact-address handler
func (r *Router) Handle(addr string, fn func(*osc.Message)) {
	r.mu.Lock()
	r.exact[addr] = fn
	r.mu.Unlock()
}

// HandlePrefix routes any message under prefix (e.g. "/mlr") to fn with the
// address suffix. Re-binding replaces the previous prefix route.
func (r *Router) HandlePrefix(prefix string, fn func(suffix string, m *osc.Message)) {
	r.mu.Lock()
	r.prefix = prefix
	r.onPrefix = fn
	r.mu.Unlock()
}

// HandleDefault registers the catch-all for unmatched addresses
func (r *Router) HandleDefault(fn func(*osc.Message)) {
	r.mu.Lock()
	r.fallback = fn
	r.mu.Unlock()
}

// Dispatch implements osc.Dispatcher
func (r *Router) Dispatch(packet osc.Packet) {
	switch p := packet.(type) {
	case *osc.Message:
		r.dispatchMessage(p)
	case *osc.Bundle:
		for _, m := range p.Messages {
			r.dispatchMessage(m)
		}
		for _, b := range p.Bundles {
			r.Dispatch(b)
		}
	}
}

func (r *Router) dispatchMessage(m *osc.Message) {
	r.mu.RLock()
	fn := r.exact[m.Address]
	prefix, onPrefix := r.prefix, r.onPrefix
	fallback := r.fallback
	r.mu.RUnlock()

	if fn != nil {
		fn(m)
		return
	}
	if onPrefix != nil && prefix != "" && strings.HasPrefix(m.Address, prefix+"/") {
		onPrefix(strings.TrimPrefix(m.Address, prefix), m)
		return
	}
	if fallback != nil {
		fallback(m)
	}
}
