// Package grid implements the link to a monome-style grid controller: a
// UDP/OSC transport, the discovered-device registry, the connection state
// machine, and the LED frame cache.
package grid

import (
	"github.com/hypebeast/go-osc/osc"
	"github.com/pkg/errors"
)

// Discovery broker addresses. The broker's notify subscription is one-shot
// server-side: it fires once and must be renewed after every add/remove.
const (
	AddressList         = "/serialosc/list"
	AddressNotify       = "/serialosc/notify"
	AddressDevice       = "/serialosc/device"
	AddressDeviceAdd    = "/serialosc/add"
	AddressDeviceRemove = "/serialosc/remove"
)

// Device session addresses.
const (
	AddressSysHost     = "/sys/host"
	AddressSysPort     = "/sys/port"
	AddressSysPrefix   = "/sys/prefix"
	AddressSysRotation = "/sys/rotation"
	AddressSysInfo     = "/sys/info"
	AddressSysSize     = "/sys/size"
	AddressSysID       = "/sys/id"
)

// LED addresses, relative to the configured message prefix.
const (
	AddressLedSet      = "/grid/led/set"
	AddressLedAll      = "/grid/led/all"
	AddressLedRow      = "/grid/led/row"
	AddressLedCol      = "/grid/led/col"
	AddressLedMap      = "/grid/led/map"
	AddressLedLevelSet = "/grid/led/level/set"
	AddressLedLevelAll = "/grid/led/level/all"
	AddressLedLevelRow = "/grid/led/level/row"
	AddressLedLevelCol = "/grid/led/level/col"
	AddressLedLevelMap = "/grid/led/level/map"
)

// Input addresses, relative to the configured message prefix.
const (
	AddressGridKey = "/grid/key"
	AddressTilt    = "/tilt"
)

// DefaultBrokerPort is the discovery broker's well-known listen port.
const DefaultBrokerPort = 12002

// intArg reads the i-th argument of a message as an int, accepting the
// int32 the wire codec decodes to.
func intArg(m *osc.Message, i int) (int, error) {
	if i >= len(m.Arguments) {
		return 0, errors.Errorf("%s: missing argument %d", m.Address, i)
	}
	switch v := m.Arguments[i].(type) {
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	default:
		return 0, errors.Errorf("%s: argument %d is %T, want int", m.Address, i, v)
	}
}

// stringArg reads the i-th argument of a message as a string.
func stringArg(m *osc.Message, i int) (string, error) {
	if i >= len(m.Arguments) {
		return "", errors.Errorf("%s: missing argument %d", m.Address, i)
	}
	s, ok := m.Arguments[i].(string)
	if !ok {
		return "", errors.Errorf("%s: argument %d is %T, want string", m.Address, i, m.Arguments[i])
	}
	return s, nil
}

// wantArgs checks message arity before any argument reads.
func wantArgs(m *osc.Message, n int) error {
	if len(m.Arguments) != n {
		return errors.Errorf("%s: expected %d arguments, got %d", m.Address, n, len(m.Arguments))
	}
	return nil
}
