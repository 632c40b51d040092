package grid

// DeviceInfo describes a discovered grid controller. Identity is by ID;
// host, port and kind may change out-of-band (endpoint migration).
type DeviceInfo struct {
	ID    string
	Kind  string
	Host  string
	Port  int
	SizeX int
	SizeY int
}

// ConnectionState is the supervisor's link state
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Discovering
	AwaitingHandshake
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Discovering:
		return "discovering"
	case AwaitingHandshake:
		return "handshake"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// LinkEventType identifies link and registry change notifications
type LinkEventType int

const (
	LinkUp LinkEventType = iota
	LinkDown
	DeviceAdded
	DeviceRemoved
	DeviceChanged
)

// LinkEvent is emitted when the link or the device list changes
type LinkEvent struct {
	Type   LinkEventType
	Device DeviceInfo
}

// KeyEvent is a button down/up from the grid. State is 1 for down, 0 for up.
type KeyEvent struct {
	X     int
	Y     int
	State int
}

// TiltEvent is an accelerometer report from the grid
type TiltEvent struct {
	Sensor int
	X      int
	Y      int
	Z      int
}
