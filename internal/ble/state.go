package ble

// State is the lifecycle state of the controller's single connection.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateScanFailed
	StateScanTimedOut
	StateConnecting
	StateConnected
	StateDisconnected
	StateConnectFailed
	// StateUnavailable is permanent: the adapter could not be enabled.
	StateUnavailable
)

var stateNames = []string{
	"Idle",
	"Scanning",
	"ScanFailed",
	"ScanTimedOut",
	"Connecting",
	"Connected",
	"Disconnected",
	"ConnectFailed",
	"Unavailable",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// active reports whether a link is held in this state.
func (s State) active() bool {
	return s == StateConnecting || s == StateConnected
}

// EventKind tells observers what an Event carries.
type EventKind int

const (
	// EventStateChanged carries the new State.
	EventStateChanged EventKind = iota
	// EventPeripheralFound carries the Peripheral matched by a scan.
	EventPeripheralFound
	// EventServicesDiscovered carries the discovered Services.
	EventServicesDiscovered
	// EventError carries an error that did not change the state, such as a
	// failed service discovery.
	EventError
	// EventWriteCompleted carries the CommandID and the write outcome in Err.
	EventWriteCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "StateChanged"
	case EventPeripheralFound:
		return "PeripheralFound"
	case EventServicesDiscovered:
		return "ServicesDiscovered"
	case EventError:
		return "Error"
	case EventWriteCompleted:
		return "WriteCompleted"
	default:
		return "Unknown"
	}
}

// Event is published to subscribers by the controller.
type Event struct {
	Kind       EventKind
	State      State // state at publish time
	Peripheral *Peripheral
	Services   []Service
	CommandID  string
	Err        error
}

// Peripheral is a lamp matched during a scan.
type Peripheral struct {
	Name    string
	Address string
	RSSI    int
}
