package keyturner

import "github.com/backkem/keyturner/pkg/command"

// EventType identifies a client event.
type EventType int

const (
	// EventStatusUpdated is raised when a paired device signals new state
	// in its beacon. Fetch it with RequestKeyTurnerState.
	EventStatusUpdated EventType = iota
	// EventStatusReset is raised when the beacon heartbeat bit clears.
	EventStatusReset
	// EventBadPin is raised when the device rejects the stored PIN.
	EventBadPin
	// EventDisconnected is raised when the client drops an idle link.
	EventDisconnected
	// EventDeviceDiscovered is raised when an unpaired client sees a
	// device in pairing mode and records its address.
	EventDeviceDiscovered
	// EventPaired is raised after credentials are stored.
	EventPaired
	// EventUnpaired is raised after credentials are deleted.
	EventUnpaired
)

var eventNames = [...]string{
	EventStatusUpdated:    "StatusUpdated",
	EventStatusReset:      "StatusReset",
	EventBadPin:           "BadPin",
	EventDisconnected:     "Disconnected",
	EventDeviceDiscovered: "DeviceDiscovered",
	EventPaired:           "Paired",
	EventUnpaired:         "Unpaired",
}

// String returns the event name.
func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventNames) {
		return eventNames[t]
	}
	return "Unknown"
}

// Event is delivered to Config.OnEvent.
type Event struct {
	Type    EventType
	Address string
	// ErrorCode is set for EventBadPin.
	ErrorCode command.ErrorCode
}

func (c *Client) emit(ev Event) {
	c.config.Metrics.Event(ev.Type.String())
	if c.log != nil {
		c.log.Debugf("event %s %s", ev.Type, ev.Address)
	}
	if c.config.OnEvent != nil {
		c.config.OnEvent(ev)
	}
}
