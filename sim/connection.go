package sim

// A SendError reports a message that could not be sent or delivered because
// the buffer of the port is full. The sender keeps the message and retries
// when the port becomes available.
type SendError struct {
	Port     string
	Outgoing bool
}

func (e *SendError) Error() string {
	if e.Outgoing {
		return "port " + e.Port + ": outgoing buffer full"
	}

	return "port " + e.Port + ": incoming buffer full"
}

// A Connection moves messages between the ports plugged into it.
type Connection interface {
	Named
	Hookable

	PlugIn(port Port)
	Unplug(port Port)

	// NotifyAvailable is called by a port whose incoming buffer has room
	// again.
	NotifyAvailable(port Port)

	// NotifySend is called by a port that has a message to send.
	NotifySend(port Port)
}

// The positions at which a connection invokes its hooks. The item is the
// message.
var (
	HookPosConnStartTrans = &HookPos{Name: "Conn Start Trans"}
	HookPosConnDeliver    = &HookPos{Name: "Conn Deliver"}
)
