package coherence

import (
	"fmt"

	"github.com/sarchlab/cohsim/sim"
)

// MsgKind is the type of a coherence message.
type MsgKind int

// Coherence messages. The requests flow from the L1s to the home directory,
// the forwarded requests flow from the directory to the L1s, and the
// responses flow both ways.
const (
	// L1 to directory requests.
	GetS MsgKind = iota
	GetM
	Upgrade
	PutS
	PutX

	// Directory to L1 forwarded requests.
	Inv
	Downgrade

	// Directory to L1 responses.
	DataS
	DataE
	DataM
	UpgradeAck
	PutAck

	// L1 to directory responses.
	InvAck
	DowngradeAck
)

var msgKindNames = [...]string{
	"GetS", "GetM", "Upgrade", "PutS", "PutX",
	"Inv", "Downgrade",
	"DataS", "DataE", "DataM", "UpgradeAck", "PutAck",
	"InvAck", "DowngradeAck",
}

func (k MsgKind) String() string {
	if int(k) < len(msgKindNames) {
		return msgKindNames[k]
	}

	return fmt.Sprintf("MsgKind(%d)", int(k))
}

// IsRequest tells if the message starts a transaction at the directory.
func (k MsgKind) IsRequest() bool {
	return k <= PutX
}

const (
	controlBytes = 8
)

// Msg is a message of the coherence protocol. All the messages refer to a
// whole line.
type Msg struct {
	sim.MsgMeta

	Kind    MsgKind
	Address uint64
	Data    []byte
	Dirty   bool
}

// Meta returns the meta data of the message.
func (m *Msg) Meta() *sim.MsgMeta {
	return &m.MsgMeta
}

// Clone returns a copy of the message with a new ID.
func (m *Msg) Clone() sim.Msg {
	c := *m
	c.ID = sim.GetIDGenerator().Generate()
	c.Data = append([]byte(nil), m.Data...)

	return &c
}

func (m *Msg) String() string {
	return fmt.Sprintf("%s(0x%x) %s->%s", m.Kind, m.Address, m.Src, m.Dst)
}

// MsgBuilder can build coherence messages.
type MsgBuilder struct {
	src, dst sim.RemotePort
	kind     MsgKind
	address  uint64
	data     []byte
	dirty    bool
}

// WithSrc sets the source of the message.
func (b MsgBuilder) WithSrc(src sim.RemotePort) MsgBuilder {
	b.src = src
	return b
}

// WithDst sets the destination of the message.
func (b MsgBuilder) WithDst(dst sim.RemotePort) MsgBuilder {
	b.dst = dst
	return b
}

// WithKind sets the kind of the message.
func (b MsgBuilder) WithKind(kind MsgKind) MsgBuilder {
	b.kind = kind
	return b
}

// WithAddress sets the line address of the message.
func (b MsgBuilder) WithAddress(addr uint64) MsgBuilder {
	b.address = addr
	return b
}

// WithData attaches a copy of the line data to the message.
func (b MsgBuilder) WithData(data []byte, dirty bool) MsgBuilder {
	b.data = append([]byte(nil), data...)
	b.dirty = dirty

	return b
}

// Build creates the message.
func (b MsgBuilder) Build() *Msg {
	m := &Msg{
		Kind:    b.kind,
		Address: b.address,
		Data:    b.data,
		Dirty:   b.dirty,
	}
	m.ID = sim.GetIDGenerator().Generate()
	m.Src = b.src
	m.Dst = b.dst
	m.TrafficClass = b.kind.String()
	m.TrafficBytes = controlBytes + len(b.data)

	return m
}
