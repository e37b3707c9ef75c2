package sim

import (
	"fmt"
	"sync"
)

// Hook positions of a port. The item is the message.
var (
	HookPosPortMsgSend             = &HookPos{Name: "PortMsgSend"}
	HookPosPortMsgRecvd            = &HookPos{Name: "PortMsgRecvd"}
	HookPosPortMsgRetrieveIncoming = &HookPos{Name: "PortMsgRetrieveIncoming"}
)

// A RemotePort is a string that refers to another port.
type RemotePort string

// A Port is where a component meets a connection. Messages wait in an
// incoming and an outgoing buffer.
type Port interface {
	Named
	Hookable

	AsRemote() RemotePort

	SetConnection(conn Connection)
	Component() Component

	// For connection
	Deliver(msg Msg) *SendError
	NotifyAvailable()
	RetrieveOutgoing() Msg
	PeekOutgoing() Msg

	// For component
	CanSend() bool
	Send(msg Msg) *SendError
	RetrieveIncoming() Msg
	PeekIncoming() Msg
}

type port struct {
	HookableBase

	lock sync.Mutex
	name string
	comp Component
	conn Connection

	incoming Buffer
	outgoing Buffer
}

// NewPort creates a port owned by comp. The two capacities bound the number
// of messages waiting on each side.
func NewPort(
	comp Component,
	incomingBufCap, outgoingBufCap int,
	name string,
) Port {
	return &port{
		name:     name,
		comp:     comp,
		incoming: NewBuffer(name+".IncomingBuf", incomingBufCap),
		outgoing: NewBuffer(name+".OutgoingBuf", outgoingBufCap),
	}
}

func (p *port) AsRemote() RemotePort {
	return RemotePort(p.name)
}

func (p *port) SetConnection(conn Connection) {
	if p.conn != nil {
		panic(fmt.Sprintf("port %s: already plugged into %s, not %s",
			p.name, p.conn.Name(), conn.Name()))
	}

	p.conn = conn
}

func (p *port) Component() Component {
	return p.comp
}

func (p *port) Name() string {
	return p.name
}

func (p *port) CanSend() bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	return p.outgoing.CanPush()
}

// push adds the message to the buffer unless it is full.
func (p *port) push(buf Buffer, msg Msg) bool {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !buf.CanPush() {
		return false
	}

	buf.Push(msg)

	return true
}

// pop takes the first message of the buffer. It also tells if the buffer was
// full before.
func (p *port) pop(buf Buffer) (msg Msg, wasFull bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	wasFull = buf.Size() == buf.Capacity()

	item := buf.Pop()
	if item == nil {
		return nil, false
	}

	return item.(Msg), wasFull
}

func (p *port) peek(buf Buffer) Msg {
	p.lock.Lock()
	defer p.lock.Unlock()

	item := buf.Peek()
	if item == nil {
		return nil
	}

	return item.(Msg)
}

func (p *port) invoke(pos *HookPos, msg Msg) {
	p.InvokeHook(HookCtx{Domain: p, Pos: pos, Item: msg})
}

// Send puts the message into the outgoing buffer and wakes up the connection.
func (p *port) Send(msg Msg) *SendError {
	p.msgMustBeValid(msg)

	if !p.push(p.outgoing, msg) {
		return &SendError{Port: p.name, Outgoing: true}
	}

	p.invoke(HookPosPortMsgSend, msg)
	p.conn.NotifySend(p)

	return nil
}

// Deliver puts the message into the incoming buffer and wakes up the owner.
func (p *port) Deliver(msg Msg) *SendError {
	if !p.push(p.incoming, msg) {
		return &SendError{Port: p.name}
	}

	p.invoke(HookPosPortMsgRecvd, msg)

	if p.comp != nil {
		p.comp.NotifyRecv(p)
	}

	return nil
}

func (p *port) RetrieveIncoming() Msg {
	msg, wasFull := p.pop(p.incoming)
	if msg == nil {
		return nil
	}

	if wasFull && p.conn != nil {
		p.conn.NotifyAvailable(p)
	}

	p.invoke(HookPosPortMsgRetrieveIncoming, msg)

	return msg
}

func (p *port) RetrieveOutgoing() Msg {
	msg, wasFull := p.pop(p.outgoing)
	if msg == nil {
		return nil
	}

	if wasFull && p.comp != nil {
		p.comp.NotifyPortFree(p)
	}

	return msg
}

func (p *port) PeekIncoming() Msg {
	return p.peek(p.incoming)
}

func (p *port) PeekOutgoing() Msg {
	return p.peek(p.outgoing)
}

// NotifyAvailable tells the owner that the connection can take messages again.
func (p *port) NotifyAvailable() {
	if p.comp != nil {
		p.comp.NotifyPortFree(p)
	}
}

func (p *port) msgMustBeValid(msg Msg) {
	meta := msg.Meta()

	switch {
	case RemotePort(p.name) != meta.Src:
		panic(fmt.Sprintf("port %s: msg %s is sent from %s",
			p.name, meta.ID, meta.Src))
	case meta.Dst == "":
		panic(fmt.Sprintf("port %s: msg %s has no dst", p.name, meta.ID))
	case meta.Src == meta.Dst:
		panic(fmt.Sprintf("port %s: msg %s is sent to itself", p.name, meta.ID))
	case p.conn == nil:
		panic(fmt.Sprintf("port %s: not connected", p.name))
	}
}
