// Package mem defines the messages that travel in the memory hierarchy and
// the backing storage of the simulated memory.
package mem

import (
	"github.com/sarchlab/cohsim/sim"
)

// Header sizes, in bytes, that are added to the payload of a message.
const (
	reqHeaderBytes = 12
	rspHeaderBytes = 4
)

// AccessReq is a read or a write of a contiguous byte range.
type AccessReq interface {
	sim.Msg
	GetAddress() uint64
	GetByteSize() uint64
}

// AccessRsp completes an AccessReq.
type AccessRsp interface {
	sim.Msg
	sim.Rsp
}

func newMeta(src, dst sim.RemotePort, class string, bytes int) sim.MsgMeta {
	return sim.MsgMeta{
		ID:           sim.GetIDGenerator().Generate(),
		Src:          src,
		Dst:          dst,
		TrafficClass: class,
		TrafficBytes: bytes,
	}
}

func renew(meta sim.MsgMeta) sim.MsgMeta {
	meta.ID = sim.GetIDGenerator().Generate()
	return meta
}

// ReadReq fetches AccessByteSize bytes starting at Address.
type ReadReq struct {
	sim.MsgMeta

	Address        uint64
	AccessByteSize uint64
}

func (r *ReadReq) Meta() *sim.MsgMeta { return &r.MsgMeta }

func (r *ReadReq) GetAddress() uint64 { return r.Address }

func (r *ReadReq) GetByteSize() uint64 { return r.AccessByteSize }

// Clone returns a copy with a new ID.
func (r *ReadReq) Clone() sim.Msg {
	c := *r
	c.MsgMeta = renew(r.MsgMeta)

	return &c
}

// ReadReqBuilder builds ReadReqs.
type ReadReqBuilder struct {
	src, dst          sim.RemotePort
	address, byteSize uint64
}

func (b ReadReqBuilder) WithSrc(src sim.RemotePort) ReadReqBuilder {
	b.src = src
	return b
}

func (b ReadReqBuilder) WithDst(dst sim.RemotePort) ReadReqBuilder {
	b.dst = dst
	return b
}

func (b ReadReqBuilder) WithAddress(address uint64) ReadReqBuilder {
	b.address = address
	return b
}

func (b ReadReqBuilder) WithByteSize(byteSize uint64) ReadReqBuilder {
	b.byteSize = byteSize
	return b
}

func (b ReadReqBuilder) Build() *ReadReq {
	return &ReadReq{
		MsgMeta:        newMeta(b.src, b.dst, "mem.ReadReq", reqHeaderBytes),
		Address:        b.address,
		AccessByteSize: b.byteSize,
	}
}

// WriteReq stores Data starting at Address.
type WriteReq struct {
	sim.MsgMeta

	Address uint64
	Data    []byte
}

func (r *WriteReq) Meta() *sim.MsgMeta { return &r.MsgMeta }

func (r *WriteReq) GetAddress() uint64 { return r.Address }

func (r *WriteReq) GetByteSize() uint64 { return uint64(len(r.Data)) }

// Clone returns a copy with a new ID. The data is copied too.
func (r *WriteReq) Clone() sim.Msg {
	c := *r
	c.MsgMeta = renew(r.MsgMeta)
	c.Data = append([]byte(nil), r.Data...)

	return &c
}

// WriteReqBuilder builds WriteReqs.
type WriteReqBuilder struct {
	src, dst sim.RemotePort
	address  uint64
	data     []byte
}

func (b WriteReqBuilder) WithSrc(src sim.RemotePort) WriteReqBuilder {
	b.src = src
	return b
}

func (b WriteReqBuilder) WithDst(dst sim.RemotePort) WriteReqBuilder {
	b.dst = dst
	return b
}

func (b WriteReqBuilder) WithAddress(address uint64) WriteReqBuilder {
	b.address = address
	return b
}

func (b WriteReqBuilder) WithData(data []byte) WriteReqBuilder {
	b.data = data
	return b
}

func (b WriteReqBuilder) Build() *WriteReq {
	return &WriteReq{
		MsgMeta: newMeta(b.src, b.dst, "mem.WriteReq",
			reqHeaderBytes+len(b.data)),
		Address: b.address,
		Data:    b.data,
	}
}

// DataReadyRsp carries the bytes that a ReadReq asked for.
type DataReadyRsp struct {
	sim.MsgMeta

	RespondTo string
	Data      []byte
}

func (r *DataReadyRsp) Meta() *sim.MsgMeta { return &r.MsgMeta }

func (r *DataReadyRsp) GetRspTo() string { return r.RespondTo }

// Clone returns a copy with a new ID. The data is copied too.
func (r *DataReadyRsp) Clone() sim.Msg {
	c := *r
	c.MsgMeta = renew(r.MsgMeta)
	c.Data = append([]byte(nil), r.Data...)

	return &c
}

// DataReadyRspBuilder builds DataReadyRsps.
type DataReadyRspBuilder struct {
	src, dst sim.RemotePort
	rspTo    string
	data     []byte
}

func (b DataReadyRspBuilder) WithSrc(src sim.RemotePort) DataReadyRspBuilder {
	b.src = src
	return b
}

func (b DataReadyRspBuilder) WithDst(dst sim.RemotePort) DataReadyRspBuilder {
	b.dst = dst
	return b
}

func (b DataReadyRspBuilder) WithRspTo(id string) DataReadyRspBuilder {
	b.rspTo = id
	return b
}

func (b DataReadyRspBuilder) WithData(data []byte) DataReadyRspBuilder {
	b.data = data
	return b
}

func (b DataReadyRspBuilder) Build() *DataReadyRsp {
	return &DataReadyRsp{
		MsgMeta: newMeta(b.src, b.dst, "mem.DataReadyRsp",
			rspHeaderBytes+len(b.data)),
		RespondTo: b.rspTo,
		Data:      b.data,
	}
}

// WriteDoneRsp tells that a WriteReq has completed.
type WriteDoneRsp struct {
	sim.MsgMeta

	RespondTo string
}

func (r *WriteDoneRsp) Meta() *sim.MsgMeta { return &r.MsgMeta }

func (r *WriteDoneRsp) GetRspTo() string { return r.RespondTo }

// Clone returns a copy with a new ID.
func (r *WriteDoneRsp) Clone() sim.Msg {
	c := *r
	c.MsgMeta = renew(r.MsgMeta)

	return &c
}

// WriteDoneRspBuilder builds WriteDoneRsps.
type WriteDoneRspBuilder struct {
	src, dst sim.RemotePort
	rspTo    string
}

func (b WriteDoneRspBuilder) WithSrc(src sim.RemotePort) WriteDoneRspBuilder {
	b.src = src
	return b
}

func (b WriteDoneRspBuilder) WithDst(dst sim.RemotePort) WriteDoneRspBuilder {
	b.dst = dst
	return b
}

func (b WriteDoneRspBuilder) WithRspTo(id string) WriteDoneRspBuilder {
	b.rspTo = id
	return b
}

func (b WriteDoneRspBuilder) Build() *WriteDoneRsp {
	return &WriteDoneRsp{
		MsgMeta:   newMeta(b.src, b.dst, "mem.WriteDoneRsp", rspHeaderBytes),
		RespondTo: b.rspTo,
	}
}
