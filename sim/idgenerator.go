package sim

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// An IDGenerator hands out the IDs of messages and events.
type IDGenerator interface {
	Generate() string
}

var ids struct {
	sync.Mutex
	gen IDGenerator
}

// UseSequentialIDGenerator makes IDs count up from 1, which keeps them the
// same from run to run.
func UseSequentialIDGenerator() {
	setIDGenerator(NewSequentialIDGenerator())
}

// UseParallelIDGenerator makes IDs globally unique. They change from run to
// run. Event order never depends on IDs.
func UseParallelIDGenerator() {
	setIDGenerator(NewParallelIDGenerator())
}

// setIDGenerator panics once an ID has been handed out.
func setIDGenerator(g IDGenerator) {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen != nil {
		panic("the id generator is already in use")
	}

	ids.gen = g
}

// GetIDGenerator returns the ID generator of the process. The sequential one
// is used unless another one was chosen before.
func GetIDGenerator() IDGenerator {
	ids.Lock()
	defer ids.Unlock()

	if ids.gen == nil {
		ids.gen = NewSequentialIDGenerator()
	}

	return ids.gen
}

// NewSequentialIDGenerator creates a generator that counts up from 1.
func NewSequentialIDGenerator() IDGenerator {
	return &sequentialIDGenerator{}
}

// NewParallelIDGenerator creates a generator backed by xid.
func NewParallelIDGenerator() IDGenerator {
	return xidGenerator{}
}

type sequentialIDGenerator struct {
	last atomic.Uint64
}

func (g *sequentialIDGenerator) Generate() string {
	return strconv.FormatUint(g.last.Add(1), 10)
}

type xidGenerator struct{}

func (xidGenerator) Generate() string {
	return xid.New().String()
}
