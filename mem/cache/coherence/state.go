package coherence

// State is the coherence state of a line in an L1 cache.
type State int

// Stable states are kept in the tag array. Transient states only exist while
// the line has an in-flight transaction.
const (
	StateI State = iota
	StateS
	StateE
	StateM

	// StateIS waits for data after GetS.
	StateIS
	// StateIM waits for data after GetM.
	StateIM
	// StateSM keeps the shared copy and waits for the Upgrade to complete.
	StateSM
	// StateMI has sent PutX and waits for PutAck.
	StateMI
	// StateSI has sent PutS and waits for PutAck.
	StateSI
	// StateII was invalidated while waiting for PutAck.
	StateII
)

var stateNames = [...]string{
	"I", "S", "E", "M", "IS", "IM", "SM", "MI", "SI", "II",
}

func (s State) String() string {
	return stateNames[s]
}

// IsExclusive tells if the state grants write permission, now or after a
// silent upgrade.
func (s State) IsExclusive() bool {
	return s == StateE || s == StateM
}

// IsReadable tells if the state holds a valid copy of the line.
func (s State) IsReadable() bool {
	return s == StateS || s == StateE || s == StateM || s == StateSM
}
