package mem

// For capacity
const (
	_ = iota
	// KB is kilobytes
	KB uint64 = 1 << (10 * iota)
	// MB is megabytes
	MB
	// GB is gigabytes
	GB
	// TB is terabytes
	TB
)
