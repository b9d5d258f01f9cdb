package ir

// Version constants for persisted records and the kernel.
const (
	// RecordVersion is the results record schema version.
	RecordVersion = "1"

	// KernelVersion is the merlin kernel version.
	KernelVersion = "0.1.0"
)
