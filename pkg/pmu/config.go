// Package pmu assembles the command processor, the backends, the executor,
// the peer channels and the tasks into a firmware image running on
// simulated registers and memories.
package pmu

import "fmt"

// Variant selects the queue backend.
type Variant int

// Backend variants.
const (
	// VariantShared keeps the rings in DMEM.
	VariantShared Variant = iota
	// VariantHeap keeps the rings in FB and stages frames into DMEM.
	VariantHeap
)

func (v Variant) String() string {
	switch v {
	case VariantShared:
		return "shared"
	case VariantHeap:
		return "heap"
	}
	return fmt.Sprintf("variant(%d)", int(v))
}

// Config is the build-time firmware configuration.
type Config struct {
	Backend Variant
	// TaskBuffers copies frames into per-task scratch buffers.
	TaskBuffers bool
	// PeerChannel enables the FBFLCN mailbox.
	PeerChannel bool
	// SecureChannel enables the secure coprocessor mailbox.
	SecureChannel bool
}

// Build is the configuration selected by the build tags
// pmu_heap, pmu_taskbuf and pmu_sec.
var Build = Config{
	Backend:       buildBackend,
	TaskBuffers:   buildTaskBuffers,
	PeerChannel:   true,
	SecureChannel: buildSecure,
}

func (c Config) String() string {
	s := c.Backend.String()
	if c.TaskBuffers {
		s += "+taskbuf"
	}
	if c.PeerChannel {
		s += "+fbflcn"
	}
	if c.SecureChannel {
		s += "+sec"
	}
	return s
}
