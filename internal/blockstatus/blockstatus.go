// Package blockstatus tracks, sender-side, which blocks of a file transfer
// are unsent, sent, queued for retransmission, or done. It is owned
// exclusively by the sender goroutine and is never shared without a mutex.
package blockstatus

import "fmt"

// Status is the per-block sender-side state. Once Done, a block's status
// never downgrades.
type Status uint8

const (
	Unsent Status = iota
	SentOriginal
	RetransmitQueued
	Done
)

func (s Status) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case SentOriginal:
		return "SENT_ORIGINAL"
	case RetransmitQueued:
		return "RETRANSMIT_QUEUED"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Map is a 1-based BlockIndex -> Status table for a single file transfer.
type Map struct {
	status []Status // index 0 unused; status[b] is block b's state
}

// New allocates a Map for a file of blockCount blocks, all Unsent.
func New(blockCount uint32) *Map {
	return &Map{status: make([]Status, blockCount+1)}
}

// Count returns the number of addressable blocks (1..Count()).
func (m *Map) Count() uint32 {
	if len(m.status) == 0 {
		return 0
	}
	return uint32(len(m.status) - 1)
}

// Get returns the status of block b.
func (m *Map) Get(b uint32) Status {
	m.checkRange(b)
	return m.status[b]
}

// Set transitions block b to s, except that a Done block never downgrades:
// setting a lower status on a Done block is a no-op.
func (m *Map) Set(b uint32, s Status) {
	m.checkRange(b)
	if m.status[b] == Done && s != Done {
		return
	}
	m.status[b] = s
}

// DowngradeToUnsent forces block b back to Unsent from any status other than
// Done, used by RestartAt to rewind SentOriginal blocks at or beyond the
// restart point. It refuses to downgrade a Done block, preserving the
// invariant even across a restart.
func (m *Map) DowngradeToUnsent(b uint32) {
	m.checkRange(b)
	if m.status[b] == Done {
		return
	}
	m.status[b] = Unsent
}

// Complete reports whether every block has reached Done.
func (m *Map) Complete() bool {
	for b := 1; b < len(m.status); b++ {
		if m.status[b] != Done {
			return false
		}
	}
	return true
}

// DoneCount returns the number of blocks currently at Done, for metrics
// snapshots.
func (m *Map) DoneCount() uint32 {
	var n uint32
	for b := 1; b < len(m.status); b++ {
		if m.status[b] == Done {
			n++
		}
	}
	return n
}

func (m *Map) checkRange(b uint32) {
	if b == 0 || int(b) >= len(m.status) {
		panic(fmt.Sprintf("blockstatus: block index %d out of range [1,%d]", b, m.Count()))
	}
}
