// Package receiver implements the receiver-side main loop: bitmap tracking,
// the gapped-block ring buffer, drain-on-END handling, and the periodic
// loss-rate report. Like internal/sender, it is decoupled from any real
// socket/timer so it can be driven synchronously in tests; internal/xfer
// wires it to a UDP connection and a report-interval ticker.
package receiver

import (
	"os"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/ring"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Loop holds one transfer's receiver-side state. It is owned by a single
// goroutine and carries no internal locking.
type Loop struct {
	f          *os.File
	blockSize  uint32
	blockCount uint32
	fileSize   uint64

	received      []bool
	receivedCount uint32
	highestSeen   uint32

	ring *ring.Buffer

	errorsWindow    uint32
	emittedInWindow uint32

	draining bool
	done     bool
}

// defaultRingMultiple is the "typically 4x chunk_blocks" sizing hint,
// applied when the caller does not derive a chunk_blocks of its own to size
// the ring from.
const defaultRingMultiple = 4

// New opens (creating/truncating) the destination file and allocates a
// receiver loop sized for blockCount blocks of blockSize bytes each, with a
// retransmit ring capacity of ringCapacity entries.
func New(path string, fileSize uint64, blockSize uint32, blockCount uint32, ringCapacity int) (*Loop, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errs.Wrap(errs.File, "create destination file", err)
	}
	if ringCapacity <= 0 {
		ringCapacity = defaultRingMultiple
	}
	return &Loop{
		f:          f,
		blockSize:  blockSize,
		blockCount: blockCount,
		fileSize:   fileSize,
		received:   make([]bool, blockCount+1),
		ring:       ring.New(ringCapacity),
	}, nil
}

// Close releases the destination file handle.
func (l *Loop) Close() error { return l.f.Close() }

// Done reports whether every block has been received and every outstanding
// retransmit has been resolved, meaning EndTransmission has been emitted and
// the transfer is complete.
func (l *Loop) Done() bool { return l.done }

// ReceivedCount returns the number of distinct blocks written so far.
func (l *Loop) ReceivedCount() uint32 { return l.receivedCount }

func (l *Loop) writeBlock(b uint32, payload []byte) error {
	off := int64(b-1) * int64(l.blockSize)
	n := len(payload)
	if remaining := l.fileSize - uint64(off); remaining < uint64(n) {
		n = int(remaining)
	}
	if n <= 0 {
		return nil
	}
	if _, err := l.f.WriteAt(payload[:n], off); err != nil {
		return errs.Wrap(errs.File, "write block", err)
	}
	return nil
}

// HandleDatagram processes one inbound UDP datagram, returning any
// TransmissionControl messages the caller must now send back
// to the sender (retransmit requests surfaced by a saturated ring, or a
// final EndTransmission once the transfer is complete).
func (l *Loop) HandleDatagram(d wire.Datagram) ([]wire.TransmissionControl, error) {
	var out []wire.TransmissionControl

	if d.BlockType == wire.BlockEnd {
		if !l.draining {
			l.draining = true
			// Entering drain: request every still-missing block, not just
			// the ones the gap scan below happened to catch. A block lost
			// at the tail of the stream never triggers that scan (nothing
			// higher ever arrives to fire it), and a block evicted from the
			// ring earlier was already removed from it when its eviction
			// Retransmit was sent, so ring contents alone would miss both.
			for missing := uint32(1); missing <= l.blockCount; missing++ {
				if l.received[missing] {
					continue
				}
				l.ring.Remove(missing)
				l.errorsWindow++
				out = append(out, wire.Retransmit(missing))
			}
		}
	} else {
		b := d.BlockIndex
		if b == 0 || b > l.blockCount {
			return nil, errs.New(errs.Protocol, "datagram block index out of range")
		}
		if !l.received[b] {
			if err := l.writeBlock(b, d.Payload); err != nil {
				return nil, err
			}
			l.received[b] = true
			l.receivedCount++
		}
		l.emittedInWindow++

		if b > l.highestSeen+1 {
			for missing := l.highestSeen + 1; missing < b; missing++ {
				if l.received[missing] {
					continue
				}
				evicted, evictedOK := l.ring.PushEvicted(missing)
				if evictedOK {
					l.errorsWindow++
					out = append(out, wire.Retransmit(evicted))
				}
			}
		}
		if b > l.highestSeen {
			l.highestSeen = b
		}
		l.ring.Remove(b)
	}

	if l.draining {
		for {
			blk, ok := l.ring.Pop()
			if !ok {
				break
			}
			out = append(out, wire.Retransmit(blk))
		}
		if l.ring.Len() == 0 && l.receivedCount == l.blockCount {
			out = append(out, wire.EndTransmission())
			l.done = true
		}
	}
	return out, nil
}

// ReportInterval computes the periodic loss-rate sample and resets the
// window counters. ok is false if no
// datagrams were observed in the interval, in which case there is nothing
// meaningful to report.
func (l *Loop) ReportInterval() (tc wire.TransmissionControl, ok bool) {
	if l.emittedInWindow == 0 {
		return wire.TransmissionControl{}, false
	}
	ppm := uint32((uint64(l.errorsWindow) * 1_000_000) / uint64(l.emittedInWindow))
	l.errorsWindow = 0
	l.emittedInWindow = 0
	return wire.SubmitErrorRate(ppm), true
}

// RestartPoint reports the lowest missing block index, for use by callers
// implementing the "falls too far behind" restart policy (issuing a
// RestartAt themselves when the ring saturates repeatedly). ok is false if
// every block through highestSeen has been received.
func (l *Loop) RestartPoint() (block uint32, ok bool) {
	for b := uint32(1); b <= l.highestSeen; b++ {
		if !l.received[b] {
			return b, true
		}
	}
	return 0, false
}
