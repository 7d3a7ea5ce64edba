// Package sender implements the sender-side datagram production loop: block
// selection, retransmit handling, and control-channel feedback application.
// It is deliberately decoupled from any real socket or timer so it can be
// driven and tested synchronously; internal/xfer wires it to a UDP
// connection and a ticker.
package sender

import (
	"github.com/flowline-labs/tsunamigo/internal/blockstatus"
	"github.com/flowline-labs/tsunamigo/internal/chunker"
	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/pacing"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Loop holds one transfer's sender-side state: the block-status map, the
// retransmit FIFO, and the fresh-block cursor. It is owned by a single
// goroutine and carries no internal locking.
type Loop struct {
	file   *chunker.File
	status *blockstatus.Map
	pacer  *pacing.Controller

	nextFresh  uint32
	retransmit []uint32
	queued     map[uint32]bool

	draining bool // every fresh and queued block has been emitted at least once
	done     bool // EndTransmission observed; caller should stop the loop
}

// New starts a sender loop over file, with pacer driving the emitted rate.
func New(file *chunker.File, pacer *pacing.Controller) *Loop {
	return &Loop{
		file:      file,
		status:    blockstatus.New(file.BlockCount()),
		pacer:     pacer,
		nextFresh: 1,
		queued:    make(map[uint32]bool),
	}
}

// Done reports whether an EndTransmission control message has been observed,
// meaning the transfer is complete and the caller should stop ticking.
func (l *Loop) Done() bool { return l.done }

// Status exposes the block-status map read-only for metrics/logging.
func (l *Loop) Status() *blockstatus.Map { return l.status }

// ApplyControl applies one TransmissionControl message received from the
// receiver.
func (l *Loop) ApplyControl(tc wire.TransmissionControl) error {
	if b, ok := tc.IsRestartAt(); ok {
		if !l.inRange(b) {
			return errs.New(errs.Protocol, "RestartAt block index out of range")
		}
		l.restartAt(b)
		return nil
	}
	if b, ok := tc.IsRetransmit(); ok {
		if !l.inRange(b) {
			return errs.New(errs.Protocol, "Retransmit block index out of range")
		}
		l.enqueueRetransmit(b)
		return nil
	}
	if ppm, ok := tc.IsSubmitErrorRate(); ok {
		return l.pacer.SubmitErrorRate(ppm)
	}
	if tc.IsEndTransmission() {
		l.done = true
		return nil
	}
	return errs.New(errs.Protocol, "unrecognized TransmissionControl")
}

// inRange reports whether b addresses a real block (blocks are 1-based).
func (l *Loop) inRange(b uint32) bool {
	return b >= 1 && b <= l.status.Count()
}

// ApplyRetransmitMany expands a batched RetransmitMany message into
// individual per-block retransmit enqueues. The live pacing loop never
// receives one of these itself (only single-block Retransmit travels the
// TransmissionControl stream), and the server's dispatch loop logs and
// ignores a decoded RetransmitMany rather than calling this.
func (l *Loop) ApplyRetransmitMany(blocks []uint32) {
	for _, b := range blocks {
		if !l.inRange(b) {
			continue
		}
		l.enqueueRetransmit(b)
	}
}

// restartAt rewinds the fresh cursor to b, downgrading any SentOriginal
// block at or beyond b back to Unsent and dropping retransmit-queue entries
// at or beyond b (their sender-side state is about to be re-derived from
// scratch by the resumed fresh cursor).
func (l *Loop) restartAt(b uint32) {
	l.nextFresh = b
	for block := b; block <= l.status.Count(); block++ {
		if l.status.Get(block) == blockstatus.SentOriginal {
			l.status.DowngradeToUnsent(block)
		}
	}
	kept := l.retransmit[:0]
	for _, block := range l.retransmit {
		if block < b {
			kept = append(kept, block)
		} else {
			delete(l.queued, block)
		}
	}
	l.retransmit = kept
}

// enqueueRetransmit queues b for resend unless it is already Done or already
// queued.
func (l *Loop) enqueueRetransmit(b uint32) {
	if l.status.Get(b) == blockstatus.Done {
		return
	}
	if l.queued[b] {
		return
	}
	l.queued[b] = true
	l.retransmit = append(l.retransmit, b)
}

// NextDatagram produces the next datagram to emit into buf (which must be at
// least file.BlockSize() bytes): retransmits take priority over fresh
// blocks, and once both are exhausted the loop emits END datagrams until
// the caller observes Done() via a received
// EndTransmission.
func (l *Loop) NextDatagram(buf []byte) (wire.Datagram, error) {
	if len(l.retransmit) > 0 {
		b := l.retransmit[0]
		l.retransmit = l.retransmit[1:]
		delete(l.queued, b)
		l.status.Set(b, blockstatus.RetransmitQueued)
		payload, err := l.file.ReadBlock(b, buf)
		if err != nil {
			return wire.Datagram{}, err
		}
		l.status.Set(b, blockstatus.Done)
		return wire.Datagram{BlockIndex: b, BlockType: wire.BlockRetransmission, Payload: payload}, nil
	}

	if l.nextFresh <= l.file.BlockCount() {
		b := l.nextFresh
		l.nextFresh++
		payload, err := l.file.ReadBlock(b, buf)
		if err != nil {
			return wire.Datagram{}, err
		}
		l.status.Set(b, blockstatus.SentOriginal)
		return wire.Datagram{BlockIndex: b, BlockType: wire.BlockOriginal, Payload: payload}, nil
	}

	l.draining = true
	return wire.Datagram{BlockIndex: l.file.BlockCount(), BlockType: wire.BlockEnd}, nil
}

// Draining reports whether every block has been emitted at least once and
// the loop is now only emitting END datagrams while it waits for
// EndTransmission.
func (l *Loop) Draining() bool { return l.draining }
