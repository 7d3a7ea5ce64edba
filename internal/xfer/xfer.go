// Package xfer binds the lower-level packages (internal/session,
// internal/sender, internal/receiver, internal/chunker, internal/pacing,
// internal/metrics) into the end-to-end client and server transfer flows.
// Everything below this package is transport-agnostic and synchronously
// testable; xfer is where real sockets, tickers, and goroutines appear.
package xfer

import (
	"time"

	"github.com/rs/xid"
)

// ReportInterval is how often the receiver samples its loss window and
// sends SubmitErrorRate back to the sender. Chosen short enough that the
// sender's pacing loop reacts within a handful of round trips.
const ReportInterval = 500 * time.Millisecond

// udpPollInterval bounds how long the receiver blocks on one UDP read
// before checking whether ReportInterval has elapsed, so a quiet link still
// gets its periodic report.
const udpPollInterval = 100 * time.Millisecond

// controlBacklog sizes the server's control-message channel between the
// control-reader goroutine and the pacing send loop: the two are split
// across goroutines only because the send loop is already paced, so the
// channel depth only needs to absorb a short burst of
// Retransmit/SubmitErrorRate messages between sends.
const controlBacklog = 64

// maxDatagramHeadroom is the extra room added to the UDP receive buffer
// beyond the block payload and the fixed 5-byte header.
const maxDatagramHeadroom = 64

// newSessionID mints a sortable, globally unique session identifier for
// transcript logging and the metrics collector's "session_id" label.
func newSessionID() string {
	return xid.New().String()
}
