// Package connstat wraps the control-channel net.Conn to track byte
// counters and timestamps, and to sample TCP_INFO (via internal/sockdiag) on
// open and close. It is adapted from this module's connection-wrapper
// pattern, narrowed to what a single control-channel session needs: no
// reconnect bookkeeping, since tsunamigo does not reconnect a session once
// its control channel drops.
package connstat

import (
	"net"
	"strconv"
	"time"

	"github.com/flowline-labs/tsunamigo/internal/sockdiag"
)

// ReportFn is invoked once per lifecycle event (open, close) with the
// current snapshot, for transcript logging.
type ReportFn func(c *Conn, state string)

// Conn wraps a control-channel net.Conn, tracking byte counters, first/last
// activity timestamps, and opened/closed TCP_INFO samples.
type Conn struct {
	net.Conn

	report ReportFn

	OpenedAt  int64
	ClosedAt  int64
	FirstRxAt int64
	LastRxAt  int64
	FirstTxAt int64
	LastTxAt  int64
	TxBytes   int64
	RxBytes   int64
	RxErr     error
	TxErr     error
	InfoErr   error

	OpenedInfo *sockdiag.Info
	ClosedInfo *sockdiag.Info
}

// Wrap wraps conn, samples TCP_INFO immediately, and reports the open event.
func Wrap(conn net.Conn, report ReportFn) *Conn {
	w := &Conn{Conn: conn, report: report, OpenedAt: time.Now().UnixNano()}
	if info, err := sampleTCPInfo(conn); err != nil {
		w.InfoErr = err
	} else {
		w.OpenedInfo = info
	}
	if w.report != nil {
		w.report(w, "open")
	}
	return w
}

func sampleTCPInfo(conn net.Conn) (*sockdiag.Info, error) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil, nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return nil, err
	}
	var info sockdiag.Info
	var innerErr error
	if err := rawConn.Control(func(fd uintptr) {
		info, innerErr = sockdiag.GetInfo(int(fd))
	}); err != nil {
		return nil, err
	}
	if innerErr != nil {
		return nil, innerErr
	}
	return &info, nil
}

// Close samples the closing TCP_INFO, reports the close event, then closes
// the underlying connection.
func (w *Conn) Close() error {
	w.ClosedAt = time.Now().UnixNano()
	if info, err := sampleTCPInfo(w.Conn); err != nil {
		w.InfoErr = err
	} else {
		w.ClosedInfo = info
	}
	if w.report != nil {
		w.report(w, "close")
	}
	return w.Conn.Close()
}

// Read tracks received bytes and timestamps.
func (w *Conn) Read(b []byte) (int, error) {
	n, err := w.Conn.Read(b)
	if n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstRxAt == 0 {
			w.FirstRxAt = ts
		}
		w.LastRxAt = ts
	}
	w.RxBytes += int64(n)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		w.RxErr = err
	}
	return n, err
}

// Write tracks sent bytes and timestamps.
func (w *Conn) Write(b []byte) (int, error) {
	n, err := w.Conn.Write(b)
	if n > 0 {
		ts := time.Now().UnixNano()
		if w.FirstTxAt == 0 {
			w.FirstTxAt = ts
		}
		w.LastTxAt = ts
	}
	w.TxBytes += int64(n)
	if netErr, ok := err.(net.Error); ok && !netErr.Timeout() {
		w.TxErr = err
	}
	return n, err
}

// Warnings summarizes anything worth a transcript log line: elevated
// retransmit counts observed at open or close.
func (w *Conn) Warnings() []string {
	var warns []string
	for _, info := range []*sockdiag.Info{w.OpenedInfo, w.ClosedInfo} {
		if info == nil {
			continue
		}
		if info.TotalRetrans > 0 {
			warns = append(warns, "total_retransmits="+strconv.FormatUint(uint64(info.TotalRetrans), 10))
		}
	}
	return warns
}

// ToMap renders a snapshot for transcript/log-field emission.
func (w *Conn) ToMap() map[string]any {
	fields := map[string]any{
		"openedAt":   w.OpenedAt,
		"closedAt":   w.ClosedAt,
		"firstRxAt":  w.FirstRxAt,
		"lastRxAt":   w.LastRxAt,
		"firstTxAt":  w.FirstTxAt,
		"lastTxAt":   w.LastTxAt,
		"txBytes":    w.TxBytes,
		"rxBytes":    w.RxBytes,
		"localAddr":  w.LocalAddr().String(),
		"remoteAddr": w.RemoteAddr().String(),
		"warnings":   w.Warnings(),
	}
	if w.ClosedInfo != nil && w.ClosedInfo.CongestionAlgorithm != "" {
		fields["congestionAlgorithm"] = w.ClosedInfo.CongestionAlgorithm
	} else if w.OpenedInfo != nil {
		fields["congestionAlgorithm"] = w.OpenedInfo.CongestionAlgorithm
	}
	if w.RxErr != nil {
		fields["rxErr"] = w.RxErr.Error()
	}
	if w.TxErr != nil {
		fields["txErr"] = w.TxErr.Error()
	}
	if w.InfoErr != nil {
		fields["infoErr"] = w.InfoErr.Error()
	}
	return fields
}
