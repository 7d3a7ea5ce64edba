//go:build linux

/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * Portions are derived from of Linux's tcp.h, used under the syscall exception
 * (see https://spdx.org/licenses/Linux-syscall-note.html).
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

package sockdiag

import (
	"errors"
	"fmt"
	"syscall"
	"unsafe"

	"github.com/docker/docker/pkg/parsers/kernel"
	"golang.org/x/sys/unix"
)

// rawTCPInfo mirrors the leading fields of struct tcp_info; only the portion
// up to tcpi_total_retrans is declared since nothing past it is read.
type rawTCPInfo struct {
	state         uint8
	caState       uint8
	retransmits   uint8
	probes        uint8
	backoff       uint8
	options       uint8
	bitfield0     uint8
	bitfield1     uint8
	rto           uint32
	ato           uint32
	sndMSS        uint32
	rcvMSS        uint32
	unacked       uint32
	sacked        uint32
	lost          uint32
	retrans       uint32
	fackets       uint32
	lastDataSent  uint32
	lastAckSent   uint32
	lastDataRecv  uint32
	lastAckRecv   uint32
	pmtu          uint32
	rcvSsthresh   uint32
	rtt           uint32
	rttvar        uint32
	sndSsthresh   uint32
	sndCwnd       uint32
	advmss        uint32
	reordering    uint32
	rcvRTT        uint32
	rcvSpace      uint32
	totalRetrans  uint32
}

var (
	ErrKernelTooOld = errors.New("sockdiag: kernel predates TCP_INFO support")

	kernelVersion    *kernel.VersionInfo
	tcpInfoAvailable bool
)

func init() {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		// Advisory subsystem: a kernel-version probe failure disables
		// TCP_INFO reads rather than panicking the process.
		tcpInfoAvailable = false
		return
	}
	kernelVersion = v
	tcpInfoAvailable = kernel.CompareKernelVersion(*v, kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}) >= 0
}

// GetInfo calls getsockopt(2) with TCP_INFO on fd and returns the subset of
// fields sockdiag.Info exposes.
func GetInfo(fd int) (Info, error) {
	if !tcpInfoAvailable {
		return Info{}, ErrKernelTooOld
	}

	var raw rawTCPInfo
	length := uint32(unsafe.Sizeof(raw))

	_, _, errno := syscall.Syscall6(
		syscall.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(syscall.SOL_TCP),
		uintptr(syscall.TCP_INFO),
		uintptr(unsafe.Pointer(&raw)),
		uintptr(unsafe.Pointer(&length)),
		0,
	)
	if errno != 0 {
		return Info{}, fmt.Errorf("sockdiag: getsockopt TCP_INFO: %w", errno)
	}

	algo, _ := unix.GetsockoptString(fd, unix.IPPROTO_TCP, unix.TCP_CONGESTION)

	return Info{
		State:               raw.state,
		RTT:                 raw.rtt,
		RTTVar:              raw.rttvar,
		Retransmits:         raw.retransmits,
		TotalRetrans:        raw.totalRetrans,
		SndCWnd:             raw.sndCwnd,
		CongestionAlgorithm: algo,
	}, nil
}
