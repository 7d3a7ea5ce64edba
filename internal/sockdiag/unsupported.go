//go:build !linux

package sockdiag

import "errors"

// ErrKernelTooOld is reused on non-Linux platforms as the generic
// "unsupported" sentinel: there is no TCP_INFO getsockopt here at all.
var ErrKernelTooOld = errors.New("sockdiag: TCP_INFO is only supported on linux")

// GetInfo always fails on non-Linux platforms.
func GetInfo(fd int) (Info, error) {
	return Info{}, ErrKernelTooOld
}
