//go:build !linux

package kernelstats

// ReadUDPInErrors always fails on non-Linux platforms.
func ReadUDPInErrors() (Sample, error) {
	return Sample{}, ErrNotFound
}
