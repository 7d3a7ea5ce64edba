// Package pacing implements the sender's inter-packet-delay (IPD) control
// loop: the knob that converts the receiver's reported loss rate into a
// send-rate adjustment.
package pacing

import (
	"fmt"

	"github.com/flowline-labs/tsunamigo/internal/errs"
	"github.com/flowline-labs/tsunamigo/internal/wire"
)

// Controller holds one session's pacing state. It is owned by the sender
// goroutine; there is no package-level mutable state.
type Controller struct {
	ipdUsec   uint64
	ipdMin    uint64
	threshold uint32 // error_rate in ppm above which the sender slows down
	slowdown  wire.Fraction
	speedup   wire.Fraction
}

// New derives the pacing floor from the target bit rate and block size
// (ipd_min = block_size*8*1e6/target_rate) and starts the controller there,
// matching an unloaded link's steady state.
func New(blockSize uint32, targetRateBps uint64, thresholdPpm uint32, slowdown, speedup wire.Fraction) (*Controller, error) {
	if targetRateBps == 0 {
		return nil, errs.New(errs.Config, "target_rate must be non-zero")
	}
	if slowdown.Den == 0 || speedup.Den == 0 {
		return nil, errs.New(errs.Config, "slowdown/speedup fraction denominator must be non-zero")
	}
	ipdMin := (uint64(blockSize) * 8 * 1_000_000) / targetRateBps
	return &Controller{
		ipdUsec:   ipdMin,
		ipdMin:    ipdMin,
		threshold: thresholdPpm,
		slowdown:  slowdown,
		speedup:   speedup,
	}, nil
}

// IPD returns the current inter-packet delay in microseconds.
func (c *Controller) IPD() uint64 { return c.ipdUsec }

// IPDMin returns the floor derived from the configured target rate.
func (c *Controller) IPDMin() uint64 { return c.ipdMin }

// SubmitErrorRate applies one receiver-reported loss sample (ppm). Above
// threshold the IPD grows (slower); at or below threshold it shrinks,
// clamped at ipdMin — the sender never sends faster than the configured
// target rate allows.
func (c *Controller) SubmitErrorRate(ppm uint32) error {
	if ppm > c.threshold {
		next, err := mulDiv(c.ipdUsec, uint64(c.slowdown.Num), uint64(c.slowdown.Den))
		if err != nil {
			return err
		}
		c.ipdUsec = next
		return nil
	}
	next, err := mulDiv(c.ipdUsec, uint64(c.speedup.Num), uint64(c.speedup.Den))
	if err != nil {
		return err
	}
	if next < c.ipdMin {
		next = c.ipdMin
	}
	c.ipdUsec = next
	return nil
}

// mulDiv computes v*num/den on uint64 with an explicit overflow check: a
// would-be overflow is reported as an OVERFLOW error rather than silently
// wrapping.
func mulDiv(v, num, den uint64) (uint64, error) {
	if den == 0 {
		return 0, errs.New(errs.Config, "pacing fraction denominator is zero")
	}
	if num != 0 && v > (^uint64(0))/num {
		return 0, errs.New(errs.Overflow, fmt.Sprintf("pacing multiply overflow: %d * %d", v, num))
	}
	return (v * num) / den, nil
}
