package agent

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/neurogrid/xferbench/pkg/region"
)

// Direction selects which way bytes move relative to the initiator.
type Direction int

const (
	// Write pushes the local region's bytes into the remote region.
	Write Direction = iota
	// Read pulls the remote region's bytes into the local region.
	Read
)

// String returns the direction name.
func (d Direction) String() string {
	if d == Read {
		return "READ"
	}
	return "WRITE"
}

// Status is the transfer descriptor state. Transitions are monotonic:
// Pending -> InFlight -> Complete | Failed.
type Status int32

const (
	Pending Status = iota
	InFlight
	Complete
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InFlight:
		return "IN_FLIGHT"
	case Complete:
		return "COMPLETE"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Descriptor tracks one submitted transfer from submission to completion.
type Descriptor struct {
	ID        uint64
	Direction Direction
	LocalID   region.ID
	RemoteID  region.ID
	Length    int

	Submitted time.Time

	status  atomic.Int32
	err     atomic.Value // error
	elapsed atomic.Int64 // nanoseconds, set at completion
	done    chan struct{}
}

func newDescriptor(id uint64, dir Direction, localID, remoteID region.ID, length int) *Descriptor {
	return &Descriptor{
		ID:        id,
		Direction: dir,
		LocalID:   localID,
		RemoteID:  remoteID,
		Length:    length,
		Submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

// Status returns the current state without blocking or side effects.
func (d *Descriptor) Status() Status {
	return Status(d.status.Load())
}

// Err returns the failure cause once Status is Failed, nil otherwise.
func (d *Descriptor) Err() error {
	if v := d.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Elapsed returns the duration from submission to completion. Zero while
// the transfer is still running.
func (d *Descriptor) Elapsed() time.Duration {
	return time.Duration(d.elapsed.Load())
}

// Wait blocks until the transfer completes or fails, or until timeout or
// ctx cancellation. Returns ErrTimeout when the deadline elapses first.
func (d *Descriptor) Wait(ctx context.Context, timeout time.Duration) (Status, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.done:
		return d.Status(), d.Err()
	case <-timer.C:
		return d.Status(), ErrTimeout
	case <-ctx.Done():
		return d.Status(), ctx.Err()
	}
}

// markInFlight moves Pending -> InFlight.
func (d *Descriptor) markInFlight() {
	d.status.CompareAndSwap(int32(Pending), int32(InFlight))
}

// complete finishes the descriptor exactly once.
func (d *Descriptor) complete(err error) {
	if err != nil {
		d.err.Store(err)
		if !d.status.CompareAndSwap(int32(InFlight), int32(Failed)) {
			d.status.CompareAndSwap(int32(Pending), int32(Failed))
		}
	} else {
		d.status.CompareAndSwap(int32(InFlight), int32(Complete))
	}
	d.elapsed.Store(int64(time.Since(d.Submitted)))
	close(d.done)
}
