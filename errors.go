package voxgo

import (
	"errors"
	"fmt"
	"os"

	"github.com/voxgo/voxgo/grid"
)

var (
	// ErrNotFound is returned when a channel or cuboid does not exist at
	// any layer. It unifies the not-found errors of the blob store, the
	// index and the remote client, so errors.Is(err, ErrNotFound) works
	// regardless of which layer reported the miss.
	ErrNotFound = os.ErrNotExist

	// ErrUnsupported is returned for operations an origin cannot perform,
	// e.g. writing through a read-only relay.
	ErrUnsupported = errors.New("operation not supported")
)

// ErrPayloadSize indicates that a write payload does not match the number
// of bytes its range and element size require.
type ErrPayloadSize struct {
	Expected int
	Actual   int
}

func (e *ErrPayloadSize) Error() string {
	return fmt.Sprintf("payload size mismatch: expected %d bytes, got %d", e.Expected, e.Actual)
}

// ErrOutOfExtent indicates a request range outside the channel's declared
// dataset extent.
type ErrOutOfExtent struct {
	Requested grid.Range
	Extent    grid.Range
}

func (e *ErrOutOfExtent) Error() string {
	return fmt.Sprintf("request %v:%v outside dataset extent %v:%v",
		e.Requested.Start, e.Requested.Stop, e.Extent.Start, e.Extent.Stop)
}
