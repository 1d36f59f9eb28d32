package voxgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxgo/voxgo/grid"
)

// DefaultCuboidShape is the grid cell size used by BossDB-style datasets.
var DefaultCuboidShape = grid.Shape{X: 512, Y: 512, Z: 16}

// ChannelInfo describes one channel of a dataset: how its voxels are
// shaped into cuboids, how wide one voxel is, and optionally the dataset
// extent.
type ChannelInfo struct {
	// Name identifies the channel, e.g. "kasthuri11/image".
	Name string
	// CuboidShape is the grid cell size. DefaultCuboidShape if zero.
	CuboidShape grid.Shape
	// ElemSize is the voxel width in bytes (1 for uint8 image data,
	// 2 for uint16, 8 for uint64 annotations).
	ElemSize int
	// Extent bounds the dataset. The zero value means unbounded; requests
	// are then accepted for any coordinates.
	Extent grid.Range
}

// BlockBytes returns the size of one raw cuboid in bytes.
func (ci ChannelInfo) BlockBytes() int {
	return ci.CuboidShape.Volume() * ci.ElemSize
}

func (ci ChannelInfo) withDefaults() ChannelInfo {
	if !ci.CuboidShape.Valid() {
		ci.CuboidShape = DefaultCuboidShape
	}
	if ci.ElemSize <= 0 {
		ci.ElemSize = 1
	}
	return ci
}

// Origin is the layer beneath the cache: the authoritative source a
// cuboid is fetched from on a miss and written back to on a put.
//
// Implementations exchange whole cuboids in C order (z, y, x). Read-only
// sources return ErrUnsupported from WriteCuboid.
type Origin interface {
	// ReadCuboid returns the raw block for one grid cell, exactly
	// info.BlockBytes() long. Sparse sources return a zero block for
	// chunks that were never written; sources without the channel or the
	// data at all return ErrNotFound.
	ReadCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo) ([]byte, error)

	// WriteCuboid persists one whole cuboid.
	WriteCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo, raw []byte) error

	// ChannelMetadata describes a channel, or returns ErrNotFound.
	ChannelMetadata(ctx context.Context, channel string) (ChannelInfo, error)
}

// NullOrigin is the terminal layer: it holds no channels and no data.
// Every read and metadata lookup fails with ErrNotFound and every write
// with ErrUnsupported. Useful as the end of a Chain and in tests.
type NullOrigin struct{}

// ReadCuboid implements Origin.
func (NullOrigin) ReadCuboid(_ context.Context, channel string, resolution uint8, coord grid.Point, _ ChannelInfo) ([]byte, error) {
	return nil, fmt.Errorf("null origin: read %s: %w", grid.Key(channel, resolution, coord), ErrNotFound)
}

// WriteCuboid implements Origin.
func (NullOrigin) WriteCuboid(_ context.Context, channel string, resolution uint8, coord grid.Point, _ ChannelInfo, _ []byte) error {
	return fmt.Errorf("null origin: write %s: %w", grid.Key(channel, resolution, coord), ErrUnsupported)
}

// ChannelMetadata implements Origin.
func (NullOrigin) ChannelMetadata(_ context.Context, channel string) (ChannelInfo, error) {
	return ChannelInfo{}, fmt.Errorf("null origin: channel %q: %w", channel, ErrNotFound)
}

// Chain layers origins: reads and metadata lookups fall through to the
// next origin on ErrNotFound, writes fall through on ErrUnsupported.
//
// Sparse origins answer every read for channels they know, so place them
// last; a relay belongs in front of them.
type Chain []Origin

// NewChain builds a chain from first to last.
func NewChain(origins ...Origin) Chain {
	return Chain(origins)
}

// ReadCuboid implements Origin.
func (c Chain) ReadCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo) ([]byte, error) {
	err := fmt.Errorf("chain: empty: %w", ErrNotFound)
	for _, o := range c {
		var raw []byte
		raw, err = o.ReadCuboid(ctx, channel, resolution, coord, info)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return nil, err
}

// WriteCuboid implements Origin.
func (c Chain) WriteCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo, raw []byte) error {
	err := fmt.Errorf("chain: empty: %w", ErrUnsupported)
	for _, o := range c {
		err = o.WriteCuboid(ctx, channel, resolution, coord, info, raw)
		if err == nil || !errors.Is(err, ErrUnsupported) {
			return err
		}
	}
	return err
}

// ChannelMetadata implements Origin.
func (c Chain) ChannelMetadata(ctx context.Context, channel string) (ChannelInfo, error) {
	err := fmt.Errorf("chain: empty: %w", ErrNotFound)
	for _, o := range c {
		var info ChannelInfo
		info, err = o.ChannelMetadata(ctx, channel)
		if err == nil {
			return info, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return ChannelInfo{}, err
		}
	}
	return ChannelInfo{}, err
}

// channelSet resolves channel metadata from a fixed configuration. The
// file, object and relay origins all use it; their channel lists come
// from configuration rather than from the stored data.
type channelSet map[string]ChannelInfo

func newChannelSet(channels []ChannelInfo) channelSet {
	set := make(channelSet, len(channels))
	for _, ci := range channels {
		set[ci.Name] = ci.withDefaults()
	}
	return set
}

func (s channelSet) metadata(channel string) (ChannelInfo, error) {
	info, ok := s[channel]
	if !ok {
		return ChannelInfo{}, fmt.Errorf("channel %q: %w", channel, ErrNotFound)
	}
	return info, nil
}
