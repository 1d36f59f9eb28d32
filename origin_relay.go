package voxgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxgo/voxgo/grid"
	"github.com/voxgo/voxgo/remote"
)

// RelayOrigin serves cuboids from an upstream cutout service through a
// remote.Client. Each miss fetches a cutout of exactly one cuboid.
//
// The relay is read-only: WriteCuboid returns ErrUnsupported. The channel
// list is local configuration; the upstream is only consulted for data.
type RelayOrigin struct {
	client   *remote.Client
	channels channelSet
}

// NewRelayOrigin creates a relay origin over client serving the given
// channels.
func NewRelayOrigin(client *remote.Client, channels ...ChannelInfo) *RelayOrigin {
	return &RelayOrigin{
		client:   client,
		channels: newChannelSet(channels),
	}
}

// ReadCuboid implements Origin.
func (o *RelayOrigin) ReadCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo) ([]byte, error) {
	if _, err := o.channels.metadata(channel); err != nil {
		return nil, err
	}

	raw, err := o.client.Cutout(ctx, channel, resolution, grid.CellRange(coord, info.CuboidShape))
	if err != nil {
		if errors.Is(err, remote.ErrNotFound) {
			return nil, fmt.Errorf("relay origin: %s: %w", grid.Key(channel, resolution, coord), ErrNotFound)
		}
		return nil, err
	}
	if len(raw) != info.BlockBytes() {
		return nil, fmt.Errorf("relay origin: upstream returned %d bytes for %s, want %d",
			len(raw), grid.Key(channel, resolution, coord), info.BlockBytes())
	}
	return raw, nil
}

// WriteCuboid implements Origin. The upstream is read-only.
func (o *RelayOrigin) WriteCuboid(_ context.Context, channel string, resolution uint8, coord grid.Point, _ ChannelInfo, _ []byte) error {
	return fmt.Errorf("relay origin: write %s: %w", grid.Key(channel, resolution, coord), ErrUnsupported)
}

// ChannelMetadata implements Origin.
func (o *RelayOrigin) ChannelMetadata(_ context.Context, channel string) (ChannelInfo, error) {
	return o.channels.metadata(channel)
}
