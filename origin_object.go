package voxgo

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxgo/voxgo/blobstore"
	"github.com/voxgo/voxgo/grid"
)

// ObjectOrigin serves cuboids stored one blob per grid cell in any
// BlobStore: a local directory, S3 or a MinIO endpoint. Blobs hold the
// raw uncompressed block; the cube key doubles as the object key.
//
// The origin is sparse: a chunk that was never written reads as zeros.
type ObjectOrigin struct {
	store    blobstore.BlobStore
	channels channelSet
}

// NewObjectOrigin creates an origin over the given store serving the
// given channels.
func NewObjectOrigin(store blobstore.BlobStore, channels ...ChannelInfo) *ObjectOrigin {
	return &ObjectOrigin{
		store:    store,
		channels: newChannelSet(channels),
	}
}

// ReadCuboid implements Origin.
func (o *ObjectOrigin) ReadCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo) ([]byte, error) {
	if _, err := o.channels.metadata(channel); err != nil {
		return nil, err
	}

	key := grid.Key(channel, resolution, coord)
	raw, err := o.store.Load(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return make([]byte, info.BlockBytes()), nil
		}
		return nil, err
	}
	if len(raw) != info.BlockBytes() {
		return nil, fmt.Errorf("object origin: chunk %s is %d bytes, want %d", key, len(raw), info.BlockBytes())
	}
	return raw, nil
}

// WriteCuboid implements Origin.
func (o *ObjectOrigin) WriteCuboid(ctx context.Context, channel string, resolution uint8, coord grid.Point, info ChannelInfo, raw []byte) error {
	if _, err := o.channels.metadata(channel); err != nil {
		return err
	}
	if len(raw) != info.BlockBytes() {
		return &ErrPayloadSize{Expected: info.BlockBytes(), Actual: len(raw)}
	}
	return o.store.Store(ctx, grid.Key(channel, resolution, coord), raw)
}

// ChannelMetadata implements Origin.
func (o *ObjectOrigin) ChannelMetadata(_ context.Context, channel string) (ChannelInfo, error) {
	return o.channels.metadata(channel)
}

// FileOrigin is an ObjectOrigin over a local directory of raw chunk
// files: one file per cuboid, sharded by channel and resolution.
type FileOrigin struct {
	ObjectOrigin
}

// NewFileOrigin creates a file origin rooted at dir. The directory is
// created if it does not exist.
func NewFileOrigin(dir string, channels ...ChannelInfo) (*FileOrigin, error) {
	store, err := blobstore.NewLocalStore(dir)
	if err != nil {
		return nil, err
	}
	return &FileOrigin{ObjectOrigin{
		store:    store,
		channels: newChannelSet(channels),
	}}, nil
}
