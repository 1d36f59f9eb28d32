package voxgo

import (
	"context"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/voxgo/voxgo/blobstore"
	"github.com/voxgo/voxgo/cache"
	"github.com/voxgo/voxgo/grid"
	"github.com/voxgo/voxgo/index"
)

// DataManager reads and writes arbitrary axis-aligned subvolumes of a
// chunked voxel dataset. Payloads are raw voxel bytes in C order
// (z outermost, then y, then x), info.ElemSize bytes per voxel.
type DataManager interface {
	// GetData returns the voxels covered by r. The result is always
	// exactly r.Volume()*ElemSize bytes.
	GetData(ctx context.Context, channel string, resolution uint8, r grid.Range) ([]byte, error)

	// PutData writes the voxels covered by r. The payload must be exactly
	// r.Volume()*ElemSize bytes or PutData fails with *ErrPayloadSize.
	// Read-only backings fail with ErrUnsupported.
	PutData(ctx context.Context, channel string, resolution uint8, r grid.Range, payload []byte) error

	// ChannelMetadata describes a channel, or returns ErrNotFound.
	ChannelMetadata(ctx context.Context, channel string) (ChannelInfo, error)
}

// Manager is the caching DataManager: requests are decomposed onto the
// cuboid grid, each cuboid is served from the cache (filling from the
// origin on a miss), and the pieces are assembled into one contiguous
// block. Safe for concurrent use.
type Manager struct {
	origin    Origin
	engine    *cache.Engine
	ix        *index.Index
	fillLimit int
	log       *Logger
}

var _ DataManager = (*Manager)(nil)

// Open creates a Manager whose cache lives under cacheDir: blob files in
// the directory tree, metadata in cacheDir/cuboids.db. The same cacheDir
// reopens the same cache.
func Open(ctx context.Context, origin Origin, cacheDir string, optFns ...Option) (*Manager, error) {
	o := applyOptions(optFns)

	store, err := blobstore.NewLocalStore(cacheDir)
	if err != nil {
		return nil, err
	}

	ix, err := index.Open(filepath.Join(store.Root(), "cuboids.db"))
	if err != nil {
		return nil, err
	}

	root, err := ix.Root(ctx, store.Root())
	if err != nil {
		_ = ix.Close()
		return nil, err
	}

	engine, err := cache.New(cache.Config{
		Blobs:           store,
		Index:           root,
		MaxCuboids:      o.maxCuboids,
		Codec:           o.codecOptions,
		MemoryCacheSize: o.memoryCacheSize,
		Logger:          o.logger.Logger,
		Metrics:         o.metricsCollector,
	})
	if err != nil {
		_ = ix.Close()
		return nil, err
	}

	return &Manager{
		origin:    origin,
		engine:    engine,
		ix:        ix,
		fillLimit: o.fillLimit,
		log:       o.logger,
	}, nil
}

// Close releases the metadata database. Blob files stay on disk for the
// next Open.
func (m *Manager) Close() error {
	return m.ix.Close()
}

// GetData implements DataManager.
func (m *Manager) GetData(ctx context.Context, channel string, resolution uint8, r grid.Range) ([]byte, error) {
	info, err := m.origin.ChannelMetadata(ctx, channel)
	if err != nil {
		return nil, err
	}
	if err := checkExtent(r, info); err != nil {
		return nil, err
	}

	out := make([]byte, r.Volume()*info.ElemSize)
	cells := grid.Cells(r, info.CuboidShape)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fillLimit)
	for _, cell := range cells {
		cell := cell
		g.Go(func() error {
			key := grid.Key(channel, resolution, cell.Coord)
			raw, err := m.engine.Get(gctx, key, shapeDims(info.CuboidShape), info.ElemSize,
				m.fill(channel, resolution, cell.Coord, info))
			if err != nil {
				return err
			}
			// Each cell writes a disjoint region of out, so no locking.
			gatherCell(out, r, cell, info.CuboidShape, info.ElemSize, raw)
			return nil
		})
	}
	err = g.Wait()

	m.log.LogGetData(ctx, channel, resolution, r, len(cells), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutData implements DataManager. Writes go through the cache and on to
// the origin; a partial cuboid is read, patched and written back whole.
func (m *Manager) PutData(ctx context.Context, channel string, resolution uint8, r grid.Range, payload []byte) error {
	info, err := m.origin.ChannelMetadata(ctx, channel)
	if err != nil {
		return err
	}
	if err := checkExtent(r, info); err != nil {
		return err
	}
	if want := r.Volume() * info.ElemSize; len(payload) != want {
		return &ErrPayloadSize{Expected: want, Actual: len(payload)}
	}

	cells := grid.Cells(r, info.CuboidShape)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.fillLimit)
	for _, cell := range cells {
		cell := cell
		g.Go(func() error {
			return m.putCell(gctx, channel, resolution, cell, info, r, payload)
		})
	}
	err = g.Wait()

	m.log.LogPutData(ctx, channel, resolution, r, len(cells), err)
	return err
}

// putCell writes one cell's share of the payload. A cell only partially
// covered by the request is read first so the untouched voxels survive.
func (m *Manager) putCell(ctx context.Context, channel string, resolution uint8, cell grid.Cell, info ChannelInfo, r grid.Range, payload []byte) error {
	key := grid.Key(channel, resolution, cell.Coord)
	shape := info.CuboidShape

	var block []byte
	if coversCuboid(cell, shape) {
		block = make([]byte, info.BlockBytes())
	} else {
		base, err := m.engine.Get(ctx, key, shapeDims(shape), info.ElemSize,
			m.fill(channel, resolution, cell.Coord, info))
		if err != nil {
			return err
		}
		block = base
	}
	scatterCell(block, payload, r, cell, shape, info.ElemSize)

	// Origin first: if the backing rejects the write (a read-only relay),
	// the cache must not diverge from it.
	if err := m.origin.WriteCuboid(ctx, channel, resolution, cell.Coord, info, block); err != nil {
		return err
	}
	return m.engine.Put(ctx, key, shapeDims(shape), info.ElemSize, block)
}

// ChannelMetadata implements DataManager.
func (m *Manager) ChannelMetadata(ctx context.Context, channel string) (ChannelInfo, error) {
	return m.origin.ChannelMetadata(ctx, channel)
}

// fill adapts the origin to the cache engine's miss callback.
func (m *Manager) fill(channel string, resolution uint8, coord grid.Point, info ChannelInfo) cache.FillFunc {
	return func(ctx context.Context) ([]byte, error) {
		return m.origin.ReadCuboid(ctx, channel, resolution, coord, info)
	}
}

func checkExtent(r grid.Range, info ChannelInfo) error {
	if info.Extent.Empty() {
		return nil
	}
	if !info.Extent.Contains(r) {
		return &ErrOutOfExtent{Requested: r, Extent: info.Extent}
	}
	return nil
}

func shapeDims(s grid.Shape) [3]int {
	return [3]int{s.X, s.Y, s.Z}
}

func coversCuboid(cell grid.Cell, shape grid.Shape) bool {
	return cell.Off == (grid.Point{}) &&
		cell.End == (grid.Point{X: shape.X, Y: shape.Y, Z: shape.Z})
}

// gatherCell copies the requested sub-block of one cuboid into its place
// in the request-shaped output buffer. Both buffers are C order (z, y, x).
func gatherCell(out []byte, r grid.Range, cell grid.Cell, shape grid.Shape, elem int, raw []byte) {
	base := grid.CellRange(cell.Coord, shape).Start
	rowLen := (cell.End.X - cell.Off.X) * elem
	dx0 := base.X + cell.Off.X - r.Start.X

	for lz := cell.Off.Z; lz < cell.End.Z; lz++ {
		dz := base.Z + lz - r.Start.Z
		for ly := cell.Off.Y; ly < cell.End.Y; ly++ {
			dy := base.Y + ly - r.Start.Y
			src := ((lz*shape.Y+ly)*shape.X + cell.Off.X) * elem
			dst := ((dz*r.Dy()+dy)*r.Dx() + dx0) * elem
			copy(out[dst:dst+rowLen], raw[src:src+rowLen])
		}
	}
}

// scatterCell is the inverse of gatherCell: it copies one cell's share of
// the request payload into the cuboid block.
func scatterCell(block []byte, payload []byte, r grid.Range, cell grid.Cell, shape grid.Shape, elem int) {
	base := grid.CellRange(cell.Coord, shape).Start
	rowLen := (cell.End.X - cell.Off.X) * elem
	sx0 := base.X + cell.Off.X - r.Start.X

	for lz := cell.Off.Z; lz < cell.End.Z; lz++ {
		sz := base.Z + lz - r.Start.Z
		for ly := cell.Off.Y; ly < cell.End.Y; ly++ {
			sy := base.Y + ly - r.Start.Y
			dst := ((lz*shape.Y+ly)*shape.X + cell.Off.X) * elem
			src := ((sz*r.Dy()+sy)*r.Dx() + sx0) * elem
			copy(block[dst:dst+rowLen], payload[src:src+rowLen])
		}
	}
}
