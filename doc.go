// Package voxgo provides a chunked caching layer for very large
// volumetric (voxel) datasets.
//
// Datasets are addressed as axis-aligned subvolumes of a 3D voxel space.
// Internally the space is divided into fixed-size cuboids (512x512x16 by
// default); every request is decomposed onto that grid, each cuboid is
// served from a local cache, and the pieces are assembled into one
// contiguous block. Cuboids missing from the cache are materialized from
// an Origin: a directory of chunk files, an S3/MinIO bucket, or a remote
// cutout service.
//
// The cache is persistent and bounded: compressed cuboid blobs live in a
// sharded directory tree, their usage metadata in a SQLite database next
// to them, and once the configured capacity is exceeded the least
// recently used cuboids are evicted synchronously.
//
// # Quick Start
//
// Serve a channel from a remote cutout service through a local cache:
//
//	ctx := context.Background()
//
//	client := remote.NewClient("https://api.bossdb.io",
//	    remote.WithToken(os.Getenv("BOSS_TOKEN")))
//	origin := voxgo.NewRelayOrigin(client, voxgo.ChannelInfo{
//	    Name:     "kasthuri11/image",
//	    ElemSize: 1,
//	})
//
//	dm, err := voxgo.Open(ctx, origin, "/var/cache/voxgo",
//	    voxgo.WithMaxCuboids(4096),
//	    voxgo.WithMemoryCacheSize(64),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dm.Close()
//
//	data, err := dm.GetData(ctx, "kasthuri11/image", 0, grid.Range{
//	    Start: grid.Point{X: 1024, Y: 1024, Z: 16},
//	    Stop:  grid.Point{X: 1536, Y: 1536, Z: 32},
//	})
//
// The result is raw voxel bytes in C order (z outermost, then y, then x).
// Writable origins (files, object storage) also support PutData; writes
// go through the cache and on to the origin.
//
// # Origins
//
//   - FileOrigin: raw chunk files under a directory.
//   - ObjectOrigin: chunk objects in any BlobStore (S3, MinIO, memory).
//   - RelayOrigin: a remote cutout service; read-only.
//   - NullOrigin: holds nothing; terminal layer for chains and tests.
//
// Origins compose with NewChain: a read that misses one layer falls
// through to the next.
package voxgo
