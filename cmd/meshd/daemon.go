package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/meshjob"
	"voxelmesh.ai/internal/persistence/chunkfile"
	"voxelmesh.ai/internal/persistence/indexdb"
	"voxelmesh.ai/internal/voxel"
)

// publisher receives applied meshes and unloads.
type publisher interface {
	PublishMesh(key voxel.ChunkKey, digest [32]byte, cm *mesh.ChunkMesh)
	PublishUnload(key voxel.ChunkKey)
}

// daemon owns the loaded chunk set. rescan and drain run on one goroutine;
// loaded may be called from HTTP handlers.
type daemon struct {
	log       *log.Logger
	chunkSize int
	dir       *chunkDir
	sched     *meshjob.Scheduler
	pub       publisher
	idx       *indexdb.SQLiteIndex

	mu     sync.RWMutex
	meshed map[voxel.ChunkKey][32]byte
	queued map[voxel.ChunkKey][32]byte

	// indexed caches the newest digest recorded per key; drain goroutine only.
	indexed map[voxel.ChunkKey]string
}

func newDaemon(logger *log.Logger, chunkSize int, dir *chunkDir, sched *meshjob.Scheduler, pub publisher, idx *indexdb.SQLiteIndex) *daemon {
	return &daemon{
		log:       logger,
		chunkSize: chunkSize,
		dir:       dir,
		sched:     sched,
		pub:       pub,
		idx:       idx,
		meshed:    map[voxel.ChunkKey][32]byte{},
		queued:    map[voxel.ChunkKey][32]byte{},
		indexed:   map[voxel.ChunkKey]string{},
	}
}

// rescan loads new or changed chunk files and unloads deleted ones. It
// returns the number of submitted and unloaded chunks.
func (d *daemon) rescan() (submitted, unloaded int, err error) {
	changed, removed, err := d.dir.scan()
	if err != nil {
		return 0, 0, fmt.Errorf("scan %s: %w", d.dir.dir, err)
	}
	for _, ref := range changed {
		ok, err := d.load(ref)
		if err != nil {
			d.log.Printf("load %s: %v", ref.Path, err)
			continue
		}
		if ok {
			submitted++
		}
	}
	for _, key := range removed {
		d.unload(key)
		unloaded++
	}
	return submitted, unloaded, nil
}

func (d *daemon) load(ref chunkRef) (bool, error) {
	key, c, err := chunkfile.Read(ref.Path)
	if err != nil {
		// Possibly mid-write; retry on the next scan.
		d.dir.retry(ref.Key)
		return false, err
	}
	if key != ref.Key {
		return false, fmt.Errorf("header key %s does not match file name", key)
	}
	if d.chunkSize > 0 && c.Size() != d.chunkSize {
		return false, fmt.Errorf("chunk size %d, want %d", c.Size(), d.chunkSize)
	}

	digest := c.Digest()
	d.mu.Lock()
	same := d.queued[key] == digest
	if !same {
		d.queued[key] = digest
	}
	d.mu.Unlock()
	if same && d.sched.Tracked(key) {
		return false, nil
	}

	d.sched.Track(key)
	if _, err := d.sched.Submit(key, c); err != nil {
		return false, err
	}
	return true, nil
}

func (d *daemon) unload(key voxel.ChunkKey) {
	d.sched.Untrack(key)
	d.mu.Lock()
	delete(d.queued, key)
	delete(d.meshed, key)
	d.mu.Unlock()
	d.pub.PublishUnload(key)
}

// drain publishes every result that is ready.
func (d *daemon) drain() int {
	return d.sched.Drain(d.apply)
}

func (d *daemon) apply(r meshjob.Result) {
	key := r.Handle.Key
	d.mu.Lock()
	d.meshed[key] = r.Digest
	d.mu.Unlock()

	d.pub.PublishMesh(key, r.Digest, r.Mesh)

	digest := fmt.Sprintf("%x", r.Digest[:])
	if d.idx != nil && d.lastIndexed(key) != digest {
		run := indexdb.MeshRun{
			Key:     key,
			Digest:  digest,
			TaskID:  r.TaskID.String(),
			Elapsed: r.Elapsed,
		}
		if r.Mesh != nil {
			run.OpaqueQuads = r.Mesh.Opaque.QuadCount()
			run.TransparentQuads = r.Mesh.Transparent.QuadCount()
			run.Vertices = r.Mesh.Opaque.VertexCount() + r.Mesh.Transparent.VertexCount()
			run.Indices = len(r.Mesh.Opaque.Indices) + len(r.Mesh.Transparent.Indices)
		}
		d.idx.RecordMesh(run)
		d.indexed[key] = digest
	}
}

// lastIndexed returns the digest of the newest run recorded for key, asking
// the index once per key so restarts do not record unchanged chunks again.
func (d *daemon) lastIndexed(key voxel.ChunkKey) string {
	if dg, ok := d.indexed[key]; ok {
		return dg
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	dg, _, err := d.idx.LastDigest(ctx, key)
	if err != nil {
		d.log.Printf("index: last digest %s: %v", key, err)
		return ""
	}
	d.indexed[key] = dg
	return dg
}

// loaded lists chunks that have a published mesh.
func (d *daemon) loaded() []voxel.ChunkKey {
	d.mu.RLock()
	out := make([]voxel.ChunkKey, 0, len(d.meshed))
	for k := range d.meshed {
		out = append(out, k)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
