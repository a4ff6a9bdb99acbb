package main

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/meshjob"
	"voxelmesh.ai/internal/persistence/chunkfile"
	"voxelmesh.ai/internal/persistence/indexdb"
	"voxelmesh.ai/internal/voxel"
)

type recordingPublisher struct {
	mu       sync.Mutex
	meshes   map[voxel.ChunkKey]*mesh.ChunkMesh
	unloaded []voxel.ChunkKey
}

func (p *recordingPublisher) PublishMesh(key voxel.ChunkKey, _ [32]byte, cm *mesh.ChunkMesh) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.meshes == nil {
		p.meshes = map[voxel.ChunkKey]*mesh.ChunkMesh{}
	}
	p.meshes[key] = cm
}

func (p *recordingPublisher) PublishUnload(key voxel.ChunkKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unloaded = append(p.unloaded, key)
}

func testDaemon(t *testing.T, idx *indexdb.SQLiteIndex) (*daemon, *recordingPublisher, string) {
	t.Helper()
	dir := t.TempDir()
	d, pub := newTestDaemon(t, dir, idx)
	return d, pub, dir
}

func newTestDaemon(t *testing.T, dir string, idx *indexdb.SQLiteIndex) (*daemon, *recordingPublisher) {
	t.Helper()
	cat, err := catalogs.Parse([]byte(`[{"id":"vinox:stone","visibility":"opaque"}]`))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	logger := log.New(io.Discard, "", 0)
	sched := meshjob.New(meshjob.Config{Workers: 2, ResultBuffer: 8}, cat, logger)
	t.Cleanup(sched.Close)

	pub := &recordingPublisher{}
	return newDaemon(logger, 4, newChunkDir(dir), sched, pub, idx), pub
}

func writeChunk(t *testing.T, dir string, key voxel.ChunkKey, size int, solid []voxel.Pos) {
	t.Helper()
	c, err := voxel.New(size)
	if err != nil {
		t.Fatalf("voxel.New: %v", err)
	}
	if _, err := c.EnsurePaletteEntry("vinox:stone"); err != nil {
		t.Fatalf("EnsurePaletteEntry: %v", err)
	}
	for _, p := range solid {
		if err := c.SetBlock(p, "vinox:stone"); err != nil {
			t.Fatalf("SetBlock: %v", err)
		}
	}
	if err := chunkfile.Write(filepath.Join(dir, chunkfile.Name(key)), key, c); err != nil {
		t.Fatalf("chunkfile.Write: %v", err)
	}
}

func drainUntil(t *testing.T, d *daemon, n int) {
	t.Helper()
	got := 0
	deadline := time.Now().Add(5 * time.Second)
	for got < n {
		if time.Now().After(deadline) {
			t.Fatalf("applied %d results, want %d", got, n)
		}
		got += d.drain()
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDaemonMeshesAndUnloads(t *testing.T) {
	d, pub, dir := testDaemon(t, nil)
	a := voxel.ChunkKey{CX: 0}
	b := voxel.ChunkKey{CX: 1}
	writeChunk(t, dir, a, 4, []voxel.Pos{{X: 2, Y: 2, Z: 2}})
	writeChunk(t, dir, b, 4, nil)

	sub, unl, err := d.rescan()
	if err != nil || sub != 2 || unl != 0 {
		t.Fatalf("rescan: sub=%d unl=%d err=%v", sub, unl, err)
	}
	drainUntil(t, d, 2)

	pub.mu.Lock()
	if got := pub.meshes[a].Opaque.QuadCount(); got != 6 {
		t.Fatalf("chunk a: got %d quads want 6", got)
	}
	if !pub.meshes[b].Opaque.Empty() {
		t.Fatalf("chunk b should mesh empty")
	}
	pub.mu.Unlock()
	if got := d.loaded(); len(got) != 2 {
		t.Fatalf("loaded: %v", got)
	}

	// Unchanged files are not resubmitted.
	if sub, _, _ := d.rescan(); sub != 0 {
		t.Fatalf("second rescan submitted %d", sub)
	}

	if err := os.Remove(filepath.Join(dir, chunkfile.Name(b))); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, unl, _ := d.rescan(); unl != 1 {
		t.Fatalf("unloaded %d want 1", unl)
	}
	pub.mu.Lock()
	if len(pub.unloaded) != 1 || pub.unloaded[0] != b {
		t.Fatalf("unloads: %v", pub.unloaded)
	}
	pub.mu.Unlock()
	if got := d.loaded(); len(got) != 1 || got[0] != a {
		t.Fatalf("loaded after unload: %v", got)
	}
}

func TestDaemonRejectsWrongChunkSize(t *testing.T) {
	d, _, dir := testDaemon(t, nil)
	writeChunk(t, dir, voxel.ChunkKey{CZ: 3}, 6, nil)
	sub, _, err := d.rescan()
	if err != nil {
		t.Fatalf("rescan: %v", err)
	}
	if sub != 0 {
		t.Fatalf("mismatched chunk size should not be submitted")
	}
}

func TestDaemonRecordsRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	idx, err := indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	d, _, dir := testDaemon(t, idx)
	key := voxel.ChunkKey{CY: -1}
	writeChunk(t, dir, key, 4, []voxel.Pos{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 1, Z: 1}})
	if _, _, err := d.rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	drainUntil(t, d, 1)
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = indexdb.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	n, err := idx.CountRuns(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("runs: got %d,%v want 1", n, err)
	}
}

func TestDaemonUnloadsCorruptThenDeletedChunk(t *testing.T) {
	d, pub, dir := testDaemon(t, nil)
	key := voxel.ChunkKey{CX: 1}
	path := filepath.Join(dir, chunkfile.Name(key))
	writeChunk(t, dir, key, 4, []voxel.Pos{{X: 1, Y: 1, Z: 1}})
	if _, _, err := d.rescan(); err != nil {
		t.Fatalf("rescan: %v", err)
	}
	drainUntil(t, d, 1)

	if err := os.WriteFile(path, []byte("not a chunk file at all"), 0o644); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	for i := 0; i < 2; i++ {
		if sub, unl, err := d.rescan(); err != nil || sub != 0 || unl != 0 {
			t.Fatalf("rescan of corrupt file: sub=%d unl=%d err=%v", sub, unl, err)
		}
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, unl, err := d.rescan(); err != nil || unl != 1 {
		t.Fatalf("rescan after delete: unl=%d err=%v", unl, err)
	}
	if d.sched.Tracked(key) {
		t.Fatalf("deleted chunk still tracked")
	}
	if got := d.loaded(); len(got) != 0 {
		t.Fatalf("deleted chunk still loaded: %v", got)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.unloaded) != 1 || pub.unloaded[0] != key {
		t.Fatalf("unloads: %v", pub.unloaded)
	}
}

func TestDaemonSkipsIndexingUnchangedChunks(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "index.sqlite")
	dir := t.TempDir()
	writeChunk(t, dir, voxel.ChunkKey{}, 4, []voxel.Pos{{X: 2, Y: 2, Z: 2}})

	run := func(wantApplied int) {
		t.Helper()
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		d, pub := newTestDaemon(t, dir, idx)
		if _, _, err := d.rescan(); err != nil {
			t.Fatalf("rescan: %v", err)
		}
		drainUntil(t, d, wantApplied)
		if err := idx.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
		pub.mu.Lock()
		n := len(pub.meshes)
		pub.mu.Unlock()
		if n != wantApplied {
			t.Fatalf("published %d meshes want %d", n, wantApplied)
		}
	}
	count := func() int {
		t.Helper()
		idx, err := indexdb.OpenSQLite(dbPath)
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		defer idx.Close()
		n, err := idx.CountRuns(context.Background())
		if err != nil {
			t.Fatalf("CountRuns: %v", err)
		}
		return n
	}

	run(1)
	if n := count(); n != 1 {
		t.Fatalf("runs after first start: %d want 1", n)
	}

	// A restart still meshes and publishes, but records only new content.
	writeChunk(t, dir, voxel.ChunkKey{CX: 1}, 4, nil)
	run(2)
	if n := count(); n != 2 {
		t.Fatalf("runs after restart: %d want 2", n)
	}
}
