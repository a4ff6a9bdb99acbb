package indexdb

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/tuning"
	"voxelmesh.ai/internal/voxel"
)

func TestSQLiteIndex_RecordMesh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "index.db")

	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	key := voxel.ChunkKey{CX: 2, CY: 0, CZ: -1}
	idx.RecordMesh(MeshRun{Key: key, Digest: "aaa", TaskID: "t1", OpaqueQuads: 6, Vertices: 24, Indices: 36, Elapsed: 3 * time.Millisecond})
	idx.RecordMesh(MeshRun{Key: key, Digest: "bbb", TaskID: "t2", OpaqueQuads: 10, Vertices: 40, Indices: 60})
	idx.RecordMesh(MeshRun{Key: voxel.ChunkKey{CX: 9}, Digest: "ccc", TaskID: "t3"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	idx.RecordMesh(MeshRun{Key: key, Digest: "late"}) // ignored after Close

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()

	var (
		quads   int
		verts   int
		elapsed int64
	)
	row := db.QueryRow(`SELECT opaque_quads,vertices,elapsed_us FROM mesh_runs WHERE task_id='t1'`)
	if err := row.Scan(&quads, &verts, &elapsed); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if quads != 6 || verts != 24 || elapsed != 3000 {
		t.Fatalf("unexpected row: quads=%d verts=%d elapsed=%d", quads, verts, elapsed)
	}
}

func TestSQLiteIndex_LastDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	key := voxel.ChunkKey{CX: 1}
	idx.RecordMesh(MeshRun{Key: key, Digest: "old"})
	idx.RecordMesh(MeshRun{Key: key, Digest: "new"})
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	d, ok, err := idx.LastDigest(ctx, key)
	if err != nil || !ok || d != "new" {
		t.Fatalf("LastDigest: got %q,%v,%v want new", d, ok, err)
	}
	if _, ok, err := idx.LastDigest(ctx, voxel.ChunkKey{CZ: 5}); err != nil || ok {
		t.Fatalf("LastDigest(missing): got %v,%v", ok, err)
	}
	n, err := idx.CountRuns(ctx)
	if err != nil || n != 2 {
		t.Fatalf("CountRuns: got %d,%v want 2", n, err)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	dir := t.TempDir()
	blocks := filepath.Join(dir, "blocks.json")
	raw := []byte(`[{"id":"vinox:stone","visibility":"opaque"}]`)
	if err := os.WriteFile(blocks, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cat, err := catalogs.Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	path := filepath.Join(dir, "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := idx.UpsertCatalogs(blocks, cat, tuning.Defaults()); err != nil {
		t.Fatalf("UpsertCatalogs: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var digest string
	if err := db.QueryRow(`SELECT digest FROM catalogs WHERE name='blocks'`).Scan(&digest); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if digest != cat.Digest {
		t.Fatalf("digest: got %q want %q", digest, cat.Digest)
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM catalogs WHERE name='tuning'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("tuning row: got %d,%v", n, err)
	}
}

func TestSQLiteIndex_RecordDuringClose(t *testing.T) {
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				idx.RecordMesh(MeshRun{Key: voxel.ChunkKey{CX: w}, Digest: "d"})
			}
		}(w)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	wg.Wait()
}
