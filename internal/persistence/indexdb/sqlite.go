package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/tuning"
	"voxelmesh.ai/internal/voxel"
)

// MeshRun is one applied meshing result.
type MeshRun struct {
	Key              voxel.ChunkKey
	Digest           string
	TaskID           string
	OpaqueQuads      int
	TransparentQuads int
	Vertices         int
	Indices          int
	Elapsed          time.Duration
	RecordedAt       time.Time
}

// SQLiteIndex is a secondary read model of meshing activity. Writes are
// queued and batched on a single writer goroutine; a full queue drops rows.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan MeshRun
	wg   sync.WaitGroup
	once sync.Once

	// mu orders RecordMesh sends against Close closing ch.
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan MeshRun, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS mesh_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cx INTEGER NOT NULL,
			cy INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			digest TEXT NOT NULL,
			task_id TEXT NOT NULL,
			opaque_quads INTEGER NOT NULL,
			transparent_quads INTEGER NOT NULL,
			vertices INTEGER NOT NULL,
			indices INTEGER NOT NULL,
			elapsed_us INTEGER NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_mesh_runs_chunk ON mesh_runs(cx, cy, cz, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordMesh queues a run for insertion; it never blocks the caller.
func (s *SQLiteIndex) RecordMesh(r MeshRun) {
	if s == nil {
		return
	}
	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

// UpsertCatalogs stores the block catalog and effective tuning the daemon runs with.
func (s *SQLiteIndex) UpsertCatalogs(blocksPath string, cat *catalogs.BlockCatalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, err := os.ReadFile(blocksPath); err == nil && len(b) > 0 {
		rows = append(rows, kv{name: "blocks", digest: cat.Digest, json: b})
	}
	{
		b, _ := json.Marshal(tune)
		rows = append(rows, kv{name: "tuning", digest: digestHex(b), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LastDigest returns the chunk digest of the most recent run for key.
func (s *SQLiteIndex) LastDigest(ctx context.Context, key voxel.ChunkKey) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx,
		`SELECT digest FROM mesh_runs WHERE cx=? AND cy=? AND cz=? ORDER BY id DESC LIMIT 1`,
		key.CX, key.CY, key.CZ,
	).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

func (s *SQLiteIndex) CountRuns(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mesh_runs`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT INTO mesh_runs(cx,cy,cz,digest,task_id,opaque_quads,transparent_quads,vertices,indices,elapsed_us,recorded_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertRun != nil {
			_ = insertRun.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 256
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		begin()
		if tx == nil || insertRun == nil {
			continue
		}
		if _, err := tx.Stmt(insertRun).Exec(
			r.Key.CX, r.Key.CY, r.Key.CZ,
			r.Digest,
			r.TaskID,
			r.OpaqueQuads,
			r.TransparentQuads,
			r.Vertices,
			r.Indices,
			r.Elapsed.Microseconds(),
			r.RecordedAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}

func digestHex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
