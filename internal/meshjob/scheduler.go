package meshjob

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/voxel"
)

var (
	ErrNotTracked = errors.New("chunk not tracked")
	ErrClosed     = errors.New("scheduler closed")
)

// Handle names one load of a chunk. Untracking and re-tracking a key yields
// a new generation, so results computed for the old load are discarded.
type Handle struct {
	Key voxel.ChunkKey
	Gen uint64
}

type Result struct {
	TaskID uuid.UUID
	Handle Handle
	Seq    uint64
	Digest [32]byte

	Mesh    *mesh.ChunkMesh
	Err     error
	Elapsed time.Duration
}

type Stats struct {
	Submitted uint64
	Applied   uint64
	Discarded uint64
	Failed    uint64
}

type Config struct {
	Workers      int
	ResultBuffer int
	Mesh         mesh.Options
}

type entry struct {
	gen    uint64
	latest uint64
}

// Scheduler meshes chunk snapshots on a worker pool and hands results back
// to the owning goroutine through Drain.
type Scheduler struct {
	log  *log.Logger
	cat  mesh.BlockCatalog
	opts mesh.Options

	ctx     context.Context
	cancel  context.CancelFunc
	pool    pond.Pool
	results chan Result

	mu      sync.Mutex
	live    map[voxel.ChunkKey]*entry
	nextGen uint64
	nextSeq uint64
	closed  bool

	submitted atomic.Uint64
	applied   atomic.Uint64
	discarded atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, cat mesh.BlockCatalog, logger *log.Logger) *Scheduler {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ResultBuffer < 1 {
		cfg.ResultBuffer = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:     logger,
		cat:     cat,
		opts:    cfg.Mesh,
		ctx:     ctx,
		cancel:  cancel,
		pool:    pond.NewPool(cfg.Workers, pond.WithContext(ctx)),
		results: make(chan Result, cfg.ResultBuffer),
		live:    map[voxel.ChunkKey]*entry{},
	}
}

// Track marks key as loaded and returns its current handle.
func (s *Scheduler) Track(key voxel.ChunkKey) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.live[key]; ok {
		return Handle{Key: key, Gen: e.gen}
	}
	s.nextGen++
	s.live[key] = &entry{gen: s.nextGen}
	return Handle{Key: key, Gen: s.nextGen}
}

// Untrack marks key as unloaded. In-flight results for it are dropped on arrival.
func (s *Scheduler) Untrack(key voxel.ChunkKey) {
	s.mu.Lock()
	delete(s.live, key)
	s.mu.Unlock()
}

func (s *Scheduler) Tracked(key voxel.ChunkKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[key]
	return ok
}

// Submit snapshots c and queues it for meshing. Later mutation of c is not
// observed by the task. A newer Submit for the same key supersedes older ones.
func (s *Scheduler) Submit(key voxel.ChunkKey, c *voxel.Chunk) (uuid.UUID, error) {
	snap := c.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return uuid.Nil, ErrClosed
	}
	e, ok := s.live[key]
	if !ok {
		return uuid.Nil, fmt.Errorf("submit %s: %w", key, ErrNotTracked)
	}
	s.nextSeq++
	e.latest = s.nextSeq
	h := Handle{Key: key, Gen: e.gen}
	seq := s.nextSeq

	id := uuid.New()
	s.submitted.Add(1)
	s.pool.Submit(func() {
		s.run(id, h, seq, snap)
	})
	return id, nil
}

func (s *Scheduler) run(id uuid.UUID, h Handle, seq uint64, snap *voxel.Chunk) {
	if s.ctx.Err() != nil {
		return
	}
	start := time.Now()
	m, err := mesh.Build(snap, s.cat, s.opts)
	r := Result{
		TaskID:  id,
		Handle:  h,
		Seq:     seq,
		Digest:  snap.Digest(),
		Mesh:    m,
		Err:     err,
		Elapsed: time.Since(start),
	}
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}

// Results exposes completed tasks for select loops. Pass each one to Accept.
func (s *Scheduler) Results() <-chan Result { return s.results }

// Accept reports whether r is still wanted: its chunk is tracked under the
// same generation and no newer submission exists for it.
func (s *Scheduler) Accept(r Result) bool {
	s.mu.Lock()
	e, ok := s.live[r.Handle.Key]
	fresh := ok && e.gen == r.Handle.Gen && e.latest == r.Seq
	s.mu.Unlock()

	if !fresh {
		s.discarded.Add(1)
		return false
	}
	if r.Err != nil {
		s.failed.Add(1)
		if s.log != nil {
			s.log.Printf("mesh %s failed: %v", r.Handle.Key, r.Err)
		}
		return false
	}
	s.applied.Add(1)
	return true
}

// Drain applies every result that is ready without blocking and returns how
// many were applied. It must be called from the goroutine that owns the
// published meshes.
func (s *Scheduler) Drain(apply func(Result)) int {
	n := 0
	for {
		select {
		case r, ok := <-s.results:
			if !ok {
				return n
			}
			if s.Accept(r) {
				apply(r)
				n++
			}
		default:
			return n
		}
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Submitted: s.submitted.Load(),
		Applied:   s.applied.Load(),
		Discarded: s.discarded.Load(),
		Failed:    s.failed.Load(),
	}
}

// Close abandons queued work and waits for running tasks to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.pool.StopAndWait()
	close(s.results)
}
