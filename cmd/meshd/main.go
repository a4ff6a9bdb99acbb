package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"voxelmesh.ai/internal/atlas"
	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/meshjob"
	"voxelmesh.ai/internal/persistence/indexdb"
	"voxelmesh.ai/internal/transport/meshws"
	"voxelmesh.ai/internal/tuning"
	"voxelmesh.ai/internal/voxel"
)

func main() {
	var (
		addr        = flag.String("addr", ":8081", "http listen address")
		configDir   = flag.String("configs", "./configs", "config directory")
		tuningPath  = flag.String("tuning", "", "path to mesher.yaml (default: <configs>/mesher.yaml)")
		catalogPath = flag.String("catalog", "", "path to blocks.json (default: <configs>/blocks.json)")
		chunksDir   = flag.String("chunks", "./data/chunks", "directory of *.chunk.zst files to mesh")
		dataDir     = flag.String("data", "./data", "runtime data directory")
		disableDB   = flag.Bool("disable_db", false, "disable the sqlite mesh run index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[meshd] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "mesher.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	cp := strings.TrimSpace(*catalogPath)
	if cp == "" {
		cp = filepath.Join(*configDir, "blocks.json")
	}
	cat, err := catalogs.Load(cp)
	if err != nil {
		logger.Fatalf("load catalog: %v", err)
	}

	at, err := atlas.New(tune.Atlas.TileSize, tune.Atlas.Width, tune.Atlas.Height, cat)
	if err != nil {
		logger.Fatalf("atlas: %v", err)
	}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "mesher.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cp, cat, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	sched := meshjob.New(meshjob.Config{
		Workers:      tune.Meshing.Workers,
		ResultBuffer: tune.Meshing.ResultBuffer,
		Mesh:         mesh.Options{VoxelSize: tune.VoxelSize, UV: at},
	}, cat, logger)
	defer sched.Close()

	var d *daemon
	stream := meshws.NewServer(meshws.Config{
		ChunkSize:     tune.ChunkSize,
		VoxelSize:     tune.VoxelSize,
		CatalogDigest: cat.Digest,
		Blocks:        cat.IDs,
		MaxViewers:    tune.Stream.MaxViewers,
		ViewerBuffer:  tune.Stream.ViewerBuffer,
		Loaded:        func() []voxel.ChunkKey { return d.loaded() },
	}, logger)
	d = newDaemon(logger, tune.ChunkSize, newChunkDir(*chunksDir), sched, stream, idx)

	ctx, cancel := signalContext()
	defer cancel()

	// runLoop must stop before the deferred scheduler and index closes run.
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runLoop(ctx, d, tune, logger)
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(r.Context(), rw, sched.Stats(), len(d.loaded()), stream, idx)
	})
	mux.HandleFunc("/v1/bootstrap", stream.BootstrapHandler())
	mux.HandleFunc("/v1/ws", stream.WSHandler())
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(sched.Stats())
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("meshing %s (chunk=%d workers=%d) listening on %s", *chunksDir, tune.ChunkSize, tune.Meshing.Workers, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	cancel()
	<-loopDone
}

// runLoop rescans the chunk directory and publishes finished meshes until ctx ends.
func runLoop(ctx context.Context, d *daemon, tune tuning.Tuning, logger *log.Logger) {
	// rescan_every_ms 0 scans once at startup.
	var rescanC <-chan time.Time
	if tune.Meshing.RescanEveryMs > 0 {
		rescan := time.NewTicker(time.Duration(tune.Meshing.RescanEveryMs) * time.Millisecond)
		defer rescan.Stop()
		rescanC = rescan.C
	}
	drain := time.NewTicker(time.Duration(tune.Meshing.DrainEveryMs) * time.Millisecond)
	defer drain.Stop()

	scan := func() {
		sub, unl, err := d.rescan()
		if err != nil {
			logger.Printf("rescan: %v", err)
			return
		}
		if sub > 0 || unl > 0 {
			logger.Printf("rescan: submitted=%d unloaded=%d", sub, unl)
		}
	}
	scan()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rescanC:
			scan()
		case <-drain.C:
			d.drain()
		}
	}
}

func writeMetrics(ctx context.Context, rw http.ResponseWriter, s meshjob.Stats, loaded int, stream *meshws.Server, idx *indexdb.SQLiteIndex) {
	fmt.Fprintf(rw, "# HELP voxelmesh_tasks_total Meshing tasks by outcome.\n")
	fmt.Fprintf(rw, "# TYPE voxelmesh_tasks_total counter\n")
	fmt.Fprintf(rw, "voxelmesh_tasks_total{outcome=%q} %d\n", "submitted", s.Submitted)
	fmt.Fprintf(rw, "voxelmesh_tasks_total{outcome=%q} %d\n", "applied", s.Applied)
	fmt.Fprintf(rw, "voxelmesh_tasks_total{outcome=%q} %d\n", "discarded", s.Discarded)
	fmt.Fprintf(rw, "voxelmesh_tasks_total{outcome=%q} %d\n", "failed", s.Failed)

	fmt.Fprintf(rw, "# HELP voxelmesh_loaded_chunks Chunks with a published mesh.\n")
	fmt.Fprintf(rw, "# TYPE voxelmesh_loaded_chunks gauge\n")
	fmt.Fprintf(rw, "voxelmesh_loaded_chunks %d\n", loaded)

	fmt.Fprintf(rw, "# HELP voxelmesh_viewers Connected viewers.\n")
	fmt.Fprintf(rw, "# TYPE voxelmesh_viewers gauge\n")
	fmt.Fprintf(rw, "voxelmesh_viewers %d\n", stream.Viewers())

	fmt.Fprintf(rw, "# HELP voxelmesh_dropped_total Messages dropped because a consumer fell behind.\n")
	fmt.Fprintf(rw, "# TYPE voxelmesh_dropped_total counter\n")
	fmt.Fprintf(rw, "voxelmesh_dropped_total{sink=%q} %d\n", "viewers", stream.Dropped())
	if idx == nil {
		return
	}
	fmt.Fprintf(rw, "voxelmesh_dropped_total{sink=%q} %d\n", "index", idx.Dropped())

	if n, err := idx.CountRuns(ctx); err == nil {
		fmt.Fprintf(rw, "# HELP voxelmesh_index_runs Mesh runs stored in the index.\n")
		fmt.Fprintf(rw, "# TYPE voxelmesh_index_runs gauge\n")
		fmt.Fprintf(rw, "voxelmesh_index_runs %d\n", n)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
