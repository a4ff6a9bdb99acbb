package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"

	"voxelmesh.ai/internal/atlas"
	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/persistence/chunkfile"
	"voxelmesh.ai/internal/tuning"
	"voxelmesh.ai/internal/voxel"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "demo":
			demoCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "info":
			infoCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: meshtool demo|stats|info [flags]")
	os.Exit(2)
}

func demoCmd(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	out := fs.String("out", "./data/chunks", "output directory")
	size := fs.Int("size", 32, "chunk size")
	radius := fs.Int("radius", 1, "write chunks cx,cz in [-radius,radius] at cy=0")
	_ = fs.Parse(args)

	if err := os.MkdirAll(*out, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "mkdir:", err)
		os.Exit(1)
	}
	n := 0
	for cx := -*radius; cx <= *radius; cx++ {
		for cz := -*radius; cz <= *radius; cz++ {
			key := voxel.ChunkKey{CX: cx, CZ: cz}
			c, err := demoChunk(key, *size)
			if err != nil {
				fmt.Fprintln(os.Stderr, "demo:", err)
				os.Exit(1)
			}
			path := filepath.Join(*out, chunkfile.Name(key))
			if err := chunkfile.Write(path, key, c); err != nil {
				fmt.Fprintln(os.Stderr, "write:", err)
				os.Exit(1)
			}
			n++
		}
	}
	color.Green("wrote %d demo chunks to %s", n, *out)
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configDir := fs.String("configs", "./configs", "config directory")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: meshtool stats [-configs dir] <file.chunk.zst>...")
		os.Exit(2)
	}

	tune, err := tuning.Load(filepath.Join(*configDir, "mesher.yaml"))
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintln(os.Stderr, "tuning:", err)
			os.Exit(1)
		}
		tune = tuning.Defaults()
	}
	cat, err := catalogs.Load(filepath.Join(*configDir, "blocks.json"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "catalog:", err)
		os.Exit(1)
	}
	at, err := atlas.New(tune.Atlas.TileSize, tune.Atlas.Width, tune.Atlas.Height, cat)
	if err != nil {
		fmt.Fprintln(os.Stderr, "atlas:", err)
		os.Exit(1)
	}
	opts := mesh.Options{VoxelSize: tune.VoxelSize, UV: at}

	failed := false
	for _, path := range fs.Args() {
		if err := printStats(os.Stdout, path, cat, opts); err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

type chunkStats struct {
	Key              voxel.ChunkKey
	Size             int
	Palette          int
	OpaqueQuads      int
	TransparentQuads int
	Vertices         int
	Triangles        int
	Elapsed          time.Duration
}

func meshStats(path string, cat mesh.BlockCatalog, opts mesh.Options) (chunkStats, error) {
	key, c, err := chunkfile.Read(path)
	if err != nil {
		return chunkStats{}, err
	}
	start := time.Now()
	m, err := mesh.Build(c, cat, opts)
	if err != nil {
		return chunkStats{}, err
	}
	return chunkStats{
		Key:              key,
		Size:             c.Size(),
		Palette:          len(c.Palette()),
		OpaqueQuads:      m.Opaque.QuadCount(),
		TransparentQuads: m.Transparent.QuadCount(),
		Vertices:         m.Opaque.VertexCount() + m.Transparent.VertexCount(),
		Triangles:        (len(m.Opaque.Indices) + len(m.Transparent.Indices)) / 3,
		Elapsed:          time.Since(start),
	}, nil
}

func printStats(w io.Writer, path string, cat mesh.BlockCatalog, opts mesh.Options) error {
	s, err := meshStats(path, cat, opts)
	if err != nil {
		return err
	}
	head := color.New(color.FgCyan, color.Bold).SprintFunc()
	num := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(w, "%s %s size=%d palette=%d\n", head("chunk"), s.Key, s.Size, s.Palette)
	fmt.Fprintf(w, "  opaque quads      %s\n", num(s.OpaqueQuads))
	fmt.Fprintf(w, "  transparent quads %s\n", num(s.TransparentQuads))
	fmt.Fprintf(w, "  vertices          %s\n", num(s.Vertices))
	fmt.Fprintf(w, "  triangles         %s\n", num(s.Triangles))
	fmt.Fprintf(w, "  elapsed           %s\n", s.Elapsed.Round(time.Microsecond))
	return nil
}

func infoCmd(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	_ = fs.Parse(args)
	for _, path := range fs.Args() {
		h, err := chunkfile.ReadHeader(path)
		if err != nil {
			color.New(color.FgRed).Fprintf(os.Stderr, "%s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("%s v%d key=%s size=%d digest=%s\n", filepath.Base(path), h.Version, h.Key, h.Size, h.Digest)
	}
}
