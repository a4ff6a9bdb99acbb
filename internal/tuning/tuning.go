package tuning

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"voxelmesh.ai/internal/voxel"
)

type Tuning struct {
	ChunkSize int     `yaml:"chunk_size"`
	VoxelSize float32 `yaml:"voxel_size"`

	Meshing Meshing `yaml:"meshing"`
	Atlas   Atlas   `yaml:"atlas"`
	Stream  Stream  `yaml:"stream"`
}

type Meshing struct {
	Workers       int `yaml:"workers"`
	ResultBuffer  int `yaml:"result_buffer"`
	RescanEveryMs int `yaml:"rescan_every_ms"`
	DrainEveryMs  int `yaml:"drain_every_ms"`
}

type Atlas struct {
	TileSize int `yaml:"tile_size"`
	Width    int `yaml:"width"`
	Height   int `yaml:"height"`
}

type Stream struct {
	MaxViewers   int `yaml:"max_viewers"`
	ViewerBuffer int `yaml:"viewer_buffer"`
}

func Defaults() Tuning {
	return Tuning{
		ChunkSize: 32,
		VoxelSize: 1,
		Meshing: Meshing{
			Workers:       runtime.NumCPU(),
			ResultBuffer:  256,
			RescanEveryMs: 2000,
			DrainEveryMs:  50,
		},
		Atlas: Atlas{TileSize: 16, Width: 256, Height: 256},
		Stream: Stream{
			MaxViewers:   64,
			ViewerBuffer: 256,
		},
	}
}

// Load reads mesher.yaml over Defaults; unset keys keep their default.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("mesher.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("mesher.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.ChunkSize < 1 || t.ChunkSize > voxel.MaxSize {
		return fmt.Errorf("chunk_size %d not in 1..%d", t.ChunkSize, voxel.MaxSize)
	}
	if t.VoxelSize <= 0 {
		return fmt.Errorf("voxel_size must be > 0")
	}
	if t.Meshing.Workers < 1 {
		return fmt.Errorf("meshing.workers must be >= 1")
	}
	if t.Meshing.ResultBuffer < 1 {
		return fmt.Errorf("meshing.result_buffer must be >= 1")
	}
	if t.Meshing.RescanEveryMs < 0 || t.Meshing.DrainEveryMs < 1 {
		return fmt.Errorf("meshing intervals out of range")
	}
	if t.Atlas.TileSize < 1 || t.Atlas.Width < t.Atlas.TileSize || t.Atlas.Height < t.Atlas.TileSize {
		return fmt.Errorf("atlas dimensions out of range")
	}
	if t.Stream.MaxViewers < 1 || t.Stream.ViewerBuffer < 1 {
		return fmt.Errorf("stream limits must be >= 1")
	}
	return nil
}
