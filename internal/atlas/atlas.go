package atlas

import (
	"fmt"

	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/voxel"
)

// TileSource maps a block face to a tile index in the atlas image.
type TileSource interface {
	TextureTile(id voxel.BlockID, f voxel.Face) (int, bool)
}

// Atlas is a grid of square tiles packed row-major into one image.
type Atlas struct {
	TileSize int
	Width    int
	Height   int

	tiles TileSource
}

func New(tileSize, width, height int, tiles TileSource) (*Atlas, error) {
	if tileSize <= 0 || width < tileSize || height < tileSize {
		return nil, fmt.Errorf("atlas: bad dimensions tile=%d image=%dx%d", tileSize, width, height)
	}
	if width%tileSize != 0 || height%tileSize != 0 {
		return nil, fmt.Errorf("atlas: image %dx%d is not a multiple of tile %d", width, height, tileSize)
	}
	return &Atlas{TileSize: tileSize, Width: width, Height: height, tiles: tiles}, nil
}

func (a *Atlas) TileCount() int {
	return (a.Width / a.TileSize) * (a.Height / a.TileSize)
}

// TileRect returns the UV rectangle of tile i.
func (a *Atlas) TileRect(i int) (mesh.Rect, bool) {
	if i < 0 || i >= a.TileCount() {
		return mesh.Rect{}, false
	}
	cols := a.Width / a.TileSize
	tx, ty := i%cols, i/cols
	w, h := float32(a.Width), float32(a.Height)
	return mesh.Rect{
		U0: float32(tx*a.TileSize) / w,
		V0: float32(ty*a.TileSize) / h,
		U1: float32((tx+1)*a.TileSize) / w,
		V1: float32((ty+1)*a.TileSize) / h,
	}, true
}

// FaceUV implements mesh.UVSource.
func (a *Atlas) FaceUV(id voxel.BlockID, f voxel.Face) (mesh.Rect, bool) {
	if a.tiles == nil {
		return mesh.Rect{}, false
	}
	i, ok := a.tiles.TextureTile(id, f)
	if !ok {
		return mesh.Rect{}, false
	}
	return a.TileRect(i)
}
