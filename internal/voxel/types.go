package voxel

import "fmt"

// BlockID is a namespace-qualified block type name, e.g. "vinox:grass".
type BlockID string

// Air is palette entry 0 of every chunk.
const Air BlockID = "air"

type Pos struct {
	X, Y, Z int
}

func (p Pos) Add(o Pos) Pos { return Pos{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z} }

func (p Pos) Scale(k int) Pos { return Pos{X: p.X * k, Y: p.Y * k, Z: p.Z * k} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// ChunkKey identifies a chunk in chunk coordinates.
type ChunkKey struct {
	CX int `json:"cx"`
	CY int `json:"cy"`
	CZ int `json:"cz"`
}

func (k ChunkKey) String() string { return fmt.Sprintf("%d_%d_%d", k.CX, k.CY, k.CZ) }

type Face uint8

const (
	PosX Face = iota
	NegX
	PosY
	NegY
	PosZ
	NegZ
)

// Faces lists all six directions in bucket order.
var Faces = [6]Face{PosX, NegX, PosY, NegY, PosZ, NegZ}

var faceOffsets = [6]Pos{
	PosX: {X: 1},
	NegX: {X: -1},
	PosY: {Y: 1},
	NegY: {Y: -1},
	PosZ: {Z: 1},
	NegZ: {Z: -1},
}

var faceNames = [6]string{"+x", "-x", "+y", "-y", "+z", "-z"}

func (f Face) Offset() Pos { return faceOffsets[f] }

// Axis is 0, 1 or 2 for X, Y, Z.
func (f Face) Axis() int { return int(f) / 2 }

func (f Face) Positive() bool { return f%2 == 0 }

func (f Face) Opposite() Face { return f ^ 1 }

func (f Face) String() string {
	if int(f) < len(faceNames) {
		return faceNames[f]
	}
	return fmt.Sprintf("face(%d)", uint8(f))
}
