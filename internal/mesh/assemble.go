package mesh

import (
	"github.com/go-gl/mathgl/mgl32"

	"voxelmesh.ai/internal/voxel"
)

// Rect is a UV rectangle; (U0,V0) is the top-left of the texture tile.
type Rect struct {
	U0, V0, U1, V1 float32
}

// DefaultRect covers the whole texture.
var DefaultRect = Rect{U0: 0, V0: 0, U1: 1, V1: 1}

// UVSource resolves the texture rectangle for one face of a block type.
type UVSource interface {
	FaceUV(id voxel.BlockID, f voxel.Face) (Rect, bool)
}

type Options struct {
	VoxelSize float32
	UV        UVSource // nil uses DefaultRect for every face
}

func (o Options) voxelSize() float32 {
	if o.VoxelSize <= 0 {
		return 1
	}
	return o.VoxelSize
}

func vec(p voxel.Pos) mgl32.Vec3 {
	return mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}
}

// Assemble expands quads into vertices and indices. Voxel (1,1,1), the first
// interior cell, has its minimum corner at the mesh origin.
func Assemble(qs QuadSet, opts Options) *Mesh {
	n := qs.Len()
	m := &Mesh{
		Positions: make([]mgl32.Vec3, 0, n*4),
		Normals:   make([]mgl32.Vec3, 0, n*4),
		UVs:       make([]mgl32.Vec2, 0, n*4),
		Colors:    make([]mgl32.Vec4, 0, n*4),
		Indices:   make([]uint32, 0, n*6),
	}
	scale := opts.voxelSize()
	for _, f := range voxel.Faces {
		for _, q := range qs[f] {
			m.addQuad(q, scale, opts.UV)
		}
	}
	return m
}

func (m *Mesh) addQuad(q Quad, scale float32, uvs UVSource) {
	normal := vec(q.Face.Offset())
	origin := vec(q.Pos.Add(voxel.Pos{X: -1, Y: -1, Z: -1}))
	if q.Face.Positive() {
		origin = origin.Add(normal)
	}
	u, v := vec(tangents[q.Face][0]), vec(tangents[q.Face][1])

	rect := DefaultRect
	if uvs != nil {
		if r, ok := uvs.FaceUV(q.Block, q.Face); ok {
			rect = r
		}
	}

	base := uint32(len(m.Positions))
	for k := 0; k < 4; k++ {
		du, dv := float32(k&1), float32(k>>1)
		p := origin.Add(u.Mul(du)).Add(v.Mul(dv)).Mul(scale)
		m.Bounds.extend(p, len(m.Positions) == 0)
		m.Positions = append(m.Positions, p)
		m.Normals = append(m.Normals, normal)
		m.UVs = append(m.UVs, mgl32.Vec2{
			rect.U0 + du*(rect.U1-rect.U0),
			rect.V1 - dv*(rect.V1-rect.V0),
		})
		s := ShadeLevels[q.AO[k]&3]
		m.Colors = append(m.Colors, mgl32.Vec4{s, s, s, 1})
	}

	if FlipDiagonal(q.AO) {
		m.Indices = append(m.Indices, base, base+1, base+3, base, base+3, base+2)
	} else {
		m.Indices = append(m.Indices, base, base+1, base+2, base+1, base+3, base+2)
	}
}
