package mesh

import "github.com/go-gl/mathgl/mgl32"

// ShadeLevels maps an AO level to the shading scalar written to vertex colours.
var ShadeLevels = [4]float32{0.1, 0.25, 0.5, 1.0}

type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

func (b AABB) Size() mgl32.Vec3 { return b.Max.Sub(b.Min) }

func (b *AABB) extend(p mgl32.Vec3, first bool) {
	if first {
		b.Min, b.Max = p, p
		return
	}
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Mesh is an indexed triangle list with per-vertex attributes, ready for
// upload. All attribute slices have the same length.
type Mesh struct {
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	UVs       []mgl32.Vec2
	Colors    []mgl32.Vec4
	Indices   []uint32
	Bounds    AABB
}

func (m *Mesh) Empty() bool { return m == nil || len(m.Indices) == 0 }

func (m *Mesh) QuadCount() int {
	if m == nil {
		return 0
	}
	return len(m.Positions) / 4
}

func (m *Mesh) VertexCount() int {
	if m == nil {
		return 0
	}
	return len(m.Positions)
}

// Collider is the triangle soup handed to the physics layer.
type Collider struct {
	Vertices []mgl32.Vec3
	Indices  []uint32
}

// Collider returns a copy of the geometry for collision, or nil for an empty mesh.
func (m *Mesh) Collider() *Collider {
	if m.Empty() {
		return nil
	}
	c := &Collider{
		Vertices: make([]mgl32.Vec3, len(m.Positions)),
		Indices:  make([]uint32, len(m.Indices)),
	}
	copy(c.Vertices, m.Positions)
	copy(c.Indices, m.Indices)
	return c
}

// ChunkMesh is the output of one meshing task: separate opaque and
// translucent surfaces, each with its own collider when non-empty.
type ChunkMesh struct {
	Opaque      *Mesh
	Transparent *Mesh

	OpaqueCollider      *Collider
	TransparentCollider *Collider
}
