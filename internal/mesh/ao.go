package mesh

import (
	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/voxel"
)

// Ring is the opacity pattern of the 8 cells surrounding a face in its
// tangent plane, one bit per cell. Bit i is set when ring cell i is opaque.
//
// Ring order, in (u,v) offsets from the face's front cell:
//
//	0:(-1,-1) 1:(0,-1) 2:(1,-1) 3:(1,0) 4:(1,1) 5:(0,1) 6:(-1,1) 7:(-1,0)
type Ring uint8

var ringOffsets = [8][2]int{
	{-1, -1}, {0, -1}, {1, -1}, {1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0},
}

// cornerRing holds (side, corner, side) ring indices for quad corners
// 0=(0,0) 1=(1,0) 2=(0,1) 3=(1,1).
var cornerRing = [4][3]int{
	{7, 0, 1},
	{1, 2, 3},
	{5, 6, 7},
	{3, 4, 5},
}

// tangents holds the (u, v) axes of each face with u x v pointing along the normal.
var tangents = [6][2]voxel.Pos{
	voxel.PosX: {{Y: 1}, {Z: 1}},
	voxel.NegX: {{Z: 1}, {Y: 1}},
	voxel.PosY: {{Z: 1}, {X: 1}},
	voxel.NegY: {{X: 1}, {Z: 1}},
	voxel.PosZ: {{X: 1}, {Y: 1}},
	voxel.NegZ: {{Y: 1}, {X: 1}},
}

func (r Ring) opaque(i int) bool { return r&(1<<uint(i)) != 0 }

// SampleRing reads the tangent ring in front of face f of the voxel at p.
// Only opaque cells occlude.
func SampleRing(res *Resolver, p voxel.Pos, f voxel.Face) (Ring, error) {
	front := p.Add(f.Offset())
	t := tangents[f]
	var r Ring
	for i, o := range ringOffsets {
		q := front.Add(t[0].Scale(o[0])).Add(t[1].Scale(o[1]))
		vis, err := res.Visibility(q)
		if err != nil {
			return 0, err
		}
		if vis == catalogs.Opaque {
			r |= 1 << uint(i)
		}
	}
	return r, nil
}

func vertexAO(side1, corner, side2 bool) uint8 {
	if side1 && side2 {
		return 0
	}
	n := uint8(0)
	for _, b := range [3]bool{side1, corner, side2} {
		if b {
			n++
		}
	}
	return 3 - n
}

// CornerLevels derives the four corner AO levels (0 darkest, 3 unshaded)
// from a ring pattern. It depends on nothing but r.
func CornerLevels(r Ring) [4]uint8 {
	var out [4]uint8
	for i, c := range cornerRing {
		out[i] = vertexAO(r.opaque(c[0]), r.opaque(c[1]), r.opaque(c[2]))
	}
	return out
}

// FlipDiagonal reports whether a quad is split along the 0-3 diagonal
// instead of 1-2. The shared edge is always the diagonal with the lower sum.
func FlipDiagonal(ao [4]uint8) bool {
	return int(ao[1])+int(ao[2]) > int(ao[0])+int(ao[3])
}
