package mesh

import (
	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/voxel"
)

// Quad is one visible unit face of one voxel.
type Quad struct {
	Pos   voxel.Pos // grid coordinate of the voxel
	Face  voxel.Face
	Block voxel.BlockID
	AO    [4]uint8
}

// QuadSet buckets quads by face direction, indexed by voxel.Face.
type QuadSet [6][]Quad

func (qs QuadSet) Len() int {
	n := 0
	for _, b := range qs {
		n += len(b)
	}
	return n
}

// emits applies the face culling table for a non-empty cell.
func emits(solid bool, self uint16, vis catalogs.Visibility, nb uint16, nbVis catalogs.Visibility) bool {
	if solid {
		if vis != catalogs.Opaque {
			return false
		}
		return nbVis != catalogs.Opaque
	}
	if vis != catalogs.Transparent {
		return false
	}
	switch nbVis {
	case catalogs.Empty:
		return true
	case catalogs.Transparent:
		return nb != self
	default:
		return false
	}
}

// Extract walks the chunk interior and returns every face that the pass
// should draw, with AO levels filled in. The solid pass emits faces of opaque
// voxels; the other pass emits faces of transparent voxels. Halo cells are
// read as neighbours but never produce faces.
func Extract(c *voxel.Chunk, cat BlockCatalog, solid bool) (QuadSet, error) {
	return extract(NewResolver(c, cat), c.Size(), solid)
}

func extract(res *Resolver, size int, solid bool) (QuadSet, error) {
	var qs QuadSet
	for y := 1; y <= size; y++ {
		for z := 1; z <= size; z++ {
			for x := 1; x <= size; x++ {
				p := voxel.Pos{X: x, Y: y, Z: z}
				self, vis, err := res.cell(p)
				if err != nil {
					return QuadSet{}, err
				}
				if vis == catalogs.Empty {
					continue
				}
				for _, f := range voxel.Faces {
					nb, nbVis, err := res.cell(p.Add(f.Offset()))
					if err != nil {
						return QuadSet{}, err
					}
					if !emits(solid, self, vis, nb, nbVis) {
						continue
					}
					ring, err := SampleRing(res, p, f)
					if err != nil {
						return QuadSet{}, err
					}
					qs[f] = append(qs[f], Quad{
						Pos:   p,
						Face:  f,
						Block: res.block(self),
						AO:    CornerLevels(ring),
					})
				}
			}
		}
	}
	return qs, nil
}
