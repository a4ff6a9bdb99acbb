package main

import (
	"math"

	"voxelmesh.ai/internal/voxel"
)

const (
	demoGrass  voxel.BlockID = "vinox:grass"
	demoDirt   voxel.BlockID = "vinox:dirt"
	demoStone  voxel.BlockID = "vinox:stone"
	demoSand   voxel.BlockID = "vinox:sand"
	demoLog    voxel.BlockID = "vinox:log"
	demoLeaves voxel.BlockID = "vinox:leaves"
	demoGlass  voxel.BlockID = "vinox:glass"
	demoWater  voxel.BlockID = "vinox:water"
)

// demoChunk fills a chunk with rolling terrain, a pond and a tree. The
// result depends only on key and size. The halo is filled from the same
// height field so neighbouring demo chunks cull against each other.
func demoChunk(key voxel.ChunkKey, size int) (*voxel.Chunk, error) {
	c, err := voxel.New(size)
	if err != nil {
		return nil, err
	}
	for _, id := range []voxel.BlockID{demoGrass, demoDirt, demoStone, demoSand, demoLog, demoLeaves, demoGlass, demoWater} {
		if _, err := c.EnsurePaletteEntry(id); err != nil {
			return nil, err
		}
	}

	sea := size / 3
	side := c.Side()
	for x := 0; x < side; x++ {
		for z := 0; z < side; z++ {
			wx := key.CX*size + x - 1
			wz := key.CZ*size + z - 1
			h := demoHeight(wx, wz, size)
			for y := 0; y < side; y++ {
				wy := key.CY*size + y - 1
				id := demoColumn(wy, h, sea)
				if id == voxel.Air {
					continue
				}
				p := voxel.Pos{X: x, Y: y, Z: z}
				if c.InInterior(p) {
					err = c.SetBlock(p, id)
				} else {
					err = c.SetBorderBlock(p, id)
				}
				if err != nil {
					return nil, err
				}
			}
		}
	}

	if key.CY == 0 && size >= 8 {
		if err := demoTree(c, size); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func demoHeight(wx, wz, size int) int {
	fx, fz := float64(wx), float64(wz)
	h := 0.45*float64(size) + 0.18*float64(size)*math.Sin(fx/7)*math.Cos(fz/9) + 2*math.Sin((fx+fz)/4)
	return int(math.Round(h))
}

func demoColumn(wy, h, sea int) voxel.BlockID {
	switch {
	case wy < 0:
		return demoStone
	case wy < h-3:
		return demoStone
	case wy < h && h <= sea+1:
		return demoSand
	case wy < h-1:
		return demoDirt
	case wy == h-1:
		return demoGrass
	case wy < sea:
		return demoWater
	default:
		return voxel.Air
	}
}

// demoTree plants a log with a leaf crown and a glass marker near the centre.
func demoTree(c *voxel.Chunk, size int) error {
	x, z := size/2, size/2
	top := 0
	for y := size; y >= 1; y-- {
		id, err := c.GetBlock(voxel.Pos{X: x, Y: y, Z: z})
		if err != nil {
			return err
		}
		if id != voxel.Air && id != demoWater {
			top = y
			break
		}
	}
	set := func(p voxel.Pos, id voxel.BlockID) error {
		if !c.InInterior(p) {
			return nil
		}
		return c.SetBlock(p, id)
	}
	trunk := 4
	for i := 1; i <= trunk; i++ {
		if err := set(voxel.Pos{X: x, Y: top + i, Z: z}, demoLog); err != nil {
			return err
		}
	}
	crown := top + trunk
	for dx := -2; dx <= 2; dx++ {
		for dz := -2; dz <= 2; dz++ {
			for dy := 0; dy <= 2; dy++ {
				if dx*dx+dz*dz+dy*dy > 6 || (dx == 0 && dz == 0 && dy == 0) {
					continue
				}
				if err := set(voxel.Pos{X: x + dx, Y: crown + dy, Z: z + dz}, demoLeaves); err != nil {
					return err
				}
			}
		}
	}
	return set(voxel.Pos{X: x + 3, Y: top + 1, Z: z}, demoGlass)
}
