package mesh

import (
	"errors"
	"fmt"

	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/voxel"
)

var ErrUnknownCatalogEntry = errors.New("block type missing from catalog")

// BlockCatalog is the read-only view of block definitions the mesher needs.
type BlockCatalog interface {
	Visibility(id voxel.BlockID) (catalogs.Visibility, bool)
}

type paletteClass struct {
	vis   catalogs.Visibility
	known bool
}

// Resolver answers visibility queries for one chunk snapshot. Catalog lookups
// happen once per palette entry; a palette entry missing from the catalog only
// fails when a cell that references it is resolved.
type Resolver struct {
	chunk   *voxel.Chunk
	classes []paletteClass
	palette []voxel.BlockID
}

func NewResolver(c *voxel.Chunk, cat BlockCatalog) *Resolver {
	pal := c.Palette()
	classes := make([]paletteClass, len(pal))
	for i, id := range pal {
		if id == voxel.Air {
			classes[i] = paletteClass{vis: catalogs.Empty, known: true}
			continue
		}
		vis, ok := cat.Visibility(id)
		classes[i] = paletteClass{vis: vis, known: ok}
	}
	return &Resolver{chunk: c, classes: classes, palette: pal}
}

// Visibility resolves any grid cell, halo included.
func (r *Resolver) Visibility(p voxel.Pos) (catalogs.Visibility, error) {
	v, ok := r.chunk.Cell(p)
	if !ok {
		return catalogs.Empty, fmt.Errorf("resolve %s: %w", p, voxel.ErrOutOfBounds)
	}
	return r.class(v)
}

func (r *Resolver) class(v uint16) (catalogs.Visibility, error) {
	if int(v) >= len(r.classes) {
		return catalogs.Empty, fmt.Errorf("resolve palette index %d: %w", v, voxel.ErrInvalidChunk)
	}
	c := r.classes[v]
	if !c.known {
		return catalogs.Empty, fmt.Errorf("resolve %q: %w", r.palette[v], ErrUnknownCatalogEntry)
	}
	return c.vis, nil
}

// cell returns the palette index and class of p.
func (r *Resolver) cell(p voxel.Pos) (uint16, catalogs.Visibility, error) {
	v, ok := r.chunk.Cell(p)
	if !ok {
		return 0, catalogs.Empty, fmt.Errorf("resolve %s: %w", p, voxel.ErrOutOfBounds)
	}
	vis, err := r.class(v)
	return v, vis, err
}

func (r *Resolver) block(v uint16) voxel.BlockID {
	return r.palette[v]
}
