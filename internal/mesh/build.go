package mesh

import (
	"fmt"

	"voxelmesh.ai/internal/voxel"
)

// Build runs the solid and transparent passes over c and assembles both
// surfaces. c must not be mutated while Build runs; callers hand it a Clone.
func Build(c *voxel.Chunk, cat BlockCatalog, opts Options) (*ChunkMesh, error) {
	res := NewResolver(c, cat)

	solid, err := extract(res, c.Size(), true)
	if err != nil {
		return nil, fmt.Errorf("solid pass: %w", err)
	}
	translucent, err := extract(res, c.Size(), false)
	if err != nil {
		return nil, fmt.Errorf("transparent pass: %w", err)
	}

	out := &ChunkMesh{
		Opaque:      Assemble(solid, opts),
		Transparent: Assemble(translucent, opts),
	}
	out.OpaqueCollider = out.Opaque.Collider()
	out.TransparentCollider = out.Transparent.Collider()
	return out, nil
}
