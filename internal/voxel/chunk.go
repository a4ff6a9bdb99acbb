package voxel

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// MaxSize bounds the logical edge length of a chunk.
const MaxSize = 126

const maxPalette = 1 << 16

// Chunk is a cube of size^3 addressable voxels surrounded by a one-cell halo.
// Grid coordinates run 0..size+1 on every axis; the interior is 1..size.
// Each cell stores an index into the chunk-local palette; index 0 is always Air.
type Chunk struct {
	size    int
	side    int
	cells   []uint16 // len = side^3, x + z*side + y*side*side
	palette []BlockID
	index   map[BlockID]uint16

	dirty bool
	hash  [32]byte
}

func New(size int) (*Chunk, error) {
	if size < 1 || size > MaxSize {
		return nil, fmt.Errorf("%w: size %d not in 1..%d", ErrInvalidChunk, size, MaxSize)
	}
	side := size + 2
	return &Chunk{
		size:    size,
		side:    side,
		cells:   make([]uint16, side*side*side),
		palette: []BlockID{Air},
		index:   map[BlockID]uint16{Air: 0},
		dirty:   true,
	}, nil
}

// FromParts rebuilds a chunk from a palette and a full grid of cells,
// enforcing every palette and cell invariant.
func FromParts(size int, palette []BlockID, cells []uint16) (*Chunk, error) {
	c, err := New(size)
	if err != nil {
		return nil, err
	}
	if len(palette) == 0 || palette[0] != Air {
		return nil, fmt.Errorf("%w: palette must start with %q", ErrInvalidChunk, Air)
	}
	if len(palette) > maxPalette {
		return nil, fmt.Errorf("%w: palette has %d entries", ErrInvalidChunk, len(palette))
	}
	if len(cells) != len(c.cells) {
		return nil, fmt.Errorf("%w: cells length %d want %d", ErrInvalidChunk, len(cells), len(c.cells))
	}
	c.palette = make([]BlockID, 0, len(palette))
	c.index = make(map[BlockID]uint16, len(palette))
	for i, id := range palette {
		if id == "" {
			return nil, fmt.Errorf("%w: empty palette entry at %d", ErrInvalidChunk, i)
		}
		if _, dup := c.index[id]; dup {
			return nil, fmt.Errorf("%w: duplicate palette entry %q", ErrInvalidChunk, id)
		}
		c.index[id] = uint16(i)
		c.palette = append(c.palette, id)
	}
	for i, v := range cells {
		if int(v) >= len(c.palette) {
			return nil, fmt.Errorf("%w: cell %d references palette index %d of %d", ErrInvalidChunk, i, v, len(c.palette))
		}
	}
	copy(c.cells, cells)
	return c, nil
}

func (c *Chunk) Size() int { return c.size }

// Side is the edge length of the allocated grid, halo included.
func (c *Chunk) Side() int { return c.side }

func (c *Chunk) Palette() []BlockID {
	out := make([]BlockID, len(c.palette))
	copy(out, c.palette)
	return out
}

func (c *Chunk) Cells() []uint16 {
	out := make([]uint16, len(c.cells))
	copy(out, c.cells)
	return out
}

func (c *Chunk) PaletteIndex(id BlockID) (uint16, bool) {
	i, ok := c.index[id]
	return i, ok
}

// BlockAt maps a palette index to its block type.
func (c *Chunk) BlockAt(i uint16) (BlockID, bool) {
	if int(i) >= len(c.palette) {
		return "", false
	}
	return c.palette[i], true
}

func (c *Chunk) inGrid(p Pos) bool {
	return p.X >= 0 && p.X < c.side && p.Y >= 0 && p.Y < c.side && p.Z >= 0 && p.Z < c.side
}

// InInterior reports whether p is an addressable voxel (not halo).
func (c *Chunk) InInterior(p Pos) bool {
	return p.X >= 1 && p.X <= c.size && p.Y >= 1 && p.Y <= c.size && p.Z >= 1 && p.Z <= c.size
}

func (c *Chunk) IsHalo(p Pos) bool {
	return c.inGrid(p) && !c.InInterior(p)
}

func (c *Chunk) idx(p Pos) int {
	return p.X + p.Z*c.side + p.Y*c.side*c.side
}

// Cell reads the raw palette index at any grid position, halo included.
func (c *Chunk) Cell(p Pos) (uint16, bool) {
	if !c.inGrid(p) {
		return 0, false
	}
	return c.cells[c.idx(p)], true
}

func (c *Chunk) GetBlock(p Pos) (BlockID, error) {
	if !c.InInterior(p) {
		return "", fmt.Errorf("get %s: %w", p, ErrOutOfBounds)
	}
	return c.palette[c.cells[c.idx(p)]], nil
}

// SetBlock assigns a registered block type to an interior voxel.
func (c *Chunk) SetBlock(p Pos, id BlockID) error {
	if !c.InInterior(p) {
		return fmt.Errorf("set %s: %w", p, ErrOutOfBounds)
	}
	return c.set(p, id)
}

// SetBorderBlock writes a halo cell. It is the entry point for neighbour
// synchronisation and rejects interior positions.
func (c *Chunk) SetBorderBlock(p Pos, id BlockID) error {
	if !c.IsHalo(p) {
		return fmt.Errorf("set border %s: %w", p, ErrOutOfBounds)
	}
	return c.set(p, id)
}

func (c *Chunk) set(p Pos, id BlockID) error {
	v, ok := c.index[id]
	if !ok {
		return fmt.Errorf("set %s to %q: %w", p, id, ErrUnknownBlockType)
	}
	i := c.idx(p)
	if c.cells[i] == v {
		return nil
	}
	c.cells[i] = v
	c.dirty = true
	return nil
}

// EnsurePaletteEntry returns the index of id, appending it when absent.
func (c *Chunk) EnsurePaletteEntry(id BlockID) (uint16, error) {
	if id == "" {
		return 0, fmt.Errorf("ensure palette entry: %w: empty id", ErrUnknownBlockType)
	}
	if i, ok := c.index[id]; ok {
		return i, nil
	}
	if len(c.palette) >= maxPalette {
		return 0, fmt.Errorf("ensure palette entry %q: %w", id, ErrPaletteFull)
	}
	i := uint16(len(c.palette))
	c.palette = append(c.palette, id)
	c.index[id] = i
	c.dirty = true
	return i, nil
}

// RemovePaletteEntry drops id from the palette and remaps every cell. Cells
// that referenced id become Air; all other cells keep their block type.
func (c *Chunk) RemovePaletteEntry(id BlockID) error {
	if id == Air {
		return fmt.Errorf("remove %q: %w", id, ErrNotRemovable)
	}
	if _, ok := c.index[id]; !ok {
		return fmt.Errorf("remove %q: %w", id, ErrNotRemovable)
	}
	c.rebuildPalette(func(b BlockID) bool { return b != id })
	return nil
}

// PruneUnused removes palette entries that no cell references and returns
// how many were removed.
func (c *Chunk) PruneUnused() int {
	used := make([]bool, len(c.palette))
	used[0] = true
	for _, v := range c.cells {
		used[v] = true
	}
	n := 0
	for _, u := range used {
		if !u {
			n++
		}
	}
	if n == 0 {
		return 0
	}
	c.rebuildPalette(func(b BlockID) bool { return used[c.index[b]] })
	return n
}

func (c *Chunk) rebuildPalette(keep func(BlockID) bool) {
	old := c.palette
	next := make([]BlockID, 0, len(old))
	nextIndex := make(map[BlockID]uint16, len(old))
	for _, b := range old {
		if b != Air && !keep(b) {
			continue
		}
		nextIndex[b] = uint16(len(next))
		next = append(next, b)
	}

	remap := make([]uint16, len(old))
	for i, b := range old {
		remap[i] = nextIndex[b] // removed entries map to 0 (air)
	}
	for i, v := range c.cells {
		c.cells[i] = remap[v]
	}
	c.palette = next
	c.index = nextIndex
	c.dirty = true
}

// Clone returns a deep copy that shares no memory with c.
func (c *Chunk) Clone() *Chunk {
	out := &Chunk{
		size:    c.size,
		side:    c.side,
		cells:   make([]uint16, len(c.cells)),
		palette: make([]BlockID, len(c.palette)),
		index:   make(map[BlockID]uint16, len(c.index)),
		dirty:   c.dirty,
		hash:    c.hash,
	}
	copy(out.cells, c.cells)
	copy(out.palette, c.palette)
	for k, v := range c.index {
		out.index[k] = v
	}
	return out
}

// Digest hashes the palette and every cell; it is recomputed only after a mutation.
func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(c.size))
		h.Write(tmp[:])
		for _, b := range c.palette {
			h.Write([]byte(b))
			h.Write([]byte{0})
		}
		for _, v := range c.cells {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}
