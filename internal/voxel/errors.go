package voxel

import "errors"

var (
	ErrOutOfBounds      = errors.New("position out of bounds")
	ErrUnknownBlockType = errors.New("block type not in palette")
	ErrNotRemovable     = errors.New("palette entry not removable")
	ErrPaletteFull      = errors.New("palette full")
	ErrInvalidChunk     = errors.New("invalid chunk")
)
