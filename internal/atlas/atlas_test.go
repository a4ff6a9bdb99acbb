package atlas

import (
	"testing"

	"voxelmesh.ai/internal/catalogs"
	"voxelmesh.ai/internal/mesh"
	"voxelmesh.ai/internal/voxel"
)

func TestTileRect(t *testing.T) {
	a, err := New(16, 64, 32, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.TileCount() != 8 {
		t.Fatalf("tiles: got %d want 8", a.TileCount())
	}
	r, ok := a.TileRect(5)
	want := mesh.Rect{U0: 0.25, V0: 0.5, U1: 0.5, V1: 1}
	if !ok || r != want {
		t.Fatalf("TileRect(5): got %+v,%v want %+v", r, ok, want)
	}
	if _, ok := a.TileRect(8); ok {
		t.Fatalf("TileRect(8) should be out of range")
	}
	if _, ok := a.FaceUV("vinox:grass", voxel.PosY); ok {
		t.Fatalf("FaceUV without tiles should miss")
	}
}

func TestNewRejectsBadDimensions(t *testing.T) {
	for _, d := range [][3]int{{0, 16, 16}, {16, 8, 16}, {16, 40, 32}} {
		if _, err := New(d[0], d[1], d[2], nil); err == nil {
			t.Fatalf("New%v: expected error", d)
		}
	}
}

func TestFaceUVFromCatalog(t *testing.T) {
	cat, err := catalogs.Parse([]byte(`[{"id":"vinox:grass","visibility":"opaque","textures":{"top":0,"side":1,"bottom":2}}]`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, err := New(16, 32, 32, cat)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	top, ok := a.FaceUV("vinox:grass", voxel.PosY)
	if !ok || top != (mesh.Rect{U0: 0, V0: 0, U1: 0.5, V1: 0.5}) {
		t.Fatalf("top: got %+v,%v", top, ok)
	}
	side, ok := a.FaceUV("vinox:grass", voxel.NegZ)
	if !ok || side != (mesh.Rect{U0: 0.5, V0: 0, U1: 1, V1: 0.5}) {
		t.Fatalf("side: got %+v,%v", side, ok)
	}
	if _, ok := a.FaceUV("vinox:stone", voxel.PosY); ok {
		t.Fatalf("unknown block should miss")
	}
}
