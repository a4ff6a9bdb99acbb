package mesh

import (
	"testing"

	"voxelmesh.ai/internal/voxel"
)

func TestCornerLevelsRules(t *testing.T) {
	bit := func(idx ...int) Ring {
		var r Ring
		for _, i := range idx {
			r |= 1 << uint(i)
		}
		return r
	}
	cases := []struct {
		name string
		ring Ring
		want [4]uint8
	}{
		{"open", 0, [4]uint8{3, 3, 3, 3}},
		{"closed", 0xFF, [4]uint8{0, 0, 0, 0}},
		{"corner only", bit(0), [4]uint8{2, 3, 3, 3}},
		{"one side", bit(1), [4]uint8{2, 2, 3, 3}},
		{"side and corner", bit(1, 0), [4]uint8{1, 2, 3, 3}},
		{"both sides", bit(7, 1), [4]uint8{0, 2, 2, 3}},
		{"both sides no corner matters", bit(3, 5), [4]uint8{3, 2, 2, 0}},
		{"opposite corner", bit(4), [4]uint8{3, 3, 3, 2}},
	}
	for _, tc := range cases {
		if got := CornerLevels(tc.ring); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestCornerLevelsRange(t *testing.T) {
	for r := 0; r < 256; r++ {
		a := CornerLevels(Ring(r))
		if b := CornerLevels(Ring(r)); a != b {
			t.Fatalf("ring %08b: not deterministic", r)
		}
		for _, l := range a {
			if l > 3 {
				t.Fatalf("ring %08b: level %d out of range", r, l)
			}
		}
	}
}

// Two chunks that differ everywhere except in the ring in front of the +Y
// face must shade that face identically.
func TestAOIsFunctionOfRingOnly(t *testing.T) {
	center := voxel.Pos{X: 3, Y: 3, Z: 3}
	ring := map[voxel.Pos]voxel.BlockID{
		{X: 2, Y: 4, Z: 2}: "vinox:stone",
		{X: 3, Y: 4, Z: 2}: "vinox:dirt",
		{X: 4, Y: 4, Z: 4}: "vinox:stone",
	}

	a := map[voxel.Pos]voxel.BlockID{center: "vinox:stone"}
	b := map[voxel.Pos]voxel.BlockID{center: "vinox:dirt"}
	for p, id := range ring {
		a[p] = id
		b[p] = "vinox:stone"
	}
	a[voxel.Pos{X: 3, Y: 2, Z: 3}] = "vinox:stone"
	b[voxel.Pos{X: 1, Y: 1, Z: 1}] = "vinox:dirt"
	b[voxel.Pos{X: 2, Y: 4, Z: 3}] = "vinox:glass" // transparent does not occlude

	find := func(qs QuadSet) Quad {
		for _, q := range qs[voxel.PosY] {
			if q.Pos == center {
				return q
			}
		}
		t.Fatalf("no +y quad at %s", center)
		return Quad{}
	}
	qa := find(mustExtract(t, newChunk(t, 5, a), true))
	qb := find(mustExtract(t, newChunk(t, 5, b), true))
	if qa.AO != qb.AO {
		t.Fatalf("same ring, different AO: %v vs %v", qa.AO, qb.AO)
	}
	if qa.AO == [4]uint8{3, 3, 3, 3} {
		t.Fatalf("expected occlusion from ring, got %v", qa.AO)
	}
}

// The corner that AO darkens must be the geometric corner nearest the occluder.
func TestAOCornerMatchesGeometry(t *testing.T) {
	center := voxel.Pos{X: 3, Y: 3, Z: 3}
	for _, f := range voxel.Faces {
		u, v := tangents[f][0], tangents[f][1]
		occluder := center.Add(f.Offset()).Add(u.Scale(-1)).Add(v.Scale(-1))
		c := newChunk(t, 5, map[voxel.Pos]voxel.BlockID{center: "vinox:stone", occluder: "vinox:stone"})
		qs := mustExtract(t, c, true)
		var q *Quad
		for i := range qs[f] {
			if qs[f][i].Pos == center {
				q = &qs[f][i]
			}
		}
		if q == nil {
			t.Fatalf("face %s: missing quad", f)
		}
		if q.AO != [4]uint8{2, 3, 3, 3} {
			t.Fatalf("face %s: got %v want [2 3 3 3]", f, q.AO)
		}

		var one QuadSet
		one[f] = []Quad{*q}
		m := Assemble(one, Options{})
		dark := m.Positions[0]
		want := vec(occluder).Add(vec(voxel.Pos{X: -1, Y: -1, Z: -1}))
		// Corner 0 touches the occluder cell's box.
		for i := 0; i < 3; i++ {
			if dark[i] < want[i] || dark[i] > want[i]+1 {
				t.Fatalf("face %s: darkened corner %v not on occluder box at %v", f, dark, want)
			}
		}
	}
}
