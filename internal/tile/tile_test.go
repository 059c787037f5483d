package tile

import "testing"

func TestKeyString(t *testing.T) {
	k := New(KindTile, "osm", 10, 511, 383)
	if got, want := k.String(), "tile_osm_10_511_383"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
	b := New(KindBuilding, "osm", 15, 1, 2)
	if got, want := b.String(), "building_osm_15_1_2"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		name string
		k    Key
		ok   bool
	}{
		{"origin", New(KindTile, "osm", 0, 0, 0), true},
		{"max at zoom", New(KindTile, "osm", 3, 7, 7), true},
		{"x out of range", New(KindTile, "osm", 3, 8, 0), false},
		{"negative y", New(KindTile, "osm", 3, 0, -1), false},
		{"zoom too deep", New(KindTile, "osm", 23, 0, 0), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.k.Valid(); got != tc.ok {
				t.Fatalf("Valid()=%v want %v", got, tc.ok)
			}
		})
	}
}

func TestRescaleTo(t *testing.T) {
	k := New(KindTile, "osm", 12, 100, 200)

	up := k.RescaleTo(13)
	if up.X != 200 || up.Y != 400 || up.Z != 13 {
		t.Fatalf("RescaleTo(13)=%+v", up)
	}
	down := k.RescaleTo(11)
	if down.X != 50 || down.Y != 100 || down.Z != 11 {
		t.Fatalf("RescaleTo(11)=%+v", down)
	}
	same := k.RescaleTo(12)
	if same != k {
		t.Fatalf("RescaleTo(12)=%+v want %+v", same, k)
	}
}

func TestSourceURL(t *testing.T) {
	base := "https://tiles.example.com/"
	k := New(KindTile, "osm", 10, 511, 383)
	if got, want := SourceURL(base, k), "https://tiles.example.com/tiles/osm/10/511/383.pbf"; got != want {
		t.Fatalf("SourceURL=%q want %q", got, want)
	}
	b := New(KindBuilding, "osm", 15, 4, 5)
	if got, want := SourceURL(base, b), "https://tiles.example.com/buildings/osm/15/4/5.json"; got != want {
		t.Fatalf("SourceURL=%q want %q", got, want)
	}
}

func TestAt(t *testing.T) {
	// Null Island at zoom 1 lands in the lower-right quadrant boundary tile.
	k := At(0, 0, 1, KindTile, "osm")
	if k.Z != 1 || !k.Valid() {
		t.Fatalf("At(0,0,1)=%+v", k)
	}
	// Western hemisphere longitude maps to the left half of the quad-tree.
	w := At(40.7, -74.0, 10, KindTile, "osm")
	if w.X >= 512 {
		t.Fatalf("longitude -74 should map to x < 512 at z10, got %d", w.X)
	}
}
