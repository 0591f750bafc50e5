package series

import (
	"math"
	"testing"
)

func TestDeriveEntityID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"G001234_lane0_e1", "G001234"},
		{"G001234_0", "G001234"},
		{"G001234", "G001234"},
		{" G5678_e1 ", "G5678"},
		{"_leading", "_leading"}, // no prefix before the delimiter; keep as-is
		{"", ""},
	}
	for _, tc := range cases {
		if got := DeriveEntityID(tc.in); got != tc.want {
			t.Fatalf("DeriveEntityID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAggregateSumsFlowsAndClasses(t *testing.T) {
	recs := []Record{
		{EntityID: "G1", Offset: 360, Flow: 10, Classes: map[string]float64{"k1": 7, "h1": 3}},
		{EntityID: "G1", Offset: 360, Flow: 5, Classes: map[string]float64{"k1": 5}},
		{EntityID: "G1", Offset: 365, Flow: 2},
		{EntityID: "G2", Offset: 360, Flow: 1},
	}
	out := Aggregate(recs)
	if len(out) != 3 {
		t.Fatalf("expected 3 aggregated rows, got %d", len(out))
	}
	first := out[0]
	if first.EntityID != "G1" || first.Offset != 360 {
		t.Fatalf("unexpected first row %+v", first)
	}
	if first.Flow != 15 {
		t.Fatalf("expected summed flow 15, got %v", first.Flow)
	}
	if first.Classes["k1"] != 12 || first.Classes["h1"] != 3 {
		t.Fatalf("unexpected class sums %v", first.Classes)
	}
}

func TestAggregateWeightsSpeedByFlow(t *testing.T) {
	recs := []Record{
		{EntityID: "G1", Offset: 0, Flow: 30, Speed: SpeedValue(100)},
		{EntityID: "G1", Offset: 0, Flow: 10, Speed: SpeedValue(60)},
	}
	out := Aggregate(recs)
	if len(out) != 1 || out[0].Speed == nil {
		t.Fatalf("expected one row with speed, got %+v", out)
	}
	// (100*30 + 60*10) / 40 = 90
	if math.Abs(*out[0].Speed-90) > 1e-9 {
		t.Fatalf("expected weighted speed 90, got %v", *out[0].Speed)
	}
}

func TestAggregateSpeedAbsentStaysNil(t *testing.T) {
	out := Aggregate([]Record{{EntityID: "G1", Offset: 0, Flow: 3}})
	if out[0].Speed != nil {
		t.Fatalf("expected nil speed, got %v", *out[0].Speed)
	}
}

func TestEntitiesSortedDistinct(t *testing.T) {
	got := Entities([]Record{
		{EntityID: "G2"}, {EntityID: "G1"}, {EntityID: "G2"},
	})
	if len(got) != 2 || got[0] != "G1" || got[1] != "G2" {
		t.Fatalf("unexpected entities %v", got)
	}
}
