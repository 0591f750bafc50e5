package align

import (
	"testing"

	"simeval/series"
)

func sim(entity string, offset int, flow float64) series.Record {
	return series.Record{EntityID: entity, Offset: offset, Flow: flow}
}

func TestAlignUnionKeepsEveryKeyOnce(t *testing.T) {
	simRecs := []series.Record{
		sim("G1", 360, 110),
		sim("G1", 365, 90),
		sim("G3", 360, 12), // simulated only
	}
	obsRecs := []series.Record{
		sim("G1", 360, 100),
		sim("G1", 365, 95),
		sim("G2", 360, 40), // observed only
	}
	table := Align(simRecs, obsRecs)

	if len(table.Rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(table.Rows))
	}
	seen := make(map[series.Key]int)
	for _, r := range table.Rows {
		seen[series.Key{EntityID: r.EntityID, Offset: r.Offset}]++
	}
	for k, n := range seen {
		if n != 1 {
			t.Fatalf("key %v appears %d times", k, n)
		}
	}
	cov := table.Coverage()
	if cov.MatchedRows != 2 || cov.SimOnlyRows != 1 || cov.ObsOnlyRows != 1 {
		t.Fatalf("unexpected coverage %+v", cov)
	}
	if len(cov.SimOnlyEntities) != 1 || cov.SimOnlyEntities[0] != "G3" {
		t.Fatalf("unexpected sim-only entities %v", cov.SimOnlyEntities)
	}
}

func TestAlignMatchedRequiresBothFlows(t *testing.T) {
	table := Align([]series.Record{sim("G1", 0, 5)}, nil)
	if len(table.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(table.Rows))
	}
	r := table.Rows[0]
	if r.Matched {
		t.Fatal("row with missing observed side must not be matched")
	}
	if r.SimFlow == nil || *r.SimFlow != 5 || r.ObsFlow != nil {
		t.Fatalf("unexpected row %+v", r)
	}
}

func TestAlignEmptyInputs(t *testing.T) {
	table := Align(nil, nil)
	if len(table.Rows) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(table.Rows))
	}
	if len(table.Matched()) != 0 {
		t.Fatal("expected no matched rows")
	}
}

func TestAlignSpeedEligibleOnlyWhenBothSidesCarryIt(t *testing.T) {
	withSpeed := series.Record{EntityID: "G1", Offset: 0, Flow: 10, Speed: series.SpeedValue(80)}
	table := Align([]series.Record{withSpeed}, []series.Record{sim("G1", 0, 9)})
	if table.HasSpeed {
		t.Fatal("speed on one side only must not be metric-eligible")
	}
	table = Align([]series.Record{withSpeed}, []series.Record{{EntityID: "G1", Offset: 0, Flow: 9, Speed: series.SpeedValue(75)}})
	if !table.HasSpeed {
		t.Fatal("speed on both sides should be metric-eligible")
	}
}

func TestFingerprintStableAndContentSensitive(t *testing.T) {
	a := Align([]series.Record{sim("G1", 0, 10)}, []series.Record{sim("G1", 0, 9)})
	b := Align([]series.Record{sim("G1", 0, 10)}, []series.Record{sim("G1", 0, 9)})
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("identical tables must fingerprint identically")
	}
	c := Align([]series.Record{sim("G1", 0, 11)}, []series.Record{sim("G1", 0, 9)})
	if a.Fingerprint() == c.Fingerprint() {
		t.Fatal("different content must change the fingerprint")
	}
}

func TestNearMissesSuggestsClosestObservedID(t *testing.T) {
	table := Align(
		[]series.Record{sim("G00123", 0, 10)},
		[]series.Record{sim("G0123", 0, 9), sim("XYZ", 0, 1)},
	)
	misses := table.NearMisses(2)
	if len(misses) != 1 {
		t.Fatalf("expected 1 near miss, got %d", len(misses))
	}
	m := misses[0]
	if m.SimEntity != "G00123" || m.ClosestObs != "G0123" || m.Distance != 1 {
		t.Fatalf("unexpected near miss %+v", m)
	}
}
