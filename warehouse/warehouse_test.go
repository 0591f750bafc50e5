package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"simeval/config"
)

type obsRow struct {
	id    string
	start string
	total float64
	speed float64
	k1    float64
}

func writeDB(t *testing.T, table string, rows []obsRow) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dwd.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer db.Close()
	schema := `create table ` + table + ` (
		start_gantryid text, start_time text, total real, avg_speed real,
		k1 real, k2 real, k3 real, k4 real,
		h1 real, h2 real, h3 real, h4 real, h5 real, h6 real)`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for _, r := range rows {
		_, err := db.Exec(
			"insert into "+table+" values (?,?,?,?,?,0,0,0,0,0,0,0,0,0)",
			r.id, r.start, r.total, r.speed, r.k1)
		if err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	return path
}

func storeFor(path string) *Store {
	cfg := config.Default().Warehouse
	cfg.DBPath = path
	return NewStore(cfg, nil)
}

func TestLoadBucketsAndAggregates(t *testing.T) {
	path := writeDB(t, "dwd_flow_gantry_weekly", []obsRow{
		{"G1", "2025-03-10 08:00:00", 100, 80, 60},
		{"G1", "2025-03-10 08:02:00", 50, 60, 30},
		{"G2", "2025-03-10 08:05:00", 20, 90, 0},
	})
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	recs, err := storeFor(path).Load(context.Background(), nil, start, end, 5*time.Minute)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// G1's two rows share the 08:00 bucket (minute-of-day 480): flows and
	// class counts summed, speed flow-weighted.
	g1 := recs[0]
	if g1.EntityID != "G1" || g1.Offset != 480 {
		t.Fatalf("unexpected first record %+v", g1)
	}
	if g1.Flow != 150 {
		t.Fatalf("G1 flow = %v, want 150", g1.Flow)
	}
	if g1.Classes["k1"] != 90 {
		t.Fatalf("G1 k1 = %v, want 90", g1.Classes["k1"])
	}
	want := (100*80.0 + 50*60.0) / 150
	if g1.Speed == nil || *g1.Speed != want {
		t.Fatalf("G1 speed = %v, want %v", g1.Speed, want)
	}
	if recs[1].EntityID != "G2" || recs[1].Offset != 485 || recs[1].Flow != 20 {
		t.Fatalf("unexpected second record %+v", recs[1])
	}
}

func TestLoadEntityFilterAndWindow(t *testing.T) {
	path := writeDB(t, "dwd_flow_gantry_weekly", []obsRow{
		{"G1", "2025-03-10 08:00:00", 100, 80, 0},
		{"G2", "2025-03-10 08:00:00", 30, 80, 0},
		{"G1", "2025-03-10 09:30:00", 40, 80, 0},
	})
	start := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	recs, err := storeFor(path).Load(context.Background(), []string{"G1"}, start, end, 5*time.Minute)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 || recs[0].EntityID != "G1" || recs[0].Flow != 100 {
		t.Fatalf("unexpected records %+v", recs)
	}
}

func TestTableSelection(t *testing.T) {
	s := storeFor("unused.db")
	if got := s.TableFor(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)); got != "dwd_flow_gantry" {
		t.Fatalf("2024 table = %q", got)
	}
	if got := s.TableFor(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)); got != "dwd_flow_gantry_weekly" {
		t.Fatalf("2025 table = %q", got)
	}
	cfg := config.Default().Warehouse
	cfg.GantryTable = "gantry_{DATE_COMPACT}"
	over := NewStore(cfg, nil)
	if got := over.TableFor(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)); got != "gantry_20250601" {
		t.Fatalf("override table = %q", got)
	}
}

func TestLoadMissingFileIsUnavailable(t *testing.T) {
	s := storeFor(filepath.Join(t.TempDir(), "nope.db"))
	_, err := s.Load(context.Background(), nil, time.Now(), time.Now().Add(time.Hour), 5*time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestCheckAvailability(t *testing.T) {
	path := writeDB(t, "dwd_flow_gantry_weekly", []obsRow{
		{"G1", "2025-03-10 08:00:00", 100, 80, 0},
		{"G2", "2025-03-10 09:00:00", 50, 70, 0},
		{"G1", "2025-03-11 08:00:00", 40, 75, 0},
	})
	start := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	av, err := storeFor(path).CheckAvailability(context.Background(), start, start.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if !av.Available {
		t.Fatal("expected available")
	}
	if av.TotalRecords != 3 || av.Entities != 2 || av.TotalFlow != 190 {
		t.Fatalf("unexpected stats %+v", av)
	}
	if len(av.Daily) != 2 {
		t.Fatalf("daily coverage = %d days, want 2", len(av.Daily))
	}
	if av.Daily[0].Date != "2025-03-10" || av.Daily[0].Records != 2 {
		t.Fatalf("unexpected first day %+v", av.Daily[0])
	}
}

func TestCheckAvailabilityEmptyWindow(t *testing.T) {
	path := writeDB(t, "dwd_flow_gantry_weekly", []obsRow{
		{"G1", "2025-03-10 08:00:00", 100, 80, 0},
	})
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	av, err := storeFor(path).CheckAvailability(context.Background(), start, start.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if av.Available || av.TotalRecords != 0 {
		t.Fatalf("expected empty availability, got %+v", av)
	}
}

func TestPreflightHealthy(t *testing.T) {
	path := writeDB(t, "dwd_flow_gantry_weekly", nil)
	res, err := storeFor(path).Preflight(context.Background())
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	if !res.Healthy || res.CheckError != nil {
		t.Fatalf("expected healthy preflight, got %+v", res)
	}
}
