// Package warehouse loads observed gantry flow series from the analysis
// warehouse. The store opens the SQLite file read-only per call and releases
// it as soon as the query completes, so concurrent analysis runs never hold
// the warehouse open between invocations.
package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"simeval/bucket"
	"simeval/config"
	"simeval/series"
)

// ErrUnavailable marks a warehouse that cannot be reached at all: missing
// file, unopenable database, failed query. Callers distinguish it from an
// empty (but healthy) result.
var ErrUnavailable = errors.New("warehouse: source unavailable")

// Logger matches the subset of log.Logger the store needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Store reads observed flow series from a SQLite warehouse file.
type Store struct {
	cfg config.WarehouseConfig
	log Logger
}

// NewStore builds a store for the configured warehouse file.
func NewStore(cfg config.WarehouseConfig, logger Logger) *Store {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Store{cfg: cfg, log: logger}
}

// TableFor picks the gantry table for an analysis date. 2024 data lives in
// the daily table; everything else in the weekly rollup. A configured
// gantry_table overrides the selection and may carry a {DATE} placeholder.
func (s *Store) TableFor(date time.Time) string {
	if s.cfg.GantryTable != "" {
		return config.ExpandDate(s.cfg.GantryTable, date)
	}
	if date.Year() == 2024 {
		return "dwd_flow_gantry"
	}
	return "dwd_flow_gantry_weekly"
}

func (s *Store) open(ctx context.Context) (*sql.DB, error) {
	if strings.TrimSpace(s.cfg.DBPath) == "" {
		return nil, fmt.Errorf("%w: no db_path configured", ErrUnavailable)
	}
	if _, err := os.Stat(s.cfg.DBPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	db, err := sql.Open("sqlite", "file:"+s.cfg.DBPath+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrUnavailable, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return db, nil
}

// Load returns the bucketed observed series for [start, end). Empty entityIDs
// means every entity in range. Offsets are minutes since midnight of the
// start date, matching the simulated loader's grid.
func (s *Store) Load(ctx context.Context, entityIDs []string, start, end time.Time, width time.Duration) ([]series.Record, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	table := s.TableFor(start)
	cols := "start_gantryid, start_time, total, avg_speed, " + strings.Join(series.ClassColumns, ", ")
	q := fmt.Sprintf(
		"select %s from %q where start_time >= ? and start_time < ? and total > 0 and start_gantryid is not null",
		cols, table)
	args := []any{start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05")}
	if len(entityIDs) > 0 {
		q += " and start_gantryid in (?" + strings.Repeat(",?", len(entityIDs)-1) + ")"
		for _, id := range entityIDs {
			args = append(args, id)
		}
	}
	q += " order by start_gantryid, start_time"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query %s: %v", ErrUnavailable, table, err)
	}
	defer rows.Close()

	origin := bucket.Midnight(start)
	var records []series.Record
	skipped := 0
	for rows.Next() {
		var (
			id      string
			rawTime string
			total   float64
			speed   sql.NullFloat64
		)
		classVals := make([]sql.NullFloat64, len(series.ClassColumns))
		dest := []any{&id, &rawTime, &total, &speed}
		for i := range classVals {
			dest = append(dest, &classVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("warehouse: scan %s: %w", table, err)
		}
		ts, err := bucket.ParseTime(rawTime)
		if err != nil {
			skipped++
			continue
		}
		rec := series.Record{
			EntityID: id,
			Offset:   bucket.Bucket(ts, origin, width),
			Flow:     total,
		}
		if speed.Valid {
			rec.Speed = series.SpeedValue(speed.Float64)
		}
		for i, v := range classVals {
			if !v.Valid || v.Float64 == 0 {
				continue
			}
			if rec.Classes == nil {
				rec.Classes = make(map[string]float64)
			}
			rec.Classes[series.ClassColumns[i]] = v.Float64
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, table, err)
	}
	if skipped > 0 {
		s.log.Printf("warehouse: skipped %d rows with unparseable start_time in %s", skipped, table)
	}
	return series.Aggregate(records), nil
}

// DayCoverage is one day of the availability summary.
type DayCoverage struct {
	Date     string  `json:"date"`
	Records  int     `json:"records"`
	Entities int     `json:"entities"`
	Flow     float64 `json:"flow"`
}

// Availability summarizes what the warehouse holds for a window.
type Availability struct {
	Available    bool          `json:"available"`
	Table        string        `json:"table"`
	TotalRecords int           `json:"total_records"`
	Entities     int           `json:"entities"`
	TotalFlow    float64       `json:"total_flow"`
	AvgSpeed     *float64      `json:"avg_speed,omitempty"`
	Earliest     string        `json:"earliest,omitempty"`
	Latest       string        `json:"latest,omitempty"`
	Daily        []DayCoverage `json:"daily_coverage,omitempty"`
}

// CheckAvailability reports record and entity counts, the covered time range
// and per-day coverage for [start, end). Meant for operator preflight before
// a batch run.
func (s *Store) CheckAvailability(ctx context.Context, start, end time.Time) (*Availability, error) {
	db, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	table := s.TableFor(start)
	av := &Availability{Table: table}
	args := []any{start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05")}

	var earliest, latest sql.NullString
	var avgSpeed, totalFlow sql.NullFloat64
	statsQ := fmt.Sprintf(
		`select count(*), count(distinct start_gantryid), min(start_time), max(start_time),
		 sum(total), avg(avg_speed)
		 from %q where start_time >= ? and start_time < ? and total > 0`, table)
	err = db.QueryRowContext(ctx, statsQ, args...).Scan(
		&av.TotalRecords, &av.Entities, &earliest, &latest, &totalFlow, &avgSpeed)
	if err != nil {
		return nil, fmt.Errorf("%w: availability query %s: %v", ErrUnavailable, table, err)
	}
	av.Available = av.TotalRecords > 0
	av.Earliest = earliest.String
	av.Latest = latest.String
	av.TotalFlow = totalFlow.Float64
	if avgSpeed.Valid {
		av.AvgSpeed = &avgSpeed.Float64
	}

	dailyQ := fmt.Sprintf(
		`select date(start_time), count(*), count(distinct start_gantryid), sum(total)
		 from %q where start_time >= ? and start_time < ? and total > 0
		 group by date(start_time) order by date(start_time)`, table)
	rows, err := db.QueryContext(ctx, dailyQ, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: coverage query %s: %v", ErrUnavailable, table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var d DayCoverage
		if err := rows.Scan(&d.Date, &d.Records, &d.Entities, &d.Flow); err != nil {
			return nil, fmt.Errorf("warehouse: scan coverage: %w", err)
		}
		av.Daily = append(av.Daily, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read coverage: %v", ErrUnavailable, err)
	}
	return av, nil
}
