// Package align joins the observed and simulated series into one table keyed
// by (entity, interval). The join is a left-biased union: keys from either
// side appear exactly once, and systematic coverage gaps (a detector with no
// physical sensor, a sensor never simulated) stay visible as unmatched rows
// instead of being dropped.
package align

import (
	"encoding/binary"
	"math"
	"sort"

	lev "github.com/agnivade/levenshtein"
	"github.com/zeebo/xxh3"

	"simeval/series"
)

// Row is one aligned (entity, interval) cell pair. A nil flow means that side
// contributed no record for the key. Matched is set only when both flows are
// present; unmatched rows are kept for diagnostics and excluded from metric
// computation by default.
type Row struct {
	EntityID string
	Offset   int
	SimFlow  *float64
	ObsFlow  *float64
	SimSpeed *float64
	ObsSpeed *float64
	// ObsClasses carries the observed per-class breakdown. It exists on one
	// side only, so it never feeds metric formulas.
	ObsClasses map[string]float64
	Matched    bool
}

// Table is the aligned frame, owned exclusively by one analysis invocation.
type Table struct {
	Rows []Row
	// HasSpeed is true when both sources carried speed somewhere, making
	// speed an eligible metric column.
	HasSpeed bool
}

// Coverage summarizes how the two sources overlap.
type Coverage struct {
	MatchedRows int
	SimOnlyRows int
	ObsOnlyRows int
	// Entities seen exclusively on one side.
	SimOnlyEntities []string
	ObsOnlyEntities []string
}

// Align builds the aligned table from the two record streams. Either stream
// may be empty; the result is then all-unmatched, not an error.
func Align(sim, obs []series.Record) *Table {
	type cell struct {
		simFlow, obsFlow   *float64
		simSpeed, obsSpeed *float64
		obsClasses         map[string]float64
	}
	cells := make(map[series.Key]*cell, len(sim)+len(obs))
	get := func(k series.Key) *cell {
		c := cells[k]
		if c == nil {
			c = &cell{}
			cells[k] = c
		}
		return c
	}
	for i := range sim {
		r := &sim[i]
		c := get(series.Key{EntityID: r.EntityID, Offset: r.Offset})
		f := r.Flow
		c.simFlow = &f
		c.simSpeed = r.Speed
	}
	for i := range obs {
		r := &obs[i]
		c := get(series.Key{EntityID: r.EntityID, Offset: r.Offset})
		f := r.Flow
		c.obsFlow = &f
		c.obsSpeed = r.Speed
		c.obsClasses = r.Classes
	}

	t := &Table{Rows: make([]Row, 0, len(cells))}
	for k, c := range cells {
		t.Rows = append(t.Rows, Row{
			EntityID:   k.EntityID,
			Offset:     k.Offset,
			SimFlow:    c.simFlow,
			ObsFlow:    c.obsFlow,
			SimSpeed:   c.simSpeed,
			ObsSpeed:   c.obsSpeed,
			ObsClasses: c.obsClasses,
			Matched:    c.simFlow != nil && c.obsFlow != nil,
		})
	}
	sort.Slice(t.Rows, func(i, j int) bool {
		if t.Rows[i].EntityID != t.Rows[j].EntityID {
			return t.Rows[i].EntityID < t.Rows[j].EntityID
		}
		return t.Rows[i].Offset < t.Rows[j].Offset
	})
	t.HasSpeed = series.HasSpeed(sim) && series.HasSpeed(obs)
	return t
}

// Matched returns the rows eligible for metric computation.
func (t *Table) Matched() []Row {
	out := make([]Row, 0, len(t.Rows))
	for _, r := range t.Rows {
		if r.Matched {
			out = append(out, r)
		}
	}
	return out
}

// Coverage computes overlap counters and the per-side exclusive entity sets.
func (t *Table) Coverage() Coverage {
	var cov Coverage
	simSeen := make(map[string]bool)
	obsSeen := make(map[string]bool)
	for _, r := range t.Rows {
		switch {
		case r.Matched:
			cov.MatchedRows++
		case r.SimFlow != nil:
			cov.SimOnlyRows++
		default:
			cov.ObsOnlyRows++
		}
		if r.SimFlow != nil {
			simSeen[r.EntityID] = true
		}
		if r.ObsFlow != nil {
			obsSeen[r.EntityID] = true
		}
	}
	for id := range simSeen {
		if !obsSeen[id] {
			cov.SimOnlyEntities = append(cov.SimOnlyEntities, id)
		}
	}
	for id := range obsSeen {
		if !simSeen[id] {
			cov.ObsOnlyEntities = append(cov.ObsOnlyEntities, id)
		}
	}
	sort.Strings(cov.SimOnlyEntities)
	sort.Strings(cov.ObsOnlyEntities)
	return cov
}

// Fingerprint hashes the full table content so reports and exported tables
// can be tied back to the exact aligned frame of one run. Rows are already in
// canonical order, so the hash is stable for identical inputs.
func (t *Table) Fingerprint() uint64 {
	h := xxh3.New()
	var buf [8]byte
	writeF := func(v *float64) {
		if v == nil {
			_, _ = h.Write([]byte{0})
			return
		}
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(*v))
		_, _ = h.Write(buf[:])
	}
	for _, r := range t.Rows {
		_, _ = h.WriteString(r.EntityID)
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(r.Offset)))
		_, _ = h.Write(buf[:])
		writeF(r.SimFlow)
		writeF(r.ObsFlow)
	}
	return h.Sum64()
}

// NearMiss pairs a simulated-only entity with the closest observed-only
// entity id, for "did the detector naming drift" warnings.
type NearMiss struct {
	SimEntity  string
	ClosestObs string
	Distance   int
}

// NearMisses scans the exclusive entity sets for ids within maxDistance edits
// of each other. Purely diagnostic: the aligner never joins on fuzzy matches.
func (t *Table) NearMisses(maxDistance int) []NearMiss {
	if maxDistance <= 0 {
		maxDistance = 2
	}
	cov := t.Coverage()
	var out []NearMiss
	for _, simID := range cov.SimOnlyEntities {
		best := ""
		bestDist := maxDistance + 1
		for _, obsID := range cov.ObsOnlyEntities {
			d := lev.ComputeDistance(simID, obsID)
			if d < bestDist {
				best, bestDist = obsID, d
			}
		}
		if best != "" {
			out = append(out, NearMiss{SimEntity: simID, ClosestObs: best, Distance: bestDist})
		}
	}
	return out
}
