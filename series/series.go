// Package series defines the tabular record shape shared by the observed and
// simulated loaders, plus the identifier normalization that joins them.
package series

import (
	"sort"
	"strings"
)

// ClassColumns lists the per-vehicle-class flow columns the warehouse carries:
// k1..k4 passenger classes, h1..h6 truck classes. Their sum is the total flow.
var ClassColumns = []string{"k1", "k2", "k3", "k4", "h1", "h2", "h3", "h4", "h5", "h6"}

// Record is one (entity, interval) observation from either source. Records are
// immutable after creation and live only for the duration of one analysis run.
type Record struct {
	EntityID string
	// Offset is the interval start in minutes on the shared grid.
	Offset int
	Flow   float64
	// Speed is km/h when the source reports it, nil otherwise.
	Speed *float64
	// Classes holds the per-class flow breakdown when available.
	Classes map[string]float64
}

// Key identifies a row in the aligned table.
type Key struct {
	EntityID string
	Offset   int
}

// DeriveEntityID maps a raw simulated detector id onto the physical entity
// namespace shared with the observed side. Detector ids encode the entity id
// as the prefix before the first underscore ("G001234_lane0_e1" -> "G001234");
// ids without a delimiter are already entity ids. This rule is the single
// normalization seam for the whole pipeline; callers must not re-split ids.
func DeriveEntityID(detectorID string) string {
	id := strings.TrimSpace(detectorID)
	if i := strings.IndexByte(id, '_'); i > 0 {
		return id[:i]
	}
	return id
}

// SpeedValue returns a pointer to v, for building optional speed columns.
func SpeedValue(v float64) *float64 { return &v }

// Aggregate collapses records sharing an (entity, offset) key: flows and class
// counts are summed, speed becomes the flow-weighted mean of the rows that
// carried one. The result is sorted by entity then offset so downstream output
// is stable run to run.
func Aggregate(records []Record) []Record {
	type acc struct {
		flow       float64
		classes    map[string]float64
		speedSum   float64 // sum of speed*weight
		speedTotal float64 // sum of weights
	}
	byKey := make(map[Key]*acc, len(records))
	for _, r := range records {
		k := Key{EntityID: r.EntityID, Offset: r.Offset}
		a := byKey[k]
		if a == nil {
			a = &acc{}
			byKey[k] = a
		}
		a.flow += r.Flow
		if len(r.Classes) > 0 {
			if a.classes == nil {
				a.classes = make(map[string]float64, len(r.Classes))
			}
			for c, v := range r.Classes {
				a.classes[c] += v
			}
		}
		if r.Speed != nil {
			w := r.Flow
			if w <= 0 {
				// Zero-flow rows still carry a valid speed sample.
				w = 1
			}
			a.speedSum += *r.Speed * w
			a.speedTotal += w
		}
	}

	out := make([]Record, 0, len(byKey))
	for k, a := range byKey {
		rec := Record{EntityID: k.EntityID, Offset: k.Offset, Flow: a.flow, Classes: a.classes}
		if a.speedTotal > 0 {
			rec.Speed = SpeedValue(a.speedSum / a.speedTotal)
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

// Entities returns the distinct entity ids present in records, sorted.
func Entities(records []Record) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.EntityID] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasSpeed reports whether any record carries a speed value.
func HasSpeed(records []Record) bool {
	for _, r := range records {
		if r.Speed != nil {
			return true
		}
	}
	return false
}
