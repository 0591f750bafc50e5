package report

import (
	"encoding/json"
	"math"
	"os"
	"sort"

	"simeval/bucket"
	"simeval/metrics"
)

// Chart specs are plain JSON documents; whatever front end picks them up
// decides how to draw them.

type overlaySeries struct {
	Label     string     `json:"label"`
	Intervals []string   `json:"intervals"`
	Simulated []*float64 `json:"simulated"`
	Observed  []*float64 `json:"observed"`
}

type overlayChart struct {
	Kind      string          `json:"kind"`
	RunID     string          `json:"run_id"`
	Window    string          `json:"window,omitempty"`
	Aggregate overlaySeries   `json:"aggregate"`
	Entities  []overlaySeries `json:"entities"`
}

func (r *Reporter) writeOverlayChart(path string, in Input) error {
	chart := overlayChart{Kind: "timeseries_overlay", RunID: in.RunID, Window: in.Window}

	byEntity := make(map[string]map[int][2]*float64)
	aggSim := make(map[int]float64)
	aggObs := make(map[int]float64)
	offsetSet := make(map[int]struct{})
	for _, row := range in.Table.Rows {
		offsetSet[row.Offset] = struct{}{}
		m := byEntity[row.EntityID]
		if m == nil {
			m = make(map[int][2]*float64)
			byEntity[row.EntityID] = m
		}
		m[row.Offset] = [2]*float64{row.SimFlow, row.ObsFlow}
		if row.SimFlow != nil {
			aggSim[row.Offset] += *row.SimFlow
		}
		if row.ObsFlow != nil {
			aggObs[row.Offset] += *row.ObsFlow
		}
	}

	offsets := make([]int, 0, len(offsetSet))
	for off := range offsetSet {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	labels := make([]string, len(offsets))
	for i, off := range offsets {
		labels[i] = bucket.FormatOffset(off)
	}

	chart.Aggregate = overlaySeries{Label: "all entities", Intervals: labels}
	for _, off := range offsets {
		s, o := aggSim[off], aggObs[off]
		chart.Aggregate.Simulated = append(chart.Aggregate.Simulated, &s)
		chart.Aggregate.Observed = append(chart.Aggregate.Observed, &o)
	}

	entities := make([]string, 0, len(byEntity))
	for id := range byEntity {
		entities = append(entities, id)
	}
	sort.Strings(entities)
	for _, id := range entities {
		series := overlaySeries{Label: id, Intervals: labels}
		cells := byEntity[id]
		for _, off := range offsets {
			cell := cells[off]
			series.Simulated = append(series.Simulated, cell[0])
			series.Observed = append(series.Observed, cell[1])
		}
		chart.Entities = append(chart.Entities, series)
	}
	return writeJSON(path, chart)
}

type scatterPoint struct {
	EntityID  string  `json:"entity_id"`
	Interval  string  `json:"interval"`
	Observed  float64 `json:"observed"`
	Simulated float64 `json:"simulated"`
}

type scatterChart struct {
	Kind   string         `json:"kind"`
	RunID  string         `json:"run_id"`
	Points []scatterPoint `json:"points"`
	// Reference diagonal is implied (y = x); the fitted line quantifies bias.
	FitSlope     *float64 `json:"fit_slope,omitempty"`
	FitIntercept *float64 `json:"fit_intercept,omitempty"`
}

func (r *Reporter) writeScatterChart(path string, in Input) error {
	chart := scatterChart{Kind: "scatter_sim_vs_obs", RunID: in.RunID}
	var sumX, sumY, sumXX, sumXY float64
	for _, row := range in.Table.Rows {
		if !row.Matched {
			continue
		}
		x, y := *row.ObsFlow, *row.SimFlow
		chart.Points = append(chart.Points, scatterPoint{
			EntityID:  row.EntityID,
			Interval:  bucket.FormatOffset(row.Offset),
			Observed:  x,
			Simulated: y,
		})
		sumX += x
		sumY += y
		sumXX += x * x
		sumXY += x * y
	}
	// Least-squares fit of simulated on observed; undefined when the
	// observed values have no spread.
	n := float64(len(chart.Points))
	if n >= 2 {
		den := n*sumXX - sumX*sumX
		if den != 0 {
			slope := (n*sumXY - sumX*sumY) / den
			intercept := (sumY - slope*sumX) / n
			chart.FitSlope = &slope
			chart.FitIntercept = &intercept
		}
	}
	return writeJSON(path, chart)
}

type histogramBin struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

type residualChart struct {
	Kind  string         `json:"kind"`
	RunID string         `json:"run_id"`
	Bins  []histogramBin `json:"bins"`
}

func (r *Reporter) writeResidualHistogram(path string, in Input) error {
	chart := residualChart{Kind: "residual_histogram", RunID: in.RunID}
	var residuals []float64
	for _, row := range in.Table.Rows {
		if !row.Matched {
			continue
		}
		residuals = append(residuals, *row.SimFlow-*row.ObsFlow)
	}
	chart.Bins = binResiduals(residuals, 20)
	return writeJSON(path, chart)
}

func binResiduals(residuals []float64, bins int) []histogramBin {
	if len(residuals) == 0 {
		return nil
	}
	lo, hi := residuals[0], residuals[0]
	for _, v := range residuals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return []histogramBin{{Low: lo, High: hi, Count: len(residuals)}}
	}
	width := (hi - lo) / float64(bins)
	out := make([]histogramBin, bins)
	for i := range out {
		out[i] = histogramBin{Low: lo + float64(i)*width, High: lo + float64(i+1)*width}
	}
	for _, v := range residuals {
		idx := int(math.Floor((v - lo) / width))
		if idx >= bins {
			idx = bins - 1
		}
		out[idx].Count++
	}
	return out
}

type offender struct {
	EntityID    string   `json:"entity_id"`
	MAPE        *float64 `json:"mape,omitempty"`
	GEHMean     *float64 `json:"geh_mean,omitempty"`
	GEHPassRate *float64 `json:"geh_pass_rate,omitempty"`
	SampleSize  int      `json:"sample_size"`
}

type offendersChart struct {
	Kind   string     `json:"kind"`
	RunID  string     `json:"run_id"`
	ByMAPE []offender `json:"by_mape"`
	ByGEH  []offender `json:"by_geh"`
	TopN   int        `json:"top_n"`
}

func (r *Reporter) writeTopOffenders(path string, in Input) error {
	chart := offendersChart{Kind: "top_offenders", RunID: in.RunID, TopN: r.cfg.TopOffenders}

	toOffender := func(res metrics.Result) offender {
		return offender{
			EntityID:    res.Key,
			MAPE:        res.MAPE,
			GEHMean:     res.GEHMean,
			GEHPassRate: res.GEHPassRate,
			SampleSize:  res.SampleSize,
		}
	}

	byMAPE := make([]metrics.Result, 0, len(in.ByEntity))
	byGEH := make([]metrics.Result, 0, len(in.ByEntity))
	for _, res := range in.ByEntity {
		if res.MAPE != nil {
			byMAPE = append(byMAPE, res)
		}
		if res.GEHMean != nil {
			byGEH = append(byGEH, res)
		}
	}
	sort.Slice(byMAPE, func(i, j int) bool { return *byMAPE[i].MAPE > *byMAPE[j].MAPE })
	sort.Slice(byGEH, func(i, j int) bool { return *byGEH[i].GEHMean > *byGEH[j].GEHMean })
	for i, res := range byMAPE {
		if i >= r.cfg.TopOffenders {
			break
		}
		chart.ByMAPE = append(chart.ByMAPE, toOffender(res))
	}
	for i, res := range byGEH {
		if i >= r.cfg.TopOffenders {
			break
		}
		chart.ByGEH = append(chart.ByGEH, toOffender(res))
	}
	return writeJSON(path, chart)
}

func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}
