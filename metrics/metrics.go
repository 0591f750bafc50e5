// Package metrics computes the statistical agreement between simulated and
// observed flow series: MAPE, GEH, Pearson correlation and residual
// statistics, at overall, per-entity, per-interval and per-route scope.
//
// Every division is guarded; a metric that cannot be computed is nil, never
// NaN, Inf or a silent zero.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"simeval/align"
	"simeval/bucket"
	"simeval/config"
)

// Scope labels which subset of the aligned table a Result covers.
type Scope string

const (
	ScopeOverall    Scope = "overall"
	ScopeByEntity   Scope = "by_entity"
	ScopeByInterval Scope = "by_interval"
	ScopeByRoute    Scope = "by_route"
)

// Zero-denominator policies for MAPE. Filter drops obs==0 rows from the mean;
// Epsilon substitutes a configured epsilon for the denominator. The active
// policy is stamped on every Result so consumers know the exact sample used.
const (
	PolicyFilter  = "filter"
	PolicyEpsilon = "epsilon"
)

// Result carries the metrics for one scope subset. Nil fields mean the metric
// is undefined for this subset; SampleSize reflects the rows actually used by
// MAPE after zero-denominator handling, never the raw matched count.
type Result struct {
	Scope Scope  `json:"scope"`
	Key   string `json:"key,omitempty"`

	MAPE        *float64 `json:"mape,omitempty"`          // percent
	GEHMean     *float64 `json:"geh_mean,omitempty"`
	GEHPassRate *float64 `json:"geh_pass_rate,omitempty"` // percent of defined GEH <= threshold
	Correlation *float64 `json:"correlation,omitempty"`

	MAE       *float64 `json:"mae,omitempty"`
	RMSE      *float64 `json:"rmse,omitempty"`
	MeanError *float64 `json:"mean_error,omitempty"` // sim - obs

	TotalSimFlow float64  `json:"total_sim_flow"`
	TotalObsFlow float64  `json:"total_obs_flow"`
	FlowRatio    *float64 `json:"flow_ratio,omitempty"`

	SampleSize   int    `json:"sample_size"`
	GEHSamples   int    `json:"geh_samples"`
	MatchedRows  int    `json:"matched_rows"`
	ZeroExcluded int    `json:"zero_excluded"`
	ZeroPolicy   string `json:"zero_policy"`
}

// SpeedResult holds the speed agreement statistics computed when both sources
// carry a speed column.
type SpeedResult struct {
	MAE         *float64 `json:"mae,omitempty"`
	RMSE        *float64 `json:"rmse,omitempty"`
	Correlation *float64 `json:"correlation,omitempty"`
	SampleSize  int      `json:"sample_size"`
}

// Engine holds the metric policies for one analysis run.
type Engine struct {
	GEHThreshold  float64
	MAPEThreshold float64
	ZeroPolicy    string
	Epsilon       float64
	MinSamples    int
}

// NewEngine builds an engine from config, applying the conventional defaults
// (GEH threshold 5, MAPE threshold 15%, filter policy).
func NewEngine(cfg config.MetricsConfig) *Engine {
	e := &Engine{
		GEHThreshold:  cfg.GEHThreshold,
		MAPEThreshold: cfg.MAPEThreshold,
		ZeroPolicy:    cfg.ZeroPolicy,
		Epsilon:       cfg.Epsilon,
		MinSamples:    cfg.MinSamples,
	}
	if e.GEHThreshold <= 0 {
		e.GEHThreshold = 5
	}
	if e.MAPEThreshold <= 0 {
		e.MAPEThreshold = 15
	}
	if e.ZeroPolicy == "" {
		e.ZeroPolicy = PolicyFilter
	}
	if e.MinSamples <= 0 {
		e.MinSamples = 1
	}
	return e
}

// GEH computes the Geoffrey E. Havers statistic for one row pair:
// sqrt(2*(sim-obs)^2 / (sim+obs)). Nil when sim+obs == 0 (the statistic is
// undefined there, not zero).
func GEH(sim, obs float64) *float64 {
	den := sim + obs
	if den == 0 {
		return nil
	}
	v := math.Sqrt(2 * (sim - obs) * (sim - obs) / den)
	return &v
}

type pair struct{ sim, obs float64 }

// compute runs the full formula set over one set of (sim, obs) pairs.
func (e *Engine) compute(scope Scope, key string, pairs []pair) Result {
	res := Result{Scope: scope, Key: key, ZeroPolicy: e.ZeroPolicy, MatchedRows: len(pairs)}
	if len(pairs) == 0 {
		return res
	}

	// MAPE under the configured zero-denominator policy.
	var mapeSum float64
	for _, p := range pairs {
		res.TotalSimFlow += p.sim
		res.TotalObsFlow += p.obs
		obs := p.obs
		if obs == 0 {
			switch e.ZeroPolicy {
			case PolicyEpsilon:
				obs = e.Epsilon
			default:
				res.ZeroExcluded++
				continue
			}
		}
		mapeSum += math.Abs(p.sim-p.obs) / obs
		res.SampleSize++
	}
	if res.SampleSize >= e.MinSamples && res.SampleSize > 0 {
		v := mapeSum / float64(res.SampleSize) * 100
		res.MAPE = &v
	}

	// GEH over rows where it is defined.
	var gehSum float64
	gehPass := 0
	for _, p := range pairs {
		g := GEH(p.sim, p.obs)
		if g == nil {
			continue
		}
		gehSum += *g
		if *g <= e.GEHThreshold {
			gehPass++
		}
		res.GEHSamples++
	}
	if res.GEHSamples > 0 {
		mean := gehSum / float64(res.GEHSamples)
		rate := float64(gehPass) / float64(res.GEHSamples) * 100
		res.GEHMean = &mean
		res.GEHPassRate = &rate
	}

	// Residual statistics over all matched rows.
	var absSum, sqSum, errSum float64
	for _, p := range pairs {
		d := p.sim - p.obs
		absSum += math.Abs(d)
		sqSum += d * d
		errSum += d
	}
	n := float64(len(pairs))
	mae := absSum / n
	rmse := math.Sqrt(sqSum / n)
	meanErr := errSum / n
	res.MAE = &mae
	res.RMSE = &rmse
	res.MeanError = &meanErr

	if res.TotalObsFlow != 0 {
		ratio := res.TotalSimFlow / res.TotalObsFlow
		res.FlowRatio = &ratio
	}

	res.Correlation = pearson(pairs)
	return res
}

// pearson returns the correlation of sim vs obs, or nil when it is undefined
// (fewer than two pairs, or zero variance on either side).
func pearson(pairs []pair) *float64 {
	if len(pairs) < 2 {
		return nil
	}
	n := float64(len(pairs))
	var sumS, sumO float64
	for _, p := range pairs {
		sumS += p.sim
		sumO += p.obs
	}
	meanS, meanO := sumS/n, sumO/n
	var cov, varS, varO float64
	for _, p := range pairs {
		ds, do := p.sim-meanS, p.obs-meanO
		cov += ds * do
		varS += ds * ds
		varO += do * do
	}
	if varS == 0 || varO == 0 {
		return nil
	}
	r := cov / math.Sqrt(varS*varO)
	return &r
}

// Correlation computes the Pearson correlation of two equal-length samples,
// nil when undefined. Used by the mechanism diagnostics for flow-speed
// relationships.
func Correlation(xs, ys []float64) *float64 {
	if len(xs) != len(ys) {
		return nil
	}
	pairs := make([]pair, len(xs))
	for i := range xs {
		pairs[i] = pair{sim: xs[i], obs: ys[i]}
	}
	return pearson(pairs)
}

func matchedPairs(rows []align.Row) []pair {
	pairs := make([]pair, 0, len(rows))
	for _, r := range rows {
		if !r.Matched {
			continue
		}
		pairs = append(pairs, pair{sim: *r.SimFlow, obs: *r.ObsFlow})
	}
	return pairs
}

// Overall computes the metrics across every matched row of the table.
func (e *Engine) Overall(t *align.Table) Result {
	return e.compute(ScopeOverall, "", matchedPairs(t.Rows))
}

// ByEntity groups matched rows per entity id. Entities below MinSamples still
// produce a Result with nil metrics so "no data" stays distinguishable from
// "zero error".
func (e *Engine) ByEntity(t *align.Table) []Result {
	groups := make(map[string][]pair)
	for _, r := range t.Rows {
		if !r.Matched {
			continue
		}
		groups[r.EntityID] = append(groups[r.EntityID], pair{sim: *r.SimFlow, obs: *r.ObsFlow})
	}
	keys := sortedKeys(groups)
	out := make([]Result, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.compute(ScopeByEntity, k, groups[k]))
	}
	return out
}

// ByInterval groups matched rows per interval offset, keyed as HH:MM.
func (e *Engine) ByInterval(t *align.Table) []Result {
	groups := make(map[int][]pair)
	for _, r := range t.Rows {
		if !r.Matched {
			continue
		}
		groups[r.Offset] = append(groups[r.Offset], pair{sim: *r.SimFlow, obs: *r.ObsFlow})
	}
	offsets := make([]int, 0, len(groups))
	for off := range groups {
		offsets = append(offsets, off)
	}
	sort.Ints(offsets)
	out := make([]Result, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, e.compute(ScopeByInterval, bucket.FormatOffset(off), groups[off]))
	}
	return out
}

// ByRoute first sums constituent entities' flows per (route, interval), then
// runs the formulas on the summed series. Averaging per-entity MAPEs instead
// would double-weight low-volume entities, so that is deliberately not what
// this does. Entities absent from the mapping are skipped.
func (e *Engine) ByRoute(t *align.Table, routeOf func(entityID string) (string, bool)) []Result {
	type rk struct {
		route  string
		offset int
	}
	sums := make(map[rk]pair)
	for _, r := range t.Rows {
		if !r.Matched {
			continue
		}
		route, ok := routeOf(r.EntityID)
		if !ok {
			continue
		}
		k := rk{route: route, offset: r.Offset}
		s := sums[k]
		s.sim += *r.SimFlow
		s.obs += *r.ObsFlow
		sums[k] = s
	}
	groups := make(map[string][]pair)
	for k, s := range sums {
		groups[k.route] = append(groups[k.route], s)
	}
	keys := sortedKeys(groups)
	out := make([]Result, 0, len(keys))
	for _, k := range keys {
		out = append(out, e.compute(ScopeByRoute, k, groups[k]))
	}
	return out
}

// Speed computes speed agreement over matched rows where both sides carry a
// speed value. Returns nil when the table has no shared speed column.
func (e *Engine) Speed(t *align.Table) *SpeedResult {
	if !t.HasSpeed {
		return nil
	}
	pairs := make([]pair, 0, len(t.Rows))
	for _, r := range t.Rows {
		if !r.Matched || r.SimSpeed == nil || r.ObsSpeed == nil {
			continue
		}
		pairs = append(pairs, pair{sim: *r.SimSpeed, obs: *r.ObsSpeed})
	}
	res := &SpeedResult{SampleSize: len(pairs)}
	if len(pairs) == 0 {
		return res
	}
	var absSum, sqSum float64
	for _, p := range pairs {
		d := p.sim - p.obs
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(pairs))
	mae := absSum / n
	rmse := math.Sqrt(sqSum / n)
	res.MAE = &mae
	res.RMSE = &rmse
	res.Correlation = pearson(pairs)
	return res
}

func sortedKeys(m map[string][]pair) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GradeMAPE maps a MAPE value (percent) onto the conventional accuracy bands.
func GradeMAPE(mape *float64) string {
	if mape == nil {
		return "insufficient data"
	}
	switch v := *mape; {
	case v <= 10:
		return "excellent"
	case v <= 15:
		return "good"
	case v <= 20:
		return "fair"
	case v <= 30:
		return "poor"
	default:
		return "bad"
	}
}

// GradeGEHPassRate maps a GEH pass rate (percent) onto the accuracy bands.
func GradeGEHPassRate(rate *float64) string {
	if rate == nil {
		return "insufficient data"
	}
	switch v := *rate; {
	case v >= 85:
		return "excellent"
	case v >= 75:
		return "good"
	case v >= 60:
		return "fair"
	case v >= 40:
		return "poor"
	default:
		return "bad"
	}
}

// FormatMetric renders a nullable metric for human-facing output; undefined
// metrics surface as N/A so a report never implies a measured zero.
func FormatMetric(v *float64, unit string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%s", *v, unit)
}
