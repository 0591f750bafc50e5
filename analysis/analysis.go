// Package analysis orchestrates one evaluation run: load both series, align
// them, compute metrics and render the artifact bundle. Each invocation is
// independent and owns its own output directory; only an unreachable source
// fails a run, everything else degrades into structured warnings.
package analysis

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"simeval/align"
	"simeval/bucket"
	"simeval/config"
	"simeval/detector"
	"simeval/metrics"
	"simeval/report"
	"simeval/routes"
	"simeval/series"
)

// Run states, in pipeline order.
type State string

const (
	StateLoading   State = "loading"
	StateAligning  State = "aligning"
	StateComputing State = "computing_metrics"
	StateRendering State = "rendering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Warning kinds. Everything here is survivable; a run only fails when a
// source cannot be read at all.
type WarningKind string

const (
	WarnSourceUnavailable WarningKind = "source_unavailable"
	WarnNoOverlap         WarningKind = "no_overlap"
	WarnPartialParse      WarningKind = "partial_parse_failure"
	WarnDegenerateMetric  WarningKind = "degenerate_metric"
	WarnArtifactFailure   WarningKind = "artifact_generation_failure"
)

type Warning struct {
	Kind    WarningKind `json:"kind"`
	Message string      `json:"message"`
}

// ObservedSource loads the observed series for a window. Empty entityIDs
// means all entities.
type ObservedSource interface {
	Load(ctx context.Context, entityIDs []string, start, end time.Time, width time.Duration) ([]series.Record, error)
}

// SimulatedSource loads the simulated series from a result directory.
type SimulatedSource interface {
	Load(resultDir string) ([]series.Record, detector.Summary, error)
}

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Analyzer runs evaluation invocations against a fixed pair of sources.
type Analyzer struct {
	cfg      config.Config
	obs      ObservedSource
	sim      SimulatedSource
	routes   *routes.Store
	engine   *metrics.Engine
	reporter *report.Reporter
	log      Logger
}

// New wires an analyzer from config and its collaborators. routeStore may be
// nil when no mapping is configured.
func New(cfg config.Config, obs ObservedSource, sim SimulatedSource, routeStore *routes.Store, logger Logger) *Analyzer {
	if logger == nil {
		logger = nopLogger{}
	}
	engine := metrics.NewEngine(cfg.Metrics)
	return &Analyzer{
		cfg:      cfg,
		obs:      obs,
		sim:      sim,
		routes:   routeStore,
		engine:   engine,
		reporter: report.NewReporter(cfg.Report, engine, logger),
		log:      logger,
	}
}

// Request describes one invocation.
type Request struct {
	ResultDir  string
	Kind       string // "accuracy" or "mechanism"
	Start, End time.Time
	EntityIDs  []string
	RoutesPath string // overrides the shared route store for this run
	SkipReport bool
}

// Mechanism holds the extra diagnostics computed for mechanism runs.
type Mechanism struct {
	Speed             *metrics.SpeedResult `json:"speed,omitempty"`
	SimFlowSpeedCorr  *float64             `json:"sim_flow_speed_corr,omitempty"`
	ObsFlowSpeedCorr  *float64             `json:"obs_flow_speed_corr,omitempty"`
	SimCongestedShare *float64             `json:"sim_congested_share,omitempty"`
	ObsCongestedShare *float64             `json:"obs_congested_share,omitempty"`
}

// Result is what one invocation produced.
type Result struct {
	State       State              `json:"state"`
	RunID       string             `json:"run_id"`
	OutputDir   string             `json:"output_dir,omitempty"`
	Overall     metrics.Result     `json:"overall"`
	ByEntity    []metrics.Result   `json:"by_entity,omitempty"`
	ByInterval  []metrics.Result   `json:"by_interval,omitempty"`
	ByRoute     []metrics.Result   `json:"by_route,omitempty"`
	Mechanism   *Mechanism         `json:"mechanism,omitempty"`
	Artifacts   report.ArtifactSet `json:"artifacts"`
	Warnings    []Warning          `json:"warnings,omitempty"`
	Fingerprint uint64             `json:"fingerprint"`
	Elapsed     time.Duration      `json:"elapsed"`
}

func (r *Result) warn(kind WarningKind, format string, args ...any) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Speed below which an interval counts as congested, km/h.
const congestedSpeedKmh = 60.0

// Run executes one invocation. The returned error is non-nil only for fatal
// outcomes (unreachable source, cancelled context); the result always
// carries the state and warnings accumulated so far.
func (a *Analyzer) Run(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()
	res := &Result{State: StateLoading, RunID: uuid.NewString()}
	defer func() { res.Elapsed = time.Since(started) }()

	kind := req.Kind
	if kind == "" {
		kind = "accuracy"
	}
	res.OutputDir = filepath.Join(a.cfg.Report.OutputDir,
		fmt.Sprintf("%s_%s_%s", kind, started.Format("20060102_150405"), res.RunID[:8]))

	if err := ctx.Err(); err != nil {
		res.State = StateFailed
		return res, err
	}

	simRecs, loadSum, err := a.sim.Load(req.ResultDir)
	if err != nil {
		res.State = StateFailed
		res.warn(WarnSourceUnavailable, "simulated source: %v", err)
		return res, fmt.Errorf("analysis: simulated source: %w", err)
	}
	if loadSum.ParseFailures > 0 {
		res.warn(WarnPartialParse, "%d of %d simulated files failed to parse",
			loadSum.ParseFailures, loadSum.FilesSeen)
	}
	a.log.Printf("analysis %s: simulated load: %d files, %d records",
		res.RunID[:8], loadSum.FilesParsed, len(simRecs))

	if err := ctx.Err(); err != nil {
		res.State = StateFailed
		return res, err
	}
	obsRecs, err := a.obs.Load(ctx, req.EntityIDs, req.Start, req.End, a.cfg.BucketWidth())
	if err != nil {
		res.State = StateFailed
		res.warn(WarnSourceUnavailable, "observed source: %v", err)
		return res, fmt.Errorf("analysis: observed source: %w", err)
	}
	a.log.Printf("analysis %s: observed load: %d records", res.RunID[:8], len(obsRecs))

	res.State = StateAligning
	table := align.Align(simRecs, obsRecs)
	res.Fingerprint = table.Fingerprint()
	a.coverageWarnings(res, table)

	res.State = StateComputing
	res.Overall = a.engine.Overall(table)
	res.ByEntity = a.engine.ByEntity(table)
	res.ByInterval = a.engine.ByInterval(table)
	res.ByRoute = a.routeMetrics(res, table, req.RoutesPath)
	if res.Overall.MatchedRows > 0 && res.Overall.MAPE == nil {
		res.warn(WarnDegenerateMetric,
			"MAPE undefined: %d matched rows but none with nonzero observed flow",
			res.Overall.MatchedRows)
	}
	if kind == "mechanism" {
		res.Mechanism = a.mechanismDiagnostics(table)
	}

	res.State = StateRendering
	if !req.SkipReport {
		in := report.Input{
			Table:       table,
			Overall:     res.Overall,
			ByEntity:    res.ByEntity,
			ByInterval:  res.ByInterval,
			ByRoute:     res.ByRoute,
			RunID:       res.RunID,
			Fingerprint: res.Fingerprint,
			Warnings:    warningMessages(res.Warnings),
		}
		if res.Mechanism != nil {
			in.Speed = res.Mechanism.Speed
		}
		if !req.Start.IsZero() {
			in.Window = fmt.Sprintf("%s - %s",
				req.Start.Format("2006-01-02 15:04"), req.End.Format("2006-01-02 15:04"))
		}
		res.Artifacts = a.reporter.Generate(res.OutputDir, in)
		if res.Artifacts.RenderErrors > 0 {
			res.warn(WarnArtifactFailure, "%d artifacts failed to render", res.Artifacts.RenderErrors)
		}
	}

	res.State = StateDone
	return res, nil
}

func (a *Analyzer) coverageWarnings(res *Result, table *align.Table) {
	cov := table.Coverage()
	if cov.MatchedRows == 0 {
		res.warn(WarnNoOverlap, "no overlapping (entity, interval) keys between the two sources")
		for _, nm := range table.NearMisses(2) {
			res.warn(WarnNoOverlap, "simulated entity %s is unmatched; closest observed id is %s (distance %d)",
				nm.SimEntity, nm.ClosestObs, nm.Distance)
		}
		return
	}
	if n := len(cov.SimOnlyEntities); n > 0 {
		res.warn(WarnNoOverlap, "%d simulated entities had no observed data", n)
		for _, nm := range table.NearMisses(2) {
			res.warn(WarnNoOverlap, "simulated entity %s is unmatched; closest observed id is %s (distance %d)",
				nm.SimEntity, nm.ClosestObs, nm.Distance)
		}
	}
	if n := len(cov.ObsOnlyEntities); n > 0 {
		res.warn(WarnNoOverlap, "%d observed entities had no simulated data", n)
	}
}

func (a *Analyzer) routeMetrics(res *Result, table *align.Table, overridePath string) []metrics.Result {
	lookup := a.routes.Lookup
	if overridePath != "" {
		tbl, err := routes.LoadFile(overridePath)
		if err != nil {
			res.warn(WarnDegenerateMetric, "route mapping %s unusable: %v", overridePath, err)
			return nil
		}
		lookup = tbl.Lookup
	} else if a.routes.Count() == 0 {
		return nil
	}
	return a.engine.ByRoute(table, lookup)
}

// mechanismDiagnostics computes the flow-speed relationship per side plus
// speed agreement across sides.
func (a *Analyzer) mechanismDiagnostics(table *align.Table) *Mechanism {
	m := &Mechanism{Speed: a.engine.Speed(table)}

	var simFlow, simSpeed, obsFlow, obsSpeed []float64
	simCongested, obsCongested := 0, 0
	for _, row := range table.Rows {
		if row.SimFlow != nil && row.SimSpeed != nil {
			simFlow = append(simFlow, *row.SimFlow)
			simSpeed = append(simSpeed, *row.SimSpeed)
			if *row.SimSpeed < congestedSpeedKmh {
				simCongested++
			}
		}
		if row.ObsFlow != nil && row.ObsSpeed != nil {
			obsFlow = append(obsFlow, *row.ObsFlow)
			obsSpeed = append(obsSpeed, *row.ObsSpeed)
			if *row.ObsSpeed < congestedSpeedKmh {
				obsCongested++
			}
		}
	}
	m.SimFlowSpeedCorr = metrics.Correlation(simFlow, simSpeed)
	m.ObsFlowSpeedCorr = metrics.Correlation(obsFlow, obsSpeed)
	if n := len(simSpeed); n > 0 {
		share := float64(simCongested) / float64(n)
		m.SimCongestedShare = &share
	}
	if n := len(obsSpeed); n > 0 {
		share := float64(obsCongested) / float64(n)
		m.ObsCongestedShare = &share
	}
	return m
}

func warningMessages(warnings []Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, len(warnings))
	for i, w := range warnings {
		out[i] = string(w.Kind) + ": " + w.Message
	}
	return out
}

// WindowFromResultDir recovers the analysis window encoded in a result
// directory name, for callers that do not pass explicit bounds.
func WindowFromResultDir(resultDir string) (time.Time, time.Time, error) {
	return bucket.ParseRangeFromName(filepath.Base(resultDir))
}
