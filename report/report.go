// Package report renders the diagnostic artifacts for one analysis run:
// chart specs, CSV exports, an HTML report and a plain-text summary. Every
// artifact is generated independently; a failed artifact is counted and
// reported, never fatal.
package report

import (
	"fmt"
	"os"
	"path/filepath"

	"simeval/align"
	"simeval/config"
	"simeval/metrics"
)

type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Input carries everything the reporter renders from. Optional fields may be
// nil or empty; the corresponding artifacts or sections are skipped.
type Input struct {
	Table      *align.Table
	Overall    metrics.Result
	ByEntity   []metrics.Result
	ByInterval []metrics.Result
	ByRoute    []metrics.Result
	Speed      *metrics.SpeedResult

	RunID       string
	Window      string
	Fingerprint uint64
	Warnings    []string
}

// ArtifactSet lists what one Generate call produced.
type ArtifactSet struct {
	Dir          string   `json:"dir"`
	Files        []string `json:"files"`
	RenderErrors int      `json:"render_errors"`
	Errors       []string `json:"errors,omitempty"`
}

// Reporter writes artifact bundles for analysis runs.
type Reporter struct {
	cfg    config.ReportConfig
	engine *metrics.Engine
	log    Logger
}

// NewReporter builds a reporter. The engine supplies the thresholds used to
// pick anomaly rows and grade results.
func NewReporter(cfg config.ReportConfig, engine *metrics.Engine, logger Logger) *Reporter {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.TopOffenders <= 0 {
		cfg.TopOffenders = 10
	}
	if cfg.ExtremeRatioHigh <= 0 {
		cfg.ExtremeRatioHigh = 5
	}
	if cfg.ExtremeRatioLow <= 0 {
		cfg.ExtremeRatioLow = 0.2
	}
	return &Reporter{cfg: cfg, engine: engine, log: logger}
}

// Generate writes the full artifact bundle into dir. One artifact failing
// does not stop the others; the set records every failure.
func (r *Reporter) Generate(dir string, in Input) ArtifactSet {
	set := ArtifactSet{Dir: dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		set.RenderErrors++
		set.Errors = append(set.Errors, fmt.Sprintf("create %s: %v", dir, err))
		return set
	}

	step := func(name string, render func(path string) error) {
		path := filepath.Join(dir, name)
		if err := render(path); err != nil {
			set.RenderErrors++
			set.Errors = append(set.Errors, fmt.Sprintf("%s: %v", name, err))
			r.log.Printf("report: %s failed: %v", name, err)
			return
		}
		set.Files = append(set.Files, name)
	}

	step("overlay.json", func(p string) error { return r.writeOverlayChart(p, in) })
	step("scatter.json", func(p string) error { return r.writeScatterChart(p, in) })
	step("residual_histogram.json", func(p string) error { return r.writeResidualHistogram(p, in) })
	step("top_offenders.json", func(p string) error { return r.writeTopOffenders(p, in) })

	step("metrics_overall.csv", func(p string) error { return writeMetricsCSV(p, []metrics.Result{in.Overall}) })
	step("metrics_by_entity.csv", func(p string) error { return writeMetricsCSV(p, in.ByEntity) })
	step("metrics_by_interval.csv", func(p string) error { return writeMetricsCSV(p, in.ByInterval) })
	if len(in.ByRoute) > 0 {
		step("metrics_by_route.csv", func(p string) error { return writeMetricsCSV(p, in.ByRoute) })
	}
	step("aligned.csv", func(p string) error { return writeAlignedCSV(p, in.Table) })
	step("anomalies.csv", func(p string) error { return r.writeAnomaliesCSV(p, in) })

	step("summary.txt", func(p string) error {
		return os.WriteFile(p, []byte(r.buildTextSummary(in, &set)), 0o644)
	})
	if !r.cfg.SkipHTML {
		step("report.html", func(p string) error { return r.writeHTML(p, in) })
	}
	return set
}
