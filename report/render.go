package report

import (
	"encoding/csv"
	"fmt"
	"html/template"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"simeval/align"
	"simeval/bucket"
	"simeval/metrics"
)

func formatNullable(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func writeMetricsCSV(path string, results []metrics.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{
		"scope", "key", "mape", "geh_mean", "geh_pass_rate", "correlation",
		"mae", "rmse", "mean_error", "total_sim_flow", "total_obs_flow",
		"flow_ratio", "sample_size", "geh_samples", "matched_rows",
		"zero_excluded", "zero_policy",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, res := range results {
		row := []string{
			string(res.Scope), res.Key,
			formatNullable(res.MAPE), formatNullable(res.GEHMean),
			formatNullable(res.GEHPassRate), formatNullable(res.Correlation),
			formatNullable(res.MAE), formatNullable(res.RMSE),
			formatNullable(res.MeanError),
			strconv.FormatFloat(res.TotalSimFlow, 'f', -1, 64),
			strconv.FormatFloat(res.TotalObsFlow, 'f', -1, 64),
			formatNullable(res.FlowRatio),
			strconv.Itoa(res.SampleSize), strconv.Itoa(res.GEHSamples),
			strconv.Itoa(res.MatchedRows), strconv.Itoa(res.ZeroExcluded),
			res.ZeroPolicy,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func writeAlignedCSV(path string, t *align.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"entity_id", "interval", "sim_flow", "obs_flow", "sim_speed", "obs_speed", "matched"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range t.Rows {
		rec := []string{
			row.EntityID, bucket.FormatOffset(row.Offset),
			formatNullable(row.SimFlow), formatNullable(row.ObsFlow),
			formatNullable(row.SimSpeed), formatNullable(row.ObsSpeed),
			strconv.FormatBool(row.Matched),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// writeAnomaliesCSV exports the rows worth a second look: undefined or failing
// GEH, large per-row error, zero observed flow, extreme sim/obs ratio, and
// rows missing a counterpart.
func (r *Reporter) writeAnomaliesCSV(path string, in Input) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"entity_id", "interval", "sim_flow", "obs_flow", "geh", "ape_percent", "ratio", "reasons"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range in.Table.Rows {
		var reasons []string
		var geh, ape, ratio *float64
		if row.Matched {
			s, o := *row.SimFlow, *row.ObsFlow
			geh = metrics.GEH(s, o)
			if geh != nil && *geh > r.engine.GEHThreshold {
				reasons = append(reasons, "geh_above_threshold")
			}
			if o == 0 {
				reasons = append(reasons, "zero_observed")
			} else {
				v := (s - o) / o * 100
				if v < 0 {
					v = -v
				}
				ape = &v
				if v > r.engine.MAPEThreshold {
					reasons = append(reasons, "ape_above_threshold")
				}
				rt := s / o
				ratio = &rt
				if rt > r.cfg.ExtremeRatioHigh || rt < r.cfg.ExtremeRatioLow {
					reasons = append(reasons, "extreme_ratio")
				}
			}
		} else if row.SimFlow != nil {
			reasons = append(reasons, "no_observed_counterpart")
		} else {
			reasons = append(reasons, "no_simulated_counterpart")
		}
		if len(reasons) == 0 {
			continue
		}
		rec := []string{
			row.EntityID, bucket.FormatOffset(row.Offset),
			formatNullable(row.SimFlow), formatNullable(row.ObsFlow),
			formatNullable(geh), formatNullable(ape), formatNullable(ratio),
			strings.Join(reasons, ";"),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (r *Reporter) buildTextSummary(in Input, set *ArtifactSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Accuracy analysis run %s", in.RunID)
	if in.Window != "" {
		fmt.Fprintf(&b, " (%s)", in.Window)
	}
	b.WriteString("\n\n")

	cov := in.Table.Coverage()
	fmt.Fprintf(&b, "Aligned %s rows (%s matched, %s sim-only, %s obs-only) across %s entities.\n",
		humanize.Comma(int64(len(in.Table.Rows))),
		humanize.Comma(int64(cov.MatchedRows)),
		humanize.Comma(int64(cov.SimOnlyRows)),
		humanize.Comma(int64(cov.ObsOnlyRows)),
		humanize.Comma(int64(len(in.ByEntity))))
	fmt.Fprintf(&b, "Table fingerprint: %016x\n\n", in.Fingerprint)

	o := in.Overall
	fmt.Fprintf(&b, "MAPE:          %s (%s; zero policy %s, %d rows excluded)\n",
		metrics.FormatMetric(o.MAPE, "%"), metrics.GradeMAPE(o.MAPE), o.ZeroPolicy, o.ZeroExcluded)
	fmt.Fprintf(&b, "GEH mean:      %s over %d defined rows\n",
		metrics.FormatMetric(o.GEHMean, ""), o.GEHSamples)
	fmt.Fprintf(&b, "GEH pass rate: %s (%s; threshold %.1f)\n",
		metrics.FormatMetric(o.GEHPassRate, "%"), metrics.GradeGEHPassRate(o.GEHPassRate), r.engine.GEHThreshold)
	fmt.Fprintf(&b, "Correlation:   %s\n", metrics.FormatMetric(o.Correlation, ""))
	fmt.Fprintf(&b, "MAE / RMSE:    %s / %s\n",
		metrics.FormatMetric(o.MAE, ""), metrics.FormatMetric(o.RMSE, ""))
	fmt.Fprintf(&b, "Flow totals:   sim %s, obs %s, ratio %s\n",
		humanize.CommafWithDigits(o.TotalSimFlow, 0),
		humanize.CommafWithDigits(o.TotalObsFlow, 0),
		metrics.FormatMetric(o.FlowRatio, ""))

	if in.Speed != nil {
		fmt.Fprintf(&b, "Speed MAE / RMSE / corr: %s / %s / %s over %d rows\n",
			metrics.FormatMetric(in.Speed.MAE, " km/h"),
			metrics.FormatMetric(in.Speed.RMSE, " km/h"),
			metrics.FormatMetric(in.Speed.Correlation, ""),
			in.Speed.SampleSize)
	}

	if len(in.ByRoute) > 0 {
		b.WriteString("\nRoutes:\n")
		for _, res := range in.ByRoute {
			fmt.Fprintf(&b, "  %-12s MAPE %s  GEH pass %s  (%d intervals)\n",
				res.Key, metrics.FormatMetric(res.MAPE, "%"),
				metrics.FormatMetric(res.GEHPassRate, "%"), res.SampleSize)
		}
	}

	if len(in.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, warning := range in.Warnings {
			fmt.Fprintf(&b, "  - %s\n", warning)
		}
	}

	if set != nil && len(set.Files) > 0 {
		b.WriteString("\nArtifacts:\n")
		for _, name := range set.Files {
			fmt.Fprintf(&b, "  %s\n", name)
		}
		if set.RenderErrors > 0 {
			fmt.Fprintf(&b, "  (%d artifacts failed to render)\n", set.RenderErrors)
		}
	}
	return b.String()
}

var htmlTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Accuracy report {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; margin: 1em 0; }
th, td { border: 1px solid #ccc; padding: 4px 10px; text-align: right; }
th:first-child, td:first-child { text-align: left; }
.warn { color: #a50; }
</style>
</head>
<body>
<h1>Accuracy report</h1>
<p>Run {{.RunID}}{{if .Window}} &mdash; {{.Window}}{{end}}. Fingerprint {{.Fingerprint}}.</p>

<h2>Overall</h2>
<table>
<tr><th>Metric</th><th>Value</th><th>Grade</th></tr>
<tr><td>MAPE</td><td>{{.MAPE}}</td><td>{{.MAPEGrade}}</td></tr>
<tr><td>GEH mean</td><td>{{.GEHMean}}</td><td></td></tr>
<tr><td>GEH pass rate</td><td>{{.GEHPassRate}}</td><td>{{.GEHGrade}}</td></tr>
<tr><td>Correlation</td><td>{{.Correlation}}</td><td></td></tr>
<tr><td>MAE</td><td>{{.MAE}}</td><td></td></tr>
<tr><td>RMSE</td><td>{{.RMSE}}</td><td></td></tr>
<tr><td>Flow ratio</td><td>{{.FlowRatio}}</td><td></td></tr>
</table>
<p>Sample size {{.SampleSize}} ({{.ZeroExcluded}} zero-observed rows excluded, policy {{.ZeroPolicy}}).</p>

{{if .Routes}}
<h2>Routes</h2>
<table>
<tr><th>Route</th><th>MAPE</th><th>GEH pass rate</th><th>Intervals</th></tr>
{{range .Routes}}<tr><td>{{.Key}}</td><td>{{.MAPE}}</td><td>{{.GEHPassRate}}</td><td>{{.SampleSize}}</td></tr>
{{end}}</table>
{{end}}

<h2>Entities</h2>
<table>
<tr><th>Entity</th><th>MAPE</th><th>GEH mean</th><th>GEH pass rate</th><th>Samples</th></tr>
{{range .Entities}}<tr><td>{{.Key}}</td><td>{{.MAPE}}</td><td>{{.GEHMean}}</td><td>{{.GEHPassRate}}</td><td>{{.SampleSize}}</td></tr>
{{end}}</table>

{{if .Warnings}}
<h2>Warnings</h2>
<ul>
{{range .Warnings}}<li class="warn">{{.}}</li>
{{end}}</ul>
{{end}}
</body>
</html>
`))

type htmlMetricRow struct {
	Key         string
	MAPE        string
	GEHMean     string
	GEHPassRate string
	SampleSize  int
}

type htmlData struct {
	RunID        string
	Window       string
	Fingerprint  string
	MAPE         string
	MAPEGrade    string
	GEHMean      string
	GEHPassRate  string
	GEHGrade     string
	Correlation  string
	MAE          string
	RMSE         string
	FlowRatio    string
	SampleSize   int
	ZeroExcluded int
	ZeroPolicy   string
	Routes       []htmlMetricRow
	Entities     []htmlMetricRow
	Warnings     []string
}

func (r *Reporter) writeHTML(path string, in Input) error {
	o := in.Overall
	data := htmlData{
		RunID:        in.RunID,
		Window:       in.Window,
		Fingerprint:  fmt.Sprintf("%016x", in.Fingerprint),
		MAPE:         metrics.FormatMetric(o.MAPE, "%"),
		MAPEGrade:    metrics.GradeMAPE(o.MAPE),
		GEHMean:      metrics.FormatMetric(o.GEHMean, ""),
		GEHPassRate:  metrics.FormatMetric(o.GEHPassRate, "%"),
		GEHGrade:     metrics.GradeGEHPassRate(o.GEHPassRate),
		Correlation:  metrics.FormatMetric(o.Correlation, ""),
		MAE:          metrics.FormatMetric(o.MAE, ""),
		RMSE:         metrics.FormatMetric(o.RMSE, ""),
		FlowRatio:    metrics.FormatMetric(o.FlowRatio, ""),
		SampleSize:   o.SampleSize,
		ZeroExcluded: o.ZeroExcluded,
		ZeroPolicy:   o.ZeroPolicy,
		Warnings:     in.Warnings,
	}
	toRow := func(res metrics.Result) htmlMetricRow {
		return htmlMetricRow{
			Key:         res.Key,
			MAPE:        metrics.FormatMetric(res.MAPE, "%"),
			GEHMean:     metrics.FormatMetric(res.GEHMean, ""),
			GEHPassRate: metrics.FormatMetric(res.GEHPassRate, "%"),
			SampleSize:  res.SampleSize,
		}
	}
	for _, res := range in.ByRoute {
		data.Routes = append(data.Routes, toRow(res))
	}
	for _, res := range in.ByEntity {
		data.Entities = append(data.Entities, toRow(res))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := htmlTmpl.Execute(f, data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
