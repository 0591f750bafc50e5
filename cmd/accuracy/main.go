// Command accuracy runs one evaluation of a simulation result directory
// against the observed warehouse and writes the artifact bundle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"simeval/analysis"
	"simeval/bucket"
	"simeval/config"
	"simeval/detector"
	"simeval/routes"
	"simeval/warehouse"
)

func must(err error) {
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func main() {
	configPath := flag.String("config", "cmd/accuracy/accuracy.yaml", "Path to analysis config YAML")
	resultDir := flag.String("result-dir", "", "Simulation result directory (required)")
	dateFlag := flag.String("date", "", "Analysis date YYYY-MM-DD (defaults to the window in the result dir name)")
	startFlag := flag.String("start", "", "Window start, e.g. 2025-03-10 08:00:00")
	endFlag := flag.String("end", "", "Window end")
	kind := flag.String("kind", "accuracy", "Analysis kind: accuracy or mechanism")
	routesPath := flag.String("routes", "", "Entity-to-route mapping file for this run")
	skipReport := flag.Bool("skip-report", false, "Compute metrics only, write no artifacts")
	flag.Parse()

	if *resultDir == "" {
		flag.Usage()
		log.Fatalf("-result-dir is required")
	}
	if *kind != "accuracy" && *kind != "mechanism" {
		log.Fatalf("unknown kind %q", *kind)
	}

	cfg, err := config.Load(*configPath)
	must(err)
	cfg.Print()

	start, end, err := resolveWindow(*resultDir, *dateFlag, *startFlag, *endFlag)
	must(err)
	log.Printf("Window: %s - %s",
		start.Format("2006-01-02 15:04:05"), end.Format("2006-01-02 15:04:05"))

	store := warehouse.NewStore(cfg.Warehouse, log.Default())
	loader := detector.NewLoader(cfg.Detector, cfg.BucketWidth(), log.Default())

	routeStore := routes.NewStore()
	if cfg.Routes.MappingFile != "" {
		table, err := routes.LoadFile(cfg.Routes.MappingFile)
		if err != nil {
			log.Printf("Warning: route mapping unusable: %v", err)
		} else {
			routeStore.Set(table)
			log.Printf("Loaded %d route assignments", table.Count())
		}
	}

	analyzer := analysis.New(*cfg, store, loader, routeStore, log.Default())
	res, err := analyzer.Run(context.Background(), analysis.Request{
		ResultDir:  *resultDir,
		Kind:       *kind,
		Start:      start,
		End:        end,
		RoutesPath: *routesPath,
		SkipReport: *skipReport,
	})
	if err != nil {
		log.Fatalf("analysis failed (%s): %v", res.State, err)
	}

	for _, w := range res.Warnings {
		log.Printf("Warning [%s]: %s", w.Kind, w.Message)
	}
	printSummary(res)
	if !*skipReport {
		fmt.Printf("\nArtifacts in %s (%d files", res.OutputDir, len(res.Artifacts.Files))
		if res.Artifacts.RenderErrors > 0 {
			fmt.Printf(", %d failed", res.Artifacts.RenderErrors)
		}
		fmt.Println(")")
	}
	if res.State != analysis.StateDone {
		os.Exit(1)
	}
}

// resolveWindow prefers explicit -start/-end, then -date (a full day), then
// the range encoded in the result directory name.
func resolveWindow(resultDir, date, start, end string) (time.Time, time.Time, error) {
	if start != "" && end != "" {
		s, err := bucket.ParseTime(start)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		e, err := bucket.ParseTime(end)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return s, e, nil
	}
	if date != "" {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		return d, d.AddDate(0, 0, 1), nil
	}
	return analysis.WindowFromResultDir(resultDir)
}

func printSummary(res *analysis.Result) {
	o := res.Overall
	fmt.Printf("\nOverall (%d matched rows, fingerprint %016x):\n", o.MatchedRows, res.Fingerprint)
	fmt.Printf("  MAPE          %s\n", formatPct(o.MAPE))
	fmt.Printf("  GEH mean      %s (%d defined rows)\n", formatPlain(o.GEHMean), o.GEHSamples)
	fmt.Printf("  GEH pass rate %s\n", formatPct(o.GEHPassRate))
	fmt.Printf("  Correlation   %s\n", formatPlain(o.Correlation))
	if res.Mechanism != nil && res.Mechanism.Speed != nil {
		fmt.Printf("  Speed MAE     %s over %d rows\n",
			formatPlain(res.Mechanism.Speed.MAE), res.Mechanism.Speed.SampleSize)
	}
	for _, route := range res.ByRoute {
		fmt.Printf("  Route %-10s MAPE %s\n", route.Key, formatPct(route.MAPE))
	}
	fmt.Printf("Elapsed: %s\n", res.Elapsed.Round(time.Millisecond))
}

func formatPct(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

func formatPlain(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.3f", *v)
}
