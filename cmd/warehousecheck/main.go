// Command warehousecheck reports what observed data the warehouse holds for
// a window, plus an integrity preflight. Meant to be run before a batch of
// analysis jobs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"simeval/bucket"
	"simeval/config"
	"simeval/warehouse"
)

func must(err error) {
	if err != nil {
		log.Fatalf("%v", err)
	}
}

func main() {
	configPath := flag.String("config", "cmd/accuracy/accuracy.yaml", "Path to analysis config YAML")
	dateFlag := flag.String("date", "", "Check a single day YYYY-MM-DD")
	startFlag := flag.String("start", "", "Window start, e.g. 2025-03-10 08:00:00")
	endFlag := flag.String("end", "", "Window end")
	skipPreflight := flag.Bool("skip-preflight", false, "Skip the integrity quick_check")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	must(err)

	var start, end time.Time
	switch {
	case *startFlag != "" && *endFlag != "":
		start, err = bucket.ParseTime(*startFlag)
		must(err)
		end, err = bucket.ParseTime(*endFlag)
		must(err)
	case *dateFlag != "":
		start, err = time.Parse("2006-01-02", *dateFlag)
		must(err)
		end = start.AddDate(0, 0, 1)
	default:
		log.Fatalf("either -date or -start/-end is required")
	}

	store := warehouse.NewStore(cfg.Warehouse, log.Default())
	ctx := context.Background()

	if !*skipPreflight {
		res, err := store.Preflight(ctx)
		must(err)
		if res.Healthy {
			log.Printf("Preflight ok in %s", res.Elapsed.Round(time.Millisecond))
		} else {
			log.Printf("Preflight reported a problem: %v", res.CheckError)
		}
	}

	av, err := store.CheckAvailability(ctx, start, end)
	must(err)

	fmt.Printf("Table %s: ", av.Table)
	if !av.Available {
		fmt.Println("no data in window")
		return
	}
	fmt.Printf("%d records, %d entities, total flow %.0f\n",
		av.TotalRecords, av.Entities, av.TotalFlow)
	if av.AvgSpeed != nil {
		fmt.Printf("Average speed: %.1f km/h\n", *av.AvgSpeed)
	}
	fmt.Printf("Covered: %s to %s\n", av.Earliest, av.Latest)
	for _, day := range av.Daily {
		fmt.Printf("  %s  %6d records  %4d entities  flow %.0f\n",
			day.Date, day.Records, day.Entities, day.Flow)
	}
}
