// Package detector loads simulated flow series from SUMO E1 induction-loop
// output files. The loader walks a result directory recursively, parses every
// detector XML it finds, and maps simulation-relative interval times onto the
// shared minute-offset grid.
package detector

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"simeval/bucket"
	"simeval/config"
	"simeval/series"
)

// ErrUnavailable marks a result directory that cannot be read at all.
var ErrUnavailable = errors.New("detector: source unavailable")

// Logger matches the subset of log.Logger the loader needs.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Summary describes one load pass over a result directory.
type Summary struct {
	FilesSeen     int
	FilesParsed   int
	ParseFailures int
	FailedFiles   []string
}

// Loader reads E1 detector output and produces bucketed records.
type Loader struct {
	startOffset int
	width       time.Duration
	log         Logger
}

// NewLoader builds a loader from detector config. startOffset is the
// minute-of-day the simulation began at; width the shared bucket width.
func NewLoader(cfg config.DetectorConfig, width time.Duration, logger Logger) *Loader {
	if logger == nil {
		logger = nopLogger{}
	}
	if width <= 0 {
		width = bucket.DefaultWidth
	}
	return &Loader{startOffset: cfg.SimStartOffsetMinutes, width: width, log: logger}
}

type intervalXML struct {
	Begin       float64 `xml:"begin,attr"`
	End         float64 `xml:"end,attr"`
	ID          string  `xml:"id,attr"`
	NVehContrib float64 `xml:"nVehContrib,attr"`
	Speed       string  `xml:"speed,attr"`
}

type detectorXML struct {
	XMLName   xml.Name
	Intervals []intervalXML `xml:"interval"`
}

// Load walks resultDir recursively and parses every detector XML file found.
// Malformed files are skipped and counted in the summary; only an unreadable
// directory aborts the load.
func (l *Loader) Load(resultDir string) ([]series.Record, Summary, error) {
	sum := Summary{}
	if _, err := os.Stat(resultDir); err != nil {
		return nil, sum, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var records []series.Record
	walkErr := filepath.WalkDir(resultDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}
		sum.FilesSeen++
		recs, err := l.parseFile(path)
		if err != nil {
			sum.ParseFailures++
			sum.FailedFiles = append(sum.FailedFiles, path)
			l.log.Printf("detector: skipping %s: %v", path, err)
			return nil
		}
		sum.FilesParsed++
		records = append(records, recs...)
		return nil
	})
	if walkErr != nil {
		return nil, sum, fmt.Errorf("%w: walk %s: %v", ErrUnavailable, resultDir, walkErr)
	}
	return series.Aggregate(records), sum, nil
}

func (l *Loader) parseFile(path string) ([]series.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc detectorXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	if doc.XMLName.Local != "detector" {
		// Some other SUMO output landed in the result dir; not ours.
		return nil, nil
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	recs := make([]series.Record, 0, len(doc.Intervals))
	for _, iv := range doc.Intervals {
		id := iv.ID
		if id == "" {
			id = stem
		}
		rec := series.Record{
			EntityID: series.DeriveEntityID(id),
			Offset:   bucket.BucketSeconds(iv.Begin, l.startOffset, l.width),
			Flow:     iv.NVehContrib,
		}
		// SUMO writes speed="-1.00" for intervals with no vehicles.
		if v, err := strconv.ParseFloat(strings.TrimSpace(iv.Speed), 64); err == nil && v >= 0 {
			rec.Speed = series.SpeedValue(v)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Loop is one inductionLoop declaration from a SUMO additional file.
type Loop struct {
	ID   string `xml:"id,attr"`
	Lane string `xml:"lane,attr"`
	File string `xml:"file,attr"`
}

type additionalXML struct {
	Loops []Loop `xml:"inductionLoop"`
}

// LoadDetectorConfig parses the inductionLoop additional file that declares
// which detectors a simulation writes, keyed by detector id.
func LoadDetectorConfig(path string) (map[string]Loop, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detector: read config %s: %w", path, err)
	}
	var doc additionalXML
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("detector: parse config %s: %w", path, err)
	}
	loops := make(map[string]Loop, len(doc.Loops))
	for _, lp := range doc.Loops {
		loops[lp.ID] = lp
	}
	return loops, nil
}
