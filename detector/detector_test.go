package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"simeval/config"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func loaderAt(startOffset int) *Loader {
	cfg := config.DetectorConfig{SimStartOffsetMinutes: startOffset}
	return NewLoader(cfg, 5*time.Minute, nil)
}

const e1Doc = `<?xml version="1.0" encoding="UTF-8"?>
<detector xsi:noNamespaceSchemaLocation="http://sumo.dlr.de/xsd/det_e1_file.xsd" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">
    <interval begin="0.00" end="300.00" id="G0123_01_up" nVehContrib="10" flow="120.00" occupancy="1.20" speed="25.00" harmonicMeanSpeed="24.10" length="5.00" nVehEntered="10"/>
    <interval begin="300.00" end="600.00" id="G0123_01_up" nVehContrib="0" flow="0.00" occupancy="0.00" speed="-1.00" harmonicMeanSpeed="-1.00" length="-1.00" nVehEntered="0"/>
</detector>
`

func TestLoadDerivesShiftsAndBuckets(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "out/G0123_01_up.xml", e1Doc)

	recs, sum, err := loaderAt(480).Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sum.FilesSeen != 1 || sum.FilesParsed != 1 || sum.ParseFailures != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	// Detector id G0123_01_up collapses to gantry G0123; simulation second 0
	// lands on minute-of-day 480 for a simulation starting at 08:00.
	if recs[0].EntityID != "G0123" || recs[0].Offset != 480 || recs[0].Flow != 10 {
		t.Fatalf("unexpected first record %+v", recs[0])
	}
	if recs[0].Speed == nil || *recs[0].Speed != 25 {
		t.Fatalf("first record speed = %v, want 25", recs[0].Speed)
	}
	// speed="-1.00" means no vehicles passed, not a measured speed.
	if recs[1].Offset != 485 || recs[1].Speed != nil {
		t.Fatalf("unexpected second record %+v", recs[1])
	}
}

func TestLoadSumsLanesPerEntity(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "G0123_01.xml", `<detector><interval begin="0.00" end="300.00" id="G0123_01" nVehContrib="10" speed="-1.00"/></detector>`)
	write(t, dir, "G0123_02.xml", `<detector><interval begin="0.00" end="300.00" id="G0123_02" nVehContrib="12" speed="-1.00"/></detector>`)

	recs, _, err := loaderAt(0).Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].EntityID != "G0123" || recs[0].Offset != 0 || recs[0].Flow != 22 {
		t.Fatalf("lanes not summed: %+v", recs[0])
	}
}

func TestMalformedFilesSkippedAndCounted(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 8; i++ {
		doc := fmt.Sprintf(`<detector><interval begin="0.00" end="300.00" id="G%d_01" nVehContrib="5" speed="-1.00"/></detector>`, i)
		write(t, dir, fmt.Sprintf("good%d.xml", i), doc)
	}
	write(t, dir, "truncated.xml", `<detector><interval begin="0.00" end="300.`)
	write(t, dir, "garbage.xml", `not xml at all`)

	recs, sum, err := loaderAt(0).Load(dir)
	if err != nil {
		t.Fatalf("malformed files must not abort the load: %v", err)
	}
	if sum.FilesSeen != 10 || sum.FilesParsed != 8 || sum.ParseFailures != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if len(sum.FailedFiles) != 2 {
		t.Fatalf("failed files = %v", sum.FailedFiles)
	}
	if len(recs) != 8 {
		t.Fatalf("got %d records, want 8", len(recs))
	}
}

func TestNonDetectorXMLIgnored(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "summary.xml", `<summary><step time="0.00" loaded="0"/></summary>`)
	recs, sum, err := loaderAt(0).Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if sum.ParseFailures != 0 || len(recs) != 0 {
		t.Fatalf("foreign xml must be ignored: %+v, %d records", sum, len(recs))
	}
}

func TestMissingDirIsUnavailable(t *testing.T) {
	_, _, err := loaderAt(0).Load(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestLoadDetectorConfig(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "detectors.add.xml", `<additional>
		<inductionLoop id="G0123_01" lane="E1_0" pos="10" period="300" file="G0123_01.xml"/>
		<inductionLoop id="G0123_02" lane="E1_1" pos="10" period="300" file="G0123_02.xml"/>
	</additional>`)
	loops, err := LoadDetectorConfig(filepath.Join(dir, "detectors.add.xml"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(loops) != 2 {
		t.Fatalf("got %d loops, want 2", len(loops))
	}
	if lp := loops["G0123_01"]; lp.Lane != "E1_0" || lp.File != "G0123_01.xml" {
		t.Fatalf("unexpected loop %+v", lp)
	}
}
