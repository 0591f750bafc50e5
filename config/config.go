package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete analysis configuration
type Config struct {
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Detector  DetectorConfig  `yaml:"detector"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Report    ReportConfig    `yaml:"report"`
	Routes    RoutesConfig    `yaml:"routes"`
}

// WarehouseConfig contains observed-data warehouse settings
type WarehouseConfig struct {
	DBPath string `yaml:"db_path"`
	// Schema prefixes table names ("dwd" by default).
	Schema string `yaml:"schema"`
	// GantryTable overrides date-based table selection when set. It may
	// contain a {DATE} placeholder expanded to the analysis date.
	GantryTable string `yaml:"gantry_table"`
	// BucketMinutes is the shared interval width.
	BucketMinutes int `yaml:"bucket_minutes"`
	// PreflightTimeoutMS bounds the WAL checkpoint / quick_check pass.
	PreflightTimeoutMS int `yaml:"preflight_timeout_ms"`
}

// DetectorConfig contains simulated-output loader settings
type DetectorConfig struct {
	// SimStartOffsetMinutes shifts simulation-relative seconds onto the
	// warehouse clock (minute-of-day the simulation began at).
	SimStartOffsetMinutes int `yaml:"sim_start_offset_minutes"`
	// ConfigFile optionally points at the inductionLoop additional file.
	ConfigFile string `yaml:"config_file"`
}

// MetricsConfig contains metric policy settings
type MetricsConfig struct {
	GEHThreshold  float64 `yaml:"geh_threshold"`
	MAPEThreshold float64 `yaml:"mape_threshold"`
	// ZeroPolicy is "filter" (drop obs==0 rows from MAPE) or "epsilon".
	ZeroPolicy string  `yaml:"zero_policy"`
	Epsilon    float64 `yaml:"epsilon"`
	MinSamples int     `yaml:"min_samples"`
}

// ReportConfig contains artifact output settings
type ReportConfig struct {
	// OutputDir is the base directory; each invocation creates a
	// timestamped subdirectory underneath it.
	OutputDir string `yaml:"output_dir"`
	// TopOffenders is the ranking length in the offenders chart.
	TopOffenders int `yaml:"top_offenders"`
	// ExtremeRatioHigh/Low bound the sim/obs ratio anomaly subset.
	ExtremeRatioHigh float64 `yaml:"extreme_ratio_high"`
	ExtremeRatioLow  float64 `yaml:"extreme_ratio_low"`
	SkipHTML         bool    `yaml:"skip_html"`
}

// RoutesConfig points at the optional entity-to-route mapping
type RoutesConfig struct {
	MappingFile string `yaml:"mapping_file"`
}

// Default returns the configuration used when a file leaves fields unset.
func Default() Config {
	return Config{
		Warehouse: WarehouseConfig{
			Schema:             "dwd",
			BucketMinutes:      5,
			PreflightTimeoutMS: 2000,
		},
		Metrics: MetricsConfig{
			GEHThreshold:  5,
			MAPEThreshold: 15,
			ZeroPolicy:    "filter",
			Epsilon:       1,
			MinSamples:    1,
		},
		Report: ReportConfig{
			OutputDir:        "data/analysis",
			TopOffenders:     10,
			ExtremeRatioHigh: 5,
			ExtremeRatioLow:  0.2,
		},
	}
}

// Load loads configuration from a YAML file, applying defaults for missing
// fields. A missing file is not an error; the defaults are returned.
func Load(filename string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Warehouse.BucketMinutes <= 0 {
		return fmt.Errorf("config: bucket_minutes must be positive, got %d", c.Warehouse.BucketMinutes)
	}
	switch c.Metrics.ZeroPolicy {
	case "", "filter", "epsilon":
	default:
		return fmt.Errorf("config: unknown zero_policy %q", c.Metrics.ZeroPolicy)
	}
	if c.Metrics.ZeroPolicy == "epsilon" && c.Metrics.Epsilon <= 0 {
		return fmt.Errorf("config: epsilon policy requires positive epsilon")
	}
	return nil
}

// BucketWidth returns the configured interval width as a duration.
func (c *Config) BucketWidth() time.Duration {
	return time.Duration(c.Warehouse.BucketMinutes) * time.Minute
}

// ExpandDate substitutes {DATE}-style placeholders in a template.
func ExpandDate(tmpl string, dt time.Time) string {
	repl := map[string]string{
		"{DATE}":         dt.Format("2006-01-02"),
		"{DATE_COMPACT}": dt.Format("20060102"),
	}
	out := tmpl
	for k, v := range repl {
		out = strings.ReplaceAll(out, k, v)
	}
	return out
}

// Print displays the configuration
func (c *Config) Print() {
	fmt.Printf("Warehouse: %s (schema %s, %d-minute buckets)\n",
		c.Warehouse.DBPath, c.Warehouse.Schema, c.Warehouse.BucketMinutes)
	fmt.Printf("Metrics: GEH<=%.1f, MAPE<=%.1f%%, zero policy %s\n",
		c.Metrics.GEHThreshold, c.Metrics.MAPEThreshold, c.Metrics.ZeroPolicy)
	fmt.Printf("Report: %s (top %d offenders)\n", c.Report.OutputDir, c.Report.TopOffenders)
	if c.Routes.MappingFile != "" {
		fmt.Printf("Routes: %s\n", c.Routes.MappingFile)
	}
}
