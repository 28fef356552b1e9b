package gjest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/gjest/gjest/flags"
	"github.com/gjest/gjest/reporting"
)

// DefaultConfigFile is probed under the root when --config is not given.
const DefaultConfigFile = ".gjest.yaml"

// Config holds the application configuration
type Config struct {
	Targets []string // Positional targets; empty means discover everything under Root

	Root           string
	IncludePattern string
	ExcludePattern string
	IgnorePaths    []string
	GjestOnly      bool

	Workers       int
	BatchSize     int // Maximum units dispatched to a worker at once
	Bail          bool
	Buffer        bool
	ProgressFancy int // 0 glyphs, 1 suite lines, 2 framed block
	NoColor       bool

	Watch            bool
	WatchInterval    time.Duration // Polling interval of the fallback watcher
	WatchDebounce    time.Duration // Quiet period before a cycle starts
	WatchPoll        bool          // Force the polling watcher
	OnlyChanged      bool
	RunFailuresFirst bool

	ReportFormats    []string
	ReportSuffix     string
	ReportModules    bool
	ReportSuiteTable bool
	ReportOutliers   int
	MaxDiffLines     int

	Coverage          bool
	CoverageThreshold float64
	CoverageHTMLDir   string
	CoverageBars      bool

	UpdateSnapshots bool
	SnapshotSummary bool

	UnitTimeout time.Duration
	GoBinary    string
	LogLevel    string
	LogDir      string // Directory for captured failing-unit output, empty disables
	MetricsAddr string // Prometheus listen address in watch mode, empty disables

	Log *zap.SugaredLogger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log *zap.SugaredLogger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	root := ctx.String(flags.Root.Name)
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		root = wd
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for root '%s': %w", root, err)
	}

	cfg := &Config{
		Targets:        ctx.Args().Slice(),
		Root:           absRoot,
		IncludePattern: ctx.String(flags.Pattern.Name),
		ExcludePattern: ctx.String(flags.PatternExclude.Name),
		IgnorePaths:    ctx.StringSlice(flags.Ignore.Name),
		GjestOnly:      ctx.Bool(flags.GjestOnly.Name),

		Workers:       ctx.Int(flags.Workers.Name),
		BatchSize:     ctx.Int(flags.MaxUnitsPerBatch.Name),
		Bail:          ctx.Bool(flags.Bail.Name),
		Buffer:        ctx.Bool(flags.Buffer.Name),
		ProgressFancy: ctx.Int(flags.ProgressFancy.Name),
		NoColor:       ctx.Bool(flags.NoColor.Name),

		Watch:            ctx.Bool(flags.Watch.Name),
		WatchInterval:    ctx.Duration(flags.WatchInterval.Name),
		WatchDebounce:    ctx.Duration(flags.WatchDebounce.Name),
		WatchPoll:        ctx.Bool(flags.WatchPoll.Name),
		OnlyChanged:      ctx.Bool(flags.OnlyChanged.Name),
		RunFailuresFirst: ctx.Bool(flags.RunFailuresFirst.Name),

		ReportFormats:    ctx.StringSlice(flags.ReportFormat.Name),
		ReportSuffix:     ctx.String(flags.ReportSuffix.Name),
		ReportModules:    ctx.Bool(flags.ReportModules.Name),
		ReportSuiteTable: ctx.Bool(flags.ReportSuiteTable.Name),
		ReportOutliers:   ctx.Int(flags.ReportOutliers.Name),
		MaxDiffLines:     ctx.Int(flags.MaxDiffLines.Name),

		Coverage:          ctx.Bool(flags.Coverage.Name),
		CoverageThreshold: ctx.Float64(flags.CoverageThreshold.Name),
		CoverageHTMLDir:   ctx.String(flags.CoverageHTML.Name),
		CoverageBars:      ctx.Bool(flags.CoverageBars.Name),

		UpdateSnapshots: ctx.Bool(flags.UpdateSnapshots.Name),
		SnapshotSummary: ctx.Bool(flags.SnapshotSummary.Name),

		UnitTimeout: ctx.Duration(flags.UnitTimeout.Name),
		GoBinary:    ctx.String(flags.GoBinary.Name),
		LogLevel:    ctx.String(flags.LogLevel.Name),
		LogDir:      ctx.String(flags.LogDir.Name),
		MetricsAddr: ctx.String(flags.MetricsAddr.Name),

		Log: log,
	}

	if err := cfg.applyFileConfig(ctx); err != nil {
		return nil, err
	}

	if cfg.LogDir != "" {
		cfg.LogDir, err = filepath.Abs(cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory: %w", err)
		}
	}

	// A threshold or an HTML report only makes sense with measurement on.
	if cfg.CoverageThreshold > 0 || cfg.CoverageHTMLDir != "" {
		cfg.Coverage = true
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("max units per batch must be at least 1, got %d", c.BatchSize)
	}
	if c.ProgressFancy < 0 || c.ProgressFancy > 2 {
		return fmt.Errorf("progress-fancy must be 0, 1 or 2, got %d", c.ProgressFancy)
	}
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 100 {
		return fmt.Errorf("coverage threshold must be between 0 and 100, got %v", c.CoverageThreshold)
	}
	for _, format := range c.ReportFormats {
		switch format {
		case reporting.FormatJSON, reporting.FormatTAP, reporting.FormatJUnit:
		default:
			return fmt.Errorf("unknown report format %q", format)
		}
	}
	if c.OnlyChanged && !c.Watch {
		return errors.New("only-changed requires watch mode")
	}
	if c.Watch {
		if c.WatchInterval <= 0 {
			return fmt.Errorf("watch interval must be positive, got %v", c.WatchInterval)
		}
		if c.WatchDebounce <= 0 {
			return fmt.Errorf("watch debounce must be positive, got %v", c.WatchDebounce)
		}
	}
	if c.ReportOutliers < 0 {
		return fmt.Errorf("report outliers must be non-negative, got %d", c.ReportOutliers)
	}
	if c.MaxDiffLines < 1 {
		return fmt.Errorf("max diff lines must be at least 1, got %d", c.MaxDiffLines)
	}
	if c.UnitTimeout <= 0 {
		return fmt.Errorf("unit timeout must be positive, got %v", c.UnitTimeout)
	}
	return nil
}

// fileConfig mirrors the flag surface in .gjest.yaml. Pointer fields
// distinguish an absent key from an explicit zero.
type fileConfig struct {
	Targets           []string `yaml:"targets"`
	Pattern           string   `yaml:"pattern"`
	ExcludePattern    string   `yaml:"excludePattern"`
	Ignore            []string `yaml:"ignore"`
	GjestOnly         *bool    `yaml:"gjestOnly"`
	Workers           *int     `yaml:"workers"`
	BatchSize         *int     `yaml:"batchSize"`
	Bail              *bool    `yaml:"bail"`
	Buffer            *bool    `yaml:"buffer"`
	ProgressFancy     *int     `yaml:"progressFancy"`
	ReportFormats     []string `yaml:"reportFormats"`
	ReportSuffix      string   `yaml:"reportSuffix"`
	ReportModules     *bool    `yaml:"reportModules"`
	ReportSuiteTable  *bool    `yaml:"reportSuiteTable"`
	ReportOutliers    *int     `yaml:"reportOutliers"`
	MaxDiffLines      *int     `yaml:"maxDiffLines"`
	Coverage          *bool    `yaml:"coverage"`
	CoverageThreshold *float64 `yaml:"coverageThreshold"`
	CoverageHTML      string   `yaml:"coverageHtml"`
	CoverageBars      *bool    `yaml:"coverageBars"`
	WatchInterval     string   `yaml:"watchInterval"`
	WatchDebounce     string   `yaml:"watchDebounce"`
	UnitTimeout       string   `yaml:"unitTimeout"`
	GoBinary          string   `yaml:"goBinary"`
	LogLevel          string   `yaml:"logLevel"`
	LogDir            string   `yaml:"logDir"`
	MetricsAddr       string   `yaml:"metricsAddr"`
}

// applyFileConfig loads the project config file and merges it beneath the
// CLI values. A file named with --config must exist; the default probe may
// be absent.
func (c *Config) applyFileConfig(ctx *cli.Context) error {
	path := ctx.String(flags.ConfigFile.Name)
	explicit := path != ""
	if !explicit {
		path = filepath.Join(c.Root, DefaultConfigFile)
	} else if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return fmt.Errorf("failed to resolve config file path '%s': %w", path, err)
		}
		path = abs
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if c.Log != nil {
		c.Log.Debugw("Loaded project config", "path", path)
	}
	return c.merge(&fc, ctx)
}

// merge applies file values wherever the corresponding flag was not set
// explicitly on the command line or through the environment.
func (c *Config) merge(fc *fileConfig, ctx *cli.Context) error {
	set := ctx.IsSet

	if len(fc.Targets) > 0 && len(c.Targets) == 0 {
		c.Targets = fc.Targets
	}
	if fc.Pattern != "" && !set(flags.Pattern.Name) {
		c.IncludePattern = fc.Pattern
	}
	if fc.ExcludePattern != "" && !set(flags.PatternExclude.Name) {
		c.ExcludePattern = fc.ExcludePattern
	}
	if len(fc.Ignore) > 0 && !set(flags.Ignore.Name) {
		c.IgnorePaths = fc.Ignore
	}
	if fc.GjestOnly != nil && !set(flags.GjestOnly.Name) {
		c.GjestOnly = *fc.GjestOnly
	}
	if fc.Workers != nil && !set(flags.Workers.Name) {
		c.Workers = *fc.Workers
	}
	if fc.BatchSize != nil && !set(flags.MaxUnitsPerBatch.Name) {
		c.BatchSize = *fc.BatchSize
	}
	if fc.Bail != nil && !set(flags.Bail.Name) {
		c.Bail = *fc.Bail
	}
	if fc.Buffer != nil && !set(flags.Buffer.Name) {
		c.Buffer = *fc.Buffer
	}
	if fc.ProgressFancy != nil && !set(flags.ProgressFancy.Name) {
		c.ProgressFancy = *fc.ProgressFancy
	}
	if len(fc.ReportFormats) > 0 && !set(flags.ReportFormat.Name) {
		c.ReportFormats = fc.ReportFormats
	}
	if fc.ReportSuffix != "" && !set(flags.ReportSuffix.Name) {
		c.ReportSuffix = fc.ReportSuffix
	}
	if fc.ReportModules != nil && !set(flags.ReportModules.Name) {
		c.ReportModules = *fc.ReportModules
	}
	if fc.ReportSuiteTable != nil && !set(flags.ReportSuiteTable.Name) {
		c.ReportSuiteTable = *fc.ReportSuiteTable
	}
	if fc.ReportOutliers != nil && !set(flags.ReportOutliers.Name) {
		c.ReportOutliers = *fc.ReportOutliers
	}
	if fc.MaxDiffLines != nil && !set(flags.MaxDiffLines.Name) {
		c.MaxDiffLines = *fc.MaxDiffLines
	}
	if fc.Coverage != nil && !set(flags.Coverage.Name) {
		c.Coverage = *fc.Coverage
	}
	if fc.CoverageThreshold != nil && !set(flags.CoverageThreshold.Name) {
		c.CoverageThreshold = *fc.CoverageThreshold
	}
	if fc.CoverageHTML != "" && !set(flags.CoverageHTML.Name) {
		c.CoverageHTMLDir = fc.CoverageHTML
	}
	if fc.CoverageBars != nil && !set(flags.CoverageBars.Name) {
		c.CoverageBars = *fc.CoverageBars
	}
	if fc.GoBinary != "" && !set(flags.GoBinary.Name) {
		c.GoBinary = fc.GoBinary
	}
	if fc.LogLevel != "" && !set(flags.LogLevel.Name) {
		c.LogLevel = fc.LogLevel
	}
	if fc.LogDir != "" && !set(flags.LogDir.Name) {
		c.LogDir = fc.LogDir
	}
	if fc.MetricsAddr != "" && !set(flags.MetricsAddr.Name) {
		c.MetricsAddr = fc.MetricsAddr
	}

	var err error
	if c.WatchInterval, err = mergeDuration(c.WatchInterval, fc.WatchInterval, "watchInterval", set(flags.WatchInterval.Name)); err != nil {
		return err
	}
	if c.WatchDebounce, err = mergeDuration(c.WatchDebounce, fc.WatchDebounce, "watchDebounce", set(flags.WatchDebounce.Name)); err != nil {
		return err
	}
	if c.UnitTimeout, err = mergeDuration(c.UnitTimeout, fc.UnitTimeout, "unitTimeout", set(flags.UnitTimeout.Name)); err != nil {
		return err
	}
	return nil
}

func mergeDuration(current time.Duration, fileValue, key string, flagSet bool) (time.Duration, error) {
	if fileValue == "" || flagSet {
		return current, nil
	}
	d, err := time.ParseDuration(fileValue)
	if err != nil {
		return 0, fmt.Errorf("invalid %s in config file: %w", key, err)
	}
	return d, nil
}
