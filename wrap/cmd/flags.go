package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/PatchLens/go-page-wrap/wrap"
)

// flagValues holds the values of the engine flags before they are merged over any config file.
type flagValues struct {
	projectDir, pagesDir, outDir    string
	inPlace                         bool
	extensions                      []string
	templateFile                    string
	cacheDir                        string
	cacheMB, workers                int
	reportJsonFile, reportChartFile string
	diff, debug                     bool
}

func (v *flagValues) bind(flags *pflag.FlagSet) {
	flags.StringVar(&v.projectDir, "project", ".", "Path to the project directory")
	flags.StringVar(&v.pagesDir, "pages", "", "Pages directory, relative to the project (default pages or src/pages)")
	flags.StringVar(&v.outDir, "out", "", "Directory to write the wrapped pages to, mirroring the project layout")
	flags.BoolVar(&v.inPlace, "in-place", false, "Rewrite pages in place, keeping the original with a .bkp suffix")
	flags.StringSliceVar(&v.extensions, "ext", nil, "Page file extensions (default .js,.jsx,.mjs,.ts,.tsx)")
	flags.StringVar(&v.templateFile, "template", "", "Wrapper template replacing the embedded one")
	flags.StringVar(&v.cacheDir, "cache-dir", "", "Directory to persist the rewrite cache in between runs")
	flags.IntVar(&v.cacheMB, "cachemb", 64, "Cache memory budget in MB")
	flags.IntVar(&v.workers, "workers", 0, "Number of pages rewritten concurrently (default NumCPU)")
	flags.StringVar(&v.reportJsonFile, "json", "", "File to output run details")
	flags.StringVar(&v.reportChartFile, "charts", "", "File to output the run overview chart image")
	flags.BoolVar(&v.diff, "diff", false, "Print a unified diff of every wrapped page")
	flags.BoolVar(&v.debug, "debug", false, "Enable debug logging")
}

// apply copies every flag set on the command line over config, keeping config file values for the rest.
func (v *flagValues) apply(flags *pflag.FlagSet, config *wrap.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	if config.ProjectDir == "" || flags.Changed("project") {
		config.ProjectDir = v.projectDir
	}
	if config.CacheMB == 0 || flags.Changed("cachemb") {
		config.CacheMB = v.cacheMB
	}
	set("pages", func() { config.PagesDir = v.pagesDir })
	set("out", func() { config.OutDir = v.outDir })
	set("in-place", func() { config.InPlace = v.inPlace })
	set("ext", func() { config.Extensions = v.extensions })
	set("template", func() { config.TemplateFile = v.templateFile })
	set("cache-dir", func() { config.CacheDir = v.cacheDir })
	set("workers", func() { config.Workers = v.workers })
	set("json", func() { config.ReportJsonFile = v.reportJsonFile })
	set("charts", func() { config.ReportChartsFile = v.reportChartFile })
	set("diff", func() { config.Diff = v.diff })
	set("debug", func() { config.Debug = v.debug })
}

// LoadConfig reads a YAML config file. Unknown keys are rejected so typos do not go unnoticed.
func LoadConfig(path string) (*wrap.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	config := &wrap.Config{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// NewLogger builds the production logger, at debug level when requested.
func NewLogger(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = !debug
	if debug {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
