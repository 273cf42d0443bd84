package wrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-analyze/bulk"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

const (
	defaultPagesDir = "pages"
	defaultCacheMB  = 64
	diffContext     = 3
)

// DefaultExtensions lists the page file extensions processed when none are configured.
var DefaultExtensions = []string{".js", ".jsx", ".mjs", ".ts", ".tsx"}

// Config holds settings and state for an Engine.
type Config struct {
	// ProjectDir is the root of the application, outcome paths are reported relative to it.
	ProjectDir string `yaml:"project_dir"`
	// PagesDir holds the page modules, relative to ProjectDir unless absolute. Defaults to pages, or src/pages.
	PagesDir string `yaml:"pages_dir"`
	// OutDir receives a mirror of the pages directory with every page module in its output form.
	OutDir string `yaml:"out_dir"`
	// InPlace rewrites page modules where they are, keeping the original next to them with a .bkp suffix.
	InPlace    bool     `yaml:"in_place"`
	Extensions []string `yaml:"extensions"`
	// TemplateFile replaces the embedded wrapper template when set.
	TemplateFile string `yaml:"template_file"`
	// CacheDir persists the rewrite cache across runs. Without it the cache only lives for the run.
	CacheDir         string `yaml:"cache_dir"`
	CacheMB          int    `yaml:"cache_mb"`
	Workers          int    `yaml:"workers"`
	ReportJsonFile   string `yaml:"report_json"`
	ReportChartsFile string `yaml:"report_charts"`
	// Diff prints a unified diff for every rewritten page.
	Diff  bool `yaml:"diff"`
	Debug bool `yaml:"debug"`
	// Computed fields
	AbsProjDir, AbsPagesDir, AbsOutDir string `yaml:"-"`
	// Internal state tracking
	prepared bool
}

// StorageProvider creates the Storage backing the rewrite cache.
type StorageProvider interface {
	// NewStorage returns the storage for a run. The engine closes it when the run completes.
	NewStorage() (Storage, error)
}

// DefaultStorageProvider provides a Badger backed Storage persisted at Path, or memory storage when Path is empty.
type DefaultStorageProvider struct {
	Path    string
	CacheMB int
}

func (d *DefaultStorageProvider) NewStorage() (Storage, error) {
	if d.Path == "" {
		return NewMemStorage(), nil
	}
	return NewBadgerStorage(d.Path, d.CacheMB, true)
}

// SingletonStorageProvider is a StorageProvider that returns a single consistent storage instance.
type SingletonStorageProvider struct {
	Store Storage
}

func (s *SingletonStorageProvider) NewStorage() (Storage, error) {
	return &nopCloseStorage{s.Store}, nil
}

type nopCloseStorage struct {
	Storage
}

func (nopCloseStorage) Close() {}

// ReportWriter writes the report files for a completed run.
type ReportWriter interface {
	// WriteReportFiles writes the JSON report and the chart image. Either path may be empty to skip that file.
	WriteReportFiles(reportJsonFile, reportChartsFile string, summary RunSummary) error
}

// DefaultReportWriter provides the standard implementation of ReportWriter.
type DefaultReportWriter struct{}

func (d *DefaultReportWriter) WriteReportFiles(jsonPath, chartPath string, summary RunSummary) error {
	report := PrepareReport(summary)
	if jsonPath != "" {
		if err := writeReportJSON(jsonPath, report); err != nil {
			return err
		}
	}
	if chartPath != "" {
		if err := writeReportCharts(chartPath, report); err != nil {
			return err
		}
	}
	return nil
}

// Engine rewrites the page modules of a project.
type Engine struct {
	Config          *Config
	Logger          *zap.Logger
	StorageProvider StorageProvider
	ReportWriter    ReportWriter
	// DiffOutput receives unified diffs when Config.Diff is set.
	DiffOutput io.Writer

	mu         sync.Mutex
	store      Storage
	cache      *RewriteCache
	writeLocks *stripedMutex
	diffMu     sync.Mutex
}

// NewEngine creates an Engine with default providers.
func NewEngine(config *Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Config: config,
		Logger: logger,
		StorageProvider: &DefaultStorageProvider{
			Path:    config.CacheDir,
			CacheMB: config.CacheMB,
		},
		ReportWriter: &DefaultReportWriter{},
		DiffOutput:   os.Stdout,
		writeLocks:   newDefaultStripedMutex(),
	}
}

// NewEngineWithProviders creates an Engine using the supplied providers, nil selects the default.
func NewEngineWithProviders(config *Config, logger *zap.Logger,
	storageProvider StorageProvider, reportWriter ReportWriter) *Engine {
	engine := NewEngine(config, logger)
	if storageProvider != nil {
		engine.StorageProvider = storageProvider
	}
	if reportWriter != nil {
		engine.ReportWriter = reportWriter
	}
	return engine
}

// Open prepares the configuration and the rewrite cache. Run opens the engine itself, Open is only needed when
// RewriteFile is invoked directly.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache != nil {
		return nil
	} else if !e.Config.prepared {
		if err := e.Config.Prepare(); err != nil {
			return err
		}
	}
	if sp, ok := e.StorageProvider.(*DefaultStorageProvider); ok {
		// the provider was built before Prepare resolved the cache settings
		if sp.Path == "" {
			sp.Path = e.Config.CacheDir
		}
		if sp.CacheMB == 0 {
			sp.CacheMB = e.Config.CacheMB
		}
	}

	opts := []RewriterOption{WithLogger(e.Logger)}
	if e.Config.TemplateFile != "" {
		src, err := os.ReadFile(e.Config.TemplateFile)
		if err != nil {
			return fmt.Errorf("read template: %w", err)
		}
		tmpl, err := NewTemplate(e.Config.TemplateFile, src)
		if err != nil {
			return err
		}
		opts = append(opts, WithTemplate(tmpl))
	}
	rewriter, err := NewRewriter(opts...)
	if err != nil {
		return err
	}

	store, err := e.StorageProvider.NewStorage()
	if err != nil {
		return fmt.Errorf("open rewrite cache: %w", err)
	}
	cache, err := NewRewriteCache(rewriter, e.Logger, store, e.Config.CacheMB)
	if err != nil {
		store.Close()
		return err
	}
	e.store, e.cache = store, cache
	e.Logger.Debug("engine opened", zap.String("pages", e.Config.AbsPagesDir),
		zap.String("template", rewriter.Template().Path), zap.String("template_version", rewriter.Template().Version))
	return nil
}

// Close releases the rewrite cache and its storage.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cache == nil {
		return
	}
	e.cache.Close()
	e.store.Close()
	e.cache, e.store = nil, nil
}

// Run rewrites every page module under the pages directory and writes the configured reports.
func (e *Engine) Run(ctx context.Context) (RunSummary, error) {
	startTime := time.Now()
	if err := e.Open(); err != nil {
		return RunSummary{}, err
	}
	defer e.Close()

	pages, err := findPages(e.Config.AbsPagesDir, e.Config.Extensions)
	if err != nil {
		return RunSummary{}, fmt.Errorf("find pages: %w", err)
	}
	e.Logger.Info("wrapping page data fetchers", zap.Int("pages", len(pages)), zap.Int("workers", e.Config.Workers))

	outcomes := make([]FileOutcome, len(pages))
	eg, gctx := ErrGroupLimit(ctx, e.Config.Workers)
	for i, page := range pages {
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, err := e.RewriteFile(page)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{
		StartTime:       startTime,
		Duration:        time.Since(startTime),
		TemplateVersion: e.cache.rewriter.Template().Version,
		Outcomes:        outcomes,
	}
	summary.CacheHits, summary.CacheMisses = e.cache.Stats()
	e.logSummary(summary)

	if e.Config.ReportJsonFile != "" || e.Config.ReportChartsFile != "" {
		if err := e.ReportWriter.WriteReportFiles(e.Config.ReportJsonFile, e.Config.ReportChartsFile, summary); err != nil {
			return summary, fmt.Errorf("write report: %w", err)
		}
	}
	return summary, nil
}

func (e *Engine) logSummary(summary RunSummary) {
	fields := []zap.Field{zap.Duration("duration", summary.Duration),
		zap.Int64("cache_hits", summary.CacheHits), zap.Int64("cache_misses", summary.CacheMisses)}
	for _, name := range statusNames {
		fields = append(fields, zap.Int(name, summary.StatusCounts()[name]))
	}
	e.Logger.Info("page wrapping completed", fields...)

	failed := bulk.SliceFilter(func(o FileOutcome) bool {
		return o.Status == StatusParseFailed
	}, summary.Outcomes)
	if len(failed) > 0 {
		paths := make([]string, len(failed))
		for i, o := range failed {
			paths[i] = o.Path
		}
		e.Logger.Info("pages left unwrapped after parse failures", zap.Strings("paths", paths))
	}
}

// RewriteFile rewrites one page module and writes its output. The engine must be open.
func (e *Engine) RewriteFile(path string) (FileOutcome, error) {
	e.mu.Lock()
	cache := e.cache
	e.mu.Unlock()
	if cache == nil {
		return FileOutcome{}, errors.New("engine is not open")
	}

	startTime := time.Now()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return FileOutcome{}, err
	}
	relPath, err := filepath.Rel(e.Config.AbsProjDir, absPath)
	if err != nil {
		return FileOutcome{}, err
	}
	relPath = filepath.ToSlash(relPath)
	dialect, err := DialectForPath(absPath)
	if err != nil {
		return FileOutcome{}, err
	}
	route, err := ParameterizedRoute(e.Config.AbsPagesDir, absPath)
	if err != nil {
		return FileOutcome{}, err
	}

	lock := e.writeLocks.Lock(absPath)
	defer lock.Unlock()

	info, err := os.Stat(absPath)
	if err != nil {
		return FileOutcome{}, err
	}
	src, err := os.ReadFile(absPath)
	if err != nil {
		return FileOutcome{}, err
	}
	outcome := FileOutcome{Path: relPath, Route: route}

	var result Result
	if e.Config.InPlace && alreadyWrapped(src) {
		// an in place rewrite from an earlier run, wrapping it again would nest the wrappers
		outcome.AlreadyWrapped = true
		result = Result{Output: src, Status: StatusRewritten}
	} else {
		result, outcome.Cached, err = cache.Rewrite(src, RewriteOptions{Path: relPath, Dialect: dialect, Route: route})
		if err != nil {
			return FileOutcome{}, fmt.Errorf("%s: %w", relPath, err)
		}
	}
	outcome.Status, outcome.Aliases, outcome.Diagnostic = result.Status, result.Aliases, result.Diagnostic

	if outcome.OutputPath, err = e.writeOutput(absPath, info.Mode().Perm(), src, result, outcome.AlreadyWrapped); err != nil {
		return FileOutcome{}, fmt.Errorf("%s: write output: %w", relPath, err)
	}
	if e.Config.Diff && result.Status.Changed() && !outcome.AlreadyWrapped {
		e.writeDiff(relPath, src, result.Output)
	}
	outcome.Duration = time.Since(startTime)
	e.Logger.Debug("page processed", zap.String("path", relPath), zap.Stringer("status", outcome.Status),
		zap.Bool("cached", outcome.Cached), zap.Duration("duration", outcome.Duration))
	return outcome, nil
}

// writeOutput places the output of one page, returning the written path or empty when nothing was written.
func (e *Engine) writeOutput(absPath string, perm os.FileMode, src []byte, result Result, wrapped bool) (string, error) {
	if e.Config.InPlace {
		if !result.Status.Changed() || wrapped {
			return "", nil
		} else if _, err := backupFile(absPath); err != nil {
			return "", err
		}
		return absPath, writeFileReplace(absPath, result.Output, perm)
	}

	rel, err := filepath.Rel(e.Config.AbsProjDir, absPath)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(e.Config.AbsOutDir, rel)
	if existing, err := os.ReadFile(dst); err == nil && bytes.Equal(existing, result.Output) {
		return dst, nil
	}
	return dst, writeFileReplace(dst, result.Output, perm)
}

func (e *Engine) writeDiff(relPath string, src, out []byte) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(src)),
		B:        difflib.SplitLines(string(out)),
		FromFile: "a/" + relPath,
		ToFile:   "b/" + relPath,
		Context:  diffContext,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		e.Logger.Warn("unable to render diff", zap.String("path", relPath), zap.Error(err))
		return
	}

	e.diffMu.Lock()
	defer e.diffMu.Unlock()
	_, _ = io.WriteString(e.DiffOutput, text)
}

// alreadyWrapped reports if src carries the route constant only the wrapper template declares.
func alreadyWrapped(src []byte) bool {
	return bytes.Contains(src, []byte("const "+routeConstName))
}

// Prepare performs validation and preparation of the configuration.
func (c *Config) Prepare() error {
	if c.prepared {
		return errors.New("config has already been prepared")
	}

	if c.ProjectDir == "" {
		return errors.New("project directory is required")
	} else if c.OutDir == "" && !c.InPlace {
		return errors.New("must specify one of: --out or --in-place")
	} else if c.OutDir != "" && c.InPlace {
		return errors.New("--out and --in-place are mutually exclusive")
	}

	absProjDir, err := filepath.Abs(c.ProjectDir)
	if err != nil {
		return fmt.Errorf("error resolving project directory: %w", err)
	} else if err := validateDir(absProjDir); err != nil {
		return fmt.Errorf("invalid project directory: %w", err)
	}
	c.AbsProjDir = absProjDir

	pagesDir := c.PagesDir
	if pagesDir == "" {
		pagesDir = defaultPagesDir
		if !FileExists(filepath.Join(absProjDir, pagesDir)) && FileExists(filepath.Join(absProjDir, "src", pagesDir)) {
			pagesDir = filepath.Join("src", pagesDir)
		}
	}
	if !filepath.IsAbs(pagesDir) {
		pagesDir = filepath.Join(absProjDir, pagesDir)
	}
	if err := validateDir(pagesDir); err != nil {
		return fmt.Errorf("invalid pages directory: %w", err)
	}
	c.AbsPagesDir = filepath.Clean(pagesDir)

	if c.OutDir != "" {
		if c.AbsOutDir, err = filepath.Abs(c.OutDir); err != nil {
			return fmt.Errorf("error resolving output directory: %w", err)
		} else if c.AbsOutDir == absProjDir {
			return errors.New("output directory must differ from the project directory")
		} else if within, err := fileWithinDir(c.AbsOutDir, c.AbsPagesDir); err != nil {
			return err
		} else if within {
			return fmt.Errorf("output directory %s is inside the pages directory", c.OutDir)
		}
	}

	if len(c.Extensions) == 0 {
		c.Extensions = slices.Clone(DefaultExtensions)
	}
	for i, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
			c.Extensions[i] = ext
		}
		if _, err := DialectForPath("page" + ext); err != nil {
			return fmt.Errorf("invalid extension: %w", err)
		}
	}

	if c.CacheMB == 0 {
		c.CacheMB = defaultCacheMB
	}
	if c.Workers == 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.CacheMB < 1 || c.CacheMB > 10240 { // 10GB limit
		return fmt.Errorf("cache size must be between 1 and 10240 MB, got %d", c.CacheMB)
	} else if c.Workers < 1 || c.Workers > 256 {
		return fmt.Errorf("workers must be between 1 and 256, got %d", c.Workers)
	}
	if c.CacheDir != "" {
		if c.CacheDir, err = filepath.Abs(c.CacheDir); err != nil {
			return fmt.Errorf("error resolving cache directory: %w", err)
		}
	}

	if c.TemplateFile != "" {
		if err := validateFilePath(c.TemplateFile); err != nil {
			return fmt.Errorf("invalid template file: %w", err)
		}
	}
	if c.ReportJsonFile != "" {
		if err := validateOutputPath(c.ReportJsonFile); err != nil {
			return fmt.Errorf("invalid JSON report file path: %w", err)
		}
	}
	if c.ReportChartsFile != "" {
		if _, err := chartOutputFormat(c.ReportChartsFile); err != nil {
			return err
		} else if err := validateOutputPath(c.ReportChartsFile); err != nil {
			return fmt.Errorf("invalid charts report file path: %w", err)
		}
	}

	c.prepared = true
	return nil
}

func validateDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("directory does not exist or is not accessible: %w", err)
	} else if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// validateFilePath validates that a file path exists and is readable
func validateFilePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file does not exist or is not accessible: %w", err)
	} else if info.IsDir() {
		return errors.New("path is a directory, expected a file")
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file is not readable: %w", err)
	}
	return file.Close()
}

// validateOutputPath validates that an output file path can be written to
func validateOutputPath(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory '%s': %w", dir, err)
		}
	}

	testFile, err := os.CreateTemp(dir, ".write_test*")
	if err != nil {
		return fmt.Errorf("cannot write to output directory '%s': %w", dir, err)
	}
	_ = testFile.Close()
	return os.Remove(testFile.Name())
}
