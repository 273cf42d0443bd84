package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatchLens/go-page-wrap/wrap"
)

func TestFlagValuesApply(t *testing.T) {
	t.Parallel()

	parse := func(t *testing.T, args ...string) (*pflag.FlagSet, *flagValues) {
		t.Helper()

		var v flagValues
		fs := pflag.NewFlagSet("pagewrap", pflag.ContinueOnError)
		v.bind(fs)
		require.NoError(t, fs.Parse(args))
		return fs, &v
	}

	t.Run("defaults", func(t *testing.T) {
		fs, v := parse(t)
		config := &wrap.Config{}
		v.apply(fs, config)

		assert.Equal(t, ".", config.ProjectDir)
		assert.Equal(t, 64, config.CacheMB)
		assert.Empty(t, config.OutDir)
		assert.False(t, config.InPlace)
		assert.Zero(t, config.Workers)
	})

	t.Run("all_flags", func(t *testing.T) {
		fs, v := parse(t,
			"--project", "/app", "--pages", "src/routes", "--out", "/tmp/out", "--ext", "js,tsx",
			"--template", "wrappers.js", "--cache-dir", "/tmp/cache", "--cachemb", "128", "--workers", "3",
			"--json", "r.json", "--charts", "r.png", "--diff", "--debug")
		config := &wrap.Config{}
		v.apply(fs, config)

		assert.Equal(t, wrap.Config{
			ProjectDir:       "/app",
			PagesDir:         "src/routes",
			OutDir:           "/tmp/out",
			Extensions:       []string{"js", "tsx"},
			TemplateFile:     "wrappers.js",
			CacheDir:         "/tmp/cache",
			CacheMB:          128,
			Workers:          3,
			ReportJsonFile:   "r.json",
			ReportChartsFile: "r.png",
			Diff:             true,
			Debug:            true,
		}, *config)
	})

	t.Run("file_values_kept", func(t *testing.T) {
		fs, v := parse(t, "--workers", "2")
		config := &wrap.Config{ProjectDir: "/from/file", InPlace: true, CacheMB: 32, Workers: 8, Diff: true}
		v.apply(fs, config)

		assert.Equal(t, "/from/file", config.ProjectDir)
		assert.True(t, config.InPlace)
		assert.Equal(t, 32, config.CacheMB)
		assert.Equal(t, 2, config.Workers)
		assert.True(t, config.Diff)
	})

	t.Run("flag_overrides_file", func(t *testing.T) {
		fs, v := parse(t, "--project", "/from/flag", "--in-place=false", "--out", "/o")
		config := &wrap.Config{ProjectDir: "/from/file", InPlace: true}
		v.apply(fs, config)

		assert.Equal(t, "/from/flag", config.ProjectDir)
		assert.False(t, config.InPlace)
		assert.Equal(t, "/o", config.OutDir)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write := func(t *testing.T, name, content string) string {
		t.Helper()

		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		path := write(t, "valid.yaml", `project_dir: ./site
pages_dir: src/pages
in_place: true
extensions: [.js, .tsx]
cache_dir: .pagewrap-cache
cache_mb: 16
workers: 4
report_json: pagewrap.json
diff: true
`)
		config, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "./site", config.ProjectDir)
		assert.Equal(t, "src/pages", config.PagesDir)
		assert.True(t, config.InPlace)
		assert.Equal(t, []string{".js", ".tsx"}, config.Extensions)
		assert.Equal(t, ".pagewrap-cache", config.CacheDir)
		assert.Equal(t, 16, config.CacheMB)
		assert.Equal(t, 4, config.Workers)
		assert.Equal(t, "pagewrap.json", config.ReportJsonFile)
		assert.True(t, config.Diff)
	})

	t.Run("empty", func(t *testing.T) {
		config, err := LoadConfig(write(t, "empty.yaml", ""))
		require.NoError(t, err)
		assert.Equal(t, &wrap.Config{}, config)
	})

	t.Run("unknown_key", func(t *testing.T) {
		_, err := LoadConfig(write(t, "typo.yaml", "out_directory: ./out\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "typo.yaml")
	})

	t.Run("computed_fields_rejected", func(t *testing.T) {
		_, err := LoadConfig(write(t, "computed.yaml", "AbsProjDir: /x\n"))
		require.Error(t, err)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestNewLogger(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	logger, err = NewLogger(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
