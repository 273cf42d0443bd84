package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/PatchLens/go-page-wrap/wrap"
)

const testPropsPage = `export async function getStaticProps() {
  return { props: { title: 'about' } };
}

export default function About({ title }) {
  return title;
}
`

func nopLogger(bool) (*zap.Logger, error) {
	return zap.NewNop(), nil
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCommand(nopLogger)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestProject(t *testing.T) string {
	t.Helper()

	projDir := filepath.Join(t.TempDir(), "app")
	writeFile(t, filepath.Join(projDir, "pages", "about.js"), testPropsPage)
	writeFile(t, filepath.Join(projDir, "pages", "index.js"), "export default function Home() {\n  return null;\n}\n")
	return projDir
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	t.Run("out_dir", func(t *testing.T) {
		t.Parallel()

		projDir := newTestProject(t)
		outDir := filepath.Join(t.TempDir(), "out")
		reportFile := filepath.Join(t.TempDir(), "report.json")

		_, err := executeCommand(t, "--project", projDir, "--out", outDir, "--workers", "1", "--json", reportFile)
		require.NoError(t, err)

		about, err := os.ReadFile(filepath.Join(outDir, "pages", "about.js"))
		require.NoError(t, err)
		assert.Contains(t, string(about), "export async function _getStaticProps() {")
		assert.Contains(t, string(about), `const __pagewrapRoute = "/about";`)

		data, err := os.ReadFile(reportFile)
		require.NoError(t, err)
		var report wrap.ReportMetrics
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Equal(t, 2, report.PageCount)
		assert.Equal(t, 1, report.WrappedCount)
	})

	t.Run("in_place", func(t *testing.T) {
		t.Parallel()

		projDir := newTestProject(t)
		_, err := executeCommand(t, "--project", projDir, "--in-place")
		require.NoError(t, err)

		about, err := os.ReadFile(filepath.Join(projDir, "pages", "about.js"))
		require.NoError(t, err)
		assert.Contains(t, string(about), "_getStaticProps")
	})

	t.Run("config_file", func(t *testing.T) {
		t.Parallel()

		projDir := newTestProject(t)
		outDir := filepath.Join(t.TempDir(), "out")
		configFile := filepath.Join(t.TempDir(), "pagewrap.yaml")
		writeFile(t, configFile, "project_dir: "+projDir+"\nout_dir: "+outDir+"\nworkers: 1\n")

		_, err := executeCommand(t, "--config", configFile)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(outDir, "pages", "about.js"))
	})

	t.Run("diff", func(t *testing.T) {
		t.Parallel()

		projDir := newTestProject(t)
		out, err := executeCommand(t, "--project", projDir, "--out", filepath.Join(t.TempDir(), "out"), "--diff")
		require.NoError(t, err)
		assert.Contains(t, out, "+export async function _getStaticProps() {")
		assert.NotContains(t, out, "index.js")
	})

	t.Run("no_destination", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "--project", newTestProject(t))
		require.ErrorContains(t, err, "must specify one of")
	})

	t.Run("bad_config", func(t *testing.T) {
		t.Parallel()

		configFile := filepath.Join(t.TempDir(), "pagewrap.yaml")
		writeFile(t, configFile, "output: ./out\n")

		_, err := executeCommand(t, "--config", configFile)
		require.Error(t, err)
	})
}

func TestRewriteCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := filepath.Join(dir, "about.js")
	writeFile(t, page, testPropsPage)

	t.Run("route", func(t *testing.T) {
		t.Parallel()

		out, err := executeCommand(t, "rewrite", page, "--route", "/about")
		require.NoError(t, err)
		assert.Contains(t, out, "export async function _getStaticProps() {")
		assert.Contains(t, out, `const __pagewrapRoute = "/about";`)
		assert.Contains(t, out, "export { getStaticProps };")
	})

	t.Run("unchanged", func(t *testing.T) {
		t.Parallel()

		plain := filepath.Join(dir, "plain.js")
		writeFile(t, plain, "export const value = 1;\n")

		out, err := executeCommand(t, "rewrite", plain)
		require.NoError(t, err)
		assert.Equal(t, "export const value = 1;\n", out)
	})

	t.Run("unsupported_extension", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "rewrite", filepath.Join(dir, "styles.css"))
		require.Error(t, err)
	})

	t.Run("missing_arg", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "rewrite")
		require.Error(t, err)
	})
}

func TestTemplateCommand(t *testing.T) {
	t.Parallel()

	t.Run("embedded", func(t *testing.T) {
		t.Parallel()

		out, err := executeCommand(t, "template")
		require.NoError(t, err)
		assert.Contains(t, out, "// template/datafetchers.js (v1.2.0)\n")
		assert.Contains(t, out, "__ORIG_GSSP__")
	})

	t.Run("custom", func(t *testing.T) {
		t.Parallel()

		templateFile := filepath.Join(t.TempDir(), "wrappers.js")
		writeFile(t, templateFile, `// pagewrap-template v2.0.1
import { wrap } from 'runtime';

const __pagewrapRoute = '';

const getServerSideProps = wrap(__ORIG_GSSP__, __pagewrapRoute);
const getStaticProps = wrap(__ORIG_GSPROPS__, __pagewrapRoute);
const getStaticPaths = wrap(__ORIG_GSPATHS__, __pagewrapRoute);

export { getServerSideProps, getStaticProps, getStaticPaths };
`)
		out, err := executeCommand(t, "template", "--template", templateFile)
		require.NoError(t, err)
		assert.Contains(t, out, "(v2.0.1)\n")
		assert.Contains(t, out, "import { wrap } from 'runtime';")
	})

	t.Run("defective", func(t *testing.T) {
		t.Parallel()

		templateFile := filepath.Join(t.TempDir(), "wrappers.js")
		writeFile(t, templateFile, "export const nothing = 1;\n")

		_, err := executeCommand(t, "template", "--template", templateFile)
		require.ErrorIs(t, err, wrap.ErrTemplateDefect)
	})
}

func TestReportCommand(t *testing.T) {
	t.Parallel()

	t.Run("requires_json", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "report")
		require.ErrorContains(t, err, "--json is required")
	})

	t.Run("missing_report", func(t *testing.T) {
		t.Parallel()

		_, err := executeCommand(t, "report", "--json", filepath.Join(t.TempDir(), "missing.json"))
		require.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("chart", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping chart render in short mode")
		}
		t.Parallel()

		dir := t.TempDir()
		reportFile := filepath.Join(dir, "report.json")
		data, err := json.Marshal(wrap.ReportMetrics{
			PageCount: 3,
			Pages: []wrap.PageDetail{
				{Path: "pages/a.js", Route: "/a", Status: wrap.StatusRewritten, DurationMs: 3},
				{Path: "pages/b.js", Route: "/b", Status: wrap.StatusNoTrackedNames, Cached: true},
				{Path: "pages/c.js", Route: "/c", Status: wrap.StatusParseFailed, DurationMs: 1},
			},
		})
		require.NoError(t, err)
		writeFile(t, reportFile, string(data))

		chartFile := filepath.Join(dir, "chart.png")
		_, err = executeCommand(t, "report", "--json", reportFile, "--chart-out", chartFile)
		require.NoError(t, err)

		chart, err := os.ReadFile(chartFile)
		require.NoError(t, err)
		assert.NotEmpty(t, chart)
	})
}
