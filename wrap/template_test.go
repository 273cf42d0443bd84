package wrap

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTemplateSrc = `// pagewrap-template v2.0.1
import { wrap } from 'runtime';

const __pagewrapRoute = '';

const getServerSideProps = wrap(__ORIG_GSSP__, __pagewrapRoute);
const getStaticProps = wrap(__ORIG_GSPROPS__, __pagewrapRoute);
const getStaticPaths = wrap(__ORIG_GSPATHS__, __pagewrapRoute);

export { getServerSideProps, getStaticProps, getStaticPaths };
`

func TestDefaultTemplate(t *testing.T) {
	t.Parallel()

	tmpl, err := DefaultTemplate()
	require.NoError(t, err)
	assert.Equal(t, "v1.2.0", tmpl.Version)
	assert.Equal(t, defaultTemplatePath, tmpl.Path)

	again, err := DefaultTemplate()
	require.NoError(t, err)
	assert.Same(t, tmpl, again)
}

func TestNewTemplate(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		tmpl, err := NewTemplate("custom.js", []byte(testTemplateSrc))
		require.NoError(t, err)
		assert.Equal(t, "v2.0.1", tmpl.Version)
		assert.Equal(t, "custom.js", tmpl.Path)
	})

	t.Run("canonical_version", func(t *testing.T) {
		src := strings.Replace(testTemplateSrc, "v2.0.1", "v2.1", 1)
		tmpl, err := NewTemplate("custom.js", []byte(src))
		require.NoError(t, err)
		assert.Equal(t, "v2.1.0", tmpl.Version)
	})

	defects := []struct {
		name string
		src  string
	}{
		{
			name: "missing_header",
			src:  strings.Replace(testTemplateSrc, "// pagewrap-template v2.0.1\n", "", 1),
		},
		{
			name: "invalid_version",
			src:  strings.Replace(testTemplateSrc, "v2.0.1", "2.0.1", 1),
		},
		{
			name: "missing_placeholder",
			src:  strings.Replace(testTemplateSrc, "__ORIG_GSPROPS__", "undefined", 1),
		},
		{
			name: "repeated_placeholder",
			src:  strings.Replace(testTemplateSrc, "wrap(__ORIG_GSSP__,", "wrap(__ORIG_GSSP__ || __ORIG_GSSP__,", 1),
		},
		{
			name: "missing_export",
			src:  strings.Replace(testTemplateSrc, ", getStaticPaths }", " }", 1),
		},
		{
			name: "placeholder_outside_declaration",
			src: strings.Replace(testTemplateSrc,
				"const getStaticPaths = wrap(__ORIG_GSPATHS__, __pagewrapRoute);",
				"const fallback = __ORIG_GSPATHS__;\nconst getStaticPaths = wrap(fallback, __pagewrapRoute);", 1),
		},
		{
			name: "multi_binding_declaration",
			src: strings.Replace(testTemplateSrc,
				"const getStaticPaths = wrap(__ORIG_GSPATHS__, __pagewrapRoute);",
				"const getStaticPaths = wrap(__ORIG_GSPATHS__, __pagewrapRoute), other = 1;", 1),
		},
		{
			name: "syntax_error",
			src:  testTemplateSrc + "const = ;\n",
		},
	}
	for _, tt := range defects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTemplate("custom.js", []byte(tt.src))
			require.ErrorIs(t, err, ErrTemplateDefect)
		})
	}
}

func TestTemplateParseStripsComments(t *testing.T) {
	t.Parallel()

	tmpl, err := DefaultTemplate()
	require.NoError(t, err)
	tree, err := tmpl.parse()
	require.NoError(t, err)

	out := string(tree.Render())
	assert.NotContains(t, out, "pagewrap-template")
	assert.NotContains(t, out, "/*")
	assert.Contains(t, out, "export { getServerSideProps, getStaticProps, getStaticPaths };")
}

func TestRemoveFunctionBlock(t *testing.T) {
	t.Parallel()

	names := []string{"getServerSideProps", "getStaticProps", "getStaticPaths"}
	tests := []struct {
		remove     []string
		wantExport string
	}{
		{[]string{"getServerSideProps"}, "export { getStaticProps, getStaticPaths };"},
		{[]string{"getStaticProps"}, "export { getServerSideProps, getStaticPaths };"},
		{[]string{"getStaticPaths"}, "export { getServerSideProps, getStaticProps };"},
		{[]string{"getStaticProps", "getStaticPaths"}, "export { getServerSideProps };"},
		{[]string{"getServerSideProps", "getStaticPaths"}, "export { getStaticProps };"},
		{[]string{"getServerSideProps", "getStaticProps", "getStaticPaths"}, ""},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.remove, "_"), func(t *testing.T) {
			tmpl, err := NewTemplate("custom.js", []byte(testTemplateSrc))
			require.NoError(t, err)
			tree, err := tmpl.parse()
			require.NoError(t, err)
			for _, name := range tt.remove {
				removeFunctionBlock(tree, name)
			}

			out := string(tree.Render())
			for _, name := range names {
				if slices.Contains(tt.remove, name) {
					assert.NotContains(t, out, name)
				} else {
					assert.Contains(t, out, "const "+name+" = ")
				}
			}
			if tt.wantExport == "" {
				assert.NotContains(t, out, "export")
				assert.NotContains(t, out, "__ORIG_")
			} else {
				assert.Contains(t, out, tt.wantExport)
			}

			_, err = ParseSource("template.js", []byte(out), DialectJavaScript)
			require.NoError(t, err)
		})
	}
}

func TestRemoveFunctionBlockBlankLines(t *testing.T) {
	t.Parallel()

	names := []string{"getServerSideProps", "getStaticProps", "getStaticPaths"}
	for mask := 1; mask < 1<<len(names); mask++ {
		var remove []string
		for i, name := range names {
			if mask&(1<<i) != 0 {
				remove = append(remove, name)
			}
		}
		t.Run(strings.Join(remove, "_"), func(t *testing.T) {
			tmpl, err := DefaultTemplate()
			require.NoError(t, err)
			tree, err := tmpl.parse()
			require.NoError(t, err)
			for _, name := range remove {
				removeFunctionBlock(tree, name)
			}

			out := string(tree.Render())
			assert.NotContains(t, out, "\n\n\n")
			assert.False(t, strings.HasPrefix(out, "\n"))
		})
	}
}

func TestRemoveFunctionBlockExportedDeclaration(t *testing.T) {
	t.Parallel()

	tree := mustParse(t, "export const getStaticProps = wrap(a);\nexport const keep = 1;\n", DialectJavaScript)
	removeFunctionBlock(tree, "getStaticProps")
	assert.Equal(t, "export const keep = 1;\n", string(tree.Render()))
}

func TestRemoveExportSpecifierKeepsReexport(t *testing.T) {
	t.Parallel()

	tree := mustParse(t, "export { getStaticProps } from './data';\n", DialectJavaScript)
	for _, specifier := range FindExportedAs(tree, "getStaticProps") {
		removeExportSpecifier(tree, specifier)
	}
	assert.Equal(t, "export {  } from './data';\n", string(tree.Render()))
}

func TestUpdateConstLiterals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		src    string
		values map[string]string
		want   string
	}{
		{
			name:   "const",
			src:    "const __pagewrapRoute = '';\n",
			values: map[string]string{routeConstName: "/blog/[slug]"},
			want:   "const __pagewrapRoute = \"/blog/[slug]\";\n",
		},
		{
			name:   "var",
			src:    "var route = null;\n",
			values: map[string]string{"route": "/"},
			want:   "var route = \"/\";\n",
		},
		{
			name:   "escaped",
			src:    "const route = '';\n",
			values: map[string]string{"route": "/a\"b\\c"},
			want:   "const route = \"/a\\\"b\\\\c\";\n",
		},
		{
			name:   "other_names_untouched",
			src:    "const a = 1, route = 2;\n",
			values: map[string]string{"route": "/x"},
			want:   "const a = 1, route = \"/x\";\n",
		},
		{
			name:   "nested_untouched",
			src:    "function f() { const route = ''; }\n",
			values: map[string]string{"route": "/x"},
			want:   "function f() { const route = ''; }\n",
		},
		{
			name:   "no_values",
			src:    "const route = '';\n",
			values: nil,
			want:   "const route = '';\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := mustParse(t, tt.src, DialectJavaScript)
			updateConstLiterals(tree, tt.values)
			assert.Equal(t, tt.want, string(tree.Render()))
		})
	}
}
