package wrap

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

const (
	defaultTemplatePath = "template/datafetchers.js"
	routeConstName      = "__pagewrapRoute"
)

// embed the wrapper template into the binary
//
//go:embed template/datafetchers.js
var tmplFS embed.FS

// ErrTemplateDefect indicates the wrapper template or the engine broke an invariant. It is never caused by the
// page being rewritten.
var ErrTemplateDefect = errors.New("template defect")

var templateVersionRe = regexp.MustCompile(`^//\s*pagewrap-template\s+(\S+)`)

// Template is a validated wrapper template. Its source is shared read-only; every rewrite parses a private tree.
type Template struct {
	// Path identifies the template in diagnostics.
	Path string
	// Version is the semantic version declared on the template's first line.
	Version string
	// Source is the raw template text.
	Source []byte
}

var defaultTemplate = sync.OnceValues(func() (*Template, error) {
	src, err := tmplFS.ReadFile(defaultTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("load embedded template: %w", err)
	}
	return NewTemplate(defaultTemplatePath, src)
})

// DefaultTemplate returns the embedded template, loaded and validated once per process.
func DefaultTemplate() (*Template, error) {
	return defaultTemplate()
}

// NewTemplate validates template source. Each tracked function needs a single binding declaration containing its
// placeholder exactly once, and an export specifier exporting it.
func NewTemplate(path string, src []byte) (*Template, error) {
	m := templateVersionRe.FindSubmatch(src)
	if m == nil {
		return nil, fmt.Errorf("%w: %s has no version header", ErrTemplateDefect, path)
	}
	version := string(m[1])
	if !semver.IsValid(version) {
		return nil, fmt.Errorf("%w: %s version %q is not a semantic version", ErrTemplateDefect, path, version)
	}

	tree, err := ParseSource(path, src, DialectJavaScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateDefect, err)
	}
	for _, fn := range TrackedFunctions() {
		if n := strings.Count(string(src), fn.Placeholder); n != 1 {
			return nil, fmt.Errorf("%w: %s placeholder %s appears %d times", ErrTemplateDefect, path, fn.Placeholder, n)
		} else if len(FindExportedAs(tree, fn.Name)) == 0 {
			return nil, fmt.Errorf("%w: %s does not export %s", ErrTemplateDefect, path, fn.Name)
		}
		decls := FindSingleBindingDeclarations(tree, fn.Name)
		if len(decls) != 1 {
			return nil, fmt.Errorf("%w: %s declares %s %d times", ErrTemplateDefect, path, fn.Name, len(decls))
		} else if !strings.Contains(decls[0].Text(), fn.Placeholder) {
			return nil, fmt.Errorf("%w: %s placeholder %s is outside the %s declaration",
				ErrTemplateDefect, path, fn.Placeholder, fn.Name)
		}
	}
	return &Template{Path: path, Version: semver.Canonical(version), Source: src}, nil
}

// parse produces a private, comment free tree of the template.
func (t *Template) parse() (*SourceTree, error) {
	tree, err := ParseSource(t.Path, t.Source, DialectJavaScript)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTemplateDefect, err)
	}
	StripComments(tree)
	return tree, nil
}

// removeFunctionBlock drops the export specifier and declaration of one tracked function from a template tree.
func removeFunctionBlock(tree *SourceTree, name string) {
	for _, specifier := range FindExportedAs(tree, name) {
		removeExportSpecifier(tree, specifier)
	}
	for _, decl := range FindSingleBindingDeclarations(tree, name) {
		target := decl
		if parent, ok := decl.Parent(); ok && parent.Kind() == kindExportStatement {
			target = parent
		}
		tree.removeNode(target.ID())
	}
}

// removeExportSpecifier drops one specifier, and the whole statement once its clause is empty.
func removeExportSpecifier(tree *SourceTree, specifier NodePath) {
	tree.removeListElement(specifier.ID())
	clause, ok := specifier.Parent()
	if !ok || clause.Kind() != kindExportClause || len(clause.NamedChildren()) > 0 {
		return
	}
	if stmt, ok := clause.Parent(); ok && stmt.Kind() == kindExportStatement {
		if _, reexport := stmt.ChildByField(fieldSource); !reexport {
			tree.removeNode(stmt.ID())
		}
	}
}

// updateConstLiterals walks the top level const and var declarations and replaces the value of every declarator
// named by a key in values with that value as a string literal.
func updateConstLiterals(tree *SourceTree, values map[string]string) {
	if len(values) == 0 {
		return
	}
	for _, stmt := range tree.Root().NamedChildren() {
		if stmt.Kind() != kindLexicalDeclaration && stmt.Kind() != kindVariableDeclaration {
			continue
		}
		for _, declarator := range stmt.NamedChildren() {
			if declarator.Kind() != kindVariableDeclarator {
				continue
			}
			name, ok := declarator.ChildByField(fieldName)
			if !ok {
				continue
			}
			v, hasReplacement := values[name.Name()]
			if !hasReplacement {
				continue
			}
			if value, ok := declarator.ChildByField(fieldValue); ok {
				tree.replaceText(value.ID(), jsStringLiteral(v))
			}
		}
	}
}

func jsStringLiteral(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err) // strings always marshal
	}
	return string(b)
}
