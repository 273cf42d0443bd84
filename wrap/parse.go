package wrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Dialect selects the grammar a module is parsed with.
type Dialect int

const (
	// DialectJavaScript is plain JavaScript, JSX included.
	DialectJavaScript Dialect = iota
	// DialectTypeScript is TypeScript without JSX.
	DialectTypeScript
	// DialectTSX is TypeScript with JSX.
	DialectTSX
)

func (d Dialect) String() string {
	switch d {
	case DialectJavaScript:
		return "javascript"
	case DialectTypeScript:
		return "typescript"
	case DialectTSX:
		return "tsx"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

// Typed reports if the dialect carries static type annotations.
func (d Dialect) Typed() bool {
	return d == DialectTypeScript || d == DialectTSX
}

func (d Dialect) language() *sitter.Language {
	switch d {
	case DialectTypeScript:
		return typescript.GetLanguage()
	case DialectTSX:
		return tsx.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

// ErrUnsupportedExtension indicates a file is not a module this tool can rewrite.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

// DialectForPath selects the dialect from a file extension.
func DialectForPath(path string) (Dialect, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".jsx", ".mjs", ".cjs":
		return DialectJavaScript, nil
	case ".ts", ".mts", ".cts":
		return DialectTypeScript, nil
	case ".tsx":
		return DialectTSX, nil
	default:
		return DialectJavaScript, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
}

// ErrSyntax indicates source text does not conform to the selected grammar.
var ErrSyntax = errors.New("syntax error")

// ParseError reports a module that failed to parse, along with the first offending location.
type ParseError struct {
	Path    string
	Dialect Dialect
	Line    int
	Column  int
	Err     error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s (%s) at %d:%d: %v", e.Path, e.Dialect, e.Line, e.Column, e.Err)
	}
	return fmt.Sprintf("parse %s (%s): %v", e.Path, e.Dialect, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseSource parses one module into a SourceTree. A new tree-sitter parser is used for each call so concurrent
// callers never share parser state.
func ParseSource(path string, src []byte, dialect Dialect) (*SourceTree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(dialect.language())

	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &ParseError{Path: path, Dialect: dialect, Err: err}
	}
	defer tree.Close()

	root := tree.RootNode()
	result := newSourceTree(path, dialect, src, root)
	if root.HasError() {
		perr := &ParseError{Path: path, Dialect: dialect, Err: ErrSyntax}
		if id, ok := result.firstErrorNode(); ok {
			perr.Line, perr.Column = result.position(result.node(id).start)
			if result.node(id).missing {
				perr.Err = fmt.Errorf("%w: missing %q", ErrSyntax, result.node(id).kind)
			} else {
				perr.Err = fmt.Errorf("%w: unexpected %q", ErrSyntax, limitText(result.text(id), 40))
			}
		}
		return nil, perr
	}
	return result, nil
}

func (t *SourceTree) firstErrorNode() (NodeID, bool) {
	found := noNode
	t.walk(func(id NodeID) bool {
		if found != noNode {
			return false
		}
		if n := t.node(id); n.kind == kindError || n.missing {
			found = id
			return false
		}
		return true
	})
	return found, found != noNode
}

// position converts a byte offset to a 1-based line and column.
func (t *SourceTree) position(offset uint32) (int, int) {
	before := t.src[:offset]
	line := bytes.Count(before, []byte{'\n'}) + 1
	col := int(offset) - (bytes.LastIndexByte(before, '\n') + 1) + 1
	return line, col
}

func limitText(s string, n int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
