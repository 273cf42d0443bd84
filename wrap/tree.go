package wrap

import (
	"bytes"
	"slices"

	sitter "github.com/smacker/go-tree-sitter"
)

// NodeID is a stable index into the node table of a SourceTree.
type NodeID int32

const noNode NodeID = -1

// tree-sitter node kinds the engine inspects.
const (
	kindIdentifier             = "identifier"
	kindPropertyIdentifier     = "property_identifier"
	kindShorthandProperty      = "shorthand_property_identifier"
	kindShorthandPattern       = "shorthand_property_identifier_pattern"
	kindTypeIdentifier         = "type_identifier"
	kindStatementIdentifier    = "statement_identifier"
	kindComment                = "comment"
	kindError                  = "ERROR"
	kindString                 = "string"
	kindStringFragment         = "string_fragment"
	kindImportSpecifier        = "import_specifier"
	kindExportSpecifier        = "export_specifier"
	kindExportClause           = "export_clause"
	kindExportStatement        = "export_statement"
	kindPair                   = "pair"
	kindPairPattern            = "pair_pattern"
	kindMemberExpression       = "member_expression"
	kindMethodDefinition       = "method_definition"
	kindFieldDefinition        = "field_definition"
	kindPublicFieldDefinition  = "public_field_definition"
	kindLexicalDeclaration     = "lexical_declaration"
	kindVariableDeclaration    = "variable_declaration"
	kindVariableDeclarator     = "variable_declarator"
	kindFunctionDeclaration    = "function_declaration"
	kindGeneratorDeclaration   = "generator_function_declaration"
	kindClassDeclaration       = "class_declaration"
	kindAbstractClassDecl      = "abstract_class_declaration"
	kindProgram                = "program"
	kindJSXAttribute           = "jsx_attribute"
	kindJSXOpeningElement      = "jsx_opening_element"
	kindJSXClosingElement      = "jsx_closing_element"
	kindJSXSelfClosingElement  = "jsx_self_closing_element"
	kindJSXNamespaceName       = "jsx_namespace_name"
	kindNestedIdentifier       = "nested_identifier"
	fieldName                  = "name"
	fieldAlias                 = "alias"
	fieldKey                   = "key"
	fieldValue                 = "value"
	fieldObject                = "object"
	fieldProperty              = "property"
	fieldSource                = "source"
	fieldDeclaration           = "declaration"
	shorthandKeyValueSeparator = ": "
	shorthandImportAsSeparator = " as "
)

var identifierKinds = map[string]bool{
	kindIdentifier:          true,
	kindPropertyIdentifier:  true,
	kindShorthandProperty:   true,
	kindShorthandPattern:    true,
	kindTypeIdentifier:      true,
	kindStatementIdentifier: true,
}

func isIdentifierKind(kind string) bool {
	return identifierKinds[kind]
}

type treeNode struct {
	kind     string
	field    string
	parent   NodeID
	children []NodeID
	start    uint32
	end      uint32
	named    bool
	missing  bool
	removed  bool

	// identifier state
	name     string
	renamed  bool
	label    string // original text kept as the key when a shorthand form is expanded
	labelSep string

	// whole node text replacement
	replacement string
	replaced    bool
}

type byteRange struct {
	start, end uint32
}

// SourceTree is a mutable arena copy of one parsed module. Nodes are addressed by NodeID, which stays valid for
// the lifetime of the tree regardless of renames or removals.
type SourceTree struct {
	path     string
	dialect  Dialect
	src      []byte
	nodes    []treeNode
	removals []byteRange
}

func newSourceTree(path string, dialect Dialect, src []byte, root *sitter.Node) *SourceTree {
	t := &SourceTree{path: path, dialect: dialect, src: src}
	t.addNode(root, noNode, "")
	return t
}

func (t *SourceTree) addNode(n *sitter.Node, parent NodeID, field string) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, treeNode{
		kind:    n.Type(),
		field:   field,
		parent:  parent,
		start:   n.StartByte(),
		end:     n.EndByte(),
		named:   n.IsNamed(),
		missing: n.IsMissing(),
	})
	if isIdentifierKind(n.Type()) {
		t.nodes[id].name = n.Content(t.src)
	}

	count := int(n.ChildCount())
	if count == 0 {
		return id
	}
	fields := childFields(n)
	children := make([]NodeID, 0, count)
	for i := 0; i < count; i++ {
		child := n.Child(i)
		children = append(children, t.addNode(child, id, fields[childKey(child)]))
	}
	t.nodes[id].children = children
	return id
}

// trackedFields are the field names the engine reads when classifying an occurrence or a declaration.
var trackedFields = []string{
	fieldName, fieldAlias, fieldKey, fieldValue, fieldObject, fieldProperty, fieldSource, fieldDeclaration,
	"left", "right", "body", "pattern",
}

type nodeKey struct {
	kind       string
	start, end uint32
}

func childKey(n *sitter.Node) nodeKey {
	return nodeKey{kind: n.Type(), start: n.StartByte(), end: n.EndByte()}
}

func childFields(n *sitter.Node) map[nodeKey]string {
	var fields map[nodeKey]string
	for _, f := range trackedFields {
		if c := n.ChildByFieldName(f); c != nil {
			if fields == nil {
				fields = make(map[nodeKey]string, 2)
			}
			fields[childKey(c)] = f
		}
	}
	return fields
}

// Path returns the source path the tree was parsed from.
func (t *SourceTree) Path() string {
	return t.path
}

// Dialect returns the syntax dialect the tree was parsed with.
func (t *SourceTree) Dialect() Dialect {
	return t.dialect
}

// Root returns the path of the program node.
func (t *SourceTree) Root() NodePath {
	return NodePath{tree: t, id: 0}
}

// NodeCount reports the size of the node table.
func (t *SourceTree) NodeCount() int {
	return len(t.nodes)
}

func (t *SourceTree) node(id NodeID) *treeNode {
	return &t.nodes[id]
}

func (t *SourceTree) text(id NodeID) string {
	n := &t.nodes[id]
	return string(t.src[n.start:n.end])
}

// walk visits every live node in source order. Returning false from visit skips the node's children.
func (t *SourceTree) walk(visit func(id NodeID) bool) {
	if len(t.nodes) == 0 {
		return
	}
	stack := []NodeID{0}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &t.nodes[id]
		if n.removed || !visit(id) {
			continue
		}
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
}

// renameNode sets the current name of an identifier node.
func (t *SourceTree) renameNode(id NodeID, name string) {
	n := &t.nodes[id]
	n.name = name
	n.renamed = true
}

// expandShorthand keeps the node's original text as a label printed before the (renamed) binding name.
func (t *SourceTree) expandShorthand(id NodeID, sep string) {
	n := &t.nodes[id]
	if n.label != "" {
		return
	}
	n.label = string(t.src[n.start:n.end])
	n.labelSep = sep
}

// replaceText replaces the printed text of a whole node.
func (t *SourceTree) replaceText(id NodeID, text string) {
	n := &t.nodes[id]
	n.replacement = text
	n.replaced = true
}

func (t *SourceTree) markRemoved(id NodeID) {
	n := &t.nodes[id]
	n.removed = true
	for _, c := range n.children {
		t.markRemoved(c)
	}
}

// removeNode drops a node from the rendered output, taking its whole line when nothing else shares it. A whole line
// sitting between two blank lines also takes the blank line after it.
func (t *SourceTree) removeNode(id NodeID) {
	n := &t.nodes[id]
	start, end := t.lineExtent(n.start, n.end)
	if (start != n.start || end != n.end) && t.blankLineBefore(start) {
		end = t.skipBlankLine(end)
	}
	t.removals = append(t.removals, byteRange{start: start, end: end})
	t.markRemoved(id)
}

// removeListElement drops a node from a comma separated list along with one adjoining comma. The comma after the
// nearest live element before it is preferred, so removing trailing elements one by one leaves no dangling comma.
func (t *SourceTree) removeListElement(id NodeID) {
	n := &t.nodes[id]
	if n.parent == noNode {
		t.removeNode(id)
		return
	}
	siblings := t.nodes[n.parent].children
	idx := slices.Index(siblings, id)
	prevLive := -1
	if idx-1 >= 0 && t.nodes[siblings[idx-1]].kind == "," {
		for j := idx - 2; j >= 0; j-- {
			if s := &t.nodes[siblings[j]]; s.named && !s.removed {
				prevLive = j
				break
			}
		}
	}
	start, end := n.start, n.end
	if prevLive >= 0 {
		start = t.nodes[siblings[prevLive]].end
	} else if idx+1 < len(siblings) && t.nodes[siblings[idx+1]].kind == "," {
		end = t.nodes[siblings[idx+1]].end
		if idx+2 < len(siblings) {
			end = t.nodes[siblings[idx+2]].start
		}
	} else if idx-1 >= 0 && t.nodes[siblings[idx-1]].kind == "," {
		start = t.nodes[siblings[idx-1]].start
	}
	t.removals = append(t.removals, byteRange{start: start, end: end})
	t.markRemoved(id)
}

// lineExtent widens [start, end) to whole lines when the range is the only non-blank content on them.
func (t *SourceTree) lineExtent(start, end uint32) (uint32, uint32) {
	lineStart := uint32(bytes.LastIndexByte(t.src[:start], '\n') + 1)
	if len(bytes.TrimSpace(t.src[lineStart:start])) != 0 {
		return start, end
	}
	lineEnd := uint32(len(t.src))
	if i := bytes.IndexByte(t.src[end:], '\n'); i >= 0 {
		lineEnd = end + uint32(i) + 1
	}
	if len(bytes.TrimSpace(t.src[end:lineEnd])) != 0 {
		return start, end
	}
	return lineStart, lineEnd
}

// blankLineBefore reports if the line ending just before lineStart is blank. The start of the text counts as blank.
func (t *SourceTree) blankLineBefore(lineStart uint32) bool {
	if lineStart == 0 {
		return true
	}
	prev := uint32(bytes.LastIndexByte(t.src[:lineStart-1], '\n') + 1)
	return len(bytes.TrimSpace(t.src[prev : lineStart-1])) == 0
}

// skipBlankLine returns the start of the following line when the line at lineStart is blank, otherwise lineStart.
func (t *SourceTree) skipBlankLine(lineStart uint32) uint32 {
	i := bytes.IndexByte(t.src[lineStart:], '\n')
	if i < 0 || len(bytes.TrimSpace(t.src[lineStart:lineStart+uint32(i)])) != 0 {
		return lineStart
	}
	return lineStart + uint32(i) + 1
}

type textEdit struct {
	start, end uint32
	text       string
	removal    bool
}

// Render converts the tree, including every mutation made so far, back to source text.
func (t *SourceTree) Render() []byte {
	edits := make([]textEdit, 0, len(t.removals)+8)
	for _, r := range t.removals {
		edits = append(edits, textEdit{start: r.start, end: r.end, removal: true})
	}
	for i := range t.nodes {
		n := &t.nodes[i]
		if n.removed {
			continue
		} else if n.replaced {
			edits = append(edits, textEdit{start: n.start, end: n.end, text: n.replacement})
		} else if n.renamed || n.label != "" {
			edits = append(edits, textEdit{start: n.start, end: n.end, text: printedName(n)})
		}
	}
	if len(edits) == 0 {
		return slices.Clone(t.src)
	}
	slices.SortStableFunc(edits, func(a, b textEdit) int {
		if a.start != b.start {
			return int(a.start) - int(b.start)
		}
		return int(b.end) - int(a.end) // wider edits first so nested ones are skipped
	})

	out := make([]byte, 0, len(t.src)+64)
	var cursor uint32
	for _, e := range edits {
		if e.start < cursor {
			if e.removal && e.end > cursor {
				cursor = e.end
			}
			continue
		}
		out = append(out, t.src[cursor:e.start]...)
		out = append(out, e.text...)
		cursor = e.end
	}
	return append(out, t.src[cursor:]...)
}

func printedName(n *treeNode) string {
	if n.label == "" {
		return n.name
	}
	return n.label + n.labelSep + n.name
}
