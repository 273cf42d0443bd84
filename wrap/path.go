package wrap

// NodePath identifies one node of a SourceTree together with its ancestor chain. Paths stay valid across renames
// and removals since they hold the node's arena index rather than a pointer.
type NodePath struct {
	tree *SourceTree
	id   NodeID
}

// Valid reports if the path refers to a node.
func (p NodePath) Valid() bool {
	return p.tree != nil && p.id >= 0 && int(p.id) < len(p.tree.nodes)
}

// ID returns the arena index of the node.
func (p NodePath) ID() NodeID {
	return p.id
}

// Tree returns the tree that owns the node.
func (p NodePath) Tree() *SourceTree {
	return p.tree
}

// Kind returns the syntax kind of the node.
func (p NodePath) Kind() string {
	return p.tree.node(p.id).kind
}

// Field returns the field name this node occupies within its parent, or an empty string.
func (p NodePath) Field() string {
	return p.tree.node(p.id).field
}

// Name returns the current name of an identifier node, reflecting any rename.
func (p NodePath) Name() string {
	n := p.tree.node(p.id)
	if isIdentifierKind(n.kind) {
		return n.name
	}
	return p.tree.text(p.id)
}

// Text returns the node's original source text.
func (p NodePath) Text() string {
	return p.tree.text(p.id)
}

// Removed reports if the node has been dropped from the tree.
func (p NodePath) Removed() bool {
	return p.tree.node(p.id).removed
}

// Parent returns the path of the parent node.
func (p NodePath) Parent() (NodePath, bool) {
	parent := p.tree.node(p.id).parent
	if parent == noNode {
		return NodePath{}, false
	}
	return NodePath{tree: p.tree, id: parent}, true
}

// Ancestors returns the chain of ancestors, nearest first.
func (p NodePath) Ancestors() []NodePath {
	var result []NodePath
	for parent, ok := p.Parent(); ok; parent, ok = parent.Parent() {
		result = append(result, parent)
	}
	return result
}

// ChildByField returns the child occupying the given field.
func (p NodePath) ChildByField(field string) (NodePath, bool) {
	for _, c := range p.tree.node(p.id).children {
		if p.tree.node(c).field == field {
			return NodePath{tree: p.tree, id: c}, true
		}
	}
	return NodePath{}, false
}

// NamedChildren returns the live named children of the node.
func (p NodePath) NamedChildren() []NodePath {
	var result []NodePath
	for _, c := range p.tree.node(p.id).children {
		if n := p.tree.node(c); n.named && !n.removed {
			result = append(result, NodePath{tree: p.tree, id: c})
		}
	}
	return result
}

// Line returns the 1-based line of the node start.
func (p NodePath) Line() int {
	line, _ := p.tree.position(p.tree.node(p.id).start)
	return line
}
