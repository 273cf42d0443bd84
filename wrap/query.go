package wrap

import (
	"strconv"
)

// FindIdentifiers returns every live identifier node currently named name, regardless of its syntactic role.
func FindIdentifiers(tree *SourceTree, name string) []NodePath {
	var result []NodePath
	tree.walk(func(id NodeID) bool {
		if n := tree.node(id); isIdentifierKind(n.kind) && n.name == name {
			result = append(result, NodePath{tree: tree, id: id})
		}
		return true
	})
	return result
}

// FindSingleBindingDeclarations returns the declarations that introduce exactly one binding, named name.
// Declarations binding several names in one statement are never matched.
func FindSingleBindingDeclarations(tree *SourceTree, name string) []NodePath {
	var result []NodePath
	tree.walk(func(id NodeID) bool {
		p := NodePath{tree: tree, id: id}
		switch p.Kind() {
		case kindLexicalDeclaration, kindVariableDeclaration:
			var declarators []NodePath
			for _, c := range p.NamedChildren() {
				if c.Kind() == kindVariableDeclarator {
					declarators = append(declarators, c)
				}
			}
			if len(declarators) == 1 {
				if binding, ok := declarators[0].ChildByField(fieldName); ok &&
					binding.Kind() == kindIdentifier && binding.Name() == name {
					result = append(result, p)
				}
			}
			return false
		case kindFunctionDeclaration, kindGeneratorDeclaration, kindClassDeclaration, kindAbstractClassDecl:
			if binding, ok := p.ChildByField(fieldName); ok && binding.Name() == name {
				result = append(result, p)
			}
			return false
		}
		return true
	})
	return result
}

// FindExportedAs returns the export specifiers whose externally visible name is name, whatever their local name.
func FindExportedAs(tree *SourceTree, name string) []NodePath {
	var result []NodePath
	tree.walk(func(id NodeID) bool {
		if tree.node(id).kind != kindExportSpecifier {
			return true
		}
		p := NodePath{tree: tree, id: id}
		if exportedName(p) == name {
			result = append(result, p)
		}
		return false
	})
	return result
}

// exportedName returns the external name of an export specifier: the alias part when present, else the name part.
func exportedName(specifier NodePath) string {
	part, ok := specifier.ChildByField(fieldAlias)
	if !ok {
		if part, ok = specifier.ChildByField(fieldName); !ok {
			return ""
		}
	}
	return specifierPartName(part)
}

// localName returns the local part of an import or export specifier.
func localName(specifier NodePath) string {
	part, ok := specifier.ChildByField(fieldName)
	if !ok {
		return ""
	}
	return specifierPartName(part)
}

func specifierPartName(part NodePath) string {
	if part.Kind() == kindString { // export { x as "y" }
		if unquoted, err := strconv.Unquote(part.Text()); err == nil {
			return unquoted
		}
		text := part.Text()
		if len(text) >= 2 {
			return text[1 : len(text)-1]
		}
	}
	return part.Name()
}
