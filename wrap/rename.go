package wrap

import (
	"fmt"
)

// OccurrenceRole is the syntactic role one identifier occurrence plays, derived from its immediate ancestors.
type OccurrenceRole int

const (
	// RoleUnclassified covers declarations and plain references.
	RoleUnclassified OccurrenceRole = iota
	// RoleImportLocal is the local binding of an import specifier.
	RoleImportLocal
	// RoleImportExternal is the imported module's export name in `import { external as local }`, or either part of a
	// re-export specifier `export { name } from 'module'`, which binds no local name.
	RoleImportExternal
	// RolePatternKey is the property key of a destructuring pattern entry.
	RolePatternKey
	// RolePatternValue is the binding of a destructuring pattern entry.
	RolePatternValue
	// RoleLiteralKey is the key of an object literal property, the name of a class or object member, or a JSX prop or
	// host element name.
	RoleLiteralKey
	// RoleLiteralValue is the value of an object literal property.
	RoleLiteralValue
	// RoleMemberObject is the object of a member access.
	RoleMemberObject
	// RoleMemberProperty is the property of a member access.
	RoleMemberProperty
	// RoleExportLocal is the local part of an export specifier.
	RoleExportLocal
	// RoleExportExternal is the exported part of an export specifier when it differs from the local part.
	RoleExportExternal
)

var roleNames = [...]string{
	RoleUnclassified:   "unclassified",
	RoleImportLocal:    "import-local",
	RoleImportExternal: "import-external",
	RolePatternKey:     "pattern-key",
	RolePatternValue:   "pattern-value",
	RoleLiteralKey:     "literal-key",
	RoleLiteralValue:   "literal-value",
	RoleMemberObject:   "member-object",
	RoleMemberProperty: "member-property",
	RoleExportLocal:    "export-local",
	RoleExportExternal: "export-external",
}

func (r OccurrenceRole) String() string {
	if r >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Renames reports if occurrences with this role take the new name.
func (r OccurrenceRole) Renames() bool {
	switch r {
	case RoleImportExternal, RolePatternKey, RoleLiteralKey, RoleMemberProperty:
		return false
	case RoleUnclassified, RoleImportLocal, RolePatternValue, RoleLiteralValue, RoleMemberObject,
		RoleExportLocal, RoleExportExternal:
		return true
	default:
		panic(fmt.Sprintf("unhandled occurrence role %d", int(r)))
	}
}

// Occurrence is one identifier node with the role it plays.
type Occurrence struct {
	Path NodePath
	Role OccurrenceRole
	// Shorthand marks a single node standing for both a label and a binding, `{ name }` or `import { name }`.
	Shorthand bool
}

// ClassifyOccurrence determines the role of an identifier node from its parent's shape.
func ClassifyOccurrence(p NodePath) Occurrence {
	occ := Occurrence{Path: p}
	switch p.Kind() {
	case kindShorthandProperty:
		occ.Role, occ.Shorthand = RoleLiteralValue, true
		return occ
	case kindShorthandPattern:
		occ.Role, occ.Shorthand = RolePatternValue, true
		return occ
	}

	parent, ok := p.Parent()
	if !ok {
		return occ
	}
	field := p.Field()
	switch parent.Kind() {
	case kindImportSpecifier:
		if field == fieldAlias {
			occ.Role = RoleImportLocal
		} else if _, aliased := parent.ChildByField(fieldAlias); aliased {
			occ.Role = RoleImportExternal
		} else {
			occ.Role, occ.Shorthand = RoleImportLocal, true
		}
	case kindExportSpecifier:
		if isReexport(parent) {
			occ.Role = RoleImportExternal
		} else if field == fieldAlias && localName(parent) != p.Name() {
			occ.Role = RoleExportExternal
		} else {
			occ.Role = RoleExportLocal
		}
	case kindPairPattern:
		if field == fieldKey {
			occ.Role = RolePatternKey
		} else if field == fieldValue {
			occ.Role = RolePatternValue
		}
	case kindPair:
		if field == fieldKey {
			occ.Role = RoleLiteralKey
		} else if field == fieldValue {
			occ.Role = RoleLiteralValue
		}
	case kindMemberExpression:
		if field == fieldProperty {
			occ.Role = RoleMemberProperty
		} else if field == fieldObject {
			occ.Role = RoleMemberObject
		}
	case kindMethodDefinition, kindFieldDefinition, kindPublicFieldDefinition:
		if field == fieldName || field == fieldProperty {
			occ.Role = RoleLiteralKey
		}
	case kindJSXAttribute, kindJSXNamespaceName:
		occ.Role = RoleLiteralKey // prop and namespaced names belong to the component
	case kindJSXOpeningElement, kindJSXClosingElement, kindJSXSelfClosingElement:
		if field == fieldName && isIntrinsicElementName(p.Name()) {
			occ.Role = RoleLiteralKey
		}
	case kindNestedIdentifier:
		if children := parent.NamedChildren(); len(children) > 0 && children[0].ID() != p.ID() {
			occ.Role = RoleMemberProperty
		} else {
			occ.Role = RoleMemberObject
		}
	}
	return occ
}

// isIntrinsicElementName reports if a JSX tag name is a host element, a lowercase name is a string and not a
// reference to a binding.
func isIntrinsicElementName(name string) bool {
	return name != "" && name[0] >= 'a' && name[0] <= 'z'
}

// isReexport reports if an export specifier belongs to an `export { ... } from` statement.
func isReexport(specifier NodePath) bool {
	clause, ok := specifier.Parent()
	if !ok || clause.Kind() != kindExportClause {
		return false
	}
	stmt, ok := clause.Parent()
	if !ok || stmt.Kind() != kindExportStatement {
		return false
	}
	_, ok = stmt.ChildByField(fieldSource)
	return ok
}

// RenameResult summarizes one rename pass.
type RenameResult struct {
	// Alias is the name occurrences were renamed to.
	Alias string
	// Occurrences counts every identifier visited, including those left untouched.
	Occurrences int
	// Renamed counts the occurrences that now carry Alias.
	Renamed int
	// Roles counts visited occurrences by role.
	Roles map[OccurrenceRole]int
}

// Rename renames every occurrence of original to alias, except occurrences whose role is an external label.
// An empty alias is allocated with FindAlias. Returns false when original does not occur in the tree.
//
// Names that must follow along, the local part behind `export { local as original }`, are queued and renamed to
// the same alias so the export keeps resolving after the rewrite.
func Rename(tree *SourceTree, original, alias string) (RenameResult, bool) {
	paths := FindIdentifiers(tree, original)
	if len(paths) == 0 {
		return RenameResult{}, false
	}
	if alias == "" {
		alias = FindAlias(tree, original)
	}

	result := RenameResult{Alias: alias, Roles: make(map[OccurrenceRole]int)}
	queued := map[string]bool{original: true, alias: true}
	queue := []string{original}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if name != original {
			paths = FindIdentifiers(tree, name)
		}

		// classify before mutating so every role reflects the tree as the pass found it
		occurrences := make([]Occurrence, len(paths))
		for i, p := range paths {
			occurrences[i] = ClassifyOccurrence(p)
		}
		for _, occ := range occurrences {
			result.Occurrences++
			result.Roles[occ.Role]++
			if !occ.Role.Renames() {
				continue
			}
			switch occ.Role {
			case RoleImportLocal:
				if occ.Shorthand {
					tree.expandShorthand(occ.Path.ID(), shorthandImportAsSeparator)
				}
			case RolePatternValue, RoleLiteralValue:
				if occ.Shorthand {
					tree.expandShorthand(occ.Path.ID(), shorthandKeyValueSeparator)
				}
			case RoleExportExternal:
				specifier, _ := occ.Path.Parent()
				if local, ok := specifier.ChildByField(fieldName); ok && local.Kind() == kindIdentifier {
					if localName := local.Name(); !queued[localName] {
						queued[localName] = true
						queue = append(queue, localName)
					}
				}
			}
			tree.renameNode(occ.Path.ID(), alias)
			result.Renamed++
		}
	}
	return result, true
}
