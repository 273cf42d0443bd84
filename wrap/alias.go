package wrap

import (
	"fmt"
)

const aliasPrefix = "_"

// FindAlias returns name prefixed with underscores until it matches no identifier in the tree. The result only
// depends on the tree contents, so repeated calls against an unchanged tree agree.
func FindAlias(tree *SourceTree, name string) string {
	// each candidate that collides must be a distinct identifier in the tree, bounding the search
	limit := tree.NodeCount() + 1
	alias := aliasPrefix + name
	for i := 0; i < limit; i++ {
		if len(FindIdentifiers(tree, alias)) == 0 {
			return alias
		}
		alias = aliasPrefix + alias
	}
	panic(fmt.Sprintf("alias search for %q exceeded %d candidates in %s", name, limit, tree.Path()))
}
