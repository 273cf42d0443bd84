package wrap

import (
	"strings"
)

// StripComments removes every comment from the tree. Comments on a line of their own take the line with them,
// inline block comments collapse to a single space so neighbouring tokens stay apart.
func StripComments(tree *SourceTree) {
	var comments []NodeID
	tree.walk(func(id NodeID) bool {
		if tree.node(id).kind == kindComment {
			comments = append(comments, id)
			return false
		}
		return true
	})
	for _, id := range comments {
		n := tree.node(id)
		start, end := tree.lineExtent(n.start, n.end)
		if start == n.start && end == n.end && strings.HasPrefix(tree.text(id), "/*") {
			tree.replaceText(id, " ")
			continue
		}
		tree.removeNode(id)
	}
}
