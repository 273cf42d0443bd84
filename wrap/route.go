package wrap

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParameterizedRoute derives the route of a page module from its location under the pages directory:
// pages/blog/[slug].tsx becomes /blog/[slug] and any index page maps to its directory.
func ParameterizedRoute(pagesDir, pagePath string) (string, error) {
	rel, err := filepath.Rel(pagesDir, pagePath)
	if err != nil {
		return "", fmt.Errorf("page route for %s: %w", pagePath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("page %s is outside pages directory %s", pagePath, pagesDir)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	if rel == "index" {
		return "/", nil
	}
	return "/" + strings.TrimSuffix(rel, "/index"), nil
}
