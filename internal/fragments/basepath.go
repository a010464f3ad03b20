package fragments

import "strings"

// BasePath returns the relative prefix that leads from pagePath back to the site root:
// "./" for root-level pages and one "../" per directory level below that.
//
//	/               -> ./
//	/cart           -> ./
//	/shop/men       -> ../
//	/shop/men/      -> ../../
func BasePath(pagePath string) string {
	depth := 0
	prevSlash := true
	trimmed := strings.TrimPrefix(pagePath, "/")
	for _, r := range trimmed {
		if r == '/' {
			if !prevSlash {
				depth++
			}
			prevSlash = true
			continue
		}
		prevSlash = false
	}
	if depth == 0 {
		return "./"
	}
	return strings.Repeat("../", depth)
}

// Resolver chooses the base prefix for links and fragment requests. When the site is hosted
// under a fixed mount (for example "/storefront") the mount wins over the depth heuristic.
type Resolver struct {
	Mount string
}

// Base returns the prefix to prepend to site-relative links on pagePath.
func (r Resolver) Base(pagePath string) string {
	mount := strings.Trim(strings.TrimSpace(r.Mount), "/")
	if mount != "" {
		return "/" + mount + "/"
	}
	return BasePath(pagePath)
}
