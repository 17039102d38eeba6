package jobs

import "strings"

// ParseRoute extracts the resource ID and action from a URL path like
// /api/books/{id}/{action}. apiPrefix should be like "/api/books/".
// Returns empty strings and ok=false if the path does not match.
func ParseRoute(path, apiPrefix string) (id, action string, ok bool) {
	if !strings.HasPrefix(path, apiPrefix) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
