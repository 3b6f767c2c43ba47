package observe

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RouteIDPlaceholder replaces identifier segments in normalized routes.
const RouteIDPlaceholder = "{id}"

// NormalizeRoute returns a low-cardinality form of a URL path for span
// names and metric tags. Segments that are integers or UUIDs become {id}.
// The query string, if any, is dropped.
func NormalizeRoute(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == "/" {
		return "/"
	}

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if isIDSegment(seg) {
			segments[i] = RouteIDPlaceholder
		}
	}
	return strings.Join(segments, "/")
}

func isIDSegment(seg string) bool {
	if _, err := strconv.ParseInt(seg, 10, 64); err == nil {
		return true
	}
	if len(seg) == 36 || len(seg) == 32 {
		if _, err := uuid.Parse(seg); err == nil {
			return true
		}
	}
	return false
}
