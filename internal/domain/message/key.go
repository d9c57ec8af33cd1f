package message

import (
	"strings"

	"github.com/kailas-cloud/vecdex-ingest/internal/domain"
)

// ParseKey derives (id, category) from a location key such as "shoes/ab12.jpg".
// Empty and "." segments are ignored. Any leading prefix is allowed; the category
// is always the parent directory of the last segment.
func ParseKey(key string) (id, category string, err error) {
	segments := splitKey(key)
	if len(segments) < 2 {
		return "", "", domain.NewMalformedKeyError(key)
	}

	id = stem(segments[len(segments)-1])
	category = segments[len(segments)-2]
	if id == "" {
		return "", "", domain.NewMalformedKeyError(key)
	}
	return id, category, nil
}

func splitKey(key string) []string {
	raw := strings.Split(key, "/")
	out := raw[:0]
	for _, s := range raw {
		if s == "" || s == "." {
			continue
		}
		out = append(out, s)
	}
	return out
}

// stem strips the last extension. A leading dot and a trailing dot are not separators,
// so ".jpg" and "ab12." are returned as is.
func stem(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 || i == len(name)-1 {
		return name
	}
	return name[:i]
}
