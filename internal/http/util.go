package httpx

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/jakub-figat/chromatin/internal/errors"
)

// intQueryOr ignores a missing or malformed value.
func intQueryOr(r *http.Request, key string, def int) int {
	i, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return i
}

// optionalIntQuery parses an optional integer filter. Malformed values are validation errors.
func optionalIntQuery(r *http.Request, key string) (*int, error) {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return nil, apperrors.ValidationField(key, fmt.Sprintf("%s must be a non-negative integer", key))
	}
	return &i, nil
}

// optionalQuery returns a pointer to a trimmed query value, or nil when absent.
func optionalQuery(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	return &v
}

// ParseLimitOffset reads limit and offset, clamping limit to [1, maxLimit] and offset to >= 0.
func ParseLimitOffset(r *http.Request, defLimit, maxLimit int) (limit, offset int) {
	limit = min(max(intQueryOr(r, "limit", defLimit), 1), max(maxLimit, 1))
	offset = max(intQueryOr(r, "offset", 0), 0)
	return limit, offset
}
