// Package pagination windows list results by page and limit. Parameters
// come either from tool arguments or from URL query strings; both paths
// share the same defaults and the same maximum limit.
package pagination

import (
	"math"
	"net/url"
	"strconv"
)

// Params represents a validated page request.
type Params struct {
	Page   int `json:"page"`   // Current page number (1-based)
	Limit  int `json:"limit"`  // Number of items per page
	Offset int `json:"offset"` // Items skipped before this page
}

const (
	// MaxLimit is the maximum number of items allowed per page
	MaxLimit = 100
	// DefaultPage is the default page number when not specified
	DefaultPage = 1
	// DefaultLimit is the default number of items per page when not specified
	DefaultLimit = 20
)

// calculateOffset computes the offset for a given page and limit.
// It ensures page is at least 1 to avoid negative offsets, and saturates
// at math.MaxInt instead of overflowing.
func calculateOffset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	if limit > 0 && page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// New validates page and limit. Non-positive values fall back to the
// defaults and the limit is capped at MaxLimit.
func New(page, limit int) Params {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return Params{Page: page, Limit: limit, Offset: calculateOffset(page, limit)}
}

// FromQuery extracts pagination parameters from URL query values.
func FromQuery(q url.Values) Params {
	page, limit := DefaultPage, DefaultLimit
	if pageStr := q.Get("page"); pageStr != "" {
		if val, err := strconv.Atoi(pageStr); err == nil && val > 0 {
			page = val
		}
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if val, err := strconv.Atoi(limitStr); err == nil && val > 0 {
			limit = val
		}
	}
	return New(page, limit)
}

// HasNext reports whether items remain after the current page.
func HasNext(offset, limit, count int) bool {
	return offset < count && count-offset > limit
}

// Page is one window of a list result.
type Page[T any] struct {
	Items   []T  `json:"items"`
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

// Window slices items to the page described by p.
func Window[T any](items []T, p Params) Page[T] {
	total := len(items)
	start := min(p.Offset, total)
	end := min(start+p.Limit, total)
	window := make([]T, end-start)
	copy(window, items[start:end])
	return Page[T]{
		Items:   window,
		Page:    p.Page,
		Limit:   p.Limit,
		Total:   total,
		HasNext: HasNext(p.Offset, p.Limit, total),
	}
}
