package pagination

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Params holds limit/offset pagination parameters extracted from query strings.
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// DefaultParams returns the default page window.
func DefaultParams() Params {
	return Params{Limit: DefaultLimit}
}

// FromRequest extracts limit and offset from an HTTP request. A limit above
// MaxLimit is clamped. Non-numeric or negative values are rejected so callers
// can answer with a validation error naming the parameter.
func FromRequest(r *http.Request) (Params, error) {
	p := DefaultParams()
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return p, &ParamError{Name: "limit", Reason: "must be a positive integer"}
		}
		p.Limit = min(v, MaxLimit)
	}

	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return p, &ParamError{Name: "offset", Reason: "must be a non-negative integer"}
		}
		p.Offset = v
	}

	return p, nil
}

// ParamError describes a malformed pagination query parameter.
type ParamError struct {
	Name   string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("query parameter '%s' %s", e.Name, e.Reason)
}

// Result wraps a page of items with the total number of matching rows.
type Result[T any] struct {
	Items   []T  `json:"items"`
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

// NewResult creates a paginated result. A nil slice is rendered as [].
func NewResult[T any](items []T, total int, params Params) Result[T] {
	if items == nil {
		items = []T{}
	}
	return Result[T]{
		Items:   items,
		Total:   total,
		Limit:   params.Limit,
		Offset:  params.Offset,
		HasMore: params.Offset+len(items) < total,
	}
}
