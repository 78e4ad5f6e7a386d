package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// TriState filters a nullable column: unset matches NULL, true/false match
// the value. A nil *TriState means "any".
type TriState string

const (
	TriUnset TriState = "unset"
	TriTrue  TriState = "true"
	TriFalse TriState = "false"
)

// SortField selects the ordering column for List.
type SortField string

const (
	SortActivity  SortField = "activity"
	SortScore     SortField = "score"
	SortCreatedAt SortField = "created_at"
	SortUpdatedAt SortField = "updated_at"
)

// SortOrder is ascending or descending.
type SortOrder string

const (
	OrderAsc  SortOrder = "asc"
	OrderDesc SortOrder = "desc"
)

// ListFilter composes conjunctively; nil fields do not constrain.
type ListFilter struct {
	ModelApproved    *TriState
	HumanDecision    *HumanDecisionFilter
	HasModelDecision *bool
	GoldExampleType  *GoldExampleType
	HasGoldExample   *bool
}

// HumanDecisionFilter matches an exact decision, or records with none.
type HumanDecisionFilter struct {
	Unset    bool
	Decision HumanDecision
}

// Pagination is 1-indexed.
type Pagination struct {
	Page     int
	PageSize int
}

// Normalize applies defaults and caps. Page is clamped so that
// Page*PageSize stays within int.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	if p.Page > math.MaxInt/p.PageSize {
		p.Page = math.MaxInt / p.PageSize
	}
	return p
}

// Offset of the first row of the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Sort defaults to most recent activity first.
type Sort struct {
	Field SortField
	Order SortOrder
}

// Normalize fills in the default sort.
func (s Sort) Normalize() Sort {
	if s.Field == "" {
		s.Field = SortActivity
	}
	if s.Order == "" {
		s.Order = OrderDesc
	}
	return s
}

// ListResult is one page of records.
type ListResult struct {
	Records     []*PostRecord `json:"records"`
	Total       int           `json:"total"`
	Page        int           `json:"page"`
	PageSize    int           `json:"page_size"`
	TotalPages  int           `json:"total_pages"`
	HasNextPage bool          `json:"has_next_page"`
}

// ParseTriState parses "unset"/"null", "true"/"approved", "false"/"rejected".
// The empty string and "any" mean no constraint.
func ParseTriState(s string) (*TriState, error) {
	var t TriState
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return nil, nil
	case "unset", "null", "pending":
		t = TriUnset
	case "true", "1", "approved":
		t = TriTrue
	case "false", "0", "rejected":
		t = TriFalse
	default:
		return nil, fmt.Errorf("%w: tri-state %q", ErrInvalidInput, s)
	}
	return &t, nil
}

// ParseHumanDecisionFilter parses "approved", "rejected" or "unset".
func ParseHumanDecisionFilter(s string) (*HumanDecisionFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "any", "all":
		return nil, nil
	case "unset", "null", "none":
		return &HumanDecisionFilter{Unset: true}, nil
	case string(HumanApproved):
		return &HumanDecisionFilter{Decision: HumanApproved}, nil
	case string(HumanRejected):
		return &HumanDecisionFilter{Decision: HumanRejected}, nil
	}
	return nil, fmt.Errorf("%w: human decision filter %q", ErrInvalidInput, s)
}

// ParseOptionalBool parses a flag filter; empty means no constraint.
func ParseOptionalBool(s string) (*bool, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: boolean %q", ErrInvalidInput, s)
	}
	return &b, nil
}

// ParseSort parses a sort field and order.
func ParseSort(field, order string) (Sort, error) {
	var s Sort
	switch SortField(strings.ToLower(strings.TrimSpace(field))) {
	case "":
	case SortActivity, "recent":
		s.Field = SortActivity
	case SortScore:
		s.Field = SortScore
	case SortCreatedAt, "created":
		s.Field = SortCreatedAt
	case SortUpdatedAt, "updated":
		s.Field = SortUpdatedAt
	default:
		return Sort{}, fmt.Errorf("%w: sort field %q", ErrInvalidInput, field)
	}
	switch SortOrder(strings.ToLower(strings.TrimSpace(order))) {
	case "":
	case OrderAsc:
		s.Order = OrderAsc
	case OrderDesc:
		s.Order = OrderDesc
	default:
		return Sort{}, fmt.Errorf("%w: sort order %q", ErrInvalidInput, order)
	}
	return s.Normalize(), nil
}
