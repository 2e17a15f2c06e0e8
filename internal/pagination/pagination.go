package pagination

import "math"

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Params represents input parameters for pagination
type Params struct {
	Page    int `form:"page" json:"page"`
	PerPage int `form:"per_page" json:"per_page"`
}

// Normalize clamps the parameters into valid ranges
func (p Params) Normalize() Params {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

// Offset calculates the offset for SQL queries
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Pagination is the page metadata returned with a result set
type Pagination struct {
	CurrentPage int   `json:"current_page"`
	PerPage     int   `json:"per_page"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"total_pages"`
	HasNext     bool  `json:"has_next"`
	HasPrev     bool  `json:"has_prev"`
}

// New builds page metadata for a normalized request and a total count
func New(p Params, total int64) Pagination {
	p = p.Normalize()
	totalPages := int(math.Ceil(float64(total) / float64(p.PerPage)))

	return Pagination{
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		TotalPages:  totalPages,
		HasNext:     p.Page < totalPages,
		HasPrev:     p.Page > 1,
	}
}

// Bounds returns the [start, end) slice window for n items
func (p Params) Bounds(n int) (int, int) {
	p = p.Normalize()
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.PerPage
	if end > n {
		end = n
	}
	return start, end
}
