package pagination

import "errors"

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

var ErrInvalidPage = errors.New("invalid_page")

type Pagination struct {
	Page     int `form:"page,default=1" json:"page"`
	PageSize int `form:"page_size,default=50" json:"page_size"`
}

// Normalize applies defaults to zero values and rejects negative or oversized
// requests.
func (p Pagination) Normalize() (Pagination, error) {
	if p.Page == 0 {
		p.Page = 1
	}
	if p.PageSize == 0 {
		p.PageSize = DefaultPageSize
	}
	if p.Page < 1 || p.PageSize < 1 || p.PageSize > MaxPageSize {
		return p, ErrInvalidPage
	}
	return p, nil
}

func (p Pagination) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// TotalPages rounds up; zero items is zero pages.
func TotalPages(totalItems int64, pageSize int) int64 {
	if pageSize <= 0 || totalItems <= 0 {
		return 0
	}
	return (totalItems + int64(pageSize) - 1) / int64(pageSize)
}
