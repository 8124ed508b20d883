package utils

// DefaultPageSize is the default number of items per page
const DefaultPageSize = 20

// MaxPageSize is the maximum number of items per page
const MaxPageSize = 100

// ClampPagination normalizes limit/offset values to sane bounds
func ClampPagination(limit, offset int) (int, int) {
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// TotalPages computes the number of pages for a total item count
func TotalPages(totalItems int64, pageSize int) int {
	if pageSize < 1 {
		return 0
	}
	pages := int(totalItems) / pageSize
	if int(totalItems)%pageSize != 0 {
		pages++
	}
	return pages
}
