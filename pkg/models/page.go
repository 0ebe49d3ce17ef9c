package models

const (
	// DefaultPageLimit is used when a listing does not ask for a size.
	DefaultPageLimit = 20
	// MaxPageLimit caps every listing.
	MaxPageLimit = 100
)

// Page selects a window of a listing.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps Limit to [1, MaxPageLimit] and Offset to >= 0.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// End is the number of leading rows a store must return to fill the page.
func (p Page) End() int {
	p = p.Normalize()
	return p.Offset + p.Limit
}

// Paginate returns the window of rows selected by p.
func Paginate[T any](rows []T, p Page) []T {
	p = p.Normalize()
	if p.Offset >= len(rows) {
		return []T{}
	}
	end := min(p.Offset+p.Limit, len(rows))
	return rows[p.Offset:end]
}
