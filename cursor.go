package followcache

import "fmt"

// Cursor identifies which slice of the list to fetch next: a 1-based page
// number and a page size.
type Cursor struct {
	Page    int
	PerPage int
}

// NewCursor builds a normalized cursor. Pages below 1 start at 1 and the page
// size goes through NormalizePerPage.
func NewCursor(page, perPage int) Cursor {
	return Cursor{
		Page:    max(page, 1),
		PerPage: NormalizePerPage(perPage),
	}
}

// FirstCursor returns the cursor of the first page.
func FirstCursor(perPage int) Cursor {
	return NewCursor(1, perPage)
}

// Next returns the cursor of the following page.
func (c Cursor) Next() Cursor {
	return Cursor{Page: c.Page + 1, PerPage: c.PerPage}
}

// Offset returns the number of entries that precede this page.
func (c Cursor) Offset() int {
	if c.Page <= 1 {
		return 0
	}

	return (c.Page - 1) * c.PerPage
}

// Limit returns the page size.
func (c Cursor) Limit() int {
	return c.PerPage
}

// String - implements fmt.Stringer.
func (c Cursor) String() string {
	return fmt.Sprintf("page=%d perPage=%d", c.Page, c.PerPage)
}

func (c Cursor) validate() error {
	if c.Page < 1 {
		return &ValidationError{Field: "cursor.page", Reason: fmt.Sprintf("must be >= 1, got %d", c.Page)}
	}
	if c.PerPage <= 0 {
		return &ValidationError{Field: "cursor.perPage", Reason: fmt.Sprintf("must be > 0, got %d", c.PerPage)}
	}

	return nil
}

// HasMoreFor reports whether entries beyond the pages covered by cursor exist
// in a list of total entries.
func HasMoreFor(cursor Cursor, total int) bool {
	return cursor.Page*cursor.PerPage < total
}

var _ fmt.Stringer = Cursor{}
