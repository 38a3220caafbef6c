package mcpservice

import "strconv"

// Page is one slice of a list result. NextCursor is nil on the last page.
type Page[T any] struct {
	Items      []T
	NextCursor *string
}

// NewPage wraps items in a final page. A nil slice becomes empty so lists
// encode as [] rather than null.
func NewPage[T any](items []T) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items}
}

// pageSlice returns the page of all starting at the offset encoded in
// cursor. Cursors are decimal offsets; anything unparseable or out of range
// starts over at zero.
func pageSlice[T any](all []T, size int, cursor *string) Page[T] {
	var off int
	if cursor != nil {
		if n, err := strconv.Atoi(*cursor); err == nil && n > 0 && n <= len(all) {
			off = n
		}
	}
	end := min(off+size, len(all))
	p := NewPage(append([]T(nil), all[off:end]...))
	if end < len(all) {
		next := strconv.Itoa(end)
		p.NextCursor = &next
	}
	return p
}
