package followcache

import (
	"slices"

	"github.com/samber/lo"
)

// NewState builds the state of a fresh subscription from the first fetched
// page. An absent page yields an empty list at cursor.
func NewState(cursor Cursor, page *Page) *CacheState {
	s := &CacheState{Cursor: cursor}
	if page != nil {
		s.Entries = slices.Clone(page.Entries)
		s.TotalCount = page.TotalCount
	}
	s.HasMore = HasMoreFor(s.Cursor, s.TotalCount)

	return s
}

// AppendPage folds the next page into prev: entries are appended in order,
// the cursor advances by one page and HasMore is recomputed from the page's
// total.
//
// An absent page (nil) is a no-op and returns prev itself.
func AppendPage(prev *CacheState, page *Page) *CacheState {
	if page == nil {
		return prev
	}

	next := &CacheState{
		Entries:    slices.Concat(prev.Entries, page.Entries),
		Cursor:     prev.Cursor.Next(),
		TotalCount: page.TotalCount,
	}
	next.HasMore = HasMoreFor(next.Cursor, next.TotalCount)

	return next
}

// InsertSpeculative appends entry without any uniqueness check.
func InsertSpeculative(prev *CacheState, entry Entry) *CacheState {
	// Clip forces append to copy, prev.Entries may be shared with subscribers.
	return prev.withEntries(append(slices.Clip(prev.Entries), entry))
}

// Reconcile appends confirmed unless an entry with the same login is already
// present, in which case prev is returned unchanged.
func Reconcile(prev *CacheState, confirmed Entry) *CacheState {
	if lo.ContainsBy(prev.Entries, byLogin(confirmed.Login)) {
		return prev
	}

	return prev.withEntries(append(slices.Clip(prev.Entries), confirmed))
}

// ConfirmSpeculative merges the placeholder for login and the confirmed entry
// into one record. The first placeholder is replaced in place; any other
// placeholder for login is dropped. If the list already holds a confirmed
// entry with confirmed.Login the placeholders are only dropped. Without a
// placeholder this is Reconcile.
func ConfirmSpeculative(prev *CacheState, login string, confirmed Entry) *CacheState {
	isPlaceholder := func(e Entry) bool {
		return e.Login == login && e.IsSpeculative()
	}
	if prev.indexOf(isPlaceholder) == -1 {
		return Reconcile(prev, confirmed)
	}

	placed := lo.ContainsBy(prev.Entries, func(e Entry) bool {
		return e.Login == confirmed.Login && !e.IsSpeculative()
	})

	entries := make([]Entry, 0, len(prev.Entries))
	for _, e := range prev.Entries {
		if !isPlaceholder(e) {
			entries = append(entries, e)
			continue
		}
		if !placed {
			entries = append(entries, confirmed)
			placed = true
		}
	}

	return prev.withEntries(entries)
}

// Rollback removes the speculative entries for login. Confirmed entries are
// never removed; prev is returned when nothing matches.
func Rollback(prev *CacheState, login string) *CacheState {
	isPlaceholder := func(e Entry) bool {
		return e.Login == login && e.IsSpeculative()
	}
	if prev.indexOf(isPlaceholder) == -1 {
		return prev
	}

	return prev.withEntries(slices.DeleteFunc(slices.Clone(prev.Entries), isPlaceholder))
}

func byLogin(login string) func(Entry) bool {
	return func(e Entry) bool {
		return e.Login == login
	}
}
