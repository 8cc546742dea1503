package followcache

import (
	"errors"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var _validate = validator.New()

// Entry is one element of the following list. Login is the identity key.
type Entry struct {
	ID string `json:"id" validate:"required"`
	// Name is nil when the user has no display name.
	Name  *string `json:"name" validate:"omitempty,max=255"`
	Login string  `json:"login" validate:"required,max=255"`
}

// NewSpeculativeEntry synthesizes the placeholder shown while a follow of
// login is in flight.
func NewSpeculativeEntry(login string) Entry {
	return Entry{Login: login}
}

// IsSpeculative reports whether the entry was synthesized locally and has not
// been confirmed by the server yet.
func (e Entry) IsSpeculative() bool {
	return e.ID == ""
}

// Validate checks an entry received from a transport collaborator.
func (e Entry) Validate() error {
	err := _validate.Struct(e)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return &ValidationError{
			Field:  "entry." + fe.Field(),
			Reason: "failed on '" + fe.Tag() + "'",
			Err:    err,
		}
	}

	return &ValidationError{Field: "entry", Reason: err.Error(), Err: err}
}

// Page is the result of one page fetch.
type Page struct {
	TotalCount int
	Entries    []Entry
}

func (p *Page) validate() error {
	if p.TotalCount < 0 {
		return &ValidationError{Field: "page.totalCount", Reason: "must not be negative"}
	}
	for _, e := range p.Entries {
		if err := e.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// CacheState is the materialized list of one subscription. Values handed out
// by a Store are snapshots and must not be modified.
type CacheState struct {
	// Entries in arrival order: page order, then order within a page.
	Entries    []Entry
	Cursor     Cursor
	TotalCount int
	// HasMore == Cursor.Page*Cursor.PerPage < TotalCount.
	HasMore bool
}

// Len returns the number of materialized entries.
func (s *CacheState) Len() int {
	if s == nil {
		return 0
	}

	return len(s.Entries)
}

// Find returns the first entry with the given login.
func (s *CacheState) Find(login string) (Entry, bool) {
	if s == nil {
		return Entry{}, false
	}

	return lo.Find(s.Entries, byLogin(login))
}

// Logins returns the logins of all entries in order.
func (s *CacheState) Logins() []string {
	if s == nil {
		return nil
	}

	return lo.Map(s.Entries, func(e Entry, _ int) string {
		return e.Login
	})
}

// withEntries returns a copy of s holding entries. Cursor and counters are
// carried over untouched.
func (s *CacheState) withEntries(entries []Entry) *CacheState {
	return &CacheState{
		Entries:    entries,
		Cursor:     s.Cursor,
		TotalCount: s.TotalCount,
		HasMore:    s.HasMore,
	}
}

func (s *CacheState) indexOf(pred func(Entry) bool) int {
	return slices.IndexFunc(s.Entries, pred)
}
