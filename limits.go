package followcache

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// NormalizePerPage maps a non-positive page size to DefaultPerPage and clamps
// it to MaxPerPage.
func NormalizePerPage(perPage int) int {
	switch {
	case perPage <= 0:
		return DefaultPerPage
	case perPage > MaxPerPage:
		return MaxPerPage
	}

	return perPage
}
