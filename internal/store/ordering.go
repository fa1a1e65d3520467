package store

// PostOrdering describes how posts are organized in an archive's data
// file. The Continuous variants additionally guarantee that every post
// that existed on the remote side within the covered time range is
// present locally, which is what makes incremental appends valid.
type PostOrdering string

const (
	// Unsorted may even contain duplicates.
	Unsorted PostOrdering = "Unsorted"
	// Ascending is sorted from oldest to newest.
	Ascending PostOrdering = "Ascending"
	// Descending is sorted from newest to oldest.
	Descending PostOrdering = "Descending"
	// AscendingContinuous is Ascending with no posts missing in the interval.
	AscendingContinuous PostOrdering = "AscendingContinuous"
	// DescendingContinuous is Descending with no posts missing in the interval.
	DescendingContinuous PostOrdering = "DescendingContinuous"
)

// ParsePostOrdering maps a stored name back to a PostOrdering.
// Unknown names degrade to Unsorted so old archives stay loadable.
func ParsePostOrdering(s string) PostOrdering {
	switch PostOrdering(s) {
	case Ascending, Descending, AscendingContinuous, DescendingContinuous, Unsorted:
		return PostOrdering(s)
	}
	return Unsorted
}

// Continuous reports whether the ordering guarantees a gap-free interval.
func (o PostOrdering) Continuous() bool {
	return o == AscendingContinuous || o == DescendingContinuous
}

// IsAscending reports whether posts grow from oldest to newest.
func (o PostOrdering) IsAscending() bool {
	return o == Ascending || o == AscendingContinuous
}

// IsDescending reports whether posts grow from newest to oldest.
func (o PostOrdering) IsDescending() bool {
	return o == Descending || o == DescendingContinuous
}

// WithoutContinuity drops the gap-free guarantee while keeping the sort
// direction. Used when a merged batch does not connect to the covered range.
func (o PostOrdering) WithoutContinuity() PostOrdering {
	switch o {
	case AscendingContinuous:
		return Ascending
	case DescendingContinuous:
		return Descending
	}
	return o
}
