package history

import "fmt"

// Relation is the relationship of a remote history to the local one.
type Relation int

const (
	Behind Relation = iota // Remote history is less advanced
	Tie                    // Neither history is more advanced
	Ahead                  // Remote history is more advanced
)

// String returns the relation name.
func (r Relation) String() string {
	switch r {
	case Behind:
		return "behind"
	case Tie:
		return "tie"
	case Ahead:
		return "ahead"
	default:
		return fmt.Sprintf("Relation(%d)", int(r))
	}
}

// Comparator decides which of two transition histories is more advanced.
type Comparator interface {
	Compare(local, remote []string) Relation
}

// LengthComparator treats the longer chain as the more advanced one.
// It does not order histories causally across more than two replicas.
type LengthComparator struct{}

// Compare compares the chain lengths.
func (LengthComparator) Compare(local, remote []string) Relation {
	switch {
	case len(remote) > len(local):
		return Ahead
	case len(remote) < len(local):
		return Behind
	default:
		return Tie
	}
}

// Default is the comparator used when none is configured.
var Default Comparator = LengthComparator{}
