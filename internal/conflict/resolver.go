// Package conflict decides between a local and a remote version of one entity
// using whole-entity last-write-wins.
package conflict

// Versioned is implemented by documents that carry a last-write timestamp.
type Versioned interface {
	UpdatedAtMillis() int64
}

// Winner enumerates the side selected by Resolve.
type Winner string

const (
	WinnerNone   Winner = "none"
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Resolution captures the outcome of Resolve.
type Resolution[T Versioned] struct {
	Winner Winner
	Merged *T
}

// Resolve picks the version with the strictly greater UpdatedAtMillis.
// Equal timestamps resolve toward remote so repeated pulls of unchanged input
// never flip the local dirty state.
func Resolve[T Versioned](local, remote *T) Resolution[T] {
	switch {
	case local == nil && remote == nil:
		return Resolution[T]{Winner: WinnerNone}
	case remote == nil:
		return Resolution[T]{Winner: WinnerLocal, Merged: local}
	case local == nil:
		return Resolution[T]{Winner: WinnerRemote, Merged: remote}
	}

	if (*local).UpdatedAtMillis() > (*remote).UpdatedAtMillis() {
		return Resolution[T]{Winner: WinnerLocal, Merged: local}
	}
	return Resolution[T]{Winner: WinnerRemote, Merged: remote}
}
