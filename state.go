package syncstore

// State is the fetch lifecycle state of a Store.
type State int

const (
	StateLoading State = iota
	StateEmpty
	StateError
	StateData
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateEmpty:
		return "empty"
	case StateError:
		return "error"
	case StateData:
		return "data"
	default:
		return "unknown"
	}
}

// DeriveState maps the Store flags onto a State. Order matters: an error
// wins, rows on hand always show as data, and an empty result only reads
// as empty once a fetch has been requested and is no longer pending.
func DeriveState(requested, pending, hasError, isEmpty bool) State {
	switch {
	case hasError:
		return StateError
	case !isEmpty:
		return StateData
	case !requested || pending:
		return StateLoading
	default:
		return StateEmpty
	}
}
