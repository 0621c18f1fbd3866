package domain

// HandleState is the lifecycle state of a VFS file handle.
type HandleState string

const (
	HandleClosed HandleState = "closed"
	HandleOpen   HandleState = "open"
)

var validHandleTransitions = map[HandleState][]HandleState{
	HandleClosed: {HandleOpen},
	HandleOpen:   {HandleClosed},
}

// CanTransition reports whether a handle may move from one state to another.
func CanTransition(from, to HandleState) bool {
	for _, t := range validHandleTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
