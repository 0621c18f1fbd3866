package domain

type Priority int

const (
	PriorityNone      Priority = -1
	PriorityLow       Priority = 0
	PriorityNormal    Priority = 1
	PriorityReadahead Priority = 2 // Pieces just ahead of a read, maps to PiecePriorityReadahead.
	PriorityNext      Priority = 3 // Very next piece to be read, maps to PiecePriorityNext.
	PriorityHigh      Priority = 4 // Deadline now: a reader is blocked on it, maps to PiecePriorityNow.
)
