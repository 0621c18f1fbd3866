package ports

import "torrentsqlite/internal/domain"

// Attachment binds one descriptor to the swarm session.
type Attachment interface {
	InfoHash() domain.InfoHash
	Name() string
	PieceLength() int64
	TotalSize() int64
	NumPieces() int
	// SetPieceDeadline raises the fetch priority of a piece. With alert set,
	// a PieceEvent carrying the piece data is emitted on Events once the piece
	// is available, immediately if it already is.
	SetPieceDeadline(index int, prio domain.Priority, alert bool)
	PieceComplete(index int) bool
	Events() <-chan domain.PieceEvent
	// Closed is closed when the attachment can no longer make progress.
	Closed() <-chan struct{}
	Stats() domain.AttachmentStats
	Detach() error
}
