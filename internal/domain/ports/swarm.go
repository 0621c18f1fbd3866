package ports

import (
	"context"

	"torrentsqlite/internal/domain"
)

// Swarm is the download session. It may host several attachments at once and
// outlives each of them.
type Swarm interface {
	Attach(ctx context.Context, desc domain.Descriptor, settings domain.AttachSettings) (Attachment, error)
	Close() error
}

// SessionUsage is implemented by swarms that can report what the session
// currently holds.
type SessionUsage interface {
	// HeldBytes is the piece data kept in memory by the session.
	HeldBytes() int64
	// Attached is the number of live attachments sharing infoHash.
	Attached(infoHash domain.InfoHash) int
}
