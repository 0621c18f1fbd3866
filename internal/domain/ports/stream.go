package ports

import (
	"context"
	"io"
)

// StreamReader reads completed content back out of piece storage.
type StreamReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	SetReadahead(int64)
	SetResponsive()
}
