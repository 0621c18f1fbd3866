package anacrolix

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/anacrolix/torrent"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
)

const eventBuffer = 64

type attachment struct {
	engine      *Engine
	t           *torrent.Torrent
	infoHash    domain.InfoHash
	pieceLength int64
	totalSize   int64
	numPieces   int

	events   chan domain.PieceEvent
	done     chan struct{}
	closed   chan struct{}
	closeSub func()

	mu     sync.Mutex
	alerts map[int]struct{}

	detachOnce sync.Once
}

var _ ports.Attachment = (*attachment)(nil)

func newAttachment(e *Engine, t *torrent.Torrent, infoHash domain.InfoHash) *attachment {
	a := &attachment{
		engine:      e,
		t:           t,
		infoHash:    infoHash,
		pieceLength: t.Info().PieceLength,
		totalSize:   t.Length(),
		numPieces:   t.NumPieces(),
		events:      make(chan domain.PieceEvent, eventBuffer),
		done:        make(chan struct{}),
		closed:      make(chan struct{}),
		alerts:      make(map[int]struct{}),
	}
	sub := t.SubscribePieceStateChanges()
	a.closeSub = sub.Close
	go a.pump(sub.Values)
	go a.watchClosed()
	return a
}

func (a *attachment) InfoHash() domain.InfoHash { return a.infoHash }
func (a *attachment) Name() string              { return a.t.Name() }
func (a *attachment) PieceLength() int64        { return a.pieceLength }
func (a *attachment) TotalSize() int64          { return a.totalSize }
func (a *attachment) NumPieces() int            { return a.numPieces }

func (a *attachment) Events() <-chan domain.PieceEvent { return a.events }
func (a *attachment) Closed() <-chan struct{}          { return a.closed }

func (a *attachment) SetPieceDeadline(index int, prio domain.Priority, alert bool) {
	if !pieceInRange(a.t, index) {
		return
	}
	if alert {
		a.mu.Lock()
		a.alerts[index] = struct{}{}
		a.mu.Unlock()
	}
	a.t.Piece(index).SetPriority(mapPriority(prio))

	// A piece completed before the request produces no state change.
	if alert && a.t.PieceState(index).Complete && a.takeAlert(index) {
		go a.emit(index)
	}
}

func (a *attachment) PieceComplete(index int) bool {
	if !pieceInRange(a.t, index) {
		return false
	}
	return a.t.PieceState(index).Complete
}

func (a *attachment) Stats() domain.AttachmentStats {
	completed := 0
	for i := 0; i < a.numPieces; i++ {
		if a.t.PieceState(i).Complete {
			completed++
		}
	}
	return domain.AttachmentStats{
		InfoHash:        a.infoHash,
		Name:            a.t.Name(),
		TotalSize:       a.totalSize,
		PieceLength:     a.pieceLength,
		NumPieces:       a.numPieces,
		PiecesCompleted: completed,
		BytesCompleted:  a.t.BytesCompleted(),
		Peers:           a.t.Stats().ActivePeers,
	}
}

func (a *attachment) Detach() error {
	a.detachOnce.Do(func() {
		close(a.done)
		a.closeSub()
		a.engine.release(a.infoHash)
	})
	return nil
}

// pump turns piece state changes into completion events for the pieces
// requested with an alert.
func (a *attachment) pump(values <-chan torrent.PieceStateChange) {
	for {
		select {
		case <-a.done:
			return
		case change, ok := <-values:
			if !ok {
				return
			}
			if change.Complete && a.takeAlert(change.Index) {
				a.emit(change.Index)
			}
		}
	}
}

func (a *attachment) watchClosed() {
	select {
	case <-a.done:
	case <-a.t.Closed():
	}
	close(a.closed)
}

// takeAlert consumes a pending alert so each request is answered once.
func (a *attachment) takeAlert(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.alerts[index]; !ok {
		return false
	}
	delete(a.alerts, index)
	return true
}

func (a *attachment) emit(index int) {
	data, err := a.readPiece(index)
	if err != nil {
		a.engine.logger.Warn("piece read failed",
			slog.String("infoHash", string(a.infoHash)),
			slog.Int("piece", index),
			slog.String("error", err.Error()),
		)
	}
	select {
	case a.events <- domain.PieceEvent{Index: index, Data: data, Err: err}:
	case <-a.done:
	}
}

// readPiece copies a completed piece out of piece storage.
func (a *attachment) readPiece(index int) ([]byte, error) {
	size := domain.PieceSize(index, a.pieceLength, a.totalSize)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-a.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var r ports.StreamReader = a.t.NewReader()
	defer r.Close()
	r.SetContext(ctx)
	r.SetReadahead(0)
	if _, err := r.Seek(int64(index)*a.pieceLength, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek piece %d: %v", domain.ErrIO, index, err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: read piece %d: %v", domain.ErrIO, index, err)
	}
	return buf, nil
}
