package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
	"torrentsqlite/internal/metrics"
	"torrentsqlite/internal/telemetry"
)

// PieceFetcher attaches descriptors to the swarm session and hands out
// handles that return whole pieces by index.
type PieceFetcher struct {
	Swarm    ports.Swarm
	Settings domain.AttachSettings
	// PieceTimeout bounds each piece wait. Zero selects the default and a
	// negative value waits without bound.
	PieceTimeout time.Duration
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (f PieceFetcher) Attach(ctx context.Context, raw string) (*PieceHandle, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "piece_fetcher.attach")
	defer span.End()

	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	desc, err := domain.ParseDescriptor(raw)
	if err != nil {
		metrics.AttachFailuresTotal.Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("descriptor.kind", string(desc.Kind)))

	att, err := f.Swarm.Attach(ctx, desc, f.Settings)
	if err != nil {
		metrics.AttachFailuresTotal.Inc()
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("attach failed",
			slog.String("kind", string(desc.Kind)),
			slog.String("error", err.Error()),
		)
		return nil, wrapResolve(err)
	}
	if att.PieceLength() <= 0 || att.TotalSize() < 0 {
		_ = att.Detach()
		metrics.AttachFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: invalid geometry (piece length %d, size %d)",
			domain.ErrCannotResolveContent, att.PieceLength(), att.TotalSize())
	}
	span.SetAttributes(
		attribute.String("info_hash", string(att.InfoHash())),
		attribute.Int64("total_size", att.TotalSize()),
		attribute.Int64("piece_length", att.PieceLength()),
	)

	timeout := f.PieceTimeout
	if timeout == 0 {
		timeout = defaultPieceTimeout
	}
	return &PieceHandle{
		desc: desc,
		att:  att,
		sched: NewDeadlineScheduler(att, SchedulerOptions{
			PollInterval: f.PollInterval,
			Timeout:      timeout,
			Logger:       logger,
		}),
		served: roaring.New(),
		logger: logger,
	}, nil
}

// PieceHandle is one attachment plus its scheduler. The geometry is fixed
// for the life of the handle.
type PieceHandle struct {
	desc   domain.Descriptor
	att    ports.Attachment
	sched  *DeadlineScheduler
	logger *slog.Logger

	mu        sync.Mutex
	served    *roaring.Bitmap
	lastIndex int
	lastPiece []byte

	detachOnce sync.Once
	detached   bool
}

func (h *PieceHandle) Descriptor() domain.Descriptor { return h.desc }
func (h *PieceHandle) InfoHash() domain.InfoHash     { return h.att.InfoHash() }
func (h *PieceHandle) PieceLength() int64            { return h.att.PieceLength() }
func (h *PieceHandle) TotalSize() int64              { return h.att.TotalSize() }
func (h *PieceHandle) NumPieces() int {
	return domain.NumPieces(h.att.PieceLength(), h.att.TotalSize())
}

// RequestPiece blocks until piece index is available and returns its bytes.
// The returned slice must not be modified.
func (h *PieceHandle) RequestPiece(ctx context.Context, index int) ([]byte, error) {
	h.mu.Lock()
	if h.detached {
		h.mu.Unlock()
		return nil, domain.ErrClosed
	}
	if h.lastPiece != nil && h.lastIndex == index {
		data := h.lastPiece
		h.mu.Unlock()
		return data, nil
	}
	h.mu.Unlock()

	if index < 0 || index >= h.NumPieces() {
		return nil, fmt.Errorf("%w: piece %d out of range [0,%d)", domain.ErrIO, index, h.NumPieces())
	}

	data, err := h.sched.Await(ctx, index)
	if err != nil {
		return nil, err
	}
	want := domain.PieceSize(index, h.PieceLength(), h.TotalSize())
	if int64(len(data)) != want {
		return nil, fmt.Errorf("%w: piece %d is %d bytes, want %d", domain.ErrIO, index, len(data), want)
	}

	h.mu.Lock()
	h.served.Add(uint32(index))
	h.lastIndex, h.lastPiece = index, data
	h.mu.Unlock()
	return data, nil
}

func (h *PieceHandle) Stats() domain.AttachmentStats {
	stats := h.att.Stats()
	h.mu.Lock()
	stats.PiecesServed = int(h.served.GetCardinality())
	h.mu.Unlock()
	stats.PiecesPending = h.sched.Pending()
	return stats
}

// Detach releases the attachment. Only the first call has an effect; later
// calls return nil.
func (h *PieceHandle) Detach() error {
	var err error
	h.detachOnce.Do(func() {
		h.mu.Lock()
		h.detached = true
		h.lastPiece = nil
		h.mu.Unlock()

		h.sched.Close()
		err = h.att.Detach()
		h.logger.Debug("detached",
			slog.String("infoHash", string(h.att.InfoHash())),
			slog.Int("piecesServed", h.Stats().PiecesServed),
		)
	})
	return err
}
