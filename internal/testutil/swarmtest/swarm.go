// Package swarmtest provides an in-process swarm whose pieces are served
// from byte slices, for tests that must not touch the network.
package swarmtest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sync"

	"torrentsqlite/internal/domain"
	"torrentsqlite/internal/domain/ports"
)

// Deadline records one SetPieceDeadline call.
type Deadline struct {
	Index    int
	Priority domain.Priority
	Alert    bool
}

// Content is the data published under one descriptor.
type Content struct {
	Data        []byte
	PieceLength int64

	mu      sync.Mutex
	stalled map[int]bool
	corrupt map[int]bool
}

// Stall keeps the given pieces from ever completing until Release is called.
func (c *Content) Stall(indices ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range indices {
		c.stalled[i] = true
	}
}

// Corrupt makes the given pieces complete with an error event.
func (c *Content) Corrupt(indices ...int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, i := range indices {
		c.corrupt[i] = true
	}
}

func (c *Content) isStalled(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stalled[i]
}

func (c *Content) isCorrupt(i int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.corrupt[i]
}

type Swarm struct {
	mu          sync.Mutex
	contents    map[string]*Content
	attachments []*Attachment
	closed      bool

	// AttachErr, when set, fails every Attach call.
	AttachErr error
	// DropEvents loses the event of a piece's first completion, leaving
	// delivery to a completion poll.
	DropEvents bool
}

var (
	_ ports.Swarm        = (*Swarm)(nil)
	_ ports.SessionUsage = (*Swarm)(nil)
)

func New() *Swarm {
	return &Swarm{contents: make(map[string]*Content)}
}

// Publish makes data available under raw, which must parse as a descriptor.
func (s *Swarm) Publish(raw string, data []byte, pieceLength int64) *Content {
	desc, err := domain.ParseDescriptor(raw)
	if err != nil {
		panic(err)
	}
	c := &Content{
		Data:        data,
		PieceLength: pieceLength,
		stalled:     make(map[int]bool),
		corrupt:     make(map[int]bool),
	}
	s.mu.Lock()
	s.contents[desc.String()] = c
	s.mu.Unlock()
	return c
}

func (s *Swarm) Attach(ctx context.Context, desc domain.Descriptor, _ domain.AttachSettings) (ports.Attachment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", domain.ErrSession)
	}
	if s.AttachErr != nil {
		return nil, s.AttachErr
	}
	c, ok := s.contents[desc.String()]
	if !ok {
		return nil, fmt.Errorf("%w: no peers for %s", domain.ErrCannotResolveContent, desc.String())
	}
	sum := sha1.Sum([]byte(desc.String()))
	a := &Attachment{
		swarm:    s,
		content:  c,
		infoHash: domain.InfoHash(hex.EncodeToString(sum[:])),
		events:   make(chan domain.PieceEvent, 16),
		closed:   make(chan struct{}),
		complete: make(map[int]bool),
		pending:  make(map[int]bool),
	}
	s.attachments = append(s.attachments, a)
	return a, nil
}

// Attachments returns every attachment created so far.
func (s *Swarm) Attachments() []*Attachment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Attachment(nil), s.attachments...)
}

// Live returns the attachments not yet detached.
func (s *Swarm) Live() int {
	n := 0
	for _, a := range s.Attachments() {
		if !a.Detached() {
			n++
		}
	}
	return n
}

// HeldBytes sums the completed bytes of the live attachments.
func (s *Swarm) HeldBytes() int64 {
	var n int64
	for _, a := range s.Attachments() {
		if !a.Detached() {
			n += a.Stats().BytesCompleted
		}
	}
	return n
}

func (s *Swarm) Attached(infoHash domain.InfoHash) int {
	n := 0
	for _, a := range s.Attachments() {
		if a.infoHash == infoHash && !a.Detached() {
			n++
		}
	}
	return n
}

func (s *Swarm) dropEvents() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DropEvents
}

func (s *Swarm) Close() error {
	s.mu.Lock()
	s.closed = true
	atts := append([]*Attachment(nil), s.attachments...)
	s.mu.Unlock()
	for _, a := range atts {
		a.Kill()
	}
	return nil
}

type Attachment struct {
	swarm    *Swarm
	content  *Content
	infoHash domain.InfoHash
	events   chan domain.PieceEvent
	closed   chan struct{}

	mu        sync.Mutex
	deadlines []Deadline
	complete  map[int]bool
	pending   map[int]bool
	detached  bool
	killed    bool
}

var _ ports.Attachment = (*Attachment)(nil)

func (a *Attachment) InfoHash() domain.InfoHash { return a.infoHash }
func (a *Attachment) Name() string              { return "swarmtest" }
func (a *Attachment) PieceLength() int64        { return a.content.PieceLength }
func (a *Attachment) TotalSize() int64          { return int64(len(a.content.Data)) }
func (a *Attachment) NumPieces() int {
	return domain.NumPieces(a.content.PieceLength, int64(len(a.content.Data)))
}

func (a *Attachment) Events() <-chan domain.PieceEvent { return a.events }
func (a *Attachment) Closed() <-chan struct{}          { return a.closed }

func (a *Attachment) SetPieceDeadline(index int, prio domain.Priority, alert bool) {
	a.mu.Lock()
	a.deadlines = append(a.deadlines, Deadline{Index: index, Priority: prio, Alert: alert})
	if index < 0 || index >= a.NumPieces() || a.content.isStalled(index) {
		if alert {
			a.pending[index] = true
		}
		a.mu.Unlock()
		return
	}
	already := a.complete[index]
	a.complete[index] = true
	a.mu.Unlock()

	// Requests for pieces that are already complete are always answered.
	if alert && (already || !a.swarm.dropEvents()) {
		a.emit(index)
	}
}

// Release lets stalled pieces complete and answers their pending alerts.
func (a *Attachment) Release(indices ...int) {
	a.content.mu.Lock()
	for _, i := range indices {
		delete(a.content.stalled, i)
	}
	a.content.mu.Unlock()

	for _, i := range indices {
		a.mu.Lock()
		alert := a.pending[i]
		delete(a.pending, i)
		a.complete[i] = true
		a.mu.Unlock()
		if alert && !a.swarm.dropEvents() {
			a.emit(i)
		}
	}
}

// Inject pushes an arbitrary event, as a swarm would for an unrequested piece.
func (a *Attachment) Inject(ev domain.PieceEvent) {
	select {
	case a.events <- ev:
	case <-a.closed:
	}
}

func (a *Attachment) emit(index int) {
	ev := domain.PieceEvent{Index: index}
	if a.content.isCorrupt(index) {
		ev.Err = fmt.Errorf("%w: hash mismatch on piece %d", domain.ErrIO, index)
	} else {
		start := int64(index) * a.content.PieceLength
		size := domain.PieceSize(index, a.content.PieceLength, int64(len(a.content.Data)))
		ev.Data = append([]byte(nil), a.content.Data[start:start+size]...)
	}
	go a.Inject(ev)
}

func (a *Attachment) PieceComplete(index int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete[index]
}

func (a *Attachment) Stats() domain.AttachmentStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.AttachmentStats{
		InfoHash:        a.infoHash,
		Name:            "swarmtest",
		TotalSize:       int64(len(a.content.Data)),
		PieceLength:     a.content.PieceLength,
		NumPieces:       domain.NumPieces(a.content.PieceLength, int64(len(a.content.Data))),
		PiecesCompleted: len(a.complete),
		BytesCompleted:  int64(len(a.complete)) * a.content.PieceLength,
		Peers:           1,
	}
}

// Deadlines returns every SetPieceDeadline call in order.
func (a *Attachment) Deadlines() []Deadline {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Deadline(nil), a.deadlines...)
}

// Requested returns the distinct piece indices requested so far, in first
// request order.
func (a *Attachment) Requested() []int {
	seen := make(map[int]bool)
	var out []int
	for _, d := range a.Deadlines() {
		if !seen[d.Index] {
			seen[d.Index] = true
			out = append(out, d.Index)
		}
	}
	return out
}

// Kill simulates a session failure.
func (a *Attachment) Kill() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.killed {
		a.killed = true
		close(a.closed)
	}
}

func (a *Attachment) Detach() error {
	a.mu.Lock()
	a.detached = true
	a.mu.Unlock()
	a.Kill()
	return nil
}

func (a *Attachment) Detached() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detached
}
