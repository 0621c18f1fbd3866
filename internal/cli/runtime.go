package cli

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"torrentsqlite/internal/app"
	"torrentsqlite/internal/domain/ports"
	"torrentsqlite/internal/usecase"
	"torrentsqlite/internal/vfs/sqlbind"
	"torrentsqlite/internal/vfs/torrentvfs"
)

// Runtime owns the swarm session shared by the commands of one process. The
// session is only started by the first command that needs it.
type Runtime struct {
	Config app.Config
	Logger *slog.Logger
	// Context bounds every read through the torrent backend, on top of the
	// per-statement context. It is normally the process signal context.
	Context  context.Context
	NewSwarm func() (ports.Swarm, error)

	mu    sync.Mutex
	swarm ports.Swarm
}

func (rt *Runtime) logger() *slog.Logger {
	if rt.Logger == nil {
		return slog.Default()
	}
	return rt.Logger
}

func (rt *Runtime) Swarm() (ports.Swarm, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.swarm != nil {
		return rt.swarm, nil
	}
	s, err := rt.NewSwarm()
	if err != nil {
		return nil, err
	}
	rt.swarm = s
	return s, nil
}

func (rt *Runtime) Fetcher() (usecase.PieceFetcher, error) {
	s, err := rt.Swarm()
	if err != nil {
		return usecase.PieceFetcher{}, err
	}
	return usecase.PieceFetcher{
		Swarm:        s,
		Settings:     rt.Config.AttachSettings(),
		PieceTimeout: rt.Config.FetcherPieceTimeout(),
		PollInterval: rt.Config.PollInterval,
		Logger:       rt.logger(),
	}, nil
}

// InstallVFS registers the torrent backend on the process-wide registry.
func (rt *Runtime) InstallVFS() error {
	reg, err := sqlbind.Registry()
	if err != nil {
		return err
	}
	_, err = torrentvfs.Install(reg, func() (*torrentvfs.Backend, error) {
		fetcher, err := rt.Fetcher()
		if err != nil {
			return nil, err
		}
		return torrentvfs.New(fetcher, nil, torrentvfs.Options{
			OpenTimeout: rt.Config.OpenTimeout,
			BaseContext: rt.Context,
			Logger:      rt.logger(),
		}), nil
	}, false)
	return err
}

// Close ends the swarm session if one was started.
func (rt *Runtime) Close() error {
	rt.mu.Lock()
	s := rt.swarm
	rt.swarm = nil
	rt.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Status is reported by the ops server.
type Status struct {
	VFS        []string `json:"vfs"`
	DefaultVFS string   `json:"defaultVfs"`
	Session    bool     `json:"session"`
	HeldBytes  int64    `json:"heldBytes"`
}

func (rt *Runtime) Status() any {
	st := Status{}
	if reg, err := sqlbind.Registry(); err == nil {
		st.VFS = reg.Names()
		st.DefaultVFS, _ = reg.Default()
	}
	rt.mu.Lock()
	s := rt.swarm
	rt.mu.Unlock()
	st.Session = s != nil
	if usage, ok := s.(ports.SessionUsage); ok {
		st.HeldBytes = usage.HeldBytes()
	}
	return st
}
