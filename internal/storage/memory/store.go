package memory

import (
	"bytes"
	"container/list"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/missinggo/v2/resource"

	"torrentsqlite/internal/metrics"
)

var (
	errInvalidKey    = errors.New("invalid piece key")
	errNegativeOff   = errors.New("negative offset")
	errNoSpillDir    = errors.New("spill directory is not configured")
	errNotADirectory = errors.New("not a directory")
)

// Store keeps piece data in RAM for the download session. When a limit is
// set, least recently used blobs are moved to the spill directory, or
// dropped when there is none. Dropped pieces are simply fetched again.
type Store struct {
	mu      sync.Mutex
	blobs   map[string]*blob
	recency *list.List

	limit    int64
	held     int64
	spillDir string
}

type blob struct {
	data    []byte
	size    int64
	modTime time.Time
	elem    *list.Element
	spilled bool
}

type Option func(*Store)

// WithLimit caps the bytes held in memory. Zero or negative means unbounded.
func WithLimit(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.limit = n
		}
	}
}

func WithSpillDir(dir string) Option {
	return func(s *Store) {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			return
		}
		dir = filepath.Clean(dir)
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		s.spillDir = dir
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		blobs:   make(map[string]*blob),
		recency: list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.spillDir != "" {
		_ = os.MkdirAll(s.spillDir, 0o755)
		s.adoptSpilled()
	}
	return s
}

// adoptSpilled registers blobs left in the spill directory by an earlier
// session so completed pieces can be verified instead of fetched again.
func (s *Store) adoptSpilled() {
	_ = filepath.WalkDir(s.spillDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(s.spillDir, p)
		if err != nil {
			return nil
		}
		s.blobs[filepath.ToSlash(rel)] = &blob{size: info.Size(), modTime: info.ModTime(), spilled: true}
		return nil
	})
}

func (s *Store) Limit() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

func (s *Store) SetLimit(n int64) {
	if n < 0 {
		n = 0
	}
	s.mu.Lock()
	s.limit = n
	s.shrinkLocked()
	s.mu.Unlock()
}

// HeldBytes returns the bytes currently kept in memory.
func (s *Store) HeldBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// NewInstance implements resource.Provider.
func (s *Store) NewInstance(name string) (resource.Instance, error) {
	key, err := normalizeKey(name)
	if err != nil {
		return nil, err
	}
	return &blobRef{store: s, key: key}, nil
}

// blobRef is the resource.Instance handed to piece storage.
type blobRef struct {
	store *Store
	key   string
}

func (r *blobRef) Get() (io.ReadCloser, error) {
	data, err := r.store.load(r.key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *blobRef) Put(src io.Reader) error {
	if src == nil {
		return errors.New("nil reader")
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	r.store.replace(r.key, data)
	return nil
}

func (r *blobRef) Stat() (os.FileInfo, error) { return r.store.stat(r.key) }

func (r *blobRef) ReadAt(b []byte, off int64) (int, error) { return r.store.readAt(r.key, b, off) }

func (r *blobRef) WriteAt(b []byte, off int64) (int, error) { return r.store.writeAt(r.key, b, off) }

func (r *blobRef) Delete() error {
	r.store.remove(r.key)
	return nil
}

func (r *blobRef) Readdirnames() ([]string, error) { return r.store.children(r.key) }

func (s *Store) load(key string) ([]byte, error) {
	s.mu.Lock()
	b, ok := s.blobs[key]
	if !ok {
		s.mu.Unlock()
		return nil, os.ErrNotExist
	}
	if b.spilled {
		s.mu.Unlock()
		fp, err := s.spillPath(key)
		if err != nil {
			return nil, err
		}
		return os.ReadFile(fp)
	}
	s.touchLocked(key, b)
	out := append([]byte(nil), b.data...)
	s.mu.Unlock()
	return out, nil
}

func (s *Store) replace(key string, data []byte) {
	data = append([]byte(nil), data...)
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.blobs[key]
	if !ok {
		b = &blob{}
		s.blobs[key] = b
	}
	s.releaseLocked(key, b)
	b.data = data
	b.size = int64(len(data))
	b.modTime = time.Now().UTC()
	s.held += b.size
	s.touchLocked(key, b)
	s.shrinkLocked()
}

func (s *Store) readAt(key string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOff
	}
	s.mu.Lock()
	b, ok := s.blobs[key]
	if !ok {
		s.mu.Unlock()
		return 0, os.ErrNotExist
	}
	if !b.spilled {
		defer s.mu.Unlock()
		if off >= int64(len(b.data)) {
			return 0, io.EOF
		}
		s.touchLocked(key, b)
		n := copy(p, b.data[off:])
		if n < len(p) {
			return n, io.EOF
		}
		return n, nil
	}
	size := b.size
	s.mu.Unlock()

	if off >= size {
		return 0, io.EOF
	}
	fp, err := s.spillPath(key)
	if err != nil {
		return 0, err
	}
	f, err := os.Open(fp)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

func (s *Store) writeAt(key string, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errNegativeOff
	}
	end := off + int64(len(p))
	if end < off {
		return 0, errors.New("offset overflows")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		b = &blob{}
		s.blobs[key] = b
	}
	if b.spilled {
		return s.writeSpilledLocked(key, b, p, off)
	}

	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		s.held += end - int64(len(b.data))
		b.data = grown
	}
	copy(b.data[off:], p)
	b.size = int64(len(b.data))
	b.modTime = time.Now().UTC()
	s.touchLocked(key, b)
	s.shrinkLocked()
	return len(p), nil
}

func (s *Store) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[key]
	if !ok {
		return
	}
	s.releaseLocked(key, b)
	delete(s.blobs, key)
	metrics.PieceStoreBytes.Set(float64(s.held))
}

func (s *Store) stat(key string) (os.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blobs[key]; ok {
		return blobInfo{name: path.Base(key), size: b.size, modTime: b.modTime}, nil
	}
	if s.hasChildrenLocked(key) {
		return blobInfo{name: path.Base(key), dir: true, modTime: time.Now().UTC()}, nil
	}
	return nil, os.ErrNotExist
}

func (s *Store) children(key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[key]; ok {
		return nil, errNotADirectory
	}
	prefix := key + "/"
	seen := make(map[string]struct{})
	for k := range s.blobs {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" {
			continue
		}
		first, _, _ := strings.Cut(rest, "/")
		seen[first] = struct{}{}
	}
	if len(seen) == 0 {
		return nil, os.ErrNotExist
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) hasChildrenLocked(key string) bool {
	prefix := key + "/"
	for k := range s.blobs {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

// releaseLocked forgets the bytes b currently accounts for, in memory or on disk.
func (s *Store) releaseLocked(key string, b *blob) {
	if b.elem != nil {
		s.recency.Remove(b.elem)
		b.elem = nil
	}
	if b.spilled {
		if fp, err := s.spillPath(key); err == nil {
			_ = os.Remove(fp)
		}
		b.spilled = false
		return
	}
	s.held -= int64(len(b.data))
	b.data = nil
}

func (s *Store) touchLocked(key string, b *blob) {
	if b.spilled {
		return
	}
	if b.elem == nil {
		b.elem = s.recency.PushFront(key)
		return
	}
	s.recency.MoveToFront(b.elem)
}

// shrinkLocked evicts least recently used blobs until the limit holds.
func (s *Store) shrinkLocked() {
	defer func() { metrics.PieceStoreBytes.Set(float64(s.held)) }()
	if s.limit <= 0 {
		return
	}
	for s.held > s.limit {
		last := s.recency.Back()
		if last == nil {
			return
		}
		key := last.Value.(string)
		s.recency.Remove(last)
		b := s.blobs[key]
		if b == nil || b.spilled {
			continue
		}
		b.elem = nil
		if s.spillDir != "" && s.spillLocked(key, b) == nil {
			continue
		}
		s.held -= int64(len(b.data))
		delete(s.blobs, key)
	}
}

func (s *Store) spillLocked(key string, b *blob) error {
	fp, err := s.spillPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fp), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(fp, b.data, 0o644); err != nil {
		return err
	}
	s.held -= int64(len(b.data))
	b.size = int64(len(b.data))
	b.data = nil
	b.spilled = true
	metrics.PieceStoreSpillsTotal.Inc()
	return nil
}

func (s *Store) writeSpilledLocked(key string, b *blob, p []byte, off int64) (int, error) {
	fp, err := s.spillPath(key)
	if err != nil {
		return 0, err
	}
	f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := f.WriteAt(p, off)
	if end := off + int64(n); end > b.size {
		b.size = end
	}
	b.modTime = time.Now().UTC()
	return n, err
}

func (s *Store) spillPath(key string) (string, error) {
	if s.spillDir == "" {
		return "", errNoSpillDir
	}
	fp := filepath.Clean(filepath.Join(s.spillDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(fp, s.spillDir+string(os.PathSeparator)) {
		return "", errInvalidKey
	}
	return fp, nil
}

type blobInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (i blobInfo) Name() string       { return i.name }
func (i blobInfo) Size() int64        { return i.size }
func (i blobInfo) ModTime() time.Time { return i.modTime }
func (i blobInfo) IsDir() bool        { return i.dir }
func (i blobInfo) Sys() any           { return nil }
func (i blobInfo) Mode() os.FileMode {
	if i.dir {
		return os.ModeDir | 0o755
	}
	return 0o644
}

func normalizeKey(name string) (string, error) {
	key := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") || strings.ContainsRune(key, 0) {
		return "", errInvalidKey
	}
	key = path.Clean(key)
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return "", errInvalidKey
	}
	return key, nil
}
