package record

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nainya/mavibot/pkg/btree"
	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
	"github.com/nainya/mavibot/pkg/pageio"
)

// Manager owns one open backing file and the directory of B+trees stored
// in it (spec.md §4.2). It never runs B+tree algorithms itself; pkg/txn
// composes Manager's primitives with pkg/btree.Tree.
type Manager struct {
	mu        sync.Mutex
	pf        *pageio.File
	trees     map[string]TreeHeader   // name -> current persisted header
	offsets   map[string]uint64       // name -> tree-header record offset
	codecs    map[string]codec.Codec  // tag -> codec, for open_tree lookups
	revision  uint64

	writerHeld int32 // CAS flag; single active write transaction (spec.md §5)
}

// Options configures Open.
type Options struct {
	PageSize int
	// Codecs lets callers register additional codec tags beyond the two
	// built-ins (codec.Bytes, codec.Int64) so open_tree can resolve trees
	// created with a custom codec.
	Codecs []codec.Codec
}

// Open opens or creates the backing file at path and loads its directory of
// managed trees (spec.md "RecordManager::open"). ctx is honored before any
// I/O begins; Open does no blocking work once started, so cancellation
// after that point has nothing left to interrupt.
func Open(ctx context.Context, path string, opts Options) (*Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pf, err := pageio.Open(path, pageio.Options{PageSize: opts.PageSize})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		pf:      pf,
		trees:   make(map[string]TreeHeader),
		offsets: make(map[string]uint64),
		codecs:  map[string]codec.Codec{"bytes": codec.Bytes{}, "int64": codec.Int64{}},
	}
	for _, c := range opts.Codecs {
		m.codecs[c.Tag()] = c
	}

	h := pf.Header()
	m.revision = h.Revision
	entries, err := decodeDirectory(h.Directory)
	if err != nil {
		pf.Close()
		return nil, err
	}
	for _, e := range entries {
		raw, err := pf.Read(e.offset)
		if err != nil {
			pf.Close()
			return nil, err
		}
		th, err := decodeTreeHeader(raw)
		if err != nil {
			pf.Close()
			return nil, err
		}
		m.trees[e.name] = th
		m.offsets[e.name] = e.offset
	}
	return m, nil
}

// PageFile exposes the underlying page layer for pkg/txn's Allocator
// implementation.
func (m *Manager) PageFile() *pageio.File { return m.pf }

// Revision returns the globally current committed revision.
func (m *Manager) Revision() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision
}

// CreateTree registers a new named B+tree. AlreadyManaged if name is taken.
func (m *Manager) CreateTree(name string, keyCodec, valueCodec codec.Codec, allowDups bool, fanout int) (TreeHeader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.trees[name]; ok {
		return TreeHeader{}, fmt.Errorf("%w: tree %q", mverr.ErrAlreadyManaged, name)
	}

	th := TreeHeader{
		Name:          name,
		Root:          btree.RefSentinel,
		Revision:      0,
		Fanout:        uint32(fanout),
		AllowDups:     allowDups,
		KeyCodecTag:   keyCodec.Tag(),
		ValueCodecTag: valueCodec.Tag(),
	}
	m.codecs[keyCodec.Tag()] = keyCodec
	m.codecs[valueCodec.Tag()] = valueCodec

	offset, err := m.pf.Put(th.encode())
	if err != nil {
		return TreeHeader{}, err
	}
	m.trees[name] = th
	m.offsets[name] = offset

	if err := m.publishDirectoryLocked(); err != nil {
		delete(m.trees, name)
		delete(m.offsets, name)
		return TreeHeader{}, err
	}
	return th, nil
}

// OpenTree returns the current persisted header for an existing tree, plus
// the codecs it was created with.
func (m *Manager) OpenTree(name string) (TreeHeader, codec.Codec, codec.Codec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	th, ok := m.trees[name]
	if !ok {
		return TreeHeader{}, nil, nil, fmt.Errorf("%w: tree %q", mverr.ErrNoSuchTree, name)
	}
	kc, ok := m.codecs[th.KeyCodecTag]
	if !ok {
		return TreeHeader{}, nil, nil, fmt.Errorf("%w: unknown key codec tag %q", mverr.ErrSerializerCreation, th.KeyCodecTag)
	}
	vc, ok := m.codecs[th.ValueCodecTag]
	if !ok {
		return TreeHeader{}, nil, nil, fmt.Errorf("%w: unknown value codec tag %q", mverr.ErrSerializerCreation, th.ValueCodecTag)
	}
	return th, kc, vc, nil
}

// ResolveCodec looks up a codec by its persisted tag, for callers (pkg/txn
// read transactions) that need to rebuild a *btree.Config from a pinned
// TreeHeader snapshot without going through OpenTree's live lookup.
func (m *Manager) ResolveCodec(tag string) (codec.Codec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codecs[tag]
	if !ok {
		return nil, fmt.Errorf("%w: unknown codec tag %q", mverr.ErrSerializerCreation, tag)
	}
	return c, nil
}

// ListTrees returns every managed tree name, sorted for determinism.
func (m *Manager) ListTrees() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.trees))
	for name := range m.trees {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns the directory of tree headers as of right now, for a read
// transaction's pinned view (spec.md §4.6 "Read operations take a read
// snapshot").
func (m *Manager) Snapshot() (map[string]TreeHeader, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]TreeHeader, len(m.trees))
	for k, v := range m.trees {
		out[k] = v
	}
	return out, m.revision
}

// TryAcquireWriter enforces the single-active-writer rule (spec.md §5):
// only one write transaction may be in flight at a time.
func (m *Manager) TryAcquireWriter() error {
	if !atomic.CompareAndSwapInt32(&m.writerHeld, 0, 1) {
		return mverr.ErrWriteBusy
	}
	return nil
}

// ReleaseWriter must be called exactly once after TryAcquireWriter
// succeeds, whether the transaction committed or rolled back.
func (m *Manager) ReleaseWriter() {
	atomic.StoreInt32(&m.writerHeld, 0)
}

// CommitTrees publishes new headers for the given trees as one atomic
// header swap: each tree's header record is rewritten, the directory is
// updated if necessary, and the global header is written last (spec.md
// §4.6 steps 3-4, §4.2 "Header publication").
func (m *Manager) CommitTrees(updated map[string]TreeHeader, newRevision uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, th := range updated {
		offset, ok := m.offsets[name]
		if !ok {
			return fmt.Errorf("%w: tree %q", mverr.ErrNoSuchTree, name)
		}
		newOffset, err := m.pf.Put(th.encode())
		if err != nil {
			return err
		}
		if err := m.pf.Free(offset); err != nil {
			return err
		}
		m.offsets[name] = newOffset
		m.trees[name] = th
	}
	m.revision = newRevision
	return m.publishDirectoryLocked()
}

func (m *Manager) publishDirectoryLocked() error {
	entries := make([]directoryEntry, 0, len(m.offsets))
	names := make([]string, 0, len(m.offsets))
	for name := range m.offsets {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		entries = append(entries, directoryEntry{name: name, offset: m.offsets[name]})
	}

	h := m.pf.Header()
	h.Revision = m.revision
	h.TreeCount = uint32(len(entries))
	h.Directory = encodeDirectory(entries)
	return m.pf.SetHeader(h)
}

// Close flushes and releases the backing file.
func (m *Manager) Close() error {
	return m.pf.Close()
}
