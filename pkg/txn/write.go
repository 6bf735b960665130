// Package txn implements the write and read transaction machinery of
// spec.md §4.6: a write transaction accumulates a dirty-page set and
// commits it as one new revision; a read transaction pins a snapshot of
// per-tree root offsets and never observes later commits.
package txn

import (
	"context"
	"fmt"

	"github.com/nainya/mavibot/pkg/btree"
	"github.com/nainya/mavibot/pkg/mverr"
	"github.com/nainya/mavibot/pkg/mvcc"
	"github.com/nainya/mavibot/pkg/pageio"
	"github.com/nainya/mavibot/pkg/record"
)

// Write is a single in-flight write transaction. Only one may exist at a
// time per Manager (spec.md §5); BeginWrite enforces this through
// record.Manager.TryAcquireWriter.
type Write struct {
	mgr      *record.Manager
	pf       *pageio.File
	registry *mvcc.Registry

	revision  uint64
	baseTrees map[string]record.TreeHeader
	bound     map[string]*btree.Tree

	dirty      map[uint64]*btree.Page
	dirtyOrder []uint64
	copied     []uint64
	nextID     uint64

	done bool
}

// BeginWrite starts a write transaction targeting the revision following
// the manager's current one. Fails with ErrWriteBusy if another write
// transaction is already active. ctx is checked before acquiring the
// writer slot; BeginWrite itself never blocks (spec.md §5's "may block"
// is read as advisory caller-level retry, see DESIGN.md), so there is no
// later cancellation point to honor.
func BeginWrite(ctx context.Context, mgr *record.Manager, registry *mvcc.Registry) (*Write, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := mgr.TryAcquireWriter(); err != nil {
		return nil, err
	}
	snapshot, rev := mgr.Snapshot()
	return &Write{
		mgr:       mgr,
		pf:        mgr.PageFile(),
		registry:  registry,
		revision:  rev + 1,
		baseTrees: snapshot,
		bound:     make(map[string]*btree.Tree),
		dirty:     make(map[uint64]*btree.Page),
	}, nil
}

// Get implements btree.Reader: dirty pages resolve from memory, everything
// else is read and deserialized from the backing file.
func (w *Write) Get(ref uint64) (*btree.Page, error) {
	if btree.IsDirtyRef(ref) {
		p, ok := w.dirty[ref]
		if !ok {
			return nil, fmt.Errorf("%w: dangling dirty ref %x", mverr.ErrCorruptPage, ref)
		}
		return p, nil
	}
	raw, err := w.pf.Read(ref)
	if err != nil {
		return nil, err
	}
	return btree.Deserialize(raw)
}

// New implements btree.Allocator: every new page is stamped with the next
// page id and this transaction's revision, gets a transaction-local dirty
// ref and is queued in creation order, so commit can resolve children
// before parents (spec.md §4.6 step 2).
func (w *Write) New(p *btree.Page) uint64 {
	w.nextID++
	p.ID = w.nextID
	p.Revision = w.revision
	ref := btree.NewDirtyRef(w.nextID)
	w.dirty[ref] = p
	w.dirtyOrder = append(w.dirtyOrder, ref)
	return ref
}

// Free implements btree.Allocator: a dirty page that's superseded within
// the same transaction is simply dropped; a persistent page is queued as
// copied, to be handed to the reclaimer at commit.
func (w *Write) Free(ref uint64) {
	if btree.IsDirtyRef(ref) {
		delete(w.dirty, ref)
		return
	}
	w.copied = append(w.copied, ref)
}

// Tree binds (or rebinds) name for mutation within this transaction.
func (w *Write) Tree(name string) (*btree.Tree, error) {
	if t, ok := w.bound[name]; ok {
		return t, nil
	}
	th, ok := w.baseTrees[name]
	if !ok {
		return nil, fmt.Errorf("%w: tree %q", mverr.ErrNoSuchTree, name)
	}
	cfg, err := w.configFor(th)
	if err != nil {
		return nil, err
	}
	t := btree.Load(w, cfg, th.Root, int64(th.NbElems))
	w.bound[name] = t
	return t, nil
}

func (w *Write) configFor(th record.TreeHeader) (btree.Config, error) {
	kc, err := w.mgr.ResolveCodec(th.KeyCodecTag)
	if err != nil {
		return btree.Config{}, err
	}
	vc, err := w.mgr.ResolveCodec(th.ValueCodecTag)
	if err != nil {
		return btree.Config{}, err
	}
	return btree.Config{
		KeyCodec:   kc,
		ValueCodec: vc,
		Fanout:     int(th.Fanout),
		AllowDups:  th.AllowDups,
		UpThresh:   8,
		DownThresh: 4,
	}, nil
}

// Commit executes spec.md §4.6's six-step pipeline: materialize every dirty
// page bottom-up, publish new tree headers and the global header as one
// atomic swap, then hand superseded pages to the reclaimer.
func (w *Write) Commit() error {
	if w.done {
		return mverr.ErrTxDone
	}
	w.done = true
	defer w.mgr.ReleaseWriter()

	resolved := make(map[uint64]uint64, len(w.dirtyOrder))
	for _, ref := range w.dirtyOrder {
		page, ok := w.dirty[ref]
		if !ok {
			continue // freed again before commit within the same transaction
		}
		page.ResolveRefs(resolved)
		data := page.Serialize()
		n := w.pf.PagesNeeded(len(data))
		offsets, err := w.pf.Allocate(n)
		if err != nil {
			return err
		}
		if err := w.pf.Write(offsets, data); err != nil {
			return err
		}
		resolved[ref] = offsets[0]
	}

	updated := make(map[string]record.TreeHeader, len(w.bound))
	for name, t := range w.bound {
		th := w.baseTrees[name]
		root := t.Root()
		if btree.IsDirtyRef(root) {
			root = resolved[root]
		}
		th.Root = root
		th.Revision = w.revision
		th.NbElems = uint64(t.NbElems())
		updated[name] = th
	}

	if err := w.mgr.CommitTrees(updated, w.revision); err != nil {
		return err
	}

	w.registry.RegisterFreed(w.revision, w.copied)
	w.registry.Reclaim()
	return nil
}

// Rollback discards the dirty and copied sets; nothing was ever allocated
// on disk, so there is nothing to return to the free list (spec.md §4.6
// "On rollback").
func (w *Write) Rollback() error {
	if w.done {
		return mverr.ErrTxDone
	}
	w.done = true
	w.mgr.ReleaseWriter()
	return nil
}
