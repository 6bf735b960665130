package txn

import (
	"fmt"

	"github.com/nainya/mavibot/pkg/btree"
	"github.com/nainya/mavibot/pkg/mverr"
	"github.com/nainya/mavibot/pkg/mvcc"
	"github.com/nainya/mavibot/pkg/pageio"
	"github.com/nainya/mavibot/pkg/record"
)

// Read is a pinned read transaction: the revision and every tree's root
// offset are captured at BeginRead and never change, so later commits are
// invisible to it (spec.md §4.6 "Read operations take a read snapshot").
type Read struct {
	mgr      *record.Manager
	pf       *pageio.File
	registry *mvcc.Registry

	revision uint64
	trees    map[string]record.TreeHeader

	closed bool
}

// BeginRead pins the manager's current revision and snapshots its tree
// directory.
func BeginRead(mgr *record.Manager, registry *mvcc.Registry) *Read {
	snapshot, rev := mgr.Snapshot()
	registry.Pin(rev)
	return &Read{mgr: mgr, pf: mgr.PageFile(), registry: registry, revision: rev, trees: snapshot}
}

// Get implements btree.Reader against the pinned snapshot.
func (r *Read) Get(ref uint64) (*btree.Page, error) {
	raw, err := r.pf.Read(ref)
	if err != nil {
		return nil, err
	}
	return btree.Deserialize(raw)
}

// Tree returns a read-only view of name as it existed at this
// transaction's pinned revision.
func (r *Read) Tree(name string) (*btree.Tree, error) {
	th, ok := r.trees[name]
	if !ok {
		return nil, fmt.Errorf("%w: tree %q", mverr.ErrNoSuchTree, name)
	}
	kc, err := r.mgr.ResolveCodec(th.KeyCodecTag)
	if err != nil {
		return nil, err
	}
	vc, err := r.mgr.ResolveCodec(th.ValueCodecTag)
	if err != nil {
		return nil, err
	}
	cfg := btree.Config{
		KeyCodec:   kc,
		ValueCodec: vc,
		Fanout:     int(th.Fanout),
		AllowDups:  th.AllowDups,
		UpThresh:   8,
		DownThresh: 4,
	}
	return btree.Load(btree.ReadOnly(r), cfg, th.Root, int64(th.NbElems)), nil
}

// Browse opens a cursor over name, pinning its own copy of the revision
// (released by the cursor's own Close) independent of the transaction's
// own pin.
func (r *Read) Browse(name string) (*mvcc.Cursor, error) {
	t, err := r.Tree(name)
	if err != nil {
		return nil, err
	}
	r.registry.Pin(r.revision)
	return mvcc.NewCursor(r, t.Cfg(), t.Root(), r.registry, r.revision), nil
}

// Close releases this transaction's revision pin. Cursors opened through
// Browse must be closed independently.
func (r *Read) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.registry.Unpin(r.revision)
	return nil
}
