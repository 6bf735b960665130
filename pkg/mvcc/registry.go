// Package mvcc implements the revision-pinning registry and range cursors
// described in spec.md §4.7 and §5: readers pin a revision so its pages
// survive until no one needs them, and a reclaimer folded into commit/
// close_cursor hands freed pages back to the page allocator once safe.
package mvcc

import (
	"sync"

	"github.com/nainya/mavibot/pkg/pageio"
)

// pending is one commit's worth of superseded pages, freed as soon as no
// reader is pinned at a revision that could still see them.
type pending struct {
	revision uint64 // the revision whose commit superseded these pages
	pages    []uint64
}

// Registry tracks, for each live revision, how many readers are pinned to
// it, and the backlog of page offsets waiting to be reclaimed (spec.md §5
// "Shared resources").
type Registry struct {
	mu      sync.Mutex
	pins    map[uint64]int
	backlog []pending
	pf      *pageio.File
}

// NewRegistry binds a registry to the page file its reclaimer returns pages
// to.
func NewRegistry(pf *pageio.File) *Registry {
	return &Registry{pins: make(map[uint64]int), pf: pf}
}

// Pin marks revision as in use by one more reader.
func (r *Registry) Pin(revision uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[revision]++
}

// Unpin releases one reader's hold on revision and runs the reclaimer
// (spec.md §5: "The reclaimer runs inside any commit or close_cursor call").
func (r *Registry) Unpin(revision uint64) {
	r.mu.Lock()
	r.pins[revision]--
	if r.pins[revision] <= 0 {
		delete(r.pins, revision)
	}
	r.reclaimLocked()
	r.mu.Unlock()
}

// RegisterFreed records that pages were superseded by the commit that
// published revision. They become reclaimable once no reader remains
// pinned at an earlier revision.
func (r *Registry) RegisterFreed(revision uint64, pages []uint64) {
	if len(pages) == 0 {
		return
	}
	r.mu.Lock()
	r.backlog = append(r.backlog, pending{revision: revision, pages: pages})
	r.reclaimLocked()
	r.mu.Unlock()
}

// Reclaim runs the reclaimer explicitly; Commit calls this after publishing
// a new revision (spec.md §5).
func (r *Registry) Reclaim() {
	r.mu.Lock()
	r.reclaimLocked()
	r.mu.Unlock()
}

func (r *Registry) minPinnedLocked() (uint64, bool) {
	min := uint64(0)
	found := false
	for rev := range r.pins {
		if !found || rev < min {
			min = rev
			found = true
		}
	}
	return min, found
}

func (r *Registry) reclaimLocked() {
	min, found := r.minPinnedLocked()
	i := 0
	for i < len(r.backlog) {
		p := r.backlog[i]
		if found && p.revision > min {
			break
		}
		for _, offset := range p.pages {
			_ = r.pf.Free(offset) // best-effort: a free-list write failure only costs space, not correctness
		}
		i++
	}
	r.backlog = r.backlog[i:]
}
