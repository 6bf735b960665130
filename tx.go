package mavibot

import (
	"time"

	"github.com/nainya/mavibot/pkg/mvcc"
	"github.com/nainya/mavibot/pkg/txn"
)

// Write wraps a pkg/txn.Write transaction, adding the facade's logging and
// metrics hooks around Commit.
type Write struct {
	w  *txn.Write
	db *DB
}

// Tree binds name for mutation within this transaction.
func (w *Write) Tree(name string) (*Tree, error) {
	t, err := w.w.Tree(name)
	if err != nil {
		return nil, err
	}
	return &Tree{t: t}, nil
}

// Commit materializes every dirty page, swaps the header atomically and
// hands superseded pages to the reclaimer.
func (w *Write) Commit() error {
	start := time.Now()
	err := w.w.Commit()
	status := "ok"
	if err != nil {
		status = "aborted"
	}
	w.db.metrics.ObserveCommit(status, start)
	w.db.log.LogCommit(w.db.mgr.Revision(), 0, 0, time.Since(start), err)
	return err
}

// Rollback discards this transaction without publishing a new revision.
func (w *Write) Rollback() error {
	return w.w.Rollback()
}

// Read wraps a pkg/txn.Read pinned snapshot.
type Read struct {
	r  *txn.Read
	db *DB
}

// Tree returns a read-only view of name as it existed when this
// transaction began.
func (r *Read) Tree(name string) (*Tree, error) {
	t, err := r.r.Tree(name)
	if err != nil {
		return nil, err
	}
	return &Tree{t: t}, nil
}

// Browse opens a cursor over name at this transaction's pinned revision.
func (r *Read) Browse(name string) (*Cursor, error) {
	c, err := r.r.Browse(name)
	if err != nil {
		return nil, err
	}
	return &Cursor{c: c}, nil
}

// Close releases this transaction's revision pin.
func (r *Read) Close() error {
	return r.r.Close()
}

// Cursor wraps a pkg/mvcc.Cursor.
type Cursor struct {
	c *mvcc.Cursor
}

func (c *Cursor) BeforeFirst()          { c.c.BeforeFirst() }
func (c *Cursor) AfterLast()            { c.c.AfterLast() }
func (c *Cursor) Seek(key []byte) error { return c.c.Seek(key) }
func (c *Cursor) HasNext() bool         { return c.c.HasNext() }
func (c *Cursor) HasPrev() bool         { return c.c.HasPrev() }

func (c *Cursor) Next() (key, value []byte, err error) { return c.c.Next() }
func (c *Cursor) Prev() (key, value []byte, err error) { return c.c.Prev() }

func (c *Cursor) MoveToNextNonDuplicateKey() { c.c.MoveToNextNonDuplicateKey() }

func (c *Cursor) Close() error { return c.c.Close() }
