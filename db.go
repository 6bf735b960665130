// Package mavibot is an embedded, persistent, MVCC B+tree key-value
// storage engine. DB ties together the record manager (pkg/record), the
// page-revision reclaimer (pkg/mvcc) and the write/read transaction
// types (pkg/txn) behind the API surface named in §6 of the design
// document this module implements: RecordManager::open/close/create_tree/
// open_tree/list_trees/begin_read/begin_write.
package mavibot

import (
	"context"

	"github.com/nainya/mavibot/internal/telemetry"
	"github.com/nainya/mavibot/pkg/codec"
	"github.com/nainya/mavibot/pkg/mverr"
	"github.com/nainya/mavibot/pkg/mvcc"
	"github.com/nainya/mavibot/pkg/record"
	"github.com/nainya/mavibot/pkg/txn"
)

// Re-exported sentinel errors so callers never need to import pkg/mverr
// directly.
var (
	ErrNoSuchTree         = mverr.ErrNoSuchTree
	ErrAlreadyManaged     = mverr.ErrAlreadyManaged
	ErrKeyNotFound        = mverr.ErrKeyNotFound
	ErrEndOfFile          = mverr.ErrEndOfFile
	ErrSerializerCreation = mverr.ErrSerializerCreation
	ErrWriteBusy          = mverr.ErrWriteBusy
	ErrCorruptPage        = mverr.ErrCorruptPage
	ErrIO                 = mverr.ErrIO
	ErrReadOnly           = mverr.ErrReadOnly
	ErrClosed             = mverr.ErrClosed
	ErrTxDone             = mverr.ErrTxDone
)

// Options configures Open. The zero value is a usable library-mode
// default: page size picked by pkg/pageio, a discarding logger and no
// metrics registration.
type Options struct {
	PageSize int

	// Log receives a structured event for each Write.Commit; reclamation
	// is not logged. Nil defaults to a no-op logger so embedding mavibot
	// never writes to stdout uninvited.
	Log *telemetry.Log

	// Metrics, when non-nil, receives commit counts and latency from
	// Write.Commit. NewMetrics registers its collectors on a registry of
	// its own, so several DBs in one process never collide. Nil disables
	// metrics.
	Metrics *telemetry.Metrics
}

// DB is an open mavibot database file.
type DB struct {
	mgr      *record.Manager
	registry *mvcc.Registry
	log      *telemetry.Log
	metrics  *telemetry.Metrics
}

// Open opens or creates the database file at path.
func Open(ctx context.Context, path string, opts Options) (*DB, error) {
	mgr, err := record.Open(ctx, path, record.Options{PageSize: opts.PageSize})
	if err != nil {
		return nil, err
	}
	log := opts.Log
	if log == nil {
		log = telemetry.Noop()
	}
	return &DB{
		mgr:      mgr,
		registry: mvcc.NewRegistry(mgr.PageFile()),
		log:      log.Component("record"),
		metrics:  opts.Metrics,
	}, nil
}

// Close flushes and closes the underlying file.
func (db *DB) Close() error {
	return db.mgr.Close()
}

// CreateTree registers a new tree under name with the given key/value
// codecs and duplicate-value policy.
func (db *DB) CreateTree(name string, keyCodec, valueCodec codec.Codec, allowDups bool, fanout int) error {
	_, err := db.mgr.CreateTree(name, keyCodec, valueCodec, allowDups, fanout)
	return err
}

// ListTrees returns the names of every managed tree, sorted.
func (db *DB) ListTrees() []string {
	return db.mgr.ListTrees()
}

// BeginWrite starts the single active write transaction. A second
// concurrent call fails with ErrWriteBusy until the first Commits or
// Rolls back.
func (db *DB) BeginWrite(ctx context.Context) (*Write, error) {
	w, err := txn.BeginWrite(ctx, db.mgr, db.registry)
	if err != nil {
		return nil, err
	}
	return &Write{w: w, db: db}, nil
}

// BeginRead pins the current revision for a consistent snapshot read.
func (db *DB) BeginRead() *Read {
	return &Read{r: txn.BeginRead(db.mgr, db.registry), db: db}
}
