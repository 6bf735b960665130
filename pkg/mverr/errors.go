// Package mverr defines the sentinel error kinds shared across every
// mavibot layer, so callers can use errors.Is regardless of which
// package returned the failure.
package mverr

import "errors"

var (
	// ErrNoSuchTree is returned by OpenTree when name is not managed.
	ErrNoSuchTree = errors.New("mavibot: no such tree")

	// ErrAlreadyManaged is returned by CreateTree when name is already in use.
	ErrAlreadyManaged = errors.New("mavibot: tree already managed")

	// ErrKeyNotFound is returned by Get/GetAll/Delete/DeleteValue when the
	// key (or, for DeleteValue, the value) is absent. Contains reports
	// absence as false instead.
	ErrKeyNotFound = errors.New("mavibot: key not found")

	// ErrEndOfFile is returned when a record read runs past the file end
	// or a page chain is shorter than its declared payload length.
	ErrEndOfFile = errors.New("mavibot: unexpected end of file")

	// ErrSerializerCreation is returned when a codec rejects bytes it is asked
	// to deserialize.
	ErrSerializerCreation = errors.New("mavibot: codec rejected payload")

	// ErrWriteBusy is returned by BeginWrite while another write transaction
	// is active.
	ErrWriteBusy = errors.New("mavibot: write transaction already in progress")

	// ErrCorruptPage is returned when a header checksum or magic mismatch is
	// detected. The backing file is quarantined; no further opens should be
	// attempted against it.
	ErrCorruptPage = errors.New("mavibot: corrupt page")

	// ErrIO wraps an underlying storage error. Callers may retry.
	ErrIO = errors.New("mavibot: io error")

	// ErrReadOnly is returned when a mutating operation is attempted against
	// a read (snapshot) transaction.
	ErrReadOnly = errors.New("mavibot: transaction is read-only")

	// ErrClosed is returned for operations against a closed manager, tree or
	// cursor.
	ErrClosed = errors.New("mavibot: already closed")

	// ErrTxDone is returned when Commit or Rollback is called on a write
	// transaction that was already committed or rolled back.
	ErrTxDone = errors.New("mavibot: transaction already committed or aborted")
)
