// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import "github.com/zeebo/errs"

var (
	// Error is the default errs class for this package.
	Error = errs.Class("p2pnet")

	// TransportErr covers listen/dial/transport setup failures.
	TransportErr = errs.Class("transport error")

	// NotFoundErr is returned when a DHT GET terminates without a record.
	NotFoundErr = errs.Class("record not found")

	// QueueClosedErr is returned when the command queue's producer or
	// consumer side has gone away.
	QueueClosedErr = errs.Class("command queue closed")

	// BootstrapErr covers failures in the bootstrap sequence.
	BootstrapErr = errs.Class("bootstrap error")

	// StoreErr covers failures reported by the underlying record store.
	StoreErr = errs.Class("record store error")

	// MalformedErr covers a DHT GET that returned an unexpected value
	// shape (e.g. a cell value that isn't CellSize bytes).
	MalformedErr = errs.Class("malformed record")
)
