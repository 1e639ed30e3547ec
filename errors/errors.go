// Package errors provides error handling for locussync.
//
// This package re-exports github.com/cockroachdb/errors so every package
// wraps with stack traces, hints and details the same way:
//
//	if err := p.transport.Request(ctx, req); err != nil {
//	    return errors.Wrapf(err, "hash tree fetch for %s", name)
//	}
//
// Sentinels below are matched with errors.Is after wrapping.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors for the sync engine.
var (
	// ErrInvalidMessage marks an inbound payload that is neither a heartbeat,
	// a full update nor a locus snapshot.
	ErrInvalidMessage = New("invalid message")

	// ErrUnknownDataSet is returned by explicit operations naming a dataset
	// the server never described. Message processing skips such names.
	ErrUnknownDataSet = New("unknown data set")

	// ErrTransport wraps every failure returned by the injected transport.
	ErrTransport = New("transport failure")

	// ErrHashCount indicates the server returned a leaf hash array whose
	// length does not match the dataset's leaf count.
	ErrHashCount = New("leaf hash count mismatch")

	// ErrStopped is returned once the parser has been stopped or the
	// session has ended.
	ErrStopped = New("parser stopped")
)

// IsTransportError reports whether err came from the injected transport.
func IsTransportError(err error) bool {
	return err != nil && Is(err, ErrTransport)
}

// WrapTransport marks err as a transport failure for the given operation.
func WrapTransport(err error, operation string) error {
	if err == nil {
		return nil
	}
	return Wrapf(crdb.Mark(err, ErrTransport), "%s", operation)
}
