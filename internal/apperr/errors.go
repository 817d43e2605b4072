// Package apperr defines the sentinel errors shared across distwiki packages.
package apperr

import "errors"

var (
	ErrTitleTooLong         = errors.New("title too long")
	ErrInvalidTitle         = errors.New("invalid title")
	ErrArticleAlreadyExists = errors.New("article already exists")
	ErrArticleNotFound      = errors.New("article not found")
	ErrIndexOutOfRange      = errors.New("index out of range")

	ErrDuplicateHash     = errors.New("duplicate transaction hash")
	ErrUnknownHash       = errors.New("unknown transaction hash")
	ErrAlreadyResolved   = errors.New("transaction already resolved")
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	ErrFetchTimeout     = errors.New("content fetch timed out")
	ErrInvalidContentID = errors.New("invalid content id")
	ErrInvalidAddress   = errors.New("invalid address")

	// ErrRemoteCall covers every RPC or network fault at the chain boundary.
	ErrRemoteCall = errors.New("remote call failed")
)
