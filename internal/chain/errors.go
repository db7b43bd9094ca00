package chain

import (
	"errors"
	"strings"
)

var (
	// ErrNoRPCURL is returned when a network has no RPC endpoint.
	ErrNoRPCURL = errors.New("network has no RPC URL")
	// ErrNoSigner is returned when a network has neither a private key nor
	// a remote signer.
	ErrNoSigner = errors.New("network has no signing key")
	// ErrReceiptNotFound is returned when a transaction has not been mined.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrTxRejected is returned when the node refused a transaction. A
	// rejected transaction was never accepted into the mempool.
	ErrTxRejected = errors.New("transaction rejected")
	// ErrSenderMismatch is returned when a signed transaction does not
	// recover to the configured sender.
	ErrSenderMismatch = errors.New("signed transaction sender mismatch")
)

// rpcError is implemented by JSON-RPC errors returned by the node.
type rpcError interface {
	Error() string
	ErrorCode() int
}

// isRejection reports whether err is an answer from the node rather than a
// transport failure, in which case the transaction is known not to be
// pending.
func isRejection(err error) bool {
	var re rpcError
	return errors.As(err, &re)
}

// isKnownTransaction reports whether the node already holds the transaction.
func isKnownTransaction(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already known") ||
		strings.Contains(msg, "known transaction") ||
		strings.Contains(msg, "already imported")
}

// isRevert reports whether a gas estimation failed because the call reverts.
func isRevert(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}
